package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mgraterol/voznote/internal/chat"
	"github.com/mgraterol/voznote/internal/config"
	"github.com/mgraterol/voznote/internal/gdrive"
	"github.com/mgraterol/voznote/internal/i18n"
	"github.com/mgraterol/voznote/internal/llm"
	"github.com/mgraterol/voznote/internal/pipeline"
	"github.com/mgraterol/voznote/internal/server"
	"github.com/mgraterol/voznote/internal/storage"
	"github.com/mgraterol/voznote/internal/summary"
	"github.com/mgraterol/voznote/internal/transcribe"
)

const (
	backupInterval      = 24 * time.Hour
	historyLimit        = 10
	historySnippetRunes = 80
)

// jobRunner is the pipeline surface the update dispatcher needs.
type jobRunner interface {
	HandleMedia(ctx context.Context, m chat.IncomingMedia)
	HandleCallback(ctx context.Context, cb chat.CallbackQuery)
}

// userSettings is the slice of the store backing the command surface.
type userSettings interface {
	UserLanguage(userID int64) (string, error)
	SetUserLanguage(userID int64, language string) error
	History(userID int64, limit int) ([]storage.Transcription, error)
	UserStats(userID int64) (int64, float64, error)
}

// botHandler bridges the poll loop and the pipeline. Media and followup
// callbacks run in their own goroutines so long jobs never stall update
// delivery; the pipeline's gate handles concurrent arrivals. Commands and
// language selection are answered inline.
type botHandler struct {
	pipe  jobRunner
	msgr  chat.Messenger
	store userSettings
	loc   *i18n.Catalog
}

func (b *botHandler) HandleMedia(ctx context.Context, m chat.IncomingMedia) {
	if m.Media.Kind == chat.MediaAudio && !chat.SupportedAudioMIME[m.Media.MIMEType] {
		lang := b.userLang(m.UserID)
		text := b.loc.T(lang, "transcription.unsupported_format", map[string]string{"mime_type": m.Media.MIMEType})
		if _, err := b.msgr.SendText(ctx, m.Chat, text, m.MessageID, nil); err != nil {
			log.Printf("send unsupported-format reply: %v", err)
		}
		return
	}
	go b.pipe.HandleMedia(ctx, m)
}

func (b *botHandler) HandleCallback(ctx context.Context, cb chat.CallbackQuery) {
	if kind, code := chat.ParseCallbackData(cb.Data); kind == chat.CallbackLang {
		b.setLanguage(ctx, cb, code)
		return
	}
	go b.pipe.HandleCallback(ctx, cb)
}

func (b *botHandler) HandleCommand(ctx context.Context, cmd chat.Command) {
	lang := b.userLang(cmd.UserID)

	switch cmd.Name {
	case "start":
		b.reply(ctx, cmd.Chat, b.loc.T(lang, "messages.start", nil))
	case "lang":
		code := strings.ToLower(strings.TrimSpace(cmd.Args))
		if b.loc.Supported(code) {
			b.applyLanguage(ctx, cmd.Chat, cmd.UserID, code)
			return
		}
		b.offerLanguages(ctx, cmd.Chat, lang)
	case "history":
		b.sendHistory(ctx, cmd.Chat, cmd.UserID, lang)
	}
}

// offerLanguages presents one inline button per catalog so the user picks
// a language without typing a code.
func (b *botHandler) offerLanguages(ctx context.Context, to chat.ChatRef, lang string) {
	codes := b.loc.Languages()
	controls := make([]chat.Control, 0, len(codes))
	for _, code := range codes {
		controls = append(controls, chat.Control{Label: i18n.LanguageName(code), Data: chat.LangData(code)})
	}

	text := b.loc.T(lang, "messages.language_options", map[string]string{
		"options": strings.Join(codes, ", "),
	})
	if _, err := b.msgr.SendText(ctx, to, text, 0, controls); err != nil {
		log.Printf("send language options: %v", err)
	}
}

func (b *botHandler) setLanguage(ctx context.Context, cb chat.CallbackQuery, code string) {
	if err := b.msgr.AnswerCallback(ctx, cb.ID, "", false); err != nil {
		log.Printf("answer language callback: %v", err)
	}
	if !b.loc.Supported(code) {
		return
	}
	if err := b.store.SetUserLanguage(cb.UserID, code); err != nil {
		log.Printf("set language for user %d: %v", cb.UserID, err)
		return
	}

	text := b.loc.T(code, "messages.language_set", map[string]string{"language": i18n.LanguageName(code)})
	msg := chat.MessageRef{Chat: cb.Chat, ID: cb.MessageID}
	if err := b.msgr.EditText(ctx, msg, text, nil); err != nil {
		log.Printf("confirm language change: %v", err)
	}
}

func (b *botHandler) applyLanguage(ctx context.Context, to chat.ChatRef, userID int64, code string) {
	if err := b.store.SetUserLanguage(userID, code); err != nil {
		log.Printf("set language for user %d: %v", userID, err)
		return
	}
	b.reply(ctx, to, b.loc.T(code, "messages.language_set", map[string]string{
		"language": i18n.LanguageName(code),
	}))
}

func (b *botHandler) sendHistory(ctx context.Context, to chat.ChatRef, userID int64, lang string) {
	rows, err := b.store.History(userID, historyLimit)
	if err != nil {
		log.Printf("load history for user %d: %v", userID, err)
		return
	}
	if len(rows) == 0 {
		b.reply(ctx, to, b.loc.T(lang, "history.empty", nil))
		return
	}

	count, totalSeconds, err := b.store.UserStats(userID)
	if err != nil {
		log.Printf("load stats for user %d: %v", userID, err)
	}
	b.reply(ctx, to, formatHistory(b.loc, lang, rows, count, totalSeconds))
}

func (b *botHandler) reply(ctx context.Context, to chat.ChatRef, text string) {
	if _, err := b.msgr.SendText(ctx, to, text, 0, nil); err != nil {
		log.Printf("send reply: %v", err)
	}
}

func (b *botHandler) userLang(userID int64) string {
	lang, err := b.store.UserLanguage(userID)
	if err != nil || !b.loc.Supported(lang) {
		return i18n.DefaultLang
	}
	return lang
}

func formatHistory(loc *i18n.Catalog, lang string, rows []storage.Transcription, count int64, totalSeconds float64) string {
	var sb strings.Builder
	sb.WriteString(loc.T(lang, "history.header", nil))

	for _, row := range rows {
		sb.WriteString(fmt.Sprintf("\n\n%s · %s · %s",
			row.CreatedAt.Format("2006-01-02 15:04"),
			formatClipDuration(row.DurationSeconds),
			snippet(row.Text, historySnippetRunes)))
	}

	sb.WriteString("\n\n")
	sb.WriteString(loc.T(lang, "history.stats", map[string]string{
		"count":   strconv.FormatInt(count, 10),
		"minutes": strconv.FormatFloat(totalSeconds/60, 'f', 1, 64),
	}))
	return sb.String()
}

func formatClipDuration(seconds float64) string {
	total := int(seconds + 0.5)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func snippet(text string, maxRunes int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= maxRunes {
		return string(runes)
	}
	return string(runes[:maxRunes]) + "…"
}

func main() {
	log.Println("voznote: starting")

	cfgPath := os.Getenv(config.EnvPrefix + "CONFIG")
	if cfgPath == "" {
		cfgPath = "voznote.yaml"
	}

	cfg, warnings, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}
	if cfg.TelegramToken == "" {
		log.Fatalf("no Telegram token; set %sTELEGRAM_TOKEN", config.EnvPrefix)
	}

	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		log.Fatalf("scratch dir init failed: %v", err)
	}

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	loc, err := i18n.Load()
	if err != nil {
		log.Fatalf("i18n init failed: %v", err)
	}

	trans, err := transcribe.New(cfg.Transcriber, transcribe.Options{
		WhisperBin:   cfg.WhisperBin,
		WhisperModel: cfg.WhisperModel,
		OpenAIKey:    cfg.OpenAIAPIKey,
		DeepgramKey:  cfg.DeepgramAPIKey,
	})
	if err != nil {
		log.Fatalf("transcriber init failed: %v", err)
	}

	summarizer := summary.New(cfg.SummaryModel, llm.Keys{
		OpenAI:    cfg.OpenAIAPIKey,
		Anthropic: cfg.AnthropicAPIKey,
		Gemini:    cfg.GeminiAPIKey,
	})

	hub := server.NewHub()
	tg := chat.NewTelegram(cfg.TelegramToken, cfg.ScratchDir)

	pipe := pipeline.New(tg, trans, summarizer, store, hub, loc, pipeline.Policy{
		MaxDurationSeconds:  cfg.MaxDurationSeconds,
		AutoSummarySeconds:  cfg.AutoSummarySeconds,
		OfferSummarySeconds: cfg.OfferSummarySeconds,
		RetryTTL:            cfg.ParsedRetryTTL(),
		FollowupTTL:         cfg.ParsedFollowupTTL(),
		TranscribeTimeout:   cfg.ParsedTranscribeTimeout(),
		Workers:             cfg.Workers,
		QueueDepth:          cfg.QueueDepth,
	})
	defer pipe.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr: cfg.OpsAddr,
		Handler: server.Handler(hub, store, server.StatusHooks{
			Busy:     pipe.Busy,
			Warnings: func() []string { return warnings },
		}),
	}
	go func() {
		log.Printf("ops server at http://%s", cfg.OpsAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("ops server error: %v", err)
		}
	}()

	if cfg.GDriveFolderID != "" {
		backup, backupErr := gdrive.NewBackup(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if backupErr != nil {
			log.Printf("warning: gdrive backup disabled: %v", backupErr)
		} else {
			go func() {
				ticker := time.NewTicker(backupInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if err := backup.Upload(cfg.DBPath, "voznote.db"); err != nil {
							log.Printf("gdrive backup error: %v", err)
						}
					}
				}
			}()
		}
	}

	handler := &botHandler{pipe: pipe, msgr: tg, store: store, loc: loc}

	log.Println("voznote: polling for updates")
	tg.Poll(ctx, handler, log.Printf)

	log.Println("voznote: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: ops shutdown failed: %v", err)
	}
}
