package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mgraterol/voznote/internal/chat"
	"github.com/mgraterol/voznote/internal/ephemeral"
	"github.com/mgraterol/voznote/internal/gate"
	"github.com/mgraterol/voznote/internal/i18n"
	"github.com/mgraterol/voznote/internal/transcribe"
	"github.com/mgraterol/voznote/internal/worker"
)

// Summarizer condenses a transcript; an absent result is not an error.
type Summarizer interface {
	Summarize(ctx context.Context, text, lang string) (string, bool)
}

// History is the persistent store collaborator. Writes are fire-and-forget
// from the pipeline's point of view.
type History interface {
	SaveTranscription(userID int64, text, language string, durationSeconds float64, mediaKind string) error
	UserLanguage(userID int64) (string, error)
}

// Notifier receives job lifecycle pings for the ops event stream.
type Notifier interface {
	JobStarted(userID int64, mediaKind string)
	JobDone(userID int64, durationSeconds float64, summarized bool)
	JobFailed(userID int64, reason string)
	SummaryReady(userID int64)
}

// RetryRecord holds everything needed to re-run a failed job from its
// downloaded artifact. Exactly one artifact belongs to one token; deleting
// the token deletes the artifact.
type RetryRecord struct {
	SourcePath      string
	Chat            chat.ChatRef
	OriginMessageID int64
	UserID          int64
	Language        string
	DurationSeconds float64
	MediaKind       string
	CreatedAt       time.Time
}

// FollowupTranscript is an immutable transcript kept around so later
// summarize / full-text requests can reference it. It may be read many
// times until it expires; it is never deleted on use.
type FollowupTranscript struct {
	Text      string
	Language  string
	CreatedAt time.Time
}

// Policy carries the duration thresholds and TTLs. Zero values fall back
// to the built-in defaults.
type Policy struct {
	MaxDurationSeconds  float64
	AutoSummarySeconds  float64
	OfferSummarySeconds float64
	RetryTTL            time.Duration
	FollowupTTL         time.Duration
	TranscribeTimeout   time.Duration
	Workers             int
	QueueDepth          int
}

func (p *Policy) applyDefaults() {
	if p.MaxDurationSeconds <= 0 {
		p.MaxDurationSeconds = 1800
	}
	if p.AutoSummarySeconds <= 0 {
		p.AutoSummarySeconds = 180
	}
	if p.OfferSummarySeconds <= 0 {
		p.OfferSummarySeconds = 60
	}
	if p.RetryTTL <= 0 {
		p.RetryTTL = 5 * time.Minute
	}
	if p.FollowupTTL <= 0 {
		p.FollowupTTL = 30 * time.Minute
	}
	if p.Workers <= 0 {
		p.Workers = 2
	}
	if p.QueueDepth < 0 {
		p.QueueDepth = 0
	}
}

// Pipeline owns the transcription job state machine and the followup token
// resolver. One instance serves the whole process; the admission gate it
// holds is the system-wide serialization point for backend calls.
type Pipeline struct {
	msgr        chat.Messenger
	transcriber transcribe.Transcriber
	summarizer  Summarizer
	history     History
	hub         Notifier
	loc         *i18n.Catalog
	policy      Policy

	gate        *gate.Gate
	pool        *worker.Pool
	retries     *ephemeral.Store[RetryRecord]
	transcripts *ephemeral.Store[FollowupTranscript]

	// Injectable for tests.
	probeDuration func(path string) float64
	newToken      func() string
	now           func() time.Time
}

func New(msgr chat.Messenger, transcriber transcribe.Transcriber, summarizer Summarizer, history History, hub Notifier, loc *i18n.Catalog, policy Policy) *Pipeline {
	policy.applyDefaults()

	p := &Pipeline{
		msgr:        msgr,
		transcriber: transcriber,
		summarizer:  summarizer,
		history:     history,
		hub:         hub,
		loc:         loc,
		policy:      policy,
		gate:        gate.New(),
		pool:        worker.NewPool(policy.Workers, policy.QueueDepth),
		probeDuration: func(path string) float64 {
			return transcribe.NewFFProbe().DurationSeconds(path)
		},
		newToken: func() string { return uuid.NewString()[:8] },
		now:      time.Now,
	}

	p.retries = ephemeral.New(policy.RetryTTL, func(_ string, rec RetryRecord) {
		removeArtifact(rec.SourcePath)
	})
	p.transcripts = ephemeral.New[FollowupTranscript](policy.FollowupTTL, nil)

	return p
}

// Close drains the worker pool. The pipeline must not be used afterwards.
func (p *Pipeline) Close() {
	p.pool.Close()
}

// Busy reports whether a job currently holds the admission gate.
func (p *Pipeline) Busy() bool {
	return p.gate.Busy()
}

// HandleMedia runs one job through the state machine:
// admission → fetch → duration check → transcribe → branch → persist → respond.
func (p *Pipeline) HandleMedia(ctx context.Context, m chat.IncomingMedia) {
	now := p.now()
	p.retries.Sweep(now)
	p.transcripts.Sweep(now)

	lang := p.userLanguage(m.UserID)

	release, ok := p.gate.TryAcquire()
	if !ok {
		p.sendText(ctx, m.Chat, p.t(lang, "transcription.busy", nil), m.MessageID, nil)
		return
	}
	defer release()

	p.notifyStarted(m.UserID, string(m.Media.Kind))
	_ = p.msgr.SendTyping(ctx, m.Chat)

	path, err := p.msgr.FetchMedia(ctx, m.Media)
	if err != nil {
		// No artifact was produced, so there is nothing a retry token
		// could re-use; report and stop.
		log.Printf("fetch media for user %d: %v", m.UserID, err)
		p.sendText(ctx, m.Chat, p.t(lang, "transcription.error", map[string]string{"error": err.Error()}), m.MessageID, nil)
		p.notifyFailed(m.UserID, "fetch")
		return
	}

	duration := p.probeDuration(path)
	if duration > p.policy.MaxDurationSeconds {
		removeArtifact(path)
		p.sendText(ctx, m.Chat, p.t(lang, "transcription.too_long", map[string]string{
			"duration":    strconv.FormatFloat(duration, 'f', 0, 64),
			"max_minutes": strconv.FormatFloat(p.policy.MaxDurationSeconds/60, 'f', 0, 64),
		}), m.MessageID, nil)
		p.notifyFailed(m.UserID, "too long")
		return
	}

	progress, err := p.msgr.SendText(ctx, m.Chat, p.t(lang, "transcription.processing", nil), m.MessageID, nil)
	if err != nil {
		log.Printf("send progress message: %v", err)
		removeArtifact(path)
		return
	}

	text, err := p.runTranscription(ctx, path, lang)
	if err != nil {
		if errors.Is(err, worker.ErrQueueFull) {
			removeArtifact(path)
			p.editText(ctx, progress, p.t(lang, "transcription.busy", nil), nil)
			p.notifyFailed(m.UserID, "pool saturated")
			return
		}

		log.Printf("transcription error for user %d: %v", m.UserID, err)
		token := p.newToken()
		p.retries.Put(token, RetryRecord{
			SourcePath:      path,
			Chat:            m.Chat,
			OriginMessageID: m.MessageID,
			UserID:          m.UserID,
			Language:        lang,
			DurationSeconds: duration,
			MediaKind:       string(m.Media.Kind),
			CreatedAt:       p.now(),
		}, p.now())

		p.editText(ctx, progress, p.t(lang, "transcription.error", map[string]string{"error": err.Error()}), []chat.Control{
			{Label: p.t(lang, "buttons.retry", nil), Data: chat.RetryData(token)},
		})
		p.notifyFailed(m.UserID, "transcribe")
		return
	}

	if text == "" {
		// Retrying would reproduce the same empty result.
		removeArtifact(path)
		p.editText(ctx, progress, p.t(lang, "transcription.no_speech", nil), nil)
		p.notifyFailed(m.UserID, "no speech")
		return
	}

	removeArtifact(path)
	p.persist(m.UserID, text, lang, duration, string(m.Media.Kind))
	summarized := p.respond(ctx, m.UserID, progress, text, lang, duration)
	p.notifyDone(m.UserID, duration, summarized)
}

// runTranscription submits the blocking backend call to the worker pool and
// waits for its single result. With no timeout configured (the default) the
// call runs to completion or error.
func (p *Pipeline) runTranscription(ctx context.Context, path, lang string) (string, error) {
	tctx := ctx
	if p.policy.TranscribeTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, p.policy.TranscribeTimeout)
		defer cancel()
	}

	done, err := p.pool.Submit(func() (string, error) {
		return p.transcriber.Transcribe(tctx, path, lang)
	})
	if err != nil {
		return "", err
	}

	select {
	case res := <-done:
		if res.Err != nil {
			return "", res.Err
		}
		return strings.TrimSpace(res.Text), nil
	case <-tctx.Done():
		return "", fmt.Errorf("transcription aborted: %w", tctx.Err())
	}
}

// respond applies the duration branch to a successful non-empty transcript,
// editing the progress message in place. It reports whether an auto-summary
// was delivered.
func (p *Pipeline) respond(ctx context.Context, userID int64, msg chat.MessageRef, text, lang string, duration float64) bool {
	switch {
	case duration >= p.policy.AutoSummarySeconds:
		p.editText(ctx, msg, p.t(lang, "transcription.generating_summary", nil), nil)

		token := p.storeTranscript(text, lang)
		fullControl := []chat.Control{{
			Label: p.t(lang, "buttons.full_transcript", nil),
			Data:  chat.FullTranscriptData(token),
		}}

		summaryText, ok := p.summarizer.Summarize(ctx, text, lang)
		if !ok {
			p.editText(ctx, msg, p.t(lang, "transcription.no_summary", nil), fullControl)
			return false
		}

		p.editText(ctx, msg, p.t(lang, "transcription.summary_header", nil)+"\n\n"+summaryText, fullControl)
		p.notifySummary(userID)
		return true

	case duration >= p.policy.OfferSummarySeconds:
		token := p.storeTranscript(text, lang)
		p.editText(ctx, msg, text, []chat.Control{{
			Label: p.t(lang, "buttons.summarize", nil),
			Data:  chat.SummarizeData(token),
		}})
		return false

	default:
		p.editText(ctx, msg, text, nil)
		return false
	}
}

func (p *Pipeline) storeTranscript(text, lang string) string {
	token := p.newToken()
	p.transcripts.Put(token, FollowupTranscript{
		Text:      text,
		Language:  lang,
		CreatedAt: p.now(),
	}, p.now())
	return token
}

func (p *Pipeline) persist(userID int64, text, lang string, duration float64, mediaKind string) {
	if p.history == nil {
		return
	}
	if err := p.history.SaveTranscription(userID, text, lang, duration, mediaKind); err != nil {
		log.Printf("persist transcription for user %d: %v", userID, err)
	}
}

func (p *Pipeline) userLanguage(userID int64) string {
	if p.history == nil {
		return i18n.DefaultLang
	}
	lang, err := p.history.UserLanguage(userID)
	if err != nil {
		log.Printf("load language for user %d: %v", userID, err)
		return i18n.DefaultLang
	}
	if !p.loc.Supported(lang) {
		return i18n.DefaultLang
	}
	return lang
}

func (p *Pipeline) t(lang, key string, args map[string]string) string {
	return p.loc.T(lang, key, args)
}

func (p *Pipeline) sendText(ctx context.Context, to chat.ChatRef, text string, replyTo int64, controls []chat.Control) {
	if _, err := p.msgr.SendText(ctx, to, text, replyTo, controls); err != nil {
		log.Printf("send text: %v", err)
	}
}

func (p *Pipeline) editText(ctx context.Context, msg chat.MessageRef, text string, controls []chat.Control) {
	if err := p.msgr.EditText(ctx, msg, text, controls); err != nil {
		log.Printf("edit message %d: %v", msg.ID, err)
	}
}

func (p *Pipeline) notifyStarted(userID int64, kind string) {
	if p.hub != nil {
		p.hub.JobStarted(userID, kind)
	}
}

func (p *Pipeline) notifyDone(userID int64, duration float64, summarized bool) {
	if p.hub != nil {
		p.hub.JobDone(userID, duration, summarized)
	}
}

func (p *Pipeline) notifyFailed(userID int64, reason string) {
	if p.hub != nil {
		p.hub.JobFailed(userID, reason)
	}
}

func (p *Pipeline) notifySummary(userID int64) {
	if p.hub != nil {
		p.hub.SummaryReady(userID)
	}
}

func removeArtifact(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("remove artifact %s: %v", path, err)
	}
}
