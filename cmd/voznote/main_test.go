package main

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mgraterol/voznote/internal/chat"
	"github.com/mgraterol/voznote/internal/i18n"
	"github.com/mgraterol/voznote/internal/storage"
)

type sentText struct {
	Chat     chat.ChatRef
	Text     string
	Controls []chat.Control
}

type editedText struct {
	Msg      chat.MessageRef
	Text     string
	Controls []chat.Control
}

type fakeMessenger struct {
	mu      sync.Mutex
	sends   []sentText
	edits   []editedText
	answers []string
}

func (f *fakeMessenger) FetchMedia(ctx context.Context, ref chat.MediaRef) (string, error) {
	return "", nil
}

func (f *fakeMessenger) SendText(ctx context.Context, to chat.ChatRef, text string, replyTo int64, controls []chat.Control) (chat.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sentText{Chat: to, Text: text, Controls: controls})
	return chat.MessageRef{Chat: to, ID: int64(len(f.sends))}, nil
}

func (f *fakeMessenger) EditText(ctx context.Context, msg chat.MessageRef, text string, controls []chat.Control) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editedText{Msg: msg, Text: text, Controls: controls})
	return nil
}

func (f *fakeMessenger) SendFile(ctx context.Context, to chat.ChatRef, data []byte, filename, caption string) error {
	return nil
}

func (f *fakeMessenger) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, callbackID)
	return nil
}

func (f *fakeMessenger) SendTyping(ctx context.Context, to chat.ChatRef) error { return nil }

type fakeSettings struct {
	mu       sync.Mutex
	langs    map[int64]string
	rows     []storage.Transcription
	count    int64
	totalSec float64
}

func (f *fakeSettings) UserLanguage(userID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lang, ok := f.langs[userID]; ok {
		return lang, nil
	}
	return i18n.DefaultLang, nil
}

func (f *fakeSettings) SetUserLanguage(userID int64, language string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.langs[userID] = language
	return nil
}

func (f *fakeSettings) History(userID int64, limit int) ([]storage.Transcription, error) {
	return f.rows, nil
}

func (f *fakeSettings) UserStats(userID int64) (int64, float64, error) {
	return f.count, f.totalSec, nil
}

type fakeRunner struct {
	media     chan chat.IncomingMedia
	callbacks chan chat.CallbackQuery
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		media:     make(chan chat.IncomingMedia, 1),
		callbacks: make(chan chat.CallbackQuery, 1),
	}
}

func (f *fakeRunner) HandleMedia(ctx context.Context, m chat.IncomingMedia) { f.media <- m }

func (f *fakeRunner) HandleCallback(ctx context.Context, cb chat.CallbackQuery) { f.callbacks <- cb }

func newTestHandler(t *testing.T) (*botHandler, *fakeMessenger, *fakeSettings, *fakeRunner) {
	t.Helper()
	loc, err := i18n.Load()
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	msgr := &fakeMessenger{}
	settings := &fakeSettings{langs: map[int64]string{}}
	runner := newFakeRunner()
	return &botHandler{pipe: runner, msgr: msgr, store: settings, loc: loc}, msgr, settings, runner
}

func lastSend(t *testing.T, msgr *fakeMessenger) sentText {
	t.Helper()
	msgr.mu.Lock()
	defer msgr.mu.Unlock()
	if len(msgr.sends) == 0 {
		t.Fatal("expected at least one sent message")
	}
	return msgr.sends[len(msgr.sends)-1]
}

func TestUnsupportedAudioFilteredBeforePipeline(t *testing.T) {
	b, msgr, _, runner := newTestHandler(t)

	b.HandleMedia(context.Background(), chat.IncomingMedia{
		Chat:      1,
		MessageID: 2,
		UserID:    3,
		Media:     chat.MediaRef{Kind: chat.MediaAudio, MIMEType: "application/pdf"},
	})

	send := lastSend(t, msgr)
	if !strings.Contains(send.Text, "application/pdf") {
		t.Fatalf("expected format rejection naming the MIME type, got %q", send.Text)
	}
	select {
	case <-runner.media:
		t.Fatal("rejected media must not reach the pipeline")
	default:
	}
}

func TestVoiceMediaDispatchedToPipeline(t *testing.T) {
	b, _, _, runner := newTestHandler(t)

	b.HandleMedia(context.Background(), chat.IncomingMedia{
		Chat:  1,
		Media: chat.MediaRef{Kind: chat.MediaVoice, MIMEType: "audio/ogg"},
	})

	select {
	case <-runner.media:
	case <-time.After(time.Second):
		t.Fatal("voice media never reached the pipeline")
	}
}

func TestHistoryCommandEmpty(t *testing.T) {
	b, msgr, _, _ := newTestHandler(t)

	b.HandleCommand(context.Background(), chat.Command{Chat: 1, UserID: 3, Name: "history"})

	send := lastSend(t, msgr)
	if send.Text != b.loc.T("es", "history.empty", nil) {
		t.Fatalf("expected empty-history message, got %q", send.Text)
	}
}

func TestHistoryCommandRendersRowsAndStats(t *testing.T) {
	b, msgr, settings, _ := newTestHandler(t)
	settings.rows = []storage.Transcription{
		{Text: "primera nota", DurationSeconds: 65, CreatedAt: time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)},
		{Text: "segunda nota", DurationSeconds: 55.5, CreatedAt: time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)},
	}
	settings.count = 2
	settings.totalSec = 120.5

	b.HandleCommand(context.Background(), chat.Command{Chat: 1, UserID: 3, Name: "history"})

	send := lastSend(t, msgr)
	for _, want := range []string{
		b.loc.T("es", "history.header", nil),
		"primera nota",
		"1:05",
		"2026-08-29 10:30",
		"2 transcripciones",
		"2.0 minutos",
	} {
		if !strings.Contains(send.Text, want) {
			t.Errorf("history reply missing %q:\n%s", want, send.Text)
		}
	}
}

func TestFormatHistoryTruncatesSnippet(t *testing.T) {
	loc, err := i18n.Load()
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}

	long := strings.Repeat("palabra ", 40)
	rows := []storage.Transcription{{Text: long, DurationSeconds: 10, CreatedAt: time.Now()}}

	got := formatHistory(loc, "es", rows, 1, 10)
	if strings.Contains(got, long) {
		t.Fatal("expected long transcript to be truncated")
	}
	if !strings.Contains(got, "…") {
		t.Fatal("expected ellipsis on truncated snippet")
	}
}

func TestLangCommandOffersButtons(t *testing.T) {
	b, msgr, _, _ := newTestHandler(t)

	b.HandleCommand(context.Background(), chat.Command{Chat: 1, UserID: 3, Name: "lang"})

	send := lastSend(t, msgr)
	if len(send.Controls) != 2 {
		t.Fatalf("expected one button per catalog, got %+v", send.Controls)
	}
	if send.Controls[0].Data != chat.LangData("en") || send.Controls[1].Data != chat.LangData("es") {
		t.Fatalf("expected lang_* callback payloads, got %+v", send.Controls)
	}
}

func TestLangCommandWithCode(t *testing.T) {
	b, msgr, settings, _ := newTestHandler(t)

	b.HandleCommand(context.Background(), chat.Command{Chat: 1, UserID: 3, Name: "lang", Args: " EN "})

	if settings.langs[3] != "en" {
		t.Fatalf("expected stored language en, got %q", settings.langs[3])
	}
	send := lastSend(t, msgr)
	if !strings.Contains(send.Text, i18n.LanguageName("en")) {
		t.Fatalf("expected confirmation in the new language, got %q", send.Text)
	}
}

func TestLangCallbackSetsLanguage(t *testing.T) {
	b, msgr, settings, runner := newTestHandler(t)

	b.HandleCallback(context.Background(), chat.CallbackQuery{
		ID:        "cb-1",
		Data:      chat.LangData("en"),
		Chat:      1,
		MessageID: 9,
		UserID:    3,
	})

	if settings.langs[3] != "en" {
		t.Fatalf("expected stored language en, got %q", settings.langs[3])
	}
	msgr.mu.Lock()
	answers, edits := len(msgr.answers), len(msgr.edits)
	var confirm string
	if edits > 0 {
		confirm = msgr.edits[0].Text
	}
	msgr.mu.Unlock()
	if answers != 1 || edits != 1 {
		t.Fatalf("expected one ack and one confirmation edit, got %d/%d", answers, edits)
	}
	if !strings.Contains(confirm, i18n.LanguageName("en")) {
		t.Fatalf("expected confirmation in the new language, got %q", confirm)
	}
	select {
	case <-runner.callbacks:
		t.Fatal("language callbacks must not reach the pipeline resolver")
	default:
	}
}

func TestOtherCallbacksReachPipeline(t *testing.T) {
	b, _, _, runner := newTestHandler(t)

	b.HandleCallback(context.Background(), chat.CallbackQuery{ID: "cb-1", Data: chat.RetryData("tok")})

	select {
	case cb := <-runner.callbacks:
		if cb.Data != chat.RetryData("tok") {
			t.Fatalf("unexpected callback forwarded: %+v", cb)
		}
	case <-time.After(time.Second):
		t.Fatal("retry callback never reached the pipeline")
	}
}
