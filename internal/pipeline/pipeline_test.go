package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mgraterol/voznote/internal/chat"
	"github.com/mgraterol/voznote/internal/i18n"
)

type sentText struct {
	Chat     chat.ChatRef
	Text     string
	ReplyTo  int64
	Controls []chat.Control
}

type editedText struct {
	Msg      chat.MessageRef
	Text     string
	Controls []chat.Control
}

type sentFile struct {
	Chat     chat.ChatRef
	Data     []byte
	Filename string
	Caption  string
}

type callbackAnswer struct {
	ID    string
	Text  string
	Alert bool
}

type fakeMessenger struct {
	mu sync.Mutex

	fetchPath  string
	fetchErr   error
	sendErr    error
	sendFileErr error

	fetches   int
	sends     []sentText
	edits     []editedText
	files     []sentFile
	answers   []callbackAnswer
	typing    int
	nextMsgID int64
}

func (f *fakeMessenger) FetchMedia(ctx context.Context, ref chat.MediaRef) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	return f.fetchPath, nil
}

func (f *fakeMessenger) SendText(ctx context.Context, to chat.ChatRef, text string, replyTo int64, controls []chat.Control) (chat.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return chat.MessageRef{}, f.sendErr
	}
	f.nextMsgID++
	f.sends = append(f.sends, sentText{Chat: to, Text: text, ReplyTo: replyTo, Controls: controls})
	return chat.MessageRef{Chat: to, ID: f.nextMsgID}, nil
}

func (f *fakeMessenger) EditText(ctx context.Context, msg chat.MessageRef, text string, controls []chat.Control) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editedText{Msg: msg, Text: text, Controls: controls})
	return nil
}

func (f *fakeMessenger) SendFile(ctx context.Context, to chat.ChatRef, data []byte, filename, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendFileErr != nil {
		return f.sendFileErr
	}
	f.files = append(f.files, sentFile{Chat: to, Data: data, Filename: filename, Caption: caption})
	return nil
}

func (f *fakeMessenger) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, callbackAnswer{ID: callbackID, Text: text, Alert: alert})
	return nil
}

func (f *fakeMessenger) SendTyping(ctx context.Context, to chat.ChatRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

func (f *fakeMessenger) lastEdit(t *testing.T) editedText {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		t.Fatal("expected at least one edit")
	}
	return f.edits[len(f.edits)-1]
}

type fakeTranscriber struct {
	fn func(ctx context.Context, path, lang string) (string, error)
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path, lang string) (string, error) {
	return f.fn(ctx, path, lang)
}

func staticTranscriber(text string, err error) *fakeTranscriber {
	return &fakeTranscriber{fn: func(ctx context.Context, path, lang string) (string, error) {
		return text, err
	}}
}

type fakeSummarizer struct {
	mu     sync.Mutex
	text   string
	ok     bool
	calls  int
	inputs []string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text, lang string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, text)
	return f.text, f.ok
}

type savedRow struct {
	UserID   int64
	Text     string
	Language string
	Duration float64
	Kind     string
}

type fakeHistory struct {
	mu    sync.Mutex
	langs map[int64]string
	saved []savedRow
}

func (f *fakeHistory) SaveTranscription(userID int64, text, language string, durationSeconds float64, mediaKind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, savedRow{UserID: userID, Text: text, Language: language, Duration: durationSeconds, Kind: mediaKind})
	return nil
}

func (f *fakeHistory) UserLanguage(userID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lang, ok := f.langs[userID]; ok {
		return lang, nil
	}
	return i18n.DefaultLang, nil
}

type testEnv struct {
	p       *Pipeline
	msgr    *fakeMessenger
	summ    *fakeSummarizer
	history *fakeHistory
	loc     *i18n.Catalog
}

func newTestEnv(t *testing.T, transcriber *fakeTranscriber, duration float64, policy Policy) *testEnv {
	t.Helper()

	loc, err := i18n.Load()
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}

	msgr := &fakeMessenger{}
	summ := &fakeSummarizer{text: "- punto uno\n- punto dos", ok: true}
	history := &fakeHistory{langs: map[int64]string{}}

	p := New(msgr, transcriber, summ, history, nil, loc, policy)
	t.Cleanup(p.Close)

	p.probeDuration = func(string) float64 { return duration }

	tokens := 0
	p.newToken = func() string {
		tokens++
		return []string{"tok-a", "tok-b", "tok-c", "tok-d"}[tokens-1]
	}

	return &testEnv{p: p, msgr: msgr, summ: summ, history: history, loc: loc}
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.ogg")
	if err := os.WriteFile(path, []byte("ogg-bytes"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func incoming() chat.IncomingMedia {
	return chat.IncomingMedia{
		Chat:      42,
		MessageID: 7,
		UserID:    99,
		Media:     chat.MediaRef{FileID: "file-1", Kind: chat.MediaVoice, MIMEType: "audio/ogg"},
	}
}

func (e *testEnv) es(key string, args map[string]string) string {
	return e.loc.T("es", key, args)
}

func TestBusyRejection(t *testing.T) {
	env := newTestEnv(t, staticTranscriber("hola", nil), 30, Policy{})

	release, ok := env.p.gate.TryAcquire()
	if !ok {
		t.Fatal("expected free gate")
	}
	defer release()

	env.p.HandleMedia(context.Background(), incoming())

	if env.msgr.fetches != 0 {
		t.Error("busy rejection must not fetch media")
	}
	if len(env.msgr.sends) != 1 || env.msgr.sends[0].Text != env.es("transcription.busy", nil) {
		t.Fatalf("expected single busy reply, got %+v", env.msgr.sends)
	}
	if env.msgr.sends[0].ReplyTo != 7 {
		t.Error("busy reply should reference the origin message")
	}
}

func TestShortClipPlainTranscript(t *testing.T) {
	env := newTestEnv(t, staticTranscriber("  hola mundo ", nil), 45, Policy{})
	env.msgr.fetchPath = writeArtifact(t)

	env.p.HandleMedia(context.Background(), incoming())

	edit := env.msgr.lastEdit(t)
	if edit.Text != "hola mundo" {
		t.Fatalf("expected trimmed transcript edit, got %q", edit.Text)
	}
	if edit.Controls != nil {
		t.Error("short clip must carry no controls")
	}
	if len(env.history.saved) != 1 || env.history.saved[0].Text != "hola mundo" {
		t.Fatalf("expected one persisted transcription, got %+v", env.history.saved)
	}
	if env.summ.calls != 0 {
		t.Error("short clip must not summarize")
	}
	if fileExists(env.msgr.fetchPath) {
		t.Error("artifact must be deleted after success")
	}
	if env.p.gate.Busy() {
		t.Error("gate must be released after job")
	}
}

func TestOfferSummaryBoundary(t *testing.T) {
	cases := []struct {
		duration float64
		offered  bool
	}{
		{59.999, false},
		{60, true},
		{179.999, true},
	}
	for _, tc := range cases {
		env := newTestEnv(t, staticTranscriber("texto medio", nil), tc.duration, Policy{})
		env.msgr.fetchPath = writeArtifact(t)

		env.p.HandleMedia(context.Background(), incoming())

		edit := env.msgr.lastEdit(t)
		if edit.Text != "texto medio" {
			t.Fatalf("duration %v: expected verbatim transcript, got %q", tc.duration, edit.Text)
		}
		if tc.offered {
			if len(edit.Controls) != 1 || edit.Controls[0].Data != chat.SummarizeData("tok-a") {
				t.Fatalf("duration %v: expected summarize control, got %+v", tc.duration, edit.Controls)
			}
			if _, ok := env.p.transcripts.Get("tok-a"); !ok {
				t.Errorf("duration %v: transcript must be retained for followup", tc.duration)
			}
		} else if edit.Controls != nil {
			t.Fatalf("duration %v: expected no controls, got %+v", tc.duration, edit.Controls)
		}
		if env.summ.calls != 0 {
			t.Errorf("duration %v: summarizer must not run yet", tc.duration)
		}
	}
}

func TestAutoSummaryBoundary(t *testing.T) {
	env := newTestEnv(t, staticTranscriber("texto largo", nil), 180, Policy{})
	env.msgr.fetchPath = writeArtifact(t)

	env.p.HandleMedia(context.Background(), incoming())

	if env.summ.calls != 1 {
		t.Fatalf("expected one summarizer call, got %d", env.summ.calls)
	}
	edit := env.msgr.lastEdit(t)
	want := env.es("transcription.summary_header", nil) + "\n\n- punto uno\n- punto dos"
	if edit.Text != want {
		t.Fatalf("expected summary message, got %q", edit.Text)
	}
	if len(edit.Controls) != 1 || edit.Controls[0].Data != chat.FullTranscriptData("tok-a") {
		t.Fatalf("expected full-transcript control, got %+v", edit.Controls)
	}
	if tr, ok := env.p.transcripts.Get("tok-a"); !ok || tr.Text != "texto largo" {
		t.Error("full transcript must be retained for followup")
	}
}

func TestAutoSummaryFailureFallsBackToFullText(t *testing.T) {
	env := newTestEnv(t, staticTranscriber("texto largo", nil), 400, Policy{})
	env.summ.ok = false
	env.msgr.fetchPath = writeArtifact(t)

	env.p.HandleMedia(context.Background(), incoming())

	edit := env.msgr.lastEdit(t)
	if edit.Text != env.es("transcription.no_summary", nil) {
		t.Fatalf("expected no-summary fallback, got %q", edit.Text)
	}
	if len(edit.Controls) != 1 || edit.Controls[0].Data != chat.FullTranscriptData("tok-a") {
		t.Fatalf("expected full-transcript control, got %+v", edit.Controls)
	}
	if len(env.history.saved) != 1 {
		t.Error("transcript must persist even when the summary is absent")
	}
}

func TestFetchFailureLeavesNoRetryToken(t *testing.T) {
	env := newTestEnv(t, staticTranscriber("hola", nil), 30, Policy{})
	env.msgr.fetchErr = errors.New("file gone")

	env.p.HandleMedia(context.Background(), incoming())

	if env.p.retries.Len() != 0 {
		t.Error("fetch failure must not mint a retry token")
	}
	if len(env.msgr.sends) != 1 {
		t.Fatalf("expected one error reply, got %d", len(env.msgr.sends))
	}
	if env.p.gate.Busy() {
		t.Error("gate must be released after fetch failure")
	}
}

func TestOverlongClipRejected(t *testing.T) {
	env := newTestEnv(t, staticTranscriber("hola", nil), 1900, Policy{})
	env.msgr.fetchPath = writeArtifact(t)

	env.p.HandleMedia(context.Background(), incoming())

	if len(env.msgr.sends) != 1 {
		t.Fatalf("expected one rejection reply, got %d", len(env.msgr.sends))
	}
	want := env.es("transcription.too_long", map[string]string{"duration": "1900", "max_minutes": "30"})
	if env.msgr.sends[0].Text != want {
		t.Fatalf("expected too-long message, got %q", env.msgr.sends[0].Text)
	}
	if fileExists(env.msgr.fetchPath) {
		t.Error("rejected artifact must be deleted")
	}
	if env.p.gate.Busy() {
		t.Error("gate must be released after rejection")
	}
}

func TestTranscribeErrorMintsRetryToken(t *testing.T) {
	env := newTestEnv(t, staticTranscriber("", errors.New("backend down")), 120, Policy{})
	env.msgr.fetchPath = writeArtifact(t)

	env.p.HandleMedia(context.Background(), incoming())

	edit := env.msgr.lastEdit(t)
	if len(edit.Controls) != 1 || edit.Controls[0].Data != chat.RetryData("tok-a") {
		t.Fatalf("expected retry control, got %+v", edit.Controls)
	}

	rec, ok := env.p.retries.Get("tok-a")
	if !ok {
		t.Fatal("expected retry record")
	}
	if rec.SourcePath != env.msgr.fetchPath || rec.DurationSeconds != 120 {
		t.Fatalf("retry record incomplete: %+v", rec)
	}
	if !fileExists(env.msgr.fetchPath) {
		t.Error("artifact must be preserved for retry")
	}
	if env.p.gate.Busy() {
		t.Error("gate must be released after failure")
	}
}

func TestEmptyTranscriptIsTerminal(t *testing.T) {
	env := newTestEnv(t, staticTranscriber("   ", nil), 90, Policy{})
	env.msgr.fetchPath = writeArtifact(t)

	env.p.HandleMedia(context.Background(), incoming())

	edit := env.msgr.lastEdit(t)
	if edit.Text != env.es("transcription.no_speech", nil) {
		t.Fatalf("expected no-speech message, got %q", edit.Text)
	}
	if edit.Controls != nil {
		t.Error("empty transcript must not offer retry")
	}
	if env.p.retries.Len() != 0 {
		t.Error("empty transcript must not mint a retry token")
	}
	if fileExists(env.msgr.fetchPath) {
		t.Error("artifact must be deleted on empty transcript")
	}
}

func TestRetrySweepRemovesExpiredArtifacts(t *testing.T) {
	env := newTestEnv(t, staticTranscriber("hola", nil), 30, Policy{RetryTTL: 5 * time.Minute})
	env.msgr.fetchPath = writeArtifact(t)

	stale := writeArtifact(t)
	base := time.Now()
	env.p.retries.Put("old", RetryRecord{SourcePath: stale, CreatedAt: base}, base)
	env.p.now = func() time.Time { return base.Add(5*time.Minute + time.Second) }

	env.p.HandleMedia(context.Background(), incoming())

	if _, ok := env.p.retries.Get("old"); ok {
		t.Error("expired retry record must be swept at job start")
	}
	if fileExists(stale) {
		t.Error("sweeping a retry record must delete its artifact")
	}
}

func TestPoolSaturationSurfacesBusy(t *testing.T) {
	started := make(chan struct{}, 2)
	unblock := make(chan struct{})
	blocking := &fakeTranscriber{fn: func(ctx context.Context, path, lang string) (string, error) {
		started <- struct{}{}
		<-unblock
		return "tarde", nil
	}}
	defer close(unblock)

	env := newTestEnv(t, blocking, 30, Policy{
		Workers:           1,
		TranscribeTimeout: 50 * time.Millisecond,
	})
	env.msgr.fetchPath = writeArtifact(t)

	// First job times out and abandons its worker mid-call.
	env.p.HandleMedia(context.Background(), incoming())
	<-started

	env.msgr.fetchPath = writeArtifact(t)
	env.p.HandleMedia(context.Background(), incoming())

	edit := env.msgr.lastEdit(t)
	if edit.Text != env.es("transcription.busy", nil) {
		t.Fatalf("expected busy message on pool saturation, got %q", edit.Text)
	}
	if fileExists(env.msgr.fetchPath) {
		t.Error("saturated job must not leak its artifact")
	}
}

func TestConcurrentSecondSenderRejected(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	blocking := &fakeTranscriber{fn: func(ctx context.Context, path, lang string) (string, error) {
		close(entered)
		<-unblock
		return "primero", nil
	}}

	env := newTestEnv(t, blocking, 30, Policy{Workers: 2, QueueDepth: 2})
	env.msgr.fetchPath = writeArtifact(t)

	done := make(chan struct{})
	go func() {
		env.p.HandleMedia(context.Background(), incoming())
		close(done)
	}()

	<-entered
	second := incoming()
	second.MessageID = 8
	env.p.HandleMedia(context.Background(), second)

	env.msgr.mu.Lock()
	var busy int
	for _, s := range env.msgr.sends {
		if s.Text == env.es("transcription.busy", nil) {
			busy++
		}
	}
	env.msgr.mu.Unlock()
	if busy != 1 {
		t.Fatalf("expected exactly one busy rejection, got %d", busy)
	}

	close(unblock)
	<-done

	edit := env.msgr.lastEdit(t)
	if edit.Text != "primero" {
		t.Fatalf("first job must complete normally, got %q", edit.Text)
	}
}
