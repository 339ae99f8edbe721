package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/mgraterol/voznote/internal/chat"
)

// HandleCallback resolves a followup control activation. Every branch
// answers the callback exactly once; stale tokens always degrade to an
// "expired" edit rather than an error.
func (p *Pipeline) HandleCallback(ctx context.Context, cb chat.CallbackQuery) {
	now := p.now()
	p.retries.Sweep(now)
	p.transcripts.Sweep(now)

	lang := p.userLanguage(cb.UserID)
	msg := chat.MessageRef{Chat: cb.Chat, ID: cb.MessageID}

	kind, token := chat.ParseCallbackData(cb.Data)
	switch kind {
	case chat.CallbackRetry:
		p.resolveRetry(ctx, cb, msg, token, lang)
	case chat.CallbackSummarize:
		p.resolveSummarize(ctx, cb, msg, token, lang)
	case chat.CallbackFullTranscript:
		p.resolveFullTranscript(ctx, cb, msg, token, lang)
	case chat.CallbackDisabled:
		p.answerCallback(ctx, cb.ID, p.t(lang, "messages.already_sent", nil), true)
	default:
		p.answerCallback(ctx, cb.ID, "", false)
	}
}

// resolveRetry re-runs a failed job from its preserved artifact. The token
// is single-shot: whatever the outcome, record and artifact are gone after
// one attempt. A busy gate is the exception and leaves the token intact.
func (p *Pipeline) resolveRetry(ctx context.Context, cb chat.CallbackQuery, msg chat.MessageRef, token, lang string) {
	rec, ok := p.retries.Get(token)
	if !ok {
		p.answerCallback(ctx, cb.ID, "", false)
		p.editText(ctx, msg, p.t(lang, "messages.expired", nil), nil)
		return
	}

	release, acquired := p.gate.TryAcquire()
	if !acquired {
		p.answerCallback(ctx, cb.ID, p.t(lang, "transcription.busy", nil), true)
		return
	}
	defer release()
	defer func() {
		p.retries.Delete(token)
		removeArtifact(rec.SourcePath)
	}()

	p.answerCallback(ctx, cb.ID, "", false)
	p.notifyStarted(rec.UserID, rec.MediaKind)
	p.editText(ctx, msg, p.t(lang, "transcription.retrying", nil), nil)

	text, err := p.runTranscription(ctx, rec.SourcePath, rec.Language)
	if err != nil {
		log.Printf("retry transcription for user %d: %v", rec.UserID, err)
		p.editText(ctx, msg, p.t(lang, "transcription.error", map[string]string{"error": err.Error()}), nil)
		p.notifyFailed(rec.UserID, "retry")
		return
	}
	if text == "" {
		p.editText(ctx, msg, p.t(lang, "transcription.no_speech", nil), nil)
		p.notifyFailed(rec.UserID, "no speech")
		return
	}

	p.persist(rec.UserID, text, rec.Language, rec.DurationSeconds, rec.MediaKind)
	summarized := p.respond(ctx, rec.UserID, msg, text, rec.Language, rec.DurationSeconds)
	p.notifyDone(rec.UserID, rec.DurationSeconds, summarized)
}

// resolveSummarize produces an on-demand summary for a stored transcript.
// The transcript stays resident so the full-text control keeps working.
func (p *Pipeline) resolveSummarize(ctx context.Context, cb chat.CallbackQuery, msg chat.MessageRef, token, lang string) {
	tr, ok := p.transcripts.Get(token)
	if !ok {
		p.answerCallback(ctx, cb.ID, "", false)
		p.editText(ctx, msg, p.t(lang, "messages.expired", nil), nil)
		return
	}

	p.answerCallback(ctx, cb.ID, "", false)
	p.editText(ctx, msg, p.t(lang, "transcription.generating_summary", nil), nil)

	fullControl := []chat.Control{{
		Label: p.t(lang, "buttons.full_transcript", nil),
		Data:  chat.FullTranscriptData(token),
	}}

	summaryText, ok := p.summarizer.Summarize(ctx, tr.Text, tr.Language)
	if !ok {
		p.editText(ctx, msg, p.t(lang, "transcription.no_summary", nil), fullControl)
		return
	}

	p.editText(ctx, msg, p.t(lang, "transcription.summary_header", nil)+"\n\n"+summaryText, fullControl)
	p.notifySummary(cb.UserID)
}

// resolveFullTranscript delivers the stored transcript as a text file, then
// disables the control on the originating message. A failed delivery leaves
// the control active so the user can tap again.
func (p *Pipeline) resolveFullTranscript(ctx context.Context, cb chat.CallbackQuery, msg chat.MessageRef, token, lang string) {
	tr, ok := p.transcripts.Get(token)
	if !ok {
		p.answerCallback(ctx, cb.ID, "", false)
		p.editText(ctx, msg, p.t(lang, "messages.expired", nil), nil)
		return
	}

	p.answerCallback(ctx, cb.ID, "", false)

	content := fmt.Sprintf("Transcription - %s\nLanguage: %s\n\n%s",
		p.now().Format("2006-01-02 15:04:05"), tr.Language, tr.Text)
	caption := p.t(lang, "messages.file_caption", nil)

	if err := p.msgr.SendFile(ctx, cb.Chat, []byte(content), "transcription.txt", caption); err != nil {
		log.Printf("send transcript file: %v", err)
		return
	}

	p.editText(ctx, msg, cb.MessageText, []chat.Control{{
		Label: p.t(lang, "buttons.sent", nil),
		Data:  chat.DisabledMarker,
	}})
}

func (p *Pipeline) answerCallback(ctx context.Context, callbackID, text string, alert bool) {
	if err := p.msgr.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		log.Printf("answer callback: %v", err)
	}
}
