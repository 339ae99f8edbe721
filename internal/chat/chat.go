package chat

import (
	"context"
	"strings"
)

type ChatRef int64

// MessageRef identifies a sent message so it can be edited in place.
type MessageRef struct {
	Chat ChatRef
	ID   int64
}

// Control is an interactive button attached to a message. Data is the opaque
// callback payload delivered back when the user taps it.
type Control struct {
	Label string
	Data  string
}

type MediaKind string

const (
	MediaVoice     MediaKind = "voice"
	MediaAudio     MediaKind = "audio"
	MediaVideoNote MediaKind = "video_note"
)

// MediaRef points at an inbound audio artifact held by the chat platform.
type MediaRef struct {
	FileID   string
	Kind     MediaKind
	MIMEType string
	FileName string
}

// SupportedAudioMIME is the allow-list applied to audio-file messages before
// they reach the pipeline. Voice and video-note messages arrive in known
// containers and skip this check.
var SupportedAudioMIME = map[string]bool{
	"audio/mpeg":  true,
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/ogg":   true,
	"audio/x-m4a": true,
	"audio/mp4":   true,
	"audio/aac":   true,
	"audio/x-aac": true,
	"audio/flac":  true,
	"audio/opus":  true,
	"audio/x-opus": true,
}

// Messenger is the transport contract the pipeline consumes. FetchMedia
// downloads the referenced artifact to a local scratch file and returns its
// path.
type Messenger interface {
	FetchMedia(ctx context.Context, ref MediaRef) (string, error)
	SendText(ctx context.Context, chat ChatRef, text string, replyTo int64, controls []Control) (MessageRef, error)
	EditText(ctx context.Context, msg MessageRef, text string, controls []Control) error
	SendFile(ctx context.Context, chat ChatRef, data []byte, filename, caption string) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	SendTyping(ctx context.Context, chat ChatRef) error
}

// Callback payload prefixes. The prefix is the wire contract between the
// pipeline (producer of controls) and the followup resolver (consumer);
// the token after the prefix is opaque.
const (
	RetryPrefix          = "retry_"
	SummarizePrefix      = "summarize_"
	FullTranscriptPrefix = "transcript_full_"
	LangPrefix           = "lang_"
	DisabledMarker       = "sent_disabled"
)

type CallbackKind int

const (
	CallbackUnknown CallbackKind = iota
	CallbackRetry
	CallbackSummarize
	CallbackFullTranscript
	CallbackLang
	CallbackDisabled
)

func RetryData(token string) string          { return RetryPrefix + token }
func SummarizeData(token string) string      { return SummarizePrefix + token }
func FullTranscriptData(token string) string { return FullTranscriptPrefix + token }
func LangData(code string) string            { return LangPrefix + code }

// ParseCallbackData splits a callback payload into its namespace and token.
// FullTranscriptPrefix is checked before SummarizePrefix deliberately; the
// namespaces must never shadow each other.
func ParseCallbackData(data string) (CallbackKind, string) {
	switch {
	case data == DisabledMarker:
		return CallbackDisabled, ""
	case strings.HasPrefix(data, RetryPrefix):
		return CallbackRetry, strings.TrimPrefix(data, RetryPrefix)
	case strings.HasPrefix(data, FullTranscriptPrefix):
		return CallbackFullTranscript, strings.TrimPrefix(data, FullTranscriptPrefix)
	case strings.HasPrefix(data, SummarizePrefix):
		return CallbackSummarize, strings.TrimPrefix(data, SummarizePrefix)
	case strings.HasPrefix(data, LangPrefix):
		return CallbackLang, strings.TrimPrefix(data, LangPrefix)
	default:
		return CallbackUnknown, ""
	}
}
