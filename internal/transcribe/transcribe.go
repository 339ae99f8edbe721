package transcribe

import (
	"context"
	"fmt"
)

// Transcriber converts an audio file into text. Implementations are
// blocking and are only ever invoked from the worker pool, serialized by
// the admission gate.
type Transcriber interface {
	Transcribe(ctx context.Context, path, language string) (string, error)
}

// Options carries backend-specific settings; only the fields for the
// selected backend are consulted.
type Options struct {
	WhisperBin   string
	WhisperModel string
	OpenAIKey    string
	DeepgramKey  string
}

// New selects the backend once at startup. There is no runtime switching:
// the returned value is the one capability the pipeline holds.
func New(kind string, opts Options) (Transcriber, error) {
	switch kind {
	case "whispercpp":
		return newWhisperCPP(opts.WhisperBin, opts.WhisperModel), nil
	case "openai":
		if opts.OpenAIKey == "" {
			return nil, fmt.Errorf("openai transcriber: no API key configured")
		}
		return newWhisperAPI(opts.OpenAIKey), nil
	case "deepgram":
		if opts.DeepgramKey == "" {
			return nil, fmt.Errorf("deepgram transcriber: no API key configured")
		}
		return newDeepgram(opts.DeepgramKey), nil
	default:
		return nil, fmt.Errorf("unknown transcriber %q: supported backends are whispercpp, openai, deepgram", kind)
	}
}
