package summary

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/mgraterol/voznote/internal/llm"
)

// Minimum transcript length worth sending to a model.
const minWords = 20

const (
	promptES = "Resume el siguiente texto en puntos clave concisos:"
	promptEN = "Summarize the following text in concise bullet points:"
)

type ClientFactory func(provider, model string) (llm.Client, error)

// Summarizer condenses transcripts through a configured provider/model.
// Failures never propagate: the pipeline only ever sees an absent result.
type Summarizer struct {
	model   string
	factory ClientFactory
	sleep   func(time.Duration)
}

func New(model string, keys llm.Keys) *Summarizer {
	return &Summarizer{
		model: model,
		factory: func(provider, modelName string) (llm.Client, error) {
			return llm.New(provider, modelName, keys)
		},
		sleep: time.Sleep,
	}
}

// Summarize returns the summary and true, or "" and false when no concise
// result could be produced (too short, misconfigured model, provider down).
func (s *Summarizer) Summarize(ctx context.Context, text, lang string) (string, bool) {
	if len(strings.Fields(text)) < minWords {
		return "", false
	}

	provider, modelName, err := llm.ParseModel(s.model)
	if err != nil {
		log.Printf("summary: invalid model %q: %v", s.model, err)
		return "", false
	}

	client, err := s.factory(provider, modelName)
	if err != nil {
		log.Printf("summary: create client: %v", err)
		return "", false
	}

	systemPrompt := promptEN
	if lang == "es" {
		systemPrompt = promptES
	}
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: text},
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var lastErr error
	for attempt := range backoff {
		result, err := client.Complete(ctx, messages)
		if err == nil {
			result = strings.TrimSpace(result)
			return result, result != ""
		}
		lastErr = err
		if attempt < len(backoff)-1 {
			s.sleep(backoff[attempt])
		}
	}

	log.Printf("summary: failed after retries: %v", lastErr)
	return "", false
}
