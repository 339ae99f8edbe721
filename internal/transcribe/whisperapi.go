package transcribe

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// whisperAPI uses the hosted OpenAI transcription endpoint.
type whisperAPI struct {
	client *openai.Client
}

func newWhisperAPI(apiKey string) *whisperAPI {
	return &whisperAPI{client: openai.NewClient(apiKey)}
}

func newWhisperAPIWithConfig(cfg openai.ClientConfig) *whisperAPI {
	return &whisperAPI{client: openai.NewClientWithConfig(cfg)}
}

func (w *whisperAPI) Transcribe(ctx context.Context, path, language string) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: path,
		Language: language,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
