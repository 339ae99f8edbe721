package transcribe

import (
	"context"
	"fmt"
	"strings"

	prerecorded "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// deepgram sends the file to the prerecorded (batch) endpoint.
type deepgram struct {
	apiKey string
}

func newDeepgram(apiKey string) *deepgram {
	return &deepgram{apiKey: apiKey}
}

func (d *deepgram) Transcribe(ctx context.Context, path, language string) (string, error) {
	rest := client.NewREST(d.apiKey, &interfaces.ClientOptions{})
	dg := prerecorded.New(rest)

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       "nova-2",
		Language:    language,
		Punctuate:   true,
		SmartFormat: true,
	}

	resp, err := dg.FromFile(ctx, path, options)
	if err != nil {
		return "", fmt.Errorf("deepgram transcription: %w", err)
	}

	if resp == nil || len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Results.Channels[0].Alternatives[0].Transcript), nil
}
