package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// whisperCPP shells out to a local whisper.cpp CLI. One loaded model serves
// the whole process, which is why the admission gate exists.
type whisperCPP struct {
	bin   string
	model string
}

func newWhisperCPP(bin, model string) *whisperCPP {
	return &whisperCPP{bin: bin, model: model}
}

func (w *whisperCPP) Transcribe(ctx context.Context, path, language string) (string, error) {
	args := []string{"-m", w.model, "-nt", "-np"}
	if language != "" {
		args = append(args, "-l", language)
	}
	args = append(args, "-f", path)

	cmd := exec.CommandContext(ctx, w.bin, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("whisper.cpp failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("run whisper.cpp: %w", err)
	}

	return strings.TrimSpace(string(out)), nil
}
