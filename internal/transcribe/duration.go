package transcribe

import (
	"log"
	"os/exec"
	"strconv"
	"strings"
)

// FFProbe reads media durations by shelling out to ffprobe.
type FFProbe struct {
	Bin string
}

func NewFFProbe() *FFProbe {
	return &FFProbe{Bin: "ffprobe"}
}

// DurationSeconds is best-effort: any probe failure yields 0, which the
// pipeline treats as "short".
func (p *FFProbe) DurationSeconds(path string) float64 {
	cmd := exec.Command(p.Bin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		log.Printf("ffprobe %s: %v", path, err)
		return 0
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return seconds
}
