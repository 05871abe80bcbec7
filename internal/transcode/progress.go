package transcode

import (
	"strconv"
	"strings"
)

// maxReportedProgress caps streamed progress until the encoder exits;
// only a clean exit reports 100.
const maxReportedProgress = 99.9

// parseProgressLine extracts a progress percentage from one line of the
// encoder's machine-readable progress stream. Lines look like
// "out_time_ms=12345678" with the value in microseconds. Returns false
// for unrelated lines, unparseable values, or an unknown duration.
func parseProgressLine(line string, durationSeconds float64) (float64, bool) {
	value, ok := strings.CutPrefix(strings.TrimSpace(line), "out_time_ms=")
	if !ok {
		return 0, false
	}
	if durationSeconds <= 0 {
		return 0, false
	}
	current, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}

	progress := float64(current) / 1e6 / durationSeconds * 100
	if progress > maxReportedProgress {
		progress = maxReportedProgress
	}
	if progress < 0 {
		progress = 0
	}
	return progress, true
}
