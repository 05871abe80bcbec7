package transcode

import (
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const probeTimeout = 30 * time.Second

// probeDuration asks ffprobe for the media duration in seconds. Callers
// treat failure as "no progress reporting", not as a job failure.
func probeDuration(ctx context.Context, ffprobePath, filePath string) (float64, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, probeTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		filePath,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, err
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, err
	}
	if duration <= 0 {
		return 0, errors.New("non-positive duration")
	}
	return duration, nil
}

// ffprobePathFor derives the ffprobe binary location from the
// configured ffmpeg path; the two ship side by side.
func ffprobePathFor(ffmpegPath string) string {
	if ffmpegPath == "" {
		return "ffprobe"
	}
	return strings.Replace(ffmpegPath, "ffmpeg", "ffprobe", 1)
}

// CheckFFmpeg verifies the encoder binary is runnable.
func CheckFFmpeg(ctx context.Context, ffmpegPath string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, ffmpegPath, "-version").Run()
}
