package transcode

import (
	"sync"
	"testing"
	"time"
)

func TestNotifier_LastSinkWins(t *testing.T) {
	notifier := NewNotifier()

	var mu sync.Mutex
	var got []string
	notifier.SetSink(func(event NotifyEvent, filename string) {
		mu.Lock()
		got = append(got, "first:"+string(event))
		mu.Unlock()
	})
	done := make(chan struct{}, 1)
	notifier.SetSink(func(event NotifyEvent, filename string) {
		mu.Lock()
		got = append(got, string(event)+":"+filename)
		mu.Unlock()
		done <- struct{}{}
	})

	notifier.Notify(NotifyCompleted, "movie.mp4")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sink was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "completed:movie.mp4" {
		t.Errorf("unexpected sink calls %v", got)
	}
}

func TestNotifier_NoSink(t *testing.T) {
	notifier := NewNotifier()
	// must not panic
	notifier.Notify(NotifyFailed, "movie.mp4")
}

func TestNotifier_SlowSinkDoesNotBlock(t *testing.T) {
	notifier := NewNotifier()
	release := make(chan struct{})
	notifier.SetSink(func(event NotifyEvent, filename string) {
		<-release
	})

	start := time.Now()
	notifier.Notify(NotifyStarted, "movie.avi")
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Notify blocked for %v", elapsed)
	}
	close(release)
}
