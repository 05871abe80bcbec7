package transcode

import "sync"

// NotifyEvent identifies a job lifecycle notification.
type NotifyEvent string

const (
	NotifyStarted   NotifyEvent = "started"
	NotifyCompleted NotifyEvent = "completed"
	NotifyFailed    NotifyEvent = "failed"
)

// NotifyFunc receives (event, filename). Sinks may block; the notifier
// never lets that reach the scheduler.
type NotifyFunc func(event NotifyEvent, filename string)

// Notifier holds a single notification sink. The last registration
// wins; a nil sink makes Notify a no-op.
type Notifier struct {
	mu   sync.RWMutex
	sink NotifyFunc
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

func (n *Notifier) SetSink(sink NotifyFunc) {
	n.mu.Lock()
	n.sink = sink
	n.mu.Unlock()
}

// Notify dispatches fire-and-forget: the sink runs on its own
// goroutine so a slow or failing sink cannot block a job transition.
func (n *Notifier) Notify(event NotifyEvent, filename string) {
	n.mu.RLock()
	sink := n.sink
	n.mu.RUnlock()
	if sink == nil {
		return
	}
	go sink(event, filename)
}
