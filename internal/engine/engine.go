package engine

import "torrra/internal/domain"

// FileInfo is a single file inside a torrent, relative to the save path.
type FileInfo struct {
	Path string
	Size int64
}

// Event is produced by the engine in response to a resume snapshot request.
type Event struct {
	MagnetURI string
	// Blob carries the snapshot when Failed is false.
	Blob   []byte
	Failed bool
}

// Handle is an attached torrent. A handle can become invalid when the
// engine drops the torrent; every method must tolerate that.
type Handle interface {
	Valid() bool
	Status() domain.TorrentStatus
	Paused() bool
	Pause()
	Resume()
	HasMetadata() bool
	// Title and TotalSize are only meaningful once HasMetadata reports true.
	Title() string
	TotalSize() int64
	Files() []FileInfo
	// RequestResumeSnapshot asks the engine to produce a resume blob.
	// The result arrives later as an Event from Session.PollEvents.
	RequestResumeSnapshot()
}

// Session is the torrent engine capability consumed by the lifecycle
// manager. Implementations own the transfer protocol; this package only
// specifies the control surface.
type Session interface {
	// AddFromMagnet cold-starts a torrent from its magnet URI.
	AddFromMagnet(magnetURI, savePath string, startPaused bool) (Handle, error)
	// AddFromResumeBlob starts a torrent from a previously produced
	// resume snapshot. Fails on a corrupt or incompatible blob.
	AddFromResumeBlob(magnetURI string, blob []byte, savePath string, startPaused bool) (Handle, error)
	Remove(h Handle)
	// PollEvents drains any pending snapshot events without blocking.
	PollEvents() []Event
	Close()
}
