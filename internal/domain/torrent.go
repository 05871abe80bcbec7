package domain

// TorrentState describes the live state reported by the torrent engine.
type TorrentState string

const (
	TorrentStateFetching    TorrentState = "fetching"
	TorrentStateDownloading TorrentState = "downloading"
	TorrentStateSeeding     TorrentState = "seeding"
	TorrentStateCompleted   TorrentState = "completed"
	TorrentStatePaused      TorrentState = "paused"
	TorrentStateUnknown     TorrentState = "unknown"
)

// Torrent is the persisted record of a download the user requested.
// Identity is the magnet URI; title and size stay empty until the
// engine exposes metadata.
type Torrent struct {
	MagnetURI  string
	Title      string
	Size       int64
	Source     string
	IsPaused   bool
	IsNotified bool
}

// TorrentStatus is derived from the engine on every poll and never persisted.
type TorrentStatus struct {
	State        TorrentState
	Progress     float64
	DownloadRate int64
	UploadRate   int64
	Seeders      int
	Leechers     int
	IsPaused     bool
}

// DisplayState resolves the paused overlay: a paused torrent reports
// Paused regardless of the underlying engine state.
func (s TorrentStatus) DisplayState() TorrentState {
	if s.IsPaused {
		return TorrentStatePaused
	}
	return s.State
}
