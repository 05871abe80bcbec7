package transcode

import (
	"regexp"
	"strings"
)

// videoExtensions lists the container extensions recognized in torrent titles.
var videoExtensions = []string{
	".mkv", ".mp4", ".avi", ".m4v", ".webm", ".flv",
	".mov", ".wmv", ".mpg", ".mpeg", ".ts", ".m2ts",
}

// DetectVideoExtension finds a video extension embedded in a torrent
// title, either at the end or followed by whitespace or a closing
// bracket, as in "Movie.2024.1080p.x264.mkv [eztv]". Returns the
// extension with its dot, or "" when none is present.
func DetectVideoExtension(title string) string {
	lower := strings.ToLower(title)
	for _, ext := range videoExtensions {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
		pattern := regexp.QuoteMeta(ext) + `[\s\]\)]`
		if matched, _ := regexp.MatchString(pattern, lower); matched {
			return ext
		}
	}
	return ""
}

// Transcodable reports whether the matcher has a rule for the extension.
func (m *Matcher) Transcodable(extension string) bool {
	ext := normalizeExt(extension)
	if ext == "" {
		return false
	}
	for _, rule := range m.rules {
		if normalizeExt(rule.InputExtension) == ext {
			return true
		}
	}
	return false
}
