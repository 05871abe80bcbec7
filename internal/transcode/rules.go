package transcode

import (
	"errors"
	"path/filepath"
	"strings"

	"torrra/internal/domain"
)

// ErrNoMatchingRule is returned by QueueJob when no rule covers the
// source file's extension. Not matching is a normal outcome for files
// the user never asked to transcode.
var ErrNoMatchingRule = errors.New("no matching transcode rule")

// Matcher resolves transcode rules and destination paths for source files.
type Matcher struct {
	rules   []domain.TranscodeRule
	destDir string
}

func NewMatcher(rules []domain.TranscodeRule, destDir string) *Matcher {
	return &Matcher{rules: rules, destDir: destDir}
}

// Match finds the first rule whose input extension equals the source
// file's extension, case-insensitively and regardless of a leading dot.
func (m *Matcher) Match(sourceFile string) (domain.TranscodeRule, bool) {
	ext := strings.ToLower(filepath.Ext(sourceFile))
	for _, rule := range m.rules {
		if normalizeExt(rule.InputExtension) == ext {
			return rule, true
		}
	}
	return domain.TranscodeRule{}, false
}

// DestinationFor computes the output path for a source file under the
// given rule: destination dir, source stem, rule output format.
func (m *Matcher) DestinationFor(sourceFile string, rule domain.TranscodeRule) string {
	stem := strings.TrimSuffix(filepath.Base(sourceFile), filepath.Ext(sourceFile))
	format := rule.OutputFormat
	if format == "" {
		format = "mp4"
	}
	return filepath.Join(m.destDir, stem+"."+format)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
