// Package knowledge loads Anna's static identity document and optional
// per-caller notes from a directory on disk.
package knowledge

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/JasonGordonD/anna-agent-c/internal/domain"
)

// DefaultIdentity is used when no identity document is present.
const DefaultIdentity = "You are Anna, the raw, psychological protagonist of an adult novel. " +
	"Backstory: scarred by a forbidden affair that shattered her trust, Anna navigates desire and trauma " +
	"with unfiltered vulnerability, craving intimacy while fearing its cost. Speak with biting emotion " +
	"and candor where it fits her arc. Evolve her psyche based on context. No holding back."

// DefaultCallerNotes is substituted when a caller has no document.
const DefaultCallerNotes = "No caller-specific notes."

const (
	identityFile = "identity.md"
	callersDir   = "callers"
)

var callerIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:+-]{1,128}$`)

// Loader reads knowledge documents on every call so edits take effect
// without a restart.
type Loader struct {
	dir    string
	logger *slog.Logger
}

// NewLoader creates a loader rooted at dir. An empty dir yields the defaults.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{dir: dir, logger: logger}
}

// Identity returns the identity document or DefaultIdentity.
func (l *Loader) Identity() string {
	if l.dir == "" {
		return DefaultIdentity
	}
	text, ok := l.read(filepath.Join(l.dir, identityFile))
	if !ok {
		return DefaultIdentity
	}
	return text
}

// Caller returns the profile for callerID. Found is false when the id is
// empty, unsafe, or has no document; Text then holds DefaultCallerNotes.
func (l *Loader) Caller(callerID string) domain.CallerProfile {
	profile := domain.CallerProfile{CallerID: callerID, Text: DefaultCallerNotes}

	id := strings.TrimSpace(callerID)
	if l.dir == "" || !ValidCallerID(id) {
		return profile
	}

	text, ok := l.read(filepath.Join(l.dir, callersDir, id+".md"))
	if !ok {
		return profile
	}
	profile.Text = text
	profile.Found = true
	return profile
}

// ValidCallerID reports whether id is safe to use as a file name.
func ValidCallerID(id string) bool {
	return callerIDPattern.MatchString(id) && !strings.Contains(id, "..")
}

func (l *Loader) read(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("failed to read knowledge document", "path", path, "error", err)
		}
		return "", false
	}
	text := strings.TrimSpace(string(data))
	return text, text != ""
}
