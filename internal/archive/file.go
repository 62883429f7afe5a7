package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	filePrefix = "transcript_"
	fileExt    = ".txt"
	// fileTimeLayout matches YYYYMMDD_HHMMSS
	fileTimeLayout   = "20060102_150405"
	headerTimeLayout = "2006-01-02 15:04:05"
	// maxCollisions bounds the _N suffixes tried for saves within one second
	maxCollisions = 100
)

// SaveResult describes a written transcript file
type SaveResult struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// Writer writes transcript export artifacts into a directory
type Writer struct {
	dir   string
	title string
	now   func() time.Time
}

// NewWriter creates a writer for dir. The directory is created on first save.
func NewWriter(dir, title string) *Writer {
	if title == "" {
		title = "Livescribe Transcript"
	}
	return &Writer{dir: dir, title: title, now: time.Now}
}

// Dir returns the output directory
func (w *Writer) Dir() string {
	return w.dir
}

// Format renders the artifact: title, date line, rule, blank line, then text
func (w *Writer) Format(text string, at time.Time) string {
	var b strings.Builder
	b.WriteString(w.title)
	b.WriteString("\n")
	b.WriteString("Date: " + at.Format(headerTimeLayout) + "\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	b.WriteString(text)
	return b.String()
}

// Save writes text to transcript_YYYYMMDD_HHMMSS.txt. An existing file is
// never overwritten: later saves in the same second get a _2, _3... suffix.
func (w *Writer) Save(text string) (SaveResult, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return SaveResult{}, fmt.Errorf("failed to create transcript directory: %w", err)
	}

	at := w.now()
	stamp := filePrefix + at.Format(fileTimeLayout)

	for n := 1; n <= maxCollisions; n++ {
		filename := stamp + fileExt
		if n > 1 {
			filename = fmt.Sprintf("%s_%d%s", stamp, n, fileExt)
		}
		path := filepath.Join(w.dir, filename)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return SaveResult{}, fmt.Errorf("failed to create transcript file: %w", err)
		}

		_, werr := f.WriteString(w.Format(text, at))
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return SaveResult{}, fmt.Errorf("failed to write transcript: %w", werr)
		}

		return SaveResult{Filename: filename, Path: path}, nil
	}

	return SaveResult{}, fmt.Errorf("failed to create transcript file: %d files already exist for %s", maxCollisions, stamp)
}

// Prune deletes transcript files older than maxAge and returns how many were removed
func (w *Writer) Prune(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list transcript directory: %w", err)
	}

	cutoff := w.now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(w.dir, name)); err != nil {
				return removed, fmt.Errorf("failed to remove %s: %w", name, err)
			}
			removed++
		}
	}

	return removed, nil
}
