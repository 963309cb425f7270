// Package fsbrowse provides read-only directory listings rooted at a fixed
// base path.
package fsbrowse

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrOutsideBase is returned when a requested path escapes the base
// directory.
var ErrOutsideBase = errors.New("path escapes the browsing root")

// Entry describes one directory member. Type is "file", "directory", or
// "unknown" when the entry could not be stat'd.
type Entry struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
}

// Browser lists directories under a fixed base path.
type Browser struct {
	base string
}

// New returns a Browser rooted at base. The base is resolved to an absolute
// path once, at construction.
func New(base string) (*Browser, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve base %q: %w", base, err)
	}
	return &Browser{base: abs}, nil
}

// List resolves rel against the base directory and returns its entries. The
// resolved path must stay inside the base; anything else (including "..")
// yields ErrOutsideBase. A per-entry stat failure downgrades that entry to
// type "unknown" without failing the listing.
func (b *Browser) List(rel string) (string, []Entry, error) {
	resolved, err := b.resolve(rel)
	if err != nil {
		return "", nil, err
	}

	dirents, err := os.ReadDir(resolved)
	if err != nil {
		return "", nil, err
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		e := Entry{Name: d.Name(), Type: "unknown"}
		if info, err := d.Info(); err == nil {
			if info.IsDir() {
				e.Type = "directory"
			} else {
				e.Type = "file"
			}
			e.Size = info.Size()
			e.Modified = info.ModTime().UTC().Format(time.RFC3339)
		}
		entries = append(entries, e)
	}

	shown := filepath.ToSlash(strings.TrimPrefix(strings.TrimPrefix(resolved, b.base), string(filepath.Separator)))
	return shown, entries, nil
}

// resolve joins rel onto the base and enforces containment.
func (b *Browser) resolve(rel string) (string, error) {
	joined := filepath.Join(b.base, filepath.FromSlash(rel))
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", rel, err)
	}
	if abs != b.base && !strings.HasPrefix(abs, b.base+string(filepath.Separator)) {
		return "", ErrOutsideBase
	}
	return abs, nil
}
