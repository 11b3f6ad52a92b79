// Package routing maps file extensions to category destination directories.
package routing

import (
	"path/filepath"
	"strings"

	"github.com/downsort/downsort/internal/config"
)

// Category identifies a destination category.
type Category string

// Destination categories.
const (
	CategoryVideo    Category = "video"
	CategoryDocument Category = "document"
	CategoryImage    Category = "image"
	CategoryAudio    Category = "audio"
	CategoryArchive  Category = "archive"
)

// Route is the destination for a routed extension.
type Route struct {
	Category Category
	Dir      string
}

// Table is the static extension routing table. It is built once from
// config and never mutated, so lookups need no locking.
type Table struct {
	routes map[string]Route
	temp   map[string]bool
}

// NewTable builds a routing table from the configured extension sets and
// destination directories.
func NewTable(exts config.ExtensionsConfig, dests config.DestinationsConfig, tempExts []string) *Table {
	t := &Table{
		routes: make(map[string]Route),
		temp:   make(map[string]bool, len(tempExts)),
	}

	add := func(exts []string, cat Category, dir string) {
		for _, e := range exts {
			t.routes[strings.ToLower(e)] = Route{Category: cat, Dir: dir}
		}
	}

	add(exts.Video, CategoryVideo, dests.Videos)
	add(exts.Document, CategoryDocument, dests.Documents)
	add(exts.Image, CategoryImage, dests.Pictures)
	add(exts.Audio, CategoryAudio, dests.Music)
	add(exts.Archive, CategoryArchive, dests.Archives)

	for _, e := range tempExts {
		t.temp[strings.ToLower(e)] = true
	}

	return t
}

// Route returns the destination for an extension, or false if the
// extension is unmanaged. Callers must check IsTemp first; temp
// classification always takes precedence over routing.
func (t *Table) Route(ext string) (Route, bool) {
	r, ok := t.routes[strings.ToLower(ext)]
	return r, ok
}

// IsTemp reports whether the extension is a download temp artifact
// (e.g. .crdownload, .part). Temp artifacts are never routed.
func (t *Table) IsTemp(ext string) bool {
	return t.temp[strings.ToLower(ext)]
}

// Destinations returns the set of destination directories in the table.
func (t *Table) Destinations() []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, r := range t.routes {
		if !seen[r.Dir] {
			seen[r.Dir] = true
			dirs = append(dirs, r.Dir)
		}
	}
	return dirs
}

// Ext returns the lowercase extension of a path, including the leading
// dot, or "" if the name has none.
func Ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// Key returns the marker key for a path: its lowercase base name.
// Matching is case-insensitive because browsers and filesystems disagree
// about filename case.
func Key(path string) string {
	return strings.ToLower(filepath.Base(path))
}
