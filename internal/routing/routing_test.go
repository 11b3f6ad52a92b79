package routing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downsort/downsort/internal/config"
	"github.com/downsort/downsort/internal/routing"
)

func testTable() *routing.Table {
	return routing.NewTable(
		config.ExtensionsConfig{
			Video:    []string{".mp4"},
			Document: []string{".pdf"},
			Image:    []string{".jpg", ".jpeg", ".png", ".webp", ".heic"},
			Audio:    []string{".mp3", ".wav", ".m4a"},
			Archive:  []string{".zip", ".7z", ".rar"},
		},
		config.DestinationsConfig{
			Videos:    "/dest/videos",
			Documents: "/dest/documents",
			Pictures:  "/dest/pictures",
			Music:     "/dest/music",
			Archives:  "/dest/archives",
		},
		[]string{".crdownload", ".part", ".tmp"},
	)
}

func TestRoute(t *testing.T) {
	table := testTable()

	tests := []struct {
		ext      string
		category routing.Category
		dir      string
	}{
		{".mp4", routing.CategoryVideo, "/dest/videos"},
		{".pdf", routing.CategoryDocument, "/dest/documents"},
		{".jpg", routing.CategoryImage, "/dest/pictures"},
		{".heic", routing.CategoryImage, "/dest/pictures"},
		{".mp3", routing.CategoryAudio, "/dest/music"},
		{".7z", routing.CategoryArchive, "/dest/archives"},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			route, ok := table.Route(tt.ext)
			require.True(t, ok)
			assert.Equal(t, tt.category, route.Category)
			assert.Equal(t, tt.dir, route.Dir)
		})
	}

	t.Run("unmanaged extensions have no route", func(t *testing.T) {
		for _, ext := range []string{".exe", ".iso", ".txt", ""} {
			_, ok := table.Route(ext)
			assert.False(t, ok, "extension %q should be unmanaged", ext)
		}
	})

	t.Run("lookup is case-insensitive", func(t *testing.T) {
		route, ok := table.Route(".PDF")
		require.True(t, ok)
		assert.Equal(t, routing.CategoryDocument, route.Category)
	})
}

func TestIsTemp(t *testing.T) {
	table := testTable()

	assert.True(t, table.IsTemp(".crdownload"))
	assert.True(t, table.IsTemp(".part"))
	assert.True(t, table.IsTemp(".TMP"))
	assert.False(t, table.IsTemp(".pdf"))
	assert.False(t, table.IsTemp(""))
}

func TestDestinations(t *testing.T) {
	dirs := testTable().Destinations()
	assert.ElementsMatch(t, []string{
		"/dest/videos",
		"/dest/documents",
		"/dest/pictures",
		"/dest/music",
		"/dest/archives",
	}, dirs)
}

func TestExt(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/downloads/report.pdf", ".pdf"},
		{"/downloads/Report.PDF", ".pdf"},
		{"/downloads/archive.tar.gz", ".gz"},
		{"/downloads/movie.mp4.crdownload", ".crdownload"},
		{"/downloads/noext", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, routing.Ext(tt.path), "path %q", tt.path)
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "report.pdf", routing.Key("/downloads/Report.PDF"))
	assert.Equal(t, "movie.mp4", routing.Key("movie.mp4"))
}
