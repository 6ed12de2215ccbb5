package manifest

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/taskforge/internal/config"
)

func testFS(manifest string) fstest.MapFS {
	fsys := fstest.MapFS{
		"config/assets.yaml": {Data: []byte(manifest)},
	}
	for _, name := range []string{
		"public/config.js",
		"public/application.js",
		"public/modules/core/core.client.module.js",
		"public/modules/articles/articles.client.module.js",
		"public/modules/core/tests/core.spec.js",
		"public/modules/core/css/core.css",
		"public/modules/articles/css/articles.css",
	} {
		fsys[name] = &fstest.MapFile{Data: []byte(name)}
	}
	return fsys
}

const stockManifest = `
all:
  js:
    - public/config.js
    - public/application.js
    - public/modules/*/*.js
    - public/modules/**/*.js
    - "!public/modules/**/tests/**"
  css:
    - public/modules/**/css/*.css
production:
  css:
    - public/modules/core/css/core.css
test:
  js:
    - https://cdn.example.com/angular.js
    - public/application.js
`

func TestLoad_AllSection(t *testing.T) {
	loader := NewLoaderFS(testFS(stockManifest), "config/assets.yaml")

	m, err := loader.Load("development")
	require.NoError(t, err)

	assert.Equal(t, "development", m.Env())
	assert.Equal(t, []string{
		"public/config.js",
		"public/application.js",
		"public/modules/articles/articles.client.module.js",
		"public/modules/core/core.client.module.js",
	}, m.JS())
	assert.Equal(t, []string{
		"public/modules/articles/css/articles.css",
		"public/modules/core/css/core.css",
	}, m.CSS())
}

func TestLoad_EnvironmentOverridesPerKey(t *testing.T) {
	loader := NewLoaderFS(testFS(stockManifest), "config/assets.yaml")

	m, err := loader.Load("production")
	require.NoError(t, err)

	// js inherited from all, css replaced.
	assert.Len(t, m.JS(), 4)
	assert.Equal(t, []string{"public/modules/core/css/core.css"}, m.CSS())
}

func TestLoad_RemoteEntriesSkipped(t *testing.T) {
	loader := NewLoaderFS(testFS(stockManifest), "config/assets.yaml")

	m, err := loader.Load("test")
	require.NoError(t, err)
	assert.Equal(t, []string{"public/application.js"}, m.JS())
}

func TestLoad_OrderIsSignificant(t *testing.T) {
	fsys := testFS(`
all:
  js: [public/application.js, public/config.js]
`)
	m, err := NewLoaderFS(fsys, "config/assets.yaml").Load("development")
	require.NoError(t, err)
	assert.Equal(t, []string{"public/application.js", "public/config.js"}, m.JS())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
		env  string
	}{
		{"missing file", fstest.MapFS{}, "development"},
		{"invalid yaml", testFS("all: [unclosed"), "development"},
		{"unknown key", testFS("all:\n  scripts: [a.js]\n"), "development"},
		{"no section", testFS("production:\n  js: [a.js]\n"), "development"},
		{"bad pattern", testFS("all:\n  js: ['public/[.js']\n"), "development"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoaderFS(tt.fsys, "config/assets.yaml").Load(tt.env)
			require.Error(t, err)
			assert.True(t, errors.Is(err, config.ErrConfiguration), "got %v", err)
		})
	}
}

func TestManifest_Immutable(t *testing.T) {
	js := []string{"a.js", "b.js"}
	m := New("development", js, nil)
	js[0] = "changed.js"

	got := m.JS()
	got[1] = "changed.js"

	assert.Equal(t, []string{"a.js", "b.js"}, m.JS())
}

func TestExpand_DeduplicatesKeepingFirst(t *testing.T) {
	fsys := testFS("")
	files, err := Expand(fsys, []string{
		"public/application.js",
		"public/*.js",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"public/application.js", "public/config.js"}, files)
}
