// Package manifest loads the environment-keyed asset manifest: the ordered
// JavaScript and CSS source lists that feed bundle generation.
//
// The manifest file is YAML (or JSON) keyed by environment, with an "all"
// section supplying defaults:
//
//	all:
//	  js:
//	    - public/config.js
//	    - public/application.js
//	    - public/modules/*/*.js
//	  css:
//	    - public/modules/**/css/*.css
//	production:
//	  css:
//	    - public/dist/vendor.min.css
//
// An environment section replaces the "all" list for each key it sets.
// Patterns are expanded relative to the project root; order is significant
// because it determines concatenation order.
package manifest

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/dshills/taskforge/internal/config"
)

// AllKey is the manifest section shared by every environment.
const AllKey = "all"

// AssetManifest is the resolved, ordered list of asset files for one
// environment. It is never mutated after load.
type AssetManifest struct {
	env string
	js  []string
	css []string
}

// New builds a manifest from already-resolved file lists.
func New(env string, js, css []string) *AssetManifest {
	return &AssetManifest{
		env: env,
		js:  append([]string(nil), js...),
		css: append([]string(nil), css...),
	}
}

// Env returns the environment the manifest was loaded for.
func (m *AssetManifest) Env() string { return m.env }

// JS returns a copy of the JavaScript file list, in order.
func (m *AssetManifest) JS() []string { return append([]string(nil), m.js...) }

// CSS returns a copy of the CSS file list, in order.
func (m *AssetManifest) CSS() []string { return append([]string(nil), m.css...) }

// section is one environment's entry in the manifest file.
type section struct {
	JS  []string `yaml:"js"`
	CSS []string `yaml:"css"`
}

// File is the decoded manifest document.
type File map[string]section

// Patterns returns the effective glob lists for env.
func (f File) Patterns(env string) (js, css []string, ok bool) {
	all, hasAll := f[AllKey]
	own, hasOwn := f[env]
	if !hasAll && !hasOwn {
		return nil, nil, false
	}

	js, css = all.JS, all.CSS
	if own.JS != nil {
		js = own.JS
	}
	if own.CSS != nil {
		css = own.CSS
	}
	return js, css, true
}

// Loader reads and expands the manifest file.
type Loader struct {
	path string
	fsys fs.FS
}

// NewLoader creates a loader for the manifest at path, expanding patterns
// against root.
func NewLoader(root, path string) *Loader {
	return &Loader{path: path, fsys: os.DirFS(root)}
}

// NewLoaderFS creates a loader that expands patterns against fsys.
func NewLoaderFS(fsys fs.FS, path string) *Loader {
	return &Loader{path: path, fsys: fsys}
}

// Load reads the manifest and resolves it for env.
func (l *Loader) Load(env string) (*AssetManifest, error) {
	data, err := l.read()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &config.Error{Path: l.path, Msg: "asset manifest not found", Err: err}
		}
		return nil, &config.Error{Path: l.path, Msg: "asset manifest unreadable", Err: err}
	}

	file, err := Parse(data)
	if err != nil {
		return nil, &config.Error{Path: l.path, Msg: err.Error(), Err: err}
	}

	jsPatterns, cssPatterns, ok := file.Patterns(env)
	if !ok {
		return nil, config.Errorf(l.path, "no %q or %q section", env, AllKey)
	}

	js, err := Expand(l.fsys, jsPatterns)
	if err != nil {
		return nil, &config.Error{Path: l.path, Msg: "js: " + err.Error(), Err: err}
	}
	css, err := Expand(l.fsys, cssPatterns)
	if err != nil {
		return nil, &config.Error{Path: l.path, Msg: "css: " + err.Error(), Err: err}
	}

	return &AssetManifest{env: env, js: js, css: css}, nil
}

func (l *Loader) read() ([]byte, error) {
	if strings.HasPrefix(l.path, "/") {
		return os.ReadFile(l.path)
	}
	return fs.ReadFile(l.fsys, path.Clean(l.path))
}

// Parse decodes a manifest document.
func Parse(data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, nil
		}
		return nil, err
	}
	return f, nil
}

// Expand resolves glob patterns against fsys.
//
// Matches of one pattern are sorted lexically; the result is the union of
// all patterns in order, keeping the first occurrence of each path.
// A pattern prefixed with "!" removes previously matched paths. Remote
// entries (http://, https://, //) are skipped.
func Expand(fsys fs.FS, patterns []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)

	for _, pattern := range patterns {
		if isRemote(pattern) {
			continue
		}

		if strings.HasPrefix(pattern, "!") {
			exclude := strings.TrimPrefix(pattern, "!")
			kept := out[:0]
			for _, p := range out {
				if ok, _ := doublestar.Match(exclude, p); ok {
					delete(seen, p)
					continue
				}
				kept = append(kept, p)
			}
			out = kept
			continue
		}

		matches, err := doublestar.Glob(fsys, path.Clean(pattern), doublestar.WithFilesOnly())
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)

		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}

	return out, nil
}

func isRemote(p string) bool {
	return strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") || strings.HasPrefix(p, "//")
}
