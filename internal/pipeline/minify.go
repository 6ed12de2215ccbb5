package pipeline

import (
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	minjs "github.com/tdewolff/minify/v2/js"
)

// Media types understood by Minifier.
const (
	MediaJS  = "application/javascript"
	MediaCSS = "text/css"
)

// Minifier compresses a bundle of the given media type.
type Minifier interface {
	Minify(mediatype string, src []byte) ([]byte, error)
}

// BuiltinMinifier minifies JavaScript and CSS in process.
type BuiltinMinifier struct {
	m *minify.M
}

// NewBuiltinMinifier creates a minifier for MediaJS and MediaCSS.
func NewBuiltinMinifier() *BuiltinMinifier {
	m := minify.New()
	m.AddFunc(MediaCSS, css.Minify)
	m.AddFunc(MediaJS, minjs.Minify)
	return &BuiltinMinifier{m: m}
}

// Minify implements Minifier.
func (b *BuiltinMinifier) Minify(mediatype string, src []byte) ([]byte, error) {
	return b.m.Bytes(mediatype, src)
}

// NopMinifier returns its input unchanged.
type NopMinifier struct{}

// Minify implements Minifier.
func (NopMinifier) Minify(_ string, src []byte) ([]byte, error) {
	return src, nil
}

// NewMinifier returns the minifier for a configured kind.
func NewMinifier(kind string) Minifier {
	if kind == "none" {
		return NopMinifier{}
	}
	return NewBuiltinMinifier()
}
