// Package pipeline builds the client-side artifacts: the concatenated
// application bundle, its annotated and minified forms, and the combined
// minified stylesheet.
//
// The JavaScript chain is Concat -> Annotate -> Minify. Each stage stores
// its result in a Session so stages can run as separate tasks of one run;
// a stage whose predecessor failed or has not run returns task.ErrSkipped
// and writes nothing. Outputs are replaced atomically and contain no
// timestamps, so identical inputs produce identical bytes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/dshills/taskforge/internal/logging"
	"github.com/dshills/taskforge/internal/manifest"
	"github.com/dshills/taskforge/internal/task"
)

// Mode selects the build flavour.
type Mode int

const (
	// ModeDev appends an inline source map and skips minification.
	ModeDev Mode = iota
	// ModeProd carries no source map.
	ModeProd
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeProd {
		return "prod"
	}
	return "dev"
}

// Config holds the pipeline settings.
type Config struct {
	// Root is the directory manifest paths and outputs resolve against.
	Root string
	// JS, JSMin and CSS are the output paths.
	JS    string
	JSMin string
	CSS   string
	// Separator is written between concatenated files.
	Separator string
}

// Pipeline produces the artifacts.
type Pipeline struct {
	cfg       Config
	annotator Annotator
	minifier  Minifier
	logger    *logging.Logger
}

// New creates a pipeline. A nil annotator uses SyntaxAnnotator and a nil
// minifier uses BuiltinMinifier.
func New(cfg Config, annotator Annotator, minifier Minifier, logger *logging.Logger) *Pipeline {
	if annotator == nil {
		annotator = SyntaxAnnotator{}
	}
	if minifier == nil {
		minifier = NewBuiltinMinifier()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Pipeline{
		cfg:       cfg,
		annotator: annotator,
		minifier:  minifier,
		logger:    logger.WithComponent("pipeline"),
	}
}

// Concat joins the manifest's JavaScript files in order and writes the
// bundle to the JS output.
func (p *Pipeline) Concat(ctx context.Context, s *Session, m *manifest.AssetManifest, mode Mode) error {
	s.reset(StageConcat)

	bundle, err := p.concat(ctx, m.JS(), filepath.Base(p.cfg.JS))
	if err == nil {
		err = p.write(p.cfg.JS, p.withMap(bundle.Code, bundle, mode))
	}
	s.record(StageConcat, err, func() {
		s.mode = mode
		s.bundle = bundle
	})
	return err
}

// Annotate runs the annotator over the concatenated bundle and replaces the
// JS output. Annotator problems are mapped back to source files.
func (p *Pipeline) Annotate(ctx context.Context, s *Session) error {
	if err := s.require(StageConcat, StageAnnotate); err != nil {
		return err
	}
	s.reset(StageAnnotate)
	bundle, mode := s.Bundle(), s.Mode()

	out, err := p.annotator.Annotate(ctx, bundle.Code)
	if err != nil {
		err = locateProblems(err, bundle.Map)
	} else {
		err = p.write(p.cfg.JS, p.withMap(out, bundle, mode))
	}
	s.record(StageAnnotate, err, func() { s.annotated = out })
	return err
}

// Minify compresses the annotated bundle into the JSMin output.
func (p *Pipeline) Minify(ctx context.Context, s *Session) error {
	if err := s.require(StageAnnotate, StageMinify); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.reset(StageMinify)

	out, err := p.minifier.Minify(MediaJS, s.Annotated())
	if err != nil {
		err = fmt.Errorf("minify %s: %w", p.cfg.JS, err)
	} else {
		err = p.write(p.cfg.JSMin, out)
	}
	s.record(StageMinify, err, func() { s.minified = out })
	return err
}

// CSS combines the manifest's stylesheets and minifies them into the CSS
// output.
func (p *Pipeline) CSS(ctx context.Context, s *Session, m *manifest.AssetManifest) error {
	s.reset(StageCSS)

	var out []byte
	bundle, err := p.concat(ctx, m.CSS(), filepath.Base(p.cfg.CSS))
	if err == nil {
		out, err = p.minifier.Minify(MediaCSS, bundle.Code)
		if err != nil {
			err = fmt.Errorf("minify %s: %w", p.cfg.CSS, err)
		}
	}
	if err == nil {
		err = p.write(p.cfg.CSS, out)
	}
	s.record(StageCSS, err, func() { s.css = out })
	return err
}

// Build runs the whole chain for mode: Concat, Annotate, Minify (prod only)
// and CSS. The stylesheet is built even when the script chain fails.
func (p *Pipeline) Build(ctx context.Context, m *manifest.AssetManifest, mode Mode) (*Session, error) {
	s := NewSession()

	jsErr := p.Concat(ctx, s, m, mode)
	if jsErr == nil {
		jsErr = p.Annotate(ctx, s)
	}
	if jsErr == nil && mode == ModeProd {
		jsErr = p.Minify(ctx, s)
	}
	cssErr := p.CSS(ctx, s, m)

	return s, errors.Join(jsErr, cssErr)
}

func (p *Pipeline) concat(ctx context.Context, names []string, file string) (*Bundle, error) {
	files := make([]SourceFile, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p.resolve(name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		files = append(files, SourceFile{Name: name, Data: data})
	}
	return Concat(file, files, []byte(p.cfg.Separator)), nil
}

func (p *Pipeline) withMap(code []byte, bundle *Bundle, mode Mode) []byte {
	if mode != ModeDev {
		return code
	}
	comment, err := bundle.Map.Comment()
	if err != nil {
		p.logger.Warn("source map: %v", err)
		return code
	}
	out := make([]byte, 0, len(code)+len(comment))
	return append(append(out, code...), comment...)
}

// write replaces path atomically.
func (p *Pipeline) write(path string, data []byte) error {
	path = p.resolve(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	p.logger.Info("File %s created (%d bytes)", path, len(data))
	return nil
}

func (p *Pipeline) resolve(path string) string {
	if filepath.IsAbs(path) || p.cfg.Root == "" {
		return path
	}
	return filepath.Join(p.cfg.Root, path)
}

// locateProblems rewrites bundle positions in a *task.Failure to source
// file positions.
func locateProblems(err error, sm *SourceMap) error {
	var f *task.Failure
	if !errors.As(err, &f) {
		return err
	}
	problems := make([]task.Problem, len(f.Problems))
	for i, pr := range f.Problems {
		if pr.File == "" && pr.Line > 0 {
			if file, line, col, ok := sm.Locate(pr.Line, pr.Column); ok {
				pr.File, pr.Line, pr.Column = file, line, col
			}
		}
		problems[i] = pr
	}
	return &task.Failure{Task: f.Task, Err: f.Err, Problems: problems}
}
