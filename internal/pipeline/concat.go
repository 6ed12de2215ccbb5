package pipeline

import (
	"bytes"
	"unicode/utf16"
	"unicode/utf8"
)

// SourceFile is one input of a concatenation.
type SourceFile struct {
	Name string
	Data []byte
}

// Bundle is the result of concatenating source files.
type Bundle struct {
	// Code is the concatenated bytes.
	Code []byte
	// Map ties every generated line back to its source file.
	Map *SourceMap
}

// Concat joins files in order with sep between them. The output is exactly
// the inputs and separators, byte for byte; nothing is added or trimmed.
func Concat(file string, files []SourceFile, sep []byte) *Bundle {
	size := len(sep) * max(len(files)-1, 0)
	for _, f := range files {
		size += len(f.Data)
	}

	c := &concatenator{
		sm: &SourceMap{File: file, Sources: make([]string, 0, len(files))},
	}
	c.buf.Grow(size)

	for i, f := range files {
		if i > 0 {
			c.write(sep, -1)
		}
		c.sm.Sources = append(c.sm.Sources, f.Name)
		c.write(f.Data, i)
	}

	return &Bundle{Code: c.buf.Bytes(), Map: c.sm}
}

type concatenator struct {
	buf       bytes.Buffer
	sm        *SourceMap
	line, col int
}

// write appends data, recording a mapping at the start of every line of
// source (source < 0 writes unmapped text).
func (c *concatenator) write(data []byte, source int) {
	srcLine := 0
	for len(data) > 0 {
		if source >= 0 {
			c.sm.Mappings = append(c.sm.Mappings, Mapping{
				GenLine: c.line,
				GenCol:  c.col,
				Source:  source,
				SrcLine: srcLine,
			})
		}

		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			c.buf.Write(data)
			c.col += utf16Len(data)
			return
		}
		c.buf.Write(data[:idx+1])
		c.line++
		c.col = 0
		srcLine++
		data = data[idx+1:]
	}
}

// utf16Len returns the length of b in UTF-16 code units, the unit source
// map columns are measured in.
func utf16Len(b []byte) int {
	n := 0
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		b = b[size:]
		if utf16.RuneLen(r) == 2 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
