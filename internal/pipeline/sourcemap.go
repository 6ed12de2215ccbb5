package pipeline

import (
	"encoding/base64"
	"encoding/json"
	"sort"
	"strings"
)

const base64Digits = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// Mapping ties a generated position to the start of a source line.
// All fields are zero-based.
type Mapping struct {
	GenLine int
	GenCol  int
	Source  int
	SrcLine int
}

// SourceMap is a line-granular revision 3 source map.
type SourceMap struct {
	File     string
	Sources  []string
	Mappings []Mapping
}

// v3 is the JSON shape of a revision 3 source map.
type v3 struct {
	Version  int      `json:"version"`
	File     string   `json:"file,omitempty"`
	Sources  []string `json:"sources"`
	Names    []string `json:"names"`
	Mappings string   `json:"mappings"`
}

// MarshalJSON encodes the map in the revision 3 format.
func (m *SourceMap) MarshalJSON() ([]byte, error) {
	sources := m.Sources
	if sources == nil {
		sources = []string{}
	}
	return json.Marshal(v3{
		Version:  3,
		File:     m.File,
		Sources:  sources,
		Names:    []string{},
		Mappings: m.EncodeMappings(),
	})
}

// EncodeMappings returns the base64 VLQ "mappings" field.
func (m *SourceMap) EncodeMappings() string {
	if len(m.Mappings) == 0 {
		return ""
	}

	var b strings.Builder
	var prevSource, prevSrcLine int
	line := 0
	for i, mp := range m.Mappings {
		first := i == 0 || mp.GenLine != m.Mappings[i-1].GenLine
		for line < mp.GenLine {
			b.WriteByte(';')
			line++
		}
		prevCol := 0
		if !first {
			b.WriteByte(',')
			prevCol = m.Mappings[i-1].GenCol
		}
		writeVLQ(&b, mp.GenCol-prevCol)
		writeVLQ(&b, mp.Source-prevSource)
		writeVLQ(&b, mp.SrcLine-prevSrcLine)
		// Source column is always zero.
		writeVLQ(&b, 0)
		prevSource, prevSrcLine = mp.Source, mp.SrcLine
	}
	return b.String()
}

// Comment returns the trailing sourceMappingURL comment carrying the map
// as a base64 data URL.
func (m *SourceMap) Comment() ([]byte, error) {
	data, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return []byte("\n//# sourceMappingURL=data:application/json;charset=utf-8;base64," +
		base64.StdEncoding.EncodeToString(data) + "\n"), nil
}

// Locate maps a one-based generated line and column back to a source file
// and one-based line and column. A column of zero matches the start of the
// line.
func (m *SourceMap) Locate(line, col int) (file string, srcLine, srcCol int, ok bool) {
	if line <= 0 || len(m.Mappings) == 0 {
		return "", 0, 0, false
	}
	l, c := line-1, col-1
	if c < 0 {
		c = 0
	}

	// Last mapping at or before (l, c).
	i := sort.Search(len(m.Mappings), func(i int) bool {
		mp := m.Mappings[i]
		return mp.GenLine > l || (mp.GenLine == l && mp.GenCol > c)
	}) - 1
	if i < 0 {
		return "", 0, 0, false
	}

	mp := m.Mappings[i]
	srcLine = mp.SrcLine + (l - mp.GenLine) + 1
	if col > 0 {
		srcCol = col
		if mp.GenLine == l {
			srcCol = c - mp.GenCol + 1
		}
	}
	return m.Sources[mp.Source], srcLine, srcCol, true
}

func writeVLQ(b *strings.Builder, v int) {
	u := v << 1
	if v < 0 {
		u = (-v << 1) | 1
	}
	for {
		digit := u & 31
		u >>= 5
		if u > 0 {
			digit |= 32
		}
		b.WriteByte(base64Digits[digit])
		if u == 0 {
			return
		}
	}
}
