// Package chunk splits long provider responses into transport-sized
// fragments.
//
// Splitting works line by line so code fences and headings stay intact
// wherever possible. A line that cannot fit into one fragment is cut at
// sentence boundaries, falling back to fixed-size slices. Concatenating the
// fragments in order always reproduces the input exactly; part markers are
// added separately by Annotate.
package chunk

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultReserve is kept free in every fragment for the part marker.
	DefaultReserve = 50
	// DefaultSubReserve bounds slices of a single over-long line.
	DefaultSubReserve = 100
)

// Options control fragment sizes. All lengths count runes.
type Options struct {
	MaxLength  int
	Reserve    int
	SubReserve int
}

// DefaultOptions returns the standard reserves for maxLength.
func DefaultOptions(maxLength int) Options {
	return Options{MaxLength: maxLength, Reserve: DefaultReserve, SubReserve: DefaultSubReserve}
}

// limits returns the line-accumulation budget and the slice size used for
// over-long lines. Reserves that do not fit are dropped so both stay within
// [1, MaxLength].
func (o Options) limits() (budget, slice int) {
	budget = o.MaxLength - o.Reserve
	if budget < 1 || budget > o.MaxLength {
		budget = o.MaxLength
	}
	slice = o.MaxLength - o.SubReserve
	if slice < 1 || slice > budget {
		slice = budget
	}
	return budget, slice
}

// Part is one fragment of a split response.
type Part struct {
	Text string
	// Index is the 1-based logical chunk number.
	Index int
	// Sub is the 1-based slice number inside a chunk made from one
	// over-long line, or 0.
	Sub int
	// Total is the number of logical chunks.
	Total int
	// InCode reports whether the fragment starts inside a fenced code
	// block; FenceLang is that block's language tag.
	InCode    bool
	FenceLang string
}

// Split returns the fragment texts of text using the default reserves.
func Split(text string, maxLength int) []string {
	parts := Plan(text, DefaultOptions(maxLength))
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p.Text
	}
	return out
}

// Plan splits text into parts. Text that already fits, or a non-positive
// MaxLength, yields a single part.
func Plan(text string, opts Options) []Part {
	if opts.MaxLength <= 0 || utf8.RuneCountInString(text) <= opts.MaxLength {
		return []Part{{Text: text, Index: 1, Total: 1}}
	}
	budget, slice := opts.limits()

	var (
		groups [][]string
		buf    strings.Builder
		bufLen int
	)
	flush := func() {
		if bufLen == 0 {
			return
		}
		groups = append(groups, []string{buf.String()})
		buf.Reset()
		bufLen = 0
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		n := utf8.RuneCountInString(line)
		if n > budget {
			flush()
			groups = append(groups, sliceLine(line, slice))
			continue
		}
		if bufLen+n > budget {
			flush()
		}
		buf.WriteString(line)
		bufLen += n
	}
	flush()

	parts := make([]Part, 0, len(groups))
	inCode, lang := false, ""
	for i, g := range groups {
		for j, frag := range g {
			p := Part{Text: frag, Index: i + 1, Total: len(groups), InCode: inCode, FenceLang: lang}
			if len(g) > 1 {
				p.Sub = j + 1
			}
			parts = append(parts, p)
			inCode, lang = advanceFence(frag, inCode, lang)
		}
	}
	return parts
}

var sentenceEnd = regexp.MustCompile(`[.!?]+\s+`)

// sliceLine cuts one over-long line into pieces of at most size runes,
// packing whole sentences where they fit.
func sliceLine(line string, size int) []string {
	var (
		out    []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen == 0 {
			return
		}
		out = append(out, cur.String())
		cur.Reset()
		curLen = 0
	}
	for _, s := range sentences(line) {
		n := utf8.RuneCountInString(s)
		if n > size {
			flush()
			pieces := hardSlice(s, size)
			out = append(out, pieces[:len(pieces)-1]...)
			last := pieces[len(pieces)-1]
			cur.WriteString(last)
			curLen = utf8.RuneCountInString(last)
			continue
		}
		if curLen+n > size {
			flush()
		}
		cur.WriteString(s)
		curLen += n
	}
	flush()
	return out
}

func sentences(line string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(line, -1) {
		out = append(out, line[start:loc[1]])
		start = loc[1]
	}
	if start < len(line) {
		out = append(out, line[start:])
	}
	return out
}

// hardSlice cuts s into pieces of size runes. It walks byte offsets so
// invalid UTF-8 is carried through unchanged, each bad byte counting as one
// rune.
func hardSlice(s string, size int) []string {
	out := make([]string, 0, utf8.RuneCountInString(s)/size+1)
	start, n := 0, 0
	for i := 0; i < len(s); {
		if n == size {
			out = append(out, s[start:i])
			start, n = i, 0
		}
		_, w := utf8.DecodeRuneInString(s[i:])
		i += w
		n++
	}
	return append(out, s[start:])
}

func advanceFence(text string, inCode bool, lang string) (bool, string) {
	for _, l := range strings.Split(text, "\n") {
		t := strings.TrimSpace(l)
		if !strings.HasPrefix(t, "```") {
			continue
		}
		if inCode {
			inCode, lang = false, ""
		} else {
			inCode, lang = true, strings.TrimSpace(strings.TrimPrefix(t, "```"))
		}
	}
	return inCode, lang
}

// Marker is the part label appended to p when a response has more than one
// fragment.
func Marker(p Part) string {
	if p.Sub > 0 {
		return fmt.Sprintf("\n\n📄 Часть %d.%d/%d", p.Index, p.Sub, p.Total)
	}
	return fmt.Sprintf("\n\n📄 Часть %d/%d", p.Index, p.Total)
}

// Annotate returns the fragment texts with part markers appended. A single
// fragment is returned unmarked.
func Annotate(parts []Part) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p.Text
		if len(parts) > 1 {
			out[i] += Marker(p)
		}
	}
	return out
}

var markerSuffix = regexp.MustCompile(`\n\n📄 Часть \d+(?:\.\d+)?/\d+$`)

// StripMarker removes a trailing part marker, if any.
func StripMarker(s string) string {
	return markerSuffix.ReplaceAllString(s, "")
}
