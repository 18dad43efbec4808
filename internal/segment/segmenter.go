package segment

import (
	"regexp"
	"strings"
	"unicode"
)

// DefaultMaxChunkBytes bounds packed chunks when the synthesis backend
// does not advertise a recommended size.
const DefaultMaxChunkBytes = 500

// Config controls segmentation behavior.
type Config struct {
	DefaultSpeaker string
	Speakers       []string
	MinChunkLen    int // units shorter than this (in runes) are merged with a neighbor
}

// Chunk is one ordered unit of text destined for a single synthesis call.
type Chunk struct {
	Index   int
	Text    string
	Speaker string
}

var tagPattern = regexp.MustCompile(`^\{([^{}]+)\}:\s*`)

type unit struct {
	text   string
	tagged bool
}

// Segment converts raw text into an ordered chunk sequence, one chunk per
// sentence (subject to small-unit merging), each annotated with the speaker
// in effect at its position. Pure and deterministic; empty input yields nil.
func Segment(text string, cfg Config) []Chunk {
	known := speakerSet(cfg)
	minLen := cfg.MinChunkLen

	units := splitUnits(text, known)
	units = mergeSmall(units, minLen)

	current := cfg.DefaultSpeaker
	chunks := make([]Chunk, 0, len(units))
	for _, u := range units {
		speaker := current
		body := u.text
		if u.tagged {
			name, rest, ok := splitTag(u.text, known)
			if ok {
				speaker = name
				current = name
				body = rest
			}
		}
		body = strings.TrimSpace(body)
		if body == "" {
			continue
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: body, Speaker: speaker})
	}
	if len(chunks) == 0 {
		return nil
	}
	return chunks
}

// Pack converts raw text into size-bounded chunks for batch synthesis:
// sentences are greedily packed while the accumulated byte length stays under
// maxBytes. An oversize sentence is split at word boundaries, an oversize
// word at a byte budget. Speaker tags are left embedded in the text.
func Pack(text string, maxBytes int, cfg Config) []Chunk {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxChunkBytes
	}
	known := speakerSet(cfg)

	var pieces []string
	for _, u := range splitUnits(text, known) {
		if len(u.text) > maxBytes && !u.tagged {
			pieces = append(pieces, splitOversize(u.text, maxBytes)...)
			continue
		}
		pieces = append(pieces, u.text)
	}

	var packed []string
	var cur strings.Builder
	for _, p := range pieces {
		switch {
		case cur.Len() == 0:
			cur.WriteString(p)
		case cur.Len()+1+len(p) <= maxBytes:
			cur.WriteByte(' ')
			cur.WriteString(p)
		default:
			packed = append(packed, cur.String())
			cur.Reset()
			cur.WriteString(p)
		}
	}
	if cur.Len() > 0 {
		packed = append(packed, cur.String())
	}

	chunks := make([]Chunk, 0, len(packed))
	for _, p := range packed {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: p, Speaker: cfg.DefaultSpeaker})
	}
	if len(chunks) == 0 {
		return nil
	}
	return chunks
}

func speakerSet(cfg Config) map[string]bool {
	known := make(map[string]bool, len(cfg.Speakers)+1)
	for _, s := range cfg.Speakers {
		known[s] = true
	}
	if cfg.DefaultSpeaker != "" {
		known[cfg.DefaultSpeaker] = true
	}
	return known
}

func splitTag(line string, known map[string]bool) (name, rest string, ok bool) {
	m := tagPattern.FindStringSubmatch(line)
	if m == nil || !known[m[1]] {
		return "", line, false
	}
	return m[1], line[len(m[0]):], true
}

func isTagged(line string, known map[string]bool) bool {
	_, _, ok := splitTag(line, known)
	return ok
}

// splitUnits runs the line-join and sentence-split passes and collapses
// residual whitespace within each unit.
func splitUnits(text string, known map[string]bool) []unit {
	var units []unit
	for _, line := range joinWrappedLines(text, known) {
		if isTagged(line, known) {
			// tagged dialogue lines stay intact, never sentence-split
			units = append(units, unit{text: collapse(line), tagged: true})
			continue
		}
		for _, s := range splitSentences(line) {
			s = collapse(s)
			if s != "" {
				units = append(units, unit{text: s})
			}
		}
	}
	return units
}

// joinWrappedLines repairs text that was manually wrapped at a fixed column:
// a line is joined with the previous one unless it is empty, begins with a
// recognized speaker tag, or the previous line already ended a sentence.
func joinWrappedLines(text string, known map[string]bool) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var lines []string
	prevEmpty := true
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			prevEmpty = true
			continue
		}
		if prevEmpty || isTagged(line, known) || len(lines) == 0 || endsSentence(lines[len(lines)-1]) {
			lines = append(lines, line)
		} else {
			lines[len(lines)-1] += " " + line
		}
		prevEmpty = false
	}
	return lines
}

// endsSentence reports whether a line ends in terminal punctuation,
// optionally followed by closing quotes or brackets.
func endsSentence(line string) bool {
	runes := []rune(line)
	i := len(runes) - 1
	for i >= 0 && isCloser(runes[i]) {
		i--
	}
	return i >= 0 && isTerminal(runes[i])
}

// splitSentences scans a line left to right, tracking bracket nesting depth
// and double-quote state. Terminal punctuation ends a sentence only at depth
// zero outside quotes; runs of terminal punctuation are consumed as one
// boundary and the whitespace after it is dropped.
func splitSentences(line string) []string {
	runes := []rune(line)
	var out []string
	depth := 0
	inQuote := false
	start := 0

	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; {
		case r == '(' || r == '[' || r == '{':
			depth++
		case r == ')' || r == ']' || r == '}':
			if depth > 0 {
				depth--
			}
		case r == '"':
			inQuote = !inQuote
		case isTerminal(r):
			if depth != 0 || inQuote {
				break
			}
			for i+1 < len(runes) && isTerminal(runes[i+1]) {
				i++
			}
			out = append(out, string(runes[start:i+1]))
			for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				i++
			}
			start = i + 1
		}
	}
	if start < len(runes) {
		if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
			out = append(out, tail)
		}
	}
	return out
}

// mergeSmall concatenates units under the minimum length with their
// neighbors. Tagged units never merge in either direction. A short trailing
// unit is repeatedly merged backward while merging remains legal.
func mergeSmall(units []unit, minLen int) []unit {
	if minLen <= 0 {
		return units
	}

	var merged []unit
	for i := 0; i < len(units); i++ {
		u := units[i]
		if !u.tagged {
			for len([]rune(u.text)) < minLen && i+1 < len(units) && !units[i+1].tagged {
				i++
				u.text += " " + units[i].text
			}
		}
		merged = append(merged, u)
	}

	for len(merged) >= 2 {
		last := merged[len(merged)-1]
		prev := merged[len(merged)-2]
		if last.tagged || prev.tagged || len([]rune(last.text)) >= minLen {
			break
		}
		merged = merged[:len(merged)-1]
		merged[len(merged)-1].text = prev.text + " " + last.text
	}
	return merged
}

// splitOversize breaks a sentence exceeding the byte budget at word
// boundaries; a single word exceeding the budget is cut at rune boundaries.
func splitOversize(s string, maxBytes int) []string {
	var out []string
	var cur strings.Builder
	for _, w := range strings.Fields(s) {
		if len(w) > maxBytes {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			out = append(out, splitWord(w, maxBytes)...)
			continue
		}
		if cur.Len() > 0 && cur.Len()+1+len(w) > maxBytes {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func splitWord(w string, maxBytes int) []string {
	var out []string
	var cur strings.Builder
	for _, r := range w {
		if cur.Len()+len(string(r)) > maxBytes && cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '”', '’':
		return true
	}
	return false
}
