// Package autodetect finds label-like text that names a category field and
// proposes tokens for it.
package autodetect

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/wallcrawler78/arenadocs/internal/arena"
	"github.com/wallcrawler78/arenadocs/internal/token"
)

// Scoring constants.
const (
	Threshold = 0.75

	scoreExactColon = 1.00
	scoreExactWord  = 0.95
	scoreUnderscore = 0.90
	scoreAbbrev     = 0.85
	scoreSynonym    = 0.75

	bonusBlank    = 0.05
	bonusTable    = 0.05
	bonusColon    = 0.03
	penaltyToken  = 0.15
	tokenDistance = 50
	tableWindow   = 50
)

// Kind names the pattern family that produced a suggestion.
type Kind string

const (
	KindExactColon   Kind = "exact-colon"
	KindExactWord    Kind = "exact-word"
	KindUnderscore   Kind = "underscore"
	KindAbbreviation Kind = "abbreviation"
	KindSynonym      Kind = "synonym"
)

// Suggestion proposes a token for one field after one match.
type Suggestion struct {
	Field       arena.Field `json:"field"`
	Kind        Kind        `json:"kind"`
	MatchedText string      `json:"matchedText"`
	Start       int         `json:"start"`
	End         int         `json:"end"`
	// InsertAt is where the token goes: after the match, a trailing colon
	// and any spaces.
	InsertAt   int     `json:"insertAt"`
	Confidence float64 `json:"confidence"`
}

type pattern struct {
	re    *regexp.Regexp
	kind  Kind
	score float64
}

func compile(literal string, colon bool, kind Kind, score float64) pattern {
	expr := `(?i)` + regexp.QuoteMeta(literal)
	if colon {
		expr += `[ \t]*:`
	}
	return pattern{re: regexp.MustCompile(expr), kind: kind, score: score}
}

// patterns returns the candidate patterns for a field in decreasing base score.
func patterns(name string) []pattern {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	ps := []pattern{
		compile(name, true, KindExactColon, scoreExactColon),
		compile(name, false, KindExactWord, scoreExactWord),
	}
	if u := strings.Join(strings.Fields(name), "_"); u != name {
		ps = append(ps, compile(u, true, KindUnderscore, scoreUnderscore))
	}
	for _, v := range variants(abbreviations, name) {
		ps = append(ps, compile(v, false, KindAbbreviation, scoreAbbrev))
	}
	for _, v := range variants(synonyms, name) {
		ps = append(ps, compile(v, false, KindSynonym, scoreSynonym))
	}
	return ps
}

// Scan returns suggestions at or above Threshold, highest confidence first,
// with at most one suggestion per (offset, field).
func Scan(text string, fields []arena.Field) []Suggestion {
	literals := token.Pattern.FindAllStringIndex(text, -1)

	var out []Suggestion
	for _, f := range fields {
		for _, p := range patterns(f.Name) {
			for _, m := range p.re.FindAllStringIndex(text, -1) {
				start, end := m[0], m[1]
				if !bounded(text, start, end) || insideAny(literals, start, end) {
					continue
				}
				conf := score(text, start, end, p.score, literals)
				if conf < Threshold {
					continue
				}
				out = append(out, Suggestion{
					Field:       f,
					Kind:        p.kind,
					MatchedText: text[start:end],
					Start:       start,
					End:         end,
					InsertAt:    insertionPoint(text, end),
					Confidence:  conf,
				})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if la, lb := a.End-a.Start, b.End-b.Start; la != lb {
			return la > lb
		}
		return a.Start < b.Start
	})

	type key struct {
		offset int
		field  string
	}
	seen := map[key]bool{}
	deduped := out[:0]
	for _, s := range out {
		k := key{s.Start, s.Field.Name}
		if seen[k] {
			continue
		}
		seen[k] = true
		deduped = append(deduped, s)
	}
	return deduped
}

func score(text string, start, end int, base float64, literals [][]int) float64 {
	conf := base
	lineStart, lineEnd := lineBounds(text, start, end)

	if strings.Trim(text[end:lineEnd], " \t_") == "" {
		conf += bonusBlank
	}
	lo, hi := max(lineStart, start-tableWindow), min(lineEnd, end+tableWindow)
	if strings.ContainsAny(text[lo:hi], "|\t") {
		conf += bonusTable
	}
	if strings.HasSuffix(text[start:end], ":") {
		conf += bonusColon
	}
	conf = clamp(conf)

	for _, l := range literals {
		if l[1] >= start-tokenDistance && l[0] <= end+tokenDistance {
			conf -= penaltyToken
			break
		}
	}
	return clamp(conf)
}

func clamp(v float64) float64 {
	return min(1, max(0, v))
}

func lineBounds(text string, start, end int) (int, int) {
	ls := strings.LastIndexByte(text[:start], '\n') + 1
	le := len(text)
	if i := strings.IndexByte(text[end:], '\n'); i >= 0 {
		le = end + i
	}
	return ls, le
}

// bounded reports whether [start, end) is not part of a larger word.
func bounded(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) && isWordRune(lastRune(text[start:end])) {
			return false
		}
	}
	return true
}

func lastRune(s string) rune {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func insideAny(spans [][]int, start, end int) bool {
	for _, s := range spans {
		if start < s[1] && end > s[0] {
			return true
		}
	}
	return false
}

func insertionPoint(text string, pos int) int {
	pos = skipBlanks(text, pos)
	if pos < len(text) && text[pos] == ':' {
		pos = skipBlanks(text, pos+1)
	}
	return pos
}

func skipBlanks(text string, pos int) int {
	for pos < len(text) && (text[pos] == ' ' || text[pos] == '\t') {
		pos++
	}
	return pos
}

// Apply inserts a token for each suggestion, from the highest insertion
// offset down so earlier offsets stay valid. Only the first suggestion for a
// given insertion point is used; suggestions arrive highest confidence first.
// Points already followed by a token literal or a tracked token are skipped,
// so applying the same scan twice inserts nothing the second time.
func Apply(ctx context.Context, e *token.Engine, fs *arena.CategoryFieldSet, suggestions []Suggestion) ([]*token.Token, error) {
	cat := arena.Category{GUID: fs.CategoryID, Name: fs.CategoryName}

	taken := map[int]bool{}
	for _, o := range e.FindAll() {
		taken[o.Start] = true
	}
	located, err := e.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range located {
		if l.Present {
			taken[l.Start] = true
		}
	}
	var chosen []Suggestion
	for _, s := range suggestions {
		if taken[s.InsertAt] {
			continue
		}
		taken[s.InsertAt] = true
		chosen = append(chosen, s)
	}
	sort.SliceStable(chosen, func(i, j int) bool { return chosen[i].InsertAt > chosen[j].InsertAt })

	out := make([]*token.Token, 0, len(chosen))
	for _, s := range chosen {
		t, err := e.InsertAt(ctx, s.InsertAt, token.BindingFor(cat, s.Field), token.Provenance{
			Source:      token.SourceAutodetected,
			MatchedText: s.MatchedText,
			Confidence:  s.Confidence,
		})
		if err != nil {
			return out, err
		}
		out = append(out, t)
	}
	return out, nil
}
