// Package document is the host editing surface the merge engine mutates.
//
// A Document holds plain text plus three side structures that follow the
// text through every edit: style spans, anchors and an optional cursor.
// Anchors are ranges with a stable ULID identity; they are relocated on
// insert/replace so metadata keyed by an anchor id survives edits elsewhere
// in the text. Properties are a document-scoped key/value map that travels
// inside the saved file.
//
// All positions are byte offsets into Text.
package document

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/wallcrawler78/arenadocs/internal/errors"
)

// Style is the visual styling of a span.
type Style struct {
	Background string `json:"background,omitempty"`
	Foreground string `json:"foreground,omitempty"`
	Bold       bool   `json:"bold,omitempty"`
}

// StyleSpan applies a Style to [Start, End).
type StyleSpan struct {
	Start int   `json:"start"`
	End   int   `json:"end"`
	Style Style `json:"style"`
}

// Anchor is a relocating range marker.
type Anchor struct {
	ID    string `json:"id"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Document is a mutable text document. It is safe for concurrent use.
type Document struct {
	mu sync.Mutex

	id         string
	title      string
	text       string
	cursor     int // -1 when there is no insertion point
	styles     []StyleSpan
	anchors    map[string]*Anchor
	properties map[string]string
	createdAt  time.Time
	updatedAt  time.Time
	dirty      bool

	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// New returns a document with a fresh id and no cursor.
func New(title, text string) *Document {
	d := newEmpty()
	d.id = uuid.NewString()
	d.title = title
	d.text = text
	d.createdAt = d.now().UTC()
	d.updatedAt = d.createdAt
	d.dirty = true
	return d
}

func newEmpty() *Document {
	return &Document{
		cursor:     -1,
		anchors:    make(map[string]*Anchor),
		properties: make(map[string]string),
		entropy:    ulid.Monotonic(rand.Reader, 0),
		now:        time.Now,
	}
}

func (d *Document) ID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

func (d *Document) Title() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.title
}

// Text returns the full document text.
func (d *Document) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

// Len returns the text length in bytes.
func (d *Document) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.text)
}

// Dirty reports whether the document changed since it was loaded or saved.
func (d *Document) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty
}

// Cursor returns the insertion point, if any.
func (d *Document) Cursor() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor, d.cursor >= 0
}

// SetCursor places the insertion point.
func (d *Document) SetCursor(pos int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pos < 0 || pos > len(d.text) {
		return outOfRange(pos, pos, len(d.text))
	}
	d.cursor = pos
	return nil
}

// ClearCursor removes the insertion point.
func (d *Document) ClearCursor() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cursor = -1
}

// Slice returns Text[start:end].
func (d *Document) Slice(start, end int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkRange(start, end); err != nil {
		return "", err
	}
	return d.text[start:end], nil
}

// Index returns the byte offset of the first occurrence of substr at or after from, or -1.
func (d *Document) Index(substr string, from int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if from < 0 {
		from = 0
	}
	if from > len(d.text) || substr == "" {
		return -1
	}
	i := strings.Index(d.text[from:], substr)
	if i < 0 {
		return -1
	}
	return from + i
}

// Insert inserts s at pos. Anchors and style spans starting at or after pos
// move right; a span containing pos grows.
func (d *Document) Insert(pos int, s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pos < 0 || pos > len(d.text) {
		return outOfRange(pos, pos, len(d.text))
	}
	d.insertLocked(pos, s)
	return nil
}

func (d *Document) insertLocked(pos int, s string) {
	if s == "" {
		return
	}
	n := len(s)
	d.text = d.text[:pos] + s + d.text[pos:]

	shift := func(start, end int) (int, int) {
		if start >= pos {
			start += n
		}
		if end > pos {
			end += n
		}
		if end < start {
			end = start
		}
		return start, end
	}
	for _, a := range d.anchors {
		a.Start, a.End = shift(a.Start, a.End)
	}
	for i := range d.styles {
		d.styles[i].Start, d.styles[i].End = shift(d.styles[i].Start, d.styles[i].End)
	}
	if d.cursor >= pos {
		d.cursor += n
	}
	d.touch()
}

// Replace replaces Text[start:end] with s.
//
// Positions before the range are unchanged and positions after it shift by
// the length difference. A range boundary that fell inside the replaced text
// snaps to the edge of the replacement, so an anchor that exactly covered the
// replaced text ends up covering the replacement, even an empty one. Other
// anchors and spans whose content is deleted entirely are dropped.
func (d *Document) Replace(start, end int, s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkRange(start, end); err != nil {
		return err
	}
	if start == end {
		d.insertLocked(start, s)
		return nil
	}

	delta := len(s) - (end - start)
	newEnd := start + len(s)
	mapStart := func(p int) int {
		switch {
		case p <= start:
			return p
		case p >= end:
			return p + delta
		default:
			return start
		}
	}
	mapEnd := func(p int) int {
		switch {
		case p <= start:
			return p
		case p >= end:
			return p + delta
		default:
			return newEnd
		}
	}

	d.text = d.text[:start] + s + d.text[end:]

	for id, a := range d.anchors {
		keep := a.Start == a.End || (a.Start == start && a.End == end)
		a.Start, a.End = mapStart(a.Start), mapEnd(a.End)
		if a.Start >= a.End && !keep {
			delete(d.anchors, id)
		}
	}

	kept := d.styles[:0]
	for _, sp := range d.styles {
		sp.Start, sp.End = mapStart(sp.Start), mapEnd(sp.End)
		if sp.Start < sp.End {
			kept = append(kept, sp)
		}
	}
	d.styles = kept

	if d.cursor >= 0 {
		d.cursor = mapEnd(d.cursor)
	}
	d.touch()
	return nil
}

// DeleteRange removes Text[start:end].
func (d *Document) DeleteRange(start, end int) error {
	return d.Replace(start, end, "")
}

// ApplyStyle sets style on exactly [start, end), replacing any styling there.
func (d *Document) ApplyStyle(start, end int, st Style) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkRange(start, end); err != nil {
		return err
	}
	if start == end {
		return nil
	}
	d.clearStyleLocked(start, end)
	d.styles = append(d.styles, StyleSpan{Start: start, End: end, Style: st})
	sort.SliceStable(d.styles, func(i, j int) bool { return d.styles[i].Start < d.styles[j].Start })
	d.touch()
	return nil
}

// ClearStyle removes styling from [start, end), splitting spans that extend past it.
func (d *Document) ClearStyle(start, end int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkRange(start, end); err != nil {
		return err
	}
	if d.clearStyleLocked(start, end) {
		d.touch()
	}
	return nil
}

func (d *Document) clearStyleLocked(start, end int) bool {
	changed := false
	out := make([]StyleSpan, 0, len(d.styles)+1)
	for _, sp := range d.styles {
		if sp.End <= start || sp.Start >= end {
			out = append(out, sp)
			continue
		}
		changed = true
		if sp.Start < start {
			out = append(out, StyleSpan{Start: sp.Start, End: start, Style: sp.Style})
		}
		if sp.End > end {
			out = append(out, StyleSpan{Start: end, End: sp.End, Style: sp.Style})
		}
	}
	d.styles = out
	return changed
}

// StyleAt returns the style covering pos.
func (d *Document) StyleAt(pos int) (Style, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.styles) - 1; i >= 0; i-- {
		sp := d.styles[i]
		if pos >= sp.Start && pos < sp.End {
			return sp.Style, true
		}
	}
	return Style{}, false
}

// Styles returns a copy of the style spans ordered by start.
func (d *Document) Styles() []StyleSpan {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]StyleSpan(nil), d.styles...)
}

// AddAnchor creates an anchor over [start, end) and returns its id.
func (d *Document) AddAnchor(start, end int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkRange(start, end); err != nil {
		return "", err
	}
	id, err := ulid.New(ulid.Timestamp(d.now()), d.entropy)
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("generating anchor id: %w", err))
	}
	a := &Anchor{ID: id.String(), Start: start, End: end}
	d.anchors[a.ID] = a
	d.touch()
	return a.ID, nil
}

// SetAnchor moves anchor id to [start, end), creating it if needed.
func (d *Document) SetAnchor(id string, start, end int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkRange(start, end); err != nil {
		return err
	}
	d.anchors[id] = &Anchor{ID: id, Start: start, End: end}
	d.touch()
	return nil
}

// Anchor returns the current range of an anchor.
func (d *Document) Anchor(id string) (Anchor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.anchors[id]
	if !ok {
		return Anchor{}, false
	}
	return *a, true
}

// RemoveAnchor deletes an anchor; the text it covered is untouched.
func (d *Document) RemoveAnchor(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.anchors[id]; ok {
		delete(d.anchors, id)
		d.touch()
	}
}

// Anchors returns all anchors ordered by start offset.
func (d *Document) Anchors() []Anchor {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Anchor, 0, len(d.anchors))
	for _, a := range d.anchors {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Properties is the document's key/value map. It satisfies store.Backend
// for the document scope, so state written through it is saved with the
// document.
type Properties struct {
	d *Document
}

// Properties returns the document-scope backend.
func (d *Document) Properties() *Properties {
	return &Properties{d: d}
}

func (p *Properties) Get(_ context.Context, key string) (string, bool, error) {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	v, ok := p.d.properties[key]
	return v, ok, nil
}

func (p *Properties) Set(_ context.Context, key, value string) error {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	if cur, ok := p.d.properties[key]; ok && cur == value {
		return nil
	}
	p.d.properties[key] = value
	p.d.touch()
	return nil
}

func (p *Properties) Delete(_ context.Context, key string) error {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	if _, ok := p.d.properties[key]; ok {
		delete(p.d.properties, key)
		p.d.touch()
	}
	return nil
}

// PropertyKeys returns the property keys in sorted order.
func (d *Document) PropertyKeys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.properties))
	for k := range d.properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *Document) checkRange(start, end int) error {
	if start < 0 || end < start || end > len(d.text) {
		return outOfRange(start, end, len(d.text))
	}
	return nil
}

func (d *Document) touch() {
	d.dirty = true
	d.updatedAt = d.now().UTC()
}

func outOfRange(start, end, n int) error {
	return errors.NewInvalidRequest(fmt.Sprintf("range [%d, %d) outside document of length %d", start, end, n))
}
