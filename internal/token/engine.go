package token

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wallcrawler78/arenadocs/internal/arena"
	"github.com/wallcrawler78/arenadocs/internal/document"
	"github.com/wallcrawler78/arenadocs/internal/errors"
	"github.com/wallcrawler78/arenadocs/internal/store"
)

// RecordSource fetches PLM records.
type RecordSource interface {
	Item(ctx context.Context, id string) (*arena.Item, error)
}

// Config configures an Engine.
type Config struct {
	Document *document.Document
	// Store must route the document scope to Document.Properties().
	Store   store.Store
	Records RecordSource
	Logger  *zap.Logger
	Now     func() time.Time
}

// Engine mutates one document. The document text is the source of truth for
// literals; the token store is a side index keyed by anchor id, and the two
// may drift apart through user edits.
type Engine struct {
	doc     *document.Document
	tokens  *Store
	records RecordSource
	logger  *zap.Logger
	now     func() time.Time
}

// NewEngine creates an engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		doc:     cfg.Document,
		tokens:  NewStore(cfg.Store, cfg.Logger),
		records: cfg.Records,
		logger:  cfg.Logger.Named("engine"),
		now:     cfg.Now,
	}
}

// Tokens returns the metadata store.
func (e *Engine) Tokens() *Store {
	return e.tokens
}

// Document returns the document being edited.
func (e *Engine) Document() *document.Document {
	return e.doc
}

func validateBinding(b Binding) error {
	for _, part := range []struct{ name, value string }{
		{"category", b.CategoryName},
		{"field", b.FieldName},
	} {
		if strings.TrimSpace(part.value) == "" {
			return errors.NewInvalidRequest(part.name + " name is required")
		}
		if strings.Contains(part.value, Separator) || strings.Contains(part.value, "}") {
			return errors.NewInvalidRequest(fmt.Sprintf("%s name %q cannot contain %q or %q", part.name, part.value, Separator, "}"))
		}
	}
	if b.FieldType == arena.FieldCustom && b.AttributeID == "" {
		return errors.NewInvalidRequest("custom field " + b.FieldName + " has no attribute id")
	}
	return nil
}

// InsertAtCursor inserts a manual token at the insertion point. The cursor
// ends up after the token.
func (e *Engine) InsertAtCursor(ctx context.Context, b Binding) (*Token, error) {
	pos, ok := e.doc.Cursor()
	if !ok {
		return nil, errors.NewNoCursor()
	}
	return e.InsertAt(ctx, pos, b, Provenance{Source: SourceManual})
}

// InsertAt inserts a styled, anchored token literal at pos and stores its
// metadata. A failed metadata write removes the literal again.
func (e *Engine) InsertAt(ctx context.Context, pos int, b Binding, prov Provenance) (*Token, error) {
	if err := validateBinding(b); err != nil {
		return nil, err
	}
	if b.FieldType == "" {
		b.FieldType = arena.FieldStandard
	}
	if prov.Source == "" {
		prov.Source = SourceManual
	}

	text := b.Text()
	end := pos + len(text)
	if err := e.doc.Insert(pos, text); err != nil {
		return nil, err
	}
	id, err := e.anchor(pos, end)
	if err != nil {
		_ = e.doc.DeleteRange(pos, end)
		return nil, err
	}

	t := &Token{
		ID:           id,
		Text:         text,
		CategoryName: b.CategoryName,
		CategoryID:   b.CategoryID,
		FieldName:    b.FieldName,
		FieldType:    b.FieldType,
		AttributeID:  b.AttributeID,
		CreatedAt:    e.now().UTC(),
		Source:       prov.Source,
	}
	if prov.Source == SourceAutodetected {
		t.MatchedText = prov.MatchedText
		t.Confidence = prov.Confidence
	}
	if err := e.tokens.Put(ctx, t); err != nil {
		e.doc.RemoveAnchor(id)
		_ = e.doc.DeleteRange(pos, end)
		return nil, err
	}

	e.logger.Debug("token inserted",
		zap.String("token", text), zap.Int("pos", pos), zap.String("source", string(prov.Source)))
	return t, nil
}

// anchor styles [start, end) and covers it with a new anchor.
func (e *Engine) anchor(start, end int) (string, error) {
	if err := e.doc.ApplyStyle(start, end, Style); err != nil {
		return "", err
	}
	return e.doc.AddAnchor(start, end)
}

// Occurrence is a parsed literal found in text.
type Occurrence struct {
	Ref
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// FindInText returns every well-formed literal in text in order.
func FindInText(text string) []Occurrence {
	var out []Occurrence
	for _, m := range Pattern.FindAllStringIndex(text, -1) {
		lit := text[m[0]:m[1]]
		ref, ok := ParseTokenText(lit)
		if !ok {
			continue
		}
		out = append(out, Occurrence{Ref: ref, Text: lit, Start: m[0], End: m[1]})
	}
	return out
}

// FindAll returns every well-formed literal in the document.
func (e *Engine) FindAll() []Occurrence {
	return FindInText(e.doc.Text())
}

// Substitute replaces every occurrence of the literal text with value and
// returns how many spans were replaced. Each search resumes after the
// replacement, so a value containing the literal is not replaced again.
func (e *Engine) Substitute(text, value string, stripFormatting bool) (int, error) {
	if text == "" {
		return 0, errors.NewInvalidRequest("token text is empty")
	}
	count := 0
	for from := 0; ; {
		i := e.doc.Index(text, from)
		if i < 0 {
			return count, nil
		}
		if err := e.doc.Replace(i, i+len(text), value); err != nil {
			return count, err
		}
		if stripFormatting && value != "" {
			if err := e.doc.ClearStyle(i, i+len(value)); err != nil {
				return count, err
			}
		}
		count++
		from = i + len(value)
	}
}

// Located is a token with its current place in the document.
type Located struct {
	*Token
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Present bool   `json:"present"`
	Current string `json:"current,omitempty"`
}

// locate returns the text the token currently occupies. The anchor is tried
// first; when it is gone the last substituted value is searched for. A
// populated token whose value was empty sits on a zero-width anchor.
func (e *Engine) locate(t *Token) (Located, bool) {
	if a, ok := e.doc.Anchor(t.ID); ok && (a.End > a.Start || t.Populated) {
		cur, err := e.doc.Slice(a.Start, a.End)
		if err == nil {
			return Located{Token: t, Start: a.Start, End: a.End, Present: true, Current: cur}, true
		}
	}
	if t.LastValue != "" {
		if i := e.doc.Index(t.LastValue, 0); i >= 0 {
			return Located{Token: t, Start: i, End: i + len(t.LastValue), Present: true, Current: t.LastValue}, true
		}
	}
	return Located{Token: t, Start: -1, End: -1}, false
}

// List returns all stored tokens with their current positions, ordered by
// position with unlocated tokens last.
func (e *Engine) List(ctx context.Context) ([]Located, error) {
	toks, err := e.tokens.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Located, 0, len(toks))
	for _, t := range toks {
		loc, ok := e.locate(t)
		if !ok {
			e.logger.Debug("token not found in document", zap.String("token_id", t.ID))
		}
		out = append(out, loc)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Present != out[j].Present {
			return out[i].Present
		}
		return out[i].Start < out[j].Start
	})
	return out, nil
}

// PopulateResult summarizes a populate run.
type PopulateResult struct {
	RecordID     string   `json:"recordId"`
	RecordNumber string   `json:"recordNumber"`
	Tokens       int      `json:"tokens"`
	Replaced     int      `json:"replaced"`
	Missing      []string `json:"missing,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

func (e *Engine) fetch(ctx context.Context, recordID string) (*arena.Item, error) {
	if e.records == nil {
		return nil, errors.NewInternal(fmt.Errorf("engine has no record source"))
	}
	if strings.TrimSpace(recordID) == "" {
		return nil, errors.NewInvalidRequest("record id is required")
	}
	return e.records.Item(ctx, recordID)
}

// PopulateFromRecord substitutes every stored token's field value from the
// record, once per distinct literal, and links the document to the record.
func (e *Engine) PopulateFromRecord(ctx context.Context, recordID string) (*PopulateResult, error) {
	item, err := e.fetch(ctx, recordID)
	if err != nil {
		return nil, err
	}
	toks, err := e.tokens.List(ctx)
	if err != nil {
		return nil, err
	}

	res := &PopulateResult{RecordID: recordID, RecordNumber: item.Number, Tokens: len(toks)}
	if len(toks) == 0 {
		res.Warnings = append(res.Warnings, "document has no tokens")
	}

	groups, order := groupByText(toks)
	for _, text := range order {
		group := groups[text]
		first := group[0]
		value, ok := item.ResolveField(first.FieldName, first.FieldType, first.AttributeID)
		if !ok {
			res.Missing = append(res.Missing, text)
			e.logger.Warn("record has no value for token", zap.String("token", text), zap.String("record", item.Number))
			continue
		}
		if first.CategoryID != "" && item.Category.GUID != "" && first.CategoryID != item.Category.GUID {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("%s is bound to category %s but record %s is a %s", text, first.CategoryName, item.Number, item.Category.Name))
		}

		// Only tokens still showing their literal take the new value.
		var present []*Token
		for _, t := range group {
			if loc, ok := e.locate(t); ok && loc.Current == t.Text {
				present = append(present, t)
			}
		}

		n, err := e.Substitute(text, value, true)
		if err != nil {
			return nil, err
		}
		res.Replaced += n
		for _, t := range present {
			t.LastValue = value
			t.Populated = true
			if err := e.tokens.Put(ctx, t); err != nil {
				return nil, err
			}
		}
	}

	if err := e.tokens.SetLinkedRecord(ctx, LinkedRecord{
		RecordID:    recordID,
		Number:      item.Number,
		PopulatedAt: e.now().UTC(),
	}); err != nil {
		return nil, err
	}
	e.logger.Info("document populated",
		zap.String("record", item.Number), zap.Int("replaced", res.Replaced), zap.Int("missing", len(res.Missing)))
	return res, nil
}

func groupByText(toks []*Token) (map[string][]*Token, []string) {
	groups := map[string][]*Token{}
	var order []string
	for _, t := range toks {
		if _, ok := groups[t.Text]; !ok {
			order = append(order, t.Text)
		}
		groups[t.Text] = append(groups[t.Text], t)
	}
	return groups, order
}

// Change is a populated token whose document text no longer matches the record.
type Change struct {
	TokenID  string `json:"tokenId"`
	Token    string `json:"token"`
	Field    string `json:"field"`
	Current  string `json:"current"`
	NewValue string `json:"newValue"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

// ChangeReport is the outcome of DetectChanges.
type ChangeReport struct {
	RecordID     string   `json:"recordId"`
	RecordNumber string   `json:"recordNumber"`
	Changes      []Change `json:"changes"`
	Unchanged    int      `json:"unchanged"`
	Unpopulated  int      `json:"unpopulated"`
	Unlocated    []string `json:"unlocated,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// DetectChanges compares the text each token currently occupies with the
// record's current value. Tokens still showing their literal were never
// populated and are not reported.
func (e *Engine) DetectChanges(ctx context.Context, recordID string) (*ChangeReport, error) {
	item, err := e.fetch(ctx, recordID)
	if err != nil {
		return nil, err
	}
	toks, err := e.tokens.List(ctx)
	if err != nil {
		return nil, err
	}

	rep := &ChangeReport{RecordID: recordID, RecordNumber: item.Number, Changes: []Change{}}
	for _, t := range toks {
		loc, ok := e.locate(t)
		if !ok {
			rep.Unlocated = append(rep.Unlocated, t.ID)
			continue
		}
		if loc.Current == t.Text {
			rep.Unpopulated++
			continue
		}
		fresh, ok := item.ResolveField(t.FieldName, t.FieldType, t.AttributeID)
		if !ok {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("record %s has no field %s", item.Number, t.FieldName))
			continue
		}
		if loc.Current == fresh {
			rep.Unchanged++
			continue
		}
		rep.Changes = append(rep.Changes, Change{
			TokenID:  t.ID,
			Token:    t.Text,
			Field:    t.FieldName,
			Current:  loc.Current,
			NewValue: fresh,
			Start:    loc.Start,
			End:      loc.End,
		})
	}
	return rep, nil
}

// ApplyChanges writes each change's new value into the document, from the
// highest offset down, and returns the number applied. A change whose text
// has moved or been edited since detection is skipped.
func (e *Engine) ApplyChanges(ctx context.Context, changes []Change) (int, error) {
	sorted := append([]Change(nil), changes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })

	applied := 0
	for _, c := range sorted {
		t, ok, err := e.tokens.Get(ctx, c.TokenID)
		if err != nil {
			return applied, err
		}
		if !ok {
			e.logger.Warn("change refers to unknown token", zap.String("token_id", c.TokenID))
			continue
		}
		loc, ok := e.locate(t)
		if !ok || loc.Current != c.Current {
			e.logger.Warn("token text changed since detection, skipping", zap.String("token", c.Token))
			continue
		}
		if err := e.doc.Replace(loc.Start, loc.End, c.NewValue); err != nil {
			return applied, err
		}
		// An insert at a zero-width anchor leaves it before the new text.
		if err := e.doc.SetAnchor(t.ID, loc.Start, loc.Start+len(c.NewValue)); err != nil {
			return applied, err
		}
		if c.NewValue != "" {
			if err := e.doc.ClearStyle(loc.Start, loc.Start+len(c.NewValue)); err != nil {
				return applied, err
			}
		}
		t.LastValue = c.NewValue
		t.Populated = true
		if err := e.tokens.Put(ctx, t); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// UpdateResult summarizes an update run.
type UpdateResult struct {
	*ChangeReport
	Applied int `json:"applied"`
}

// Update re-reads the record (the linked one when recordID is empty) and
// applies every detected change.
func (e *Engine) Update(ctx context.Context, recordID string) (*UpdateResult, error) {
	if recordID == "" {
		lr, err := e.tokens.LinkedRecord(ctx)
		if err != nil {
			return nil, err
		}
		if lr == nil {
			appErr := errors.NewInvalidRequest("document is not linked to a record")
			appErr.Hint = "populate the document from a record first"
			return nil, appErr
		}
		recordID = lr.RecordID
	}

	rep, err := e.DetectChanges(ctx, recordID)
	if err != nil {
		return nil, err
	}
	n, err := e.ApplyChanges(ctx, rep.Changes)
	if err != nil {
		return nil, err
	}
	if err := e.tokens.SetLinkedRecord(ctx, LinkedRecord{
		RecordID:    recordID,
		Number:      rep.RecordNumber,
		PopulatedAt: e.now().UTC(),
	}); err != nil {
		return nil, err
	}
	return &UpdateResult{ChangeReport: rep, Applied: n}, nil
}

// ExtractFromText returns the distinct well-formed literals in text with the
// offset of their first occurrence.
func ExtractFromText(text string) []Occurrence {
	seen := map[string]bool{}
	var out []Occurrence
	for _, o := range FindInText(text) {
		if seen[o.Text] {
			continue
		}
		seen[o.Text] = true
		out = append(out, o)
	}
	return out
}

// InvalidToken is a literal that failed validation.
type InvalidToken struct {
	Token   string   `json:"token"`
	Reasons []string `json:"reasons"`
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Valid    []Ref          `json:"valid"`
	Invalid  []InvalidToken `json:"invalid"`
	Warnings []string       `json:"warnings,omitempty"`
}

// Validate checks literals against the expected category and its allowed
// field names (case-insensitive). With no allowed fields the field check is
// skipped and a warning recorded.
func Validate(texts []string, expectedCategory string, allowedFields []string) ValidationResult {
	res := ValidationResult{Valid: []Ref{}, Invalid: []InvalidToken{}}
	if len(allowedFields) == 0 {
		res.Warnings = append(res.Warnings, "field list unavailable, field names not checked")
	}
	allowed := make(map[string]bool, len(allowedFields))
	for _, f := range allowedFields {
		allowed[strings.ToLower(f)] = true
	}

	seen := map[string]bool{}
	for _, text := range texts {
		if seen[text] {
			res.Warnings = append(res.Warnings, "duplicate token "+text)
			continue
		}
		seen[text] = true

		ref, ok := ParseTokenText(text)
		if !ok {
			res.Invalid = append(res.Invalid, InvalidToken{Token: text, Reasons: []string{"malformed token"}})
			continue
		}
		var reasons []string
		if ref.Category != expectedCategory {
			reasons = append(reasons, fmt.Sprintf("category mismatch: expected %q, got %q", expectedCategory, ref.Category))
		}
		if len(allowed) > 0 && !allowed[strings.ToLower(ref.Field)] {
			reasons = append(reasons, fmt.Sprintf("unknown field %q for category %q", ref.Field, expectedCategory))
		}
		if len(reasons) > 0 {
			res.Invalid = append(res.Invalid, InvalidToken{Token: text, Reasons: reasons})
			continue
		}
		res.Valid = append(res.Valid, ref)
	}
	return res
}

// Delete removes a token's metadata and anchor. The literal stays in the
// document unless removeText is set.
func (e *Engine) Delete(ctx context.Context, id string, removeText bool) (bool, error) {
	if removeText {
		if a, ok := e.doc.Anchor(id); ok && a.End > a.Start {
			if err := e.doc.DeleteRange(a.Start, a.End); err != nil {
				return false, err
			}
		}
	}
	e.doc.RemoveAnchor(id)
	found, err := e.tokens.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if !found {
		return false, errors.NewNotFound("token", id)
	}
	return true, nil
}

// ClearAll removes every token's metadata and anchor plus the record link.
// Literal text is left in place.
func (e *Engine) ClearAll(ctx context.Context) (int, error) {
	toks, err := e.tokens.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range toks {
		e.doc.RemoveAnchor(t.ID)
	}
	n, err := e.tokens.Clear(ctx)
	if err != nil {
		return 0, err
	}
	if err := e.tokens.ClearLinkedRecord(ctx); err != nil {
		return 0, err
	}
	e.logger.Info("tokens cleared", zap.Int("count", n))
	return n, nil
}

// GeneratedResult is the outcome of RegisterGenerated.
type GeneratedResult struct {
	Inserted   int              `json:"inserted"`
	Tokens     []*Token         `json:"tokens"`
	Validation ValidationResult `json:"validation"`
}

// RegisterGenerated inserts generated text at pos and turns every literal in
// it that is valid for the category into a tracked ai-generated token.
// Invalid literals stay as plain text and are reported.
func (e *Engine) RegisterGenerated(ctx context.Context, pos int, text string, fields *arena.CategoryFieldSet) (*GeneratedResult, error) {
	if fields == nil {
		return nil, errors.NewInvalidRequest("category fields are required")
	}
	distinct := ExtractFromText(text)
	texts := make([]string, len(distinct))
	for i, o := range distinct {
		texts[i] = o.Text
	}
	res := &GeneratedResult{
		Validation: Validate(texts, fields.CategoryName, fields.Names()),
		Tokens:     []*Token{},
	}
	valid := map[string]bool{}
	for _, ref := range res.Validation.Valid {
		valid[CreateTokenText(ref.Category, ref.Field)] = true
	}

	if err := e.doc.Insert(pos, text); err != nil {
		return nil, err
	}
	res.Inserted = len(text)

	for _, o := range FindInText(text) {
		if !valid[o.Text] {
			continue
		}
		f, _ := fields.Lookup(o.Field)
		start, end := pos+o.Start, pos+o.End
		id, err := e.anchor(start, end)
		if err != nil {
			return nil, err
		}
		t := &Token{
			ID:           id,
			Text:         o.Text,
			CategoryName: fields.CategoryName,
			CategoryID:   fields.CategoryID,
			FieldName:    o.Field,
			FieldType:    f.Type,
			AttributeID:  f.AttributeID,
			CreatedAt:    e.now().UTC(),
			Source:       SourceAIGenerated,
		}
		if err := e.tokens.Put(ctx, t); err != nil {
			return nil, err
		}
		res.Tokens = append(res.Tokens, t)
	}
	e.logger.Info("generated text registered",
		zap.Int("bytes", res.Inserted), zap.Int("tokens", len(res.Tokens)), zap.Int("invalid", len(res.Validation.Invalid)))
	return res, nil
}
