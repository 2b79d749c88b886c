// Package token implements merge tokens: inline {{ARENA:<category>:<field>}}
// placeholders bound to one PLM field, their document-scoped metadata and the
// engine that inserts, finds, substitutes and re-validates them.
package token

import (
	"regexp"
	"strings"
	"time"

	"github.com/wallcrawler78/arenadocs/internal/arena"
	"github.com/wallcrawler78/arenadocs/internal/document"
)

// Literal syntax.
const (
	Prefix    = "{{ARENA:"
	Separator = ":"
	Suffix    = "}}"
)

// Pattern matches candidate literals in free text. A field part containing the
// separator still matches here and is rejected by ParseTokenText.
var Pattern = regexp.MustCompile(`\{\{ARENA:([^:}]+):([^}]+)\}\}`)

// Style is applied to every inserted token literal.
var Style = document.Style{Background: "#E8F0FE", Foreground: "#1A73E8", Bold: true}

// Source records how a token came to exist.
type Source string

const (
	SourceManual       Source = "manual"
	SourceAIGenerated  Source = "ai-generated"
	SourceAutodetected Source = "autodetected"
)

// Token is the metadata of one placeholder occurrence, keyed by the id of the
// document anchor covering it.
type Token struct {
	ID           string          `json:"id"`
	Text         string          `json:"text"`
	CategoryName string          `json:"categoryName"`
	CategoryID   string          `json:"categoryId"`
	FieldName    string          `json:"fieldName"`
	FieldType    arena.FieldType `json:"fieldType"`
	AttributeID  string          `json:"attributeId,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	Source       Source          `json:"source"`

	// Set for autodetected tokens only.
	MatchedText string  `json:"matchedText,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`

	// LastValue is the value most recently substituted for this token.
	LastValue string `json:"lastValue,omitempty"`
	// Populated is set once a value replaced the literal, which may have
	// been empty.
	Populated bool `json:"populated,omitempty"`
}

// Ref is the identity a literal parses to.
type Ref struct {
	Category string `json:"category"`
	Field    string `json:"field"`
}

// CreateTokenText formats the literal for a category and field.
func CreateTokenText(category, field string) string {
	return Prefix + category + Separator + field + Suffix
}

// ParseTokenText parses a literal. It fails unless text carries the prefix
// and suffix and the interior splits into exactly two non-empty parts.
func ParseTokenText(text string) (Ref, bool) {
	if !strings.HasPrefix(text, Prefix) || !strings.HasSuffix(text, Suffix) {
		return Ref{}, false
	}
	if len(text) < len(Prefix)+len(Suffix) {
		return Ref{}, false
	}
	inner := text[len(Prefix) : len(text)-len(Suffix)]
	parts := strings.Split(inner, Separator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Ref{}, false
	}
	return Ref{Category: parts[0], Field: parts[1]}, true
}

// Binding is what a new token is bound to.
type Binding struct {
	CategoryName string          `json:"categoryName"`
	CategoryID   string          `json:"categoryId"`
	FieldName    string          `json:"fieldName"`
	FieldType    arena.FieldType `json:"fieldType"`
	AttributeID  string          `json:"attributeId,omitempty"`
}

// BindingFor binds a category field.
func BindingFor(cat arena.Category, f arena.Field) Binding {
	return Binding{
		CategoryName: cat.Name,
		CategoryID:   cat.GUID,
		FieldName:    f.Name,
		FieldType:    f.Type,
		AttributeID:  f.AttributeID,
	}
}

// Text returns the literal for the binding.
func (b Binding) Text() string {
	return CreateTokenText(b.CategoryName, b.FieldName)
}

// Provenance describes where an insertion came from.
type Provenance struct {
	Source      Source
	MatchedText string
	Confidence  float64
}
