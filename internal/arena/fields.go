package arena

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FieldType distinguishes the fixed fields every item has from category attributes.
type FieldType string

const (
	FieldStandard FieldType = "standard"
	FieldCustom   FieldType = "custom"
)

// Standard field names. The set is closed and identical for every category.
const (
	FieldNumber          = "Number"
	FieldName            = "Name"
	FieldDescription     = "Description"
	FieldRevision        = "Revision"
	FieldCategory        = "Category"
	FieldLifecyclePhase  = "Lifecycle Phase"
	FieldOwner           = "Owner"
	FieldCreationDate    = "Creation Date"
	FieldEffectivityDate = "Effectivity Date"
)

var standardFields = []string{
	FieldNumber,
	FieldName,
	FieldDescription,
	FieldRevision,
	FieldCategory,
	FieldLifecyclePhase,
	FieldOwner,
	FieldCreationDate,
	FieldEffectivityDate,
}

// StandardFieldNames returns the standard field names in display order.
func StandardFieldNames() []string {
	return append([]string(nil), standardFields...)
}

// IsStandardField reports whether name (case-insensitive) is a standard field.
func IsStandardField(name string) bool {
	for _, f := range standardFields {
		if strings.EqualFold(f, name) {
			return true
		}
	}
	return false
}

// Field is one bindable field of a category.
type Field struct {
	Name         string    `json:"name"`
	Type         FieldType `json:"type"`
	InternalType string    `json:"internalType,omitempty"`
	AttributeID  string    `json:"attributeId,omitempty"`
}

// Category is a PLM item category.
type Category struct {
	GUID string `json:"guid"`
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

// Attribute is a category-specific custom field as returned by the PLM.
type Attribute struct {
	GUID      string `json:"guid"`
	Name      string `json:"name"`
	FieldType string `json:"fieldType,omitempty"`
	APIName   string `json:"apiName,omitempty"`
}

// CategoryFieldSet is the bindable schema of one category.
type CategoryFieldSet struct {
	CategoryID   string  `json:"categoryId"`
	CategoryName string  `json:"categoryName"`
	Fields       []Field `json:"fields"`
}

// NewFieldSet unions the standard fields with a category's custom attributes.
// Attributes without an id, or repeating an id already seen, are skipped.
func NewFieldSet(cat Category, attrs []Attribute) *CategoryFieldSet {
	fs := &CategoryFieldSet{
		CategoryID:   cat.GUID,
		CategoryName: cat.Name,
		Fields:       make([]Field, 0, len(standardFields)+len(attrs)),
	}
	for _, name := range standardFields {
		fs.Fields = append(fs.Fields, Field{Name: name, Type: FieldStandard})
	}
	seen := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		if a.GUID == "" || seen[a.GUID] || strings.TrimSpace(a.Name) == "" {
			continue
		}
		seen[a.GUID] = true
		fs.Fields = append(fs.Fields, Field{
			Name:         a.Name,
			Type:         FieldCustom,
			InternalType: a.FieldType,
			AttributeID:  a.GUID,
		})
	}
	return fs
}

// Lookup finds a field by display name, case-insensitively.
func (fs *CategoryFieldSet) Lookup(name string) (Field, bool) {
	for _, f := range fs.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns the display names of all fields.
func (fs *CategoryFieldSet) Names() []string {
	names := make([]string, len(fs.Fields))
	for i, f := range fs.Fields {
		names[i] = f.Name
	}
	return names
}

// Ref is a guid/name pair embedded in item responses.
type Ref struct {
	GUID string `json:"guid"`
	Name string `json:"name"`
}

// Person is an item owner.
type Person struct {
	GUID     string `json:"guid"`
	FullName string `json:"fullName"`
	Email    string `json:"email,omitempty"`
}

// AttributeValue is one custom attribute value on an item.
type AttributeValue struct {
	GUID  string          `json:"guid"`
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

// Item is a PLM record with its full attribute view.
type Item struct {
	GUID                 string           `json:"guid"`
	Number               string           `json:"number"`
	Name                 string           `json:"name"`
	Description          string           `json:"description"`
	RevisionNumber       string           `json:"revisionNumber"`
	Category             Ref              `json:"category"`
	LifecyclePhase       Ref              `json:"lifecyclePhase"`
	Owner                *Person          `json:"owner,omitempty"`
	CreationDateTime     string           `json:"creationDateTime"`
	EffectiveDateTime    string           `json:"effectiveDateTime"`
	AdditionalAttributes []AttributeValue `json:"additionalAttributes,omitempty"`
}

// ResolveField returns the item's value for a bound field. Custom fields are
// matched by attribute id, falling back to the display name. The second
// result is false when the item has no such field.
func (it *Item) ResolveField(name string, typ FieldType, attributeID string) (string, bool) {
	if typ != FieldCustom && IsStandardField(name) {
		return it.standardValue(name), true
	}
	if attributeID != "" {
		for _, a := range it.AdditionalAttributes {
			if a.GUID == attributeID {
				return formatValue(a.Value), true
			}
		}
	}
	for _, a := range it.AdditionalAttributes {
		if strings.EqualFold(a.Name, name) {
			return formatValue(a.Value), true
		}
	}
	return "", false
}

func (it *Item) standardValue(name string) string {
	switch {
	case strings.EqualFold(name, FieldNumber):
		return it.Number
	case strings.EqualFold(name, FieldName):
		return it.Name
	case strings.EqualFold(name, FieldDescription):
		return it.Description
	case strings.EqualFold(name, FieldRevision):
		return it.RevisionNumber
	case strings.EqualFold(name, FieldCategory):
		return it.Category.Name
	case strings.EqualFold(name, FieldLifecyclePhase):
		return it.LifecyclePhase.Name
	case strings.EqualFold(name, FieldOwner):
		if it.Owner == nil {
			return ""
		}
		return it.Owner.FullName
	case strings.EqualFold(name, FieldCreationDate):
		return datePart(it.CreationDateTime)
	case strings.EqualFold(name, FieldEffectivityDate):
		return datePart(it.EffectiveDateTime)
	}
	return ""
}

// datePart trims an ISO-8601 timestamp to its date.
func datePart(ts string) string {
	if i := strings.IndexByte(ts, 'T'); i > 0 {
		return ts[:i]
	}
	return ts
}

// formatValue renders an attribute value as display text.
func formatValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			b, _ := json.Marshal(e)
			parts = append(parts, formatValue(b))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		for _, k := range []string{"name", "value", "fullName", "number"} {
			if s, ok := t[k]; ok {
				return fmt.Sprint(s)
			}
		}
		return string(raw)
	}
	return string(raw)
}
