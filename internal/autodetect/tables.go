package autodetect

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`[\s_]+`)

// Normalize lowercases s, turns underscores into spaces, collapses runs of
// whitespace and trims the result.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = whitespaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// aliases maps a normalized field name onto the name used for table lookups.
// The standard Number field is the part number.
var aliases = map[string]string{
	"number": "part number",
	"name":   "part name",
}

// abbreviations are matched at 0.85. Keys are normalized field-name substrings.
var abbreviations = map[string][]string{
	"part number":              {"P/N", "PN", "Part #", "Part No.", "Part No"},
	"manufacturer part number": {"MPN", "Mfr P/N", "Mfr. Part #"},
	"manufacturer":             {"Mfr", "Mfg", "MFR"},
	"serial number":            {"S/N", "SN", "Serial #"},
	"drawing number":           {"DWG", "Dwg No", "Drawing #"},
	"revision":                 {"Rev", "Rev."},
	"description":              {"Desc", "Desc."},
	"quantity":                 {"Qty", "Qty."},
	"tolerance":                {"Tol", "Tol."},
	"unit of measure":          {"UOM", "UoM"},
	"lifecycle phase":          {"LC Phase", "Lifecycle"},
	"effectivity date":         {"Eff. Date", "Eff Date"},
	"creation date":            {"Created"},
	"specification":            {"Spec", "Spec."},
}

// synonyms are matched at 0.75.
var synonyms = map[string][]string{
	"part number":      {"Item Number", "Item No", "Item #", "Part ID"},
	"part name":        {"Item Name", "Title"},
	"description":      {"Summary", "Details"},
	"revision":         {"Version"},
	"lifecycle phase":  {"Status", "Release Status"},
	"owner":            {"Responsible", "Engineer"},
	"effectivity date": {"Effective Date", "Release Date"},
	"creation date":    {"Date Created"},
	"manufacturer":     {"Vendor", "Supplier"},
	"quantity":         {"Amount"},
}

// variants returns the table entries whose key occurs in the field name.
func variants(table map[string][]string, fieldName string) []string {
	n := Normalize(fieldName)
	if a, ok := aliases[n]; ok {
		n = a
	}
	var out []string
	seen := map[string]bool{}
	for key, vs := range table {
		if !strings.Contains(n, key) {
			continue
		}
		for _, v := range vs {
			if !seen[v] && !strings.EqualFold(v, fieldName) {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}
