package shopify

import (
	"fmt"
	"regexp"
	"strings"
)

// GID is the decoded form of a global id like "gid://shopify/Product/123".
type GID struct {
	Type string
	ID   string
}

var (
	gidExact = regexp.MustCompile(`^gid://[A-Za-z0-9.-]+/([A-Za-z][A-Za-z0-9]*)/([0-9]+)$`)
	gidScan  = regexp.MustCompile(`gid://[A-Za-z0-9.-]+/[A-Za-z][A-Za-z0-9]*/[0-9]+`)
)

// typeAliases maps wire-level type names to the mapping store's resource-type
// vocabulary. Types not listed here pass through lower-cased.
var typeAliases = map[string]string{
	"Product":              "product",
	"ProductVariant":       "variant",
	"Collection":           "collection",
	"Metaobject":           "metaobject",
	"MetaobjectDefinition": "metaobject_definition",
	"MetafieldDefinition":  "metafield_definition",
	"Page":                 "page",
	"OnlineStorePage":      "page",
	"GenericFile":          "file",
	"MediaImage":           "file",
	"Video":                "file",
	"Location":             "location",
	"Market":               "market",
	"Menu":                 "menu",
	"Company":              "company",
	"CompanyLocation":      "company_location",
	"Customer":             "customer",
	"Order":                "order",
}

// ParseGID decodes a global id into its type and numeric id. It returns
// false for anything that does not match the gid pattern exactly and never
// panics on arbitrary input.
func ParseGID(s string) (GID, bool) {
	m := gidExact.FindStringSubmatch(s)
	if m == nil {
		return GID{}, false
	}
	return GID{Type: m[1], ID: m[2]}, true
}

// ExtractID returns the numeric id portion of a gid, or "" if malformed.
func ExtractID(s string) string {
	g, ok := ParseGID(s)
	if !ok {
		return ""
	}
	return g.ID
}

// ExtractType returns the wire-level type portion of a gid, or "" if malformed.
func ExtractType(s string) string {
	g, ok := ParseGID(s)
	if !ok {
		return ""
	}
	return g.Type
}

// NormalizeType maps a wire-level type name to the internal resource-type
// vocabulary used by the mapping store.
func NormalizeType(raw string) string {
	if alias, ok := typeAliases[raw]; ok {
		return alias
	}
	return strings.ToLower(raw)
}

// BuildGID assembles a gid from a wire-level type name and a numeric id.
func BuildGID(typ, id string) string {
	return fmt.Sprintf("gid://shopify/%s/%s", typ, id)
}

// ContainsGID reports whether the string holds at least one gid. The scan is
// stateless, so repeated calls on the same input always agree.
func ContainsGID(s string) bool {
	return gidScan.MatchString(s)
}

// FindGIDs returns every gid occurrence in order, duplicates preserved.
func FindGIDs(s string) []string {
	return gidScan.FindAllString(s, -1)
}

// ReplaceGIDs rewrites each gid occurrence with the value repl returns.
// Matching is per complete gid, so ids that prefix longer ids are safe.
func ReplaceGIDs(s string, repl func(gid string) string) string {
	return gidScan.ReplaceAllStringFunc(s, repl)
}
