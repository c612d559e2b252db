package guard

import (
	"sort"
	"strings"
)

// Classification buckets a route for the access policy.
type Classification int

const (
	Public Classification = iota
	Protected
	GuestOnly
)

func (c Classification) String() string {
	switch c {
	case Protected:
		return "protected"
	case GuestOnly:
		return "guest_only"
	default:
		return "public"
	}
}

// ParseClassification maps a textual classification. Unknown values are public.
func ParseClassification(s string) Classification {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "protected":
		return Protected
	case "guest", "guestonly", "guest_only", "guest-only":
		return GuestOnly
	default:
		return Public
	}
}

// Rule is the classification of a route plus the roles it requires.
type Rule struct {
	Classification Classification
	// Roles lists acceptable roles for a protected route. Empty means any
	// authenticated identity.
	Roles []string
}

// RouteTable classifies paths by prefix.
type RouteTable struct {
	Protected []string
	GuestOnly []string
	Public    []string
	// RoleRules maps a path prefix to the roles it requires. Matching
	// prefixes are protected.
	RoleRules map[string][]string
}

// Classify returns the rule for path. Query strings and fragments are
// ignored. Unmatched paths are public.
func (rt RouteTable) Classify(path string) Rule {
	path = stripQuery(path)

	if prefix, ok := longestMatch(path, roleRulePrefixes(rt.RoleRules)); ok {
		return Rule{Classification: Protected, Roles: append([]string(nil), rt.RoleRules[prefix]...)}
	}
	if matchesAny(path, rt.Protected) {
		return Rule{Classification: Protected}
	}
	if matchesAny(path, rt.GuestOnly) {
		return Rule{Classification: GuestOnly}
	}
	return Rule{Classification: Public}
}

// IsPublic reports whether path is explicitly listed as public.
func (rt RouteTable) IsPublic(path string) bool {
	return matchesAny(stripQuery(path), rt.Public)
}

func stripQuery(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		return path[:i]
	}
	return path
}

// matchPrefix matches whole path segments so "/dashboard" does not claim
// "/dashboards". The root prefix only matches itself.
func matchPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	if path == prefix {
		return true
	}
	if prefix == "/" {
		return false
	}
	if strings.HasSuffix(prefix, "/") {
		return strings.HasPrefix(path, prefix)
	}
	return strings.HasPrefix(path, prefix+"/")
}

func matchesAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if matchPrefix(path, p) {
			return true
		}
	}
	return false
}

func longestMatch(path string, prefixes []string) (string, bool) {
	best, found := "", false
	for _, p := range prefixes {
		if matchPrefix(path, p) && len(p) > len(best) {
			best, found = p, true
		}
	}
	return best, found
}

func roleRulePrefixes(rules map[string][]string) []string {
	out := make([]string, 0, len(rules))
	for k := range rules {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
