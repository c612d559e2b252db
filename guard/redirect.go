package guard

import (
	"net/url"
	"strings"
)

// DefaultDenylist holds path prefixes that are never valid redirect targets.
var DefaultDenylist = []string{"/auth/callback", "/api/"}

// ValidateRedirectPath checks that path is a same-origin relative path that
// does not point at a denylisted prefix. A nil denylist uses DefaultDenylist.
func ValidateRedirectPath(path string, denylist []string) error {
	if denylist == nil {
		denylist = DefaultDenylist
	}

	switch {
	case path == "":
		return reject(path, "empty")
	case strings.Contains(path, "://"):
		return reject(path, "absolute url")
	case !strings.HasPrefix(path, "/"):
		return reject(path, "missing leading slash")
	case strings.HasPrefix(path, "//"), strings.Contains(path, `\`):
		return reject(path, "protocol relative url")
	}

	for _, prefix := range denylist {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return reject(path, "denylisted prefix")
		}
	}

	u, err := url.Parse(path)
	if err != nil {
		return reject(path, "unparsable")
	}
	if u.Scheme != "" || u.Host != "" || u.User != nil {
		return reject(path, "not relative")
	}

	return nil
}

// ResolveRedirect returns candidate when it validates, fallback otherwise.
func ResolveRedirect(candidate, fallback string, denylist []string) string {
	if candidate == "" {
		return fallback
	}
	if err := ValidateRedirectPath(candidate, denylist); err != nil {
		return fallback
	}
	return candidate
}

func reject(path, reason string) error {
	return ErrRedirectPathInvalid.Clone().WithMetadata(map[string]any{
		"path":   path,
		"reason": reason,
	})
}
