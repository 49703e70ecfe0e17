package gateway

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// checkOrigin applies the allow-list. An empty list accepts any origin.
func checkOrigin(r *http.Request, allowed []string) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || len(allowed) == 0 {
		return nil
	}
	originHost := hostOnly(origin)
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" || a == origin {
			return nil
		}
		if originHost != "" && originHost == hostOnly(a) {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func hostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// originPatterns derives the host patterns websocket.Accept checks against,
// so its own origin verification agrees with checkOrigin. Accept matches
// against host:port, hence the port wildcard.
func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if h := hostOnly(a); h != "" {
			seen[h] = struct{}{}
			if h != "*" {
				seen[h+":*"] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}
