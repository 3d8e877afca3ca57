package browser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// DomainGuard restricts navigation to allowed hosts.
//
// A plain domain such as "example.com" allows the domain and all of its
// subdomains. Patterns containing glob syntax ("*.example.*", "shop-?.io")
// are matched against the host as written, with "*" stopping at dots.
type DomainGuard struct {
	patterns []glob.Glob
	raw      []string
}

// NewDomainGuard compiles the allowed domain patterns. An empty list allows
// every host.
func NewDomainGuard(allowed []string) (*DomainGuard, error) {
	g := &DomainGuard{}
	for _, domain := range allowed {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}

		patterns := []string{domain}
		if !strings.ContainsAny(domain, "*?[{") {
			patterns = append(patterns, "**."+domain)
		}
		for _, p := range patterns {
			compiled, err := glob.Compile(p, '.')
			if err != nil {
				return nil, fmt.Errorf("invalid allowed domain '%s': %w", domain, err)
			}
			g.patterns = append(g.patterns, compiled)
		}
		g.raw = append(g.raw, domain)
	}
	return g, nil
}

// Check returns an error if rawURL points at a host outside the allow list.
func (g *DomainGuard) Check(rawURL string) error {
	if len(g.patterns) == 0 {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	host := strings.ToLower(u.Hostname())
	for _, p := range g.patterns {
		if p.Match(host) {
			return nil
		}
	}
	return fmt.Errorf("domain %s is not in allowed domains list (%s)", host, strings.Join(g.raw, ", "))
}
