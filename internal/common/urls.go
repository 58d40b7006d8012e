package common

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// NormalizeURL canonicalizes a URL for deduplication: fragment dropped,
// hostname lowercased, optional query stripping. Normalization is
// idempotent.
func NormalizeURL(rawURL string, ignoreQueryParameters bool) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url missing scheme or host: %q", rawURL)
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Host = strings.ToLower(u.Host)
	if ignoreQueryParameters {
		u.RawQuery = ""
	}

	return u.String(), nil
}

// URLPermutations generates the cross product of {www,no-www} x
// {http,https} x {bare,trailing-slash,index.html,index.php} variants of one
// URL, deduplicated by string. For non-http(s) schemes the scheme axis
// collapses to the original scheme. Used for similarity dedup inside a crawl.
func URLPermutations(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return []string{rawURL}
	}

	host := strings.ToLower(u.Host)
	bare := strings.TrimPrefix(host, "www.")
	hosts := []string{bare, "www." + bare}

	schemes := []string{u.Scheme}
	if u.Scheme == "http" || u.Scheme == "https" {
		schemes = []string{"http", "https"}
	}

	base := u.Path
	base = strings.TrimSuffix(base, "/index.html")
	base = strings.TrimSuffix(base, "/index.php")
	base = strings.TrimSuffix(base, "/")
	paths := []string{base, base + "/", base + "/index.html", base + "/index.php"}

	seen := make(map[string]struct{})
	var out []string
	for _, scheme := range schemes {
		for _, h := range hosts {
			for _, p := range paths {
				v := *u
				v.Scheme = scheme
				v.Host = h
				v.Path = p
				s := v.String()
				if _, ok := seen[s]; ok {
					continue
				}
				seen[s] = struct{}{}
				out = append(out, s)
			}
		}
	}
	return out
}

// ExtractBaseDomain returns the registrable domain (eTLD+1) of a URL,
// handling multi-part public suffixes such as co.uk.
func ExtractBaseDomain(rawURL string) (string, error) {
	host := Hostname(rawURL)
	if host == "" {
		return "", fmt.Errorf("no hostname in %q", rawURL)
	}
	base, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", fmt.Errorf("effective tld: %w", err)
	}
	return base, nil
}

// SameDomain reports whether two URLs share a registrable domain.
func SameDomain(a, b string) bool {
	baseA, errA := ExtractBaseDomain(a)
	baseB, errB := ExtractBaseDomain(b)
	if errA != nil || errB != nil {
		return Hostname(a) != "" && Hostname(a) == Hostname(b)
	}
	return baseA == baseB
}

// SameSubdomain reports whether two URLs share an exact hostname, treating
// www as transparent.
func SameSubdomain(a, b string) bool {
	hostA := strings.TrimPrefix(Hostname(a), "www.")
	hostB := strings.TrimPrefix(Hostname(b), "www.")
	return hostA != "" && hostA == hostB
}

// Hostname extracts the lowercased hostname of a URL, empty on parse failure.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// HasSignificantPath reports whether a URL points below the site root.
func HasSignificantPath(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Path != "" && u.Path != "/"
}

// IsSubdomainOf reports whether the URL's host sits below its registrable
// domain (www does not count).
func IsSubdomainOf(rawURL string) bool {
	host := strings.TrimPrefix(Hostname(rawURL), "www.")
	base, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return false
	}
	return host != base
}
