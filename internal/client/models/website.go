package models

import "strings"

// NormalizeWebsite lowercases u and strips the scheme, a leading "www."
// and trailing slashes, so that "https://www.Example.com/" and
// "example.com" compare equal.
func NormalizeWebsite(u string) string {
	s := strings.ToLower(strings.TrimSpace(u))
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "www.")
	return strings.TrimRight(s, "/")
}

// Host returns the host part of a normalized website.
func Host(u string) string {
	s := NormalizeWebsite(u)
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, ':'); i >= 0 && !strings.Contains(s[i:], "]") {
		s = s[:i]
	}
	return s
}
