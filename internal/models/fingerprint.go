package models

import (
	"net/url"
	"strings"
)

// Fingerprint returns the stable lowercase-normalised form of a target URL
// used as the grouping key for scan history. Scheme and host are lowercased,
// default ports dropped, and a trailing slash on the path removed so that
// trivially different spellings of the same target share history.
func Fingerprint(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return strings.ToLower(trimmed)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}

	path := u.EscapedPath()
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	} else {
		path = ""
	}

	fp := scheme + "://" + host + strings.ToLower(path)
	if u.RawQuery != "" {
		fp += "?" + u.RawQuery
	}
	return fp
}

// IsOnion reports whether the target's host is a hidden service.
func IsOnion(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err == nil && u.Hostname() != "" {
		return strings.HasSuffix(strings.ToLower(u.Hostname()), ".onion")
	}
	return strings.Contains(strings.ToLower(raw), ".onion")
}
