// Package urlcanon turns URLs into a deterministic canonical form and
// derives the stable fingerprint used to deduplicate requests.
package urlcanon

import (
	"net/url"
	"sort"
	"strings"
)

// Options controls which parts of a URL Canonicalize normalizes away.
// The zero value strips everything (auth, fragment, default port) and
// leaves the query untouched; use DefaultOptions for the crawler's
// usual canonical form.
type Options struct {
	KeepAuth        bool
	KeepFragments   bool
	SortQuery       bool
	KeepDefaultPort bool
}

// DefaultOptions is the canonical form used for admission and display:
// userinfo and fragment stripped, default ports stripped, query sorted.
func DefaultOptions() Options {
	return Options{SortQuery: true}
}

// FingerprintOptions is the canonical form the query part of a
// fingerprint is computed over: auth and fragments never participate in
// identity, and the query is always sorted so that reordered params
// fingerprint identically.
func FingerprintOptions() Options {
	return Options{SortQuery: true}
}

// Canonicalize applies a deterministic normalization to a URL. It never
// mutates sourceURL.
//
// Properties:
//   - Pure: no state, no memory
//   - Deterministic: same input and options always produce the same output
//   - Idempotent: Canonicalize(Canonicalize(u, o), o) == Canonicalize(u, o)
//   - Context-free: does not depend on crawl history
//
// Path is left exactly as-is beyond what url.URL already carries;
// canonicalization here is limited to scheme/host/port/userinfo/query/
// fragment, per the rest of this package's contract.
func Canonicalize(sourceURL url.URL, opts Options) url.URL {
	canonical := sourceURL

	canonical.Scheme = lowerASCII(canonical.Scheme)
	canonical.Host = lowerASCII(canonical.Host)

	if !opts.KeepAuth {
		canonical.User = nil
	}

	if !opts.KeepDefaultPort {
		if host, port := canonical.Hostname(), canonical.Port(); port != "" {
			if (canonical.Scheme == "http" && port == "80") ||
				(canonical.Scheme == "https" && port == "443") {
				canonical.Host = host
			}
		}
	}

	if canonical.RawQuery != "" {
		canonical.RawQuery = canonicalizeQuery(canonical.RawQuery, opts.SortQuery)
	}

	if !opts.KeepFragments {
		canonical.Fragment = ""
		canonical.RawFragment = ""
	}

	return canonical
}

// canonicalizeQuery re-encodes a raw query string, preserving blank
// values (e.g. "a=" or bare "a") and optionally sorting pairs by
// (key, value).
func canonicalizeQuery(raw string, sortQuery bool) string {
	pairs := splitQuery(raw)
	if sortQuery {
		sort.SliceStable(pairs, func(i, j int) bool {
			if pairs[i].key != pairs[j].key {
				return pairs[i].key < pairs[j].key
			}
			return pairs[i].value < pairs[j].value
		})
	}

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}

type queryPair struct {
	key   string
	value string
}

// splitQuery parses a raw query string into ordered key/value pairs,
// preserving blank values instead of dropping them the way
// url.ParseQuery's map-based result would when keys collide.
func splitQuery(raw string) []queryPair {
	if raw == "" {
		return nil
	}

	segments := strings.Split(raw, "&")
	pairs := make([]queryPair, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		key, value, _ := strings.Cut(seg, "=")
		decodedKey, err := url.QueryUnescape(key)
		if err != nil {
			decodedKey = key
		}
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			decodedValue = value
		}
		pairs = append(pairs, queryPair{key: decodedKey, value: decodedValue})
	}
	return pairs
}

// lowerASCII converts ASCII characters to lowercase without allocating
// when the input is already lowercase.
func lowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
