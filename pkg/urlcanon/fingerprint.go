package urlcanon

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"
)

// Fingerprint is the stable 20-byte identity of a logical request. Two
// requests with equal fingerprints are considered duplicates by the
// frontier's seen-set.
type Fingerprint [sha1.Size]byte

// String renders the fingerprint as lowercase hex, for use in logs or
// anywhere a textual key is needed. The frontier's seen-set should key
// directly on the Fingerprint array instead, to avoid the allocation.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// ComputeFingerprint hashes method, canonical URL, and body into a
// Fingerprint: SHA-1 over "METHOD:canonical-url:body", chosen for
// dedup stability rather than cryptographic strength.
//
// requestURL is canonicalized with FingerprintOptions before hashing, so
// callers may pass the request's raw target URL.
func ComputeFingerprint(method string, requestURL url.URL, body []byte) Fingerprint {
	canonical := Canonicalize(requestURL, FingerprintOptions())

	h := sha1.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{':'})
	h.Write([]byte(canonical.String()))
	h.Write([]byte{':'})
	h.Write(body)

	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

// LenientHost returns a permissive matching key for a hostname: used for
// user-supplied allow/deny lists, never for keying HostState (which uses
// the exact lower-cased, port-stripped hostname).
//
// If host is entirely digits and dots (an IPv4 literal), it is returned
// unchanged. Otherwise the last two dot-separated labels are
// concatenated without a separator, so "docs.example.com" and
// "www.example.com" both lenient-match "examplecom".
func LenientHost(host string) string {
	if isDigitsAndDots(host) {
		return host
	}

	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return host
	}
	return labels[len(labels)-2] + labels[len(labels)-1]
}

func isDigitsAndDots(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && c != '.' {
			return false
		}
	}
	return true
}
