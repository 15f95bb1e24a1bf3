// Package auth provides request signing and API token acquisition for the
// catalog API.
package auth

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// Signer computes the catalog API request signature.
//
// Each parameter value is hashed independently, the hashes are sorted
// lexicographically and concatenated behind the shared salt, and the result is
// hashed again. The signature is therefore independent of parameter insertion
// order.
type Signer struct {
	salt string
}

// NewSigner creates a signer with the shared secret salt.
func NewSigner(salt string) *Signer {
	return &Signer{salt: salt}
}

// Sign computes the signature over a parameter map. Only values participate;
// keys are ignored by the API's scheme.
func (s *Signer) Sign(params map[string]string) string {
	values := make([]string, 0, len(params))
	for _, value := range params {
		values = append(values, value)
	}
	return s.SignValues(values)
}

// SignValues computes the signature over a plain value list.
func (s *Signer) SignValues(values []string) string {
	hashes := make([]string, 0, len(values))
	for _, value := range values {
		hashes = append(hashes, md5Hex(value))
	}
	sort.Strings(hashes)

	return md5Hex(s.salt + strings.Join(hashes, ""))
}

func md5Hex(input string) string {
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}
