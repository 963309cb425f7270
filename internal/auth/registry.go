// Package auth holds the bearer-token registry shared by the streaming
// endpoints and the control API.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sync"

	"simgate/internal/log"
)

// Registry is the set of valid bearer tokens. Lookups are constant-time with
// respect to both the number of stored tokens and the candidate's content, so
// validation cannot leak which (if any) token was matched.
type Registry struct {
	mu     sync.RWMutex
	tokens []string
}

// NewRegistry seeds a registry with the given tokens. If the resulting set is
// empty a fresh 256-bit random token is minted and logged exactly once so the
// operator can retrieve it.
func NewRegistry(seed []string) *Registry {
	r := &Registry{}
	for _, t := range seed {
		if t != "" {
			r.tokens = append(r.tokens, t)
		}
	}
	if len(r.tokens) == 0 {
		minted := mintToken()
		r.tokens = append(r.tokens, minted)
		logger := log.WithComponent("auth")
		logger.Warn().
			Str("token", minted).
			Msg("no tokens configured; minted a default token (shown once)")
	}
	return r
}

// mintToken returns 32 bytes of cryptographic randomness as hex (64 chars).
func mintToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic("auth: rand.Read: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// Add inserts a token into the registry.
func (r *Registry) Add(token string) {
	if token == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, token)
}

// Contains reports whether candidate is a valid token. Every stored token is
// compared via an equal-length constant-time compare of SHA-256 digests, and
// the loop never exits early, so timing reveals neither a match nor its
// position.
func (r *Registry) Contains(candidate string) bool {
	if candidate == "" {
		return false
	}
	want := sha256.Sum256([]byte(candidate))

	r.mu.RLock()
	defer r.mu.RUnlock()

	match := 0
	for _, t := range r.tokens {
		have := sha256.Sum256([]byte(t))
		match |= subtle.ConstantTimeCompare(want[:], have[:])
	}
	return match == 1
}

// Snapshot returns a copy of the stored tokens.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.tokens))
	copy(out, r.tokens)
	return out
}
