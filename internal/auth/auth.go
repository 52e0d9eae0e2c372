// Package auth guards the transfer endpoint with static API keys. Keys are held
// as SHA-256 digests and only a short digest prefix is ever logged.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

const (
	RoleTransferRunner = "transfer_runner"
	RoleAdmin          = "admin"
)

type Identity struct {
	Principal string
	Roles     []string
	// KeyID is the first 8 hex characters of the key digest.
	KeyID string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

func (i Identity) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, i.HasRole)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type StaticAPIKeyValidator struct {
	entries []staticKey
}

type staticKey struct {
	digest   [sha256.Size]byte
	identity Identity
}

// NewStaticAPIKeyValidator parses comma separated key:principal:role|role
// entries, e.g. "k1:scheduler:transfer_runner,k2:ops:admin|transfer_runner".
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	seen := map[[sha256.Size]byte]bool{}
	for _, entry := range strings.Split(spec, ",") {
		key, principal, roles, err := parseStaticKey(entry)
		if err != nil {
			return nil, err
		}
		digest := sha256.Sum256([]byte(key))
		if seen[digest] {
			return nil, fmt.Errorf("invalid static key entry for %q: duplicate key", principal)
		}
		seen[digest] = true
		validator.entries = append(validator.entries, staticKey{
			digest:   digest,
			identity: Identity{Principal: principal, Roles: roles, KeyID: keyID(digest)},
		})
	}
	return validator, nil
}

// Validate compares against every configured digest so the time taken does
// not depend on which key matched.
func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	digest := sha256.Sum256([]byte(apiKey))
	var (
		match Identity
		found bool
	)
	for _, entry := range v.entries {
		if subtle.ConstantTimeCompare(entry.digest[:], digest[:]) == 1 {
			match, found = entry.identity, true
		}
	}
	return match, found
}

func parseStaticKey(entry string) (string, string, []string, error) {
	parts := strings.Split(strings.TrimSpace(entry), ":")
	if len(parts) != 3 {
		return "", "", nil, fmt.Errorf("invalid static key entry: expected key:principal:role|role")
	}
	key := strings.TrimSpace(parts[0])
	principal := strings.TrimSpace(parts[1])
	if key == "" || principal == "" {
		return "", "", nil, fmt.Errorf("invalid static key entry: empty key/principal")
	}
	var roles []string
	for _, role := range strings.Split(parts[2], "|") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return "", "", nil, fmt.Errorf("invalid static key entry for %q: at least one role is required", principal)
	}
	slices.Sort(roles)
	return key, principal, slices.Compact(roles), nil
}

func keyID(digest [sha256.Size]byte) string {
	return hex.EncodeToString(digest[:4])
}
