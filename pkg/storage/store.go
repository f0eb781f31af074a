// Package storage keeps interactive sessions between requests.
//
// A session lives until it is deleted or has been idle longer than the store's
// TTL. Two backends are provided: MemoryStore for a single replica and
// RedisStore when several webapp replicas share sessions.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/HatiCode/chondrosurv/pkg/session"
)

// Store persists sessions by ID.
type Store interface {
	// Get returns a copy of the session. found is false when the session does
	// not exist or has expired.
	Get(ctx context.Context, id string) (s *session.Session, found bool, err error)

	// Put saves s, replacing any previous version and refreshing its TTL.
	Put(ctx context.Context, s *session.Session) error

	// Delete ends the session. Deleting an unknown session is not an error.
	Delete(ctx context.Context, id string) error
}

// ValidateID rejects empty IDs and IDs with characters outside [A-Za-z0-9_-].
func ValidateID(id string) error {
	if id == "" {
		return errors.New("session id required")
	}
	if len(id) > 64 {
		return fmt.Errorf("invalid session id: longer than 64 characters")
	}
	for _, c := range id {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_') {
			return fmt.Errorf("invalid session id %q: only alphanumeric, hyphens, and underscores allowed", id)
		}
	}
	return nil
}
