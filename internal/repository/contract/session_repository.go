package contract

import "apk-builder-be/internal/entity"

// SessionRepository is the key-value store behind the session registry.
// Implementations must serialize Update calls per key.
type SessionRepository interface {
	Create(session *entity.Session) error
	// Get returns a copy of the session.
	Get(id string) (entity.Session, bool)
	// Update runs fn under the session's lock. Changes made by fn are kept
	// only when it returns nil.
	Update(id string, fn func(session *entity.Session) error) error
	Delete(id string)
	// OnEvicted registers a hook called after a session expires or is deleted.
	OnEvicted(hook func(id string))
}
