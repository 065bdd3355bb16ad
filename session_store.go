package courtside

// SessionStore persists gateway sessions on the device, one per backend.
// Gateway adapters use it; the resolver never reads it directly.
type SessionStore interface {
	// GetSession retrieves the session for a backend key.
	// Returns nil, nil if no session exists for the key.
	GetSession(key string) (*Session, error)

	// SetSession stores a session for a backend key
	SetSession(key string, session *Session) error

	// RemoveSession removes the session for a backend key
	RemoveSession(key string) error

	// ListKeys returns all backend keys with stored sessions
	ListKeys() ([]string, error)

	// Save persists any pending changes (for stores that batch writes)
	Save() error
}
