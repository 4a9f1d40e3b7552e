package auth

import "context"

// SessionStore is the external persistence boundary for user sessions.
// The engine never sees the schema behind it: it loads opaque encrypted
// blobs and flags sessions that stopped working.
type SessionStore interface {
	// LoadEncryptedSession returns the encrypted storage-state blob for
	// a (user, site) pair. ok is false when no session is stored.
	LoadEncryptedSession(ctx context.Context, userID, site string) (blob []byte, ok bool, err error)

	// MarkNeedsReauth flags a stored session as expired so the owner is
	// prompted to log in again. notified reports whether a notification
	// was actually sent (the store deduplicates).
	MarkNeedsReauth(ctx context.Context, userID, site, reason string) (notified bool, err error)
}
