package ledger

import "context"

// Ledger is an append-only hash-chained audit log.
type Ledger interface {
	// Append chains a new entry. payload is JSON-marshalled and only its
	// SHA-256 is kept.
	Append(ctx context.Context, subject, action, actor string, payload any) (*Entry, error)
	// Get returns the entry at a zero-based index, or ErrEntryNotFound.
	Get(ctx context.Context, index int) (*Entry, error)
	// Len counts entries including genesis.
	Len(ctx context.Context) (int, error)
	// Verify walks the chain; nil means intact.
	Verify(ctx context.Context) error
	// Root returns the hash of the newest entry.
	Root(ctx context.Context) (string, error)
}
