// Package ledger keeps a hash-chained audit trail of subdomain lifecycle
// events (claim, approve, reject, update_target, dns_sync, delete, drift).
//
// The chain starts at a fixed genesis entry whose Hash is GenesisHash. Each
// later entry stores the hash of its predecessor, so Verify detects any
// rewritten or removed entry.
package ledger
