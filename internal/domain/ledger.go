package domain

import "time"

// EntryKind is the accounting direction of a ledger entry.
type EntryKind string

const (
	EntryEarn  EntryKind = "earn"
	EntrySpend EntryKind = "spend"
)

// LedgerEntry is an immutable record of a coin credit or debit. Entries are
// append-only; they are never updated or deleted.
type LedgerEntry struct {
	EntryID     string    `json:"entry_id"`
	UserID      string    `json:"user_id"`
	Amount      int64     `json:"amount"`
	Kind        EntryKind `json:"kind"`
	Description string    `json:"description"`
	TemplateID  string    `json:"template_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
