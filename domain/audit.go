package domain

// AuditEntry is the immutable record of one ledger mutation. Delta is the
// signed quantity actually applied to the record: negative for a dispense,
// positive for a restore. Entries are created by the ledger only and are
// never updated or deleted by application code.
type AuditEntry struct {
	ID         int64      `db:"id" json:"id"`
	RecordKind RecordKind `db:"record_kind" json:"record_kind"`
	RecordID   int64      `db:"record_id" json:"record_id"`
	Delta      int64      `db:"delta" json:"delta"`
	Actor      string     `db:"actor" json:"actor"`
	Reason     string     `db:"reason" json:"reason"`
	CreatedAt  string     `db:"created_at" json:"created_at"`
}
