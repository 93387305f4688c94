package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"pharmatrack/m/domain"
)

const defaultLockWait = 2 * time.Second

// Ledger is the sole mutation point for on-hand quantities. Every operation
// works against exactly one inventory record: the record's lock is held for
// the whole read-modify-write, and the quantity change commits in the same
// transaction as its audit entry, so stock can never move without a trail.
type Ledger struct {
	db    *sqlx.DB
	store *store
	locks *lockTable
	log   zerolog.Logger

	// LockWait bounds how long an operation waits for a contended record
	// before giving up with ErrContentionExceeded.
	LockWait time.Duration
}

func New(db *sqlx.DB, log zerolog.Logger) *Ledger {
	return &Ledger{
		db:       db,
		store:    &store{db: db},
		locks:    newLockTable(),
		log:      log.With().Str("component", "ledger").Logger(),
		LockWait: defaultLockWait,
	}
}

// Mutation is the combined result of one ledger call: the quantity applied,
// the shortfall (dispense only), the record's remaining on-hand quantity
// and the audit entry that was committed alongside the change. A mutation
// with Applied == 0 carries no audit entry, because nothing moved.
type Mutation struct {
	Record    domain.RecordRef  `json:"record"`
	Applied   int64             `json:"applied"`
	Shortfall int64             `json:"shortfall"`
	Remaining int64             `json:"remaining"`
	Entry     domain.AuditEntry `json:"entry"`
}

// Dispense deducts up to requested units from the record. On shortage it
// degrades to partial fulfillment: it applies whatever is on hand and
// reports the remainder as Shortfall, never failing for insufficient stock
// and never letting the quantity go negative.
func (l *Ledger) Dispense(ctx context.Context, ref domain.RecordRef, requested int64, actor, reason string) (Mutation, error) {
	if requested <= 0 {
		return Mutation{}, ErrInvalidQuantity
	}
	return l.mutate(ctx, ref, func(onHand int64) (applied, next int64) {
		applied = requested
		if applied > onHand {
			applied = onHand
		}
		return applied, onHand - applied
	}, -1, requested, actor, reason)
}

// Restore adds qty back to the record unconditionally; stock corrections may
// legitimately exceed whatever was originally deducted, so there is no upper
// bound check.
func (l *Ledger) Restore(ctx context.Context, ref domain.RecordRef, qty int64, actor, reason string) (Mutation, error) {
	if qty <= 0 {
		return Mutation{}, ErrInvalidQuantity
	}
	return l.mutate(ctx, ref, func(onHand int64) (applied, next int64) {
		return qty, onHand + qty
	}, +1, qty, actor, reason)
}

// AdjustDispensed reconciles a dispensed total after a requested-quantity
// edit: a positive delta dispenses more (bounded by stock), a negative delta
// restores the difference. A zero delta is a no-op. Chained adjustments net
// out to the same state as a single dispense of the final total.
func (l *Ledger) AdjustDispensed(ctx context.Context, ref domain.RecordRef, delta int64, actor, reason string) (Mutation, error) {
	switch {
	case delta > 0:
		return l.Dispense(ctx, ref, delta, actor, reason)
	case delta < 0:
		return l.Restore(ctx, ref, -delta, actor, reason)
	}
	return Mutation{Record: ref}, nil
}

// mutate runs one serialized read-modify-write. sign is the direction of the
// stock delta (-1 dispense, +1 restore); requested is only used to compute
// the dispense shortfall.
func (l *Ledger) mutate(ctx context.Context, ref domain.RecordRef, apply func(onHand int64) (applied, next int64), sign int64, requested int64, actor, reason string) (Mutation, error) {
	if err := l.locks.acquire(ref, l.LockWait); err != nil {
		return Mutation{}, err
	}
	defer l.locks.release(ref)

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return Mutation{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	onHand, err := l.store.quantity(ctx, tx, ref)
	if err != nil {
		return Mutation{}, err
	}

	applied, next := apply(onHand)
	mut := Mutation{
		Record:    ref,
		Applied:   applied,
		Shortfall: requested - applied,
		Remaining: next,
	}

	if applied == 0 {
		// Nothing moved: no quantity write, no audit entry.
		return mut, nil
	}

	if err := l.store.setQuantity(ctx, tx, ref, next); err != nil {
		return Mutation{}, err
	}
	entry, err := l.store.appendAudit(ctx, tx, ref, sign*applied, actor, reason)
	if err != nil {
		return Mutation{}, err
	}
	if err := tx.Commit(); err != nil {
		return Mutation{}, fmt.Errorf("commit %s: %w", ref, err)
	}

	mut.Entry = entry
	l.log.Debug().
		Stringer("record", ref).
		Int64("delta", entry.Delta).
		Int64("remaining", next).
		Str("actor", actor).
		Str("reason", reason).
		Msg("stock mutated")
	return mut, nil
}
