package readmodel

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/decent-stuff/decent-cloud/internal/account"
	"github.com/decent-stuff/decent-cloud/internal/ledger"
	"github.com/decent-stuff/decent-cloud/internal/transfer"
	"github.com/decent-stuff/decent-cloud/pkg/pgnotify"
)

// RefreshChannel is the pgnotify channel the projector publishes to once a
// batch of blocks has been projected, so Search Core callers know to
// re-read the derived tables.
const RefreshChannel = "decent_cloud_readmodel_refreshed"

// Projector writes committed ledger entries into the Postgres read model.
// It is idempotent on replay: every write is an upsert keyed by (label,
// entry_key) or the label's natural key, and out-of-order redelivery is
// resolved by comparing the entry's embedded commit timestamp against the
// row already on disk rather than assuming insertion order.
type Projector struct {
	DB     *sqlx.DB
	Notify *pgnotify.Bus
}

// New returns a Projector writing to db, optionally fanning out change
// notifications over bus (nil disables fan-out).
func New(db *sqlx.DB, bus *pgnotify.Bus) *Projector {
	return &Projector{DB: db, Notify: bus}
}

// Project writes every entry in records into the read model, in block order,
// then publishes a refresh notification once the whole batch has committed.
func (p *Projector) Project(ctx context.Context, records []ledger.BlockRecord) error {
	for _, rec := range records {
		committedAt := time.Unix(0, int64(rec.Header.TimestampNs))
		for _, e := range rec.Entries {
			if err := p.projectEntry(ctx, e, rec.Position, committedAt); err != nil {
				return fmt.Errorf("readmodel: project entry label=%s: %w", e.Label, err)
			}
		}
	}
	if len(records) > 0 && p.Notify != nil {
		_ = p.Notify.Publish(ctx, RefreshChannel, map[string]any{"blocks": len(records)})
	}
	return nil
}

func (p *Projector) projectEntry(ctx context.Context, e ledger.Entry, blockPosition uint64, committedAt time.Time) error {
	if e.Operation == ledger.OpDelete {
		return p.projectDelete(ctx, e, committedAt)
	}

	if _, err := p.DB.ExecContext(ctx, `
		INSERT INTO ledger_entries (label, entry_key, value, operation, block_position, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (label, entry_key) DO UPDATE SET
			value = excluded.value,
			operation = excluded.operation,
			block_position = excluded.block_position,
			committed_at = excluded.committed_at
		WHERE ledger_entries.committed_at <= excluded.committed_at
	`, e.Label, e.Key, e.Value, e.Operation, blockPosition, committedAt); err != nil {
		return err
	}

	if e.Label == transfer.LabelDCTokenTransfer {
		return p.projectTransfer(ctx, e, blockPosition, committedAt)
	}
	return nil
}

func (p *Projector) projectDelete(ctx context.Context, e ledger.Entry, committedAt time.Time) error {
	_, err := p.DB.ExecContext(ctx, `
		DELETE FROM ledger_entries
		WHERE label = $1 AND entry_key = $2 AND committed_at <= $3
	`, e.Label, e.Key, committedAt)
	return err
}

// decodedTransfer mirrors package transfer's on-wire entry value layout
// (length-prefixed account fields, then fixed-width amount/fee/created_at,
// then a length-prefixed memo) so the read model can classify and index
// every committed transfer without re-deriving it from the engine.
type decodedTransfer struct {
	From        account.Account
	To          account.Account
	AmountE9s   uint64
	FeeE9s      uint64
	CreatedAtNs uint64
	Memo        []byte
	TxNum       uint64
}

func (p *Projector) projectTransfer(ctx context.Context, e ledger.Entry, blockPosition uint64, committedAt time.Time) error {
	dt, err := decodeTransferValue(e.Value)
	if err != nil {
		return fmt.Errorf("decode transfer value: %w", err)
	}

	txID := e.Key
	kind := "transfer"
	switch {
	case dt.From.IsMintingAccount():
		kind = "mint"
	case dt.To.IsMintingAccount():
		kind = "burn"
	}

	_, err = p.DB.ExecContext(ctx, `
		INSERT INTO token_transfers (tx_id, tx_num, from_account, to_account, amount_e9s, fee_e9s, kind, memo, created_at, block_position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tx_id) DO UPDATE SET
			from_account = excluded.from_account,
			to_account = excluded.to_account,
			amount_e9s = excluded.amount_e9s,
			fee_e9s = excluded.fee_e9s,
			kind = excluded.kind,
			memo = excluded.memo,
			created_at = excluded.created_at,
			block_position = excluded.block_position
	`, txID, int64(dt.TxNum), dt.From.String(), dt.To.String(), int64(dt.AmountE9s), int64(dt.FeeE9s), kind, dt.Memo, time.Unix(0, int64(dt.CreatedAtNs)), int64(blockPosition))
	return err
}

// errTruncatedTransferValue aliases transfer.ErrTruncatedValue so existing
// callers of this package can keep matching on a readmodel-local name.
var errTruncatedTransferValue = transfer.ErrTruncatedValue

// decodeTransferValue parses a committed transfer entry's value bytes.
// The wire layout is owned by package transfer (encodeTransferValue); this
// is a thin local-type adapter over transfer.DecodeValue so the read model
// doesn't duplicate the parsing logic.
func decodeTransferValue(value []byte) (decodedTransfer, error) {
	dt, err := transfer.DecodeValue(value)
	if err != nil {
		return decodedTransfer{}, err
	}
	return decodedTransfer{
		From:        dt.From,
		To:          dt.To,
		AmountE9s:   dt.Amount,
		FeeE9s:      dt.Fee,
		CreatedAtNs: dt.CreatedAtNs,
		Memo:        dt.Memo,
		TxNum:       dt.TxNum,
	}, nil
}
