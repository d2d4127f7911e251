package core

import (
	"github.com/decent-stuff/decent-cloud/internal/account"
	"github.com/decent-stuff/decent-cloud/internal/blockproducer"
	"github.com/decent-stuff/decent-cloud/internal/ledger"
	"github.com/decent-stuff/decent-cloud/internal/transfer"
)

// RebuildCaches replays every committed ledger entry from genesis into the
// balance/reputation cache, per spec.md:90 ("Called on startup, after
// push-based bootstrap, and after a pull-sync applies new blocks") and the
// replay invariant at spec.md:268. Entries applied through Transfer.Execute
// are already reflected incrementally, but sync-delivered entries never go
// through Execute, so this full decode-and-replay is what makes their
// balance effects visible.
func (s *State) RebuildCaches() error {
	records, err := s.Ledger.IterRaw(0, nil)
	if err != nil {
		return err
	}

	entries := make([]account.LedgerEntry, 0, 64)
	for _, rec := range records {
		for _, e := range rec.Entries {
			entries = append(entries, s.decodeLedgerEntry(e))
		}
	}
	s.Balances.RefreshFromLedger(entries)
	return nil
}

// decodeLedgerEntry dispatches a committed ledger entry to the replay
// closure account.Cache.RefreshFromLedger needs, by label. Labels the
// balance/reputation cache doesn't care about (registrations, offerings,
// contract requests, ...) replay as a no-op.
func (s *State) decodeLedgerEntry(e ledger.Entry) account.LedgerEntry {
	switch e.Label {
	case transfer.LabelDCTokenTransfer:
		return s.decodeTransferEntry(e)
	case blockproducer.LabelRewardDistribution:
		return decodeRewardEntry(e)
	default:
		return account.LedgerEntry{Label: e.Label}
	}
}

func (s *State) decodeTransferEntry(e ledger.Entry) account.LedgerEntry {
	dt, err := transfer.DecodeValue(e.Value)
	if err != nil {
		return account.LedgerEntry{Label: e.Label}
	}
	return account.LedgerEntry{
		Label: e.Label,
		Apply: func(*account.Cache) {
			s.Transfer.ApplyCommitted(transfer.FundsTransfer{
				From:        dt.From,
				To:          dt.To,
				Amount:      dt.Amount,
				Fee:         dt.Fee,
				CreatedAtNs: dt.CreatedAtNs,
				Memo:        dt.Memo,
			})
		},
	}
}

func decodeRewardEntry(e ledger.Entry) account.LedgerEntry {
	amount, err := blockproducer.DecodeRewardValue(e.Value)
	if err != nil {
		return account.LedgerEntry{Label: e.Label}
	}
	identity := string(e.Key)
	return account.LedgerEntry{
		Label: e.Label,
		Apply: func(c *account.Cache) {
			c.BalanceAdd(account.Account{Owner: identity}, amount)
		},
	}
}
