// Package transfer implements the token transfer engine: deduplicated,
// fee-charging, ICRC-classified fund movement between accounts, backed by
// the ledger store and the balance cache.
package transfer

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/decent-stuff/decent-cloud/internal/account"
	"github.com/decent-stuff/decent-cloud/internal/ledger"
	"github.com/decent-stuff/decent-cloud/infrastructure/metrics"
)

// LabelDCTokenTransfer is the ledger label a committed transfer entry is
// stored under.
const LabelDCTokenTransfer = "DCTokenTransfer"

// DefaultTransferFeeE9s is the standard fee for an ordinary (non-mint,
// non-burn) transfer. Execute does not apply it by itself: a transfer is
// charged exactly the Fee its caller sets.
const DefaultTransferFeeE9s uint64 = 10_000_000 // 0.01 token at 1e9 scale

var (
	// ErrInsufficientFunds is returned when the sender's balance cannot
	// cover amount+fee.
	ErrInsufficientFunds = errors.New("transfer: insufficient funds")
	// ErrTooOld is returned when created_at predates the permitted window.
	ErrTooOld = errors.New("transfer: created_at too old")
	// ErrCreatedInFuture is returned when created_at is beyond permitted drift.
	ErrCreatedInFuture = errors.New("transfer: created_at in the future")
	// ErrBadFee is returned when a burn (transfer to the minting account)
	// carries a non-zero fee.
	ErrBadFee = errors.New("transfer: burns must carry a zero fee")
)

// DuplicateError reports that an identical transfer was already committed,
// carrying the original transaction number so the caller can treat the
// resubmission as idempotent.
type DuplicateError struct {
	DuplicateOfTxNum uint64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("transfer: duplicate of tx_num %d", e.DuplicateOfTxNum)
}

// FundsTransfer is a single token movement between two accounts.
type FundsTransfer struct {
	From        account.Account
	To          account.Account
	Amount      uint64
	Fee         uint64
	FeeAccounts []account.Account
	CreatedAtNs uint64
	Memo        []byte
}

// Kind classifies a committed transfer as an ICRC-style mint, burn, or
// ordinary transfer, mirroring the reference's Transaction conversion.
type Kind int

const (
	KindTransfer Kind = iota
	KindMint
	KindBurn
)

// Kind reports how t should be classified for ICRC-compatible transaction
// feeds.
func (t FundsTransfer) Kind() Kind {
	switch {
	case t.From.IsMintingAccount():
		return KindMint
	case t.To.IsMintingAccount():
		return KindBurn
	default:
		return KindTransfer
	}
}

// TxID computes the canonical SHA-256 transaction id used for dedup:
// SHA-256(from_owner || from_sub || to_owner || to_sub || amount_be ||
// fee_be || memo (only when non-empty) || created_at_be).
func (t FundsTransfer) TxID() [32]byte {
	h := sha256.New()
	h.Write([]byte(t.From.Owner))
	h.Write(subaccountOrZero(t.From.Subaccount))
	h.Write([]byte(t.To.Owner))
	h.Write(subaccountOrZero(t.To.Subaccount))

	var amountBuf [8]byte
	binary.BigEndian.PutUint64(amountBuf[:], t.Amount)
	h.Write(amountBuf[:])

	var feeBuf [8]byte
	binary.BigEndian.PutUint64(feeBuf[:], t.Fee)
	h.Write(feeBuf[:])

	if len(t.Memo) > 0 {
		h.Write(t.Memo)
	}

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], t.CreatedAtNs)
	h.Write(tsBuf[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func subaccountOrZero(sub []byte) []byte {
	if len(sub) == 0 {
		return make([]byte, account.SubaccountSize)
	}
	return sub
}

// Engine executes transfers against a ledger store, balance cache, and
// recent-transaction dedup window.
type Engine struct {
	Ledger          *ledger.Store
	Balances        *account.Cache
	Recent          *ledger.RecentCache
	TxWindowNs      uint64
	PermittedDrift  uint64
	FeeSinkAccounts []account.Account
	NowNs           func() uint64
	ServiceName     string
}

// Execute runs a single funds transfer end to end per spec §4.6:
//  1. compute tx_id
//  2. reject duplicates within the recent-tx window
//  3. balance-check (skipped when from is the minting account)
//  4. debit from
//  5. append a labeled ledger entry
//  6. credit to
//  7. record the tx_id in the recent-tx window
func (e *Engine) Execute(t FundsTransfer) (txNum uint64, err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		if m := metrics.Global(); m != nil {
			m.RecordTransfer(e.ServiceName, kindLabel(t.Kind()), status, time.Since(start))
		}
	}()

	now := e.NowNs()
	if err = e.checkWindow(t, now); err != nil {
		return 0, err
	}
	if t.Kind() == KindBurn && t.Fee != 0 {
		return 0, ErrBadFee
	}

	txID := t.TxID()
	if dup := e.Recent.Find(txID); dup > 0 {
		return 0, &DuplicateError{DuplicateOfTxNum: dup}
	}

	if !t.From.IsMintingAccount() {
		withdraw := t.Amount + t.Fee
		if e.Balances.BalanceGet(t.From) < withdraw {
			return 0, ErrInsufficientFunds
		}
		if err = e.Balances.BalanceSub(t.From, withdraw); err != nil {
			return 0, fmt.Errorf("transfer: debit: %w", err)
		}
	}

	txNum = e.Recent.NextTxNum()

	entryValue, err := encodeTransferValue(t, txNum)
	if err != nil {
		return 0, fmt.Errorf("transfer: encode entry: %w", err)
	}
	e.Ledger.AppendEntry(ledger.Entry{
		Label:     LabelDCTokenTransfer,
		Key:       txID[:],
		Value:     entryValue,
		Operation: ledger.OpUpsert,
	})

	e.Balances.BalanceAdd(t.To, t.Amount)
	e.creditFees(t)

	e.Recent.Add(txID, txNum, t.CreatedAtNs)
	return txNum, nil
}

func (e *Engine) checkWindow(t FundsTransfer, nowNs uint64) error {
	if t.CreatedAtNs == 0 {
		return nil
	}
	if t.CreatedAtNs+e.TxWindowNs*uint64(time.Second) < nowNs {
		return ErrTooOld
	}
	if t.CreatedAtNs > nowNs+e.PermittedDrift*uint64(time.Second) {
		return ErrCreatedInFuture
	}
	return nil
}

func (e *Engine) creditFees(t FundsTransfer) {
	if t.Fee == 0 {
		return
	}
	sinks := t.FeeAccounts
	if len(sinks) == 0 {
		sinks = e.FeeSinkAccounts
	}
	if len(sinks) == 0 {
		return // burned: minting account, not tracked as a balance
	}
	share := t.Fee / uint64(len(sinks))
	remainder := t.Fee % uint64(len(sinks))
	for i, sink := range sinks {
		amt := share
		if i == 0 {
			amt += remainder
		}
		e.Balances.BalanceAdd(sink, amt)
	}
}

func kindLabel(k Kind) string {
	switch k {
	case KindMint:
		return "mint"
	case KindBurn:
		return "burn"
	default:
		return "transfer"
	}
}

// ChargeFees debits amountE9s from payer to the fee-sink accounts (a
// zero-amount transfer is a no-op), optionally bumping the payer's
// reputation by the charged amount. This covers both
// charge_fees_to_account_and_bump_reputation and
// charge_fees_to_account_no_bump_reputation from the reference: the two
// call shapes are now one function with a bool flag.
func (e *Engine) ChargeFees(payer account.Account, amountE9s uint64, memo string, bumpReputation bool) error {
	if amountE9s == 0 {
		return nil
	}
	_, err := e.Execute(FundsTransfer{
		From:        payer,
		To:          account.MintingAccount,
		Amount:      amountE9s,
		Fee:         0,
		FeeAccounts: e.FeeSinkAccounts,
		CreatedAtNs: e.NowNs(),
		Memo:        []byte(memo),
	})
	if err != nil {
		return err
	}
	if bumpReputation {
		e.Balances.ReputationAdd(payer.Owner, int64(amountE9s))
	}
	return nil
}

func encodeTransferValue(t FundsTransfer, txNum uint64) ([]byte, error) {
	buf := make([]byte, 0, 72)
	buf = appendLP(buf, []byte(t.From.Owner))
	buf = appendLP(buf, subaccountOrZero(t.From.Subaccount))
	buf = appendLP(buf, []byte(t.To.Owner))
	buf = appendLP(buf, subaccountOrZero(t.To.Subaccount))
	var amt [8]byte
	binary.LittleEndian.PutUint64(amt[:], t.Amount)
	buf = append(buf, amt[:]...)
	var fee [8]byte
	binary.LittleEndian.PutUint64(fee[:], t.Fee)
	buf = append(buf, fee[:]...)
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], t.CreatedAtNs)
	buf = append(buf, ts[:]...)
	buf = appendLP(buf, t.Memo)
	var num [8]byte
	binary.LittleEndian.PutUint64(num[:], txNum)
	buf = append(buf, num[:]...)
	return buf, nil
}

func appendLP(buf, data []byte) []byte {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(data)))
	buf = append(buf, l[:]...)
	return append(buf, data...)
}

// ErrTruncatedValue is returned by DecodeValue when value is shorter than
// the wire layout encodeTransferValue produces.
var ErrTruncatedValue = errors.New("transfer: truncated entry value")

// DecodedTransfer is the decoded form of a committed LabelDCTokenTransfer
// entry value, the inverse of encodeTransferValue. Both the read model and
// balance-cache replay decode entries through this type so the wire layout
// is defined in exactly one place.
type DecodedTransfer struct {
	From        account.Account
	To          account.Account
	Amount      uint64
	Fee         uint64
	CreatedAtNs uint64
	Memo        []byte
	TxNum       uint64
}

// DecodeValue parses a committed transfer entry's value bytes.
func DecodeValue(value []byte) (DecodedTransfer, error) {
	pos := 0
	readLP := func() ([]byte, error) {
		if len(value) < pos+4 {
			return nil, ErrTruncatedValue
		}
		l := int(binary.LittleEndian.Uint32(value[pos : pos+4]))
		pos += 4
		if len(value) < pos+l {
			return nil, ErrTruncatedValue
		}
		out := value[pos : pos+l]
		pos += l
		return out, nil
	}

	fromOwner, err := readLP()
	if err != nil {
		return DecodedTransfer{}, err
	}
	fromSub, err := readLP()
	if err != nil {
		return DecodedTransfer{}, err
	}
	toOwner, err := readLP()
	if err != nil {
		return DecodedTransfer{}, err
	}
	toSub, err := readLP()
	if err != nil {
		return DecodedTransfer{}, err
	}

	if len(value) < pos+24 {
		return DecodedTransfer{}, ErrTruncatedValue
	}
	amount := binary.LittleEndian.Uint64(value[pos : pos+8])
	pos += 8
	fee := binary.LittleEndian.Uint64(value[pos : pos+8])
	pos += 8
	createdAt := binary.LittleEndian.Uint64(value[pos : pos+8])
	pos += 8

	memo, err := readLP()
	if err != nil {
		return DecodedTransfer{}, err
	}

	if len(value) < pos+8 {
		return DecodedTransfer{}, ErrTruncatedValue
	}
	txNum := binary.LittleEndian.Uint64(value[pos : pos+8])

	return DecodedTransfer{
		From:        account.New(string(fromOwner), fromSub),
		To:          account.New(string(toOwner), toSub),
		Amount:      amount,
		Fee:         fee,
		CreatedAtNs: createdAt,
		Memo:        memo,
		TxNum:       txNum,
	}, nil
}

// ApplyCommitted re-applies a previously committed transfer's balance
// effects (debit, credit, fee distribution) without touching the ledger or
// the recent-tx dedup window. It is used to rebuild the balance cache by
// replaying committed entries from genesis (account.Cache.RefreshFromLedger),
// so it silently ignores a debit underflow: a faithful replay of a transfer
// that already succeeded once cannot legitimately fail the second time.
func (e *Engine) ApplyCommitted(t FundsTransfer) {
	if !t.From.IsMintingAccount() {
		_ = e.Balances.BalanceSub(t.From, t.Amount+t.Fee)
	}
	e.Balances.BalanceAdd(t.To, t.Amount)
	e.creditFees(t)
}
