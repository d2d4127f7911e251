package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/decent-stuff/decent-cloud/infrastructure/httputil"
	hexutil "github.com/decent-stuff/decent-cloud/infrastructure/hex"
	"github.com/decent-stuff/decent-cloud/internal/account"
	"github.com/decent-stuff/decent-cloud/internal/transfer"
)

// accountRef is the wire representation of an account.Account: an owner
// principal plus an optional hex-encoded subaccount, avoiding a dependency
// on parsing the ICRC textual rendering back out of a request body.
type accountRef struct {
	Owner         string `json:"owner"`
	SubaccountHex string `json:"subaccount_hex,omitempty"`
}

func (r accountRef) toAccount() (account.Account, error) {
	if r.Owner == "" {
		return account.Account{}, errors.New("owner is required")
	}
	var sub []byte
	if r.SubaccountHex != "" {
		decoded, err := hexutil.DecodeString(r.SubaccountHex)
		if err != nil {
			return account.Account{}, errors.New("subaccount_hex is not valid hex")
		}
		sub = decoded
	}
	return account.New(r.Owner, sub), nil
}

type createTransferRequest struct {
	From        accountRef   `json:"from"`
	To          accountRef   `json:"to"`
	Amount      uint64       `json:"amount_e9s"`
	Fee         uint64       `json:"fee_e9s"`
	FeeAccounts []accountRef `json:"fee_accounts,omitempty"`
	CreatedAtNs uint64       `json:"created_at_ns"`
	Memo        string       `json:"memo,omitempty"`
}

type createTransferResponse struct {
	TxNum uint64 `json:"tx_num"`
	Kind  string `json:"kind"`
}

// errNotFromOwner is returned when the actor authenticated by
// requireActorSignature does not match the debited account's owner.
var errNotFromOwner = errors.New("httpapi: signing key does not own the from account")

// handleCreateTransfer executes a single funds transfer through the shared
// transfer.Engine, per spec §4.6. The caller must sign the request per
// spec.md:230-233 (the same account-owner scheme handleCreateContract uses),
// and the signing key must be the debited account's own hex-encoded
// identity — otherwise any caller could debit any account by naming it as
// "from".
func (a *API) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	actor, body, err := a.requireActorSignature(r)
	if err != nil {
		httputil.Unauthorized(w, err.Error())
		return
	}

	var req createTransferRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}

	from, err := req.From.toAccount()
	if err != nil {
		httputil.BadRequest(w, "invalid from account: "+err.Error())
		return
	}
	if !from.IsMintingAccount() && hexutil.Normalize(from.Owner) != hexutil.EncodeToString(actor) {
		httputil.Forbidden(w, errNotFromOwner.Error())
		return
	}
	to, err := req.To.toAccount()
	if err != nil {
		httputil.BadRequest(w, "invalid to account: "+err.Error())
		return
	}

	var feeAccounts []account.Account
	for _, fa := range req.FeeAccounts {
		acct, err := fa.toAccount()
		if err != nil {
			httputil.BadRequest(w, "invalid fee account: "+err.Error())
			return
		}
		feeAccounts = append(feeAccounts, acct)
	}

	createdAt := req.CreatedAtNs
	if createdAt == 0 {
		createdAt = a.NowNs()
	}

	ft := transfer.FundsTransfer{
		From:        from,
		To:          to,
		Amount:      req.Amount,
		Fee:         req.Fee,
		FeeAccounts: feeAccounts,
		CreatedAtNs: createdAt,
		Memo:        []byte(req.Memo),
	}

	txNum, err := a.Core.Transfer.Execute(ft)
	if err != nil {
		a.writeTransferError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, createTransferResponse{
		TxNum: txNum,
		Kind:  kindString(ft.Kind()),
	})
}

func (a *API) writeTransferError(w http.ResponseWriter, r *http.Request, err error) {
	var dup *transfer.DuplicateError
	switch {
	case errors.As(err, &dup):
		httputil.WriteErrorResponse(w, r, http.StatusConflict, "DUPLICATE_TRANSFER", err.Error(), map[string]any{
			"duplicate_of_tx_num": dup.DuplicateOfTxNum,
		})
	case errors.Is(err, transfer.ErrInsufficientFunds):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, transfer.ErrTooOld), errors.Is(err, transfer.ErrCreatedInFuture), errors.Is(err, transfer.ErrBadFee):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, "transfer failed")
	}
}

func kindString(k transfer.Kind) string {
	switch k {
	case transfer.KindMint:
		return "mint"
	case transfer.KindBurn:
		return "burn"
	default:
		return "transfer"
	}
}
