package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/decent-stuff/decent-cloud/infrastructure/httputil"
	hexutil "github.com/decent-stuff/decent-cloud/infrastructure/hex"
	"github.com/decent-stuff/decent-cloud/internal/contract"
)

type createContractRequest struct {
	RequesterPubKeyHex string `json:"requester_pubkey_hex"`
	ProviderPubKeyHex  string `json:"provider_pubkey_hex"`
	OfferingID         string `json:"offering_id"`
	Region             string `json:"region"`
	InstanceConfig     string `json:"instance_config"`
	AmountE9s          uint64 `json:"amount_e9s"`
	StartTimestamp     uint64 `json:"start_timestamp,omitempty"`
	SSHPubKey          string `json:"ssh_pubkey,omitempty"`
	Contact            string `json:"contact,omitempty"`
	Memo               string `json:"memo,omitempty"`
}

type contractView struct {
	ID                  string                `json:"id"`
	Status              contract.Status       `json:"status"`
	OfferingID          string                `json:"offering_id"`
	AmountE9s           uint64                `json:"amount_e9s"`
	ProvisioningDetails string                `json:"provisioning_details,omitempty"`
	EndTimestampNs      uint64                `json:"end_timestamp_ns,omitempty"`
	MonthlyPriceE9s     uint64                `json:"monthly_price_e9s,omitempty"`
	History             []contractHistoryView `json:"history,omitempty"`
}

type contractHistoryView struct {
	OldStatus contract.Status `json:"old_status"`
	NewStatus contract.Status `json:"new_status"`
	Memo      string          `json:"memo,omitempty"`
	Timestamp uint64          `json:"timestamp"`
}

func toContractView(c *contract.Contract) contractView {
	history := make([]contractHistoryView, len(c.History))
	for i, h := range c.History {
		history[i] = contractHistoryView{OldStatus: h.OldStatus, NewStatus: h.NewStatus, Memo: h.Memo, Timestamp: h.Timestamp}
	}
	return contractView{
		ID:                  hex.EncodeToString(c.ID[:]),
		Status:              c.Status,
		OfferingID:          c.Request.OfferingID,
		AmountE9s:           c.Request.AmountE9s,
		ProvisioningDetails: c.ProvisioningDetails,
		EndTimestampNs:      c.EndTimestampNs,
		MonthlyPriceE9s:     c.MonthlyPriceE9s,
		History:             history,
	}
}

// handleCreateContract derives the deterministic contract id from the
// request body and registers it in the "requested" state, per spec §4.7.
func (a *API) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	_, body, err := a.requireActorSignature(r)
	if err != nil {
		httputil.Unauthorized(w, err.Error())
		return
	}

	var req createContractRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}

	requesterKey, err := hexutil.DecodeString(req.RequesterPubKeyHex)
	if err != nil {
		httputil.BadRequest(w, "requester_pubkey_hex is not valid hex")
		return
	}
	providerKey, err := hexutil.DecodeString(req.ProviderPubKeyHex)
	if err != nil {
		httputil.BadRequest(w, "provider_pubkey_hex is not valid hex")
		return
	}

	c := a.Contracts.Create(contract.Request{
		RequesterPubKey: requesterKey,
		ProviderPubKey:  providerKey,
		OfferingID:      req.OfferingID,
		Region:          req.Region,
		InstanceConfig:  req.InstanceConfig,
		AmountE9s:       req.AmountE9s,
		StartTimestamp:  req.StartTimestamp,
		SSHPubKey:       req.SSHPubKey,
		Contact:         req.Contact,
		Memo:            []byte(req.Memo),
		CreatedAtNs:     a.NowNs(),
	})

	httputil.WriteJSON(w, http.StatusCreated, toContractView(c))
}

func (a *API) handleGetContract(w http.ResponseWriter, r *http.Request) {
	id, err := parseContractID(mux.Vars(r)["id"])
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	c, ok := a.Contracts.Get(id)
	if !ok {
		httputil.NotFound(w, "contract not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toContractView(c))
}

func (a *API) handleListContracts(w http.ResponseWriter, r *http.Request) {
	pubHex := r.URL.Query().Get("pubkey_hex")
	if pubHex == "" {
		httputil.BadRequest(w, "pubkey_hex query parameter is required")
		return
	}
	pub, err := hexutil.DecodeString(pubHex)
	if err != nil {
		httputil.BadRequest(w, "pubkey_hex is not valid hex")
		return
	}
	contracts := a.Contracts.ListByParty(pub)
	views := make([]contractView, len(contracts))
	for i, c := range contracts {
		views[i] = toContractView(c)
	}
	httputil.WriteJSON(w, http.StatusOK, views)
}

// transition is one named state-machine edge a generic handler applies
// uniformly, since every edge shares the same "verify signer, look up by
// path id, mutate under lock" shape.
type transition func(c *contract.Contract, actor []byte, body []byte, nowNs uint64) error

var (
	transitionAccept = func(c *contract.Contract, actor []byte, _ []byte, now uint64) error {
		return c.Accept(actor, now)
	}
	transitionReject = func(c *contract.Contract, actor []byte, body []byte, now uint64) error {
		var req struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(body, &req)
		return c.Reject(actor, req.Reason, now)
	}
	transitionCancel = func(c *contract.Contract, actor []byte, _ []byte, now uint64) error {
		return c.Cancel(actor, now)
	}
	transitionMarkProvisioning = func(c *contract.Contract, actor []byte, _ []byte, now uint64) error {
		return c.MarkProvisioning(actor, now)
	}
	transitionAttachProvisioningDetails = func(c *contract.Contract, actor []byte, body []byte, now uint64) error {
		var req struct {
			Details string `json:"details"`
		}
		_ = json.Unmarshal(body, &req)
		return c.AttachProvisioningDetails(actor, req.Details, now)
	}
	transitionActivate = func(c *contract.Contract, actor []byte, _ []byte, now uint64) error {
		return c.Activate(actor, now)
	}
	transitionComplete = func(c *contract.Contract, actor []byte, _ []byte, now uint64) error {
		return c.Complete(actor, now)
	}
)

func (a *API) handleContractTransition(t transition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseContractID(mux.Vars(r)["id"])
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		actor, body, err := a.requireActorSignature(r)
		if err != nil {
			httputil.Unauthorized(w, err.Error())
			return
		}

		var txErr error
		err = a.Contracts.Mutate(id, func(c *contract.Contract) error {
			txErr = t(c, actor, body, a.NowNs())
			return txErr
		})
		if errors.Is(err, contract.ErrNotFound) {
			httputil.NotFound(w, "contract not found")
			return
		}
		if txErr != nil {
			a.writeContractError(w, txErr)
			return
		}

		c, _ := a.Contracts.Get(id)
		httputil.WriteJSON(w, http.StatusOK, toContractView(c))
	}
}

type extendContractRequest struct {
	ExtensionHours uint64 `json:"extension_hours"`
}

type extendContractResponse struct {
	PriceE9s uint64 `json:"price_e9s"`
}

func (a *API) handleExtendContract(w http.ResponseWriter, r *http.Request) {
	id, err := parseContractID(mux.Vars(r)["id"])
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	actor, body, err := a.requireActorSignature(r)
	if err != nil {
		httputil.Unauthorized(w, err.Error())
		return
	}
	var req extendContractRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}

	var price uint64
	var txErr error
	err = a.Contracts.Mutate(id, func(c *contract.Contract) error {
		price, txErr = c.Extend(actor, req.ExtensionHours, a.NowNs())
		return txErr
	})
	if errors.Is(err, contract.ErrNotFound) {
		httputil.NotFound(w, "contract not found")
		return
	}
	if txErr != nil {
		a.writeContractError(w, txErr)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, extendContractResponse{PriceE9s: price})
}

func (a *API) writeContractError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, contract.ErrUnauthorized):
		httputil.Forbidden(w, err.Error())
	case errors.Is(err, contract.ErrInvalidStateTransition), errors.Is(err, contract.ErrNotExtensible):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalError(w, "contract transition failed")
	}
}

func parseContractID(raw string) ([32]byte, error) {
	var id [32]byte
	decoded, err := hexutil.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return id, errors.New("invalid contract id")
	}
	copy(id[:], decoded)
	return id, nil
}
