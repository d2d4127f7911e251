// Package contract implements the per-request cryptographic contract
// protocol: deterministic contract-id derivation, the rental lifecycle
// state machine, extensions, and authorization.
package contract

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

// Status is a contract's position in the rental lifecycle.
type Status string

const (
	StatusRequested    Status = "requested"
	StatusPending      Status = "pending"
	StatusAccepted     Status = "accepted"
	StatusProvisioning Status = "provisioning"
	StatusProvisioned  Status = "provisioned"
	StatusActive       Status = "active"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
	StatusRejected     Status = "rejected"
	StatusFailed       Status = "failed"
)

var cancellableStates = map[Status]bool{
	StatusRequested:    true,
	StatusPending:      true,
	StatusAccepted:     true,
	StatusProvisioning: true,
}

var extensibleStates = map[Status]bool{
	StatusActive:      true,
	StatusProvisioned: true,
}

var (
	// ErrUnauthorized is returned for any mutation attempted by a pubkey
	// that is neither the contract's requester nor provider. It never
	// distinguishes "not found" from "not yours".
	ErrUnauthorized = errors.New("contract: unauthorized")
	// ErrInvalidStateTransition is returned with the current status embedded
	// in the error message when a transition is attempted from a state that
	// does not permit it.
	ErrInvalidStateTransition = errors.New("contract: invalid state transition")
	// ErrNotExtensible is returned when Extend is called outside {active, provisioned}.
	ErrNotExtensible = errors.New("contract: not extensible in current state")
)

// Request carries everything needed to independently derive a contract id
// and begin the lifecycle.
type Request struct {
	RequesterPubKey []byte
	ProviderPubKey  []byte
	OfferingID      string
	Region          string
	InstanceConfig  string
	AmountE9s       uint64
	StartTimestamp  uint64 // 0 = unspecified
	SSHPubKey       string
	Contact         string
	Memo            []byte
	CreatedAtNs     uint64
}

// ID derives the deterministic contract id: SHA-256 over a canonical
// concatenation of (requester_pubkey, provider_pubkey, offering_id,
// ssh_pubkey, contact, amount_le, memo, created_at_le). Both parties compute
// this independently and MUST agree.
func (r Request) ID() [32]byte {
	h := sha256.New()
	h.Write(r.RequesterPubKey)
	h.Write(r.ProviderPubKey)
	h.Write([]byte(r.OfferingID))
	h.Write([]byte(r.SSHPubKey))
	h.Write([]byte(r.Contact))

	var amt [8]byte
	binary.LittleEndian.PutUint64(amt[:], r.AmountE9s)
	h.Write(amt[:])

	h.Write(r.Memo)

	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], r.CreatedAtNs)
	h.Write(ts[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Reply carries the provider's accept/reject decision for a contract.
type Reply struct {
	ContractID          [32]byte
	Accept              bool
	ResponseText        string
	ProvisioningDetails string
}

// HistoryEntry records a single status transition. History is append-only
// even when the Contract row itself is mutated in place.
type HistoryEntry struct {
	OldStatus Status
	NewStatus Status
	ActorKey  []byte
	Memo      string
	Timestamp uint64
}

// Contract is the full mutable rental record built from a Request.
type Contract struct {
	ID                 [32]byte
	Request            Request
	Status             Status
	ProvisioningDetails string
	EndTimestampNs      uint64
	MonthlyPriceE9s     uint64
	History             []HistoryEntry
}

// New creates a Contract in the initial "requested" state.
func New(req Request) *Contract {
	return &Contract{
		ID:      req.ID(),
		Request: req,
		Status:  StatusRequested,
	}
}

func (c *Contract) isParty(pubkey []byte) bool {
	return bytesEqual(pubkey, c.Request.RequesterPubKey) || bytesEqual(pubkey, c.Request.ProviderPubKey)
}

func (c *Contract) isRequester(pubkey []byte) bool {
	return bytesEqual(pubkey, c.Request.RequesterPubKey)
}

func (c *Contract) isProvider(pubkey []byte) bool {
	return bytesEqual(pubkey, c.Request.ProviderPubKey)
}

func (c *Contract) transition(newStatus Status, actor []byte, memo string, nowNs uint64) {
	c.History = append(c.History, HistoryEntry{
		OldStatus: c.Status,
		NewStatus: newStatus,
		ActorKey:  append([]byte(nil), actor...),
		Memo:      memo,
		Timestamp: nowNs,
	})
	c.Status = newStatus
}

// Cancel transitions a cancellable contract to "cancelled". Only the
// requester or provider may cancel.
func (c *Contract) Cancel(actorPubKey []byte, nowNs uint64) error {
	if !c.isParty(actorPubKey) {
		return ErrUnauthorized
	}
	if !cancellableStates[c.Status] {
		return fmt.Errorf("%w: current status %s", ErrInvalidStateTransition, c.Status)
	}
	c.transition(StatusCancelled, actorPubKey, "", nowNs)
	return nil
}

// Accept transitions a requested/pending contract to "accepted". Only the
// provider may accept.
func (c *Contract) Accept(providerPubKey []byte, nowNs uint64) error {
	if !c.isProvider(providerPubKey) {
		return ErrUnauthorized
	}
	if c.Status != StatusRequested && c.Status != StatusPending {
		return fmt.Errorf("%w: current status %s", ErrInvalidStateTransition, c.Status)
	}
	c.transition(StatusAccepted, providerPubKey, "", nowNs)
	return nil
}

// Reject transitions a requested/pending contract to "rejected". Only the
// provider may reject.
func (c *Contract) Reject(providerPubKey []byte, reason string, nowNs uint64) error {
	if !c.isProvider(providerPubKey) {
		return ErrUnauthorized
	}
	if c.Status != StatusRequested && c.Status != StatusPending {
		return fmt.Errorf("%w: current status %s", ErrInvalidStateTransition, c.Status)
	}
	c.transition(StatusRejected, providerPubKey, reason, nowNs)
	return nil
}

// MarkProvisioning transitions an accepted contract to "provisioning". Only
// the provider may do this.
func (c *Contract) MarkProvisioning(providerPubKey []byte, nowNs uint64) error {
	if !c.isProvider(providerPubKey) {
		return ErrUnauthorized
	}
	if c.Status != StatusAccepted {
		return fmt.Errorf("%w: current status %s", ErrInvalidStateTransition, c.Status)
	}
	c.transition(StatusProvisioning, providerPubKey, "", nowNs)
	return nil
}

// AttachProvisioningDetails records free-form provisioning details and
// transitions to "provisioned". Allowed from {accepted, provisioning}.
func (c *Contract) AttachProvisioningDetails(providerPubKey []byte, details string, nowNs uint64) error {
	if !c.isProvider(providerPubKey) {
		return ErrUnauthorized
	}
	if c.Status != StatusAccepted && c.Status != StatusProvisioning {
		return fmt.Errorf("%w: current status %s", ErrInvalidStateTransition, c.Status)
	}
	c.ProvisioningDetails = details
	c.transition(StatusProvisioned, providerPubKey, "", nowNs)
	return nil
}

// Activate transitions a provisioned contract to "active". Only the
// provider may activate.
func (c *Contract) Activate(providerPubKey []byte, nowNs uint64) error {
	if !c.isProvider(providerPubKey) {
		return ErrUnauthorized
	}
	if c.Status != StatusProvisioned {
		return fmt.Errorf("%w: current status %s", ErrInvalidStateTransition, c.Status)
	}
	c.transition(StatusActive, providerPubKey, "", nowNs)
	return nil
}

// Complete transitions an active contract to "completed". Only the
// provider may complete.
func (c *Contract) Complete(providerPubKey []byte, nowNs uint64) error {
	if !c.isProvider(providerPubKey) {
		return ErrUnauthorized
	}
	if c.Status != StatusActive {
		return fmt.Errorf("%w: current status %s", ErrInvalidStateTransition, c.Status)
	}
	c.transition(StatusCompleted, providerPubKey, "", nowNs)
	return nil
}

// MarkFailed transitions the contract to "failed", recording reason. The
// provider or the system (nil actor) may invoke this from any
// non-terminal state.
func (c *Contract) MarkFailed(actorPubKey []byte, reason string, nowNs uint64) error {
	if actorPubKey != nil && !c.isProvider(actorPubKey) {
		return ErrUnauthorized
	}
	if isTerminal(c.Status) {
		return fmt.Errorf("%w: current status %s", ErrInvalidStateTransition, c.Status)
	}
	c.transition(StatusFailed, actorPubKey, reason, nowNs)
	return nil
}

func isTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// Extend adds extensionHours to EndTimestampNs, pricing the extension as
// (monthly_price * extension_hours / 720) * 1e9 nano-units, rounded to the
// nearest integer. Only the requester or provider may extend, and only
// contracts in {active, provisioned} are extensible.
func (c *Contract) Extend(actorPubKey []byte, extensionHours uint64, nowNs uint64) (priceE9s uint64, err error) {
	if !c.isParty(actorPubKey) {
		return 0, ErrUnauthorized
	}
	if !extensibleStates[c.Status] {
		return 0, ErrNotExtensible
	}

	const hoursPerMonth = 720
	numerator := c.MonthlyPriceE9s * extensionHours
	priceE9s = (numerator + hoursPerMonth/2) / hoursPerMonth

	c.EndTimestampNs += extensionHours * uint64(3600_000_000_000)
	c.History = append(c.History, HistoryEntry{
		OldStatus: c.Status,
		NewStatus: c.Status,
		ActorKey:  append([]byte(nil), actorPubKey...),
		Memo:      fmt.Sprintf("extended by %dh", extensionHours),
		Timestamp: nowNs,
	})
	return priceE9s, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
