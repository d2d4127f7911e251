// Package sync implements the pull/push replication protocol between
// ledger replicas: cursor-based pull reads with tamper-check verification,
// and a single authorized-writer push path for bootstrapping empty
// replicas.
package sync

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/decent-stuff/decent-cloud/internal/ledger"
)

// ErrPushAlreadyAuthorized is returned by AuthorizePush once a pusher
// principal has already been set.
var ErrPushAlreadyAuthorized = errors.New("sync: push already authorized for a different principal")

// ErrPushNotAuthorized is returned when Push is called before any
// AuthorizePush call has succeeded.
var ErrPushNotAuthorized = errors.New("sync: no authorized pusher set")

// ErrUnauthorizedPusher is returned when Push is called by a principal
// other than the one recorded by AuthorizePush.
var ErrUnauthorizedPusher = errors.New("sync: caller is not the authorized pusher")

// Cursor is the opaque pull-sync position record. Its wire form is the
// URL-encoded query string position=<u64>&response_bytes=<u64>&more=<bool>.
type Cursor struct {
	Position      uint64
	ResponseBytes uint64
	More          bool
}

// Encode renders the cursor in its opaque URL-encoded wire form.
func (c Cursor) Encode() string {
	v := url.Values{}
	v.Set("position", strconv.FormatUint(c.Position, 10))
	v.Set("response_bytes", strconv.FormatUint(c.ResponseBytes, 10))
	v.Set("more", strconv.FormatBool(c.More))
	return v.Encode()
}

// ParseCursor decodes a cursor from its URL-encoded wire form.
func ParseCursor(raw string) (Cursor, error) {
	v, err := url.ParseQuery(raw)
	if err != nil {
		return Cursor{}, fmt.Errorf("sync: parse cursor: %w", err)
	}
	pos, err := strconv.ParseUint(v.Get("position"), 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("sync: parse cursor position: %w", err)
	}
	bytesN, err := strconv.ParseUint(v.Get("response_bytes"), 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("sync: parse cursor response_bytes: %w", err)
	}
	more, err := strconv.ParseBool(v.Get("more"))
	if err != nil {
		return Cursor{}, fmt.Errorf("sync: parse cursor more: %w", err)
	}
	return Cursor{Position: pos, ResponseBytes: bytesN, More: more}, nil
}

// PullResult is what a Pull call returns: the raw bytes starting at the
// requested cursor and the next cursor to present on the following call.
type PullResult struct {
	Data   []byte
	Cursor Cursor
}

// Protocol wires a ledger store to the pull/push sync operations. It owns
// the set-once authorized-pusher principal; RefreshHook is invoked whenever
// a pull or push completes a logical batch, to trigger the caller's ledger
// refresh and cache rebuild.
type Protocol struct {
	mu             sync.Mutex
	ledger         *ledger.Store
	chunkBytes     uint64
	authorizedKey  []byte
	pushAuthorized bool
	RefreshHook    func()
}

// NewProtocol returns a Protocol serving store, returning up to chunkBytes
// per pull call when the caller does not request fewer.
func NewProtocol(store *ledger.Store, chunkBytes uint64) *Protocol {
	return &Protocol{ledger: store, chunkBytes: chunkBytes}
}

// Pull serves one pull-sync round: the server returns raw bytes starting at
// cur.Position, verifying the caller's claimed preceding window if supplied.
// When the resulting cursor's More flag clears, RefreshHook fires.
func (p *Protocol) Pull(cur Cursor, precedingWindow []byte) (PullResult, error) {
	maxBytes := cur.ResponseBytes
	if maxBytes == 0 || maxBytes > p.chunkBytes {
		maxBytes = p.chunkBytes
	}

	data, more, err := p.ledger.ReadRawWindow(cur.Position, maxBytes, precedingWindow)
	if err != nil {
		return PullResult{}, err
	}

	next := Cursor{Position: cur.Position + uint64(len(data)), ResponseBytes: cur.ResponseBytes, More: more}
	if !more && p.RefreshHook != nil {
		p.RefreshHook()
	}
	return PullResult{Data: data, Cursor: next}, nil
}

// AuthorizePush records callerKey as the sole authorized pusher, but only
// if the ledger is still empty and no pusher has been set yet. Later calls
// from a different key are refused.
func (p *Protocol) AuthorizePush(callerKey []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pushAuthorized {
		if !bytesEqual(p.authorizedKey, callerKey) {
			return ErrPushAlreadyAuthorized
		}
		return nil
	}
	if p.ledger.Len() > 0 {
		return errors.New("sync: push authorization requires an empty ledger")
	}
	p.authorizedKey = append([]byte(nil), callerKey...)
	p.pushAuthorized = true
	return nil
}

// Push overwrites raw ledger storage at cur.Position with data, bootstrap
// style. Only the principal established by AuthorizePush may call this.
func (p *Protocol) Push(callerKey []byte, cur Cursor, data []byte) error {
	p.mu.Lock()
	if !p.pushAuthorized {
		p.mu.Unlock()
		return ErrPushNotAuthorized
	}
	if !bytesEqual(p.authorizedKey, callerKey) {
		p.mu.Unlock()
		return ErrUnauthorizedPusher
	}
	p.mu.Unlock()

	if err := p.ledger.WriteRawSegment(cur.Position, data); err != nil {
		return err
	}
	if p.RefreshHook != nil {
		p.RefreshHook()
	}
	return nil
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
