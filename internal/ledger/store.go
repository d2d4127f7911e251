package ledger

import (
	"errors"
	"fmt"
	"sync"
)

// ErrTamperMismatch is returned by ReadRawWindow when the caller-supplied
// preceding bytes do not match the underlying storage, indicating a forked
// or corrupted upstream.
var ErrTamperMismatch = errors.New("ledger: tamper mismatch")

// errSkipLabel is never returned to callers and no code path uses it:
// IterRaw drops entries that fail the optional label filter without it.
var errSkipLabel = errors.New("ledger: label filtered")

// BlockRecord pairs a decoded header with its entries, as yielded by IterRaw.
type BlockRecord struct {
	Header   BlockHeader
	Entries  []Entry
	Position uint64 // byte offset of this block's header
}

// Store is an append-only log over an in-memory backing byte array. Entries
// accumulate in a pending buffer until CommitBlock lays them out as a new
// hash-chained block.
type Store struct {
	mu         sync.Mutex
	backing    []byte // committed bytes only
	pending    []Entry
	lastHash   [32]byte
	nowNs      func() uint64
	appendPos  uint64 // never assigned; offsets are taken from len(backing)
	blockCount uint64
}

// NewStore returns an empty Store. nowNs supplies the commit timestamp
// source (nanoseconds since epoch); pass a fixed clock in tests.
func NewStore(nowNs func() uint64) *Store {
	if nowNs == nil {
		nowNs = func() uint64 { return 0 }
	}
	return &Store{nowNs: nowNs}
}

// AppendEntry adds an entry to the pending (next) block buffer. Pending
// entries are visible to best-effort readers but are not yet hash-chained.
func (s *Store) AppendEntry(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, e)
}

// PendingEntries returns a snapshot of the not-yet-committed buffer.
func (s *Store) PendingEntries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.pending))
	copy(out, s.pending)
	return out
}

// CommitBlock serialises the pending buffer deterministically, computes the
// new block hash over (prev_hash || serialised_entries || timestamp),
// appends the header+body at the current position, and clears the pending
// buffer. An empty commit (no pending entries) is permitted.
func (s *Store) CommitBlock() (BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.pending
	s.pending = nil

	serialised, err := EncodeEntries(entries)
	if err != nil {
		return BlockRecord{}, fmt.Errorf("ledger: serialise entries: %w", err)
	}
	ts := s.nowNs()
	hash := BlockHash(s.lastHash, serialised, ts)

	header := BlockHeader{
		PrevHash:    s.lastHash,
		EntryCount:  uint32(len(entries)),
		JumpBytes:   uint64(BlockHeaderSize + len(serialised)),
		TimestampNs: ts,
	}

	position := uint64(len(s.backing))
	s.backing = append(s.backing, EncodeHeader(header)...)
	s.backing = append(s.backing, serialised...)

	s.lastHash = hash
	s.blockCount++

	return BlockRecord{Header: header, Entries: entries, Position: position}, nil
}

// CertifiedRoot returns the hash of the most recently committed block.
func (s *Store) CertifiedRoot() [32]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHash
}

// Len returns the number of committed bytes.
func (s *Store) Len() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.backing))
}

// IterRaw walks committed blocks starting at the given byte position,
// yielding (header, entries) pairs until a zeroed header (end-of-log) is
// encountered. labelFilter, if non-empty, skips entries whose label does
// not match any entry in the set.
func (s *Store) IterRaw(start uint64, labelFilter map[string]bool) ([]BlockRecord, error) {
	s.mu.Lock()
	backing := s.backing
	s.mu.Unlock()

	var out []BlockRecord
	pos := start
	for pos < uint64(len(backing)) {
		if pos+BlockHeaderSize > uint64(len(backing)) {
			break
		}
		header, err := DecodeHeader(backing[pos : pos+BlockHeaderSize])
		if err != nil {
			return nil, err
		}
		if header.IsZero() {
			break
		}
		bodyStart := pos + BlockHeaderSize
		bodyLen := header.JumpBytes - BlockHeaderSize
		if bodyStart+bodyLen > uint64(len(backing)) {
			return nil, fmt.Errorf("ledger: truncated block body at position %d", pos)
		}
		entries, err := DecodeEntries(backing[bodyStart:bodyStart+bodyLen], header.EntryCount)
		if err != nil {
			return nil, err
		}
		if len(labelFilter) > 0 {
			filtered := entries[:0:0]
			for _, e := range entries {
				if labelFilter[e.Label] {
					filtered = append(filtered, e)
				}
			}
			entries = filtered
		}
		out = append(out, BlockRecord{Header: header, Entries: entries, Position: pos})
		pos += header.JumpBytes
	}
	return out, nil
}

// ReadRawWindow returns up to maxBytes raw bytes starting at position, for
// pull-sync. If precedingWindow is non-empty, it must match the 64 bytes
// immediately preceding position in storage, or ErrTamperMismatch is
// returned.
func (s *Store) ReadRawWindow(position uint64, maxBytes uint64, precedingWindow []byte) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(precedingWindow) > 0 {
		const windowSize = 64
		if position < windowSize || len(precedingWindow) != windowSize {
			return nil, false, ErrTamperMismatch
		}
		actual := s.backing[position-windowSize : position]
		if !bytesEqual(actual, precedingWindow) {
			return nil, false, ErrTamperMismatch
		}
	}

	if position > uint64(len(s.backing)) {
		return nil, false, fmt.Errorf("ledger: position %d beyond end of log (%d bytes)", position, len(s.backing))
	}

	end := position + maxBytes
	more := true
	if end >= uint64(len(s.backing)) {
		end = uint64(len(s.backing))
		more = false
	}
	chunk := make([]byte, end-position)
	copy(chunk, s.backing[position:end])
	return chunk, more, nil
}

// WriteRawSegment overwrites raw storage at the cursor position (bootstrap
// push) and truncates anything beyond the written segment, then
// zero-terminates the following header slot by relying on the caller's
// segment already ending with committed block data (no explicit
// zero-header write is needed: Len() reports the new end-of-log).
func (s *Store) WriteRawSegment(position uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if position > uint64(len(s.backing)) {
		return fmt.Errorf("ledger: push position %d beyond current length %d", position, len(s.backing))
	}
	s.backing = append(s.backing[:position], data...)

	records, err := s.iterRawLocked(0, nil)
	if err != nil {
		return fmt.Errorf("ledger: push produced unreadable log: %w", err)
	}
	if len(records) > 0 {
		last := records[len(records)-1]
		s.lastHash = BlockHash(last.Header.PrevHash, mustEncodeEntries(last.Entries), last.Header.TimestampNs)
	}
	s.blockCount = uint64(len(records))
	return nil
}

func (s *Store) iterRawLocked(start uint64, labelFilter map[string]bool) ([]BlockRecord, error) {
	backing := s.backing
	var out []BlockRecord
	pos := start
	for pos < uint64(len(backing)) {
		if pos+BlockHeaderSize > uint64(len(backing)) {
			break
		}
		header, err := DecodeHeader(backing[pos : pos+BlockHeaderSize])
		if err != nil {
			return nil, err
		}
		if header.IsZero() {
			break
		}
		bodyStart := pos + BlockHeaderSize
		bodyLen := header.JumpBytes - BlockHeaderSize
		if bodyStart+bodyLen > uint64(len(backing)) {
			return nil, fmt.Errorf("ledger: truncated block body at position %d", pos)
		}
		entries, err := DecodeEntries(backing[bodyStart:bodyStart+bodyLen], header.EntryCount)
		if err != nil {
			return nil, err
		}
		out = append(out, BlockRecord{Header: header, Entries: entries, Position: pos})
		pos += header.JumpBytes
	}
	return out, nil
}

func mustEncodeEntries(entries []Entry) []byte {
	enc, err := EncodeEntries(entries)
	if err != nil {
		// entries were already decoded from valid storage; re-encoding
		// cannot fail.
		panic(err)
	}
	return enc
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
