package cryptoframe

import (
	"sync"
	"time"

	"github.com/acmis/benchcontroller/internal/benchrors"
)

const (
	maxLoRaPayload   = 255
	fragmentHeaderSz = 3
	maxFragmentData  = 252
	groupExpiry      = 10 * time.Second
)

// Fragment is one radio-sized piece of an encoded frame.
type Fragment struct {
	GroupID    uint8
	Index      uint8
	Total      uint8
	Data       []byte
}

// ToBytes serializes a fragment as frag_id|frag_index|total|data.
func (f Fragment) ToBytes() []byte {
	out := make([]byte, fragmentHeaderSz+len(f.Data))
	out[0] = f.GroupID
	out[1] = f.Index
	out[2] = f.Total
	copy(out[fragmentHeaderSz:], f.Data)
	return out
}

// FragmentFromBytes parses the wire form written by ToBytes.
func FragmentFromBytes(b []byte) (Fragment, error) {
	if len(b) < fragmentHeaderSz {
		return Fragment{}, benchrors.Frame("fragment too short", nil)
	}
	return Fragment{
		GroupID: b[0],
		Index:   b[1],
		Total:   b[2],
		Data:    append([]byte(nil), b[fragmentHeaderSz:]...),
	}, nil
}

// Split breaks frame into one or more Fragments under groupID.
// Frames of at most 255 bytes are emitted as a single fragment (total=1).
func Split(frame []byte, groupID uint8) []Fragment {
	if len(frame) <= maxLoRaPayload {
		return []Fragment{{GroupID: groupID, Index: 0, Total: 1, Data: frame}}
	}

	total := (len(frame) + maxFragmentData - 1) / maxFragmentData
	frags := make([]Fragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxFragmentData
		end := start + maxFragmentData
		if end > len(frame) {
			end = len(frame)
		}
		frags = append(frags, Fragment{
			GroupID: groupID,
			Index:   uint8(i),
			Total:   uint8(total),
			Data:    frame[start:end],
		})
	}
	return frags
}

// Reassembler accumulates fragments across groups and emits a full frame
// once every index for a group has arrived. Groups older than groupExpiry
// are discarded by CleanupStale.
type Reassembler struct {
	mu         sync.Mutex
	buffers    map[uint8]map[uint8][]byte
	totals     map[uint8]uint8
	firstSeen  map[uint8]time.Time
}

// NewReassembler constructs an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{
		buffers:   make(map[uint8]map[uint8][]byte),
		totals:    make(map[uint8]uint8),
		firstSeen: make(map[uint8]time.Time),
	}
}

// Add ingests one fragment, returning the reconstructed frame once the
// group is complete, or nil if more fragments are still expected.
// Single-fragment messages bypass buffering entirely.
func (r *Reassembler) Add(f Fragment) []byte {
	if f.Total == 1 {
		return append([]byte(nil), f.Data...)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.buffers[f.GroupID]
	if !ok {
		bucket = make(map[uint8][]byte)
		r.buffers[f.GroupID] = bucket
		r.totals[f.GroupID] = f.Total
		r.firstSeen[f.GroupID] = time.Now()
	}
	bucket[f.Index] = f.Data

	if uint8(len(bucket)) < r.totals[f.GroupID] {
		return nil
	}

	out := make([]byte, 0, len(bucket)*maxFragmentData)
	for i := uint8(0); i < r.totals[f.GroupID]; i++ {
		out = append(out, bucket[i]...)
	}

	delete(r.buffers, f.GroupID)
	delete(r.totals, f.GroupID)
	delete(r.firstSeen, f.GroupID)
	return out
}

// CleanupStale discards any group whose first fragment arrived more than
// groupExpiry ago without completing.
func (r *Reassembler) CleanupStale() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for gid, seen := range r.firstSeen {
		if now.Sub(seen) > groupExpiry {
			delete(r.buffers, gid)
			delete(r.totals, gid)
			delete(r.firstSeen, gid)
		}
	}
}
