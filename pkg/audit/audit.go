// Package audit maintains an append-only commitment over the ledger's event
// stream. Each committed event is encoded deterministically, hashed as an
// RFC 6962 leaf, and folded into a compact Merkle range whose root anchors
// the full transition history. Downstream consumers can mirror the event
// stream and verify it against the root.
package audit

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/rfc6962"

	"github.com/relves/hermod/pkg/types"
)

// Log is the rolling event commitment. It is not safe for concurrent use;
// the service appends under the same serialization as ledger transitions.
type Log struct {
	rf  *compact.RangeFactory
	rng *compact.Range
	enc cbor.EncMode
}

// NewLog returns an empty commitment log.
func NewLog() (*Log, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("create deterministic encoder: %w", err)
	}
	rf := &compact.RangeFactory{Hash: rfc6962.DefaultHasher.HashChildren}
	return &Log{
		rf:  rf,
		rng: rf.NewEmptyRange(0),
		enc: enc,
	}, nil
}

// Restore reconstructs a commitment log from a persisted size and the
// compact range hashes returned by Hashes.
func Restore(size uint64, hashes [][]byte) (*Log, error) {
	log, err := NewLog()
	if err != nil {
		return nil, err
	}
	rng, err := log.rf.NewRange(0, size, hashes)
	if err != nil {
		return nil, fmt.Errorf("restore compact range at size %d: %w", size, err)
	}
	log.rng = rng
	return log, nil
}

// Append encodes the event, folds it into the range, and returns the leaf
// hash.
func (l *Log) Append(ev types.Event) ([]byte, error) {
	data, err := l.enc.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	leaf := rfc6962.DefaultHasher.HashLeaf(data)
	if err := l.rng.Append(leaf, nil); err != nil {
		return nil, fmt.Errorf("append leaf: %w", err)
	}
	return leaf, nil
}

// Root returns the current commitment root.
func (l *Log) Root() ([]byte, error) {
	if l.rng.End() == 0 {
		return rfc6962.DefaultHasher.EmptyRoot(), nil
	}
	root, err := l.rng.GetRootHash(nil)
	if err != nil {
		return nil, fmt.Errorf("compute root: %w", err)
	}
	return root, nil
}

// Size returns the number of committed events.
func (l *Log) Size() uint64 {
	return l.rng.End()
}

// Hashes returns the compact range hashes for persistence.
func (l *Log) Hashes() [][]byte {
	return l.rng.Hashes()
}

// EncodeEvent returns the deterministic encoding used for leaf hashing.
// Exposed so consumers mirroring the event stream can recompute leaves.
func (l *Log) EncodeEvent(ev types.Event) ([]byte, error) {
	return l.enc.Marshal(ev)
}
