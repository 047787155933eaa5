package core

import (
	"LendLedger/internal/event"
	"LendLedger/internal/state"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/holiman/uint256"
)

const GenesisHashSeed = "LendLedger:genesis:v1"

// StateHasher chains a hash over every committed mutation
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: sha256.Sum256([]byte(GenesisHashSeed)),
	}
}

// ComputeHash calculates
//
//	state_hash[N] = SHA-256(prev_hash || sequence BE || event_type BE || state_digest)
//
// and advances the chain tip.
func (h *StateHasher) ComputeHash(sequence int64, et event.EventType, stateDigest []byte) [32]byte {
	hash := h.Peek(sequence, et, stateDigest)
	h.prevHash = hash
	return hash
}

// Peek computes the next hash without advancing the chain.
func (h *StateHasher) Peek(sequence int64, et event.EventType, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	var buf [12]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(sequence))
	binary.BigEndian.PutUint32(buf[8:], uint32(et))
	hasher.Write(buf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// stateDigest serialises the touched positions in address order followed
// by the price.
func stateDigest(positions []*state.Position, price *uint256.Int) []byte {
	sorted := make([]*state.Position, len(positions))
	copy(sorted, positions)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Account.Bytes(), sorted[j].Account.Bytes()) < 0
	})

	digest := make([]byte, 0, len(sorted)*84+32)
	for _, pos := range sorted {
		digest = append(digest, pos.CanonicalBytes()...)
	}
	p := price.Bytes32()
	return append(digest, p[:]...)
}
