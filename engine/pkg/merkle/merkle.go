// Package merkle builds the settlement entitlement tree and verifies claim proofs against its root.
//
// Leaves are hashed as sha256(0x00 || item) and inner nodes as sha256(0x01 || min(a, b) || max(a, b)),
// so a proof is a plain list of siblings with no left/right markers. A level with an odd number of
// nodes pairs its last node with itself.
//
// Settlement trees hash each entitlement with HashIndexedLeafNode, which appends the node's tree
// index to staker, withdrawer, vote account and claim. The claimed bitmap slot is then part of what
// the proof commits to. The price is interop: roots built by tools that hash the four-field
// HashLeafNode do not match settlement roots built here, and claims against such roots fail
// verification. Use HashLeafNode only for trees that never back an on-chain settlement.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

const (
	leafPrefix         = 0x00
	intermediatePrefix = 0x01
)

var (
	ErrEmptyTree       = errors.New("merkle tree needs at least one leaf")
	ErrIndexOutOfRange = errors.New("leaf index out of range")
)

// HashLeafNode is the tree node hash of one entitlement: sha256(staker || withdrawer || vote || claim_le).
func HashLeafNode(stakeAuthority, withdrawAuthority, voteAccount solana.PublicKey, claim uint64) solana.Hash {
	h := sha256.New()
	h.Write(stakeAuthority[:])
	h.Write(withdrawAuthority[:])
	h.Write(voteAccount[:])
	var amount [8]byte
	binary.LittleEndian.PutUint64(amount[:], claim)
	h.Write(amount[:])
	var out solana.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// HashIndexedLeafNode extends HashLeafNode with the node's position in the tree. Settlement trees
// use it so the claimed bitmap index is bound by the proof.
func HashIndexedLeafNode(stakeAuthority, withdrawAuthority, voteAccount solana.PublicKey, claim, index uint64) solana.Hash {
	var buf [32*3 + 16]byte
	copy(buf[0:32], stakeAuthority[:])
	copy(buf[32:64], withdrawAuthority[:])
	copy(buf[64:96], voteAccount[:])
	binary.LittleEndian.PutUint64(buf[96:104], claim)
	binary.LittleEndian.PutUint64(buf[104:112], index)
	return solana.Hash(sha256.Sum256(buf[:]))
}

// HashLeaf is the domain-separated hash stored at the bottom level of the tree.
func HashLeaf(item solana.Hash) solana.Hash {
	return hashWithPrefix(leafPrefix, item[:])
}

func hashIntermediate(a, b solana.Hash) solana.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return hashWithPrefix(intermediatePrefix, a[:], b[:])
}

func hashWithPrefix(prefix byte, parts ...[]byte) solana.Hash {
	h := sha256.New()
	h.Write([]byte{prefix})
	for _, p := range parts {
		h.Write(p)
	}
	var out solana.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Tree keeps every level, leaves first.
type Tree struct {
	levels [][]solana.Hash
}

func NewTree(items []solana.Hash) (*Tree, error) {
	if len(items) == 0 {
		return nil, ErrEmptyTree
	}
	level := make([]solana.Hash, len(items))
	for i, item := range items {
		level[i] = HashLeaf(item)
	}
	levels := [][]solana.Hash{level}
	for len(level) > 1 {
		next := make([]solana.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashIntermediate(level[i], right))
		}
		levels = append(levels, next)
		level = next
	}
	return &Tree{levels: levels}, nil
}

func (t *Tree) Root() solana.Hash {
	return t.levels[len(t.levels)-1][0]
}

func (t *Tree) Len() int {
	return len(t.levels[0])
}

// Leaf returns the prefixed leaf hash at index.
func (t *Tree) Leaf(index int) (solana.Hash, error) {
	if index < 0 || index >= t.Len() {
		return solana.Hash{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, t.Len())
	}
	return t.levels[0][index], nil
}

// Proof returns the sibling hashes from the leaf at index up to, but excluding, the root.
func (t *Tree) Proof(index int) ([]solana.Hash, error) {
	if index < 0 || index >= t.Len() {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, t.Len())
	}
	proof := make([]solana.Hash, 0, len(t.levels)-1)
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := index ^ 1
		if sibling >= len(level) {
			sibling = index
		}
		proof = append(proof, level[sibling])
		index /= 2
	}
	return proof, nil
}

// Verify reports whether leaf, a prefixed leaf hash, hashes up to root along proof.
func Verify(proof []solana.Hash, root, leaf solana.Hash) bool {
	computed := leaf
	for _, sibling := range proof {
		computed = hashIntermediate(computed, sibling)
	}
	return computed == root
}
