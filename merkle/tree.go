package merkle

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/zkidentity/attest/hasher"
)

// ErrLeafNotFound is returned when a proof is requested for an index outside
// the tree.
var ErrLeafNotFound = errors.New("merkle: leaf not found")

// Tree is a dense, append-only binary Merkle tree over field-element leaves.
// An empty tree has the fixed empty-digest root; a one-leaf tree's root is
// the leaf itself. Tree is not safe for concurrent use; callers hold their
// own lock.
type Tree struct {
	levels [][]*big.Int // levels[0] = leaves, last level has one node
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{}
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	if len(t.levels) == 0 {
		return 0
	}
	return len(t.levels[0])
}

// Root returns the current root.
func (t *Tree) Root() *big.Int {
	if len(t.levels) == 0 {
		return hasher.EmptyDigest()
	}
	top := t.levels[len(t.levels)-1]
	return new(big.Int).Set(top[0])
}

// Append adds a leaf and recomputes the tree, returning the leaf index and
// the new root. The previous root is replaced, never mutated in place.
func (t *Tree) Append(leaf *big.Int) (int, *big.Int, error) {
	var leaves []*big.Int
	if len(t.levels) > 0 {
		leaves = t.levels[0]
	}
	leaves = append(leaves, new(big.Int).Set(leaf))

	levels, err := buildLevels(leaves)
	if err != nil {
		return 0, nil, err
	}
	t.levels = levels
	return len(leaves) - 1, t.Root(), nil
}

// Update replaces the leaf at index and recomputes the tree, returning the
// new root.
func (t *Tree) Update(index int, leaf *big.Int) (*big.Int, error) {
	if index < 0 || index >= t.Len() {
		return nil, fmt.Errorf("%w: index %d of %d leaves", ErrLeafNotFound, index, t.Len())
	}
	leaves := t.levels[0]
	leaves[index] = new(big.Int).Set(leaf)

	levels, err := buildLevels(leaves)
	if err != nil {
		return nil, err
	}
	t.levels = levels
	return t.Root(), nil
}

// Proof returns the inclusion proof for the leaf at index, in the
// siblings/pathBits shape VerifyInclusion consumes. A node carried up past an
// odd level contributes no step.
func (t *Tree) Proof(index int) (siblings []*big.Int, pathBits []bool, err error) {
	if index < 0 || index >= t.Len() {
		return nil, nil, fmt.Errorf("%w: index %d of %d leaves", ErrLeafNotFound, index, t.Len())
	}

	for _, level := range t.levels {
		if len(level) == 1 {
			break
		}
		if index%2 == 0 {
			if index+1 < len(level) {
				siblings = append(siblings, new(big.Int).Set(level[index+1]))
				pathBits = append(pathBits, true)
			}
			// Otherwise the node is carried up unpaired.
		} else {
			siblings = append(siblings, new(big.Int).Set(level[index-1]))
			pathBits = append(pathBits, false)
		}
		index /= 2
	}
	return siblings, pathBits, nil
}

func buildLevels(leaves []*big.Int) ([][]*big.Int, error) {
	levels := [][]*big.Int{leaves}
	level := leaves
	for len(level) > 1 {
		next := make([]*big.Int, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			p, err := Parent(level[i], level[i+1])
			if err != nil {
				return nil, err
			}
			next = append(next, p)
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		levels = append(levels, next)
		level = next
	}
	return levels, nil
}
