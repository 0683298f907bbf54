package octree

import (
	"fmt"
	"math/bits"
)

// MaxSupportedDepth is the deepest level a NodeID can address.
// Each level takes three bits below a leading sentinel bit.
const MaxSupportedDepth = 20

// NodeID is the Morton-coded path of a node from the root.
//
// The root is 1. A child ID is its parent's ID shifted left by three bits
// with the child octant in the low bits, so the depth is encoded by the
// position of the sentinel bit and the parent is always id >> 3.
type NodeID uint64

// RootID identifies the root node.
const RootID NodeID = 1

// Valid reports whether the ID has a well-formed sentinel.
func (id NodeID) Valid() bool {
	if id == 0 {
		return false
	}
	return (bits.Len64(uint64(id))-1)%3 == 0
}

// Depth returns the depth of the node; the root is at depth 0.
func (id NodeID) Depth() int {
	return (bits.Len64(uint64(id)) - 1) / 3
}

// Parent returns the parent ID. The root has no parent and returns 0.
func (id NodeID) Parent() NodeID {
	if id <= RootID {
		return 0
	}
	return id >> 3
}

// Child returns the ID of child octant i (0..7).
func (id NodeID) Child(i int) NodeID {
	return id<<3 | NodeID(i&7)
}

// Octant returns the octant of the node within its parent.
func (id NodeID) Octant() int {
	return int(id & 7)
}

// IsAncestorOf reports whether id is a strict ancestor of other.
func (id NodeID) IsAncestorOf(other NodeID) bool {
	d, od := id.Depth(), other.Depth()
	if od <= d {
		return false
	}
	return other>>(3*uint(od-d)) == id
}

// Coords returns the integer cell coordinates of the node on the
// 2^depth lattice of its level.
func (id NodeID) Coords() (x, y, z uint32) {
	depth := id.Depth()
	for level := depth - 1; level >= 0; level-- {
		oct := uint32(id>>(3*uint(level))) & 7
		x = x<<1 | oct&1
		y = y<<1 | (oct>>1)&1
		z = z<<1 | (oct>>2)&1
	}
	return x, y, z
}

// FromCoords builds the ID of the cell at the given depth and lattice
// coordinates. Coordinates must be below 2^depth.
func FromCoords(depth int, x, y, z uint32) NodeID {
	id := RootID
	for level := depth - 1; level >= 0; level-- {
		oct := (x>>uint(level))&1 | ((y>>uint(level))&1)<<1 | ((z>>uint(level))&1)<<2
		id = id.Child(int(oct))
	}
	return id
}

// String renders the ID as depth and octant path, e.g. "2:37".
func (id NodeID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("invalid(%#x)", uint64(id))
	}
	depth := id.Depth()
	buf := make([]byte, 0, depth+4)
	buf = fmt.Appendf(buf, "%d:", depth)
	if depth == 0 {
		return string(append(buf, 'r'))
	}
	for level := depth - 1; level >= 0; level-- {
		buf = append(buf, byte('0'+(id>>(3*uint(level)))&7))
	}
	return string(buf)
}
