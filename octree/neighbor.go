package octree

// Neighbor returns the node adjacent to id across face at the same or a
// coarser depth: the deepest existing node whose cell contains the
// same-depth cell on the other side. It reports false at the world
// boundary. A coarser result is always a leaf; a same-depth result may
// have children.
func (t *Tree) Neighbor(id NodeID, face Face) (NodeID, bool) {
	if _, ok := t.nodes[id]; !ok {
		return 0, false
	}
	target, ok := adjacentCell(id, face)
	if !ok {
		return 0, false
	}
	for cur := target; cur != 0; cur = cur.Parent() {
		if _, ok := t.nodes[cur]; ok {
			return cur, true
		}
	}
	return 0, false
}

// Neighbors returns the leaves touching face of id from the other side.
// That is either one leaf at the same or a coarser depth, or the finer
// leaves of the same-depth neighbor that lie against the face.
func (t *Tree) Neighbors(id NodeID, face Face) []NodeID {
	n, ok := t.Neighbor(id, face)
	if !ok {
		return nil
	}
	var out []NodeID
	t.collectFace(n, face.Opposite(), &out)
	return out
}

// collectFace gathers the leaves of the subtree at id that touch its face f.
func (t *Tree) collectFace(id NodeID, f Face, out *[]NodeID) {
	node, ok := t.nodes[id]
	if !ok {
		return
	}
	if node.leaf {
		*out = append(*out, id)
		return
	}
	axisBit := 1 << f.Axis()
	for i := range 8 {
		upper := i&axisBit != 0
		if upper == f.Positive() {
			t.collectFace(id.Child(i), f, out)
		}
	}
}

// adjacentCell returns the same-depth cell across face, if inside the world.
func adjacentCell(id NodeID, face Face) (NodeID, bool) {
	depth := id.Depth()
	if depth == 0 {
		return 0, false
	}
	x, y, z := id.Coords()
	c := [3]int64{int64(x), int64(y), int64(z)}
	c[face.Axis()] += int64(face.Step())
	limit := int64(1) << uint(depth)
	if c[face.Axis()] < 0 || c[face.Axis()] >= limit {
		return 0, false
	}
	return FromCoords(depth, uint32(c[0]), uint32(c[1]), uint32(c[2])), true
}

// FaceOffset locates the face of fine within the matching face of its
// coarser neighbor coarse, in units of fine's edge length. The values are
// the coordinates of fine along the two face plane axes relative to the
// corner of coarse, and the size ratio between the two nodes.
func FaceOffset(fine, coarse NodeID, face Face) (offU, offV int, ratio int) {
	shift := uint(fine.Depth() - coarse.Depth())
	ratio = 1 << shift
	fx, fy, fz := fine.Coords()
	cx, cy, cz := coarse.Coords()
	fc := [3]int{int(fx), int(fy), int(fz)}
	cc := [3]int{int(cx) << shift, int(cy) << shift, int(cz) << shift}
	u, v := face.PlaneAxes()
	return fc[u] - cc[u], fc[v] - cc[v], ratio
}
