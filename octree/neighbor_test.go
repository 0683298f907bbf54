package octree

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTree_NeighborSameDepth(t *testing.T) {
	tree := newTestTree(t, 3)
	kids, _ := tree.Subdivide(RootID)

	tests := []struct {
		id   NodeID
		face Face
		want NodeID
		ok   bool
	}{
		{kids[0], PosX, kids[1], true},
		{kids[0], PosY, kids[2], true},
		{kids[0], PosZ, kids[4], true},
		{kids[0], NegX, 0, false},
		{kids[7], NegZ, kids[3], true},
		{RootID, PosX, 0, false},
	}
	for _, tt := range tests {
		got, ok := tree.Neighbor(tt.id, tt.face)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Neighbor(%v, %v) = %v, %v; want %v, %v", tt.id, tt.face, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTree_NeighborCoarser(t *testing.T) {
	tree := newTestTree(t, 4)
	kids, _ := tree.Subdivide(RootID)
	grand, _ := tree.Subdivide(kids[0])
	deep, _ := tree.Subdivide(grand[1])

	// deep[1] sits on the +X face of kids[0]; across it lies kids[1].
	got, ok := tree.Neighbor(deep[1], PosX)
	if !ok || got != kids[1] {
		t.Errorf("Neighbor(%v, +X) = %v, %v; want %v", deep[1], got, ok, kids[1])
	}

	offU, offV, ratio := FaceOffset(deep[1], kids[1], PosX)
	if ratio != 4 {
		t.Errorf("ratio = %d, want 4", ratio)
	}
	// deep[1] is at y,z = 0 inside kids[0] at depth 3.
	if offU != 0 || offV != 0 {
		t.Errorf("offset = (%d, %d), want (0, 0)", offU, offV)
	}

	offU, offV, _ = FaceOffset(deep[7], kids[1], PosX)
	if offU != 1 || offV != 1 {
		t.Errorf("offset of octant 7 = (%d, %d), want (1, 1)", offU, offV)
	}
}

func TestTree_NeighborsFiner(t *testing.T) {
	tree := newTestTree(t, 3)
	kids, _ := tree.Subdivide(RootID)
	grand, _ := tree.Subdivide(kids[1])

	got := tree.Neighbors(kids[0], PosX)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })

	// Children of kids[1] on its -X face have bit 0 clear.
	want := []NodeID{grand[0], grand[2], grand[4], grand[6]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Neighbors(+X) mismatch (-want +got):\n%s", diff)
	}

	back := tree.Neighbors(grand[2], NegX)
	if diff := cmp.Diff([]NodeID{kids[0]}, back); diff != "" {
		t.Errorf("Neighbors(-X) mismatch (-want +got):\n%s", diff)
	}
}

func TestFace_Properties(t *testing.T) {
	for _, f := range AllFaces {
		if f.Opposite().Opposite() != f {
			t.Errorf("%v.Opposite().Opposite() != %v", f, f)
		}
		if f.Opposite().Axis() != f.Axis() || f.Opposite().Positive() == f.Positive() {
			t.Errorf("%v.Opposite() = %v", f, f.Opposite())
		}
		u, v := f.PlaneAxes()
		if u == f.Axis() || v == f.Axis() || u >= v {
			t.Errorf("%v.PlaneAxes() = %d, %d", f, u, v)
		}
	}
	var s FaceSet
	s = s.With(NegY).With(PosZ)
	if !s.Has(NegY) || !s.Has(PosZ) || s.Has(PosX) {
		t.Errorf("FaceSet = %08b", s)
	}
}
