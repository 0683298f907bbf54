package octree

import "fmt"

// Face names one of the six faces of a node.
type Face uint8

// Faces in stitching order.
const (
	PosX Face = iota
	NegX
	PosY
	NegY
	PosZ
	NegZ
)

// NumFaces is the number of faces of a box.
const NumFaces = 6

// AllFaces lists the faces in stitching order.
var AllFaces = [NumFaces]Face{PosX, NegX, PosY, NegY, PosZ, NegZ}

// Axis returns 0, 1 or 2 for X, Y or Z.
func (f Face) Axis() int { return int(f) / 2 }

// Positive reports whether the face points along +axis.
func (f Face) Positive() bool { return f%2 == 0 }

// Opposite returns the face on the other side of the same axis.
func (f Face) Opposite() Face { return f ^ 1 }

// Step returns the lattice step across the face.
func (f Face) Step() int {
	if f.Positive() {
		return 1
	}
	return -1
}

// PlaneAxes returns the two axes spanning the face, in ascending order.
func (f Face) PlaneAxes() (u, v int) {
	switch f.Axis() {
	case 0:
		return 1, 2
	case 1:
		return 0, 2
	default:
		return 0, 1
	}
}

func (f Face) String() string {
	switch f {
	case PosX:
		return "+X"
	case NegX:
		return "-X"
	case PosY:
		return "+Y"
	case NegY:
		return "-Y"
	case PosZ:
		return "+Z"
	case NegZ:
		return "-Z"
	default:
		return fmt.Sprintf("Face(%d)", uint8(f))
	}
}

// FaceSet is a bitmask of faces.
type FaceSet uint8

// Has reports whether f is in the set.
func (s FaceSet) Has(f Face) bool { return s&(1<<f) != 0 }

// With returns the set with f added.
func (s FaceSet) With(f Face) FaceSet { return s | 1<<f }
