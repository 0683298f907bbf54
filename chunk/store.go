package chunk

import (
	"fmt"

	"github.com/gogpu/terrain/octree"
)

type entry struct {
	staged  *DensityGrid
	current *DensityGrid
	mesh    *Mesh
}

func (e *entry) bytes() int64 {
	var n int64
	if e.staged != nil {
		n += e.staged.Bytes()
	}
	if e.current != nil {
		n += e.current.Bytes()
	}
	if e.mesh != nil {
		n += e.mesh.Bytes()
	}
	return n
}

// Store holds the grids and meshes of octree nodes. A node's new grid is
// staged while its previous mesh stays visible, and is promoted when the
// mesh extracted from it is committed.
//
// Store is owned by the control goroutine and is not safe for concurrent
// use.
type Store struct {
	entries map[octree.NodeID]*entry
	cache   *GridCache
	bytes   int64
	serial  uint64
}

// NewStore creates a store that hands released grids to cache. cache may
// be nil.
func NewStore(cache *GridCache) *Store {
	return &Store{
		entries: make(map[octree.NodeID]*entry),
		cache:   cache,
	}
}

func (s *Store) update(e *entry, fn func()) {
	before := e.bytes()
	fn()
	delta := e.bytes() - before
	s.bytes += delta
	instrumentStoreBytes(delta)
}

// Stage records g as the node's pending grid, replacing any earlier
// pending grid, and assigns its Serial.
func (s *Store) Stage(id octree.NodeID, g *DensityGrid) {
	s.serial++
	g.Serial = s.serial
	e, ok := s.entries[id]
	if !ok {
		e = &entry{}
		s.entries[id] = e
	}
	s.update(e, func() { e.staged = g })
}

// Unstage drops the node's pending grid. The current grid and mesh stay.
func (s *Store) Unstage(id octree.NodeID) {
	e, ok := s.entries[id]
	if !ok || e.staged == nil {
		return
	}
	s.update(e, func() { e.staged = nil })
	s.dropIfEmpty(id, e)
}

// CommitMesh installs m as the node's mesh. A mesh from the staged grid
// promotes that grid to current; a mesh from the current grid replaces the
// mesh only.
func (s *Store) CommitMesh(id octree.NodeID, m *Mesh) error {
	e, ok := s.entries[id]
	if !ok || (e.staged == nil && e.current == nil) {
		return fmt.Errorf("%w: %v", ErrNoGrid, id)
	}
	switch {
	case e.staged != nil && e.staged.Generation == m.Generation:
		s.update(e, func() {
			e.current, e.staged = e.staged, nil
			e.mesh = m
		})
	case e.staged == nil && e.current.Generation == m.Generation:
		s.update(e, func() { e.mesh = m })
	default:
		return fmt.Errorf("%w: node %v mesh generation %d", ErrGenerationMismatch, id, m.Generation)
	}
	return nil
}

// Grid returns the node's latest grid: staged if present, else current.
func (s *Store) Grid(id octree.NodeID) (*DensityGrid, bool) {
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	if e.staged != nil {
		return e.staged, true
	}
	return e.current, e.current != nil
}

// Mesh returns the node's committed mesh.
func (s *Store) Mesh(id octree.NodeID) (*Mesh, bool) {
	e, ok := s.entries[id]
	if !ok || e.mesh == nil {
		return nil, false
	}
	return e.mesh, true
}

// Retained reports whether the node has a renderable mesh.
func (s *Store) Retained(id octree.NodeID) bool {
	_, ok := s.Mesh(id)
	return ok
}

// Has reports whether the node holds any data.
func (s *Store) Has(id octree.NodeID) bool {
	_, ok := s.entries[id]
	return ok
}

// Release drops everything the node holds. Its current grid moves to the
// grid cache.
func (s *Store) Release(id octree.NodeID) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	if e.current != nil && s.cache != nil {
		s.cache.Put(e.current)
	}
	s.update(e, func() { *e = entry{} })
	delete(s.entries, id)
}

// Cache returns the grid cache, or nil.
func (s *Store) Cache() *GridCache {
	return s.cache
}

// Len returns the number of nodes holding data.
func (s *Store) Len() int {
	return len(s.entries)
}

// Bytes returns the memory held by retained grids and meshes.
func (s *Store) Bytes() int64 {
	return s.bytes
}

func (s *Store) dropIfEmpty(id octree.NodeID, e *entry) {
	if e.staged == nil && e.current == nil && e.mesh == nil {
		delete(s.entries, id)
	}
}
