package terrain

import "github.com/gogpu/terrain/lod"

// FrontierEntry is one renderable node: its bounds and its immutable mesh.
type FrontierEntry = lod.Entry

// Renderer is the interface for consuming the renderable frontier.
type Renderer interface {
	// Render receives the frontier after a tick. No entry is an ancestor
	// of another. Meshes may be retained; they are never mutated.
	// Returns an error if the renderer cannot accept the frame.
	Render(frontier []FrontierEntry) error
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(frontier []FrontierEntry) error

// Render implements Renderer.
func (f RendererFunc) Render(frontier []FrontierEntry) error { return f(frontier) }
