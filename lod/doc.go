// Package lod decides, once per tick, how the octree should change around
// the viewer and turns completed work into renderable meshes.
//
// A tick drains completions, releases parent data that children now cover,
// walks the tree making at most one decision per node, re-prioritizes
// queued work for the new viewer position and re-stitches meshes whose
// neighbors changed. All of it runs on the caller's goroutine; only kernel
// work runs elsewhere.
package lod
