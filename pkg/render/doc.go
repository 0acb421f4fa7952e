// Package render draws a snapshot of a settled board with Graphviz.
//
// [ToDOT] writes every entity as a node pinned at its board position
// (pos="x,y!") and every durable link as an edge. With bands enabled each
// region is drawn as a fixed-size background box behind its entities, so the
// picture shows where the containment bounds are. [RenderSVG] lays the DOT
// out with neato, which keeps pinned nodes where they are.
//
// Board y grows downward while Graphviz y grows upward, so y is negated.
//
//	dot := render.ToDOT(board, render.Options{Bands: true, Links: true})
//	svg, err := render.RenderSVG(ctx, dot)
//
// This package uses [github.com/goccy/go-graphviz], which embeds Graphviz as
// WebAssembly; no system installation is needed.
package render
