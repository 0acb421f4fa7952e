package pipeline

import (
	"context"
	"fmt"

	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/render"
)

// Render generates output artifacts for a settled board in the requested
// formats.
func Render(ctx context.Context, g graph.Graph, opts Options) (map[string][]byte, error) {
	if err := opts.ValidateForRender(); err != nil {
		return nil, err
	}

	var dot string
	toDOT := func() string {
		if dot == "" {
			dot = render.ToDOT(g, render.Options{
				Geometry: opts.Geometry(),
				Bands:    opts.Bands,
				Links:    opts.Links,
				Virtual:  opts.Virtual,
			})
		}
		return dot
	}

	artifacts := make(map[string][]byte, len(opts.Formats))
	for _, format := range opts.Formats {
		var data []byte
		var err error
		switch format {
		case FormatDOT:
			data = []byte(toDOT())
		case FormatSVG:
			data, err = render.RenderSVG(ctx, toDOT())
		case FormatJSON:
			data, err = graph.MarshalGraph(g)
		}
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", format, err)
		}
		artifacts[format] = data
	}
	return artifacts, nil
}
