// Package pipeline runs the offline settle → render pipeline behind the
// layout and render commands.
//
// # Architecture
//
// The pipeline has two stages:
//
//  1. Settle: run the board's simulation headlessly until it cools or a tick
//     budget runs out, producing the board with settled positions
//  2. Render: draw the settled board as DOT, SVG or JSON
//
// Both stages are cached by content: the settle key hashes the durable board
// and every option that changes the result, the render key hashes the settled
// board and the render options.
//
// # Usage
//
//	runner := pipeline.NewRunner(cache, nil, logger)
//	result, err := runner.Execute(ctx, board, pipeline.Options{Formats: []string{"svg"}})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svg := result.Artifacts["svg"]
package pipeline

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/leanspace/flowboard/pkg/cache"
	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/region"
)

// =============================================================================
// Default Values
// =============================================================================

const (
	// DefaultMaxTicks bounds a headless settle. A cold start cools below
	// alpha 0.001 in about 300 ticks; the margin covers reheats from build
	// hint growth.
	DefaultMaxTicks = 1200

	// DefaultSeed is the default jiggle seed for reproducibility.
	DefaultSeed = int64(42)
)

// Format constants for output formats.
const (
	FormatSVG  = "svg"
	FormatDOT  = "dot"
	FormatJSON = "json"
)

// ValidFormats is the set of supported output formats.
var ValidFormats = map[string]bool{
	FormatSVG:  true,
	FormatDOT:  true,
	FormatJSON: true,
}

// =============================================================================
// Options
// =============================================================================

// Options contains all configuration for the pipeline.
type Options struct {
	// Settle options
	Width    float64 `json:"width,omitempty"`
	Height   float64 `json:"height,omitempty"`
	Seed     int64   `json:"seed,omitempty"`
	MaxTicks int     `json:"max_ticks,omitempty"`
	Refresh  bool    `json:"refresh,omitempty"` // ignore cached results

	// Render options
	Formats []string `json:"formats,omitempty"`
	Bands   bool     `json:"bands,omitempty"`
	Links   bool     `json:"links,omitempty"`
	Virtual bool     `json:"virtual,omitempty"`

	// Progress, when set, is called between chunks of a settle with the
	// ticks run so far and the current temperature.
	Progress func(ticks int, alpha float64) `json:"-"`

	Logger *log.Logger `json:"-"`
}

// Result contains the outputs of a pipeline run.
type Result struct {
	// Board is the input board with settled positions.
	Board graph.Graph

	// BoardHash is the content hash of the durable input board.
	BoardHash string

	// Artifacts contains rendered outputs keyed by format.
	Artifacts map[string][]byte

	Stats     Stats
	CacheInfo CacheInfo
}

// Stats contains pipeline execution statistics.
type Stats struct {
	EntityCount int
	LinkCount   int
	Ticks       int  // simulation ticks run; zero on a cache hit
	Settled     bool // false when MaxTicks ran out first
	SettleTime  time.Duration
	RenderTime  time.Duration
}

// CacheInfo tracks cache hits for each pipeline stage.
type CacheInfo struct {
	SettleHit bool
	RenderHit bool
}

// =============================================================================
// Validation
// =============================================================================

// ValidateFormat checks that a format is valid.
func ValidateFormat(format string) error {
	if !ValidFormats[format] {
		return fmt.Errorf("invalid format: %q (must be one of: svg, dot, json)", format)
	}
	return nil
}

// ValidateFormats checks that all formats are valid.
func ValidateFormats(formats []string) error {
	for _, f := range formats {
		if err := ValidateFormat(f); err != nil {
			return err
		}
	}
	return nil
}

// SetSettleDefaults fills zero settle options.
func (o *Options) SetSettleDefaults() {
	if o.Width == 0 {
		o.Width = region.DefaultWidth
	}
	if o.Height == 0 {
		o.Height = region.DefaultHeight
	}
	if o.Seed == 0 {
		o.Seed = DefaultSeed
	}
	if o.MaxTicks == 0 {
		o.MaxTicks = DefaultMaxTicks
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
}

// ValidateForSettle applies defaults and checks settle options.
func (o *Options) ValidateForSettle() error {
	o.SetSettleDefaults()
	if o.Width < 0 || o.Height < 0 {
		return fmt.Errorf("canvas size must be positive, got %gx%g", o.Width, o.Height)
	}
	if o.MaxTicks < 0 {
		return fmt.Errorf("max_ticks must be positive, got %d", o.MaxTicks)
	}
	return nil
}

// SetRenderDefaults fills zero render options.
func (o *Options) SetRenderDefaults() {
	if len(o.Formats) == 0 {
		o.Formats = []string{FormatSVG}
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
}

// ValidateForRender applies defaults and checks render options.
func (o *Options) ValidateForRender() error {
	o.SetSettleDefaults()
	o.SetRenderDefaults()
	return ValidateFormats(o.Formats)
}

// Geometry returns the canvas geometry the options describe.
func (o *Options) Geometry() region.Geometry {
	g := region.Default()
	if o.Width > 0 {
		g.Width = o.Width
	}
	if o.Height > 0 {
		g.Height = o.Height
	}
	return g
}

// LayoutKeyOpts returns cache key options for settling.
func (o *Options) LayoutKeyOpts() cache.LayoutKeyOpts {
	return cache.LayoutKeyOpts{
		Width:    o.Width,
		Height:   o.Height,
		Seed:     o.Seed,
		MaxTicks: o.MaxTicks,
	}
}

// ArtifactKeyOpts returns cache key options for rendering one format.
func (o *Options) ArtifactKeyOpts(format string) cache.ArtifactKeyOpts {
	return cache.ArtifactKeyOpts{
		Format:  format,
		Bands:   o.Bands,
		Links:   o.Links,
		Virtual: o.Virtual,
	}
}
