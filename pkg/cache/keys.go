package cache

import "fmt"

// Keyer derives cache keys.
type Keyer interface {
	// LayoutKey is the key of a settled board.
	LayoutKey(boardHash string, opts LayoutKeyOpts) string

	// ArtifactKey is the key of a rendered snapshot of a settled board.
	ArtifactKey(layoutHash string, opts ArtifactKeyOpts) string
}

// LayoutKeyOpts holds every option that changes a settled layout.
type LayoutKeyOpts struct {
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Seed     int64   `json:"seed"`
	MaxTicks int     `json:"max_ticks"`
}

// ArtifactKeyOpts holds every option that changes a rendered snapshot.
type ArtifactKeyOpts struct {
	Format  string `json:"format"`
	Bands   bool   `json:"bands"`
	Links   bool   `json:"links"`
	Virtual bool   `json:"virtual"`
}

// DefaultKeyer hashes options into keys of the form "kind:hash".
type DefaultKeyer struct{}

// NewDefaultKeyer returns the standard keyer.
func NewDefaultKeyer() Keyer { return DefaultKeyer{} }

// LayoutKey implements Keyer.
func (DefaultKeyer) LayoutKey(boardHash string, opts LayoutKeyOpts) string {
	return hashKey("layout", boardHash, opts)
}

// ArtifactKey implements Keyer.
func (DefaultKeyer) ArtifactKey(layoutHash string, opts ArtifactKeyOpts) string {
	return hashKey(fmt.Sprintf("artifact:%s", opts.Format), layoutHash, opts)
}
