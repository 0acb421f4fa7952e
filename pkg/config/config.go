// Package config loads flowboard's TOML configuration.
//
// The file is optional. Search order: an explicit path (--config), then
// $XDG_CONFIG_HOME/flowboard/config.toml (~/.config/flowboard/config.toml),
// then built-in defaults. Keys left out of the file keep their defaults.
//
//	[canvas]
//	width  = 2400
//	height = 4000
//
//	[persist]
//	backend  = "sqlite"
//	dsn      = "~/.local/share/flowboard/board.db"
//	debounce = "500ms"
//	max_wait = "2s"
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	ferrors "github.com/leanspace/flowboard/pkg/errors"
	"github.com/leanspace/flowboard/pkg/layout"
	"github.com/leanspace/flowboard/pkg/persist"
	"github.com/leanspace/flowboard/pkg/region"
	"github.com/leanspace/flowboard/pkg/sim"
)

const appName = "flowboard"

// Backend names.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
)

// Backends lists the accepted persist.backend values.
var Backends = []string{BackendMemory, BackendSQLite, BackendPostgres, BackendRedis, BackendMongo}

// Config holds flowboard configuration.
type Config struct {
	Canvas     CanvasConfig     `toml:"canvas"`
	Simulation SimulationConfig `toml:"simulation"`
	Persist    PersistConfig    `toml:"persist"`
	Server     ServerConfig     `toml:"server"`
	Cache      CacheConfig      `toml:"cache"`
	Log        LogConfig        `toml:"log"`
}

// CanvasConfig sizes the region geometry.
type CanvasConfig struct {
	Width       float64 `toml:"width"`
	Height      float64 `toml:"height"`
	Padding     float64 `toml:"padding"`
	BuildMargin float64 `toml:"build_margin"`
}

// SimulationConfig tunes the force simulation and the layout engine.
type SimulationConfig struct {
	VelocityDecay       float64  `toml:"velocity_decay"`
	CollisionIterations int      `toml:"collision_iterations"`
	CollisionStrength   float64  `toml:"collision_strength"`
	CollisionPadding    float64  `toml:"collision_padding"`
	GridThreshold       int      `toml:"grid_threshold"`
	Seed                int64    `toml:"seed"`
	DragAlpha           float64  `toml:"drag_alpha"`
	Epsilon             float64  `toml:"epsilon"`
	FrameInterval       Duration `toml:"frame_interval"`
	Coast               bool     `toml:"coast"`
}

// PersistConfig selects and tunes the storage backend.
type PersistConfig struct {
	Backend      string   `toml:"backend"`
	DSN          string   `toml:"dsn"`      // sqlite path, postgres or mongo URI, redis address
	Database     string   `toml:"database"` // mongo database
	Prefix       string   `toml:"prefix"`   // redis key prefix
	Password     string   `toml:"password"` // redis password
	Debounce     Duration `toml:"debounce"`
	MaxWait      Duration `toml:"max_wait"`
	WriteTimeout Duration `toml:"write_timeout"`
	Retries      int      `toml:"retries"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	MaxWake         Duration `toml:"max_wake"` // upper bound on a viewport wake window
}

// CacheConfig configures the offline layout cache.
type CacheConfig struct {
	Dir      string `toml:"dir"`
	Disabled bool   `toml:"disabled"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the default configuration.
func Default() *Config {
	geom := region.Default()
	simCfg := sim.DefaultConfig()
	return &Config{
		Canvas: CanvasConfig{
			Width:       geom.Width,
			Height:      geom.Height,
			Padding:     geom.Padding,
			BuildMargin: geom.BuildMargin,
		},
		Simulation: SimulationConfig{
			VelocityDecay:       simCfg.VelocityDecay,
			CollisionIterations: simCfg.CollisionIterations,
			CollisionStrength:   simCfg.CollisionStrength,
			CollisionPadding:    simCfg.CollisionPadding,
			GridThreshold:       simCfg.GridThreshold,
			Seed:                1,
			DragAlpha:           0.3,
			Epsilon:             1,
			FrameInterval:       Duration(16 * time.Millisecond),
			Coast:               true,
		},
		Persist: PersistConfig{
			Backend:      BackendMemory,
			Debounce:     Duration(persist.DefaultDebounce),
			MaxWait:      Duration(persist.DefaultMaxWait),
			WriteTimeout: Duration(persist.DefaultWriteTimeout),
			Retries:      persist.DefaultBackoff.Attempts,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:7420",
			ShutdownTimeout: Duration(10 * time.Second),
			MaxWake:         Duration(5 * time.Second),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Dir returns the flowboard config directory.
func Dir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, appName)
}

// DefaultPath returns the config file looked up when no path is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Load reads the configuration from path, or from [DefaultPath] when path is
// empty, and validates it. A missing default file yields the defaults; a
// missing explicit file is an error. It returns the file actually read, or
// "" when only defaults apply.
func Load(path string) (*Config, string, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		cfg := Default()
		return cfg, "", cfg.Validate()
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", ferrors.Wrap(ferrors.ErrCodeFileNotFound, err, "config file %s", path)
	}
	if err != nil {
		return nil, "", fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return cfg, path, nil
}

// Decode reads TOML from r over the defaults and validates the result.
// Unknown keys are rejected so typos do not silently fall back.
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	meta, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrCodeInvalidConfig, err, "parse config")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, ferrors.New(ferrors.ErrCodeInvalidConfig, "unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Encode writes cfg as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Validate checks value ranges and the backend choice.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return ferrors.New(ferrors.ErrCodeInvalidConfig, format, args...)
	}
	switch {
	case c.Canvas.Width <= 0 || c.Canvas.Height <= 0:
		return invalid("canvas size must be positive, got %gx%g", c.Canvas.Width, c.Canvas.Height)
	case c.Canvas.Padding < 0 || 2*c.Canvas.Padding >= c.Canvas.Width:
		return invalid("canvas padding %g does not fit width %g", c.Canvas.Padding, c.Canvas.Width)
	case c.Canvas.BuildMargin < 0:
		return invalid("canvas build_margin must not be negative")
	case c.Simulation.VelocityDecay <= 0 || c.Simulation.VelocityDecay >= 1:
		return invalid("simulation velocity_decay must be in (0, 1), got %g", c.Simulation.VelocityDecay)
	case c.Simulation.CollisionIterations < 1:
		return invalid("simulation collision_iterations must be at least 1")
	case c.Simulation.CollisionStrength <= 0 || c.Simulation.CollisionStrength > 1:
		return invalid("simulation collision_strength must be in (0, 1], got %g", c.Simulation.CollisionStrength)
	case c.Simulation.DragAlpha <= 0 || c.Simulation.DragAlpha > 1:
		return invalid("simulation drag_alpha must be in (0, 1], got %g", c.Simulation.DragAlpha)
	case c.Simulation.Epsilon <= 0:
		return invalid("simulation epsilon must be positive")
	case c.Simulation.FrameInterval <= 0:
		return invalid("simulation frame_interval must be positive")
	case !slices.Contains(Backends, c.Persist.Backend):
		return invalid("persist backend %q is not one of %s", c.Persist.Backend, strings.Join(Backends, ", "))
	case c.Persist.Backend != BackendMemory && c.Persist.Backend != BackendRedis && c.Persist.Backend != BackendMongo && c.Persist.DSN == "":
		return invalid("persist backend %s needs a dsn", c.Persist.Backend)
	case c.Persist.Debounce <= 0 || c.Persist.MaxWait < c.Persist.Debounce:
		return invalid("persist debounce %s must be positive and not exceed max_wait %s", c.Persist.Debounce, c.Persist.MaxWait)
	case c.Persist.Retries < 1:
		return invalid("persist retries must be at least 1")
	case c.Server.Addr == "":
		return invalid("server addr is required")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return invalid("log level %q: %v", c.Log.Level, err)
	}
	return nil
}

// Geometry returns the configured region geometry.
func (c *Config) Geometry() region.Geometry {
	return region.Geometry{
		Width:       c.Canvas.Width,
		Height:      c.Canvas.Height,
		Padding:     c.Canvas.Padding,
		BuildMargin: c.Canvas.BuildMargin,
	}
}

// Sim returns the simulation configuration.
func (c *Config) Sim() sim.Config {
	cfg := sim.DefaultConfig()
	cfg.VelocityDecay = c.Simulation.VelocityDecay
	cfg.CollisionIterations = c.Simulation.CollisionIterations
	cfg.CollisionStrength = c.Simulation.CollisionStrength
	cfg.CollisionPadding = c.Simulation.CollisionPadding
	cfg.GridThreshold = c.Simulation.GridThreshold
	return cfg
}

// Engine returns layout engine options. The caller sets the Persister.
func (c *Config) Engine(logger *log.Logger) layout.Options {
	opts := layout.Options{
		Geometry:  c.Geometry(),
		Sim:       c.Sim(),
		Scheduler: layout.TickerScheduler{Interval: c.Simulation.FrameInterval.Std()},
		Logger:    logger,
		Seed:      c.Simulation.Seed,
		Epsilon:   c.Simulation.Epsilon,
		DragAlpha: c.Simulation.DragAlpha,
	}
	if c.Simulation.Coast {
		opts.Coaster = layout.DefaultCoaster()
	}
	return opts
}

// Batcher returns batcher options for the configured write cadence.
func (c *Config) Batcher(logger *log.Logger) persist.BatcherOptions {
	return persist.BatcherOptions{
		Debounce:     c.Persist.Debounce.Std(),
		MaxWait:      c.Persist.MaxWait.Std(),
		WriteTimeout: c.Persist.WriteTimeout.Std(),
		Backoff:      persist.Backoff{Attempts: c.Persist.Retries, Delay: persist.DefaultBackoff.Delay},
		Logger:       logger,
	}
}

// Level returns the configured log level. Validate has already rejected
// unknown names.
func (c *Config) Level() log.Level {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// Duration is a time.Duration written as a Go duration string ("500ms").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
