// Package config loads and validates the construction configuration
// for a forest, grounded in the teacher's orizon-config tool: a plain
// JSON-tagged struct, loaded with encoding/json and overridable from
// the command line with the flag package (SPEC_FULL.md section 9).
package config

import (
	"encoding/json"
	"flag"
	"os"

	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/rcferrors"
)

// Precision names the point precision a forest is constructed with.
type Precision string

const (
	Float32 Precision = "float32"
	Float64 Precision = "float64"
)

// Config mirrors spec.md section 6's construction configuration table.
type Config struct {
	SampleSize               int       `json:"sample_size"`
	Dimensions               int       `json:"dimensions"`
	NumTrees                 int       `json:"num_trees"`
	Seed                     int64     `json:"seed"`
	TimeDecay                float64   `json:"time_decay"`
	Precision                Precision `json:"precision"`
	BoundingBoxCacheFraction float64   `json:"bounding_box_cache_fraction"`
	StoreSequenceIndices     bool      `json:"store_sequence_indices"`
	CenterOfMass             bool      `json:"center_of_mass"`
	DedupPoints              bool      `json:"dedup_points"`
	OutputAfter              int       `json:"output_after"`
}

// Default returns the configuration a forest is built with absent any
// file or flag overrides.
func Default() Config {
	return Config{
		SampleSize:               256,
		Dimensions:               1,
		NumTrees:                 50,
		Seed:                     0,
		TimeDecay:                1.0 / (10 * 256),
		Precision:                Float32,
		BoundingBoxCacheFraction: 1.0,
		StoreSequenceIndices:     false,
		CenterOfMass:             false,
		DedupPoints:              false,
		OutputAfter:              32,
	}
}

// Validate reports the first out-of-range field it finds, per
// spec.md section 9.
func (c Config) Validate() error {
	switch {
	case c.SampleSize <= 0:
		return rcferrors.InvalidConfigf("Config.Validate", "sample_size must be positive, got %d", c.SampleSize)
	case c.Dimensions <= 0:
		return rcferrors.InvalidConfigf("Config.Validate", "dimensions must be positive, got %d", c.Dimensions)
	case c.NumTrees <= 0:
		return rcferrors.InvalidConfigf("Config.Validate", "num_trees must be positive, got %d", c.NumTrees)
	case c.TimeDecay < 0:
		return rcferrors.InvalidConfigf("Config.Validate", "time_decay must be non-negative, got %v", c.TimeDecay)
	case c.Precision != Float32 && c.Precision != Float64:
		return rcferrors.InvalidConfigf("Config.Validate", "precision must be %q or %q, got %q", Float32, Float64, c.Precision)
	case c.BoundingBoxCacheFraction < 0 || c.BoundingBoxCacheFraction > 1:
		return rcferrors.InvalidConfigf("Config.Validate", "bounding_box_cache_fraction must be within [0,1], got %v", c.BoundingBoxCacheFraction)
	case c.OutputAfter < 0:
		return rcferrors.InvalidConfigf("Config.Validate", "output_after must be non-negative, got %d", c.OutputAfter)
	case c.OutputAfter > c.SampleSize:
		return rcferrors.InvalidConfigf("Config.Validate", "output_after (%d) cannot exceed sample_size (%d)", c.OutputAfter, c.SampleSize)
	}

	return nil
}

// FromFile reads and JSON-decodes a Config from path, starting from
// Default() so an unset field keeps its default value.
func FromFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Save writes cfg to path as indented JSON.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// RegisterFlags binds cfg's fields to fs, following the teacher's
// convention of one flag per configuration field, so a command-line
// invocation can override whatever a config file set. fs must be
// parsed (fs.Parse) by the caller after RegisterFlags and before
// reading cfg back.
func RegisterFlags(fs *flag.FlagSet, cfg *Config) {
	fs.IntVar(&cfg.SampleSize, "sample-size", cfg.SampleSize, "reservoir sample size per tree")
	fs.IntVar(&cfg.Dimensions, "dimensions", cfg.Dimensions, "point dimensionality")
	fs.IntVar(&cfg.NumTrees, "num-trees", cfg.NumTrees, "number of trees in the forest")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "forest PRNG seed")
	fs.Float64Var(&cfg.TimeDecay, "time-decay", cfg.TimeDecay, "sampler exponential decay rate")
	fs.Float64Var(&cfg.BoundingBoxCacheFraction, "bounding-box-cache-fraction", cfg.BoundingBoxCacheFraction, "fraction of internal nodes given a cached bounding box")
	fs.BoolVar(&cfg.StoreSequenceIndices, "store-sequence-indices", cfg.StoreSequenceIndices, "track per-leaf sequence number multisets")
	fs.BoolVar(&cfg.CenterOfMass, "center-of-mass", cfg.CenterOfMass, "maintain per-node center-of-mass sums")
	fs.BoolVar(&cfg.DedupPoints, "dedup-points", cfg.DedupPoints, "deduplicate identical points in the point store")
	fs.IntVar(&cfg.OutputAfter, "output-after", cfg.OutputAfter, "minimum tree mass before it contributes to output")

	fs.Func("precision", "point precision: float32 or float64 (default "+string(cfg.Precision)+")", func(v string) error {
		cfg.Precision = Precision(v)

		return nil
	})
}
