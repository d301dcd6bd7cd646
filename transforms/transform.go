// Package transforms implements the preprocessing and augmentation pipeline
// for 3D segmentation records: a closed registry of dictionary-style
// transforms, a resolver that injects pipeline-global defaults from the run
// configuration, and per-split pipeline builders.
//
// Pipelines are built once at startup. Construction is deterministic and
// performs no IO and no RNG draws; randomness in augmentations happens per
// record at apply time, through an explicitly seeded *rand.Rand.
package transforms

import "fmt"

// Category classifies a transform for pipeline ordering. Train pipelines
// apply spatial transforms first, then crop/pad, then intensity, then
// everything else, regardless of config declaration order.
type Category int

const (
	CategorySpatial Category = iota
	CategoryCropPad
	CategoryIntensity
	CategoryOther
)

func (c Category) String() string {
	switch c {
	case CategorySpatial:
		return "spatial"
	case CategoryCropPad:
		return "croppad"
	case CategoryIntensity:
		return "intensity"
	default:
		return "other"
	}
}

// Transform is a named operation over a dictionary-style record. Apply
// mutates rec in place and must be safe to reuse across records.
type Transform interface {
	Name() string
	Apply(rec *Record) error
}

// Compose chains transforms into a single pipeline. Compose itself
// implements Transform.
type Compose struct {
	transforms []Transform
}

// NewCompose builds a pipeline from the given transforms, applied in order.
func NewCompose(tfms ...Transform) *Compose {
	return &Compose{transforms: tfms}
}

func (c *Compose) Name() string { return "Compose" }

// Apply runs every transform in order, stopping at the first error.
func (c *Compose) Apply(rec *Record) error {
	for _, t := range c.transforms {
		if err := t.Apply(rec); err != nil {
			return fmt.Errorf("%s: %w", t.Name(), err)
		}
	}
	return nil
}

// Transforms returns the ordered steps.
func (c *Compose) Transforms() []Transform {
	return append([]Transform(nil), c.transforms...)
}

// Names returns the ordered step names, useful for logging and tests.
func (c *Compose) Names() []string {
	names := make([]string, len(c.transforms))
	for i, t := range c.transforms {
		names[i] = t.Name()
	}
	return names
}

// Len returns the number of steps.
func (c *Compose) Len() int { return len(c.transforms) }
