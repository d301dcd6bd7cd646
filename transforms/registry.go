package transforms

import (
	"math/rand"
	"strings"

	"github.com/kbressem/ai-template/config"
)

// Builder constructs a transform from its resolved keyword arguments. The
// rng is stored by random transforms and drawn from at apply time only.
type Builder func(cfg *config.Config, args Args, rng *rand.Rand) (Transform, error)

// Entry is one registry slot: an explicit category tag (no module-name
// sniffing), the pipeline-global defaults the transform accepts, and its
// builder.
type Entry struct {
	Category  Category
	NeedsMode bool
	NeedsProb bool
	Build     Builder
}

// registry is the closed set of configurable dictionary transforms. Base
// preprocessing transforms are not listed; the pipeline builder always
// emits those itself.
var registry = map[string]Entry{
	"RandFlipd": {Category: CategorySpatial, NeedsProb: true, Build: buildRandFlipd},
	"RandRotate90d": {Category: CategorySpatial, NeedsProb: true, Build: buildRandRotate90d},
	"RandZoomd": {Category: CategorySpatial, NeedsMode: true, NeedsProb: true, Build: buildRandZoomd},
	"RandSpatialCropd": {Category: CategoryCropPad, Build: buildRandSpatialCropd},
	"SpatialPadd": {Category: CategoryCropPad, Build: buildSpatialPadd},
	"RandShiftIntensityd": {Category: CategoryIntensity, NeedsProb: true, Build: buildRandShiftIntensityd},
	"RandScaleIntensityd": {Category: CategoryIntensity, NeedsProb: true, Build: buildRandScaleIntensityd},
	"RandGaussianNoised": {Category: CategoryIntensity, NeedsProb: true, Build: buildRandGaussianNoised},
	"RandAdjustContrastd": {Category: CategoryIntensity, NeedsProb: true, Build: buildRandAdjustContrastd},
	"EnsureTyped": {Category: CategoryOther, Build: buildEnsureTyped},
}

// overrides is the local override registry. Entries here shadow the library
// registry when names collide.
var overrides = map[string]Entry{}

// RegisterOverride installs a custom transform under name, taking priority
// over the built-in registry.
func RegisterOverride(name string, e Entry) {
	overrides[name] = e
}

// arrayVariants lists names that exist only as whole-tensor (non-dictionary)
// transforms. Resolving one of them is a configuration error distinct from
// an unknown name: these assume single-tensor input and would silently
// misbehave on multi-channel dictionary records.
var arrayVariants = map[string]bool{}

func init() {
	for name := range registry {
		arrayVariants[strings.TrimSuffix(name, "d")] = true
	}
	for _, name := range []string{
		"LoadImage", "EnsureChannelFirst", "Spacing", "ScaleIntensity",
		"MapLabelValue", "NormalizeIntensity", "CropForeground",
		"ConcatItems", "AsDiscrete", "EnsureType",
	} {
		arrayVariants[name] = true
	}
}

// Resolve looks up name in the override registry, then the library
// registry, and constructs the transform with defaults injected from the
// pipeline-global config:
//
//   - keys is always exactly image_cols + label_cols
//   - mode defaults to the per-column interpolation modes when accepted
//   - prob defaults to transforms.prob when accepted
//
// Unknown names and names that only exist as non-dictionary transforms
// yield a *ConfigError.
func Resolve(name string, cfg *config.Config, rng *rand.Rand) (Transform, Category, error) {
	entry, ok := overrides[name]
	if !ok {
		entry, ok = registry[name]
	}
	if !ok {
		if arrayVariants[name] {
			return nil, 0, errNotDictionary(name)
		}
		return nil, 0, errUnknownTransform(name)
	}

	args := Args(cfg.TransformArgs(name))
	args["keys"] = cfg.Data.Cols()
	if entry.NeedsMode && !args.Has("mode") {
		args["mode"] = columnModes(cfg)
	}
	if entry.NeedsProb && !args.Has("prob") {
		args["prob"] = cfg.Transforms.Prob
	}

	t, err := entry.Build(cfg, args, rng)
	if err != nil {
		return nil, 0, &ConfigError{Name: name, Reason: err.Error()}
	}
	return t, entry.Category, nil
}

// columnModes returns one interpolation mode per column: the configured
// image mode for image columns and nearest for label columns. Label volumes
// hold discrete classes; smooth interpolation would corrupt them.
func columnModes(cfg *config.Config) []string {
	labels := map[string]bool{}
	for _, col := range cfg.Data.LabelCols {
		labels[col] = true
	}
	modes := make([]string, 0, len(cfg.Data.Cols()))
	for _, col := range cfg.Data.Cols() {
		if labels[col] {
			modes = append(modes, ModeNearest)
		} else {
			modes = append(modes, cfg.Transforms.ImageMode())
		}
	}
	return modes
}

// argModes normalizes a mode argument to one entry per key: a single
// configured mode broadcasts across all keys.
func argModes(args Args, keys []string) ([]string, error) {
	modes, err := args.Strings("mode")
	if err != nil {
		return nil, err
	}
	if len(modes) == 1 && len(keys) > 1 {
		out := make([]string, len(keys))
		for i := range out {
			out[i] = modes[0]
		}
		return out, nil
	}
	return modes, nil
}

func buildRandFlipd(cfg *config.Config, args Args, rng *rand.Rand) (Transform, error) {
	keys, err := args.Strings("keys")
	if err != nil {
		return nil, err
	}
	prob, err := args.Float("prob", cfg.Transforms.Prob)
	if err != nil {
		return nil, err
	}
	axes, err := args.Ints("spatial_axis")
	if err != nil {
		return nil, err
	}
	return &RandFlipd{Keys: keys, Prob: prob, SpatialAxes: axes, Rand: rng}, nil
}

func buildRandRotate90d(cfg *config.Config, args Args, rng *rand.Rand) (Transform, error) {
	keys, err := args.Strings("keys")
	if err != nil {
		return nil, err
	}
	prob, err := args.Float("prob", cfg.Transforms.Prob)
	if err != nil {
		return nil, err
	}
	maxK, err := args.Int("max_k", 3)
	if err != nil {
		return nil, err
	}
	axes, err := args.Ints("spatial_axes")
	if err != nil {
		return nil, err
	}
	t := &RandRotate90d{Keys: keys, Prob: prob, MaxK: maxK, Axes: [2]int{1, 2}, Rand: rng}
	if len(axes) == 2 {
		t.Axes = [2]int{axes[0], axes[1]}
	}
	return t, nil
}

func buildRandZoomd(cfg *config.Config, args Args, rng *rand.Rand) (Transform, error) {
	keys, err := args.Strings("keys")
	if err != nil {
		return nil, err
	}
	modes, err := argModes(args, keys)
	if err != nil {
		return nil, err
	}
	prob, err := args.Float("prob", cfg.Transforms.Prob)
	if err != nil {
		return nil, err
	}
	minZoom, err := args.Float("min_zoom", 0.9)
	if err != nil {
		return nil, err
	}
	maxZoom, err := args.Float("max_zoom", 1.1)
	if err != nil {
		return nil, err
	}
	return &RandZoomd{Keys: keys, Modes: modes, Prob: prob, MinZoom: minZoom, MaxZoom: maxZoom, Rand: rng}, nil
}

func buildRandSpatialCropd(cfg *config.Config, args Args, rng *rand.Rand) (Transform, error) {
	keys, err := args.Strings("keys")
	if err != nil {
		return nil, err
	}
	roi, err := args.Ints("roi_size")
	if err != nil {
		return nil, err
	}
	return &RandSpatialCropd{Keys: keys, ROISize: roi, Rand: rng}, nil
}

func buildSpatialPadd(cfg *config.Config, args Args, rng *rand.Rand) (Transform, error) {
	keys, err := args.Strings("keys")
	if err != nil {
		return nil, err
	}
	size, err := args.Ints("spatial_size")
	if err != nil {
		return nil, err
	}
	return &SpatialPadd{Keys: keys, SpatialSize: size}, nil
}

func buildRandShiftIntensityd(cfg *config.Config, args Args, rng *rand.Rand) (Transform, error) {
	keys, err := args.Strings("keys")
	if err != nil {
		return nil, err
	}
	prob, err := args.Float("prob", cfg.Transforms.Prob)
	if err != nil {
		return nil, err
	}
	offsets, err := args.Float("offsets", 0.1)
	if err != nil {
		return nil, err
	}
	return &RandShiftIntensityd{Keys: keys, Prob: prob, Offsets: offsets, Rand: rng}, nil
}

func buildRandScaleIntensityd(cfg *config.Config, args Args, rng *rand.Rand) (Transform, error) {
	keys, err := args.Strings("keys")
	if err != nil {
		return nil, err
	}
	prob, err := args.Float("prob", cfg.Transforms.Prob)
	if err != nil {
		return nil, err
	}
	factors, err := args.Float("factors", 0.1)
	if err != nil {
		return nil, err
	}
	return &RandScaleIntensityd{Keys: keys, Prob: prob, Factors: factors, Rand: rng}, nil
}

func buildRandGaussianNoised(cfg *config.Config, args Args, rng *rand.Rand) (Transform, error) {
	keys, err := args.Strings("keys")
	if err != nil {
		return nil, err
	}
	prob, err := args.Float("prob", cfg.Transforms.Prob)
	if err != nil {
		return nil, err
	}
	mean, err := args.Float("mean", 0)
	if err != nil {
		return nil, err
	}
	std, err := args.Float("std", 0.1)
	if err != nil {
		return nil, err
	}
	return &RandGaussianNoised{Keys: keys, Prob: prob, Mean: mean, Std: std, Rand: rng}, nil
}

func buildRandAdjustContrastd(cfg *config.Config, args Args, rng *rand.Rand) (Transform, error) {
	keys, err := args.Strings("keys")
	if err != nil {
		return nil, err
	}
	prob, err := args.Float("prob", cfg.Transforms.Prob)
	if err != nil {
		return nil, err
	}
	gamma, err := args.Floats("gamma")
	if err != nil {
		return nil, err
	}
	t := &RandAdjustContrastd{Keys: keys, Prob: prob, GammaLow: 0.5, GammaHigh: 4.5, Rand: rng}
	switch len(gamma) {
	case 0:
	case 1:
		t.GammaLow, t.GammaHigh = 0.5, gamma[0]
	case 2:
		t.GammaLow, t.GammaHigh = gamma[0], gamma[1]
	}
	return t, nil
}

func buildEnsureTyped(cfg *config.Config, args Args, rng *rand.Rand) (Transform, error) {
	keys, err := args.Strings("keys")
	if err != nil {
		return nil, err
	}
	return &EnsureTyped{Keys: keys}, nil
}
