package transforms

import (
	"fmt"
	"math/rand"

	"github.com/kbressem/ai-template/config"
)

// Split names a pipeline variant.
type Split string

const (
	SplitTrain Split = "train"
	SplitValid Split = "validation"
	SplitTest  Split = "test"
	SplitPost  Split = "post_validation"
)

// Build returns the pipeline for one split. rng is only consulted by random
// augmentations at apply time; construction itself is deterministic.
func Build(split Split, cfg *config.Config, rng *rand.Rand) (*Compose, error) {
	switch split {
	case SplitTrain:
		return BuildTrain(cfg, rng)
	case SplitValid:
		return BuildValid(cfg)
	case SplitTest:
		return BuildTest(cfg)
	case SplitPost:
		return BuildPost(cfg)
	default:
		return nil, fmt.Errorf("unknown split %q", split)
	}
}

// baseTransforms is the shared preprocessing prefix: load, channel-first,
// resample to the configured spacing, rescale image intensity, remap label
// values, normalize image intensity. Image columns resample with the
// configured smooth mode, label columns with nearest.
func baseTransforms(cfg *config.Config) []Transform {
	cols := cfg.Data.Cols()
	orig, target := cfg.Transforms.LabelMapPairs()
	var pixdim [3]float64
	copy(pixdim[:], cfg.Transforms.Spacing)

	return []Transform{
		&LoadImaged{Keys: cols},
		&EnsureChannelFirstd{Keys: cols},
		&Spacingd{Keys: cols, Modes: columnModes(cfg), Pixdim: pixdim},
		&ScaleIntensityd{
			Keys: cfg.Data.ImageCols,
			Minv: cfg.Transforms.MinIntensity,
			Maxv: cfg.Transforms.MaxIntensity,
		},
		&MapLabelValued{Keys: cfg.Data.LabelCols, OrigLabels: orig, TargetLabels: target},
		&NormalizeIntensityd{Keys: cfg.Data.ImageCols},
	}
}

// concatTransforms merges the per-column channels into the canonical image
// and label tensors the training engine consumes.
func concatTransforms(cfg *config.Config) []Transform {
	return []Transform{
		&ConcatItemsd{Keys: cfg.Data.ImageCols, To: KeyImage},
		&ConcatItemsd{Keys: cfg.Data.LabelCols, To: KeyLabel},
	}
}

// BuildTrain assembles the training pipeline: base preprocessing, then the
// configured augmentations reordered into spatial, crop/pad, intensity and
// other buckets (relative order within a bucket follows the config file),
// then channel concatenation.
func BuildTrain(cfg *config.Config, rng *rand.Rand) (*Compose, error) {
	tfms := baseTransforms(cfg)

	var spatial, croppad, intensity, other []Transform
	for _, name := range cfg.TransformNames() {
		t, category, err := Resolve(name, cfg, rng)
		if err != nil {
			return nil, err
		}
		switch category {
		case CategorySpatial:
			spatial = append(spatial, t)
		case CategoryCropPad:
			croppad = append(croppad, t)
		case CategoryIntensity:
			intensity = append(intensity, t)
		default:
			other = append(other, t)
		}
	}
	tfms = append(tfms, spatial...)
	tfms = append(tfms, croppad...)
	tfms = append(tfms, intensity...)
	tfms = append(tfms, other...)
	tfms = append(tfms, concatTransforms(cfg)...)

	return NewCompose(tfms...), nil
}

// BuildValid assembles the validation pipeline: base preprocessing, channel
// concatenation, then a foreground crop around the first label column with
// a 64 voxel margin.
func BuildValid(cfg *config.Config) (*Compose, error) {
	tfms := baseTransforms(cfg)
	tfms = append(tfms, &EnsureTyped{Keys: cfg.Data.Cols()})
	tfms = append(tfms, concatTransforms(cfg)...)
	tfms = append(tfms, &CropForegroundd{
		Keys:      cfg.Data.Cols(),
		SourceKey: cfg.Data.LabelCols[0],
		Margin:    64,
	})
	return NewCompose(tfms...), nil
}

// BuildTest assembles the test pipeline. Unlike validation it does NOT crop
// to the label foreground: test volumes are evaluated at full extent. The
// asymmetry is deliberate and must not be "fixed".
func BuildTest(cfg *config.Config) (*Compose, error) {
	tfms := baseTransforms(cfg)
	tfms = append(tfms, &EnsureTyped{Keys: cfg.Data.Cols()})
	tfms = append(tfms, concatTransforms(cfg)...)
	return NewCompose(tfms...), nil
}

// BuildPost assembles the post-validation pipeline over model outputs:
// predictions collapse to class maps via arg-max and expand one-hot to
// model.out_channels channels, ground-truth labels expand one-hot to the
// same count, enabling channel-wise metrics.
func BuildPost(cfg *config.Config) (*Compose, error) {
	return NewCompose(
		&EnsureTyped{Keys: []string{KeyPred, KeyLabel}},
		&AsDiscreted{Keys: []string{KeyPred}, Argmax: true, ToOnehot: cfg.Model.OutChannels},
		&AsDiscreted{Keys: []string{KeyLabel}, ToOnehot: cfg.Model.OutChannels},
	), nil
}
