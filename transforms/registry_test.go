package transforms

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/kbressem/ai-template/config"
)

func testConfig() *config.Config {
	return &config.Config{
		RunID: "test",
		Data: config.DataConfig{
			DataDir:   ".",
			ImageCols: []string{"ct", "mr"},
			LabelCols: []string{"seg"},
		},
		Model: config.ModelConfig{OutChannels: 3},
		Transforms: config.TransformsConfig{
			Prob:         0.25,
			Mode:         []string{"bilinear", "nearest"},
			Spacing:      []float64{1, 1, 1},
			MinIntensity: 0,
			MaxIntensity: 1,
		},
	}
}

func withEntries(cfg *config.Config, entries ...config.TransformEntry) *config.Config {
	cfg.Transforms.Entries = entries
	return cfg
}

func TestResolveUnknownTransform(t *testing.T) {
	_, _, err := Resolve("FrobnicateVolumed", testConfig(), seeded(1))
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if cerr.Name != "FrobnicateVolumed" {
		t.Fatalf("error names %q", cerr.Name)
	}
	if cerr.Reason != "not a registered transform" {
		t.Fatalf("reason = %q", cerr.Reason)
	}
}

func TestResolveArrayVariantRejected(t *testing.T) {
	// RandFlip exists only as a whole-tensor transform; the configured
	// pipeline is dictionary-based throughout.
	_, _, err := Resolve("RandFlip", testConfig(), seeded(1))
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if cerr.Reason != "is not a dictionary transform" {
		t.Fatalf("reason = %q", cerr.Reason)
	}
}

func TestResolveInjectsKeys(t *testing.T) {
	cfg := testConfig()
	tf, category, err := Resolve("RandFlipd", cfg, seeded(1))
	if err != nil {
		t.Fatal(err)
	}
	if category != CategorySpatial {
		t.Fatalf("category = %v", category)
	}
	flip, ok := tf.(*RandFlipd)
	if !ok {
		t.Fatalf("resolved %T", tf)
	}
	want := cfg.Data.Cols()
	if len(flip.Keys) != len(want) {
		t.Fatalf("keys = %v, want %v", flip.Keys, want)
	}
	for i := range want {
		if flip.Keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", flip.Keys, want)
		}
	}
}

func TestResolveInjectsProbDefault(t *testing.T) {
	cfg := testConfig()
	tf, _, err := Resolve("RandFlipd", cfg, seeded(1))
	if err != nil {
		t.Fatal(err)
	}
	if got := tf.(*RandFlipd).Prob; got != 0.25 {
		t.Fatalf("prob = %v, want the pipeline default 0.25", got)
	}
}

func TestResolveKeepsExplicitProb(t *testing.T) {
	cfg := withEntries(testConfig(), config.TransformEntry{
		Name: "RandFlipd",
		Args: map[string]any{"prob": 0.9},
	})
	tf, _, err := Resolve("RandFlipd", cfg, seeded(1))
	if err != nil {
		t.Fatal(err)
	}
	if got := tf.(*RandFlipd).Prob; got != 0.9 {
		t.Fatalf("prob = %v, explicit value must win", got)
	}
}

func TestResolveInjectsPerColumnModes(t *testing.T) {
	cfg := testConfig()
	tf, _, err := Resolve("RandZoomd", cfg, seeded(1))
	if err != nil {
		t.Fatal(err)
	}
	zoom := tf.(*RandZoomd)
	want := []string{"bilinear", "bilinear", "nearest"}
	if len(zoom.Modes) != len(want) {
		t.Fatalf("modes = %v, want %v", zoom.Modes, want)
	}
	for i := range want {
		if zoom.Modes[i] != want[i] {
			t.Fatalf("modes = %v, want %v (labels must stay nearest)", zoom.Modes, want)
		}
	}
}

func TestResolveBroadcastsSingleMode(t *testing.T) {
	cfg := withEntries(testConfig(), config.TransformEntry{
		Name: "RandZoomd",
		Args: map[string]any{"mode": "nearest"},
	})
	tf, _, err := Resolve("RandZoomd", cfg, seeded(1))
	if err != nil {
		t.Fatal(err)
	}
	zoom := tf.(*RandZoomd)
	if len(zoom.Modes) != 3 {
		t.Fatalf("modes = %v", zoom.Modes)
	}
	for _, m := range zoom.Modes {
		if m != "nearest" {
			t.Fatalf("modes = %v, single mode must broadcast", zoom.Modes)
		}
	}
}

func TestResolvePassesTransformArgs(t *testing.T) {
	cfg := withEntries(testConfig(), config.TransformEntry{
		Name: "RandSpatialCropd",
		Args: map[string]any{"roi_size": []any{32, 32, 32}},
	})
	tf, category, err := Resolve("RandSpatialCropd", cfg, seeded(1))
	if err != nil {
		t.Fatal(err)
	}
	if category != CategoryCropPad {
		t.Fatalf("category = %v", category)
	}
	crop := tf.(*RandSpatialCropd)
	if len(crop.ROISize) != 3 || crop.ROISize[0] != 32 {
		t.Fatalf("roi_size = %v", crop.ROISize)
	}
}

func TestRegisterOverrideShadowsRegistry(t *testing.T) {
	name := "RandFlipd"
	orig, had := overrides[name]
	defer func() {
		if had {
			overrides[name] = orig
		} else {
			delete(overrides, name)
		}
	}()

	RegisterOverride(name, Entry{
		Category: CategoryOther,
		Build: func(cfg *config.Config, args Args, rng *rand.Rand) (Transform, error) {
			return &EnsureTyped{Keys: []string{"image"}}, nil
		},
	})
	tf, category, err := Resolve(name, testConfig(), seeded(1))
	if err != nil {
		t.Fatal(err)
	}
	if category != CategoryOther {
		t.Fatalf("override category not used, got %v", category)
	}
	if _, ok := tf.(*EnsureTyped); !ok {
		t.Fatalf("override builder not used, got %T", tf)
	}
}
