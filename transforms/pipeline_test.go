package transforms

import (
	"testing"

	"github.com/kbressem/ai-template/config"
)

func TestBuildTrainStepOrder(t *testing.T) {
	cfg := withEntries(testConfig(),
		config.TransformEntry{Name: "RandFlipd", Args: map[string]any{}},
	)
	pipe, err := BuildTrain(cfg, seeded(1))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"LoadImaged",
		"EnsureChannelFirstd",
		"Spacingd",
		"ScaleIntensityd",
		"MapLabelValued",
		"NormalizeIntensityd",
		"RandFlipd",
		"ConcatItemsd(image)",
		"ConcatItemsd(label)",
	}
	got := pipe.Names()
	if len(got) != len(want) {
		t.Fatalf("steps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("steps = %v, want %v", got, want)
		}
	}
}

func TestBuildTrainBucketsReorder(t *testing.T) {
	// declared intensity first, crop second, spatial last; the pipeline
	// must still run spatial, then crop/pad, then intensity
	cfg := withEntries(testConfig(),
		config.TransformEntry{Name: "RandGaussianNoised", Args: map[string]any{}},
		config.TransformEntry{Name: "RandSpatialCropd", Args: map[string]any{"roi_size": []any{8, 8, 8}}},
		config.TransformEntry{Name: "RandFlipd", Args: map[string]any{}},
	)
	pipe, err := BuildTrain(cfg, seeded(1))
	if err != nil {
		t.Fatal(err)
	}
	names := pipe.Names()
	pos := map[string]int{}
	for i, n := range names {
		pos[n] = i
	}
	if !(pos["RandFlipd"] < pos["RandSpatialCropd"] && pos["RandSpatialCropd"] < pos["RandGaussianNoised"]) {
		t.Fatalf("bucket order violated: %v", names)
	}
}

func TestBuildTrainRelativeOrderWithinBucket(t *testing.T) {
	cfg := withEntries(testConfig(),
		config.TransformEntry{Name: "RandShiftIntensityd", Args: map[string]any{}},
		config.TransformEntry{Name: "RandGaussianNoised", Args: map[string]any{}},
	)
	pipe, err := BuildTrain(cfg, seeded(1))
	if err != nil {
		t.Fatal(err)
	}
	names := pipe.Names()
	pos := map[string]int{}
	for i, n := range names {
		pos[n] = i
	}
	if pos["RandShiftIntensityd"] > pos["RandGaussianNoised"] {
		t.Fatalf("declaration order within the intensity bucket lost: %v", names)
	}
}

func TestBuildTrainUnknownTransformFails(t *testing.T) {
	cfg := withEntries(testConfig(),
		config.TransformEntry{Name: "NotATransformd", Args: map[string]any{}},
	)
	if _, err := BuildTrain(cfg, seeded(1)); err == nil {
		t.Fatal("unknown transform accepted at build time")
	}
}

func TestBuildValidHasForegroundCrop(t *testing.T) {
	pipe, err := BuildValid(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	names := pipe.Names()
	if names[len(names)-1] != "CropForegroundd" {
		t.Fatalf("validation pipeline must end with the foreground crop: %v", names)
	}
	steps := pipe.Transforms()
	crop := steps[len(steps)-1].(*CropForegroundd)
	if crop.Margin != 64 {
		t.Fatalf("crop margin = %d, want 64", crop.Margin)
	}
	if crop.SourceKey != "seg" {
		t.Fatalf("crop source = %q, want the first label column", crop.SourceKey)
	}
}

func TestBuildTestHasNoForegroundCrop(t *testing.T) {
	pipe, err := BuildTest(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range pipe.Names() {
		if name == "CropForegroundd" {
			t.Fatal("test pipeline must evaluate at full volume extent")
		}
	}
}

func TestBuildValidAndTestShareBase(t *testing.T) {
	valid, err := BuildValid(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	test, err := BuildTest(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	vn, tn := valid.Names(), test.Names()
	if len(vn) != len(tn)+1 {
		t.Fatalf("validation %v vs test %v", vn, tn)
	}
	for i := range tn {
		if vn[i] != tn[i] {
			t.Fatalf("pipelines diverge before the crop: %v vs %v", vn, tn)
		}
	}
}

func TestBuildPostRoundTrip(t *testing.T) {
	cfg := testConfig() // out_channels 3
	pipe, err := BuildPost(cfg)
	if err != nil {
		t.Fatal(err)
	}

	// logits over 3 classes for 2 voxels; class map label
	pred := &Volume{
		Data:  []float32{0.1, 0.2, 0.5, 0.1, 0.9, 0.1},
		Shape: []int{3, 1, 1, 2},
	}
	label := &Volume{Data: []float32{2, 1}, Shape: []int{1, 1, 1, 2}}
	rec := recordWith(map[string]*Volume{KeyPred: pred, KeyLabel: label})
	if err := pipe.Apply(rec); err != nil {
		t.Fatal(err)
	}

	p := rec.Volumes[KeyPred]
	l := rec.Volumes[KeyLabel]
	if p.Channels() != 3 || l.Channels() != 3 {
		t.Fatalf("post pipeline channels: pred %d label %d, want 3", p.Channels(), l.Channels())
	}
	// voxel 0 logits are 0.1, 0.5, 0.9 across channels, so argmax is class 2
	if p.Data[2*2+0] != 1 {
		t.Fatalf("pred one-hot wrong: %v", p.Data)
	}
	if l.Data[2*2+0] != 1 || l.Data[1*2+1] != 1 {
		t.Fatalf("label one-hot wrong: %v", l.Data)
	}
}

func TestBuildDispatch(t *testing.T) {
	for _, split := range []Split{SplitTrain, SplitValid, SplitTest, SplitPost} {
		if _, err := Build(split, testConfig(), seeded(1)); err != nil {
			t.Fatalf("split %s: %v", split, err)
		}
	}
	if _, err := Build(Split("bogus"), testConfig(), seeded(1)); err == nil {
		t.Fatal("unknown split accepted")
	}
}
