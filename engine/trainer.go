package engine

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kbressem/ai-template/config"
	"github.com/kbressem/ai-template/datasets"
	"github.com/kbressem/ai-template/logging"
	"github.com/kbressem/ai-template/transforms"
)

// SegmentationTrainer wires the configuration, the per-split pipelines, the
// datasets and the model into one training loop driven through an Engine.
// Handlers attach to the Engine before Run.
type SegmentationTrainer struct {
	Config *config.Config
	Engine *Engine
	Model  *Model

	trainDS *datasets.SegmentationDataset
	validDS *datasets.SegmentationDataset
	testDS  *datasets.SegmentationDataset
	post    *transforms.Compose

	history *MetricHistory
	log     *zap.Logger
}

// NewSegmentationTrainer builds all four pipelines and datasets from cfg.
// Pipeline construction fails here, before any training starts, when the
// configuration names an unknown or incompatible transform.
func NewSegmentationTrainer(cfg *config.Config) (*SegmentationTrainer, error) {
	rng := rand.New(rand.NewSource(cfg.Seed))

	trainPipe, err := transforms.BuildTrain(cfg, rng)
	if err != nil {
		return nil, err
	}
	validPipe, err := transforms.BuildValid(cfg)
	if err != nil {
		return nil, err
	}
	testPipe, err := transforms.BuildTest(cfg)
	if err != nil {
		return nil, err
	}
	post, err := transforms.BuildPost(cfg)
	if err != nil {
		return nil, err
	}

	trainDS, err := datasets.NewSegmentationDataset(cfg, cfg.Data.TrainCSV, trainPipe)
	if err != nil {
		return nil, fmt.Errorf("train dataset: %w", err)
	}
	validDS, err := datasets.NewSegmentationDataset(cfg, cfg.Data.ValidCSV, validPipe)
	if err != nil {
		return nil, fmt.Errorf("validation dataset: %w", err)
	}
	testDS, err := datasets.NewSegmentationDataset(cfg, cfg.Data.TestCSV, testPipe)
	if err != nil {
		return nil, fmt.Errorf("test dataset: %w", err)
	}

	model, err := NewModel(ModelConfig{
		InChannels:   len(cfg.Data.ImageCols),
		OutChannels:  cfg.Model.OutChannels,
		HiddenSizes:  cfg.Model.HiddenSizes,
		LearningRate: cfg.Training.LearningRate,
		Seed:         cfg.Seed,
	})
	if err != nil {
		return nil, err
	}

	history, err := NewMetricHistory(cfg.LogDir, cfg.RunID)
	if err != nil {
		return nil, err
	}

	return &SegmentationTrainer{
		Config:  cfg,
		Engine:  New(),
		Model:   model,
		trainDS: trainDS,
		validDS: validDS,
		testDS:  testDS,
		post:    post,
		history: history,
		log:     logging.L().Named("trainer"),
	}, nil
}

// Run trains for the configured number of epochs with validation after
// every epoch and early stopping on validation mean Dice.
func (t *SegmentationTrainer) Run(ctx context.Context) (err error) {
	cfg := t.Config
	e := t.Engine
	defer func() {
		if cerr := t.history.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	e.State.MaxEpochs = cfg.Training.Epochs
	e.Fire(EventStarted)

	bestDice := -1.0
	wait := 0
	for epoch := 1; epoch <= cfg.Training.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			e.Fire(EventTerminated)
			return err
		}
		e.State.Epoch = epoch
		e.Fire(EventEpochStarted)

		// per-epoch shuffle derived from the run seed
		t.trainDS.Shuffle(cfg.Seed + int64(epoch))
		if err := t.trainDS.Restart(); err != nil {
			return t.raise(err)
		}

		loss, err := t.trainEpoch(ctx)
		if err != nil {
			return t.raise(err)
		}
		if e.Terminated() {
			e.Fire(EventTerminated)
			return nil
		}

		dice, err := t.evaluateSplit(t.validDS)
		if err != nil {
			return t.raise(err)
		}
		e.State.Metrics["loss"] = loss
		e.State.Metrics["val_mean_dice"] = dice
		if err := t.history.Append(epoch, loss, dice); err != nil {
			return t.raise(err)
		}
		e.Fire(EventEpochCompleted)
		t.log.Info("epoch completed",
			zap.Int("epoch", epoch),
			zap.Float64("loss", loss),
			zap.Float64("val_mean_dice", dice))

		if dice > bestDice {
			bestDice = dice
			wait = 0
			if err := t.saveCheckpoint(); err != nil {
				return t.raise(err)
			}
		} else if cfg.Training.EarlyStoppingPatience > 0 {
			wait++
			if wait >= cfg.Training.EarlyStoppingPatience {
				t.log.Info("early stopping",
					zap.Int("epoch", epoch),
					zap.Float64("best_val_mean_dice", bestDice))
				break
			}
		}
	}

	e.Fire(EventCompleted)
	return nil
}

func (t *SegmentationTrainer) trainEpoch(ctx context.Context) (float64, error) {
	e := t.Engine
	order := t.trainDS.Order()
	batchSize := t.trainDS.BatchSize

	var epochLoss float64
	batches := 0
	for start := 0; start < len(order); start += batchSize {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		end := min(start+batchSize, len(order))
		batch, err := t.trainDS.Batch(order[start:end])
		if err != nil {
			return 0, err
		}
		e.State.Batch = batch
		e.Fire(EventGetBatchCompleted)
		if e.Terminated() {
			if batches == 0 {
				return 0, nil
			}
			return epochLoss / float64(batches), nil
		}

		images, labels := batch.Rows()
		var batchLoss float64
		for i := range images {
			img := &transforms.Volume{Data: images[i], Shape: batch.ImageShape}
			lab := &transforms.Volume{Data: labels[i], Shape: batch.LabelShape}
			loss, err := t.Model.TrainStep(img, lab)
			if err != nil {
				return 0, err
			}
			batchLoss += loss
		}
		batchLoss /= float64(len(images))
		epochLoss += batchLoss
		batches++

		e.State.Iteration++
		e.State.Metrics["loss"] = batchLoss
		e.Fire(EventIterationComplete)
	}
	if batches == 0 {
		return 0, nil
	}
	return epochLoss / float64(batches), nil
}

// evaluateSplit predicts every record of ds, runs the post pipeline and
// averages the mean Dice.
func (t *SegmentationTrainer) evaluateSplit(ds *datasets.SegmentationDataset) (float64, error) {
	var total float64
	for i := 0; i < ds.Len(); i++ {
		rec, err := ds.Example(i)
		if err != nil {
			return 0, err
		}
		img, err := rec.Get(transforms.KeyImage)
		if err != nil {
			return 0, err
		}
		pred, err := t.Model.Predict(img)
		if err != nil {
			return 0, err
		}
		rec.Set(transforms.KeyPred, pred)
		if err := t.post.Apply(rec); err != nil {
			return 0, err
		}
		dice, err := MeanDice(rec.Volumes[transforms.KeyPred], rec.Volumes[transforms.KeyLabel])
		if err != nil {
			return 0, err
		}
		total += dice
	}
	return total / float64(ds.Len()), nil
}

// Evaluate runs the test pipeline over the held-out split. The test split
// is evaluated at full volume extent; only validation crops around the
// label foreground.
func (t *SegmentationTrainer) Evaluate(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dice, err := t.evaluateSplit(t.testDS)
	if err != nil {
		return 0, t.raise(err)
	}
	t.Engine.State.Metrics["test_mean_dice"] = dice
	t.log.Info("test evaluation", zap.Float64("test_mean_dice", dice))
	return dice, nil
}

func (t *SegmentationTrainer) saveCheckpoint() error {
	if err := os.MkdirAll(t.Config.ModelDir, 0o755); err != nil {
		return fmt.Errorf("create model dir %s: %w", t.Config.ModelDir, err)
	}
	path := filepath.Join(t.Config.ModelDir, t.Config.RunID+"_best.gob")
	return t.Model.Save(path)
}

// raise records err on the engine state and fires the exception event
// before returning it.
func (t *SegmentationTrainer) raise(err error) error {
	t.Engine.State.Err = err
	t.Engine.Fire(EventExceptionRaised)
	return err
}
