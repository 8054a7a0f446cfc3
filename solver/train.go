package solver

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/pglsum/config"
	"github.com/YuminosukeSato/pglsum/core/model"
	"github.com/YuminosukeSato/pglsum/dataset"
	"github.com/YuminosukeSato/pglsum/loss"
	"github.com/YuminosukeSato/pglsum/optim"
	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
	"github.com/YuminosukeSato/pglsum/pkg/log"
)

// EpochLossTag is the metric series of mean epoch losses.
const EpochLossTag = "total_loss_epoch"

// Train runs cfg.Epochs epochs of contrastive training, evaluating after
// each one. Only floor(len(train)/batch_size) full batches are used per
// epoch; the remainder is dropped with a ShortEpochWarning. Cancelling ctx
// stops training at the next batch boundary with an error wrapping
// ctx.Err().
func (s *Solver) Train(ctx context.Context) error {
	if err := s.state.RequireBuilt("Solver", "Train"); err != nil {
		return err
	}
	if s.cfg.Mode != config.ModeTrain || s.optimizer == nil {
		return perrors.NewValidationError("mode", "training requires mode train", s.cfg.Mode)
	}
	if s.train == nil {
		return perrors.Wrap(perrors.ErrEmptyData, "no training source")
	}

	n, batchSize := s.train.Len(), s.cfg.BatchSize
	if batchSize > n {
		return perrors.NewValidationError("batch_size",
			"exceeds the number of training videos", batchSize)
	}
	numBatches := n / batchSize

	logger := s.logger.With(log.OperationKey, log.OperationTrain, log.PhaseKey, log.PhaseTraining)
	logger.Info("training started",
		log.VideosKey, n,
		log.BatchSizeKey, batchSize,
		log.BatchesKey, numBatches,
		log.LearningRateKey, s.cfg.LR,
		log.WeightDecayKey, s.cfg.WeightDecay,
		log.ClipKey, s.cfg.Clip,
	)

	for epoch := 0; epoch < s.cfg.Epochs; epoch++ {
		if err := s.trainEpoch(ctx, logger, epoch, n, numBatches); err != nil {
			return err
		}
	}
	return nil
}

func (s *Solver) trainEpoch(ctx context.Context, logger log.Logger, epoch, n, numBatches int) error {
	start := time.Now()
	if w := perrors.NewShortEpochWarning(epoch, n, s.cfg.BatchSize); w != nil {
		perrors.Warn(w)
	}

	it := s.train.Iterator()
	losses := make([]float64, 0, numBatches)
	for batch := 0; batch < numBatches; batch++ {
		if err := ctx.Err(); err != nil {
			logger.Warn("training interrupted", log.EpochKey, epoch, log.BatchKey, batch)
			return perrors.Wrapf(err, "training interrupted at epoch %d, batch %d", epoch, batch)
		}
		l, norm, err := s.trainBatch(it, epoch)
		if err != nil {
			logger.Error("batch failed",
				log.EpochKey, epoch,
				log.BatchKey, batch,
				log.ErrorCodeKey, errorCode(err),
				log.ErrorTypeKey, fmt.Sprintf("%T", errors.UnwrapAll(err)),
				log.ErrAttrKey, err,
			)
			return err
		}
		losses = append(losses, l)
		logger.Debug("batch done",
			log.EpochKey, epoch,
			log.BatchKey, batch,
			log.LossKey, l,
			log.GradNormKey, norm,
		)
	}

	mean := stat.Mean(losses, nil)
	if err := s.writer.UpdateLoss(mean, epoch, EpochLossTag); err != nil {
		return err
	}

	if err := os.MkdirAll(s.cfg.SaveDir, 0o755); err != nil {
		return perrors.Wrapf(err, "create save dir %s", s.cfg.SaveDir)
	}
	if s.cfg.SaveCheckpoints {
		path, err := model.SaveCheckpoint(s.cfg.SaveDir, epoch, s.model.Parameters())
		if err != nil {
			return err
		}
		logger.Debug("checkpoint saved", log.EpochKey, epoch, log.PathKey, path)
	}

	if err := s.Evaluate(ctx, epoch, s.cfg.SaveWeights); err != nil {
		return err
	}
	s.state.CompleteEpoch(epoch)

	logger.Info("epoch done",
		log.EpochKey, epoch,
		log.LossKey, mean,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// trainBatch performs one optimizer step on the next batch_size videos and
// returns the batch loss and the gradient norm before clipping.
func (s *Solver) trainBatch(it dataset.FrameIterator, epoch int) (l, norm float64, err error) {
	defer perrors.Recover(&err, "Solver.trainBatch")

	s.optimizer.ZeroGrad()

	batchSize := s.cfg.BatchSize
	views1 := make([]*model.Output, batchSize)
	views2 := make([]*model.Output, batchSize)
	for i := 0; i < batchSize; i++ {
		frames, err := it.Next()
		if err == io.EOF {
			s.logger.Warn("training data exhausted mid-batch", log.EpochKey, epoch, log.BatchSizeKey, batchSize)
			return 0, 0, perrors.Wrapf(perrors.ErrEmptyData, "training data exhausted after %d of %d videos", i, batchSize)
		}
		if err != nil {
			return 0, 0, perrors.Wrap(err, "next training video")
		}
		frames, err = reshapeFrames(frames, s.cfg.InputSize, log.PhaseTraining, "")
		if err != nil {
			return 0, 0, err
		}

		if views1[i], err = s.model.Forward(frames, model.ModeTrain); err != nil {
			return 0, 0, err
		}
		if views2[i], err = s.model.Forward(frames, model.ModeTrain); err != nil {
			return 0, 0, err
		}
	}

	h1, h2 := stackEmbeddings(views1), stackEmbeddings(views2)
	sim, err := s.scorer.Matrix(h1, h2)
	if err != nil {
		return 0, 0, err
	}
	l, dSim, err := loss.InfoNCE(sim)
	if err != nil {
		return 0, 0, err
	}
	if err := perrors.CheckScalar("contrastive loss", l, epoch); err != nil {
		return 0, 0, err
	}

	dH1, dH2, err := s.scorer.Backward(h1, h2, dSim)
	if err != nil {
		return 0, 0, err
	}
	for i := 0; i < batchSize; i++ {
		if err := s.model.Backward(views1[i], rowVec(dH1, i)); err != nil {
			return 0, 0, err
		}
		if err := s.model.Backward(views2[i], rowVec(dH2, i)); err != nil {
			return 0, 0, err
		}
	}

	params := s.model.Parameters()
	norm = optim.ClipGradNorm(params, s.cfg.Clip)
	s.optimizer.Step()
	return l, norm, nil
}

// stackEmbeddings returns the embeddings of outs as rows of a matrix.
func stackEmbeddings(outs []*model.Output) *mat.Dense {
	h := mat.NewDense(len(outs), outs[0].Embedding.Len(), nil)
	for i, o := range outs {
		h.SetRow(i, mat.Col(nil, 0, o.Embedding))
	}
	return h
}

func rowVec(m *mat.Dense, i int) *mat.VecDense {
	return mat.NewVecDense(len(m.RawRowView(i)), mat.Row(nil, i, m))
}

// reshapeFrames views frames as (T, inputSize). A sequence with a different
// column count is flattened row-major and re-cut, as long as the element
// count divides evenly.
func reshapeFrames(frames mat.Matrix, inputSize int, phase, videoID string) (mat.Matrix, error) {
	r, c := frames.Dims()
	if c == inputSize && r > 0 {
		return frames, nil
	}
	total := r * c
	if total == 0 || total%inputSize != 0 {
		return nil, perrors.NewInputShapeError(phase, videoID, []int{-1, inputSize}, []int{r, c})
	}
	data := mat.DenseCopyOf(frames).RawMatrix().Data
	return mat.NewDense(total/inputSize, inputSize, data), nil
}
