package solver

import (
	"context"
	"path/filepath"

	"github.com/YuminosukeSato/pglsum/core/model"
	"github.com/YuminosukeSato/pglsum/export"
	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
	"github.com/YuminosukeSato/pglsum/pkg/log"
)

// WeightsDir is the weights archive directory under the score directory.
const WeightsDir = "weights"

// ScorePath returns the score file written by Evaluate(epoch, ...).
func (s *Solver) ScorePath(epoch int) string {
	return export.ScorePath(s.cfg.ScoreDir, s.cfg.VideoType, epoch)
}

// Evaluate scores every evaluation video in eval mode and rewrites the epoch
// score file after each one. With saveWeights the weights are also appended
// to the archive under <videoID>/epoch_<epoch>. Cancelling ctx stops before
// the next video; the videos already scored stay in the score file.
func (s *Solver) Evaluate(ctx context.Context, epoch int, saveWeights bool) error {
	if err := s.state.RequireBuilt("Solver", "Evaluate"); err != nil {
		return err
	}
	if s.eval == nil {
		return perrors.Wrap(perrors.ErrEmptyData, "no evaluation source")
	}

	logger := s.logger.With(log.OperationKey, log.OperationEvaluate, log.PhaseKey, log.PhaseEvaluation, log.EpochKey, epoch)
	path := s.ScorePath(epoch)

	var archive *export.WeightsArchive
	if saveWeights {
		var err error
		if archive, err = export.OpenWeightsArchive(filepath.Join(s.cfg.ScoreDir, WeightsDir)); err != nil {
			return err
		}
	}

	scores := export.Scores{}
	for _, item := range s.eval.Items() {
		if err := ctx.Err(); err != nil {
			logger.Warn("evaluation interrupted", log.VideosKey, len(scores))
			return perrors.Wrapf(err, "evaluation interrupted after %d videos", len(scores))
		}
		frames, err := reshapeFrames(item.Frames, s.cfg.InputSize, log.PhaseEvaluation, item.VideoID)
		if err != nil {
			logger.Error("malformed video", log.VideoIDKey, item.VideoID, log.ErrorCodeKey, errorCode(err), log.ErrAttrKey, err)
			return err
		}
		var out *model.Output
		err = perrors.SafeExecute("Solver.Evaluate", func() (err error) {
			out, err = s.model.Forward(frames, model.ModeEval)
			return err
		})
		if err != nil {
			return perrors.Wrapf(err, "evaluate %s", item.VideoID)
		}
		if err := perrors.CheckNumericalStability("frame scores", out.Weights, epoch); err != nil {
			return err
		}

		scores[item.VideoID] = out.Weights
		if err := export.WriteScores(path, scores); err != nil {
			return err
		}
		if archive != nil {
			if err := archive.Append(item.VideoID, epoch, out.Weights); err != nil {
				return err
			}
		}
		logger.Debug("video scored", log.VideoIDKey, item.VideoID, log.FramesKey, len(out.Weights))
	}

	fields := []any{log.OperationKey, log.OperationExport, log.ScoreFileKey, path, log.VideosKey, len(scores)}
	if archive != nil {
		fields = append(fields, log.WeightsArchiveKey, archive.Root())
	}
	s.logger.With(log.PhaseKey, log.PhaseEvaluation, log.EpochKey, epoch).Info("scores exported", fields...)
	return nil
}
