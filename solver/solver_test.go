package solver

import (
	"context"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pglsum/config"
	"github.com/YuminosukeSato/pglsum/core/model"
	"github.com/YuminosukeSato/pglsum/dataset"
	"github.com/YuminosukeSato/pglsum/export"
	"github.com/YuminosukeSato/pglsum/metrics"
	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
	"github.com/YuminosukeSato/pglsum/pkg/log"
)

// linearModel embeds a video as mean(frames)·W plus train-mode noise and
// scores frame t as (t+1)/T.
type linearModel struct {
	w     *model.Parameter
	b     *model.Parameter
	rng   *rand.Rand
	noise float64

	panicOnBackward bool
	nanEmbedding    bool
}

func newLinearModel(cfg config.Config, r *rand.Rand, _ model.Device) (model.Summarizer, error) {
	d := cfg.InputSize
	w := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			w.Set(i, j, r.NormFloat64()/math.Sqrt(float64(d)))
		}
	}
	return &linearModel{
		w:     model.NewParameter("proj.weight", model.RoleWeight, w),
		b:     model.NewParameter("proj.bias", model.RoleBias, mat.NewDense(1, d, nil)),
		rng:   r,
		noise: 0.1,
	}, nil
}

func (m *linearModel) Forward(frames mat.Matrix, mode model.Mode) (*model.Output, error) {
	t, d := frames.Dims()
	mean := mat.NewVecDense(d, nil)
	for i := 0; i < t; i++ {
		mean.AddVec(mean, mat.NewVecDense(d, mat.Row(nil, i, frames)))
	}
	mean.ScaleVec(1/float64(t), mean)

	emb := mat.NewVecDense(d, nil)
	emb.MulVec(m.w.Value.T(), mean)
	for j := 0; j < d; j++ {
		v := emb.AtVec(j) + m.b.Value.At(0, j)
		if mode == model.ModeTrain {
			v += m.noise * m.rng.NormFloat64()
		}
		if m.nanEmbedding {
			v = math.NaN()
		}
		emb.SetVec(j, v)
	}

	weights := make([]float64, t)
	for i := range weights {
		weights[i] = float64(i+1) / float64(t)
	}
	out := &model.Output{Embedding: emb, Weights: weights}
	if mode == model.ModeTrain {
		out.Trace = mean
	}
	return out, nil
}

func (m *linearModel) Backward(out *model.Output, grad *mat.VecDense) error {
	if m.panicOnBackward {
		var v []float64
		_ = v[3]
	}
	mean, ok := out.Trace.(*mat.VecDense)
	if !ok {
		return perrors.ErrNoGradient
	}
	m.w.Grad.RankOne(m.w.Grad, 1, mean, grad)
	for j := 0; j < grad.Len(); j++ {
		m.b.Grad.Set(0, j, m.b.Grad.At(0, j)+grad.AtVec(j))
	}
	return nil
}

func (m *linearModel) Parameters() []*model.Parameter { return []*model.Parameter{m.w, m.b} }
func (m *linearModel) ZeroGrad() {
	m.w.ZeroGrad()
	m.b.ZeroGrad()
}
func (m *linearModel) Placement() model.Device { return model.DeviceCPU }

// recordingWriter keeps every metric point in memory.
type recordingWriter struct {
	points []metrics.Point
	closed bool
}

func (w *recordingWriter) UpdateLoss(value float64, epoch int, tag string) error {
	w.points = append(w.points, metrics.Point{Tag: tag, Epoch: epoch, Value: value})
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.InputSize = 8
	cfg.Heads = 2
	cfg.Segments = 2
	cfg.BatchSize = 2
	cfg.Epochs = 1
	cfg.LR = 1e-3
	cfg.ExpDir = t.TempDir()
	return cfg.Resolve()
}

func makeVideos(seed uint64, n, frames, dim int) []dataset.Video {
	r := rand.New(rand.NewPCG(seed, 0))
	videos := make([]dataset.Video, n)
	for v := range videos {
		data := make([]float64, frames*dim)
		for i := range data {
			data[i] = r.NormFloat64()
		}
		videos[v] = dataset.Video{ID: "video_" + string(rune('1'+v)), Frames: mat.NewDense(frames, dim, data)}
	}
	return videos
}

func newTestSolver(t *testing.T, cfg config.Config, nTrain int, opts ...Option) (*Solver, *recordingWriter) {
	t.Helper()
	writer := &recordingWriter{}
	train := dataset.NewMemory(makeVideos(1, nTrain, 10, cfg.InputSize), rand.New(rand.NewPCG(3, 3)))
	eval := dataset.NewMemory(makeVideos(2, 2, 10, cfg.InputSize), nil)
	logger, _ := log.NewTestLogger(log.LevelDebug)

	base := []Option{
		WithLogger(logger),
		WithRunID("test-run"),
		WithWriterFactory(func(string) (metrics.Writer, error) { return writer, nil }),
	}
	return New(cfg, train, eval, append(base, opts...)...), writer
}

func TestTrainEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	logger, _ := log.NewTestLogger(log.LevelDebug)
	s, writer := newTestSolver(t, cfg, 6, WithLogger(logger))

	require.NoError(t, s.Build())
	require.NoError(t, s.Train(context.Background()))
	require.NoError(t, s.Close())

	require.Len(t, writer.points, 1)
	assert.Equal(t, EpochLossTag, writer.points[0].Tag)
	assert.Equal(t, 0, writer.points[0].Epoch)
	assert.False(t, math.IsNaN(writer.points[0].Value) || math.IsInf(writer.points[0].Value, 0))
	assert.True(t, writer.closed)

	assert.Len(t, logger.EntriesWithMessage("batch done"), 3)
	assert.True(t, logger.ContainsField(log.RunIDKey, "test-run"))
	assert.True(t, logger.ContainsMessage("scores exported"))
	assert.True(t, logger.ContainsField(log.OperationKey, log.OperationExport))
	assert.True(t, logger.ContainsField(log.ModelNameKey, "attention_summarizer"))

	saved, err := config.Load(filepath.Join(cfg.LogDir, ConfigFile))
	require.NoError(t, err)
	assert.Equal(t, cfg, saved)

	scores, err := export.ReadScores(filepath.Join(cfg.ScoreDir, "SumMe_0.json"))
	require.NoError(t, err)
	assert.Len(t, scores, 2)
	for id, w := range scores {
		assert.Len(t, w, 10, id)
	}

	info, err := os.Stat(cfg.SaveDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, 0, s.LastEpoch())
}

func TestTrainIsReproducible(t *testing.T) {
	run := func() []metrics.Point {
		cfg := testConfig(t)
		cfg.Epochs = 2
		s, writer := newTestSolver(t, cfg, 4, WithModelFactory(newLinearModel))
		require.NoError(t, s.Build())
		require.NoError(t, s.Train(context.Background()))
		return writer.points
	}
	first := run()
	require.Len(t, first, 2)
	assert.Equal(t, first, run())
}

func TestTrainLossDecreasesOnLinearModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Epochs = 30
	cfg.LR = 1e-2
	cfg.InitType = "none"
	s, writer := newTestSolver(t, cfg, 4, WithModelFactory(newLinearModel))
	require.NoError(t, s.Build())
	require.NoError(t, s.Train(context.Background()))

	require.Len(t, writer.points, 30)
	meanLoss := func(points []metrics.Point) float64 {
		sum := 0.0
		for _, p := range points {
			sum += p.Value
		}
		return sum / float64(len(points))
	}
	assert.Less(t, meanLoss(writer.points[25:]), meanLoss(writer.points[:5]))
}

func TestBuildRejectsUnsupportedDevice(t *testing.T) {
	cfg := testConfig(t)
	cfg.Device = "cuda"
	s, _ := newTestSolver(t, cfg, 4)

	var de *perrors.DeviceError
	require.ErrorAs(t, s.Build(), &de)
	assert.Nil(t, s.Model())
}

func TestBuildRejectsUnknownInitPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.InitType = "lecun"
	s, _ := newTestSolver(t, cfg, 4)

	var ve *perrors.ValidationError
	assert.ErrorAs(t, s.Build(), &ve)
}

func TestOperationsRequireBuild(t *testing.T) {
	s, _ := newTestSolver(t, testConfig(t), 4)

	var nb *perrors.NotBuiltError
	assert.ErrorAs(t, s.Train(context.Background()), &nb)
	assert.ErrorAs(t, s.Evaluate(context.Background(), 0, false), &nb)
	assert.ErrorAs(t, s.LoadCheckpoint("x.gob"), &nb)
}

// cancellingWriter cancels the run once the loss of epoch `at` is recorded.
type cancellingWriter struct {
	recordingWriter
	at     int
	cancel context.CancelFunc
}

func (w *cancellingWriter) UpdateLoss(value float64, epoch int, tag string) error {
	if err := w.recordingWriter.UpdateLoss(value, epoch, tag); err != nil {
		return err
	}
	if epoch == w.at {
		w.cancel()
	}
	return nil
}

func TestTrainStopsWhenCancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Epochs = 1000
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	writer := &cancellingWriter{at: 1, cancel: cancel}
	s, _ := newTestSolver(t, cfg, 4,
		WithModelFactory(newLinearModel),
		WithWriterFactory(func(string) (metrics.Writer, error) { return writer, nil }),
	)
	require.NoError(t, s.Build())

	err := s.Train(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, writer.points, 2)
	assert.Equal(t, 0, s.LastEpoch())

	require.NoError(t, s.Close())
	assert.True(t, writer.closed)
}

func TestCancelledContextStopsBeforeWork(t *testing.T) {
	cfg := testConfig(t)
	s, writer := newTestSolver(t, cfg, 4, WithModelFactory(newLinearModel))
	require.NoError(t, s.Build())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Train(ctx), context.Canceled)
	assert.Empty(t, writer.points)
	assert.Equal(t, -1, s.LastEpoch())

	assert.ErrorIs(t, s.Evaluate(ctx, 0, false), context.Canceled)
	_, err := os.Stat(s.ScorePath(0))
	assert.True(t, os.IsNotExist(err))
}

func TestBatchLargerThanDataset(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 5
	s, _ := newTestSolver(t, cfg, 4, WithModelFactory(newLinearModel))
	require.NoError(t, s.Build())

	var ve *perrors.ValidationError
	require.ErrorAs(t, s.Train(context.Background()), &ve)
	assert.Equal(t, "batch_size", ve.ParamName)
}

func TestShortEpochWarns(t *testing.T) {
	var warnings []error
	perrors.SetZerologWarnFunc(nil)
	perrors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	t.Cleanup(func() { perrors.SetWarningHandler(nil) })

	cfg := testConfig(t)
	cfg.Epochs = 2
	s, writer := newTestSolver(t, cfg, 5, WithModelFactory(newLinearModel))
	require.NoError(t, s.Build())
	require.NoError(t, s.Train(context.Background()))

	require.Len(t, warnings, 2)
	var sw *perrors.ShortEpochWarning
	require.ErrorAs(t, warnings[1], &sw)
	assert.Equal(t, 1, sw.Epoch)
	assert.Equal(t, 1, sw.Dropped)
	assert.Len(t, writer.points, 2)
}

func TestNaNLossIsFatal(t *testing.T) {
	cfg := testConfig(t)
	factory := func(c config.Config, r *rand.Rand, d model.Device) (model.Summarizer, error) {
		m, err := newLinearModel(c, r, d)
		m.(*linearModel).nanEmbedding = true
		return m, err
	}
	logger, _ := log.NewTestLogger(log.LevelDebug)
	s, writer := newTestSolver(t, cfg, 4, WithModelFactory(factory), WithLogger(logger))
	require.NoError(t, s.Build())

	var ne *perrors.NumericalInstabilityError
	require.ErrorAs(t, s.Train(context.Background()), &ne)
	assert.Empty(t, writer.points)

	failed := logger.EntriesWithMessage("batch failed")
	require.Len(t, failed, 1)
	assert.Equal(t, log.ErrorNumerical, failed[0][log.ErrorCodeKey])
	assert.Equal(t, "*errors.NumericalInstabilityError", failed[0][log.ErrorTypeKey])
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", perrors.NewValidationError("lr", "must be positive", 0), log.ErrorInvalidConfig},
		{"dimension", perrors.NewDimensionError("op", 2, 3, 1), log.ErrorDimensionMismatch},
		{"shape", perrors.NewInputShapeError("evaluation", "v", []int{-1, 2}, []int{1, 3}), log.ErrorDimensionMismatch},
		{"device", perrors.NewDeviceError("cuda", model.AvailableDevices()), log.ErrorDevice},
		{"numerical", perrors.Wrap(perrors.NewNumericalInstabilityError("loss", nil, 0), "batch"), log.ErrorNumerical},
		{"other", perrors.New("boom"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorCode(tt.err))
		})
	}
}

func TestPanicsBecomeErrors(t *testing.T) {
	cfg := testConfig(t)
	factory := func(c config.Config, r *rand.Rand, d model.Device) (model.Summarizer, error) {
		m, err := newLinearModel(c, r, d)
		m.(*linearModel).panicOnBackward = true
		return m, err
	}
	s, _ := newTestSolver(t, cfg, 4, WithModelFactory(factory))
	require.NoError(t, s.Build())

	var pe *perrors.PanicError
	require.ErrorAs(t, s.Train(context.Background()), &pe)
	assert.Equal(t, "Solver.trainBatch", pe.Operation)
}

func TestEvaluateExportsEveryVideo(t *testing.T) {
	cfg := testConfig(t)
	s, _ := newTestSolver(t, cfg, 4, WithModelFactory(newLinearModel))
	require.NoError(t, s.Build())
	require.NoError(t, s.Evaluate(context.Background(), 7, true))

	path := s.ScorePath(7)
	assert.Equal(t, filepath.Join(cfg.ScoreDir, "SumMe_7.json"), path)

	scores, err := export.ReadScores(path)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.InDelta(t, 1.0, scores["video_2"][9], 1e-12)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o777), info.Mode().Perm())

	archive, err := export.OpenWeightsArchive(filepath.Join(cfg.ScoreDir, WeightsDir))
	require.NoError(t, err)
	w, err := archive.Read("video_1", 7)
	require.NoError(t, err)
	assert.Equal(t, scores["video_1"], w)

	// The archive is append-only: evaluating the same epoch again fails.
	assert.Error(t, s.Evaluate(context.Background(), 7, true))
}

func TestEvaluateIsDeterministic(t *testing.T) {
	cfg := testConfig(t)
	s, _ := newTestSolver(t, cfg, 4)
	require.NoError(t, s.Build())

	require.NoError(t, s.Evaluate(context.Background(), 0, false))
	require.NoError(t, s.Evaluate(context.Background(), 1, false))
	a, err := export.ReadScores(s.ScorePath(0))
	require.NoError(t, err)
	b, err := export.ReadScores(s.ScorePath(1))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCheckpointsAndTestMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.SaveCheckpoints = true
	s, _ := newTestSolver(t, cfg, 4)
	require.NoError(t, s.Build())
	require.NoError(t, s.Train(context.Background()))

	path := model.CheckpointPath(cfg.SaveDir, 0)
	_, err := os.Stat(path)
	require.NoError(t, err)

	testCfg := cfg
	testCfg.Mode = config.ModeTest
	restored, _ := newTestSolver(t, testCfg, 4)
	require.NoError(t, restored.Build())
	require.NoError(t, restored.LoadCheckpoint(path))
	assert.Equal(t, 0, restored.LastEpoch())

	for i, p := range s.Model().Parameters() {
		assert.True(t, mat.Equal(p.Value, restored.Model().Parameters()[i].Value), p.Name)
	}

	var ve *perrors.ValidationError
	assert.ErrorAs(t, restored.Train(context.Background()), &ve)
	require.NoError(t, restored.Evaluate(context.Background(), 1, false))
}

func TestReshapeFrames(t *testing.T) {
	flat := mat.NewDense(1, 6, []float64{1, 2, 3, 4, 5, 6})
	got, err := reshapeFrames(flat, 2, log.PhaseEvaluation, "v")
	require.NoError(t, err)
	r, c := got.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, 5.0, got.At(2, 0))

	_, err = reshapeFrames(flat, 4, log.PhaseEvaluation, "v")
	var se *perrors.InputShapeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "v", se.VideoID)
}
