// Package solver builds, trains and evaluates a summarization model with a
// contrastive objective: two stochastic views of each video in a batch must
// identify each other among all cross-view pairs.
package solver

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/pglsum/config"
	"github.com/YuminosukeSato/pglsum/core/model"
	"github.com/YuminosukeSato/pglsum/core/rng"
	"github.com/YuminosukeSato/pglsum/dataset"
	"github.com/YuminosukeSato/pglsum/initializer"
	"github.com/YuminosukeSato/pglsum/metrics"
	"github.com/YuminosukeSato/pglsum/optim"
	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
	"github.com/YuminosukeSato/pglsum/pkg/log"
	"github.com/YuminosukeSato/pglsum/similarity"
	"github.com/YuminosukeSato/pglsum/summarizer"
)

// ConfigFile is the copy of the resolved configuration written to the log
// directory of a training run.
const ConfigFile = "config.yaml"

// ModelFactory creates an untrained model. rng is the model's private stream.
type ModelFactory func(cfg config.Config, rng *rand.Rand, device model.Device) (model.Summarizer, error)

// WriterFactory opens the metric sink rooted at a log directory.
type WriterFactory func(logDir string) (metrics.Writer, error)

// Solver owns one run: its configuration, data, model, optimizer and sink.
type Solver struct {
	cfg   config.Config
	train dataset.TrainSource
	eval  dataset.EvalSource

	logger    log.Logger
	rngs      *rng.Registry
	newModel  ModelFactory
	newWriter WriterFactory
	runID     string

	model     model.Summarizer
	optimizer *optim.Adam
	writer    metrics.Writer
	scorer    *similarity.Scorer
	state     *model.StateManager
}

// Option customizes a Solver.
type Option func(*Solver)

// WithLogger replaces the solver logger.
func WithLogger(l log.Logger) Option {
	return func(s *Solver) { s.logger = l }
}

// WithRNG shares a random-source registry, typically the one whose "shuffle"
// stream also orders the training source.
func WithRNG(r *rng.Registry) Option {
	return func(s *Solver) { s.rngs = r }
}

// WithModelFactory replaces the default AttentionSummarizer.
func WithModelFactory(f ModelFactory) Option {
	return func(s *Solver) { s.newModel = f }
}

// WithWriterFactory replaces the default SeriesWriter sink.
func WithWriterFactory(f WriterFactory) Option {
	return func(s *Solver) { s.newWriter = f }
}

// WithRunID sets the run identifier instead of a random UUID.
func WithRunID(id string) Option {
	return func(s *Solver) { s.runID = id }
}

// New creates an unbuilt solver. train may be nil in test mode.
func New(cfg config.Config, train dataset.TrainSource, eval dataset.EvalSource, opts ...Option) *Solver {
	s := &Solver{
		cfg:       cfg,
		train:     train,
		eval:      eval,
		newModel:  NewAttentionSummarizer,
		newWriter: func(dir string) (metrics.Writer, error) { return metrics.NewSeriesWriter(dir) },
		scorer:    similarity.Default,
		state:     model.NewStateManager(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runID == "" {
		s.runID = uuid.NewString()
	}
	if s.rngs == nil {
		s.rngs = rng.New(cfg.Seed)
	}
	if s.logger == nil {
		s.logger = log.GetLoggerWithName("solver")
	}
	s.logger = s.logger.With(log.RunIDKey, s.runID)
	return s
}

// NewAttentionSummarizer is the default ModelFactory. The output size equals
// the input size.
func NewAttentionSummarizer(cfg config.Config, r *rand.Rand, device model.Device) (model.Summarizer, error) {
	return summarizer.New(summarizer.Config{
		InputSize:  cfg.InputSize,
		OutputSize: cfg.InputSize,
		Segments:   cfg.Segments,
		Heads:      cfg.Heads,
		Fusion:     cfg.Fusion,
		PosEnc:     cfg.PosEnc,
	}, r, device)
}

// Build creates the model on the configured device and initializes it. In
// train mode it also creates the optimizer and opens the metric sink.
func (s *Solver) Build() error {
	logger := s.logger.With(log.OperationKey, log.OperationBuild)

	device, err := model.ParseDevice(s.cfg.Device)
	if err != nil {
		logger.Error("unsupported device",
			log.DeviceKey, s.cfg.Device,
			log.ErrorCodeKey, errorCode(err),
			log.SuggestionKey, fmt.Sprintf("set device to one of %v", model.AvailableDevices()),
			log.ErrAttrKey, err,
		)
		return err
	}

	m, err := s.newModel(s.cfg, s.rngs.Stream(rng.StreamModel), device)
	if err != nil {
		return err
	}
	if m.Placement() != device {
		return perrors.NewDeviceError(string(m.Placement()), model.AvailableDevices())
	}

	if s.cfg.InitEnabled() {
		if err := initializer.Initialize(m, s.cfg.InitType, s.cfg.InitGain, s.rngs.Stream(rng.StreamInit)); err != nil {
			logger.Error("weight initialization failed",
				log.InitPolicyKey, s.cfg.InitType,
				log.ErrorCodeKey, errorCode(err),
				log.SuggestionKey, fmt.Sprintf("set init_type to one of %v or none", initializer.Policies()),
			)
			return err
		}
	}

	var (
		opt    *optim.Adam
		writer metrics.Writer = metrics.Discard{}
	)
	if s.cfg.Mode == config.ModeTrain {
		opt, err = optim.NewAdam(m.Parameters(), optim.AdamConfig{LR: s.cfg.LR, WeightDecay: s.cfg.WeightDecay})
		if err != nil {
			return err
		}
		writer, err = s.newWriter(s.cfg.LogDir)
		if err != nil {
			return err
		}
		if err := s.saveConfig(); err != nil {
			_ = writer.Close()
			return err
		}
	}

	s.model = m
	s.optimizer = opt
	s.writer = writer
	nParams := model.CountParams(m.Parameters())
	s.state.SetBuilt(nParams)

	logger.Info("model built",
		log.ModelNameKey, modelName(m),
		log.DeviceKey, string(device),
		log.FeaturesKey, s.cfg.InputSize,
		log.ParamsKey, nParams,
		log.InitPolicyKey, s.cfg.InitType,
		log.RandomSeedKey, s.rngs.Seed(),
		log.TemperatureKey, s.scorer.Temperature(),
	)
	return nil
}

// saveConfig records the resolved configuration next to the run's metrics.
func (s *Solver) saveConfig() error {
	if err := os.MkdirAll(s.cfg.LogDir, 0o755); err != nil {
		return perrors.Wrapf(err, "create log dir %s", s.cfg.LogDir)
	}
	return s.cfg.Save(filepath.Join(s.cfg.LogDir, ConfigFile))
}

// modelName is the model's Name when it has one, else its Go type.
func modelName(m model.Summarizer) string {
	if n, ok := m.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", m)
}

// errorCode classifies err for the error.code and error.type log fields.
func errorCode(err error) string {
	var (
		ve  *perrors.ValidationError
		de  *perrors.DimensionError
		se  *perrors.InputShapeError
		dev *perrors.DeviceError
		ne  *perrors.NumericalInstabilityError
	)
	switch {
	case perrors.As(err, &ve):
		return log.ErrorInvalidConfig
	case perrors.As(err, &de), perrors.As(err, &se):
		return log.ErrorDimensionMismatch
	case perrors.As(err, &dev):
		return log.ErrorDevice
	case perrors.As(err, &ne):
		return log.ErrorNumerical
	}
	return ""
}

// LoadCheckpoint restores model parameters saved by a previous run.
func (s *Solver) LoadCheckpoint(path string) error {
	if err := s.state.RequireBuilt("Solver", "LoadCheckpoint"); err != nil {
		return err
	}
	epoch, err := model.LoadCheckpoint(path, s.model.Parameters())
	if err != nil {
		return err
	}
	s.state.CompleteEpoch(epoch)
	s.logger.Info("checkpoint loaded", log.PathKey, path, log.EpochKey, epoch)
	return nil
}

// Model returns the built model, or nil.
func (s *Solver) Model() model.Summarizer {
	return s.model
}

// RunID returns the run identifier attached to every log record.
func (s *Solver) RunID() string {
	return s.runID
}

// LastEpoch returns the last completed epoch, or -1.
func (s *Solver) LastEpoch() int {
	return s.state.LastEpoch()
}

// Close flushes the metric sink.
func (s *Solver) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
