package log

// Run and component context.
const (
	// RunIDKey identifies one training run; every record of a run carries it.
	RunIDKey = "run.id"

	// ComponentKey names the emitting component ("solver", "evaluator", ...).
	ComponentKey = "ml.component"

	// OperationKey is the operation in progress, see the Operation constants.
	OperationKey = "ml.operation"

	// PhaseKey is "training" or "evaluation".
	PhaseKey = "ml.phase"

	// ModelNameKey identifies the summarization model.
	ModelNameKey = "model.name"

	// DeviceKey is the compute device the model is placed on.
	DeviceKey = "model.device"

	// ParamsKey is the number of learnable scalars in the model.
	ParamsKey = "model.params"
)

// Data shape.
const (
	// VideosKey is the number of videos in a source.
	VideosKey = "data.videos"

	// VideoIDKey identifies a single video.
	VideoIDKey = "data.video_id"

	// FramesKey is the number of frames of a sequence.
	FramesKey = "data.frames"

	// FeaturesKey is the per-frame feature dimensionality.
	FeaturesKey = "data.features"

	// BatchSizeKey is the configured batch size.
	BatchSizeKey = "data.batch_size"
)

// Training progress.
const (
	EpochKey    = "training.epoch"
	BatchKey    = "training.batch"
	BatchesKey  = "training.batches"
	LossKey     = "metrics.loss"
	GradNormKey = "metrics.grad_norm"

	// DurationMsKey is the wall time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"
)

// Hyperparameters.
const (
	LearningRateKey   = "hyperparams.learning_rate"
	WeightDecayKey    = "hyperparams.weight_decay"
	ClipKey           = "hyperparams.clip"
	InitPolicyKey     = "hyperparams.init_policy"
	RandomSeedKey     = "config.random_seed"
	TemperatureKey    = "hyperparams.temperature"
	PathKey           = "io.path"
	SuggestionKey     = "error.suggestion"
	ErrorTypeKey      = "error.type"
	ErrorCodeKey      = "error.code"
	ScoreFileKey      = "export.score_file"
	WeightsArchiveKey = "export.weights_archive"
)

// Standard values.
const (
	OperationBuild    = "build"
	OperationTrain    = "train"
	OperationEvaluate = "evaluate"
	OperationExport   = "export"

	PhaseTraining   = "training"
	PhaseEvaluation = "evaluation"

	ErrorInvalidConfig     = "INVALID_CONFIG"
	ErrorDimensionMismatch = "DIMENSION_MISMATCH"
	ErrorDevice            = "DEVICE_UNAVAILABLE"
	ErrorNumerical         = "NUMERICAL_INSTABILITY"
)
