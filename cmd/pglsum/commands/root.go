// Package commands implements the pglsum CLI.
package commands

import (
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pglsum/config"
	"github.com/YuminosukeSato/pglsum/core/rng"
	"github.com/YuminosukeSato/pglsum/dataset"
	"github.com/YuminosukeSato/pglsum/pkg/log"
	"github.com/YuminosukeSato/pglsum/preprocessing"
	"github.com/YuminosukeSato/pglsum/solver"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	verbose    bool
	logFormat  string
}

// dataFlags select the features and the cross-validation split.
type dataFlags struct {
	features string
	splits   string
	split    int
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "pglsum",
		Short: "Contrastive training and score export for attention-based video summarization",
		Long: `pglsum trains a frame-attention summarization model without labels: two
stochastic views of every video in a batch must identify each other. After
every epoch it writes per-frame importance scores for the evaluation videos.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return log.Init(log.Options{
				Verbose: g.verbose,
				Format:  g.logFormat,
				Out:     cmd.ErrOrStderr(),
			})
		},
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default: ./pglsum.yaml or ./config.yaml)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log every batch")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", log.FormatConsole, "log format: console, json or cloud")

	root.AddCommand(newTrainCmd(g), newEvaluateCmd(g))
	return root
}

func (d *dataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.features, "features", "", "JSON feature file {videoID: [[f, ...], ...]}")
	cmd.Flags().StringVar(&d.splits, "splits", "", "JSON split file [{train_keys, test_keys}, ...]")
	cmd.Flags().IntVar(&d.split, "split", 0, "split index")
}

// overrides turns explicitly set flags into config overrides.
func (d *dataFlags) overrides(cmd *cobra.Command, g *globalFlags) []config.Override {
	var out []config.Override
	if cmd.Flags().Changed("features") {
		out = append(out, func(c *config.Config) { c.FeaturesPath = d.features })
	}
	if cmd.Flags().Changed("splits") {
		out = append(out, func(c *config.Config) { c.SplitsPath = d.splits })
	}
	if cmd.Flags().Changed("split") {
		out = append(out, func(c *config.Config) { c.SplitIndex = d.split })
	}
	if g.verbose {
		out = append(out, func(c *config.Config) { c.Verbose = true })
	}
	return out
}

// loadSources reads features and the selected split. The training source is
// shuffled with the registry's shuffle stream.
func loadSources(cfg config.Config, reg *rng.Registry) (*dataset.Memory, *dataset.Memory, error) {
	features, err := dataset.LoadFeatures(cfg.FeaturesPath, cfg.InputSize)
	if err != nil {
		return nil, nil, err
	}
	splits, err := dataset.LoadSplits(cfg.SplitsPath)
	if err != nil {
		return nil, nil, err
	}
	split, err := dataset.SelectSplit(splits, cfg.SplitIndex)
	if err != nil {
		return nil, nil, err
	}

	log.GetLoggerWithName("data").Info("split loaded",
		log.PathKey, cfg.FeaturesPath,
		log.VideosKey, len(features),
		log.FeaturesKey, cfg.InputSize,
		"data.train_videos", len(split.TrainKeys),
		"data.test_videos", len(split.TestKeys),
	)
	train, eval, err := dataset.FromSplit(features, split, reg.Stream(rng.StreamShuffle))
	if err != nil || !cfg.StandardizeFeatures {
		return train, eval, err
	}
	return standardize(train, eval)
}

// standardize fits a scaler on the training frames and applies it to both
// sources.
func standardize(train, eval *dataset.Memory) (*dataset.Memory, *dataset.Memory, error) {
	frames := make([]mat.Matrix, 0, train.Len())
	for _, v := range train.Videos() {
		frames = append(frames, v.Frames)
	}
	scaler := preprocessing.NewStandardScaler()
	if err := scaler.Fit(frames); err != nil {
		return nil, nil, err
	}

	train, err := train.Map(scaler.Transform)
	if err != nil {
		return nil, nil, err
	}
	eval, err = eval.Map(scaler.Transform)
	if err != nil {
		return nil, nil, err
	}
	return train, eval, nil
}

// newSolver wires a solver with a shared random-source registry.
func newSolver(cfg config.Config) (*solver.Solver, error) {
	reg := rng.New(cfg.Seed)
	train, eval, err := loadSources(cfg, reg)
	if err != nil {
		return nil, err
	}
	return solver.New(cfg, train, eval, solver.WithRNG(reg)), nil
}
