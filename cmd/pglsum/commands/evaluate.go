package commands

import (
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/pglsum/config"
)

func newEvaluateCmd(g *globalFlags) *cobra.Command {
	var (
		data        dataFlags
		checkpoint  string
		epoch       int
		saveWeights bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score the evaluation videos with a saved checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := append(data.overrides(cmd, g), func(c *config.Config) { c.Mode = config.ModeTest })
			if cmd.Flags().Changed("checkpoint") {
				overrides = append(overrides, func(c *config.Config) { c.Checkpoint = checkpoint })
			}
			if cmd.Flags().Changed("save-weights") {
				overrides = append(overrides, func(c *config.Config) { c.SaveWeights = saveWeights })
			}
			cfg, err := config.Load(g.configPath, overrides...)
			if err != nil {
				return err
			}

			s, err := newSolver(cfg)
			if err != nil {
				return err
			}
			if err := s.Build(); err != nil {
				return err
			}
			if cfg.Checkpoint != "" {
				if err := s.LoadCheckpoint(cfg.Checkpoint); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("epoch") && s.LastEpoch() >= 0 {
				epoch = s.LastEpoch()
			}
			return s.Evaluate(cmd.Context(), epoch, cfg.SaveWeights)
		},
	}
	data.register(cmd)
	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "checkpoint written by train with save_checkpoints")
	cmd.Flags().IntVar(&epoch, "epoch", 0, "epoch index used in output names (default: the checkpoint's epoch)")
	cmd.Flags().BoolVar(&saveWeights, "save-weights", false, "also append the weights to the archive")
	return cmd
}
