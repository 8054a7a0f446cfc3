package commands

import (
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/pglsum/config"
	"github.com/YuminosukeSato/pglsum/pkg/log"
)

func newTrainCmd(g *globalFlags) *cobra.Command {
	var (
		data   dataFlags
		epochs int
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train with the contrastive objective and export scores after every epoch",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			overrides := append(data.overrides(cmd, g), func(c *config.Config) { c.Mode = config.ModeTrain })
			if cmd.Flags().Changed("epochs") {
				overrides = append(overrides, func(c *config.Config) { c.Epochs = epochs })
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
			defer func() {
				if cerr := s.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			if err := s.Train(cmd.Context()); err != nil {
				return err
			}
			log.GetLoggerWithName("cli").Info("training finished",
				log.RunIDKey, s.RunID(),
				log.EpochKey, s.LastEpoch(),
				log.PathKey, cfg.ScoreDir,
			)
			return nil
		},
	}
	data.register(cmd)
	cmd.Flags().IntVar(&epochs, "epochs", 0, "number of epochs (overrides n_epochs)")
	return cmd
}
