package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/tee-scheduler/internal/config"
	"github.com/example/tee-scheduler/internal/domain/teetime"
	"github.com/example/tee-scheduler/internal/logging"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one availability scan and print eligible openings without booking",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logging.Setup(cfg.Env, cfg.LogLevel)

			query, err := cfg.Query()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			provider, err := buildProvider(ctx, cfg, nil)
			if err != nil {
				return err
			}
			if err := provider.Connect(ctx); err != nil {
				return err
			}
			defer func() {
				if err := provider.Close(ctx); err != nil {
					log.Error().Err(err).Msg("provider close")
				}
			}()

			slots, err := provider.FindSlots(ctx, query)
			if err != nil {
				return err
			}
			if len(slots) == 0 {
				fmt.Fprintln(os.Stdout, "no eligible openings")
				return nil
			}
			for _, s := range slots {
				fmt.Fprintln(os.Stdout, s.String())
			}
			if best, ok := teetime.ChooseEarliest(slots); ok {
				fmt.Fprintf(os.Stdout, "\nwould book: %s\n", best.String())
			}
			return nil
		},
	}
}
