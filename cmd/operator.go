package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/tee-scheduler/internal/auth"
)

func newOperatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Manage operator access",
	}
	cmd.AddCommand(newOperatorHashCmd())
	return cmd
}

func newOperatorHashCmd() *cobra.Command {
	var password string

	c := &cobra.Command{
		Use:   "hash",
		Short: "Hash the operator password for TEESCHED_OPERATOR_PASSWORD_HASH",
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "export TEESCHED_OPERATOR_PASSWORD_HASH='%s'\n", hash)
			return nil
		},
	}

	c.Flags().StringVar(&password, "password", "", "password to hash")
	_ = c.MarkFlagRequired("password")
	return c
}
