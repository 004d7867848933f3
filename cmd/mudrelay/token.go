package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crystal-mush/mudrelay/pkg/bridge"
)

func tokenCmd(g *globalFlags) *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bridge access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(os.Stderr)
			if err != nil {
				return err
			}
			auth := bridge.NewAuth(cfg.Bridge.Secret, cfg.Bridge.TokenTTL())
			if auth == nil {
				return errors.New("bridge.secret is empty; tokens are not required")
			}
			token, err := auth.Issue(subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&subject, "subject", "s", "bridge-client", "Client name recorded in the token")
	return cmd
}
