package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labsight/deidgate/internal/setup"
)

func mcpCmd() *cobra.Command {
	var clientConfig string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Register the MCP server with a desktop client",
	}
	cmd.PersistentFlags().StringVar(&clientConfig, "client-config", "", "client configuration file (default: platform location)")

	resolve := func() (string, error) {
		if clientConfig != "" {
			return clientConfig, nil
		}
		return setup.DefaultConfigPath()
	}

	var opts setup.Options
	register := &cobra.Command{
		Use:   "register",
		Short: "Add or replace the deidgate entry in the client configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			entry, err := setup.Register(path, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s -> %s in %s\n", setup.ServerName, entry.Command, path)
			return nil
		},
	}
	register.Flags().StringVar(&opts.BinaryPath, "binary", "", "path to the deidgate-mcp binary (default: search PATH)")
	register.Flags().StringVar(&opts.PseudonymMode, "pseudonym-mode", "", "pseudonym mode passed to the server (random or keyed)")
	register.Flags().StringVar(&opts.PseudonymSalt, "pseudonym-salt", "", "salt for keyed pseudonyms")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show whether the MCP server is registered",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			st, err := setup.GetStatus(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:     %s\n", st.ConfigPath)
			fmt.Fprintf(out, "registered: %t\n", st.Registered)
			if st.Registered {
				fmt.Fprintf(out, "command:    %s (found: %t)\n", st.Command, st.BinaryExists)
			}
			return nil
		},
	}

	cmd.AddCommand(register, status)
	return cmd
}
