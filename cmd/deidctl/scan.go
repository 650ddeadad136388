package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/labsight/deidgate/internal/phi"
)

var errIdentifiersFound = errors.New("identifiers found")

type scanOutput struct {
	Categories phi.CategorySet `json:"categories"`
	Text       *string         `json:"text,omitempty"`
}

func scanCmd() *cobra.Command {
	var scrub bool

	cmd := &cobra.Command{
		Use:   "scan [file]",
		Short: "Report identifier categories found in text",
		Long: "Scan a file, or stdin, for personal identifiers. With --scrub the text is " +
			"printed with every identifier replaced. Exits non-zero when anything is found.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", args[0], err)
				}
				defer f.Close()
				r = f
			}
			data, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}

			out := scanOutput{}
			if scrub {
				text, found := phi.Scrub(string(data))
				out.Categories, out.Text = found, &text
			} else {
				out.Categories = phi.Scan(string(data))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			if !out.Categories.Empty() {
				return errIdentifiersFound
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&scrub, "scrub", false, "print the text with identifiers redacted")

	return cmd
}
