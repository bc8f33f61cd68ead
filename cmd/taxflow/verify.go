package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dlovans/taxflow/pkg/factgraph"
)

func verifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify DOCUMENT",
		Short: "Check that an exported return's derived values follow from its answers",
		Long: `Verify replays every derivation of an exported return (as printed by
"taxflow returns show") and reports each derived value that does not match.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dict, err := factgraph.LoadDictionaryFile(a.cfg.Flow.Dictionary)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			var doc factgraph.Document
			if err := json.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("decode document: %w", err)
			}

			out := cmd.OutOrStdout()
			valid, err := factgraph.Verify(dict, &doc)
			var ve *factgraph.VerifyError
			if errors.As(err, &ve) {
				for _, m := range ve.Mismatches {
					fmt.Fprintf(out, "%s: claimed %v, computed %v\n", m.Path, m.Claimed, m.Computed)
				}
			}
			if err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}
			if valid {
				fmt.Fprintln(out, "document verified: derived values follow from the answers")
			}
			return nil
		},
	}
}
