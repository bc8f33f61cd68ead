package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dlovans/taxflow/internal/engine"
	"github.com/dlovans/taxflow/pkg/checklist"
	"github.com/dlovans/taxflow/pkg/factgraph"
	"github.com/dlovans/taxflow/pkg/navigate"
	"github.com/dlovans/taxflow/pkg/store"
)

// returnFlags select the return a command evaluates.
type returnFlags struct {
	statePath string
	returnID  string
	itemID    string
}

func (f *returnFlags) register(cmd *cobra.Command, withItem bool) {
	cmd.Flags().StringVarP(&f.statePath, "state", "s", "", `Return state as JSON ("-" for stdin)`)
	cmd.Flags().StringVarP(&f.returnID, "return", "r", "", "Stored return id")
	cmd.MarkFlagsMutuallyExclusive("state", "return")
	if withItem {
		cmd.Flags().StringVar(&f.itemID, "item", "", "Collection item id (default: from the route query)")
	}
}

// load opens the flow and rebuilds the selected return. With neither flag
// the return is empty.
func (a *app) load(cmd *cobra.Command, f *returnFlags) (*engine.Engine, *factgraph.Snapshot, error) {
	e, err := a.engine(nil)
	if err != nil {
		return nil, nil, err
	}

	var state *factgraph.State
	switch {
	case f.returnID != "":
		st, err := a.openStore()
		if err != nil {
			return nil, nil, err
		}
		defer st.Close()
		state, err = st.Load(cmd.Context(), f.returnID)
		if err != nil {
			return nil, nil, err
		}
	case f.statePath != "":
		state, err = readState(cmd, f.statePath)
		if err != nil {
			return nil, nil, err
		}
	}

	g, err := e.Restore(state)
	if err != nil {
		return nil, nil, err
	}
	return e, g.Snapshot(), nil
}

// readState decodes a state or an exported document; derived values in a
// document are ignored.
func readState(cmd *cobra.Command, path string) (*factgraph.State, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open state: %w", err)
		}
		defer f.Close()
		r = f
	}
	var state factgraph.State
	if err := json.NewDecoder(r).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", path, err)
	}
	return &state, nil
}

func (a *app) openStore() (*store.SQLite, error) {
	if a.cfg.Store.Path == "" {
		return nil, errors.New("no store configured: set store.path or --store")
	}
	return store.Open(a.cfg.Store.Path, store.WithLogger(a.logger.Named("store")))
}

func nextCmd(a *app) *cobra.Command {
	var f returnFlags
	cmd := &cobra.Command{
		Use:   "next ROUTE",
		Short: "Resolve the destination after a screen",
		Example: `  taxflow next /flow/you-and-your-family/about-you/filing-status --state return.json
  taxflow next '/flow/income/jobs/w2-wages?/formW2s=<id>' --return 2024-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, snap, err := a.load(cmd, &f)
			if err != nil {
				return err
			}
			d, err := e.Navigator.NextScreen(args[0], f.itemID, snap)
			if err != nil {
				return err
			}
			return printJSON(cmd, destination(d))
		},
	}
	f.register(cmd, true)
	return cmd
}

func firstCmd(a *app) *cobra.Command {
	var f returnFlags
	cmd := &cobra.Command{
		Use:   "first ROUTE",
		Short: "Resolve the first screen the filer can see under a category, subcategory or screen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, snap, err := a.load(cmd, &f)
			if err != nil {
				return err
			}
			d, err := e.Navigator.FirstAvailable(args[0], f.itemID, snap)
			if err != nil {
				return err
			}
			return printJSON(cmd, destination(d))
		},
	}
	f.register(cmd, true)
	return cmd
}

func incompleteCmd(a *app) *cobra.Command {
	var f returnFlags
	cmd := &cobra.Command{
		Use:   "incomplete SUBCATEGORY",
		Short: "Find the first screen under a subcategory that still asks for a missing fact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, snap, err := a.load(cmd, &f)
			if err != nil {
				return err
			}
			d, found, err := e.Navigator.FirstIncompleteScreen(args[0], f.itemID, snap)
			if err != nil {
				return err
			}
			out := map[string]any{"found": found}
			if found {
				out["destination"] = destination(d)
			}
			return printJSON(cmd, out)
		},
	}
	f.register(cmd, true)
	return cmd
}

func dataViewCmd(a *app) *cobra.Command {
	var f returnFlags
	cmd := &cobra.Command{
		Use:   "dataview ROUTE",
		Short: "Project a subcategory's answers into its data view",
		Long:  `Project a subcategory's answers into its data view. ROUTE is a
subcategory route or a loop data view route such as /data-view/loop/w2s/<id>.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, snap, err := a.load(cmd, &f)
			if err != nil {
				return err
			}
			sections, err := e.Projector.ProjectSubcategory(args[0], snap, f.itemID)
			if err != nil {
				return err
			}
			return printJSON(cmd, sections)
		},
	}
	f.register(cmd, true)
	return cmd
}

func checklistCmd(a *app) *cobra.Command {
	var (
		f                returnFlags
		includeKnockouts bool
	)
	cmd := &cobra.Command{
		Use:   "checklist",
		Short: "Show the return's checklist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, snap, err := a.load(cmd, &f)
			if err != nil {
				return err
			}
			var opts checklist.Options
			if includeKnockouts {
				opts.ExcludedCategories = []string{}
			}
			cats, err := e.Checklist(snap, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, cats)
		},
	}
	f.register(cmd, false)
	cmd.Flags().BoolVar(&includeKnockouts, "include-knockouts", false, "Include the knockout category")
	return cmd
}

// destination adds the terminal flag for printing.
func destination(d navigate.Destination) map[string]any {
	out := map[string]any{
		"kind":     d.Kind,
		"route":    d.Route,
		"terminal": d.Terminal(),
	}
	if d.ItemID != "" {
		out["itemId"] = d.ItemID
	}
	return out
}
