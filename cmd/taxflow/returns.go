package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dlovans/taxflow/pkg/factgraph"
	"github.com/dlovans/taxflow/pkg/store"
)

func returnsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "returns",
		Short: "Manage stored returns",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored returns, most recent first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := a.openStore()
				if err != nil {
					return err
				}
				defer st.Close()
				ids, err := st.Returns(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "show ID",
			Short: "Print a stored return with its derived values",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, snap, err := a.load(cmd, &returnFlags{returnID: args[0]})
				if err != nil {
					return err
				}
				return printJSON(cmd, factgraph.Export(snap))
			},
		},
		&cobra.Command{
			Use:   "delete ID",
			Short: "Delete a stored return",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := a.openStore()
				if err != nil {
					return err
				}
				defer st.Close()
				return st.Delete(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "import ID FILE",
			Short: "Validate a state file and store it as a return",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				state, err := readState(cmd, args[1])
				if err != nil {
					return err
				}
				e, err := a.engine(nil)
				if err != nil {
					return err
				}
				g, err := e.Restore(state)
				if err != nil {
					return err
				}
				st, err := a.openStore()
				if err != nil {
					return err
				}
				defer st.Close()
				return st.Save(cmd.Context(), args[0], g.Snapshot().State())
			},
		},
		setCmd(a),
		&cobra.Command{
			Use:   "add-item ID COLLECTION",
			Short: "Add a new item to a collection and print its id",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				coll, err := factgraph.ParseConcretePath(args[1])
				if err != nil {
					return err
				}
				var itemID string
				err = a.editReturn(cmd, args[0], func(g *factgraph.Graph) error {
					itemID, err = g.NewItem(coll)
					return err
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), itemID)
				return nil
			},
		},
	)
	return cmd
}

func setCmd(a *app) *cobra.Command {
	var deleteFact bool
	cmd := &cobra.Command{
		Use:   "set ID PATH [VALUE]",
		Short: "Write or delete one fact of a stored return",
		Long: `Set writes one writable fact. VALUE is read as JSON for booleans,
numbers, multi-selects and bank accounts, and verbatim for text facts.
Paths inside collections name the item: /formW2s/#<id>/employerName.`,
		Example: `  taxflow returns set 2024-1 /filingStatus single
  taxflow returns set 2024-1 /interestTypes '["bank","bond"]'
  taxflow returns set 2024-1 /refundAccount --delete`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := factgraph.ParseConcretePath(args[1])
			if err != nil {
				return err
			}
			if deleteFact {
				return a.editReturn(cmd, args[0], func(g *factgraph.Graph) error {
					return g.Delete(path)
				})
			}
			if len(args) != 3 {
				return errors.New("VALUE is required unless --delete is given")
			}
			return a.editReturn(cmd, args[0], func(g *factgraph.Graph) error {
				def, ok := g.Dictionary().LookupConcrete(path)
				if !ok {
					return fmt.Errorf("%w: %s", factgraph.ErrUnknownFact, path)
				}
				return g.Set(path, parseValue(def.Type, args[2]))
			})
		},
	}
	cmd.Flags().BoolVar(&deleteFact, "delete", false, "Delete the fact instead of setting it")
	return cmd
}

// editReturn loads a stored return, or starts an empty one, applies edit and
// saves the result through the graph's persister.
func (a *app) editReturn(cmd *cobra.Command, returnID string, edit func(*factgraph.Graph) error) error {
	e, err := a.engine(nil)
	if err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	state, err := st.Load(ctx, returnID)
	if errors.Is(err, store.ErrNotFound) {
		a.logger.Info("starting new return", zap.String("return", returnID))
		state = nil
	} else if err != nil {
		return err
	}

	g, err := e.Restore(state,
		factgraph.WithPersister(st, returnID),
		factgraph.WithLogger(a.logger.Named("factgraph")))
	if err != nil {
		return err
	}
	if err := edit(g); err != nil {
		return err
	}
	return g.Save(ctx)
}

// parseValue reads s as JSON for structured and numeric types. Text types
// take s verbatim so identifiers made of digits stay strings.
func parseValue(t factgraph.FactType, s string) any {
	switch t {
	case factgraph.TypeBoolean, factgraph.TypeDollar, factgraph.TypeInt,
		factgraph.TypeMultiEnum, factgraph.TypeBankAccount:
	default:
		return s
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}
