package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/aiotvet-go/internal/store"
)

// NewOperatorCmd constructs the `aiotvet operator` command group. Operators
// are the people who take over dialogs the assistant escalates.
func NewOperatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Manage support operators",
	}
	cmd.AddCommand(newOperatorAddCmd(), newOperatorListCmd())
	return cmd
}

func newOperatorAddCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "add EMAIL",
		Short: "Register an operator",
		Long: `Register an operator by email. Roles are operator (default), lead and admin.

Examples:
  aiotvet operator add anna@example.com
  aiotvet operator add lead@example.com --role lead`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := strings.TrimSpace(args[0])
			if !strings.Contains(email, "@") {
				return fmt.Errorf("operator add: %q is not an email address", email)
			}
			r := store.Role(strings.ToLower(role))
			if !r.Valid() {
				return fmt.Errorf("operator add: unknown role %q", role)
			}

			st, err := openStore()
			if err != nil {
				return fmt.Errorf("operator add: %w", err)
			}
			defer func() { _ = st.Close() }()

			op, err := st.CreateOperator(cmd.Context(), email, r)
			if err != nil {
				return fmt.Errorf("operator add: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "operator #%d %s (%s)\n", op.ID, op.Email, op.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(store.RoleOperator), "Operator role: operator, lead or admin")
	return cmd
}

func newOperatorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List operators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("operator list: %w", err)
			}
			defer func() { _ = st.Close() }()

			ops, err := st.ListOperators(cmd.Context())
			if err != nil {
				return fmt.Errorf("operator list: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tEMAIL\tROLE\tACTIVE")
			for _, op := range ops {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%t\n", op.ID, op.Email, op.Role, op.Active)
			}
			return tw.Flush()
		},
	}
}

// openStore opens only the database, for commands that need no providers.
func openStore() (*store.Store, error) {
	cfg, err := store.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return store.OpenFromConfig(cfg)
}
