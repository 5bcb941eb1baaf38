package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"devour/internal/app"
	"devour/internal/retention"
	"devour/internal/storage"

	"github.com/spf13/cobra"
)

// cliActor is recorded in the audit log for changes made from the CLI.
const cliActor = "cli"

var policyFlags struct {
	guild string
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and edit retention policies in the store",
	Long: `Read and write retention policies directly in the configured store.

A running bot picks changes up on its next cache refresh
(retention.refresh_every).`,
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every policy",
	Args:  cobra.NoArgs,
	RunE:  listPolicies,
}

var policySetCmd = &cobra.Command{
	Use:   "set <channel-id> [amount] [unit]",
	Short: "Create or update a channel policy",
	Long: `Create or update a channel policy. amount defaults to 30 and unit to days.

Examples:
  devour policy set 123456789012345678 --guild 987654321098765432
  devour policy set 123456789012345678 12 hours --guild 987654321098765432`,
	Args: cobra.RangeArgs(1, 3),
	RunE: setPolicy,
}

var policyRmCmd = &cobra.Command{
	Use:     "rm <channel-id>",
	Aliases: []string{"remove"},
	Short:   "Remove a channel policy",
	Args:    cobra.ExactArgs(1),
	RunE:    removePolicy,
}

func init() {
	policySetCmd.Flags().StringVar(&policyFlags.guild, "guild", "", "guild (server) id owning the channel")
	_ = policySetCmd.MarkFlagRequired("guild")
	policyCmd.AddCommand(policyListCmd, policySetCmd, policyRmCmd)
	rootCmd.AddCommand(policyCmd)
}

// withManager opens the store and hands a policy manager to fn.
func withManager(ctx context.Context, fn func(*retention.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := cliLogger()
	store, err := app.OpenStore(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer func(s storage.Store) { _ = s.Close() }(store)
	m := retention.NewManager(store, nil, log, retention.WithAuditor(store))
	return fn(m)
}

func listPolicies(cmd *cobra.Command, _ []string) error {
	return withManager(cmd.Context(), func(m *retention.Manager) error {
		ps, err := m.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(ps) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no policies")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CHANNEL\tGUILD\tRETAIN\tLAST SWEPT\tUPDATED")
		for _, p := range ps {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				p.ChannelID, p.GuildID, retention.FormatDuration(p.InactiveAfter),
				formatTime(p.LastSweptAt), formatTime(&p.UpdatedAt))
		}
		return w.Flush()
	})
}

func setPolicy(cmd *cobra.Command, args []string) error {
	req := retention.ConfigureRequest{GuildID: policyFlags.guild, ChannelID: args[0], Amount: retention.DefaultAmount, ActorID: cliActor}
	if len(args) > 1 {
		n, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		req.Amount = n
	}
	if len(args) > 2 {
		req.Unit = args[2]
	}
	return withManager(cmd.Context(), func(m *retention.Manager) error {
		p, err := m.Configure(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "channel %s: delete messages older than %s\n", p.ChannelID, retention.FormatDuration(p.InactiveAfter))
		return nil
	})
}

func removePolicy(cmd *cobra.Command, args []string) error {
	return withManager(cmd.Context(), func(m *retention.Manager) error {
		removed, err := m.Remove(cmd.Context(), args[0], cliActor)
		if err != nil {
			return err
		}
		if !removed {
			fmt.Fprintf(cmd.ErrOrStderr(), "channel %s has no policy\n", args[0])
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "channel %s: policy removed\n", args[0])
		return nil
	})
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}
