package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *CLI) newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show validation cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := c.environment(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), env.Maintenance.Stats(cmd.Context()))
		},
	}
}

func (c *CLI) newClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry from the validation cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return fmt.Errorf("clear removes every cached verdict; pass --yes to confirm")
			}
			env, err := c.environment(cmd.Context())
			if err != nil {
				return err
			}
			before := env.Maintenance.Clear(cmd.Context())
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", before.TotalEntries)
			return err
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Confirm clearing the cache")
	return cmd
}

func (c *CLI) newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired entries from the validation cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := c.environment(cmd.Context())
			if err != nil {
				return err
			}
			removed := env.Maintenance.Sweep(cmd.Context())
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired entries\n", removed)
			return err
		},
	}
}

func (c *CLI) newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Show provider status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := c.environment(cmd.Context())
			if err != nil {
				return err
			}
			if reset, _ := cmd.Flags().GetBool("reset"); reset {
				return printJSON(cmd.OutOrStdout(), env.Maintenance.ResetQuotas())
			}
			return printJSON(cmd.OutOrStdout(), env.Maintenance.Providers.Status())
		},
	}
	cmd.Flags().Bool("reset", false, "Clear quota flags before printing")
	return cmd
}
