// Package commands implements the hcpcsctl command line.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/JonMunkholm/cdmmerge/internal/admin"
	"github.com/JonMunkholm/cdmmerge/internal/core"
	"github.com/JonMunkholm/cdmmerge/internal/stream"
	"github.com/spf13/cobra"
)

// Validator runs validation. *core.Orchestrator implements it.
type Validator interface {
	ValidateCodes(ctx context.Context, codes []string) (*core.Response, error)
	StreamCodes(ctx context.Context, codes []string) *stream.Stream[core.Response]
}

// Env is what the commands operate on.
type Env struct {
	Maintenance *admin.Maintenance
	Validator   Validator
	Close       func()
}

// Opener builds the Env on first use, so help and flag errors never touch
// the cache store.
type Opener func(ctx context.Context) (*Env, error)

// CLI represents the hcpcsctl command line.
type CLI struct {
	open    Opener
	env     *Env
	rootCmd *cobra.Command
}

// New creates a CLI that opens its Env with open.
func New(open Opener) *CLI {
	rootCmd := &cobra.Command{
		Use:           "hcpcsctl",
		Short:         "Validate HCPCS codes and maintain the validation cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.InitDefaultHelpFlag()
	rootCmd.Flags().Lookup("help").Usage = "Show help for command"

	c := &CLI{
		open:    open,
		rootCmd: rootCmd,
	}

	rootCmd.AddCommand(c.newStatsCmd())
	rootCmd.AddCommand(c.newClearCmd())
	rootCmd.AddCommand(c.newSweepCmd())
	rootCmd.AddCommand(c.newProvidersCmd())
	rootCmd.AddCommand(c.newValidateCmd())

	return c
}

// Execute runs the root command with the given context and releases the Env.
func (c *CLI) Execute(ctx context.Context) error {
	defer c.close()
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput redirects command output. Used for testing.
func (c *CLI) SetOutput(w io.Writer) {
	c.rootCmd.SetOut(w)
	c.rootCmd.SetErr(w)
}

func (c *CLI) environment(ctx context.Context) (*Env, error) {
	if c.env != nil {
		return c.env, nil
	}
	env, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	c.env = env
	return env, nil
}

func (c *CLI) close() {
	if c.env != nil && c.env.Close != nil {
		c.env.Close()
	}
	c.env = nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
