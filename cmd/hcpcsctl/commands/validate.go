package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/JonMunkholm/cdmmerge/internal/codes"
	"github.com/JonMunkholm/cdmmerge/internal/stream"
	"github.com/spf13/cobra"
)

func (c *CLI) newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [codes...]",
		Short: "Validate codes given as arguments or read from a file",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			column, _ := cmd.Flags().GetString("column")
			streaming, _ := cmd.Flags().GetBool("stream")

			list := append([]string(nil), args...)
			if file != "" {
				fromFile, err := readFile(file, column)
				if err != nil {
					return err
				}
				list = append(list, fromFile...)
			}
			if len(list) == 0 {
				_ = cmd.Help()
				return nil
			}

			env, err := c.environment(cmd.Context())
			if err != nil {
				return err
			}

			if streaming {
				return streamRun(cmd, env.Validator, list)
			}
			resp, err := env.Validator.ValidateCodes(cmd.Context(), list)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringP("file", "f", "", "CSV or plain list of codes ('-' for stdin)")
	cmd.Flags().StringP("column", "c", "", "Code column name in the CSV header")
	cmd.Flags().BoolP("stream", "s", false, "Print progress to stderr while validating")
	return cmd
}

func readFile(path, column string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	list, err := codes.ReadCodes(r, column)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return list, nil
}

// streamRun prints progress lines to stderr and the final response to stdout.
func streamRun(cmd *cobra.Command, v Validator, list []string) error {
	st := v.StreamCodes(cmd.Context(), list)
	defer st.Close()

	for ev := range st.Events() {
		switch ev.Type {
		case stream.EventProgress:
			fmt.Fprintf(cmd.ErrOrStderr(), "progress %d/%d\n", ev.Processed, ev.Total)
		case stream.EventComplete:
			return printJSON(cmd.OutOrStdout(), ev.Data)
		case stream.EventError:
			return errors.New(ev.Error)
		}
	}
	return errors.New("stream closed without a result")
}
