package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the cohortweaver command tree. Commands report their
// exit code through an *ExitError.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var inv Invocation
	root := &cobra.Command{
		Use:           "cohortweaver",
		Short:         "Compile cohort query trees and run them concurrently with result caching",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidInvocationf("%v", err)
	})
	root.PersistentFlags().StringVar(&inv.ConfigPath, "config", "", "Config file (yaml, json or toml)")
	root.PersistentFlags().StringVar(&inv.WorkDir, "workdir", "", "Absolute directory relative paths are resolved against")
	root.PersistentFlags().StringVar(&inv.TreePath, "tree", "", "Query tree definition (JSON or YAML). Required.")

	var params []string
	addParams := func(cmd *cobra.Command) {
		cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Query parameter as name=value (repeatable)")
	}
	withParams := func(run func(context.Context, Invocation, Deps) (Result, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			p, err := ParseParams(params)
			if err != nil {
				return err
			}
			inv.Params = p
			res, err := run(cmd.Context(), inv, Deps{Stdout: cmd.OutOrStdout()})
			if res.ExitCode != ExitSuccess {
				if err == nil {
					err = fmt.Errorf("exit status %d", res.ExitCode)
				}
				return exitErr(res.ExitCode, err)
			}
			return err
		}
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a query tree and print the cohort identifiers",
		Args:  cobra.NoArgs,
		RunE:  withParams(Execute),
	}
	addParams(runCmd)
	runCmd.Flags().BoolVar(&inv.ClearCache, "clear-cache", false, "Invalidate every node's cached result before running")
	runCmd.Flags().BoolVar(&inv.Direct, "direct", false, "Run the root's combined query as a single task")
	runCmd.Flags().StringVar(&inv.TracePath, "trace", "", "Write the run trace as JSON to this path")
	runCmd.Flags().StringVar(&inv.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")

	clearCmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Invalidate the cached results of every node of a tree",
		Args:  cobra.NoArgs,
		RunE:  withParams(ClearCache),
	}
	addParams(clearCmd)

	fpCmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the fingerprint of every node and the graph hash",
		Args:  cobra.NoArgs,
		RunE:  withParams(Fingerprints),
	}
	addParams(fpCmd)
	fpCmd.Flags().BoolVar(&inv.Direct, "direct", false, "Fingerprint the tree as a single direct task")

	root.AddCommand(runCmd, clearCmd, fpCmd)
	return root
}

// Main runs the command line in args (without the program name) and
// returns the process exit code.
func Main(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintln(stderr, "Error:", err)

	var ee *ExitError
	var ie *InvocationError
	switch {
	case errors.As(err, &ee), errors.As(err, &ie):
		return ExitCode(err)
	default:
		// Unknown commands and argument errors come from cobra itself.
		return ExitInvalidInvocation
	}
}
