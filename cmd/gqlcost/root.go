package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/gql-cost-analyzer/internal/budget"
)

// exitError carries a process exit status out of a command. A nil err means
// the command already reported everything it had to say.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

type globalFlags struct {
	configFile string
	logLevel   string
	logFormat  string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "gqlcost",
		Short: "GraphQL query-complexity analyzer",
		Long: `gqlcost scores GraphQL queries by the number of objects they can resolve,
flags the shapes that make them expensive and gates them against a budget.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&g.configFile, "config", "", "config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(newAnalyzeCmd(g), newCalibrateCmd(g), newServeCmd(g))
	return root
}

// run executes the CLI and returns the process exit status: 0 for PASS and
// WARN, 1 for FAIL, 2 for parse, configuration and usage errors.
func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		return budget.ExitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			_, _ = fmt.Fprintln(stderr, "gqlcost:", ee.err)
		}
		return ee.code
	}
	_, _ = fmt.Fprintln(stderr, "gqlcost:", err)
	return budget.ExitError
}
