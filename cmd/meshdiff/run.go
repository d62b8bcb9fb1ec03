package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chazu/meshdiff/pkg/script"
)

// errScriptFailed is returned when a script ran but did not pass.
var errScriptFailed = errors.New("script failed")

var runCmd = &cobra.Command{
	Use:   "run [script]",
	Short: "Run a comparison script",
	Long: `Run a comparison script. Relative paths in the script resolve against
the script's directory. The command fails when an expectation is not met.`,
	Args: cobra.ExactArgs(1),
	RunE: runScript,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runScript(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.close()

	runner := script.NewRunner(s.wf, script.Options{
		Timeout:          cfg.ScriptTimeout(),
		DefaultThreshold: cfg.Match.DefaultThreshold,
		Logger:           logger,
	})
	rep, err := runner.RunFile(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i, st := range rep.Steps {
		fmt.Fprintf(out, "%3d %-16s %s\n", i+1, st.Action, st.Message)
	}
	for _, e := range rep.Errors {
		fmt.Fprintf(out, "ERROR %s\n", e.Error())
	}
	for _, f := range rep.Failures {
		fmt.Fprintf(out, "FAIL  %s\n", f)
	}
	if !rep.Passed() {
		return errScriptFailed
	}
	fmt.Fprintln(out, "PASS")
	return nil
}
