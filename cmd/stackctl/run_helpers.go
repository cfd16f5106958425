// run_helpers.go holds the streaming and verdict plumbing shared by the
// apply-stack and delete-stack commands.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/stackctl/internal/capture"
	"github.com/example/stackctl/internal/config"
	"github.com/example/stackctl/internal/engine"
	"github.com/example/stackctl/internal/outcome"
	"github.com/example/stackctl/internal/ui"
)

// openCapture returns a writer for --capture, or nil when capture is off. A
// nil writer swallows writes, so callers don't branch.
func openCapture(opts *config.Options, command, stackName, region string) (*capture.Writer, error) {
	if opts.CapturePath == "" {
		return nil, nil
	}
	return capture.New(opts.CapturePath, capture.Session{
		Command:   command,
		StackName: stackName,
		Region:    region,
		StartedAt: time.Now().UTC(),
	})
}

// streamOperation drains an operation's events to the console and the capture
// writer, then waits for the terminal result. Capture writes use a background
// context so events observed before an interrupt still land on disk.
func streamOperation(cmd *cobra.Command, opts *config.Options, logger *zap.Logger, writer *capture.Writer, op *engine.Operation) (*engine.Result, error) {
	width, _ := ui.TerminalWidth(cmd.ErrOrStderr())
	console := ui.NewEventConsole(cmd.ErrOrStderr(), ui.EventConsoleOptions{Enabled: !opts.Quiet, Width: width})
	for ev := range op.Events() {
		console.ObserveStackEvent(ev)
		if err := writer.Write(context.Background(), ev); err != nil {
			logger.Warn("capture write failed", zap.Error(err))
		}
	}
	console.Done()
	return op.Wait()
}

// finishCommand writes a verdict's streams and maps its exit code onto the
// command's error return. Success notes honor --quiet; failure detail does
// not.
func finishCommand(cmd *cobra.Command, opts *config.Options, verdict outcome.Verdict) error {
	if verdict.Stderr != "" && (!opts.Quiet || verdict.Code != outcome.ExitOK) {
		fmt.Fprint(cmd.ErrOrStderr(), verdict.Stderr)
	}
	if verdict.Stdout != "" {
		fmt.Fprint(cmd.OutOrStdout(), verdict.Stdout)
	}
	if verdict.Code != outcome.ExitOK {
		return &outcome.ExitCodeError{Code: verdict.Code}
	}
	return nil
}
