// File: internal/ui/event_console.go
// Brief: Internal ui package implementation for 'event console'.

package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/example/stackctl/internal/engine"
)

const (
	awsCloudFormationStack         = "AWS::CloudFormation::Stack"
	shortUpdateCleanupInProgress   = "UPDATE_CLEANUP_IN_PROGRESS"
	shortRollbackCleanupInProgress = "ROLLBACK_CLEANUP_IN_PROGRESS"
)

type EventConsoleOptions struct {
	Enabled bool
	// Width caps each line to the terminal's column count; zero disables
	// capping.
	Width int
}

// EventConsole prints one line per stack event with aligned columns. Widths
// start at sensible floors and grow as wider values arrive, so later lines
// stay aligned even when CloudFormation reports long identifiers.
type EventConsole struct {
	out  io.Writer
	opts EventConsoleOptions

	statusWidth  int
	logicalWidth int
	typeWidth    int
	printed      bool
}

func NewEventConsole(out io.Writer, opts EventConsoleOptions) *EventConsole {
	return &EventConsole{
		out:         out,
		opts:        opts,
		statusWidth: len(shortRollbackCleanupInProgress),
		typeWidth:   len(awsCloudFormationStack),
	}
}

func (c *EventConsole) ObserveStackEvent(ev engine.StackEvent) {
	if c == nil || !c.opts.Enabled || c.out == nil {
		return
	}
	status := displayStatus(ev)
	if n := len(status); n > c.statusWidth {
		c.statusWidth = n
	}
	if n := len(ev.LogicalResourceID); n > c.logicalWidth {
		c.logicalWidth = n
	}
	if n := len(ev.ResourceType); n > c.typeWidth {
		c.typeWidth = n
	}
	stamp := ev.Timestamp.UTC().Format(time.RFC3339)
	reason := ev.ResourceStatusReason
	if c.opts.Width > 0 {
		used := len(stamp) + 1 + c.statusWidth + 1 + c.logicalWidth + 1 + c.typeWidth + 1
		if room := c.opts.Width - used; room >= 4 && len(reason) > room {
			reason = reason[:room-3] + "..."
		}
	}
	fmt.Fprintf(c.out, "%s %s %-*s %-*s %s\n",
		stamp,
		colorizeEventStatus(fmt.Sprintf("%-*s", c.statusWidth, status), ev.ResourceStatus.Sentiment()),
		c.logicalWidth, ev.LogicalResourceID,
		c.typeWidth, ev.ResourceType,
		color.New(color.FgHiBlack).Sprint(reason),
	)
	c.printed = true
}

// Done separates the event stream from whatever the command prints next.
func (c *EventConsole) Done() {
	if c == nil || !c.opts.Enabled || c.out == nil || !c.printed {
		return
	}
	fmt.Fprintln(c.out)
}

// displayStatus shortens the most verbose stack-level statuses so the status
// column stays reasonable.
func displayStatus(ev engine.StackEvent) string {
	if !ev.StackLevel() {
		return string(ev.ResourceStatus)
	}
	switch ev.ResourceStatus {
	case engine.StatusUpdateCompleteCleanupInProgress:
		return shortUpdateCleanupInProgress
	case engine.StatusUpdateRollbackCompleteCleanupInProgress:
		return shortRollbackCleanupInProgress
	}
	return string(ev.ResourceStatus)
}

func colorizeEventStatus(status string, sentiment engine.Sentiment) string {
	switch sentiment {
	case engine.SentimentPositive:
		return color.New(color.FgGreen).Sprint(status)
	case engine.SentimentNegative:
		return color.New(color.FgRed).Sprint(status)
	default:
		return color.New(color.FgYellow).Sprint(status)
	}
}
