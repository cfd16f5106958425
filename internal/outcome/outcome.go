// Package outcome turns settled stack operations and engine failures into
// process exit codes and rendered output.
package outcome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/fatih/color"

	"github.com/example/stackctl/internal/engine"
)

// Kind names the operation whose outcome is being classified.
type Kind int

const (
	KindApply Kind = iota
	KindDelete
)

func (k Kind) verb() string {
	if k == KindDelete {
		return "delete"
	}
	return "apply"
}

func (k Kind) pastVerb() string {
	if k == KindDelete {
		return "deleted"
	}
	return "applied"
}

// Exit codes: ExitFailure covers everything that prevented the stack from
// settling, ExitWarning is a settled success with resource errors, and
// ExitStackError is a stack that settled in an error state.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitWarning    = 3
	ExitStackError = 4
)

// Verdict is what the process should do with a finished operation: the exit
// code, the outputs document for stdout, and diagnostics for stderr.
type Verdict struct {
	Code   int
	Stdout string
	Stderr string
}

// ExitCodeError carries a non-zero exit code out of a command after its
// diagnostics have already been written.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

const noReason = "No reason"

var (
	bold = color.New(color.Bold).SprintFunc()
	red  = color.New(color.FgRed).SprintFunc()
)

// Classify is total: every combination of result and error maps to a
// verdict. Exactly one of res and err is expected to be non-nil.
func Classify(kind Kind, res *engine.Result, err error) Verdict {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Verdict{
				Code:   ExitFailure,
				Stderr: "Error: interrupted before the stack settled; the operation may still be in progress in CloudFormation\n",
			}
		}
		return Verdict{Code: ExitFailure, Stderr: fmt.Sprintf("Error: %s\n", err)}
	}
	if res == nil {
		return Verdict{Code: ExitFailure, Stderr: "Error: operation produced no result\n"}
	}

	switch {
	case res.StackStatus.IsError():
		return Verdict{Code: ExitStackError, Stderr: renderFailure(kind, res)}
	case len(res.ResourceErrors) > 0:
		return Verdict{Code: ExitWarning, Stdout: outputsJSON(res), Stderr: renderWarning(kind, res)}
	default:
		return Verdict{Code: ExitOK, Stdout: outputsJSON(res), Stderr: successNote(kind, res)}
	}
}

func outputsJSON(res *engine.Result) string {
	outputs := res.Outputs
	if outputs == nil {
		outputs = map[string]string{}
	}
	buf, err := json.MarshalIndent(outputs, "", "  ")
	if err != nil {
		return "{}\n"
	}
	return string(buf) + "\n"
}

func successNote(kind Kind, res *engine.Result) string {
	switch {
	case res.NotFound:
		return fmt.Sprintf("Stack %s does not exist, nothing to delete\n", res.StackName)
	case res.NoChanges:
		return fmt.Sprintf("No changes for stack %s\n", res.StackName)
	case kind == KindDelete:
		return fmt.Sprintf("Stack %s deleted successfully\n", res.StackName)
	}
	return ""
}

func renderFailure(kind Kind, res *engine.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Failed to %s stack %s:\n\n", kind.verb(), bold(res.StackID))

	reason := res.StackStatusReason
	if res.StackError != nil && res.StackError.ResourceStatusReason != "" {
		reason = res.StackError.ResourceStatusReason
	}
	fmt.Fprintf(&b, "   %s %s\n", label("Status:", 7), red(string(res.StackStatus)))
	fmt.Fprintf(&b, "   %s %s\n", label("Reason:", 7), reasonOr(reason))
	if hint := hintFor(reason); hint != "" {
		fmt.Fprintf(&b, "   %s %s\n", label("Hint:", 7), hint)
	}

	if len(res.ResourceErrors) > 0 {
		fmt.Fprintf(&b, "\nWhat went wrong? The following resource errors occurred during the operation:\n")
		resourceBlocks(&b, res.ResourceErrors)
	}
	return b.String()
}

func renderWarning(kind Kind, res *engine.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stack %s %s successfully but some resources had errors:\n", bold(res.StackID), kind.pastVerb())
	resourceBlocks(&b, res.ResourceErrors)
	return b.String()
}

func resourceBlocks(b *strings.Builder, events []engine.StackEvent) {
	for i, ev := range events {
		fmt.Fprintf(b, "\n%d. %s %s\n", i+1, label("Resource:", 9), ev.LogicalResourceID)
		fmt.Fprintf(b, "   %s %s\n", label("Type:", 9), ev.ResourceType)
		fmt.Fprintf(b, "   %s %s\n", label("Status:", 9), red(string(ev.ResourceStatus)))
		fmt.Fprintf(b, "   %s %s\n", label("Reason:", 9), reasonOr(ev.ResourceStatusReason))
		if hint := hintFor(ev.ResourceStatusReason); hint != "" {
			fmt.Fprintf(b, "   %s %s\n", label("Hint:", 9), hint)
		}
	}
}

// label pads before styling so alignment survives color codes.
func label(text string, width int) string {
	return bold(fmt.Sprintf("%-*s", width, text))
}

func reasonOr(reason string) string {
	if reason == "" {
		return noReason
	}
	return reason
}

var (
	notAuthorizedRe   = regexp.MustCompile(`(?:User: (\S+) )?is not authorized to perform: (\S+)`)
	failedResourcesRe = regexp.MustCompile(`The following resource\(s\) failed to (?:create|update|delete): \[([^\]]+)\]`)
)

// hintFor recognizes common status reasons and suggests where to look next.
func hintFor(reason string) string {
	if reason == "" {
		return ""
	}
	if strings.Contains(reason, "Resource creation cancelled") {
		return "See preceding resource errors"
	}
	if m := notAuthorizedRe.FindStringSubmatch(reason); m != nil {
		principal := "yourself"
		if m[1] != "" {
			principal = bold(m[1])
		}
		return fmt.Sprintf("Give %s the %s permission", principal, bold(m[2]))
	}
	if m := failedResourcesRe.FindStringSubmatch(reason); m != nil {
		ids := strings.Split(m[1], ",")
		for i := range ids {
			ids[i] = bold(strings.TrimSpace(ids[i]))
		}
		return fmt.Sprintf("See resource error(s) for %s", displayList(ids))
	}
	return ""
}

func displayList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}
	return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
}
