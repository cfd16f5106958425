// Package engine drives CloudFormation stacks to settlement. It wraps the
// service API behind a narrow interface, runs create-or-update and delete
// operations through change sets, and streams stack events while polling
// until the stack reaches a terminal status.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// CFNAPI is the slice of the CloudFormation client the engine depends on.
type CFNAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateChangeSet(ctx context.Context, params *cloudformation.CreateChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateChangeSetOutput, error)
	DescribeChangeSet(ctx context.Context, params *cloudformation.DescribeChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeChangeSetOutput, error)
	ExecuteChangeSet(ctx context.Context, params *cloudformation.ExecuteChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ExecuteChangeSetOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	DescribeStackEvents(ctx context.Context, params *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error)
}

// Options tunes engine polling.
type Options struct {
	// PollInterval is the delay between stack event polls (default 5s).
	PollInterval time.Duration
	// ChangeSetPollInterval is the delay between change set status polls
	// (default 1s).
	ChangeSetPollInterval time.Duration
	Logger                *zap.Logger
}

// Engine runs stack operations against CloudFormation.
type Engine struct {
	api            CFNAPI
	pollInterval   time.Duration
	csPollInterval time.Duration
	log            *zap.Logger
}

// New returns an engine over the given API client.
func New(api CFNAPI, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.ChangeSetPollInterval <= 0 {
		opts.ChangeSetPollInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		api:            api,
		pollInterval:   opts.PollInterval,
		csPollInterval: opts.ChangeSetPollInterval,
		log:            opts.Logger,
	}
}

// ApplyInput describes a create-or-update operation.
type ApplyInput struct {
	StackName          string
	TemplateBody       string
	Parameters         map[string]string
	Capabilities       []string
	Tags               map[string]string
	RoleARN            string
	NotificationARNs   []string
	ResourceTypes      []string
	ClientRequestToken string
}

// DeleteInput describes a delete operation.
type DeleteInput struct {
	StackName          string
	RetainResources    []string
	RoleARN            string
	ClientRequestToken string
}

// Apply starts a create-or-update operation and streams its events.
func (e *Engine) Apply(ctx context.Context, in ApplyInput) *Operation {
	op := newOperation()
	go func() {
		res, err := e.apply(ctx, op, in)
		op.finish(res, err)
	}()
	return op
}

// Delete starts a delete operation and streams its events. Deleting a stack
// that does not exist yields a Result marked NotFound with no events.
func (e *Engine) Delete(ctx context.Context, in DeleteInput) *Operation {
	op := newOperation()
	go func() {
		res, err := e.delete(ctx, op, in)
		op.finish(res, err)
	}()
	return op
}

type opKind int

const (
	opApply opKind = iota
	opDelete
)

func (e *Engine) apply(ctx context.Context, op *Operation, in ApplyInput) (*Result, error) {
	probe, err := e.probe(ctx, in.StackName)
	if err != nil {
		return nil, err
	}
	changeSetType := types.ChangeSetTypeCreate
	switch probe.state {
	case stackExistsOK:
		changeSetType = types.ChangeSetTypeUpdate
	case stackExistsErr:
		// The current incarnation can't be updated; clear it and recreate.
		e.log.Info("deleting unusable stack before recreating",
			zap.String("stack", in.StackName), zap.String("status", string(probe.status)))
		wreck, err := e.deleteByID(ctx, op, probe.stackID, DeleteInput{StackName: in.StackName})
		if err != nil {
			return nil, err
		}
		if wreck.StackError != nil {
			return wreck, nil
		}
	}

	cs, err := e.createChangeSet(ctx, in, changeSetType)
	if err != nil {
		return nil, err
	}
	if cs.noChanges {
		return e.noChangeResult(ctx, op, cs.stackID, in.StackName)
	}

	start := func(ctx context.Context) error {
		input := &cloudformation.ExecuteChangeSetInput{ChangeSetName: aws.String(cs.id)}
		if in.ClientRequestToken != "" {
			input.ClientRequestToken = aws.String(in.ClientRequestToken)
		}
		if _, err := e.api.ExecuteChangeSet(ctx, input); err != nil {
			return fmt.Errorf("execute change set for stack %q: %w", in.StackName, err)
		}
		return nil
	}
	return e.run(ctx, op, cs.stackID, in.StackName, start, opApply)
}

func (e *Engine) delete(ctx context.Context, op *Operation, in DeleteInput) (*Result, error) {
	probe, err := e.probe(ctx, in.StackName)
	if err != nil {
		return nil, err
	}
	if probe.state == stackNotFound {
		return &Result{StackName: in.StackName, NotFound: true}, nil
	}
	return e.deleteByID(ctx, op, probe.stackID, in)
}

// deleteByID deletes by stack id so event polling keeps working after the
// stack disappears from name-based lookups.
func (e *Engine) deleteByID(ctx context.Context, op *Operation, stackID string, in DeleteInput) (*Result, error) {
	start := func(ctx context.Context) error {
		input := &cloudformation.DeleteStackInput{StackName: aws.String(stackID)}
		if len(in.RetainResources) > 0 {
			input.RetainResources = in.RetainResources
		}
		if in.RoleARN != "" {
			input.RoleARN = aws.String(in.RoleARN)
		}
		if in.ClientRequestToken != "" {
			input.ClientRequestToken = aws.String(in.ClientRequestToken)
		}
		if _, err := e.api.DeleteStack(ctx, input); err != nil {
			return fmt.Errorf("delete stack %q: %w", in.StackName, err)
		}
		return nil
	}
	return e.run(ctx, op, stackID, in.StackName, start, opDelete)
}

type probeState int

const (
	stackNotFound probeState = iota
	stackExistsOK
	stackExistsErr
)

type probeResult struct {
	state   probeState
	stackID string
	status  ResourceStatus
}

// probe classifies the stack's current incarnation: absent, usable, or
// stuck in a state that only deletion can clear. A REVIEW_IN_PROGRESS shell
// left behind by an unexecuted change set counts as absent.
func (e *Engine) probe(ctx context.Context, name string) (probeResult, error) {
	out, err := e.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(name)})
	if err != nil {
		if isStackNotFound(err) {
			return probeResult{state: stackNotFound}, nil
		}
		return probeResult{}, fmt.Errorf("describe stack %q: %w", name, err)
	}
	if len(out.Stacks) == 0 {
		return probeResult{state: stackNotFound}, nil
	}
	stack := out.Stacks[0]
	status := ResourceStatus(stack.StackStatus)
	switch status {
	case StatusReviewInProgress:
		return probeResult{state: stackNotFound}, nil
	case StatusDeleteFailed, StatusRollbackFailed, StatusRollbackComplete:
		return probeResult{state: stackExistsErr, stackID: aws.ToString(stack.StackId), status: status}, nil
	default:
		return probeResult{state: stackExistsOK, stackID: aws.ToString(stack.StackId), status: status}, nil
	}
}

type changeSetResult struct {
	id        string
	stackID   string
	noChanges bool
}

// createChangeSet creates a change set and polls it out of its transitional
// states. A change set that failed because it contains no changes is
// reported via noChanges rather than an error.
func (e *Engine) createChangeSet(ctx context.Context, in ApplyInput, csType types.ChangeSetType) (changeSetResult, error) {
	name := fmt.Sprintf("stackctl-%d", time.Now().Unix())
	input := &cloudformation.CreateChangeSetInput{
		StackName:     aws.String(in.StackName),
		ChangeSetName: aws.String(name),
		ChangeSetType: csType,
		TemplateBody:  aws.String(in.TemplateBody),
		Parameters:    toParameters(in.Parameters),
		Capabilities:  toCapabilities(in.Capabilities),
		Tags:          toTags(in.Tags),
	}
	if in.RoleARN != "" {
		input.RoleARN = aws.String(in.RoleARN)
	}
	if len(in.NotificationARNs) > 0 {
		input.NotificationARNs = in.NotificationARNs
	}
	if len(in.ResourceTypes) > 0 {
		input.ResourceTypes = in.ResourceTypes
	}
	out, err := e.api.CreateChangeSet(ctx, input)
	if err != nil {
		return changeSetResult{}, fmt.Errorf("create change set for stack %q: %w", in.StackName, err)
	}
	id := aws.ToString(out.Id)
	e.log.Debug("created change set", zap.String("stack", in.StackName), zap.String("changeset", name))

	for {
		desc, err := e.api.DescribeChangeSet(ctx, &cloudformation.DescribeChangeSetInput{ChangeSetName: aws.String(id)})
		if err != nil {
			return changeSetResult{}, fmt.Errorf("describe change set for stack %q: %w", in.StackName, err)
		}
		if desc.Status == types.ChangeSetStatusCreatePending || desc.Status == types.ChangeSetStatusCreateInProgress {
			if err := sleepCtx(ctx, e.csPollInterval); err != nil {
				return changeSetResult{}, err
			}
			continue
		}
		if desc.ExecutionStatus == types.ExecutionStatusAvailable {
			return changeSetResult{id: id, stackID: aws.ToString(desc.StackId)}, nil
		}
		reason := aws.ToString(desc.StatusReason)
		if desc.Status == types.ChangeSetStatusFailed && strings.Contains(reason, "didn't contain changes") {
			return changeSetResult{stackID: aws.ToString(desc.StackId), noChanges: true}, nil
		}
		return changeSetResult{}, fmt.Errorf("change set for stack %q can't be executed: %s", in.StackName, reason)
	}
}

// noChangeResult surfaces the stack's latest event and current outputs for
// an apply that had nothing to do.
func (e *Engine) noChangeResult(ctx context.Context, op *Operation, stackID, stackName string) (*Result, error) {
	events, err := e.api.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{StackName: aws.String(stackID)})
	if err != nil {
		e.log.Debug("couldn't fetch latest stack event", zap.Error(err))
	} else if len(events.StackEvents) > 0 {
		op.emit(fromSDKEvent(events.StackEvents[0]))
	}
	res, err := e.describeResult(ctx, stackID, stackName, opApply)
	if err != nil {
		return nil, err
	}
	res.NoChanges = true
	return res, nil
}

// run starts the mutation and follows the event stream until the stack
// settles. Events are forwarded in arrival order; error events are split
// into stack-level and per-resource collections along the way.
func (e *Engine) run(ctx context.Context, op *Operation, stackID, stackName string, start func(context.Context) error, kind opKind) (*Result, error) {
	since := time.Now()
	if err := start(ctx); err != nil {
		return nil, err
	}

	var resourceErrors []StackEvent
	var stackError *StackEvent
	for {
		page, err := e.eventsSince(ctx, stackID, since)
		if err != nil {
			return nil, err
		}
		settled := false
		for _, ev := range page {
			op.emit(ev)
			if ev.ResourceStatus.IsError() {
				if ev.StackLevel() {
					captured := ev
					stackError = &captured
				} else {
					resourceErrors = append(resourceErrors, ev)
				}
			}
		}
		if len(page) > 0 {
			newest := page[len(page)-1]
			since = newest.Timestamp
			if newest.StackLevel() && newest.ResourceStatus.IsTerminal() {
				settled = true
			}
		}
		if settled {
			break
		}
		if err := sleepCtx(ctx, e.pollInterval); err != nil {
			return nil, err
		}
	}

	res, err := e.describeResult(ctx, stackID, stackName, kind)
	if err != nil {
		return nil, err
	}
	res.ResourceErrors = resourceErrors
	if res.StackStatus.IsError() {
		res.StackError = stackError
		res.Outputs = nil
	}
	return res, nil
}

// eventsSince returns the events newer than since, oldest first. The API
// reports newest first, so the page is filtered and reversed.
func (e *Engine) eventsSince(ctx context.Context, stackID string, since time.Time) ([]StackEvent, error) {
	out, err := e.api.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{StackName: aws.String(stackID)})
	if err != nil {
		return nil, fmt.Errorf("describe stack events: %w", err)
	}
	var page []StackEvent
	for _, raw := range out.StackEvents {
		ev := fromSDKEvent(raw)
		if !ev.Timestamp.After(since) {
			break
		}
		page = append(page, ev)
	}
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

// describeResult captures the stack's settled status and, for successful
// applies, its outputs.
func (e *Engine) describeResult(ctx context.Context, stackID, stackName string, kind opKind) (*Result, error) {
	out, err := e.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(stackID)})
	if err != nil {
		return nil, fmt.Errorf("describe stack %q: %w", stackName, err)
	}
	if len(out.Stacks) == 0 {
		return nil, fmt.Errorf("stack %q vanished while settling", stackName)
	}
	stack := out.Stacks[0]
	res := &Result{
		StackID:           aws.ToString(stack.StackId),
		StackName:         stackName,
		StackStatus:       ResourceStatus(stack.StackStatus),
		StackStatusReason: aws.ToString(stack.StackStatusReason),
	}
	if kind == opApply && !res.StackStatus.IsError() {
		res.Outputs = outputsFrom(stack.Outputs)
	}
	return res, nil
}

func outputsFrom(outputs []types.Output) map[string]string {
	m := make(map[string]string, len(outputs))
	for _, o := range outputs {
		m[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	return m
}

func toParameters(params map[string]string) []types.Parameter {
	if len(params) == 0 {
		return nil
	}
	out := make([]types.Parameter, 0, len(params))
	for _, k := range sortedKeys(params) {
		out = append(out, types.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(params[k]),
		})
	}
	return out
}

func toTags(tags map[string]string) []types.Tag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]types.Tag, 0, len(tags))
	for _, k := range sortedKeys(tags) {
		out = append(out, types.Tag{
			Key:   aws.String(k),
			Value: aws.String(tags[k]),
		})
	}
	return out
}

func toCapabilities(capabilities []string) []types.Capability {
	if len(capabilities) == 0 {
		return nil
	}
	out := make([]types.Capability, 0, len(capabilities))
	for _, c := range capabilities {
		out = append(out, types.Capability(c))
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isStackNotFound(err error) bool {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode() == "ValidationError" && strings.Contains(ae.ErrorMessage(), "does not exist")
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
