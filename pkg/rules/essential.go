package rules

import (
	"fmt"

	"github.com/releng-tools/mergewarden/pkg/apis/review"
	"github.com/releng-tools/mergewarden/pkg/pipelinectl"
)

// commitsRule: an MR without commits has nothing to check or merge.
type commitsRule struct{}

func (r *commitsRule) Name() string { return "has-commits" }

func (r *commitsRule) Execute(ctx *Context) (ExecutionResult, error) {
	if len(ctx.MR.Commits) == 0 {
		return notReady("no commits yet"), nil
	}
	return pass(), nil
}

// terminalRule: merged and closed MRs are terminal, nothing to do.
type terminalRule struct{}

func (r *terminalRule) Name() string { return "not-terminal" }

func (r *terminalRule) Execute(ctx *Context) (ExecutionResult, error) {
	if ctx.MR.Merged() {
		return notReady("already merged"), nil
	}
	if ctx.MR.Closed() {
		return notReady("closed without merging"), nil
	}
	return pass(), nil
}

type draftRule struct{}

func (r *draftRule) Name() string { return "not-draft" }

func (r *draftRule) Execute(ctx *Context) (ExecutionResult, error) {
	if ctx.MR.Draft {
		return notReady("marked as draft"), nil
	}
	return pass(), nil
}

type conflictsRule struct{}

func (r *conflictsRule) Name() string { return "no-conflicts" }

func (r *conflictsRule) Execute(ctx *Context) (ExecutionResult, error) {
	if ctx.MR.HasConflicts {
		return notReady("conflicts with the target branch"), nil
	}
	return pass(), nil
}

// ciPipelineRule drives the pipeline controller's run policy once per cycle
// and then gates on the coarse status of the head revision's pipeline.
type ciPipelineRule struct{}

func (r *ciPipelineRule) Name() string { return "pipeline-green" }

func (r *ciPipelineRule) Execute(ctx *Context) (ExecutionResult, error) {
	started, err := ctx.Pipeline.Ensure(ctx.MR)
	if err != nil {
		return ExecutionResult{}, err
	}
	if started {
		return notReady("pipeline started, waiting for result"), nil
	}

	status, exists, err := ctx.Pipeline.HeadStatus(ctx.MR)
	if err != nil {
		return ExecutionResult{}, err
	}
	if !exists {
		return notReady("no pipeline for the current revision"), nil
	}

	switch status {
	case pipelinectl.StatusSucceeded:
		if err := ctx.Platform.RemoveTag(ctx.MR.IID, review.TagWaiting); err != nil {
			return ExecutionResult{}, err
		}
		return pass(), nil
	case pipelinectl.StatusRunning:
		if err := ctx.Platform.AddTag(ctx.MR.IID, review.TagWaiting); err != nil {
			return ExecutionResult{}, err
		}
		return notReady("pipeline still running"), nil
	case pipelinectl.StatusFailed:
		return notReady("pipeline failed"), nil
	default:
		return notReady("pipeline was skipped or canceled"), nil
	}
}

type approvalsRule struct{}

func (r *approvalsRule) Name() string { return "approved" }

func (r *approvalsRule) Execute(ctx *Context) (ExecutionResult, error) {
	got, want := len(ctx.MR.ApprovedBy), ctx.MR.ApprovalsRequired
	if got < want {
		return notReady(fmt.Sprintf("waiting for approvals (%d of %d)", got, want)), nil
	}
	return pass(), nil
}

type discussionsRule struct{}

func (r *discussionsRule) Name() string { return "discussions-resolved" }

func (r *discussionsRule) Execute(ctx *Context) (ExecutionResult, error) {
	if !ctx.MR.DiscussionsResolved {
		return notReady("unresolved discussions"), nil
	}
	return pass(), nil
}
