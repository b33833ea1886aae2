package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/releng-tools/mergewarden/pkg/apis/review"
	"github.com/releng-tools/mergewarden/pkg/checks"
	"github.com/releng-tools/mergewarden/pkg/config"
	"github.com/releng-tools/mergewarden/pkg/pipelinectl"
)

var ticketRefPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]+-\d+\b`)

// commitMessageRule enforces commit message compliance: subject length, no
// trailing period, a blank line before the body, and a ticket reference
// somewhere in the MR. Violations are reported once per revision through the
// tracker; a designated approver's approval overrides a failing check.
type commitMessageRule struct{}

func (r *commitMessageRule) Name() string { return "commit-messages" }

func (r *commitMessageRule) Execute(ctx *Context) (ExecutionResult, error) {
	found := commitMessageErrors(ctx.MR, ctx.Cfg)

	result, err := ctx.Tracker.Evaluate(ctx.MR, MsgCommitMessage, found, renderCommitMessageError)
	if err != nil {
		return ExecutionResult{}, err
	}
	if len(result.Open()) == 0 {
		return pass(), nil
	}

	if anyApproved(ctx.MR, ctx.Cfg.CommitApprovers) {
		return ExecutionResult{Verdict: PassWithOverride, Reason: "commit message check overridden by approver"}, nil
	}

	// the author has to rewrite history, take the MR out of the queue
	if err := ctx.Platform.SetDraft(ctx.MR.IID, ctx.MR.Title, true); err != nil {
		return ExecutionResult{}, err
	}
	return block(fmt.Sprintf("%d commit message problem(s) need attention", len(result.Open()))), nil
}

func commitMessageErrors(mr *review.MergeRequest, cfg *config.Config) []checks.CheckError {
	var found []checks.CheckError

	for _, commit := range mr.Commits {
		subject, body, hasBody := strings.Cut(commit.Message, "\n")
		subject = strings.TrimRight(subject, "\r")

		if len(subject) > cfg.CommitSubjectLimit {
			found = append(found, checks.CheckError{
				Type: "subject_too_long",
				Params: map[string]string{
					"sha":    commit.SHA,
					"length": strconv.Itoa(len(subject)),
					"limit":  strconv.Itoa(cfg.CommitSubjectLimit),
				},
			})
		}
		if strings.HasSuffix(subject, ".") {
			found = append(found, checks.CheckError{
				Type:   "subject_trailing_period",
				Params: map[string]string{"sha": commit.SHA},
			})
		}
		if hasBody && body != "" && !strings.HasPrefix(body, "\n") && !strings.HasPrefix(strings.TrimPrefix(body, "\r"), "\n") {
			found = append(found, checks.CheckError{
				Type:   "missing_blank_line",
				Params: map[string]string{"sha": commit.SHA},
			})
		}
	}

	if !ticketRefPattern.MatchString(mr.Title) && !ticketRefPattern.MatchString(mr.Description) && !ticketRefPattern.MatchString(mr.SourceBranch) {
		found = append(found, checks.CheckError{Type: "ticket_reference_missing"})
	}

	return found
}

func renderCommitMessageError(e checks.CheckError) string {
	switch e.Type {
	case "subject_too_long":
		return fmt.Sprintf("Commit `%s` has a subject of %s characters, the limit is %s.",
			shortSHA(e.Params["sha"]), e.Params["length"], e.Params["limit"])
	case "subject_trailing_period":
		return fmt.Sprintf("Commit `%s` has a subject ending with a period.", shortSHA(e.Params["sha"]))
	case "missing_blank_line":
		return fmt.Sprintf("Commit `%s` is missing a blank line between subject and body.", shortSHA(e.Params["sha"]))
	case "ticket_reference_missing":
		return "Neither the title, the description nor the source branch references a tracker ticket."
	}
	return e.String()
}

// jobReviewRule gates on the outcome of a named CI job (open-source review,
// code-owner review, apidoc review). A failed job blocks the merge unless
// one of the rule's approvers approved the MR; on block the MR is assigned
// to the approvers so they know they are needed.
type jobReviewRule struct {
	name      string
	messageID string
	job       config.ReviewJob
}

func (r *jobReviewRule) Name() string { return r.name }

func (r *jobReviewRule) Execute(ctx *Context) (ExecutionResult, error) {
	job, err := ctx.Pipeline.HeadJob(ctx.MR, r.job.JobName)
	if err != nil {
		return ExecutionResult{}, err
	}
	if job == nil {
		// the project's CI does not run this job for the MR, nothing to gate on
		return pass(), nil
	}

	if job.Status == "manual" {
		// review jobs stay manual until the MR is otherwise ready; the bot
		// starts them
		if err := ctx.Pipeline.Play(job.ID); err != nil {
			return ExecutionResult{}, err
		}
		return notReady(fmt.Sprintf("started the %s job", r.job.JobName)), nil
	}

	status, err := pipelinectl.Translate(job.Status)
	if err != nil {
		return ExecutionResult{}, err
	}

	var found []checks.CheckError
	if status == pipelinectl.StatusFailed {
		found = append(found, checks.CheckError{
			Type:   "review_job_failed",
			Params: map[string]string{"job": r.job.JobName},
		})
	}

	result, err := ctx.Tracker.Evaluate(ctx.MR, r.messageID, found, func(e checks.CheckError) string {
		return fmt.Sprintf("The `%s` job failed; this change needs a review by %s.",
			e.Params["job"], strings.Join(r.job.Approvers, ", "))
	})
	if err != nil {
		return ExecutionResult{}, err
	}
	if len(result.Open()) == 0 {
		return pass(), nil
	}

	if anyApproved(ctx.MR, r.job.Approvers) {
		return ExecutionResult{Verdict: PassWithOverride, Reason: fmt.Sprintf("%s overridden by approver", r.name)}, nil
	}

	ids, err := ctx.Platform.UserIDs(r.job.Approvers)
	if err != nil {
		return ExecutionResult{}, err
	}
	if err := ctx.Platform.UpdateAssignees(ctx.MR.IID, ids); err != nil {
		return ExecutionResult{}, err
	}
	return block(fmt.Sprintf("waiting for %s", r.name)), nil
}

var submodulePattern = regexp.MustCompile(`(?m)^\+Subproject commit ([0-9a-f]{7,40})$`)

// submoduleRule verifies that submodule bumps point at commits that exist on
// the submodule project's corresponding branch, so a merge cannot pin a sha
// that only lives on someone's work branch.
type submoduleRule struct{}

func (r *submoduleRule) Name() string { return "submodules-consistent" }

func (r *submoduleRule) Execute(ctx *Context) (ExecutionResult, error) {
	diffs, err := ctx.Platform.Changes(ctx.MR.IID)
	if err != nil {
		return ExecutionResult{}, err
	}

	var found []checks.CheckError
	for _, diff := range diffs {
		match := submodulePattern.FindStringSubmatch(diff.Diff)
		if match == nil {
			continue
		}
		sha := match[1]

		project, ok := ctx.Cfg.SubmoduleProjects[diff.NewPath]
		if !ok {
			found = append(found, checks.CheckError{
				Type:   "unknown_submodule",
				Params: map[string]string{"path": diff.NewPath},
			})
			continue
		}

		branches, err := r.commitBranches(ctx, project, sha)
		if err != nil {
			return ExecutionResult{}, err
		}
		onTarget := false
		for _, b := range branches {
			if b == ctx.MR.TargetBranch {
				onTarget = true
				break
			}
		}
		if !onTarget {
			found = append(found, checks.CheckError{
				Type: "submodule_commit_not_on_branch",
				Params: map[string]string{
					"path":   diff.NewPath,
					"sha":    sha,
					"branch": ctx.MR.TargetBranch,
				},
			})
		}
	}

	result, err := ctx.Tracker.Evaluate(ctx.MR, MsgSubmoduleCheck, found, renderSubmoduleError)
	if err != nil {
		return ExecutionResult{}, err
	}
	if len(result.Open()) == 0 {
		return pass(), nil
	}

	// only the author can fix the pinned sha
	if err := ctx.Platform.UpdateAssignees(ctx.MR.IID, []int{ctx.MR.Author.ID}); err != nil {
		return ExecutionResult{}, err
	}
	return block(fmt.Sprintf("%d submodule problem(s) need attention", len(result.Open()))), nil
}

func (r *submoduleRule) commitBranches(ctx *Context, project, sha string) ([]string, error) {
	v, err := ctx.Cache.Get("submodule-refs/"+project+"/"+sha, func() (interface{}, error) {
		return ctx.Platform.CommitBranches(project, sha)
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func renderSubmoduleError(e checks.CheckError) string {
	switch e.Type {
	case "unknown_submodule":
		return fmt.Sprintf("Submodule `%s` is not known to the bot configuration, cannot verify its commit.", e.Params["path"])
	case "submodule_commit_not_on_branch":
		return fmt.Sprintf("Submodule `%s` points at `%s` which is not on its `%s` branch.",
			e.Params["path"], shortSHA(e.Params["sha"]), e.Params["branch"])
	}
	return e.String()
}

func anyApproved(mr *review.MergeRequest, approvers []string) bool {
	for _, a := range approvers {
		if mr.ApprovedByUser(a) {
			return true
		}
	}
	return false
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
