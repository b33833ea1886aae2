// Package rules evaluates the fixed, ordered set of policy checks that gate
// merging. Essential rules cover basic mergeability and short-circuit the
// pipeline when the MR is simply not ready; gating rules can block the merge
// and must leave the MR in a state where a human knows what to do next.
// Re-running any rule against unchanged remote state adds no comments or
// tags; statefulness is delegated to the checks tracker.
package rules

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/releng-tools/mergewarden/pkg/apis/review"
	"github.com/releng-tools/mergewarden/pkg/checks"
	"github.com/releng-tools/mergewarden/pkg/config"
	"github.com/releng-tools/mergewarden/pkg/pipelinectl"
	"github.com/releng-tools/mergewarden/pkg/util"
)

// Verdict is the closed interpretation of a rule outcome.
type Verdict int

const (
	// Pass requires no action.
	Pass Verdict = iota
	// PassWithOverride means a designated approver's approval substituted
	// for a failed automated check.
	PassWithOverride
	// NotReady means a basic mergeability condition does not hold yet;
	// evaluation stops and no merge is attempted.
	NotReady
	// Block means the MR must not merge and was put into a
	// needs-human-attention state by the rule.
	Block
)

func (v Verdict) String() string {
	switch v {
	case Pass:
		return "pass"
	case PassWithOverride:
		return "pass-with-override"
	case NotReady:
		return "not-ready"
	case Block:
		return "block"
	}
	return fmt.Sprintf("unknown(%d)", int(v))
}

// ExecutionResult is the outcome of one rule.
type ExecutionResult struct {
	Verdict Verdict
	Reason  string
}

// Blocking reports whether this result prevents merging.
func (r ExecutionResult) Blocking() bool {
	return r.Verdict == NotReady || r.Verdict == Block
}

func pass() ExecutionResult {
	return ExecutionResult{Verdict: Pass}
}

func notReady(reason string) ExecutionResult {
	return ExecutionResult{Verdict: NotReady, Reason: reason}
}

func block(reason string) ExecutionResult {
	return ExecutionResult{Verdict: Block, Reason: reason}
}

// Platform is the slice of the review platform the rules need beyond what
// the tracker and pipeline controller already cover.
type Platform interface {
	BotUser() string
	Changes(iid int) ([]review.FileDiff, error)
	CommitBranches(project, sha string) ([]string, error)
	UpdateAssignees(iid int, userIDs []int) error
	UserIDs(usernames []string) ([]int, error)
	SetDraft(iid int, title string, draft bool) error
	AddTag(iid int, tag review.Tag) error
	RemoveTag(iid int, tag review.Tag) error
}

// Context carries everything a rule may consult during one handling cycle.
// The cache is reset by the dispatcher at the start of each cycle.
type Context struct {
	MR       *review.MergeRequest
	Platform Platform
	Tracker  *checks.Tracker
	Pipeline *pipelinectl.Controller
	Cfg      *config.Config
	Cache    *util.CycleCache
}

// Rule is one policy check. Execute must be idempotent with respect to side
// effects: against unchanged remote state it adds nothing.
type Rule interface {
	Name() string
	Execute(ctx *Context) (ExecutionResult, error)
}

// Message ids of the stateful checks, the vocabulary the tracker recognizes.
const (
	MsgCommitMessage   = "commit_message_check"
	MsgOpenSourceCheck = "open_source_review"
	MsgCodeOwnerCheck  = "code_owner_review"
	MsgAPIDocCheck     = "apidoc_review"
	MsgSubmoduleCheck  = "submodule_check"
)

// MessageIDs lists every check message id for tracker construction.
func MessageIDs() []string {
	return []string{MsgCommitMessage, MsgOpenSourceCheck, MsgCodeOwnerCheck, MsgAPIDocCheck, MsgSubmoduleCheck}
}

// RuleResult pairs a rule with its outcome for reporting.
type RuleResult struct {
	Rule   string
	Result ExecutionResult
}

// Outcome is the aggregated decision of one pipeline evaluation.
type Outcome struct {
	// Mergeable is true when every gating rule passed, possibly with
	// overrides.
	Mergeable bool
	// Results holds the outcome of every rule that ran, in order.
	Results []RuleResult
}

// Reason summarizes why the MR is not mergeable, empty when it is.
func (o Outcome) Reason() string {
	for _, rr := range o.Results {
		if rr.Result.Blocking() {
			return fmt.Sprintf("%s: %s", rr.Rule, rr.Result.Reason)
		}
	}
	return ""
}

// Pipeline is the fixed, ordered rule set.
type Pipeline struct {
	essential []Rule
	gating    []Rule
}

// NewPipeline assembles the compiled rule order: essential mergeability
// checks first, then the gating policy checks.
func NewPipeline(cfg *config.Config) *Pipeline {
	p := &Pipeline{
		essential: []Rule{
			&commitsRule{},
			&terminalRule{},
			&draftRule{},
			&conflictsRule{},
			&ciPipelineRule{},
			&approvalsRule{},
			&discussionsRule{},
		},
		gating: []Rule{
			&commitMessageRule{},
			&submoduleRule{},
		},
	}

	// job-outcome review rules exist only when the project configures the
	// corresponding CI job
	for _, jr := range []struct {
		key string
		msg string
	}{
		{"open_source_review", MsgOpenSourceCheck},
		{"code_owner_review", MsgCodeOwnerCheck},
		{"apidoc_review", MsgAPIDocCheck},
	} {
		if rj, ok := cfg.ReviewJobs[jr.key]; ok {
			p.gating = append(p.gating, &jobReviewRule{name: jr.key, messageID: jr.msg, job: rj})
		}
	}

	return p
}

// Evaluate runs the rule pipeline once. Essential rules short-circuit: the
// first not-ready result stops evaluation and no gating rule runs.
func (p *Pipeline) Evaluate(ctx *Context) (Outcome, error) {
	outcome := Outcome{}
	logger := log.WithField("mr", ctx.MR.IID)

	for _, rule := range p.essential {
		result, err := rule.Execute(ctx)
		if err != nil {
			return outcome, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		outcome.Results = append(outcome.Results, RuleResult{Rule: rule.Name(), Result: result})
		if result.Blocking() {
			logger.WithField("rule", rule.Name()).WithField("reason", result.Reason).Debug("merge request not ready")
			return outcome, nil
		}
	}

	mergeable := true
	for _, rule := range p.gating {
		result, err := rule.Execute(ctx)
		if err != nil {
			return outcome, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		outcome.Results = append(outcome.Results, RuleResult{Rule: rule.Name(), Result: result})
		if result.Blocking() {
			logger.WithField("rule", rule.Name()).WithField("reason", result.Reason).Info("merge blocked")
			mergeable = false
		}
		if result.Verdict == PassWithOverride {
			logger.WithField("rule", rule.Name()).Info("check overridden by approver")
		}
	}

	outcome.Mergeable = mergeable
	return outcome, nil
}
