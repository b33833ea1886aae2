package rules

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/releng-tools/mergewarden/pkg/apis/review"
	"github.com/releng-tools/mergewarden/pkg/checks"
	"github.com/releng-tools/mergewarden/pkg/config"
	"github.com/releng-tools/mergewarden/pkg/pipelinectl"
	"github.com/releng-tools/mergewarden/pkg/util"
)

// enginePlatform fakes every platform slice the rule pipeline touches, so a
// whole evaluation cycle can run against in-memory state.
type enginePlatform struct {
	botUser string

	notes       []review.Note
	discussions []review.Discussion
	nextID      int
	resolved    []string

	pipelines []review.Pipeline
	jobs      map[int][]review.Job
	tags      map[review.Tag]bool
	diffHash  string
	created   int
	retried   int
	played    []int

	changes     []review.FileDiff
	branchesFor map[string][]string
	userIDs     map[string]int
	assigned    [][]int
	drafted     []bool
}

func newEnginePlatform() *enginePlatform {
	return &enginePlatform{
		botUser:     "warden-bot",
		jobs:        map[int][]review.Job{},
		tags:        map[review.Tag]bool{},
		diffHash:    "diff-hash-1",
		branchesFor: map[string][]string{},
		userIDs:     map[string]int{},
	}
}

func (p *enginePlatform) BotUser() string                                  { return p.botUser }
func (p *enginePlatform) Notes(iid int) ([]review.Note, error)             { return p.notes, nil }
func (p *enginePlatform) Discussions(iid int) ([]review.Discussion, error) { return p.discussions, nil }
func (p *enginePlatform) Pipelines(iid int) ([]review.Pipeline, error)     { return p.pipelines, nil }
func (p *enginePlatform) Jobs(pipelineID int) ([]review.Job, error)        { return p.jobs[pipelineID], nil }
func (p *enginePlatform) DiffHash(iid int) (string, error)                 { return p.diffHash, nil }
func (p *enginePlatform) Changes(iid int) ([]review.FileDiff, error)       { return p.changes, nil }

func (p *enginePlatform) CreateNote(iid int, body string) error {
	p.nextID++
	p.notes = append(p.notes, review.Note{ID: p.nextID, Author: p.botUser, Body: body})
	return nil
}

func (p *enginePlatform) CreateDiscussion(iid int, body string) (string, error) {
	p.nextID++
	n := review.Note{ID: p.nextID, Author: p.botUser, Body: body}
	p.notes = append(p.notes, n)
	d := review.Discussion{ID: fmt.Sprintf("d-%d", p.nextID), Notes: []review.Note{n}}
	p.discussions = append(p.discussions, d)
	return d.ID, nil
}

func (p *enginePlatform) ResolveDiscussion(iid int, discussionID string) error {
	p.resolved = append(p.resolved, discussionID)
	return nil
}

func (p *enginePlatform) CreatePipeline(ref string) (*review.Pipeline, error) {
	p.created++
	return &review.Pipeline{ID: 100 + p.created, Ref: ref}, nil
}

func (p *enginePlatform) RetryPipeline(pipelineID int) error {
	p.retried++
	return nil
}

func (p *enginePlatform) PlayJob(jobID int) error {
	p.played = append(p.played, jobID)
	return nil
}

func (p *enginePlatform) HasTag(iid int, tag review.Tag) (bool, error) { return p.tags[tag], nil }

func (p *enginePlatform) AddTag(iid int, tag review.Tag) error {
	p.tags[tag] = true
	return nil
}

func (p *enginePlatform) RemoveTag(iid int, tag review.Tag) error {
	delete(p.tags, tag)
	return nil
}

func (p *enginePlatform) CommitBranches(project, sha string) ([]string, error) {
	return p.branchesFor[project+"/"+sha], nil
}

func (p *enginePlatform) UpdateAssignees(iid int, ids []int) error {
	p.assigned = append(p.assigned, ids)
	return nil
}

func (p *enginePlatform) UserIDs(usernames []string) ([]int, error) {
	ids := make([]int, 0, len(usernames))
	for _, u := range usernames {
		if id, ok := p.userIDs[u]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (p *enginePlatform) SetDraft(iid int, title string, draft bool) error {
	p.drafted = append(p.drafted, draft)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		BotUser:            "warden-bot",
		Project:            "platform/core",
		TrackerProject:     "CORE",
		CommitSubjectLimit: 72,
		DefaultBranch:      "master",
		BranchPattern:      "release/%s",
		StatusNames: map[string]string{
			config.StatusOpen:         "Open",
			config.StatusInProgress:   "In Progress",
			config.StatusInReview:     "In Review",
			config.StatusReadyToMerge: "Ready To Merge",
			config.StatusQA:           "Quality Assurance",
			config.StatusClosed:       "Done",
		},
	}
}

// greenMR is fully mergeable as far as the essential rules are concerned.
func greenMR() *review.MergeRequest {
	return &review.MergeRequest{
		IID:                 7,
		Title:               "CORE-1 Fix the connection handling",
		Description:         "Closes CORE-1.",
		SourceBranch:        "fix/CORE-1",
		TargetBranch:        "master",
		HeadSHA:             "head-1",
		State:               "opened",
		DiscussionsResolved: true,
		ApprovalsRequired:   1,
		ApprovedBy:          []review.User{{ID: 2, Username: "alice"}},
		Author:              review.User{ID: 3, Username: "bob"},
		Commits: []review.Commit{
			{SHA: "c1", Message: "CORE-1 fix the connection handling\n\nKeep the socket open between polls."},
		},
	}
}

func testContext(platform *enginePlatform, mr *review.MergeRequest, cfg *config.Config) *Context {
	return &Context{
		MR:       mr,
		Platform: platform,
		Tracker:  checks.NewTracker(platform, MessageIDs()),
		Pipeline: pipelinectl.NewController(platform),
		Cfg:      cfg,
		Cache:    util.NewCycleCache(),
	}
}

// succeedPipeline gives the MR's head a finished green pipeline.
func succeedPipeline(platform *enginePlatform, mr *review.MergeRequest) {
	platform.pipelines = []review.Pipeline{{ID: 42, SHA: mr.HeadSHA, Status: "success"}}
	platform.jobs[42] = []review.Job{{ID: 1, Name: "build", Status: "success"}}
}

func TestEvaluateShortCircuits(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(mr *review.MergeRequest)
		lastRule   string
		wantReason string
	}{
		{
			name:       "no commits",
			mutate:     func(mr *review.MergeRequest) { mr.Commits = nil },
			lastRule:   "has-commits",
			wantReason: "no commits yet",
		},
		{
			name:       "already merged",
			mutate:     func(mr *review.MergeRequest) { mr.State = "merged" },
			lastRule:   "not-terminal",
			wantReason: "already merged",
		},
		{
			name:       "closed",
			mutate:     func(mr *review.MergeRequest) { mr.State = "closed" },
			lastRule:   "not-terminal",
			wantReason: "closed without merging",
		},
		{
			name:       "draft",
			mutate:     func(mr *review.MergeRequest) { mr.Draft = true },
			lastRule:   "not-draft",
			wantReason: "marked as draft",
		},
		{
			name:       "conflicts",
			mutate:     func(mr *review.MergeRequest) { mr.HasConflicts = true },
			lastRule:   "no-conflicts",
			wantReason: "conflicts with the target branch",
		},
		{
			name:       "missing approvals",
			mutate:     func(mr *review.MergeRequest) { mr.ApprovedBy = nil },
			lastRule:   "approved",
			wantReason: "waiting for approvals (0 of 1)",
		},
		{
			name:       "unresolved discussions",
			mutate:     func(mr *review.MergeRequest) { mr.DiscussionsResolved = false },
			lastRule:   "discussions-resolved",
			wantReason: "unresolved discussions",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			platform := newEnginePlatform()
			mr := greenMR()
			succeedPipeline(platform, mr)
			tc.mutate(mr)

			outcome, err := NewPipeline(testConfig()).Evaluate(testContext(platform, mr, testConfig()))
			require.NoError(t, err)

			assert.False(t, outcome.Mergeable)
			last := outcome.Results[len(outcome.Results)-1]
			assert.Equal(t, tc.lastRule, last.Rule)
			assert.Equal(t, NotReady, last.Result.Verdict)
			assert.Equal(t, tc.wantReason, last.Result.Reason)
		})
	}
}

func TestEvaluateStartsPipelineWhenNoneExists(t *testing.T) {
	platform := newEnginePlatform()
	mr := greenMR()

	outcome, err := NewPipeline(testConfig()).Evaluate(testContext(platform, mr, testConfig()))
	require.NoError(t, err)

	assert.False(t, outcome.Mergeable)
	assert.Equal(t, 1, platform.created)
	last := outcome.Results[len(outcome.Results)-1]
	assert.Equal(t, "pipeline-green", last.Rule)
	assert.Equal(t, "pipeline started, waiting for result", last.Result.Reason)
}

func TestEvaluateWaitsOnRunningPipeline(t *testing.T) {
	platform := newEnginePlatform()
	mr := greenMR()
	platform.pipelines = []review.Pipeline{{ID: 42, SHA: mr.HeadSHA, Status: "running"}}
	platform.jobs[42] = []review.Job{{ID: 1, Name: "build", Status: "running"}}

	outcome, err := NewPipeline(testConfig()).Evaluate(testContext(platform, mr, testConfig()))
	require.NoError(t, err)

	assert.False(t, outcome.Mergeable)
	assert.True(t, platform.tags[review.TagWaiting], "waiting tag must be set while the pipeline runs")
}

func TestEvaluateMergeable(t *testing.T) {
	platform := newEnginePlatform()
	mr := greenMR()
	succeedPipeline(platform, mr)

	outcome, err := NewPipeline(testConfig()).Evaluate(testContext(platform, mr, testConfig()))
	require.NoError(t, err)

	assert.True(t, outcome.Mergeable)
	assert.Empty(t, outcome.Reason())
	assert.Empty(t, platform.notes, "a clean evaluation posts nothing")
}

func TestEvaluateIdempotentOnUnchangedState(t *testing.T) {
	cfg := testConfig()
	cfg.CommitApprovers = []string{"alice"}

	platform := newEnginePlatform()
	mr := greenMR()
	// subject ends with a period, but alice (a commit approver) approved
	mr.Commits[0].Message = "CORE-1 fix the connection handling."
	succeedPipeline(platform, mr)

	pipeline := NewPipeline(cfg)

	first, err := pipeline.Evaluate(testContext(platform, mr, cfg))
	require.NoError(t, err)
	assert.True(t, first.Mergeable)
	notesAfterFirst := len(platform.notes)
	assert.NotZero(t, notesAfterFirst, "first evaluation reports the problem")

	second, err := pipeline.Evaluate(testContext(platform, mr, cfg))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, platform.notes, notesAfterFirst, "unchanged state must not produce more comments")
	assert.Empty(t, platform.drafted)
}

func TestNewPipelineConfiguresReviewRules(t *testing.T) {
	cfg := testConfig()
	cfg.ReviewJobs = map[string]config.ReviewJob{
		"open_source_review": {JobName: "scan-licenses", Approvers: []string{"oss-officer"}},
		"apidoc_review":      {JobName: "apidoc", Approvers: []string{"docs-team"}},
	}

	pipeline := NewPipeline(cfg)

	var names []string
	for _, rule := range pipeline.gating {
		names = append(names, rule.Name())
	}
	assert.Contains(t, names, "open_source_review")
	assert.Contains(t, names, "apidoc_review")
	assert.NotContains(t, names, "code_owner_review")
}

func TestVerdictBlocking(t *testing.T) {
	assert.False(t, ExecutionResult{Verdict: Pass}.Blocking())
	assert.False(t, ExecutionResult{Verdict: PassWithOverride}.Blocking())
	assert.True(t, ExecutionResult{Verdict: NotReady}.Blocking())
	assert.True(t, ExecutionResult{Verdict: Block}.Blocking())
}
