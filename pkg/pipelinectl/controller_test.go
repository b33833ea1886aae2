package pipelinectl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/releng-tools/mergewarden/pkg/apis/review"
	"github.com/releng-tools/mergewarden/pkg/note"
)

type fakePlatform struct {
	botUser   string
	pipelines []review.Pipeline
	jobs      map[int][]review.Job
	notes     []review.Note
	tags      map[review.Tag]bool
	diffHash  string

	created     []string
	retried     []int
	played      []int
	addedNotes  []string
	removedTags []review.Tag
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		botUser:  "warden-bot",
		jobs:     map[int][]review.Job{},
		tags:     map[review.Tag]bool{},
		diffHash: "diff-hash-1",
	}
}

func (f *fakePlatform) BotUser() string                              { return f.botUser }
func (f *fakePlatform) Pipelines(iid int) ([]review.Pipeline, error) { return f.pipelines, nil }
func (f *fakePlatform) Jobs(pipelineID int) ([]review.Job, error)    { return f.jobs[pipelineID], nil }
func (f *fakePlatform) DiffHash(iid int) (string, error)             { return f.diffHash, nil }
func (f *fakePlatform) Notes(iid int) ([]review.Note, error)         { return f.notes, nil }

func (f *fakePlatform) CreatePipeline(ref string) (*review.Pipeline, error) {
	f.created = append(f.created, ref)
	return &review.Pipeline{ID: 100 + len(f.created), Ref: ref}, nil
}

func (f *fakePlatform) PlayJob(jobID int) error {
	f.played = append(f.played, jobID)
	return nil
}

func (f *fakePlatform) RetryPipeline(pipelineID int) error {
	f.retried = append(f.retried, pipelineID)
	return nil
}

func (f *fakePlatform) CreateNote(iid int, body string) error {
	f.addedNotes = append(f.addedNotes, body)
	return nil
}

func (f *fakePlatform) HasTag(iid int, tag review.Tag) (bool, error) { return f.tags[tag], nil }

func (f *fakePlatform) RemoveTag(iid int, tag review.Tag) error {
	delete(f.tags, tag)
	f.removedTags = append(f.removedTags, tag)
	return nil
}

func testMR() *review.MergeRequest {
	return &review.MergeRequest{
		IID:                 7,
		SourceBranch:        "feature/CORE-1",
		TargetBranch:        "master",
		HeadSHA:             "head-2",
		DiscussionsResolved: true,
		Commits: []review.Commit{
			{SHA: "c1", Message: "CORE-1 fix the thing"},
		},
	}
}

// runNote builds the run-reason note a previous cycle would have recorded.
func runNote(t *testing.T, id int, revision string, rd runDetails) review.Note {
	t.Helper()
	data, err := note.DataNode(rd)
	require.NoError(t, err)
	body, err := note.Codec{}.Encode("Started a pipeline.", note.Details{
		MessageID: RunMessageID,
		Revision:  revision,
		Data:      data,
	})
	require.NoError(t, err)
	return review.Note{ID: id, Author: "warden-bot", Body: body}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		platformStatus string
		want           Status
	}{
		{"waiting_for_resource", StatusRunning},
		{"preparing", StatusRunning},
		{"pending", StatusRunning},
		{"running", StatusRunning},
		{"scheduled", StatusRunning},
		{"canceled", StatusSkipped},
		{"skipped", StatusSkipped},
		{"created", StatusSkipped},
		{"manual", StatusSkipped},
		{"success", StatusSucceeded},
		{"failed", StatusFailed},
	}

	for _, tc := range tests {
		t.Run(tc.platformStatus, func(t *testing.T) {
			got, err := Translate(tc.platformStatus)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTranslateRejectsUnknownStatus(t *testing.T) {
	_, err := Translate("quantum")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantum")
}

func TestCombine(t *testing.T) {
	tests := []struct {
		name    string
		jobs    []review.Job
		want    Status
		wantErr bool
	}{
		{
			name: "all succeeded",
			jobs: []review.Job{{Name: "build", Status: "success"}, {Name: "test", Status: "success"}},
			want: StatusSucceeded,
		},
		{
			name: "one failed",
			jobs: []review.Job{{Name: "build", Status: "success"}, {Name: "test", Status: "failed"}},
			want: StatusFailed,
		},
		{
			name: "allow-failure failure does not fail the pipeline",
			jobs: []review.Job{{Name: "build", Status: "success"}, {Name: "lint", Status: "failed", AllowFailure: true}},
			want: StatusSucceeded,
		},
		{
			name: "still running",
			jobs: []review.Job{{Name: "build", Status: "success"}, {Name: "test", Status: "running"}},
			want: StatusRunning,
		},
		{
			name: "everything skipped",
			jobs: []review.Job{{Name: "build", Status: "skipped"}, {Name: "test", Status: "manual"}},
			want: StatusSkipped,
		},
		{
			name: "no jobs",
			jobs: nil,
			want: StatusSkipped,
		},
		{
			name:    "unknown job status",
			jobs:    []review.Job{{Name: "build", Status: "quantum"}},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Combine(tc.jobs)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEnsureFirstCheck(t *testing.T) {
	platform := newFakePlatform()
	controller := NewController(platform)
	mr := testMR()

	started, err := controller.Ensure(mr)
	require.NoError(t, err)
	assert.True(t, started)

	require.Len(t, platform.created, 1)
	assert.Equal(t, "feature/CORE-1", platform.created[0])
	require.Len(t, platform.addedNotes, 1)
	assert.Contains(t, platform.addedNotes[0], "first check")
}

func TestEnsureUserRequestedRun(t *testing.T) {
	t.Run("not yet started pipeline for head is restarted", func(t *testing.T) {
		platform := newFakePlatform()
		platform.tags[review.TagPipelineRequested] = true
		platform.pipelines = []review.Pipeline{{ID: 42, SHA: "head-2", Status: "manual"}}
		mr := testMR()

		started, err := NewController(platform).Ensure(mr)
		require.NoError(t, err)
		assert.True(t, started)

		assert.Equal(t, []int{42}, platform.retried)
		assert.Empty(t, platform.created)
		assert.False(t, platform.tags[review.TagPipelineRequested], "request marker must be cleared")
	})

	t.Run("running pipeline gets a fresh detached one", func(t *testing.T) {
		platform := newFakePlatform()
		platform.tags[review.TagPipelineRequested] = true
		platform.pipelines = []review.Pipeline{{ID: 42, SHA: "head-2", Status: "running"}}
		mr := testMR()

		started, err := NewController(platform).Ensure(mr)
		require.NoError(t, err)
		assert.True(t, started)

		assert.Empty(t, platform.retried)
		assert.Len(t, platform.created, 1)
		assert.False(t, platform.tags[review.TagPipelineRequested])
	})
}

func TestEnsureRunPolicy(t *testing.T) {
	mr := testMR()
	digest := commitDigest(mr.Commits)

	tests := []struct {
		name        string
		pipelineSHA string
		status      string
		recorded    *runDetails
		discussions bool
		wantRun     bool
		wantReason  string
	}{
		{
			name:        "head unchanged",
			pipelineSHA: "head-2",
			status:      "success",
			wantRun:     false,
		},
		{
			name:        "content change",
			pipelineSHA: "head-1",
			status:      "success",
			recorded:    &runDetails{DiffHash: "diff-hash-0", CommitDigest: digest},
			discussions: true,
			wantRun:     true,
			wantReason:  "merge request updated",
		},
		{
			name:        "commit message change",
			pipelineSHA: "head-1",
			status:      "success",
			recorded:    &runDetails{DiffHash: "diff-hash-1", CommitDigest: "other-digest"},
			discussions: true,
			wantRun:     true,
			wantReason:  "merge request updated",
		},
		{
			name:        "no recorded details counts as content change",
			pipelineSHA: "head-1",
			status:      "success",
			discussions: true,
			wantRun:     true,
			wantReason:  "merge request updated",
		},
		{
			name:        "pure rebase after success",
			pipelineSHA: "head-1",
			status:      "success",
			recorded:    &runDetails{DiffHash: "diff-hash-1", CommitDigest: digest},
			discussions: true,
			wantRun:     false,
		},
		{
			name:        "pure rebase after failure with resolved discussions",
			pipelineSHA: "head-1",
			status:      "failed",
			recorded:    &runDetails{DiffHash: "diff-hash-1", CommitDigest: digest},
			discussions: true,
			wantRun:     true,
			wantReason:  "rebase after failed pipeline",
		},
		{
			name:        "pure rebase after failure with open discussions",
			pipelineSHA: "head-1",
			status:      "failed",
			recorded:    &runDetails{DiffHash: "diff-hash-1", CommitDigest: digest},
			discussions: false,
			wantRun:     false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			platform := newFakePlatform()
			platform.pipelines = []review.Pipeline{{ID: 42, SHA: tc.pipelineSHA, Status: tc.status}}
			if tc.recorded != nil {
				platform.notes = append(platform.notes, runNote(t, 1, tc.pipelineSHA, *tc.recorded))
			}

			mr := testMR()
			mr.DiscussionsResolved = tc.discussions

			started, err := NewController(platform).Ensure(mr)
			require.NoError(t, err)
			assert.Equal(t, tc.wantRun, started)

			if tc.wantRun {
				require.Len(t, platform.addedNotes, 1)
				assert.Contains(t, platform.addedNotes[0], tc.wantReason)
			} else {
				assert.Empty(t, platform.created)
				assert.Empty(t, platform.retried)
				assert.Empty(t, platform.addedNotes)
			}
		})
	}
}

func TestEnsureLatestRecordedNoteWins(t *testing.T) {
	mr := testMR()
	digest := commitDigest(mr.Commits)

	platform := newFakePlatform()
	platform.pipelines = []review.Pipeline{{ID: 42, SHA: "head-1", Status: "success"}}
	// a stale record followed by the authoritative one matching the current state
	platform.notes = []review.Note{
		runNote(t, 1, "head-1", runDetails{DiffHash: "stale", CommitDigest: "stale"}),
		runNote(t, 2, "head-1", runDetails{DiffHash: "diff-hash-1", CommitDigest: digest}),
	}

	started, err := NewController(platform).Ensure(mr)
	require.NoError(t, err)
	assert.False(t, started, "pure rebase after success must not re-run")
}

func TestHeadStatus(t *testing.T) {
	platform := newFakePlatform()
	platform.pipelines = []review.Pipeline{
		{ID: 42, SHA: "head-2", Status: "running"},
		{ID: 41, SHA: "head-1", Status: "success"},
	}
	platform.jobs[42] = []review.Job{
		{Name: "build", Status: "success"},
		{Name: "test", Status: "failed"},
	}
	controller := NewController(platform)

	status, exists, err := controller.HeadStatus(testMR())
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, StatusFailed, status)
}

func TestHeadStatusWithoutJobsFallsBackToPipelineStatus(t *testing.T) {
	platform := newFakePlatform()
	platform.pipelines = []review.Pipeline{{ID: 42, SHA: "head-2", Status: "running"}}

	status, exists, err := NewController(platform).HeadStatus(testMR())
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, StatusRunning, status)
}

func TestHeadStatusNoPipelineForHead(t *testing.T) {
	platform := newFakePlatform()
	platform.pipelines = []review.Pipeline{{ID: 41, SHA: "head-1", Status: "success"}}

	_, exists, err := NewController(platform).HeadStatus(testMR())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHeadStatusAcceptsContentIdenticalPriorRevision(t *testing.T) {
	mr := testMR()
	platform := newFakePlatform()
	platform.pipelines = []review.Pipeline{{ID: 41, SHA: "head-1", Status: "success"}}
	platform.jobs[41] = []review.Job{{ID: 9, Name: "build", Status: "success"}}
	platform.notes = []review.Note{runNote(t, 1, "head-1", runDetails{
		DiffHash:     "diff-hash-1",
		CommitDigest: commitDigest(mr.Commits),
		Reason:       "first check of this merge request",
	})}
	controller := NewController(platform)

	// the head moved by a pure rebase, the prior green pipeline still counts
	status, exists, err := controller.HeadStatus(mr)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, StatusSucceeded, status)

	job, err := controller.HeadJob(mr, "build")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 9, job.ID)

	// a content change does not inherit the prior result
	platform.diffHash = "diff-hash-2"
	_, exists, err = controller.HeadStatus(mr)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHeadJob(t *testing.T) {
	platform := newFakePlatform()
	platform.pipelines = []review.Pipeline{{ID: 42, SHA: "head-2", Status: "success"}}
	platform.jobs[42] = []review.Job{
		{ID: 1, Name: "build", Status: "success"},
		{ID: 2, Name: "scan-licenses", Status: "failed"},
	}
	controller := NewController(platform)

	job, err := controller.HeadJob(testMR(), "scan-licenses")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.ID)

	job, err = controller.HeadJob(testMR(), "no-such-job")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestCommitDigestDependsOnMessagesOnly(t *testing.T) {
	a := []review.Commit{{SHA: "c1", Message: "fix"}, {SHA: "c2", Message: "cleanup"}}
	b := []review.Commit{{SHA: "x1", Message: "fix"}, {SHA: "x2", Message: "cleanup"}}
	c := []review.Commit{{SHA: "c1", Message: "fix"}, {SHA: "c2", Message: "cleanup."}}

	assert.Equal(t, commitDigest(a), commitDigest(b), "rebased shas must not change the digest")
	assert.NotEqual(t, commitDigest(a), commitDigest(c))
	assert.NotEmpty(t, commitDigest(nil))
}
