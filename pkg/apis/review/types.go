// Package review holds the platform-neutral projection of review platform
// objects the engine works with. The authoritative copies live on the remote
// platform; everything here is re-read at the start of each handling cycle.
package review

import (
	"errors"
	"time"
)

// User identifies an account on the review platform.
type User struct {
	ID       int
	Username string
}

// Commit is one commit on a merge request, in branch order.
type Commit struct {
	SHA     string
	Title   string
	Message string
}

// MergeRequest is the bot's read-through projection of a merge request.
type MergeRequest struct {
	IID          int
	ProjectID    int
	Title        string
	Description  string
	SourceBranch string
	TargetBranch string
	HeadSHA      string
	State        string
	Draft        bool
	HasConflicts bool

	// DiscussionsResolved is true when the platform reports every resolvable
	// discussion on the MR as resolved.
	DiscussionsResolved bool

	ApprovalsRequired int
	ApprovedBy        []User

	Author    User
	Assignees []User
	Reviewers []User

	Commits []Commit
}

// Merged reports whether the MR reached a terminal state.
func (mr *MergeRequest) Merged() bool {
	return mr.State == "merged"
}

func (mr *MergeRequest) Closed() bool {
	return mr.State == "closed"
}

// ApprovedByUser reports whether the given username approved this MR.
func (mr *MergeRequest) ApprovedByUser(username string) bool {
	for _, u := range mr.ApprovedBy {
		if u.Username == username {
			return true
		}
	}
	return false
}

// AssignedTo reports whether the given username is among the MR assignees.
func (mr *MergeRequest) AssignedTo(username string) bool {
	for _, u := range mr.Assignees {
		if u.Username == username {
			return true
		}
	}
	return false
}

// Pipeline is one CI pipeline run, belonging to exactly one MR revision.
type Pipeline struct {
	ID        int
	SHA       string
	Ref       string
	Status    string
	CreatedAt time.Time
}

// Job is one job within a pipeline.
type Job struct {
	ID           int
	Name         string
	Stage        string
	Status       string
	AllowFailure bool
}

// Note is a comment on a merge request, possibly part of a resolvable
// discussion thread.
type Note struct {
	ID           int
	Body         string
	Author       string
	DiscussionID string
	Resolvable   bool
	Resolved     bool
	CreatedAt    time.Time
}

// Discussion is a resolvable comment thread on a merge request.
type Discussion struct {
	ID       string
	Resolved bool
	Notes    []Note
}

// FileDiff is one changed file in an MR, as reported by the platform's
// changes API.
type FileDiff struct {
	OldPath string
	NewPath string
	Diff    string
}

// CreateMROptions carries the parameters for opening a new merge request.
type CreateMROptions struct {
	Title        string
	Description  string
	SourceBranch string
	TargetBranch string
	AssigneeIDs  []int
}

// Tag is a persistent boolean flag on an MR, implemented as an award emoji
// scoped to the bot's own identity. Tags are the only durable state the bot
// keeps outside of notes and must be re-derivable from the platform after a
// restart.
type Tag string

const (
	// TagWatching marks MRs the bot has picked up for processing.
	TagWatching Tag = "watching"
	// TagPipelineRequested is set when a user asked for a pipeline run via a
	// chat command and cleared once the run was triggered.
	TagPipelineRequested Tag = "pipeline-requested"
	// TagWaiting indicates the bot is waiting for a pipeline to finish.
	TagWaiting Tag = "waiting"
	// TagFollowUp marks automatically created cherry-pick MRs. Follow-ups
	// never spawn further follow-ups.
	TagFollowUp Tag = "follow-up"
	// TagProcessing guards a handling cycle that was interrupted mid-flight.
	TagProcessing Tag = "processing"
)

// Domain errors the platform collaborator translates API failures into so
// the orchestration layer can react without knowing the wire protocol.
var (
	// ErrMergeConflict is returned by Merge when the platform rejects the
	// merge because the source branch conflicts with the target.
	ErrMergeConflict = errors.New("merge request conflicts with target branch")

	// ErrCherryPickConflict is returned by CherryPick when the commit does
	// not apply cleanly.
	ErrCherryPickConflict = errors.New("cherry-pick could not be applied")

	// ErrEmptyCherryPick is returned by CherryPick when the commit is already
	// contained in the target branch and the pick would be empty.
	ErrEmptyCherryPick = errors.New("cherry-pick is empty")
)
