// Package orchestrator performs the merge itself and the follow-up work a
// successful merge triggers: cherry-pick MRs into the remaining release
// branches of every linked ticket and reconciliation of the ticket state.
// Everything here is safe to re-run; coverage of a branch is recorded as a
// label on the ticket, so a crash between the merge and the follow-ups is
// repaired by the next handling cycle.
package orchestrator

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/releng-tools/mergewarden/pkg/apis/review"
	"github.com/releng-tools/mergewarden/pkg/config"
	"github.com/releng-tools/mergewarden/pkg/jiratracker"
	"github.com/releng-tools/mergewarden/pkg/util"
)

// Platform is the slice of the review platform the orchestrator needs.
type Platform interface {
	Merge(iid int) error
	Rebase(iid int) error
	CreateNote(iid int, body string) error
	CreateBranch(name, ref string) error
	DeleteBranch(name string) error
	CherryPick(branch, sha string) error
	BranchDiffEmpty(base, branch string) (bool, error)
	CreateMergeRequest(opts review.CreateMROptions) (*review.MergeRequest, error)
	UpdateApprovalsRequired(iid, required int) error
	HasTag(iid int, tag review.Tag) (bool, error)
	AddTag(iid int, tag review.Tag) error
	UserIDs(usernames []string) ([]int, error)
}

// Tracker is the slice of the issue tracker the orchestrator needs.
type Tracker interface {
	Issues(keys []string) ([]*jiratracker.Issue, error)
	Branches(issue *jiratracker.Issue, cache *util.CycleCache) ([]string, error)
	Transition(key, logicalStatus string) error
	AddLabel(key, label string) error
	AddComment(key, body string) error
}

type Orchestrator struct {
	platform Platform
	tracker  Tracker
	cfg      *config.Config
}

func New(platform Platform, tracker Tracker, cfg *config.Config) *Orchestrator {
	return &Orchestrator{platform: platform, tracker: tracker, cfg: cfg}
}

// Merge attempts to merge the MR. A conflict with the target branch is not
// terminal: the MR is rebased instead, which produces a new pipeline event
// and re-enters the normal evaluation cycle. Returns true only when the MR
// actually merged.
func (o *Orchestrator) Merge(mr *review.MergeRequest) (bool, error) {
	logger := log.WithField("mr", mr.IID)

	err := o.platform.Merge(mr.IID)
	if errors.Is(err, review.ErrMergeConflict) {
		logger.Info("merge conflicts with target branch, rebasing instead")
		return false, errors.Wrapf(o.platform.Rebase(mr.IID), "could not rebase merge request %d", mr.IID)
	}
	if err != nil {
		return false, errors.Wrapf(err, "could not merge merge request %d", mr.IID)
	}

	logger.WithField("target", mr.TargetBranch).Info("merge request merged")
	if err := o.platform.CreateNote(mr.IID, fmt.Sprintf("Merged into `%s`.", mr.TargetBranch)); err != nil {
		return true, err
	}
	return true, nil
}
