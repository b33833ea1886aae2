package orchestrator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	goversion "github.com/hashicorp/go-version"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/releng-tools/mergewarden/pkg/apis/review"
	"github.com/releng-tools/mergewarden/pkg/config"
	"github.com/releng-tools/mergewarden/pkg/jiratracker"
	"github.com/releng-tools/mergewarden/pkg/util"
	"github.com/releng-tools/mergewarden/pkg/util/sets"
)

var ticketKeyPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]+-\d+\b`)

// TicketKeys extracts the tracker ticket keys a merged MR references in its
// title and description, restricted to the configured tracker project,
// deduplicated in order of first appearance.
func (o *Orchestrator) TicketKeys(mr *review.MergeRequest) []string {
	prefix := o.cfg.TrackerProject + "-"
	seen := sets.NewString()
	var keys []string
	for _, match := range ticketKeyPattern.FindAllString(mr.Title+"\n"+mr.Description, -1) {
		if !strings.HasPrefix(match, prefix) || seen.Has(match) {
			continue
		}
		seen.Insert(match)
		keys = append(keys, match)
	}
	return keys
}

// FollowUps runs the cherry-pick follow-up algorithm for a merged MR. For
// every linked ticket it determines which release branches still need the
// fix, creates one follow-up MR per uncovered branch, and moves the ticket
// toward QA once every branch carries the fix. Coverage is recorded as an
// "already-in-<branch>" label on the ticket so re-running against the same
// merged MR creates nothing.
//
// Returns the number of follow-up MRs created.
func (o *Orchestrator) FollowUps(mr *review.MergeRequest, cache *util.CycleCache) (int, error) {
	logger := log.WithField("mr", mr.IID)

	isFollowUp, err := o.platform.HasTag(mr.IID, review.TagFollowUp)
	if err != nil {
		return 0, err
	}
	if isFollowUp {
		// a merged follow-up covers its own target branch and may complete
		// the ticket, but it never spawns further follow-ups
		logger.Debug("merge request is itself a follow-up")
	}

	keys := o.TicketKeys(mr)
	if len(keys) == 0 {
		logger.Debug("merged MR references no tracker tickets")
		return 0, nil
	}

	issues, err := o.tracker.Issues(keys)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, issue := range issues {
		n, err := o.followUpIssue(mr, issue, cache, !isFollowUp)
		created += n
		if err != nil {
			return created, errors.Wrapf(err, "follow-ups for %s", issue.Key)
		}
	}
	return created, nil
}

func coveredLabel(branch string) string {
	return "already-in-" + strings.ReplaceAll(branch, "/", "-")
}

func (o *Orchestrator) followUpIssue(mr *review.MergeRequest, issue *jiratracker.Issue, cache *util.CycleCache, spawn bool) (int, error) {
	branches, err := o.tracker.Branches(issue, cache)
	if err != nil {
		return 0, err
	}

	// the MR's own target branch carries the fix by definition
	if err := o.markCovered(issue, mr.TargetBranch); err != nil {
		return 0, err
	}

	created := 0
	if spawn {
		for _, branch := range orderBranches(branches) {
			if branch == mr.TargetBranch || issue.Labels.Has(coveredLabel(branch)) {
				continue
			}
			covered, madeMR, err := o.followUpBranch(mr, issue, branch)
			if err != nil {
				return created, err
			}
			if madeMR {
				created++
			}
			if covered {
				if err := o.markCovered(issue, branch); err != nil {
					return created, err
				}
			}
		}
	}

	return created, o.transitionWhenCovered(issue, branches)
}

// transitionWhenCovered moves the ticket toward QA once every target branch
// carries a covered label.
func (o *Orchestrator) transitionWhenCovered(issue *jiratracker.Issue, branches []string) error {
	for _, branch := range branches {
		if !issue.Labels.Has(coveredLabel(branch)) {
			return nil
		}
	}

	logger := log.WithField("issue", issue.Key)
	logger.Info("all target branches carry the fix, moving ticket toward QA")
	if err := o.tracker.Transition(issue.Key, config.StatusQA); err != nil {
		// transition failures are reported on the ticket, never escalated
		logger.WithError(err).Warn("could not transition ticket")
		body := fmt.Sprintf("All target branches carry the fix, but the ticket could not be moved on: %v", err)
		return o.tracker.AddComment(issue.Key, body)
	}
	return nil
}

func (o *Orchestrator) markCovered(issue *jiratracker.Issue, branch string) error {
	label := coveredLabel(branch)
	if issue.Labels.Has(label) {
		return nil
	}
	if err := o.tracker.AddLabel(issue.Key, label); err != nil {
		return err
	}
	issue.Labels.Insert(label)
	return nil
}

// followUpBranch creates one follow-up MR carrying the merged MR's commits
// onto the given branch. Reports whether the branch now counts as covered
// and whether an MR was actually created.
func (o *Orchestrator) followUpBranch(mr *review.MergeRequest, issue *jiratracker.Issue, branch string) (covered, madeMR bool, err error) {
	logger := log.WithField("mr", mr.IID).WithField("issue", issue.Key).WithField("branch", branch)

	name := fmt.Sprintf("followup/%d/%s", mr.IID, branch)
	if err := o.platform.CreateBranch(name, branch); err != nil {
		return false, false, errors.Wrapf(err, "could not create branch %s from %s", name, branch)
	}

	var remaining []string
	for i, commit := range mr.Commits {
		err := o.platform.CherryPick(name, commit.SHA)
		if errors.Is(err, review.ErrEmptyCherryPick) {
			logger.WithField("commit", commit.SHA).Debug("commit already present on branch")
			continue
		}
		if errors.Is(err, review.ErrCherryPickConflict) {
			for _, rest := range mr.Commits[i:] {
				remaining = append(remaining, rest.SHA)
			}
			logger.WithField("commit", commit.SHA).Info("cherry-pick conflict, manual resolution required")
			break
		}
		if err != nil {
			return false, false, errors.Wrapf(err, "could not cherry-pick %s onto %s", commit.SHA, name)
		}
	}

	if len(remaining) == 0 {
		empty, err := o.platform.BranchDiffEmpty(branch, name)
		if err != nil {
			return false, false, err
		}
		if empty {
			// fix is already on the branch, nothing to review
			logger.Info("branch already carries the change, no follow-up needed")
			return true, false, o.platform.DeleteBranch(name)
		}
	}

	assignees, err := o.followUpAssignees(mr)
	if err != nil {
		return false, false, err
	}

	followUp, err := o.platform.CreateMergeRequest(review.CreateMROptions{
		Title:        fmt.Sprintf("%s [%s]", mr.Title, branch),
		Description:  fmt.Sprintf("Automatic cherry-pick of !%d into `%s` for %s.", mr.IID, branch, issue.Key),
		SourceBranch: name,
		TargetBranch: branch,
		AssigneeIDs:  assignees,
	})
	if err != nil {
		return false, false, err
	}
	if err := o.platform.AddTag(followUp.IID, review.TagFollowUp); err != nil {
		return false, true, err
	}
	// the change was already reviewed on the original MR, the follow-up only
	// needs a green pipeline
	if err := o.platform.UpdateApprovalsRequired(followUp.IID, 0); err != nil {
		return false, true, err
	}
	logger.WithField("followup", followUp.IID).Info("follow-up merge request created")

	if len(remaining) > 0 {
		body := fmt.Sprintf("Manual resolution required: the following commits of !%d could not be cherry-picked onto `%s`: %s.",
			mr.IID, branch, strings.Join(remaining, ", "))
		if err := o.platform.CreateNote(followUp.IID, body); err != nil {
			return false, true, err
		}
		return false, true, nil
	}
	return true, true, nil
}

// followUpAssignees puts the bot and the original author on the new MR so
// the bot gatekeeps it and the author sees it.
func (o *Orchestrator) followUpAssignees(mr *review.MergeRequest) ([]int, error) {
	ids, err := o.platform.UserIDs([]string{o.cfg.BotUser})
	if err != nil {
		return nil, err
	}
	if mr.Author.ID != 0 {
		ids = append(ids, mr.Author.ID)
	}
	return ids, nil
}

var branchVersionPattern = regexp.MustCompile(`\d+(?:\.\d+)+`)

// orderBranches sorts release branches oldest version first so the fix
// propagates forward through releases. Branches without a parseable version
// sort last, in their original order.
func orderBranches(branches []string) []string {
	ordered := make([]string, len(branches))
	copy(ordered, branches)

	versionOf := func(branch string) *goversion.Version {
		raw := branchVersionPattern.FindString(branch)
		if raw == "" {
			return nil
		}
		v, err := goversion.NewVersion(raw)
		if err != nil {
			return nil
		}
		return v
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		vi, vj := versionOf(ordered[i]), versionOf(ordered[j])
		switch {
		case vi == nil:
			return false
		case vj == nil:
			return true
		default:
			return vi.LessThan(vj)
		}
	})
	return ordered
}
