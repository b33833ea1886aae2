// Package gitlab is the review platform collaborator. It wraps the GitLab
// SDK behind a struct of function fields so the orchestration layer can be
// tested without a network; retries and backoff happen in the SDK's HTTP
// layer, never in the engine.
package gitlab

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/AlekSi/pointer"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	gl "github.com/xanzy/go-gitlab"

	"github.com/releng-tools/mergewarden/pkg/apis/review"
)

type Client struct {
	project string
	botUser string
	dryRun  bool

	getMergeRequest   func(iid int) (*gl.MergeRequest, error)
	listOpenAssigned  func() ([]*gl.MergeRequest, error)
	getApprovals      func(iid int) (*gl.MergeRequestApprovals, error)
	getCommits        func(iid int) ([]*gl.Commit, error)
	getChanges        func(iid int) (*gl.MergeRequest, error)
	listPipelines     func(iid int) ([]*gl.PipelineInfo, error)
	listJobs          func(pipelineID int) ([]*gl.Job, error)
	createPipeline    func(ref string) (*gl.Pipeline, error)
	retryPipeline     func(pipelineID int) (*gl.Pipeline, error)
	playJob           func(jobID int) error
	acceptMR          func(iid int) error
	rebaseMR          func(iid int) error
	createBranch      func(name, ref string) error
	deleteBranch      func(name string) error
	cherryPick        func(branch, sha string) error
	createMR          func(opts review.CreateMROptions) (*gl.MergeRequest, error)
	updateMR          func(iid int, opts *gl.UpdateMergeRequestOptions) error
	changeApprovals   func(iid, required int) error
	listNotes         func(iid, page int) ([]*gl.Note, bool, error)
	createNote        func(iid int, body string) error
	createDiscussion  func(iid int, body string) (string, error)
	resolveDiscussion func(iid int, discussionID string) error
	listDiscussions   func(iid int) ([]*gl.Discussion, error)
	listAwards        func(iid int) ([]*gl.AwardEmoji, error)
	createAward       func(iid int, name string) error
	deleteAward       func(iid, awardID int) error
	compareBranches   func(from, to string) (*gl.Compare, error)
	commitRefs        func(project, sha string) ([]*gl.CommitRef, error)
	lookupUser        func(username string) (int, error)
}

// New builds a Client bound to one project on one GitLab instance.
func New(baseURL, token, project, botUser string, dryRun bool) (*Client, error) {
	sdk, err := gl.NewClient(token, gl.WithBaseURL(baseURL))
	if err != nil {
		return nil, errors.Wrap(err, "could not create gitlab client")
	}
	return newFromSDK(sdk, project, botUser, dryRun), nil
}

func newFromSDK(sdk *gl.Client, project, botUser string, dryRun bool) *Client {
	c := &Client{project: project, botUser: botUser, dryRun: dryRun}

	c.getMergeRequest = func(iid int) (*gl.MergeRequest, error) {
		mr, _, err := sdk.MergeRequests.GetMergeRequest(project, iid, &gl.GetMergeRequestsOptions{})
		return mr, err
	}

	c.listOpenAssigned = func() ([]*gl.MergeRequest, error) {
		mrs, _, err := sdk.MergeRequests.ListProjectMergeRequests(project, &gl.ListProjectMergeRequestsOptions{
			State: pointer.ToString("opened"),
			Scope: pointer.ToString("assigned_to_me"),
			ListOptions: gl.ListOptions{
				PerPage: 100,
			},
		})
		return mrs, err
	}

	c.getApprovals = func(iid int) (*gl.MergeRequestApprovals, error) {
		approvals, _, err := sdk.MergeRequestApprovals.GetConfiguration(project, iid)
		return approvals, err
	}

	c.getCommits = func(iid int) ([]*gl.Commit, error) {
		commits, _, err := sdk.MergeRequests.GetMergeRequestCommits(project, iid, &gl.GetMergeRequestCommitsOptions{PerPage: 100})
		return commits, err
	}

	c.getChanges = func(iid int) (*gl.MergeRequest, error) {
		mr, _, err := sdk.MergeRequests.GetMergeRequestChanges(project, iid, &gl.GetMergeRequestChangesOptions{})
		return mr, err
	}

	c.listPipelines = func(iid int) ([]*gl.PipelineInfo, error) {
		pipelines, _, err := sdk.MergeRequests.ListMergeRequestPipelines(project, iid)
		return pipelines, err
	}

	c.listJobs = func(pipelineID int) ([]*gl.Job, error) {
		jobs, _, err := sdk.Jobs.ListPipelineJobs(project, pipelineID, &gl.ListJobsOptions{ListOptions: gl.ListOptions{PerPage: 100}})
		return jobs, err
	}

	c.createPipeline = func(ref string) (*gl.Pipeline, error) {
		pipeline, _, err := sdk.Pipelines.CreatePipeline(project, &gl.CreatePipelineOptions{Ref: pointer.ToString(ref)})
		return pipeline, err
	}

	c.retryPipeline = func(pipelineID int) (*gl.Pipeline, error) {
		pipeline, _, err := sdk.Pipelines.RetryPipelineBuild(project, pipelineID)
		return pipeline, err
	}

	c.playJob = func(jobID int) error {
		_, _, err := sdk.Jobs.PlayJob(project, jobID, nil)
		return err
	}

	c.acceptMR = func(iid int) error {
		_, _, err := sdk.MergeRequests.AcceptMergeRequest(project, iid, &gl.AcceptMergeRequestOptions{})
		return err
	}

	c.rebaseMR = func(iid int) error {
		_, err := sdk.MergeRequests.RebaseMergeRequest(project, iid)
		return err
	}

	c.createBranch = func(name, ref string) error {
		_, _, err := sdk.Branches.CreateBranch(project, &gl.CreateBranchOptions{
			Branch: pointer.ToString(name),
			Ref:    pointer.ToString(ref),
		})
		return err
	}

	c.deleteBranch = func(name string) error {
		_, err := sdk.Branches.DeleteBranch(project, name)
		return err
	}

	c.cherryPick = func(branch, sha string) error {
		_, _, err := sdk.Commits.CherryPickCommit(project, sha, &gl.CherryPickCommitOptions{Branch: pointer.ToString(branch)})
		return err
	}

	c.createMR = func(opts review.CreateMROptions) (*gl.MergeRequest, error) {
		mr, _, err := sdk.MergeRequests.CreateMergeRequest(project, &gl.CreateMergeRequestOptions{
			Title:        pointer.ToString(opts.Title),
			Description:  pointer.ToString(opts.Description),
			SourceBranch: pointer.ToString(opts.SourceBranch),
			TargetBranch: pointer.ToString(opts.TargetBranch),
			AssigneeIDs:  &opts.AssigneeIDs,
		})
		return mr, err
	}

	c.updateMR = func(iid int, opts *gl.UpdateMergeRequestOptions) error {
		_, _, err := sdk.MergeRequests.UpdateMergeRequest(project, iid, opts)
		return err
	}

	c.changeApprovals = func(iid, required int) error {
		_, _, err := sdk.MergeRequestApprovals.ChangeApprovalConfiguration(project, iid, &gl.ChangeMergeRequestApprovalConfigurationOptions{
			ApprovalsRequired: pointer.ToInt(required),
		})
		return err
	}

	c.listNotes = func(iid, page int) ([]*gl.Note, bool, error) {
		notes, resp, err := sdk.Notes.ListMergeRequestNotes(project, iid, &gl.ListMergeRequestNotesOptions{
			OrderBy:     pointer.ToString("created_at"),
			Sort:        pointer.ToString("asc"),
			ListOptions: gl.ListOptions{Page: page, PerPage: 100},
		})
		if err != nil {
			return nil, false, err
		}
		return notes, resp.NextPage != 0, nil
	}

	c.createNote = func(iid int, body string) error {
		_, _, err := sdk.Notes.CreateMergeRequestNote(project, iid, &gl.CreateMergeRequestNoteOptions{Body: pointer.ToString(body)})
		return err
	}

	c.createDiscussion = func(iid int, body string) (string, error) {
		discussion, _, err := sdk.Discussions.CreateMergeRequestDiscussion(project, iid, &gl.CreateMergeRequestDiscussionOptions{Body: pointer.ToString(body)})
		if err != nil {
			return "", err
		}
		return discussion.ID, nil
	}

	c.resolveDiscussion = func(iid int, discussionID string) error {
		_, _, err := sdk.Discussions.ResolveMergeRequestDiscussion(project, iid, discussionID, &gl.ResolveMergeRequestDiscussionOptions{
			Resolved: pointer.ToBool(true),
		})
		return err
	}

	c.listDiscussions = func(iid int) ([]*gl.Discussion, error) {
		discussions, _, err := sdk.Discussions.ListMergeRequestDiscussions(project, iid, &gl.ListMergeRequestDiscussionsOptions{PerPage: 100})
		return discussions, err
	}

	c.listAwards = func(iid int) ([]*gl.AwardEmoji, error) {
		awards, _, err := sdk.AwardEmoji.ListMergeRequestAwardEmoji(project, iid, &gl.ListAwardEmojiOptions{PerPage: 100})
		return awards, err
	}

	c.createAward = func(iid int, name string) error {
		_, _, err := sdk.AwardEmoji.CreateMergeRequestAwardEmoji(project, iid, &gl.CreateAwardEmojiOptions{Name: name})
		return err
	}

	c.deleteAward = func(iid, awardID int) error {
		_, err := sdk.AwardEmoji.DeleteMergeRequestAwardEmoji(project, iid, awardID)
		return err
	}

	c.compareBranches = func(from, to string) (*gl.Compare, error) {
		compare, _, err := sdk.Repositories.Compare(project, &gl.CompareOptions{
			From: pointer.ToString(from),
			To:   pointer.ToString(to),
		})
		return compare, err
	}

	c.commitRefs = func(proj, sha string) ([]*gl.CommitRef, error) {
		refs, _, err := sdk.Commits.GetCommitRefs(proj, sha, &gl.GetCommitRefsOptions{Type: pointer.ToString("branch")})
		return refs, err
	}

	c.lookupUser = func(username string) (int, error) {
		users, _, err := sdk.Users.ListUsers(&gl.ListUsersOptions{Username: pointer.ToString(username)})
		if err != nil {
			return 0, err
		}
		if len(users) == 0 {
			return 0, fmt.Errorf("no such user %q", username)
		}
		return users[0].ID, nil
	}

	return c
}

// BotUser returns the username the bot acts as.
func (c *Client) BotUser() string {
	return c.botUser
}

// OpenMergeRequests lists open MRs assigned to the bot, the recovery
// enumeration the dispatcher runs at startup and on each poll.
func (c *Client) OpenMergeRequests() ([]int, error) {
	mrs, err := c.listOpenAssigned()
	if err != nil {
		return nil, errors.Wrap(err, "could not list open merge requests")
	}

	iids := make([]int, 0, len(mrs))
	for _, mr := range mrs {
		iids = append(iids, mr.IID)
	}
	sort.Ints(iids)
	return iids, nil
}

// MergeRequest fetches the full projection of one MR, including approvals
// and the ordered commit list.
func (c *Client) MergeRequest(iid int) (*review.MergeRequest, error) {
	raw, err := c.getMergeRequest(iid)
	if err != nil {
		return nil, errors.Wrapf(err, "could not fetch merge request %d", iid)
	}

	mr := &review.MergeRequest{
		IID:          raw.IID,
		ProjectID:    raw.ProjectID,
		Title:        raw.Title,
		Description:  raw.Description,
		SourceBranch: raw.SourceBranch,
		TargetBranch: raw.TargetBranch,
		HeadSHA:      raw.SHA,
		State:        raw.State,
		Draft:        raw.WorkInProgress,
		HasConflicts: raw.HasConflicts,

		DiscussionsResolved: raw.BlockingDiscussionsResolved,
	}

	if raw.Author != nil {
		mr.Author = review.User{ID: raw.Author.ID, Username: raw.Author.Username}
	}
	for _, a := range raw.Assignees {
		mr.Assignees = append(mr.Assignees, review.User{ID: a.ID, Username: a.Username})
	}
	for _, r := range raw.Reviewers {
		mr.Reviewers = append(mr.Reviewers, review.User{ID: r.ID, Username: r.Username})
	}

	approvals, err := c.getApprovals(iid)
	if err != nil {
		return nil, errors.Wrapf(err, "could not fetch approvals for merge request %d", iid)
	}
	mr.ApprovalsRequired = approvals.ApprovalsRequired
	for _, by := range approvals.ApprovedBy {
		if by.User != nil {
			mr.ApprovedBy = append(mr.ApprovedBy, review.User{ID: by.User.ID, Username: by.User.Username})
		}
	}

	commits, err := c.getCommits(iid)
	if err != nil {
		return nil, errors.Wrapf(err, "could not fetch commits for merge request %d", iid)
	}
	// the API returns newest first, the engine wants branch order
	for i := len(commits) - 1; i >= 0; i-- {
		mr.Commits = append(mr.Commits, review.Commit{
			SHA:     commits[i].ID,
			Title:   commits[i].Title,
			Message: commits[i].Message,
		})
	}

	return mr, nil
}

// Changes returns the MR's file diffs.
func (c *Client) Changes(iid int) ([]review.FileDiff, error) {
	raw, err := c.getChanges(iid)
	if err != nil {
		return nil, errors.Wrapf(err, "could not fetch changes for merge request %d", iid)
	}

	diffs := make([]review.FileDiff, 0, len(raw.Changes))
	for _, ch := range raw.Changes {
		diffs = append(diffs, review.FileDiff{OldPath: ch.OldPath, NewPath: ch.NewPath, Diff: ch.Diff})
	}
	return diffs, nil
}

// DiffHash digests the MR's current diff content. Two revisions with the
// same hash differ only in history (a rebase), not in content.
func (c *Client) DiffHash(iid int) (string, error) {
	diffs, err := c.Changes(iid)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, d := range diffs {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00", d.OldPath, d.NewPath, d.Diff)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Pipelines lists the MR's pipelines, newest first.
func (c *Client) Pipelines(iid int) ([]review.Pipeline, error) {
	raw, err := c.listPipelines(iid)
	if err != nil {
		return nil, errors.Wrapf(err, "could not list pipelines for merge request %d", iid)
	}

	pipelines := make([]review.Pipeline, 0, len(raw))
	for _, p := range raw {
		pipeline := review.Pipeline{ID: p.ID, SHA: p.SHA, Ref: p.Ref, Status: p.Status}
		if p.CreatedAt != nil {
			pipeline.CreatedAt = *p.CreatedAt
		}
		pipelines = append(pipelines, pipeline)
	}
	sort.Slice(pipelines, func(i, j int) bool { return pipelines[i].ID > pipelines[j].ID })
	return pipelines, nil
}

// Jobs lists the jobs of one pipeline.
func (c *Client) Jobs(pipelineID int) ([]review.Job, error) {
	raw, err := c.listJobs(pipelineID)
	if err != nil {
		return nil, errors.Wrapf(err, "could not list jobs for pipeline %d", pipelineID)
	}

	jobs := make([]review.Job, 0, len(raw))
	for _, j := range raw {
		jobs = append(jobs, review.Job{
			ID:           j.ID,
			Name:         j.Name,
			Stage:        j.Stage,
			Status:       j.Status,
			AllowFailure: j.AllowFailure,
		})
	}
	return jobs, nil
}

// CreatePipeline starts a new pipeline for the given ref.
func (c *Client) CreatePipeline(ref string) (*review.Pipeline, error) {
	if c.dryRun {
		log.WithField("ref", ref).Info("dry run: would create pipeline")
		return &review.Pipeline{Ref: ref}, nil
	}

	p, err := c.createPipeline(ref)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create pipeline for %s", ref)
	}
	return &review.Pipeline{ID: p.ID, SHA: p.SHA, Ref: p.Ref, Status: p.Status}, nil
}

// RetryPipeline restarts an existing pipeline.
func (c *Client) RetryPipeline(pipelineID int) error {
	if c.dryRun {
		log.WithField("pipeline", pipelineID).Info("dry run: would retry pipeline")
		return nil
	}

	_, err := c.retryPipeline(pipelineID)
	return errors.Wrapf(err, "could not retry pipeline %d", pipelineID)
}

// PlayJob starts a manual job.
func (c *Client) PlayJob(jobID int) error {
	if c.dryRun {
		log.WithField("job", jobID).Info("dry run: would play job")
		return nil
	}
	return errors.Wrapf(c.playJob(jobID), "could not play job %d", jobID)
}

// Merge accepts the MR. A platform-level conflict is translated to
// review.ErrMergeConflict so the orchestrator can rebase instead.
func (c *Client) Merge(iid int) error {
	if c.dryRun {
		log.WithField("mr", iid).Info("dry run: would merge")
		return nil
	}

	err := c.acceptMR(iid)
	if err == nil {
		return nil
	}
	if isMergeConflict(err) {
		return review.ErrMergeConflict
	}
	return errors.Wrapf(err, "could not merge merge request %d", iid)
}

// Rebase rebases the MR onto its target branch.
func (c *Client) Rebase(iid int) error {
	if c.dryRun {
		log.WithField("mr", iid).Info("dry run: would rebase")
		return nil
	}
	return errors.Wrapf(c.rebaseMR(iid), "could not rebase merge request %d", iid)
}

// CreateBranch creates a branch from ref.
func (c *Client) CreateBranch(name, ref string) error {
	if c.dryRun {
		log.WithField("branch", name).Info("dry run: would create branch")
		return nil
	}
	return errors.Wrapf(c.createBranch(name, ref), "could not create branch %s from %s", name, ref)
}

// DeleteBranch removes a branch.
func (c *Client) DeleteBranch(name string) error {
	if c.dryRun {
		log.WithField("branch", name).Info("dry run: would delete branch")
		return nil
	}
	return errors.Wrapf(c.deleteBranch(name), "could not delete branch %s", name)
}

// CherryPick applies a commit onto a branch. Conflicts and empty picks are
// translated to the corresponding review errors.
func (c *Client) CherryPick(branch, sha string) error {
	if c.dryRun {
		log.WithField("branch", branch).WithField("sha", sha).Info("dry run: would cherry-pick")
		return nil
	}

	err := c.cherryPick(branch, sha)
	if err == nil {
		return nil
	}
	if isEmptyCherryPick(err) {
		return review.ErrEmptyCherryPick
	}
	if isCherryPickConflict(err) {
		return review.ErrCherryPickConflict
	}
	return errors.Wrapf(err, "could not cherry-pick %s onto %s", sha, branch)
}

// CreateMergeRequest opens a new MR and returns its projection.
func (c *Client) CreateMergeRequest(opts review.CreateMROptions) (*review.MergeRequest, error) {
	if c.dryRun {
		log.WithField("source", opts.SourceBranch).WithField("target", opts.TargetBranch).Info("dry run: would create merge request")
		return &review.MergeRequest{Title: opts.Title, SourceBranch: opts.SourceBranch, TargetBranch: opts.TargetBranch}, nil
	}

	mr, err := c.createMR(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create merge request %s -> %s", opts.SourceBranch, opts.TargetBranch)
	}
	return &review.MergeRequest{
		IID:          mr.IID,
		Title:        mr.Title,
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
	}, nil
}

// UpdateAssignees replaces the MR's assignee set.
func (c *Client) UpdateAssignees(iid int, userIDs []int) error {
	if c.dryRun {
		log.WithField("mr", iid).Info("dry run: would update assignees")
		return nil
	}
	return errors.Wrapf(c.updateMR(iid, &gl.UpdateMergeRequestOptions{AssigneeIDs: &userIDs}), "could not update assignees on merge request %d", iid)
}

// SetDraft toggles the MR's draft flag by rewriting the title prefix.
func (c *Client) SetDraft(iid int, title string, draft bool) error {
	newTitle := strings.TrimSpace(strings.TrimPrefix(title, "Draft:"))
	if draft {
		newTitle = "Draft: " + newTitle
	}
	if newTitle == title {
		return nil
	}

	if c.dryRun {
		log.WithField("mr", iid).WithField("draft", draft).Info("dry run: would toggle draft")
		return nil
	}
	return errors.Wrapf(c.updateMR(iid, &gl.UpdateMergeRequestOptions{Title: pointer.ToString(newTitle)}), "could not toggle draft on merge request %d", iid)
}

// UpdateApprovalsRequired sets the number of required approvals.
func (c *Client) UpdateApprovalsRequired(iid, required int) error {
	if c.dryRun {
		log.WithField("mr", iid).WithField("required", required).Info("dry run: would update required approvals")
		return nil
	}
	return errors.Wrapf(c.changeApprovals(iid, required), "could not update required approvals on merge request %d", iid)
}

// Notes lists all notes of the MR in creation order.
func (c *Client) Notes(iid int) ([]review.Note, error) {
	var all []review.Note
	for page := 1; ; page++ {
		raw, more, err := c.listNotes(iid, page)
		if err != nil {
			return nil, errors.Wrapf(err, "could not list notes for merge request %d", iid)
		}
		for _, n := range raw {
			nt := review.Note{
				ID:         n.ID,
				Body:       n.Body,
				Author:     n.Author.Username,
				Resolvable: n.Resolvable,
				Resolved:   n.Resolved,
			}
			if n.CreatedAt != nil {
				nt.CreatedAt = *n.CreatedAt
			}
			all = append(all, nt)
		}
		if !more {
			break
		}
	}
	return all, nil
}

// CreateNote posts a plain comment on the MR.
func (c *Client) CreateNote(iid int, body string) error {
	if c.dryRun {
		log.WithField("mr", iid).Infof("dry run: would comment:\n%s", body)
		return nil
	}
	return errors.Wrapf(c.createNote(iid, body), "could not create note on merge request %d", iid)
}

// CreateDiscussion opens a resolvable discussion and returns its id.
func (c *Client) CreateDiscussion(iid int, body string) (string, error) {
	if c.dryRun {
		log.WithField("mr", iid).Infof("dry run: would open discussion:\n%s", body)
		return "", nil
	}

	id, err := c.createDiscussion(iid, body)
	return id, errors.Wrapf(err, "could not create discussion on merge request %d", iid)
}

// ResolveDiscussion marks a discussion as resolved.
func (c *Client) ResolveDiscussion(iid int, discussionID string) error {
	if discussionID == "" {
		return nil
	}
	if c.dryRun {
		log.WithField("mr", iid).WithField("discussion", discussionID).Info("dry run: would resolve discussion")
		return nil
	}
	return errors.Wrapf(c.resolveDiscussion(iid, discussionID), "could not resolve discussion %s on merge request %d", discussionID, iid)
}

// Discussions lists the MR's discussion threads.
func (c *Client) Discussions(iid int) ([]review.Discussion, error) {
	raw, err := c.listDiscussions(iid)
	if err != nil {
		return nil, errors.Wrapf(err, "could not list discussions for merge request %d", iid)
	}

	discussions := make([]review.Discussion, 0, len(raw))
	for _, d := range raw {
		discussion := review.Discussion{ID: d.ID}
		resolved := len(d.Notes) > 0
		for _, n := range d.Notes {
			nt := review.Note{
				ID:           n.ID,
				Body:         n.Body,
				Author:       n.Author.Username,
				DiscussionID: d.ID,
				Resolvable:   n.Resolvable,
				Resolved:     n.Resolved,
			}
			if n.CreatedAt != nil {
				nt.CreatedAt = *n.CreatedAt
			}
			discussion.Notes = append(discussion.Notes, nt)
			if n.Resolvable && !n.Resolved {
				resolved = false
			}
		}
		discussion.Resolved = resolved
		discussions = append(discussions, discussion)
	}
	return discussions, nil
}

// BranchDiffEmpty reports whether branch carries no content on top of base.
func (c *Client) BranchDiffEmpty(base, branch string) (bool, error) {
	compare, err := c.compareBranches(base, branch)
	if err != nil {
		return false, errors.Wrapf(err, "could not compare %s with %s", base, branch)
	}
	return len(compare.Diffs) == 0, nil
}

// CommitBranches returns the branches of a project that contain the commit.
// Used by the submodule consistency rule.
func (c *Client) CommitBranches(project, sha string) ([]string, error) {
	refs, err := c.commitRefs(project, sha)
	if err != nil {
		return nil, errors.Wrapf(err, "could not resolve refs for commit %s in %s", sha, project)
	}

	branches := make([]string, 0, len(refs))
	for _, ref := range refs {
		branches = append(branches, ref.Name)
	}
	return branches, nil
}

// UserIDs resolves platform usernames to user ids, skipping (with a log
// line) names that cannot be resolved.
func (c *Client) UserIDs(usernames []string) ([]int, error) {
	ids := make([]int, 0, len(usernames))
	for _, username := range usernames {
		id, err := c.lookupUser(username)
		if err != nil {
			log.WithError(err).WithField("user", username).Warning("could not resolve username")
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 && len(usernames) > 0 {
		return nil, errors.Errorf("could not resolve any of %v", usernames)
	}
	return ids, nil
}

func isMergeConflict(err error) bool {
	if resp, ok := err.(*gl.ErrorResponse); ok && resp.Response != nil {
		code := resp.Response.StatusCode
		return code == http.StatusMethodNotAllowed || code == http.StatusNotAcceptable
	}
	return strings.Contains(err.Error(), "Branch cannot be merged")
}

func isCherryPickConflict(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "cherry-pick") || strings.Contains(msg, "could not be applied")
}

func isEmptyCherryPick(err error) bool {
	return strings.Contains(err.Error(), "is empty")
}
