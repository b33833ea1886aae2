// Package pipelinectl models CI pipeline state and decides when a pipeline
// run is warranted. The platform's rich job-status vocabulary collapses into
// four coarse states; the run decision compares the current head against the
// revision the last pipeline ran for, using the diff hash and commit digest
// recorded in the pipeline run comment to tell a content change from a pure
// rebase.
package pipelinectl

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/releng-tools/mergewarden/pkg/apis/review"
	"github.com/releng-tools/mergewarden/pkg/note"
	"github.com/releng-tools/mergewarden/pkg/util/sets"
)

// Status is the coarse pipeline state the rule pipeline reasons about.
type Status int

const (
	StatusSkipped Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSkipped:
		return "skipped"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// statusTable is the total translation from the platform's job and pipeline
// status vocabulary. Anything outside it is an invariant error, never a
// silent default.
var statusTable = map[string]Status{
	"waiting_for_resource": StatusRunning,
	"preparing":            StatusRunning,
	"pending":              StatusRunning,
	"running":              StatusRunning,
	"scheduled":            StatusRunning,
	"canceled":             StatusSkipped,
	"skipped":              StatusSkipped,
	"created":              StatusSkipped,
	"manual":               StatusSkipped,
	"success":              StatusSucceeded,
	"failed":               StatusFailed,
}

// Translate maps one platform status string to a coarse Status.
func Translate(platformStatus string) (Status, error) {
	s, ok := statusTable[platformStatus]
	if !ok {
		return StatusFailed, fmt.Errorf("unexpected pipeline status %q", platformStatus)
	}
	return s, nil
}

// Combine derives the coarse status of a pipeline from its job statuses.
// Failures of allow-failure jobs do not fail the pipeline.
func Combine(jobs []review.Job) (Status, error) {
	anyRunning, anySucceeded := false, false
	for _, job := range jobs {
		s, err := Translate(job.Status)
		if err != nil {
			return StatusFailed, fmt.Errorf("job %s: %w", job.Name, err)
		}
		switch s {
		case StatusFailed:
			if !job.AllowFailure {
				return StatusFailed, nil
			}
		case StatusRunning:
			anyRunning = true
		case StatusSucceeded:
			anySucceeded = true
		}
	}
	if anyRunning {
		return StatusRunning, nil
	}
	if anySucceeded {
		return StatusSucceeded, nil
	}
	return StatusSkipped, nil
}

// notStarted are the sub-states of a pipeline that exists but has not begun
// executing; a user-requested run restarts such a pipeline instead of
// creating a detached one.
var notStarted = sets.NewString("created", "manual", "pending", "waiting_for_resource", "scheduled")

// RunMessageID identifies pipeline run-reason comments in the note history.
const RunMessageID = "pipeline_run"

// runDetails is the payload of a run-reason comment. The recorded diff hash
// and commit digest let a later cycle distinguish a rebase from a content
// change without access to historical diffs.
type runDetails struct {
	DiffHash     string `yaml:"diff_hash"`
	CommitDigest string `yaml:"commit_digest"`
	Reason       string `yaml:"reason"`
}

// Platform is the slice of the review platform the controller needs.
type Platform interface {
	BotUser() string
	Pipelines(iid int) ([]review.Pipeline, error)
	Jobs(pipelineID int) ([]review.Job, error)
	CreatePipeline(ref string) (*review.Pipeline, error)
	RetryPipeline(pipelineID int) error
	PlayJob(jobID int) error
	DiffHash(iid int) (string, error)
	Notes(iid int) ([]review.Note, error)
	CreateNote(iid int, body string) error
	HasTag(iid int, tag review.Tag) (bool, error)
	RemoveTag(iid int, tag review.Tag) error
}

type Controller struct {
	platform Platform
	codec    note.Codec
}

func NewController(platform Platform) *Controller {
	return &Controller{
		platform: platform,
		codec:    note.Codec{KnownIDs: sets.NewString(RunMessageID)},
	}
}

// Ensure applies the run decision policy once for this handling cycle.
// It returns true when a pipeline was started or restarted, in which case
// the caller should treat the MR as not ready and wait for the pipeline
// event.
func (c *Controller) Ensure(mr *review.MergeRequest) (bool, error) {
	logger := log.WithField("mr", mr.IID)

	pipelines, err := c.platform.Pipelines(mr.IID)
	if err != nil {
		return false, err
	}

	if len(pipelines) == 0 {
		return true, c.run(mr, nil, "first check of this merge request")
	}
	latest := pipelines[0]

	requested, err := c.platform.HasTag(mr.IID, review.TagPipelineRequested)
	if err != nil {
		return false, err
	}
	if requested {
		// the request marker is cleared no matter how the start goes;
		// approvals are re-evaluated on the next event
		if err := c.platform.RemoveTag(mr.IID, review.TagPipelineRequested); err != nil {
			logger.WithError(err).Warning("could not clear pipeline request marker")
		}
		if latest.SHA == mr.HeadSHA && notStarted.Has(latest.Status) {
			return true, c.run(mr, &latest, "pipeline run requested")
		}
		return true, c.run(mr, nil, "pipeline run requested")
	}

	if latest.SHA == mr.HeadSHA {
		return false, nil
	}

	// the head moved since the last pipeline; decide whether the move was a
	// content change or a pure rebase
	currentHash, err := c.platform.DiffHash(mr.IID)
	if err != nil {
		return false, err
	}
	currentDigest := commitDigest(mr.Commits)

	recorded, err := c.recordedDetails(mr.IID, latest.SHA)
	if err != nil {
		return false, err
	}

	if recorded == nil || recorded.DiffHash != currentHash || recorded.CommitDigest != currentDigest {
		return true, c.run(mr, nil, "merge request updated")
	}

	// pure rebase: only a failed pipeline is worth re-running, and only when
	// no discussions are open since new pushes are expected otherwise
	lastStatus, err := Translate(latest.Status)
	if err != nil {
		return false, err
	}
	if lastStatus == StatusFailed && mr.DiscussionsResolved {
		return true, c.run(mr, nil, "rebase after failed pipeline")
	}
	return false, nil
}

// headPipeline finds the pipeline covering the MR's current head. An exact
// revision match wins; failing that, the newest pipeline still counts when
// its recorded diff hash and commit digest match the head, meaning the head
// moved by a pure rebase since the pipeline ran. Nil when nothing covers
// the head.
func (c *Controller) headPipeline(mr *review.MergeRequest) (*review.Pipeline, error) {
	pipelines, err := c.platform.Pipelines(mr.IID)
	if err != nil {
		return nil, err
	}

	for i := range pipelines {
		if pipelines[i].SHA == mr.HeadSHA {
			return &pipelines[i], nil
		}
	}
	if len(pipelines) == 0 {
		return nil, nil
	}

	latest := &pipelines[0]
	recorded, err := c.recordedDetails(mr.IID, latest.SHA)
	if err != nil {
		return nil, err
	}
	if recorded == nil {
		return nil, nil
	}
	currentHash, err := c.platform.DiffHash(mr.IID)
	if err != nil {
		return nil, err
	}
	if recorded.DiffHash == currentHash && recorded.CommitDigest == commitDigest(mr.Commits) {
		return latest, nil
	}
	return nil, nil
}

// HeadStatus reports the coarse status of the pipeline covering the MR's
// current head revision. exists is false when no pipeline covers the head.
func (c *Controller) HeadStatus(mr *review.MergeRequest) (status Status, exists bool, err error) {
	p, err := c.headPipeline(mr)
	if err != nil || p == nil {
		return StatusSkipped, false, err
	}

	jobs, err := c.platform.Jobs(p.ID)
	if err != nil {
		return StatusSkipped, false, err
	}
	if len(jobs) == 0 {
		s, err := Translate(p.Status)
		return s, true, err
	}
	s, err := Combine(jobs)
	return s, true, err
}

// HeadJob finds the named job in the pipeline covering the MR's head
// revision; nil when no such pipeline or job exists.
func (c *Controller) HeadJob(mr *review.MergeRequest, name string) (*review.Job, error) {
	p, err := c.headPipeline(mr)
	if err != nil || p == nil {
		return nil, err
	}

	jobs, err := c.platform.Jobs(p.ID)
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		if jobs[i].Name == name {
			return &jobs[i], nil
		}
	}
	return nil, nil
}

// Play starts a manual job.
func (c *Controller) Play(jobID int) error {
	return c.platform.PlayJob(jobID)
}

// run starts a pipeline (restarting existing when given), clears the
// waiting indicator, and records the run reason with the revision's diff
// hash and commit digest.
func (c *Controller) run(mr *review.MergeRequest, existing *review.Pipeline, reason string) error {
	logger := log.WithField("mr", mr.IID).WithField("reason", reason)

	if existing != nil {
		if err := c.platform.RetryPipeline(existing.ID); err != nil {
			return err
		}
		logger.WithField("pipeline", existing.ID).Info("restarted pipeline")
	} else {
		pipeline, err := c.platform.CreatePipeline(mr.SourceBranch)
		if err != nil {
			return err
		}
		logger.WithField("pipeline", pipeline.ID).Info("created pipeline")
	}

	if err := c.platform.RemoveTag(mr.IID, review.TagWaiting); err != nil {
		logger.WithError(err).Warning("could not clear waiting indicator")
	}

	diffHash, err := c.platform.DiffHash(mr.IID)
	if err != nil {
		return err
	}
	data, err := note.DataNode(runDetails{
		DiffHash:     diffHash,
		CommitDigest: commitDigest(mr.Commits),
		Reason:       reason,
	})
	if err != nil {
		return err
	}
	body, err := c.codec.Encode(fmt.Sprintf("Started a pipeline: %s.", reason), note.Details{
		MessageID: RunMessageID,
		Revision:  mr.HeadSHA,
		Data:      data,
	})
	if err != nil {
		return err
	}
	return c.platform.CreateNote(mr.IID, body)
}

// recordedDetails finds the run-reason payload recorded for the given
// revision, latest note winning.
func (c *Controller) recordedDetails(iid int, revision string) (*runDetails, error) {
	notes, err := c.platform.Notes(iid)
	if err != nil {
		return nil, err
	}

	var best *runDetails
	bestID := -1
	for _, n := range notes {
		if n.Author != c.platform.BotUser() {
			continue
		}
		details, ok := c.codec.Decode(n.Body)
		if !ok || details.MessageID != RunMessageID || details.Revision != revision {
			continue
		}
		if n.ID <= bestID {
			continue
		}
		rd := &runDetails{}
		if err := details.DecodeData(rd); err != nil {
			log.WithError(err).Debug("ignoring run note with undecodable payload")
			continue
		}
		best, bestID = rd, n.ID
	}
	return best, nil
}

func commitDigest(commits []review.Commit) string {
	h := sha256.New()
	for _, c := range commits {
		fmt.Fprintf(h, "%s\x00", c.Message)
	}
	return hex.EncodeToString(h.Sum(nil))
}
