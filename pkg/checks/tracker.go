// Package checks makes "comment when a new problem appears" idempotent
// across repeated rule evaluations and process restarts. There is no local
// store: the full check state is reconstructed on every call from the merge
// request's own note history via the details blocks the note codec embeds.
package checks

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/releng-tools/mergewarden/pkg/apis/review"
	"github.com/releng-tools/mergewarden/pkg/note"
	"github.com/releng-tools/mergewarden/pkg/util/sets"
)

// CheckError is one concrete policy violation found in a revision. Errors
// are compared structurally, never by identity.
type CheckError struct {
	Type   string            `yaml:"type"`
	Params map[string]string `yaml:"params,omitempty"`
}

func (e CheckError) Equal(other CheckError) bool {
	if e.Type != other.Type || len(e.Params) != len(other.Params) {
		return false
	}
	for k, v := range e.Params {
		if other.Params[k] != v {
			return false
		}
	}
	return true
}

func (e CheckError) String() string {
	if len(e.Params) == 0 {
		return e.Type
	}
	parts := make([]string, 0, len(e.Params))
	for k, v := range e.Params {
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	return fmt.Sprintf("%s(%s)", e.Type, strings.Join(parts, ", "))
}

// Result partitions the errors of the current revision against the last
// checked revision.
type Result struct {
	New        []CheckError `yaml:"new,omitempty"`
	Persisting []CheckError `yaml:"persisting,omitempty"`
	Resolved   []CheckError `yaml:"resolved,omitempty"`
}

// Open returns the errors that still block the MR.
func (r Result) Open() []CheckError {
	open := make([]CheckError, 0, len(r.New)+len(r.Persisting))
	open = append(open, r.New...)
	open = append(open, r.Persisting...)
	return open
}

func (r Result) Empty() bool {
	return len(r.New) == 0 && len(r.Persisting) == 0 && len(r.Resolved) == 0
}

// Platform is the slice of the review platform the tracker needs.
type Platform interface {
	BotUser() string
	Notes(iid int) ([]review.Note, error)
	Discussions(iid int) ([]review.Discussion, error)
	CreateNote(iid int, body string) error
	CreateDiscussion(iid int, body string) (string, error)
	ResolveDiscussion(iid int, discussionID string) error
}

// Renderer turns a check error into the human-readable part of a comment.
type Renderer func(CheckError) string

type Tracker struct {
	platform Platform
	codec    note.Codec
}

// errorID is the message id suffix for per-error discussion notes, as
// opposed to the per-revision summary note.
func errorID(messageID string) string {
	return messageID + ".error"
}

// NewTracker builds a tracker recognizing the given rule message ids.
func NewTracker(platform Platform, messageIDs []string) *Tracker {
	known := sets.NewString()
	for _, id := range messageIDs {
		known.Insert(id, errorID(id))
	}
	return &Tracker{
		platform: platform,
		codec:    note.Codec{KnownIDs: known},
	}
}

// Evaluate reconciles the freshly computed error set for messageID against
// the MR's note history. If the current head revision was already checked
// the recorded partition is returned unchanged and nothing is posted.
// Otherwise new errors get a discussion each, resolved errors get a
// resolution comment and their discussions are auto-resolved, and a summary
// note records the partition for this revision.
func (t *Tracker) Evaluate(mr *review.MergeRequest, messageID string, found []CheckError, render Renderer) (Result, error) {
	notes, err := t.platform.Notes(mr.IID)
	if err != nil {
		return Result{}, err
	}

	var current, prior *summaryNote
	for i := range notes {
		n := notes[i]
		if n.Author != t.platform.BotUser() {
			continue
		}
		details, ok := t.codec.Decode(n.Body)
		if !ok || details.MessageID != messageID {
			continue
		}

		sn := &summaryNote{noteID: n.ID, revision: details.Revision}
		if err := details.DecodeData(&sn.result); err != nil {
			log.WithError(err).WithField("mr", mr.IID).Warning("ignoring check note with undecodable payload")
			continue
		}

		// the numerically last note for a revision is authoritative
		if details.Revision == mr.HeadSHA {
			if current == nil || sn.noteID > current.noteID {
				current = sn
			}
		} else if prior == nil || sn.noteID > prior.noteID {
			prior = sn
		}
	}

	if current != nil {
		return current.result, nil
	}

	var priorOpen []CheckError
	if prior != nil {
		priorOpen = prior.result.Open()
	}

	result := diff(found, priorOpen)
	if err := t.report(mr, messageID, result, render); err != nil {
		return Result{}, err
	}
	return result, nil
}

type summaryNote struct {
	noteID   int
	revision string
	result   Result
}

// diff classifies found against the errors open at the last checked
// revision. With no prior revision everything found is new.
func diff(found, priorOpen []CheckError) Result {
	result := Result{}

	for _, e := range found {
		if containsError(priorOpen, e) {
			result.Persisting = append(result.Persisting, e)
		} else {
			result.New = append(result.New, e)
		}
	}
	for _, e := range priorOpen {
		if !containsError(found, e) {
			result.Resolved = append(result.Resolved, e)
		}
	}
	return result
}

func containsError(list []CheckError, e CheckError) bool {
	for _, candidate := range list {
		if candidate.Equal(e) {
			return true
		}
	}
	return false
}

func (t *Tracker) report(mr *review.MergeRequest, messageID string, result Result, render Renderer) error {
	logger := log.WithField("mr", mr.IID).WithField("check", messageID)

	for _, e := range result.New {
		data, err := note.DataNode(e)
		if err != nil {
			return err
		}
		body, err := t.codec.Encode(render(e), note.Details{
			MessageID: errorID(messageID),
			Revision:  mr.HeadSHA,
			Data:      data,
		})
		if err != nil {
			return err
		}
		if _, err := t.platform.CreateDiscussion(mr.IID, body); err != nil {
			return err
		}
		logger.WithField("error", e.Type).Info("reported new problem")
	}

	if len(result.Resolved) > 0 {
		if err := t.resolveDiscussions(mr, messageID, result.Resolved); err != nil {
			return err
		}
	}

	// nothing changed against the prior revision, no note needed: the same
	// partition will be recomputed on the next call
	if len(result.New) == 0 && len(result.Resolved) == 0 {
		return nil
	}

	body, err := t.codec.Encode(summaryBody(result), note.Details{
		MessageID: messageID,
		Revision:  mr.HeadSHA,
		Data:      mustDataNode(result),
	})
	if err != nil {
		return err
	}
	return t.platform.CreateNote(mr.IID, body)
}

// resolveDiscussions posts a resolution comment and closes the discussions
// that reported the now-resolved errors.
func (t *Tracker) resolveDiscussions(mr *review.MergeRequest, messageID string, resolved []CheckError) error {
	discussions, err := t.platform.Discussions(mr.IID)
	if err != nil {
		return err
	}

	for _, e := range resolved {
		body := fmt.Sprintf("Problem resolved: %s", e.String())
		if err := t.platform.CreateNote(mr.IID, body); err != nil {
			return err
		}

		for _, d := range discussions {
			if d.Resolved || len(d.Notes) == 0 {
				continue
			}
			details, ok := t.codec.Decode(d.Notes[0].Body)
			if !ok || details.MessageID != errorID(messageID) {
				continue
			}
			var reported CheckError
			if err := details.DecodeData(&reported); err != nil {
				continue
			}
			if reported.Equal(e) {
				if err := t.platform.ResolveDiscussion(mr.IID, d.ID); err != nil {
					return err
				}
				break
			}
		}
	}
	return nil
}

func summaryBody(result Result) string {
	var parts []string
	if n := len(result.New); n > 0 {
		parts = append(parts, fmt.Sprintf("%d new problem(s)", n))
	}
	if n := len(result.Persisting); n > 0 {
		parts = append(parts, fmt.Sprintf("%d still open", n))
	}
	if n := len(result.Resolved); n > 0 {
		parts = append(parts, fmt.Sprintf("%d resolved", n))
	}
	if len(parts) == 0 {
		return "Check passed, no problems found."
	}
	return "Check results: " + strings.Join(parts, ", ") + "."
}

func mustDataNode(v interface{}) yaml.Node {
	n, err := note.DataNode(v)
	if err != nil {
		// Result is a plain struct of strings, encoding cannot fail
		panic(err)
	}
	return n
}
