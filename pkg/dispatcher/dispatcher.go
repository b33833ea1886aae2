// Package dispatcher runs the event loop: a priority queue of platform
// events drained strictly sequentially, with the open-MR backlog re-queued
// at startup and on every poll tick as the recovery mechanism. The same
// tick turns notes posted since the previous one into comment events, so
// chat commands work without webhook delivery. Handlers
// re-read authoritative remote state for every event, so redundant or
// out-of-order deliveries only cost work, never correctness.
package dispatcher

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/releng-tools/mergewarden/pkg/apis/review"
	"github.com/releng-tools/mergewarden/pkg/checks"
	"github.com/releng-tools/mergewarden/pkg/config"
	"github.com/releng-tools/mergewarden/pkg/orchestrator"
	"github.com/releng-tools/mergewarden/pkg/pipelinectl"
	"github.com/releng-tools/mergewarden/pkg/rules"
	"github.com/releng-tools/mergewarden/pkg/util"
)

// Event kinds, in processing priority order.
const (
	KindMergeRequest = "merge_request"
	KindComment      = "comment"
	KindPipeline     = "pipeline"
	KindJob          = "job"
)

var kindPriority = map[string]int{
	KindMergeRequest: 0,
	KindComment:      1,
	KindPipeline:     2,
	KindJob:          3,
}

// Event is one unit of work for the loop. Only the MR identifier is trusted;
// handlers re-read everything else from the platform. Author and Body are
// set for comment events only.
type Event struct {
	Kind   string
	MR     int
	Author string
	Body   string

	seq uint64
}

type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	pi, pj := kindPriority[h[i].Kind], kindPriority[h[j].Kind]
	if pi != pj {
		return pi < pj
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(*Event)) }
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}

// Platform is the slice of the review platform the dispatcher itself needs.
// The concrete client also satisfies the rules, checks, pipeline and
// orchestrator interfaces.
type Platform interface {
	BotUser() string
	OpenMergeRequests() ([]int, error)
	MergeRequest(iid int) (*review.MergeRequest, error)
	Notes(iid int) ([]review.Note, error)
	CreateNote(iid int, body string) error
	AddTag(iid int, tag review.Tag) error
	RemoveTag(iid int, tag review.Tag) error
	HasTag(iid int, tag review.Tag) (bool, error)
}

// Deps wires the dispatcher to its collaborators.
type Deps struct {
	Platform     Platform
	RulePlatform rules.Platform
	Checks       *checks.Tracker
	Pipeline     *pipelinectl.Controller
	Orchestrator *orchestrator.Orchestrator
	Config       *config.Config
}

type Dispatcher struct {
	platform     Platform
	rulePlatform rules.Platform
	checks       *checks.Tracker
	pipeline     *pipelinectl.Controller
	orch         *orchestrator.Orchestrator
	cfg          *config.Config
	rulePipe     *rules.Pipeline
	limiter      util.RateLimiter

	mu      sync.Mutex
	queue   eventHeap
	pending map[string]bool
	seq     uint64
	wake    chan struct{}

	// highest note id seen per MR, touched only from the poll loop
	lastNote map[int]int
}

func New(deps Deps) *Dispatcher {
	return &Dispatcher{
		platform:     deps.Platform,
		rulePlatform: deps.RulePlatform,
		checks:       deps.Checks,
		pipeline:     deps.Pipeline,
		orch:         deps.Orchestrator,
		cfg:          deps.Config,
		rulePipe:     rules.NewPipeline(deps.Config),
		limiter:      util.NewRateLimiter(time.Second),
		pending:      map[string]bool{},
		wake:         make(chan struct{}, 1),
		lastNote:     map[int]int{},
	}
}

// Enqueue adds an event to the queue. A merge_request, pipeline or job event
// for an MR that already has one of the same kind pending is dropped as a
// stale duplicate; comment events always queue since they carry a payload.
func (d *Dispatcher) Enqueue(event Event) {
	d.mu.Lock()
	if event.Kind != KindComment {
		key := fmt.Sprintf("%s/%d", event.Kind, event.MR)
		if d.pending[key] {
			d.mu.Unlock()
			return
		}
		d.pending[key] = true
	}
	d.seq++
	event.seq = d.seq
	heap.Push(&d.queue, &event)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) pop() *Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queue) == 0 {
		return nil
	}
	ev := heap.Pop(&d.queue).(*Event)
	if ev.Kind != KindComment {
		delete(d.pending, fmt.Sprintf("%s/%d", ev.Kind, ev.MR))
	}
	return ev
}

// EnqueueBacklog re-enumerates all open MRs assigned to the bot and queues a
// synthetic merge_request event for each. Run at startup and on every poll
// tick; reprocessing an MR from scratch is always safe.
func (d *Dispatcher) EnqueueBacklog() error {
	iids, err := d.platform.OpenMergeRequests()
	if err != nil {
		return errors.Wrap(err, "could not enumerate open merge requests")
	}
	for _, iid := range iids {
		d.Enqueue(Event{Kind: KindMergeRequest, MR: iid})
		if err := d.pollComments(iid); err != nil {
			log.WithError(err).WithField("mr", iid).Warning("could not poll for new comments")
		}
	}
	log.WithField("count", len(iids)).Info("queued open merge request backlog")
	return nil
}

// pollComments enqueues a comment event for every human note posted since
// the previous tick. The first sighting of an MR only records the
// high-water mark, the backlog merge_request event already covers its
// history.
func (d *Dispatcher) pollComments(iid int) error {
	notes, err := d.platform.Notes(iid)
	if err != nil {
		return err
	}

	last, seen := d.lastNote[iid]
	newest := last
	for _, n := range notes {
		if n.ID > newest {
			newest = n.ID
		}
		if !seen || n.ID <= last || n.Author == d.platform.BotUser() {
			continue
		}
		d.Enqueue(Event{Kind: KindComment, MR: iid, Author: n.Author, Body: n.Body})
	}
	d.lastNote[iid] = newest
	return nil
}

// Run processes events until the context is canceled, re-enumerating the
// backlog every pollInterval.
func (d *Dispatcher) Run(ctx context.Context, pollInterval time.Duration) error {
	defer d.limiter.Close()

	if err := d.EnqueueBacklog(); err != nil {
		log.WithError(err).Error("startup backlog enumeration failed")
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		for ev := d.pop(); ev != nil; ev = d.pop() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.limiter.Tick()
			d.handle(ev)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.EnqueueBacklog(); err != nil {
				log.WithError(err).Error("backlog enumeration failed")
			}
		case <-d.wake:
		}
	}
}

// RunOnce queues the current backlog, drains the queue to completion and
// returns.
func (d *Dispatcher) RunOnce() error {
	defer d.limiter.Close()

	if err := d.EnqueueBacklog(); err != nil {
		return err
	}
	for ev := d.pop(); ev != nil; ev = d.pop() {
		d.limiter.Tick()
		d.handle(ev)
	}
	return nil
}

// handle contains one event's failure domain: panics and errors are logged
// and counted, the loop moves on. Nothing related to one MR may block the
// processing of others.
func (d *Dispatcher) handle(event *Event) {
	logger := log.WithField("kind", event.Kind).WithField("mr", event.MR)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("panic while handling event")
			eventErrorsMetric.WithLabelValues(event.Kind).Inc()
		}
		handlingDurationMetric.Observe(time.Since(start).Seconds())
	}()

	eventsProcessedMetric.WithLabelValues(event.Kind).Inc()
	err := d.process(event)
	d.limiter.UpdateRate(err != nil)
	if err != nil {
		eventErrorsMetric.WithLabelValues(event.Kind).Inc()
		logger.WithError(err).Error("event handling failed, dropping event")
	}
}

func (d *Dispatcher) process(event *Event) error {
	mr, err := d.platform.MergeRequest(event.MR)
	if err != nil {
		return err
	}

	if !mr.AssignedTo(d.platform.BotUser()) {
		log.WithField("mr", mr.IID).Debug("merge request not assigned to the bot, skipping")
		return nil
	}

	if event.Kind == KindComment {
		reevaluate, err := d.handleComment(mr, event)
		if err != nil || !reevaluate {
			return err
		}
	}

	if mr.Closed() {
		return d.platform.RemoveTag(mr.IID, review.TagWatching)
	}

	cache := util.NewCycleCache()

	if mr.Merged() {
		created, err := d.orch.FollowUps(mr, cache)
		followUpsMetric.Add(float64(created))
		return err
	}

	if err := d.platform.AddTag(mr.IID, review.TagWatching); err != nil {
		return err
	}

	// the processing marker shows on the MR while the cycle runs; a stale
	// marker after a crash is harmless since re-evaluation is always safe
	if err := d.platform.AddTag(mr.IID, review.TagProcessing); err != nil {
		return err
	}
	err = d.evaluate(mr, cache)
	if rmErr := d.platform.RemoveTag(mr.IID, review.TagProcessing); rmErr != nil {
		log.WithError(rmErr).WithField("mr", mr.IID).Warning("could not clear processing marker")
	}
	return err
}

func (d *Dispatcher) evaluate(mr *review.MergeRequest, cache *util.CycleCache) error {
	ctx := &rules.Context{
		MR:       mr,
		Platform: d.rulePlatform,
		Tracker:  d.checks,
		Pipeline: d.pipeline,
		Cfg:      d.cfg,
		Cache:    cache,
	}
	outcome, err := d.rulePipe.Evaluate(ctx)
	if err != nil {
		return err
	}
	if !outcome.Mergeable {
		log.WithField("mr", mr.IID).WithField("reason", outcome.Reason()).Debug("merge request not mergeable")
		return nil
	}

	merged, err := d.orch.Merge(mr)
	if err != nil {
		return err
	}
	if !merged {
		return nil
	}
	mergesMetric.Inc()

	created, err := d.orch.FollowUps(mr, cache)
	followUpsMetric.Add(float64(created))
	return err
}
