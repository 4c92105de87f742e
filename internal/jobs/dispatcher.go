// Package jobs runs the background research job processor: claiming
// persisted jobs, streaming orchestrator progress over SSE, heartbeating,
// sweeping stale jobs, and auto-applying high-confidence results.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborintel/port-research/internal/model"
	"github.com/harborintel/port-research/internal/research"
	"github.com/harborintel/port-research/internal/sse"
)

// Store is the subset of the persistence layer the dispatcher needs.
type Store interface {
	ClaimNextJob(ctx context.Context) (*model.ResearchJob, error)
	UpdateJobProgress(ctx context.Context, jobID string, progress int) error
	UpdateJobHeartbeat(ctx context.Context, jobID string) error
	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID string, message string) error
	FailStaleJobs(ctx context.Context, maxAge time.Duration) (int, error)
	UpdateOperatorFields(ctx context.Context, id string, fields map[string]any) error
}

// StreamOpener opens the research event stream for a claimed job. The
// production implementation POSTs to the service's own research endpoint;
// tests substitute a fake.
type StreamOpener interface {
	OpenResearchStream(ctx context.Context, job model.ResearchJob) (io.ReadCloser, error)
}

// Config carries the dispatcher tuning knobs.
type Config struct {
	// MaxConcurrent caps how many jobs run at once.
	MaxConcurrent int

	// DispatchDelay is the fixed pause after claiming before the handler
	// runs, rate-limiting dispatch.
	DispatchDelay time.Duration

	// PollInterval is how often the claim loop checks for pending jobs.
	PollInterval time.Duration

	// HeartbeatInterval is the period of the per-job heartbeat timer.
	HeartbeatInterval time.Duration

	// StaleAfter fails running jobs whose heartbeat is older than this.
	StaleAfter time.Duration

	// ReadTimeout bounds each individual stream read.
	ReadTimeout time.Duration

	// StreamTimeout bounds the whole stream.
	StreamTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.DispatchDelay <= 0 {
		c.DispatchDelay = time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 6 * time.Minute
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = 10 * time.Minute
	}
	return c
}

// Dispatcher claims pending jobs and drives them to a terminal state. State
// here is process-local; the persisted job table is the source of truth, so
// multiple dispatchers are safe only through the atomic claim.
type Dispatcher struct {
	store   Store
	streams StreamOpener
	cfg     Config
	log     *zap.Logger

	mu     sync.Mutex
	active int
	wg     sync.WaitGroup
}

// NewDispatcher wires a job dispatcher.
func NewDispatcher(store Store, streams StreamOpener, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:   store,
		streams: streams,
		cfg:     cfg.withDefaults(),
		log:     zap.L().With(zap.String("component", "jobs")),
	}
}

// Run blocks until ctx is cancelled, claiming and dispatching jobs. Each
// cycle sweeps stale jobs first, then claims while slots are free.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		d.cycle(ctx)

		select {
		case <-ctx.Done():
			d.wg.Wait()
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) cycle(ctx context.Context) {
	if n, err := d.store.FailStaleJobs(ctx, d.cfg.StaleAfter); err != nil {
		d.log.Warn("stale job sweep failed", zap.Error(err))
	} else if n > 0 {
		d.log.Info("swept stale jobs", zap.Int("count", n))
	}

	for d.tryClaim(ctx) {
	}
}

// tryClaim claims and launches at most one job. Returns false when no slot
// is free or nothing is pending.
func (d *Dispatcher) tryClaim(ctx context.Context) bool {
	d.mu.Lock()
	if d.active >= d.cfg.MaxConcurrent {
		d.mu.Unlock()
		return false
	}
	d.mu.Unlock()

	job, err := d.store.ClaimNextJob(ctx)
	if err != nil {
		d.log.Warn("claim failed", zap.Error(err))
		return false
	}
	if job == nil {
		return false
	}

	d.mu.Lock()
	d.active++
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			d.active--
			d.mu.Unlock()
		}()
		d.process(ctx, *job)
	}()
	return true
}

// ActiveJobs reports how many jobs are currently in flight.
func (d *Dispatcher) ActiveJobs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Dispatcher) process(ctx context.Context, job model.ResearchJob) {
	log := d.log.With(zap.String("job_id", job.ID), zap.String("type", string(job.Type)))

	select {
	case <-ctx.Done():
		return
	case <-time.After(d.cfg.DispatchDelay):
	}

	hbCtx, stopHeartbeat := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHeartbeat()
	go d.heartbeat(hbCtx, job.ID)

	outcome := d.consumeStream(ctx, job, log)

	switch {
	case outcome.completed:
		if job.Type == model.JobTypeTerminal && outcome.preview != nil {
			d.autoApply(ctx, job, outcome.preview, log)
		}
		log.Info("job completed")
	default:
		message := outcome.errMessage
		if message == "" {
			message = "research stream ended without a preview"
		}
		if err := d.store.FailJob(ctx, job.ID, message); err != nil {
			log.Warn("fail failed", zap.Error(err))
		}
		log.Warn("job failed", zap.String("reason", message))
	}
}

func (d *Dispatcher) heartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(d.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.store.UpdateJobHeartbeat(ctx, jobID); err != nil {
				d.log.Warn("heartbeat failed", zap.String("job_id", jobID), zap.Error(err))
			}
		}
	}
}

type streamOutcome struct {
	completed  bool
	preview    *research.Preview
	errMessage string
}

// consumeStream drains the SSE stream, pushing progress to the job row as
// it arrives. Seeing a preview event marks the job completed in the store
// instantly, not when the stream physically closes; draining continues
// afterward but cannot revert that.
func (d *Dispatcher) consumeStream(ctx context.Context, job model.ResearchJob, log *zap.Logger) streamOutcome {
	var outcome streamOutcome

	body, err := d.streams.OpenResearchStream(ctx, job)
	if err != nil {
		outcome.errMessage = fmt.Sprintf("open research stream: %v", err)
		return outcome
	}
	defer body.Close()

	reader := sse.NewReader(body, d.cfg.ReadTimeout, d.cfg.StreamTimeout)
	maxProgress := 0

	for {
		block, err := reader.Next()
		if err == io.EOF {
			return outcome
		}
		if err != nil {
			if outcome.completed {
				// Completion already recorded; a late timeout is cleanup noise.
				return outcome
			}
			var readTimeout *sse.ReadTimeoutError
			var streamTimeout *sse.StreamTimeoutError
			switch {
			case eris.As(err, &readTimeout):
				outcome.errMessage = readTimeout.Error()
			case eris.As(err, &streamTimeout):
				outcome.errMessage = streamTimeout.Error()
			default:
				outcome.errMessage = fmt.Sprintf("research stream: %v", err)
			}
			return outcome
		}

		var ev research.Event
		if err := json.Unmarshal(block.Data, &ev); err != nil {
			log.Warn("undecodable event, skipping", zap.String("event", block.Name), zap.Error(err))
			continue
		}

		switch research.EventType(block.Name) {
		case research.EventStatus:
			if ev.Progress > maxProgress {
				maxProgress = ev.Progress
				if err := d.store.UpdateJobProgress(ctx, job.ID, maxProgress); err != nil {
					log.Warn("progress update failed", zap.Error(err))
				}
			}
		case research.EventPreview:
			if !outcome.completed {
				outcome.completed = true
				if err := d.store.CompleteJob(ctx, job.ID); err != nil {
					log.Warn("complete failed", zap.Error(err))
				}
			}
			outcome.preview = ev.Preview
		case research.EventReportError:
			log.Warn("report persistence failed server-side", zap.String("message", ev.Message))
		case research.EventError:
			if !outcome.completed && ev.Error != nil {
				outcome.errMessage = ev.Error.Message
			}
		case research.EventComplete:
			// preview already carried the result
		}
	}
}

// autoApply writes high-confidence proposals for terminal-operator jobs.
// Port jobs never reach here; they always wait for human approval.
func (d *Dispatcher) autoApply(ctx context.Context, job model.ResearchJob, preview *research.Preview, log *zap.Logger) {
	fields := make(map[string]any)
	for _, p := range preview.Proposals {
		if p.Field == "notes" {
			continue
		}
		if p.Confidence > model.AutoApplyThreshold && len(p.ValidationErrors) == 0 {
			fields[p.Field] = p.ProposedValue
		}
	}
	if len(fields) == 0 {
		return
	}

	if err := d.store.UpdateOperatorFields(ctx, job.EntityID, fields); err != nil {
		log.Warn("auto-apply failed", zap.Error(err))
		return
	}
	log.Info("auto-applied high-confidence fields", zap.Int("count", len(fields)))
}
