// Package orchestrator runs submitted prompts as continuation sessions
// on a bounded worker pool.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anthropics/midstream/internal/domain"
	"github.com/anthropics/midstream/internal/session"
)

const (
	defaultMaxWorkers = 3
	defaultQueueDepth = 64
)

// SessionRunner runs one continuation session to completion.
type SessionRunner interface {
	Run(ctx context.Context, req session.Request) (*session.Result, error)
}

// PoolStatus is a point-in-time snapshot of the pool.
type PoolStatus struct {
	Workers   int `json:"workers"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
}

type taskEntry struct {
	task     domain.Task
	cancel   context.CancelFunc
	timedOut bool
}

// Pool runs tasks on a fixed set of workers. Submissions past the
// worker count wait in the queue rather than failing.
type Pool struct {
	Runner     SessionRunner
	Planner    *Planner
	Model      string
	MaxWorkers int
	Log        *zap.Logger

	mu       sync.RWMutex
	tasks    map[string]*taskEntry
	queue    chan string
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool creates a Pool with the stock worker count and queue depth.
// Call Start before submitting work.
func NewPool(r SessionRunner, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		Runner:     r,
		Planner:    NewPlanner(),
		MaxWorkers: defaultMaxWorkers,
		Log:        log,
		tasks:      make(map[string]*taskEntry),
		queue:      make(chan string, defaultQueueDepth),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	workers := p.MaxWorkers
	if workers <= 0 {
		workers = defaultMaxWorkers
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.Log.Info("pool started", zap.Int("workers", workers))
}

// Close stops accepting work, cancels running tasks, and waits for the
// workers to exit. Queued tasks that never ran stay queued.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	for _, e := range p.tasks {
		if e.cancel != nil {
			e.cancel()
		}
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// Submit queues a prompt as a new task and returns the task ID. When
// the queue is full Submit blocks until a worker drains it.
func (p *Pool) Submit(prompt, system string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", domain.ErrEmptyPrompt
	}
	select {
	case <-p.stopCh:
		return "", domain.ErrPoolClosed
	default:
	}

	id := uuid.NewString()
	entry := &taskEntry{task: domain.Task{
		ID:            id,
		Prompt:        prompt,
		System:        system,
		Complexity:    p.Planner.Assess(prompt),
		Status:        domain.TaskQueued,
		CreatedAtUnix: time.Now().Unix(),
	}}

	p.mu.Lock()
	p.tasks[id] = entry
	p.mu.Unlock()

	select {
	case p.queue <- id:
	case <-p.stopCh:
		p.mu.Lock()
		delete(p.tasks, id)
		p.mu.Unlock()
		return "", domain.ErrPoolClosed
	}

	p.Log.Info("task queued",
		zap.String("task_id", id),
		zap.String("complexity", string(entry.task.Complexity)))
	return id, nil
}

// Get returns a copy of the task with the given ID.
func (p *Pool) Get(id string) (domain.Task, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return entry.task, nil
}

// List returns copies of all known tasks, oldest first.
func (p *Pool) List() []domain.Task {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]domain.Task, 0, len(p.tasks))
	for _, e := range p.tasks {
		out = append(out, e.task)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtUnix != out[j].CreatedAtUnix {
			return out[i].CreatedAtUnix < out[j].CreatedAtUnix
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Status reports worker and task counts.
func (p *Pool) Status() PoolStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := PoolStatus{Workers: p.MaxWorkers}
	for _, e := range p.tasks {
		switch e.task.Status {
		case domain.TaskQueued:
			st.Queued++
		case domain.TaskRunning:
			st.Running++
		default:
			st.Completed++
		}
	}
	return st
}

// Prune removes all terminal tasks and returns how many were dropped.
func (p *Pool) Prune() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for id, e := range p.tasks {
		if terminalStatus(e.task.Status) {
			delete(p.tasks, id)
			n++
		}
	}
	return n
}

// Clear drops every task that is not currently running.
func (p *Pool) Clear() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for id, e := range p.tasks {
		if e.task.Status == domain.TaskRunning {
			continue
		}
		delete(p.tasks, id)
		n++
	}
	return n
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case id := <-p.queue:
			p.runTask(id)
		}
	}
}

func (p *Pool) runTask(id string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.mu.Lock()
	entry, ok := p.tasks[id]
	if !ok || entry.task.Status != domain.TaskQueued {
		p.mu.Unlock()
		return
	}
	select {
	case <-p.stopCh:
		p.mu.Unlock()
		return
	default:
	}
	entry.cancel = cancel
	entry.task.Status = domain.TaskRunning
	entry.task.StartedAtUnix = time.Now().Unix()
	task := entry.task
	p.mu.Unlock()

	p.Log.Info("task started",
		zap.String("task_id", id),
		zap.String("complexity", string(task.Complexity)))

	transcript, continuations, err := p.execute(ctx, task)

	p.mu.Lock()
	defer p.mu.Unlock()

	entry.cancel = nil
	entry.task.DoneAtUnix = time.Now().Unix()
	entry.task.Continuations = continuations
	switch {
	case err == nil:
		entry.task.Status = domain.TaskDone
		entry.task.Result = transcript
		p.Log.Info("task complete", zap.String("task_id", id))
	case entry.timedOut:
		entry.task.Status = domain.TaskAborted
		entry.task.Err = domain.ErrTaskTimeout.Message
		p.Log.Warn("task timed out", zap.String("task_id", id))
	case err == domain.ErrSessionAborted:
		entry.task.Status = domain.TaskAborted
		entry.task.Err = err.Error()
		p.Log.Warn("task aborted", zap.String("task_id", id))
	default:
		entry.task.Status = domain.TaskFailed
		entry.task.Err = err.Error()
		p.Log.Warn("task failed", zap.String("task_id", id), zap.Error(err))
	}
}

func (p *Pool) execute(ctx context.Context, task domain.Task) (string, int, error) {
	if task.Complexity == domain.ComplexityComplex {
		if subs := p.Planner.Decompose(task.Prompt); len(subs) > 1 {
			return p.fanOut(ctx, task, subs)
		}
	}

	res, err := p.Runner.Run(ctx, session.Request{
		Prompt: task.Prompt,
		System: task.System,
		Model:  p.Model,
	})
	if err != nil {
		return "", 0, err
	}
	return res.Transcript, res.Continuations, nil
}

// fanOut runs each subtask as its own session, then feeds the combined
// results back through a final session on the original prompt. A failed
// subtask becomes a failure note in the combined report rather than
// killing its siblings.
func (p *Pool) fanOut(ctx context.Context, task domain.Task, subs []string) (string, int, error) {
	p.Log.Info("delegating subtasks",
		zap.String("task_id", task.ID),
		zap.Int("subtasks", len(subs)))

	results := make([]*session.Result, len(subs))
	failures := make([]error, len(subs))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.MaxWorkers)
	for i, sub := range subs {
		eg.Go(func() error {
			res, err := p.Runner.Run(egCtx, session.Request{
				Prompt: sub,
				System: task.System,
				Model:  p.Model,
			})
			if err != nil {
				failures[i] = err
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = eg.Wait()

	if ctx.Err() != nil {
		return "", 0, domain.ErrSessionAborted
	}

	continuations := 0
	var report strings.Builder
	report.WriteString("## Delegation Results\n\n")
	for i := range subs {
		fmt.Fprintf(&report, "### Task %d: %s-%d\n", i+1, task.ID[:8], i+1)
		if failures[i] != nil {
			fmt.Fprintf(&report, "**Status:** failed\n\nTask failed: %v\n\n", failures[i])
			continue
		}
		continuations += results[i].Continuations
		fmt.Fprintf(&report, "**Status:** completed\n\n%s\n\n", results[i].Transcript)
	}

	enhanced := fmt.Sprintf(
		"%s\n\n[SYSTEM NOTE: The following subtasks were delegated to specialized agents:]\n\n%s",
		task.Prompt, report.String())

	res, err := p.Runner.Run(ctx, session.Request{
		Prompt: enhanced,
		System: task.System,
		Model:  p.Model,
	})
	if err != nil {
		return "", continuations, err
	}
	return res.Transcript, continuations + res.Continuations, nil
}

// expireRunning cancels running tasks started more than maxAgeSec ago.
func (p *Pool) expireRunning(nowUnix, maxAgeSec int64) int {
	if maxAgeSec <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, e := range p.tasks {
		if e.task.Status != domain.TaskRunning || e.cancel == nil {
			continue
		}
		if nowUnix-e.task.StartedAtUnix > maxAgeSec {
			e.timedOut = true
			e.cancel()
			n++
		}
	}
	return n
}

// pruneStale drops terminal tasks whose completion is older than ttlSec.
func (p *Pool) pruneStale(nowUnix, ttlSec int64) int {
	if ttlSec <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for id, e := range p.tasks {
		if !terminalStatus(e.task.Status) {
			continue
		}
		if nowUnix-e.task.DoneAtUnix > ttlSec {
			delete(p.tasks, id)
			n++
		}
	}
	return n
}

func terminalStatus(s domain.TaskStatus) bool {
	return s == domain.TaskDone || s == domain.TaskFailed || s == domain.TaskAborted
}
