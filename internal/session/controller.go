// Package session drives continuation sessions: it streams model output
// through the block scanner, executes intercepted instruction blocks, and
// resumes generation with the rendered results until the model finishes or
// the continuation budget runs out.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anthropics/midstream/internal/command"
	"github.com/anthropics/midstream/internal/domain"
	"github.com/anthropics/midstream/internal/gen"
	"github.com/anthropics/midstream/internal/render"
	"github.com/anthropics/midstream/internal/scan"
	"github.com/anthropics/midstream/internal/store"
	"github.com/anthropics/midstream/internal/summary"
)

// DefaultMaxContinuations bounds continuation requests per session unless the
// request sets its own limit.
const DefaultMaxContinuations = 5

// continuationInstruction is the fixed system message appended when resuming
// generation after a block was executed. The wording is part of the prompt
// contract with the model and must not drift.
const continuationInstruction = "[System Message]\nNow that you have the requested information, please continue your response incorporating this information."

// Generator streams model output, invoking fn once per fragment.
// Implemented by gen.Client.
type Generator interface {
	Generate(ctx context.Context, model, prompt, system string, fn gen.StreamFunc) (string, bool, error)
}

// Dispatcher executes extracted operations on behalf of a session.
// Implemented by dispatch.Recorder.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID string, ops []domain.Operation) ([]domain.Outcome, error)
}

// Compactor folds an overlong conversation history into a summarizer
// digest before the next resume. Implemented by summary.Compactor.
type Compactor interface {
	MaybeCompact(ctx context.Context, history []summary.Message, system string) ([]summary.Message, bool, error)
}

// Request describes one continuation session.
type Request struct {
	// SessionID is generated when empty.
	SessionID string
	Prompt    string
	System    string
	Model     string
	// MaxContinuations of zero uses the runner default; a negative value
	// disables the budget.
	MaxContinuations int
}

// Result is the final output of a session. Transcript interleaves model text
// with rendered operation results in the order they occurred.
type Result struct {
	SessionID     string
	Transcript    string
	State         domain.SessionState
	Continuations int
}

// Runner owns the stream, intercept, execute, resume loop.
type Runner struct {
	DB          *sql.DB
	SessionRepo *store.SessionRepo
	EventRepo   *store.EventRepo
	Gen         Generator
	Dispatcher  Dispatcher
	Governor    *Governor
	Log         *zap.Logger

	// Compactor, when set, compresses the resume prompt once the
	// accumulated history outgrows the model's context window. The
	// stored transcript always keeps the full text.
	Compactor Compactor

	MaxContinuations int
}

// NewRunner creates a runner with all dependencies.
func NewRunner(db *sql.DB, g Generator, d Dispatcher, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		DB:               db,
		SessionRepo:      &store.SessionRepo{},
		EventRepo:        &store.EventRepo{},
		Gen:              g,
		Dispatcher:       d,
		Governor:         NewGovernor(),
		Log:              log,
		MaxContinuations: DefaultMaxContinuations,
	}
}

// Run executes one session to a terminal state. On cancellation the partial
// result is returned alongside ErrSessionAborted; a generation transport
// failure likewise aborts the session and surfaces the cause.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, domain.ErrEmptyPrompt
	}
	if ctx.Err() != nil {
		return nil, domain.ErrSessionAborted
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	maxCont := req.MaxContinuations
	if maxCont == 0 {
		maxCont = r.MaxContinuations
	}

	rec, err := r.create(ctx, sessionID, req.Model, maxCont)
	if err != nil {
		return nil, err
	}
	r.Log.Info("session started",
		zap.String("session", sessionID),
		zap.String("model", req.Model),
		zap.Int("max_continuations", maxCont))

	transcript := ""
	prompt := req.Prompt
	history := []summary.Message{{Role: summary.RoleUser, Content: req.Prompt}}

	for {
		if ctx.Err() != nil {
			r.abort(ctx, rec, transcript)
			return r.result(rec, transcript), domain.ErrSessionAborted
		}

		mark := len(transcript)
		scanner := scan.NewScanner()
		var blockText string
		var ops []domain.Operation

		segment, _, genErr := r.Gen.Generate(ctx, req.Model, prompt, req.System, func(fragment string) bool {
			if !scanner.Feed(fragment) {
				return false
			}
			blk := scanner.TakeBlock()
			extracted := command.Extract(blk)
			if len(extracted) == 0 {
				// Nothing executable in the block; leave it in the
				// transcript and keep consuming the stream.
				return false
			}
			blockText = blk
			ops = extracted
			return true
		})
		transcript += segment

		if genErr != nil {
			r.abort(ctx, rec, transcript, modelTextEvent(segment)...)
			if ctx.Err() != nil {
				return r.result(rec, transcript), domain.ErrSessionAborted
			}
			return r.result(rec, transcript), genErr
		}

		if blockText == "" {
			return r.finish(ctx, rec, transcript, segment)
		}

		// Block intercepted: record the raw segment and execute.
		rec.TranscriptChars = int64(len(transcript))
		if err := r.transition(ctx, rec, domain.StateExecuting, modelTextEvent(segment)...); err != nil {
			return r.result(rec, transcript), err
		}
		r.Log.Info("instruction block intercepted",
			zap.String("session", sessionID),
			zap.Int("operations", len(ops)),
			zap.Int("continuations", rec.Continuations))

		outcomes, dispErr := r.Dispatcher.Dispatch(ctx, sessionID, ops)
		rendered := render.Results(outcomes)
		transcript = splice(transcript, blockText, rendered)
		rec.TranscriptChars = int64(len(transcript))

		if dispErr != nil {
			r.abort(ctx, rec, transcript, resultEvent(rendered)...)
			return r.result(rec, transcript), domain.ErrSessionAborted
		}

		switch r.Governor.Assess(rec.Continuations, rec.MaxContinuations) {
		case domain.BudgetHalt:
			note := render.BudgetAnnotation(rec.MaxContinuations)
			transcript += note
			rec.TranscriptChars = int64(len(transcript))
			events := append(resultEvent(rendered), domain.TranscriptEvent{Kind: domain.EventAnnotation, Text: note})
			if err := r.transition(ctx, rec, domain.StateBudgetExceeded, events...); err != nil {
				return r.result(rec, transcript), err
			}
			r.Log.Info("continuation budget exhausted",
				zap.String("session", sessionID),
				zap.Int("continuations", rec.Continuations))
			return r.result(rec, transcript), nil
		case domain.BudgetWarn:
			r.Log.Warn("continuation budget nearly exhausted",
				zap.String("session", sessionID),
				zap.Int("continuations", rec.Continuations),
				zap.Int("max_continuations", rec.MaxContinuations))
		}

		rec.Continuations++
		if err := r.transition(ctx, rec, domain.StateResuming, resultEvent(rendered)...); err != nil {
			return r.result(rec, transcript), err
		}
		history = append(history, summary.Message{Role: summary.RoleAssistant, Content: transcript[mark:]})
		history, prompt = r.resumePrompt(ctx, rec.SessionID, history, transcript, req)
		if err := r.transition(ctx, rec, domain.StateStreaming); err != nil {
			return r.result(rec, transcript), err
		}
	}
}

// resumePrompt builds the prompt for the next generation request. When a
// compactor is attached and the history has outgrown the context window,
// older rounds are folded into a summarizer digest and the prompt is
// rebuilt from the compacted history; once compacted, a session keeps
// prompting from history rather than the full transcript.
func (r *Runner) resumePrompt(ctx context.Context, sessionID string, history []summary.Message, transcript string, req Request) ([]summary.Message, string) {
	if r.Compactor == nil {
		return history, continuationPrompt(req.Prompt, transcript)
	}

	out, _, err := r.Compactor.MaybeCompact(ctx, history, req.System)
	if err != nil {
		r.Log.Warn("history compaction failed",
			zap.String("session", sessionID),
			zap.Error(err))
	}
	history = out

	if len(history) > 0 && history[0].Role == summary.RoleSystem {
		return history, historyPrompt(history)
	}
	return history, continuationPrompt(req.Prompt, transcript)
}

// create persists the session row in its initial streaming state.
func (r *Runner) create(ctx context.Context, sessionID, model string, maxCont int) (*domain.SessionRecord, error) {
	_, err := r.SessionRepo.GetByID(ctx, r.DB, sessionID)
	if err == nil {
		return nil, domain.ErrDuplicateSession
	}
	if err != domain.ErrSessionNotFound {
		return nil, err
	}

	now := time.Now().Unix()
	rec := domain.SessionRecord{
		SessionID:        sessionID,
		State:            domain.StateStreaming,
		StateVersion:     1,
		MaxContinuations: maxCont,
		Model:            model,
		CreatedAtUnix:    now,
		UpdatedAtUnix:    now,
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := r.SessionRepo.CreateTx(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit session create: %w", err)
	}
	return &rec, nil
}

// transition validates the state change and persists it together with any
// transcript events in a single transaction with optimistic locking.
func (r *Runner) transition(ctx context.Context, rec *domain.SessionRecord, to domain.SessionState, events ...domain.TranscriptEvent) error {
	if rec.State.Terminal() {
		return domain.ErrSessionTerminal
	}
	if !IsValidTransition(rec.State, to) {
		return domain.NewEngineError(
			domain.ErrInvalidTransition.Code,
			fmt.Sprintf("illegal transition %s -> %s", rec.State, to),
		)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	updated := *rec
	updated.State = to
	updated.UpdatedAtUnix = now

	for _, ev := range events {
		updated.LastEventSeq++
		ev.SessionID = rec.SessionID
		ev.SeqNo = updated.LastEventSeq
		ev.CreatedAt = now
		if err := r.EventRepo.AppendTx(ctx, tx, ev); err != nil {
			return err
		}
	}

	if err := r.SessionRepo.UpdateStateTx(ctx, tx, updated); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}

	updated.StateVersion++
	*rec = updated
	return nil
}

// finish runs the final sweep over a completed transcript and records done.
// A block the scanner could not act on mid-stream, such as one completed by
// the model's very last token, is still executed here.
func (r *Runner) finish(ctx context.Context, rec *domain.SessionRecord, transcript, segment string) (*Result, error) {
	swept, rendered, sweepErr := r.sweep(ctx, rec.SessionID, transcript)
	transcript = swept
	rec.TranscriptChars = int64(len(transcript))

	events := modelTextEvent(segment)
	events = append(events, resultEvent(rendered)...)

	if sweepErr != nil {
		r.abort(ctx, rec, transcript, events...)
		return r.result(rec, transcript), domain.ErrSessionAborted
	}

	if err := r.transition(ctx, rec, domain.StateDone, events...); err != nil {
		return r.result(rec, transcript), err
	}
	r.Log.Info("session complete",
		zap.String("session", rec.SessionID),
		zap.Int("continuations", rec.Continuations),
		zap.Int64("transcript_chars", rec.TranscriptChars))
	return r.result(rec, transcript), nil
}

// sweep executes complete blocks still present in the transcript, replacing
// each with its rendered results. Blocks inside reasoning regions are never
// executed.
func (r *Runner) sweep(ctx context.Context, sessionID, transcript string) (string, string, error) {
	var rendered strings.Builder
	for _, blk := range scan.FindBlocks(transcript) {
		ops := command.Extract(blk)
		if len(ops) == 0 {
			continue
		}
		r.Log.Info("executing block found after stream end",
			zap.String("session", sessionID),
			zap.Int("operations", len(ops)))
		outcomes, err := r.Dispatcher.Dispatch(ctx, sessionID, ops)
		out := render.Results(outcomes)
		if out != "" {
			transcript = spliceFirst(transcript, blk, out)
			rendered.WriteString(out)
		}
		if err != nil {
			return transcript, rendered.String(), err
		}
	}
	return transcript, rendered.String(), nil
}

// abort records the terminal aborted state. Persistence runs on a detached
// context so a cancelled session is still recorded.
func (r *Runner) abort(ctx context.Context, rec *domain.SessionRecord, transcript string, events ...domain.TranscriptEvent) {
	rec.TranscriptChars = int64(len(transcript))
	dctx := context.WithoutCancel(ctx)
	if err := r.transition(dctx, rec, domain.StateAborted, events...); err != nil {
		r.Log.Warn("abort not persisted",
			zap.String("session", rec.SessionID),
			zap.Error(err))
	}
}

func (r *Runner) result(rec *domain.SessionRecord, transcript string) *Result {
	return &Result{
		SessionID:     rec.SessionID,
		Transcript:    transcript,
		State:         rec.State,
		Continuations: rec.Continuations,
	}
}

// splice replaces the last occurrence of the raw block text with the rendered
// results so the model-visible history carries real outcomes instead of the
// instruction markup. When the exact text is absent it falls back to the
// outermost marker span, and as a last resort appends.
func splice(transcript, blockText, rendered string) string {
	if blockText != "" {
		if i := strings.LastIndex(transcript, blockText); i >= 0 {
			return transcript[:i] + rendered + transcript[i+len(blockText):]
		}
	}
	open := strings.LastIndex(transcript, scan.BlockOpen)
	end := strings.LastIndex(transcript, scan.BlockClose)
	if open >= 0 && end > open {
		return transcript[:open] + rendered + transcript[end+len(scan.BlockClose):]
	}
	return transcript + rendered
}

func spliceFirst(transcript, blockText, rendered string) string {
	if i := strings.Index(transcript, blockText); i >= 0 {
		return transcript[:i] + rendered + transcript[i+len(blockText):]
	}
	return transcript + rendered
}

// continuationPrompt rebuilds the prompt for a resumed generation request.
func continuationPrompt(prompt, transcript string) string {
	return fmt.Sprintf("%s\n\nAI: %s\n\n%s", prompt, transcript, continuationInstruction)
}

// historyPrompt renders a compacted history in the continuation prompt's
// shape: the digest and any user text appear bare, assistant rounds get
// the AI prefix, and the resume instruction closes the prompt.
func historyPrompt(history []summary.Message) string {
	parts := make([]string, 0, len(history)+1)
	for _, msg := range history {
		if msg.Role == summary.RoleAssistant {
			parts = append(parts, "AI: "+msg.Content)
			continue
		}
		parts = append(parts, msg.Content)
	}
	parts = append(parts, continuationInstruction)
	return strings.Join(parts, "\n\n")
}

func modelTextEvent(text string) []domain.TranscriptEvent {
	if text == "" {
		return nil
	}
	return []domain.TranscriptEvent{{Kind: domain.EventModelText, Text: text}}
}

func resultEvent(text string) []domain.TranscriptEvent {
	if text == "" {
		return nil
	}
	return []domain.TranscriptEvent{{Kind: domain.EventResult, Text: text}}
}
