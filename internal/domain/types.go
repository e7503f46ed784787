// Package domain defines the core types for the midstream interception engine.
package domain

// SessionState represents the continuation controller's state machine states.
type SessionState string

const (
	StateStreaming      SessionState = "streaming"
	StateExecuting      SessionState = "executing"
	StateResuming       SessionState = "resuming"
	StateDone           SessionState = "done"
	StateBudgetExceeded SessionState = "budget_exceeded"
	StateAborted        SessionState = "aborted"
)

// Terminal reports whether the state ends a session.
func (s SessionState) Terminal() bool {
	switch s {
	case StateDone, StateBudgetExceeded, StateAborted:
		return true
	}
	return false
}

// OpKind identifies one of the closed set of operation kinds a model may request.
type OpKind string

const (
	OpRead   OpKind = "read"
	OpWrite  OpKind = "write"
	OpList   OpKind = "list"
	OpSearch OpKind = "search"
	OpGrep   OpKind = "grep"
	OpChdir  OpKind = "cd"
	OpPwd    OpKind = "pwd"
)

// Operation is one typed instruction extracted from an instruction block.
// Fields beyond Kind are populated per kind: read/list/cd carry Path,
// search/grep carry Path and Pattern, write carries Path and Body.
type Operation struct {
	Kind    OpKind
	Path    string
	Pattern string
	Body    string
}

// EntryKind distinguishes files from directories in listings.
type EntryKind string

const (
	EntryFile      EntryKind = "file"
	EntryDirectory EntryKind = "directory"
)

// DirEntry is one entry of a directory listing.
type DirEntry struct {
	Name string
	Kind EntryKind
	Size int64
}

// GrepMatch is one matching line from a content search.
type GrepMatch struct {
	File string
	Line int
	Text string
}

// Outcome is the result of executing one Operation against the backend.
// Exactly one payload field is populated on success, selected by Op.Kind.
type Outcome struct {
	Op      Operation
	Success bool
	Err     string

	Content     string
	Entries     []DirEntry
	Matches     []string
	GrepMatches []GrepMatch
	Dir         string
}

// SessionRecord holds the persisted state of a continuation session.
type SessionRecord struct {
	SessionID        string
	State            SessionState
	StateVersion     int64
	Continuations    int
	MaxContinuations int
	Model            string
	TranscriptChars  int64
	LastEventSeq     int64
	CreatedAtUnix    int64
	UpdatedAtUnix    int64
}

// EventKind classifies transcript events.
type EventKind string

const (
	EventModelText  EventKind = "model_text"
	EventResult     EventKind = "result"
	EventAnnotation EventKind = "annotation"
)

// TranscriptEvent is one persisted segment of a session transcript.
type TranscriptEvent struct {
	ID        int64
	SessionID string
	SeqNo     int64
	Kind      EventKind
	Text      string
	CreatedAt int64
}

// AuditRecord logs one dispatched operation outcome.
type AuditRecord struct {
	ID           int64
	SessionID    string
	Action       string
	Path         string
	Success      bool
	Error        string
	PayloadBytes int64
	CreatedAt    int64
}

// TaskStatus represents the lifecycle state of an orchestrated task.
type TaskStatus string

const (
	TaskQueued  TaskStatus = "queued"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
	TaskAborted TaskStatus = "aborted"
)

// Complexity is the planner's assessment of a prompt.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityComplex Complexity = "complex"
)

// Task is one unit of work submitted to the orchestrator.
type Task struct {
	ID            string
	Prompt        string
	System        string
	Complexity    Complexity
	Status        TaskStatus
	Result        string
	Err           string
	Continuations int
	CreatedAtUnix int64
	StartedAtUnix int64
	DoneAtUnix    int64
}

// ModelRole names the purpose a configured model serves.
type ModelRole string

const (
	RolePrimary    ModelRole = "primary"
	RoleSummarizer ModelRole = "summarizer"
)

// ModelSpec describes a generation endpoint and model for a role.
type ModelSpec struct {
	Role    ModelRole
	Model   string
	BaseURL string
}

// BudgetAction is the decision from the continuation budget governor.
type BudgetAction string

const (
	BudgetContinue BudgetAction = "continue"
	BudgetWarn     BudgetAction = "warn"
	BudgetHalt     BudgetAction = "halt"
)
