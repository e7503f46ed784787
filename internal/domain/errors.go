package domain

import "fmt"

// EngineError is the unified error type for the engine.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- Session / FSM errors (-32010 to -32039) ----

var (
	ErrInvalidTransition = &EngineError{Code: -32010, Message: "invalid session state transition"}
	ErrSessionNotFound   = &EngineError{Code: -32011, Message: "session not found"}
	ErrSessionTerminal   = &EngineError{Code: -32012, Message: "session already reached a terminal state"}
	ErrSessionAborted    = &EngineError{Code: -32013, Message: "session aborted by caller"}
	ErrOptimisticLock    = &EngineError{Code: -32014, Message: "optimistic lock conflict: state was modified concurrently"}
	ErrDuplicateSession  = &EngineError{Code: -32015, Message: "session already exists"}
	ErrEmptyPrompt       = &EngineError{Code: -32016, Message: "prompt must not be empty"}
)

// ---- Backend / Sandbox errors (-32040 to -32069) ----

var (
	ErrPathOutsideRoots = &EngineError{Code: -32040, Message: "path resolves outside the allowed roots"}
	ErrNotADirectory    = &EngineError{Code: -32041, Message: "path is not a directory"}
	ErrNotAFile         = &EngineError{Code: -32042, Message: "path is not a regular file"}
	ErrInvalidPattern   = &EngineError{Code: -32043, Message: "invalid search pattern"}
	ErrNoRootsAllowed   = &EngineError{Code: -32044, Message: "no allowed roots configured"}
)

// ---- Generation endpoint errors (-32070 to -32099) ----

var (
	ErrGenerateRequest    = &EngineError{Code: -32070, Message: "generation endpoint request failed"}
	ErrGenerateStatus     = &EngineError{Code: -32071, Message: "generation endpoint returned non-OK status"}
	ErrGenerateDecode     = &EngineError{Code: -32072, Message: "generation stream contained invalid JSON"}
	ErrModelNotRegistered = &EngineError{Code: -32073, Message: "no model registered for role"}
	ErrDuplicateModel     = &EngineError{Code: -32074, Message: "model already registered for role"}
)

// ---- Rate / Orchestrator errors (-32100 to -32129) ----

var (
	ErrRateLimitExceeded = &EngineError{Code: -32101, Message: "rate limit exceeded"}
	ErrTaskNotFound      = &EngineError{Code: -32102, Message: "task not found"}
	ErrTaskTimeout       = &EngineError{Code: -32103, Message: "task exceeded wall-clock timeout"}
	ErrPoolClosed        = &EngineError{Code: -32104, Message: "orchestrator pool is not accepting tasks"}
)

// ---- Store / Config errors (-32130 to -32159) ----

var (
	ErrStoreInit     = &EngineError{Code: -32130, Message: "failed to initialize store"}
	ErrConfigInvalid = &EngineError{Code: -32132, Message: "invalid configuration"}
)
