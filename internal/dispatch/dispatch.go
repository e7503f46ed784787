// Package dispatch executes extracted operations against a filesystem backend.
package dispatch

import (
	"context"
	"fmt"

	"github.com/anthropics/midstream/internal/domain"
)

// Backend is the filesystem surface operations run against. Implementations
// resolve relative paths against their own working directory and enforce
// their own access policy.
type Backend interface {
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, body string) error
	ListDirectory(ctx context.Context, path string) ([]domain.DirEntry, error)
	SearchFiles(ctx context.Context, path, pattern string) ([]string, error)
	GrepFiles(ctx context.Context, path, pattern string) ([]domain.GrepMatch, error)
	ChangeDirectory(ctx context.Context, path string) (string, error)
	CurrentDirectory(ctx context.Context) (string, error)
}

// Dispatch runs ops strictly in order. A failed operation is captured in its
// outcome and does not stop the ones after it; only context cancellation cuts
// the sequence short, returning the outcomes collected so far alongside the
// context's error.
func Dispatch(ctx context.Context, b Backend, ops []domain.Operation) ([]domain.Outcome, error) {
	outcomes := make([]domain.Outcome, 0, len(ops))
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, runOp(ctx, b, op))
	}
	return outcomes, nil
}

func runOp(ctx context.Context, b Backend, op domain.Operation) domain.Outcome {
	o := domain.Outcome{Op: op}
	switch op.Kind {
	case domain.OpRead:
		content, err := b.ReadFile(ctx, op.Path)
		if err != nil {
			o.Err = err.Error()
			return o
		}
		o.Success = true
		o.Content = content

	case domain.OpWrite:
		if err := b.WriteFile(ctx, op.Path, op.Body); err != nil {
			o.Err = err.Error()
			return o
		}
		o.Success = true

	case domain.OpList:
		entries, err := b.ListDirectory(ctx, op.Path)
		if err != nil {
			o.Err = err.Error()
			return o
		}
		o.Success = true
		o.Entries = entries

	case domain.OpSearch:
		matches, err := b.SearchFiles(ctx, op.Path, op.Pattern)
		if err != nil {
			o.Err = err.Error()
			return o
		}
		o.Success = true
		o.Matches = matches

	case domain.OpGrep:
		matches, err := b.GrepFiles(ctx, op.Path, op.Pattern)
		if err != nil {
			o.Err = err.Error()
			return o
		}
		o.Success = true
		o.GrepMatches = matches

	case domain.OpChdir:
		dir, err := b.ChangeDirectory(ctx, op.Path)
		if err != nil {
			o.Err = err.Error()
			return o
		}
		o.Success = true
		o.Dir = dir

	case domain.OpPwd:
		dir, err := b.CurrentDirectory(ctx)
		if err != nil {
			o.Err = err.Error()
			return o
		}
		o.Success = true
		o.Dir = dir

	default:
		o.Err = fmt.Sprintf("unsupported operation %q", op.Kind)
	}
	return o
}
