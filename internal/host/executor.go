package host

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/intenthost/internal/snapshot"
)

// EffectResult is the outcome of one handler invocation.
type EffectResult struct {
	Success   bool
	Patches   []snapshot.Patch
	Error     string
	ErrorCode ErrorCode
}

// ErrorValue converts a failed result into the record the evaluator stores
// in system.errors. It returns nil for successful results.
func (r EffectResult) ErrorValue(req snapshot.Requirement, now int64) *snapshot.ErrorValue {
	if r.Success {
		return nil
	}
	return &snapshot.ErrorValue{
		Code:          string(r.ErrorCode),
		Message:       r.Error,
		Source:        req.Type,
		RequirementID: req.ID,
		Timestamp:     now,
	}
}

func failedResult(code ErrorCode, format string, args ...any) EffectResult {
	return EffectResult{ErrorCode: code, Error: fmt.Sprintf(format, args...)}
}

// EffectExecutor invokes registered handlers. Execute never panics and
// never returns a Go error; every failure becomes an EffectResult.
type EffectExecutor struct {
	registry *EffectRegistry
	logger   *slog.Logger
}

// NewEffectExecutor creates an executor over registry.
func NewEffectExecutor(registry *EffectRegistry, logger *slog.Logger) *EffectExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &EffectExecutor{registry: registry, logger: logger}
}

// Execute runs the handler for req against snap.
func (x *EffectExecutor) Execute(ctx context.Context, req snapshot.Requirement, snap *snapshot.Snapshot) (res EffectResult) {
	entry, ok := x.registry.lookup(req.Type)
	if !ok {
		x.logger.Warn("unknown effect type",
			"effect_type", req.Type,
			"requirement_id", req.ID,
		)
		return failedResult(ErrCodeUnknownEffect, "no handler registered for effect type %q", req.Type)
	}

	if entry.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, entry.opts.Timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			x.logger.Error("effect handler panicked",
				"effect_type", req.Type,
				"requirement_id", req.ID,
				"panic", p,
			)
			res = failedResult(ErrCodeEffectExecutionFailed, "handler panicked: %v", p)
		}
	}()

	patches, err := entry.handler(ctx, req.Type, snapshot.CopyMap(req.Params), snap.Clone())
	if err != nil {
		x.logger.Debug("effect handler failed",
			"effect_type", req.Type,
			"requirement_id", req.ID,
			"error", err,
		)
		return failedResult(ErrCodeEffectExecutionFailed, "%v", err)
	}
	if err := validatePatches(patches); err != nil {
		return failedResult(ErrCodeInvalidEffectPatch, "%v", err)
	}
	return EffectResult{Success: true, Patches: patches}
}

// validatePatches rejects patches the host must never forward: unknown ops,
// malformed paths, and anything rooted in the system namespace.
func validatePatches(patches []snapshot.Patch) error {
	for i, p := range patches {
		switch p.Op {
		case snapshot.OpSet, snapshot.OpMerge, snapshot.OpUnset:
		default:
			return fmt.Errorf("patch %d: unknown op %q", i, p.Op)
		}
		if _, err := snapshot.SplitPath(p.Path); err != nil {
			return fmt.Errorf("patch %d: %w", i, err)
		}
		if snapshot.IsSystemPath(p.Path) {
			return fmt.Errorf("patch %d: path %q targets the system namespace", i, p.Path)
		}
	}
	return nil
}
