package host

import (
	"context"

	"github.com/roach88/intenthost/internal/snapshot"
)

// The methods in this file step the engine one Job at a time without the
// dispatch loop. Tests use them to drive the scheduler deterministically.
// A context opened with SeedSnapshot lives until DisposeContext.

// SeedSnapshot opens an execution context for key. A nil snap seeds from
// the published snapshot.
func (h *Host) SeedSnapshot(key string, snap *snapshot.Snapshot) error {
	if key == "" {
		return newHostError(ErrCodeInvalidState, "", "empty execution key")
	}
	if snap == nil {
		h.mu.Lock()
		snap = h.published
		h.mu.Unlock()
		if snap == nil {
			return newHostError(ErrCodeHostNotInitialized, key, "no snapshot to seed from")
		}
	}
	if _, herr := h.open(context.Background(), key, snap); herr != nil {
		return herr
	}
	return nil
}

// SubmitIntent enqueues a StartIntent Job for key without draining.
func (h *Host) SubmitIntent(key string, intent snapshot.Intent) error {
	exe, ok := h.lookup(key)
	if !ok {
		return newHostError(ErrCodeInvalidState, intent.IntentID, "no execution context for key %q", key)
	}
	if intent.IntentID == "" {
		return newHostError(ErrCodeInvalidState, "", "intent %q has no intentId", intent.Type)
	}
	if !h.enqueue(exe.ec, StartIntent(intent)) {
		return newHostError(ErrCodeInvalidState, intent.IntentID, "mailbox for key %q is closed", key)
	}
	return nil
}

// InjectEffectResult enqueues a FulfillEffect Job for key. The intent is
// recovered from its slot when the Job runs. errValue may be nil.
func (h *Host) InjectEffectResult(key, intentID, requirementID string, patches []snapshot.Patch, errValue *snapshot.ErrorValue) error {
	exe, ok := h.lookup(key)
	if !ok {
		return newHostError(ErrCodeInvalidState, intentID, "no execution context for key %q", key)
	}
	if err := validatePatches(patches); err != nil {
		return &HostError{Code: ErrCodeInvalidEffectPatch, Message: err.Error(), IntentID: intentID, cause: err}
	}
	if !h.enqueue(exe.ec, FulfillEffect(intentID, requirementID, patches, nil, errValue)) {
		return newHostError(ErrCodeInvalidState, intentID, "mailbox for key %q is closed", key)
	}
	return nil
}

// Drain runs the key's mailbox to empty and returns the number of Jobs
// executed. A fatal error is returned as a *HostError.
func (h *Host) Drain(key string) (int, error) {
	exe, ok := h.lookup(key)
	if !ok {
		return 0, newHostError(ErrCodeInvalidState, "", "no execution context for key %q", key)
	}
	n := h.runner.ProcessMailbox(exe.ec)
	if f := exe.ec.Fatal(); f != nil {
		return n, f
	}
	return n, nil
}

// WaitEffect blocks until the key has no effect in flight.
func (h *Host) WaitEffect(ctx context.Context, key string) error {
	for {
		wait := h.inflightDone(key)
		if wait == nil {
			return nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// GetContextSnapshot returns a copy of key's working snapshot.
func (h *Host) GetContextSnapshot(key string) (*snapshot.Snapshot, bool) {
	exe, ok := h.lookup(key)
	if !ok {
		return nil, false
	}
	return exe.ec.Snapshot(), true
}

// GetMailbox returns key's mailbox.
func (h *Host) GetMailbox(key string) (*Mailbox, bool) {
	return h.mailboxes.Get(key)
}

// PublishContext makes key's working snapshot the published one.
func (h *Host) PublishContext(key string) error {
	exe, ok := h.lookup(key)
	if !ok {
		return newHostError(ErrCodeInvalidState, "", "no execution context for key %q", key)
	}
	h.publish(exe.ec.current())
	return nil
}

// DisposeContext drops key's mailbox and context.
func (h *Host) DisposeContext(key string) {
	h.dispose(key)
}
