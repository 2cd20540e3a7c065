package host

import (
	"github.com/roach88/intenthost/internal/snapshot"
)

// JobKind distinguishes Job variants.
type JobKind int

const (
	// JobStartIntent begins evaluation of a new intent.
	JobStartIntent JobKind = iota + 1
	// JobFulfillEffect feeds an effect result back into evaluation.
	JobFulfillEffect
)

func (k JobKind) String() string {
	switch k {
	case JobStartIntent:
		return "StartIntent"
	case JobFulfillEffect:
		return "FulfillEffect"
	default:
		return "Unknown"
	}
}

// Job is one run-to-completion unit of work.
//
// For JobStartIntent only Intent is used. For JobFulfillEffect, IntentID and
// RequirementID identify the requirement being fulfilled; Intent is
// optional and recovered from the intent slot table when nil.
type Job struct {
	Kind          JobKind
	Intent        *snapshot.Intent
	IntentID      string
	RequirementID string
	Patches       []snapshot.Patch
	Err           *snapshot.ErrorValue
}

// StartIntent builds a JobStartIntent.
func StartIntent(intent snapshot.Intent) Job {
	return Job{Kind: JobStartIntent, Intent: &intent, IntentID: intent.IntentID}
}

// FulfillEffect builds a JobFulfillEffect. errValue may be nil.
func FulfillEffect(intentID, requirementID string, patches []snapshot.Patch, intent *snapshot.Intent, errValue *snapshot.ErrorValue) Job {
	return Job{
		Kind:          JobFulfillEffect,
		Intent:        intent,
		IntentID:      intentID,
		RequirementID: requirementID,
		Patches:       patches,
		Err:           errValue,
	}
}
