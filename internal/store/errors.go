package store

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrReportNotFound    = errors.New("report not found")
	ErrProfileNotFound   = errors.New("profile not found")
	ErrRoleAlreadySet    = errors.New("role already set")
	ErrInvalidTransition = errors.New("invalid report transition")
	ErrClaimConflict     = errors.New("report already taken")
	ErrStaleReport       = errors.New("report changed concurrently")
	ErrNotOwner          = errors.New("not the owner of this report")
	ErrAgentInactive     = errors.New("agent is not active")
	ErrValidation        = errors.New("validation failed")
	ErrRemoteService     = errors.New("remote service unavailable")
)

// ValidationError carries per-field violations and matches ErrValidation.
type ValidationError struct {
	Violations map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return ErrValidation.Error()
	}
	fields := make([]string, 0, len(e.Violations))
	for field := range e.Violations {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+e.Violations[field])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, ", ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Add(field, violation string) {
	if e.Violations == nil {
		e.Violations = make(map[string]string)
	}
	if _, exists := e.Violations[field]; !exists {
		e.Violations[field] = violation
	}
}

// Err returns nil when nothing was recorded.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Violations) == 0 {
		return nil
	}
	return e
}
