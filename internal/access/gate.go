package access

import (
	"errors"
	"fmt"
	"strings"

	"foodbridge/internal/models"
)

var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrRoleMismatch           = errors.New("role mismatch")
)

type Outcome string

const (
	OutcomeAllow    Outcome = "allow"
	OutcomeWait     Outcome = "wait"
	OutcomeRedirect Outcome = "redirect"
)

// State is what the session layer knows about the caller. Identity is nil
// when nobody is signed in.
type State struct {
	Identity    *models.Identity
	RolePending bool
}

type Decision struct {
	Outcome Outcome       `json:"outcome"`
	Reason  error         `json:"-"`
	Code    string        `json:"reason,omitempty"`
	Target  string        `json:"redirect_to,omitempty"`
	Role    models.Role   `json:"role,omitempty"`
	Allowed []models.Role `json:"allowed,omitempty"`
}

type Options struct {
	SignInPath  string
	DefaultPath string
}

type Gate struct {
	signIn      string
	defaultPath string
}

func NewGate(opts Options) *Gate {
	signIn := opts.SignInPath
	if signIn == "" {
		signIn = "/signin"
	}
	defaultPath := opts.DefaultPath
	if defaultPath == "" {
		defaultPath = "/"
	}
	return &Gate{signIn: signIn, defaultPath: defaultPath}
}

// Authorize decides whether a caller may see a screen restricted to allowed.
// An empty allowed set denies everyone.
func (g *Gate) Authorize(state State, allowed []models.Role) Decision {
	if state.Identity == nil {
		return Decision{
			Outcome: OutcomeRedirect,
			Reason:  ErrAuthenticationRequired,
			Code:    "authentication_required",
			Target:  g.signIn,
			Allowed: allowed,
		}
	}
	if state.RolePending {
		return Decision{Outcome: OutcomeWait, Allowed: allowed}
	}
	role := state.Identity.Role
	for _, candidate := range allowed {
		if candidate == role {
			return Decision{Outcome: OutcomeAllow, Role: role, Allowed: allowed}
		}
	}
	return Decision{
		Outcome: OutcomeRedirect,
		Reason:  ErrRoleMismatch,
		Code:    "role_mismatch",
		Target:  g.defaultPath,
		Role:    role,
		Allowed: allowed,
	}
}

// Notice renders a human readable explanation of a denial.
func Notice(d Decision) string {
	switch {
	case errors.Is(d.Reason, ErrAuthenticationRequired):
		return "Please sign in to continue."
	case errors.Is(d.Reason, ErrRoleMismatch):
		if d.Role == "" {
			return "Your account has no role yet, so this page is not available."
		}
		return fmt.Sprintf("This page is for %s accounts. You are signed in as %s.", joinRoles(d.Allowed), d.Role)
	default:
		return ""
	}
}

func joinRoles(roles []models.Role) string {
	if len(roles) == 0 {
		return "no"
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	return strings.Join(names, " or ")
}
