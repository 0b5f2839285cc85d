package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"foodbridge/internal/access"
	"foodbridge/internal/lifecycle"
	"foodbridge/internal/models"
	"foodbridge/internal/notify"
	"foodbridge/internal/offline"
	"foodbridge/internal/session"
	"foodbridge/internal/store"
	"foodbridge/internal/validation"
)

type Subscriber interface {
	RequestPermission(ctx context.Context, identity models.Identity, sub models.PushSubscription) (models.PushSubscription, error)
	Revoke(ctx context.Context, identity models.Identity, endpoint string) error
}

type Handler struct {
	reports  *lifecycle.Service
	profiles store.ProfileStore
	auth     *session.Authenticator
	gate     *access.Gate
	notices  *access.NoticeTracker
	push     Subscriber
	manifest offline.Manifest
}

type Options struct {
	Gate           *access.Gate
	Push           Subscriber
	OfflineVersion string
	NoticeTTL      time.Duration
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

var allRoles = []models.Role{models.RoleHotel, models.RoleAgent, models.RoleAdmin}

func NewHandler(reports *lifecycle.Service, profiles store.ProfileStore, auth *session.Authenticator, opts Options) *Handler {
	gate := opts.Gate
	if gate == nil {
		gate = access.NewGate(access.Options{})
	}
	return &Handler{
		reports:  reports,
		profiles: profiles,
		auth:     auth,
		gate:     gate,
		notices:  access.NewNoticeTracker(opts.NoticeTTL),
		push:     opts.Push,
		manifest: offline.NewManifest(opts.OfflineVersion),
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/api/me", h.handleMe)
	mux.HandleFunc("/api/me/role", h.handleRole)
	mux.HandleFunc("/api/gate", h.handleGate)
	mux.Handle("/api/profile/hotel", h.require(h.handleHotelProfile, models.RoleHotel))
	mux.Handle("/api/profile/agent", h.require(h.handleAgentProfile, models.RoleAgent))
	mux.Handle("/api/reports", h.require(h.handleReports, allRoles...))
	mux.Handle("/api/reports/", h.require(h.handleReportRoutes, allRoles...))
	mux.Handle("/api/stats/hotel", h.require(h.handleHotelStats, models.RoleHotel))
	mux.Handle("/api/beneficiaries", h.require(h.handleBeneficiaries, models.RoleAgent, models.RoleAdmin))
	mux.Handle("/api/push/subscriptions", h.require(h.handlePushSubscriptions, allRoles...))
	mux.HandleFunc("/api/offline-manifest", h.handleOfflineManifest)
	mux.HandleFunc("/api/notifications/click", h.handleNotificationClick)
	mux.Handle("/api/admin/reports", h.require(h.handleClearReports, models.RoleAdmin))
	mux.Handle("/api/admin/agents/", h.require(h.handleAgentActive, models.RoleAdmin))
	return mux
}

func (h *Handler) require(next http.HandlerFunc, roles ...models.Role) http.Handler {
	return RequireRoles(h.gate, roles...)(next)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type meResponse struct {
	ID          string      `json:"id"`
	Email       string      `json:"email,omitempty"`
	Role        models.Role `json:"role,omitempty"`
	RolePending bool        `json:"role_pending"`
	Home        string      `json:"home"`
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	state, _ := session.FromContext(r.Context())
	if state.Identity == nil {
		writeMappedError(w, requestIDFromRequest(r), access.ErrAuthenticationRequired)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		ID:          state.Identity.ID,
		Email:       state.Identity.Email,
		Role:        state.Identity.Role,
		RolePending: state.RolePending,
		Home:        access.HomeFor(state.Identity.Role),
	})
}

type roleRequest struct {
	Role models.Role `json:"role"`
}

// handleRole records the role chosen at sign-up. Admins are provisioned out
// of band, never self-assigned.
func (h *Handler) handleRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identity, ok := identityFromRequest(r)
	if !ok {
		writeMappedError(w, requestIDFromRequest(r), access.ErrAuthenticationRequired)
		return
	}
	var req roleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Role != models.RoleHotel && req.Role != models.RoleAgent {
		verr := &store.ValidationError{}
		verr.Add("role", "invalid_choice")
		writeMappedError(w, requestIDFromRequest(r), verr)
		return
	}
	if err := h.profiles.SetRole(r.Context(), identity.ID, req.Role); err != nil {
		writeMappedError(w, requestIDFromRequest(r), err)
		return
	}
	h.auth.Forget(identity.ID)
	writeJSON(w, http.StatusOK, roleRequest{Role: req.Role})
}

type gateResponse struct {
	access.Decision
	Screen string `json:"screen"`
	Notice string `json:"notice,omitempty"`
}

func (h *Handler) handleGate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	screen := strings.TrimSpace(r.URL.Query().Get("screen"))
	roles, ok := access.ScreenRoles(screen)
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "screen_not_found", "unknown screen")
		return
	}
	state, _ := session.FromContext(r.Context())
	decision := h.gate.Authorize(state, roles)

	viewer := viewerID(r, state)
	resp := gateResponse{Decision: decision, Screen: screen}
	if notice, show := h.notices.Observe(viewer, decision); show {
		resp.Notice = notice
	}
	writeJSON(w, http.StatusOK, resp)
}

// viewerID keys gate notices: the identity when signed in, otherwise the
// client's own viewer id, falling back to the client IP.
func viewerID(r *http.Request, state access.State) string {
	if state.Identity != nil {
		return "id:" + state.Identity.ID
	}
	if v := strings.TrimSpace(r.Header.Get("X-Viewer-ID")); v != "" && len(v) <= 128 {
		return "viewer:" + v
	}
	return "ip:" + clientIP(r)
}

type hotelProfileRequest struct {
	Name        string   `json:"name"`
	Phone       string   `json:"phone"`
	AddressLine string   `json:"address_line"`
	Area        string   `json:"area"`
	City        string   `json:"city"`
	State       string   `json:"state"`
	Pincode     string   `json:"pincode"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

func (h *Handler) handleHotelProfile(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromRequest(r)
	switch r.Method {
	case http.MethodGet:
		hotel, err := h.profiles.GetHotelByIdentity(r.Context(), identity.ID)
		if err != nil {
			writeMappedError(w, requestIDFromRequest(r), err)
			return
		}
		writeJSON(w, http.StatusOK, hotel)
	case http.MethodPut:
		var req hotelProfileRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		hotel := models.HotelProfile{
			IdentityID:  identity.ID,
			Name:        strings.TrimSpace(req.Name),
			Phone:       strings.TrimSpace(req.Phone),
			AddressLine: strings.TrimSpace(req.AddressLine),
			Area:        strings.TrimSpace(req.Area),
			City:        strings.TrimSpace(req.City),
			State:       strings.TrimSpace(req.State),
			Pincode:     strings.TrimSpace(req.Pincode),
			Latitude:    req.Latitude,
			Longitude:   req.Longitude,
		}
		if err := validation.Struct(hotel); err != nil {
			writeMappedError(w, requestIDFromRequest(r), err)
			return
		}
		saved, err := h.profiles.SaveHotel(r.Context(), hotel)
		if err != nil {
			writeMappedError(w, requestIDFromRequest(r), err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type agentProfileRequest struct {
	Name      string   `json:"name"`
	Phone     string   `json:"phone"`
	Area      string   `json:"area"`
	Zone      string   `json:"zone"`
	UniqueID  string   `json:"unique_id"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (h *Handler) handleAgentProfile(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromRequest(r)
	switch r.Method {
	case http.MethodGet:
		agent, err := h.profiles.GetAgentByIdentity(r.Context(), identity.ID)
		if err != nil {
			writeMappedError(w, requestIDFromRequest(r), err)
			return
		}
		writeJSON(w, http.StatusOK, agent)
	case http.MethodPut:
		var req agentProfileRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		agent := models.AgentProfile{
			IdentityID: identity.ID,
			Name:       strings.TrimSpace(req.Name),
			Phone:      strings.TrimSpace(req.Phone),
			Area:       strings.TrimSpace(req.Area),
			Zone:       strings.TrimSpace(req.Zone),
			UniqueID:   strings.TrimSpace(req.UniqueID),
			Latitude:   req.Latitude,
			Longitude:  req.Longitude,
		}
		if err := validation.Struct(agent); err != nil {
			writeMappedError(w, requestIDFromRequest(r), err)
			return
		}
		saved, err := h.profiles.SaveAgent(r.Context(), agent)
		if err != nil {
			writeMappedError(w, requestIDFromRequest(r), err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleReports(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromRequest(r)
	switch r.Method {
	case http.MethodGet:
		status := strings.TrimSpace(r.URL.Query().Get("status"))
		reports, err := h.reports.List(r.Context(), identity, status)
		if err != nil {
			writeMappedError(w, requestIDFromRequest(r), err)
			return
		}
		if reports == nil {
			reports = []models.FoodReport{}
		}
		writeJSON(w, http.StatusOK, reports)
	case http.MethodPost:
		var req lifecycle.CreateInput
		if !decodeJSON(w, r, &req) {
			return
		}
		req.FoodName = strings.TrimSpace(req.FoodName)
		req.Description = strings.TrimSpace(req.Description)
		report, err := h.reports.Create(r.Context(), identity, req)
		if err != nil {
			writeMappedError(w, requestIDFromRequest(r), err)
			return
		}
		writeJSON(w, http.StatusCreated, report)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleReportRoutes serves /api/reports/{id} and
// /api/reports/{id}/actions/{action}.
func (h *Handler) handleReportRoutes(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromRequest(r)
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/reports/"), "/"), "/")
	reportID := parts[0]
	if !isValidUUID(reportID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "report id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		report, err := h.reports.Get(r.Context(), identity, reportID)
		if err != nil {
			writeMappedError(w, requestIDFromRequest(r), err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		action := parts[2]
		if _, ok := store.TargetStatus(action); !ok {
			writeError(w, requestIDFromRequest(r), http.StatusNotFound, "unknown_action", "unknown report action")
			return
		}
		report, err := h.reports.Apply(r.Context(), identity, reportID, action)
		if err != nil {
			writeMappedError(w, requestIDFromRequest(r), err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	default:
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "not found")
	}
}

func (h *Handler) handleHotelStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identity, _ := identityFromRequest(r)
	stats, err := h.reports.Stats(r.Context(), identity)
	if err != nil {
		writeMappedError(w, requestIDFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type beneficiaryRequest struct {
	Name        string   `json:"name"`
	Area        string   `json:"area"`
	City        string   `json:"city"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Preference  string   `json:"preference"`
	PeopleCount int      `json:"people_count"`
	Notes       string   `json:"notes"`
}

func (h *Handler) handleBeneficiaries(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromRequest(r)
	switch r.Method {
	case http.MethodGet:
		list, err := h.profiles.ListBeneficiaries(r.Context())
		if err != nil {
			writeMappedError(w, requestIDFromRequest(r), err)
			return
		}
		if list == nil {
			list = []models.Beneficiary{}
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		if identity.Role != models.RoleAdmin {
			writeMappedError(w, requestIDFromRequest(r), access.ErrRoleMismatch)
			return
		}
		var req beneficiaryRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		beneficiary := models.Beneficiary{
			Name:        strings.TrimSpace(req.Name),
			Area:        strings.TrimSpace(req.Area),
			City:        strings.TrimSpace(req.City),
			Latitude:    req.Latitude,
			Longitude:   req.Longitude,
			Preference:  strings.TrimSpace(req.Preference),
			PeopleCount: req.PeopleCount,
			Notes:       strings.TrimSpace(req.Notes),
		}
		if err := validation.Struct(beneficiary); err != nil {
			writeMappedError(w, requestIDFromRequest(r), err)
			return
		}
		created, err := h.profiles.CreateBeneficiary(r.Context(), beneficiary)
		if err != nil {
			writeMappedError(w, requestIDFromRequest(r), err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// subscriptionRequest mirrors the browser's PushSubscription JSON.
type subscriptionRequest struct {
	Endpoint       string `json:"endpoint"`
	ExpirationTime *int64 `json:"expirationTime"`
	Keys           struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (h *Handler) handlePushSubscriptions(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromRequest(r)
	if h.push == nil {
		writeError(w, requestIDFromRequest(r), http.StatusServiceUnavailable, "push_unavailable", "push notifications are not configured")
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req subscriptionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		sub, err := h.push.RequestPermission(r.Context(), identity, models.PushSubscription{
			Endpoint: strings.TrimSpace(req.Endpoint),
			P256dh:   req.Keys.P256dh,
			Auth:     req.Keys.Auth,
		})
		if err != nil {
			writeMappedError(w, requestIDFromRequest(r), err)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodDelete:
		endpoint := strings.TrimSpace(r.URL.Query().Get("endpoint"))
		if err := h.push.Revoke(r.Context(), identity, endpoint); err != nil {
			writeMappedError(w, requestIDFromRequest(r), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleOfflineManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, h.manifest)
}

type clickResponse struct {
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
	Open   bool   `json:"open"`
}

func (h *Handler) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()
	data := notify.Data{
		TaskID: strings.TrimSpace(query.Get("task_id")),
		URL:    strings.TrimSpace(query.Get("url")),
		Phone:  strings.TrimSpace(query.Get("phone")),
	}
	if lat, lng := query.Get("lat"), query.Get("lng"); lat != "" || lng != "" {
		latitude, errLat := strconv.ParseFloat(lat, 64)
		longitude, errLng := strconv.ParseFloat(lng, 64)
		if errLat != nil || errLng != nil {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "lat and lng must be numbers")
			return
		}
		data.Coordinates = &notify.Coordinates{Latitude: latitude, Longitude: longitude}
	}
	action := strings.TrimSpace(query.Get("action"))
	target, open := notify.ClickTarget(action, data)
	writeJSON(w, http.StatusOK, clickResponse{Action: action, Target: target, Open: open})
}

func (h *Handler) handleClearReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identity, _ := identityFromRequest(r)
	var statuses []string
	for _, status := range strings.Split(r.URL.Query().Get("status"), ",") {
		if status = strings.TrimSpace(status); status != "" {
			statuses = append(statuses, status)
		}
	}
	var before time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("before")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "before must be RFC3339 timestamp")
			return
		}
		before = parsed
	}
	removed, err := h.reports.ClearTerminal(r.Context(), identity, statuses, before)
	if err != nil {
		writeMappedError(w, requestIDFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

type agentActiveRequest struct {
	Active *bool `json:"active"`
}

// handleAgentActive serves PUT /api/admin/agents/{id}/active.
func (h *Handler) handleAgentActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/admin/agents/"), "/"), "/")
	if len(parts) != 2 || parts[1] != "active" {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "not found")
		return
	}
	if !isValidUUID(parts[0]) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "agent id must be a UUID")
		return
	}
	var req agentActiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Active == nil {
		verr := &store.ValidationError{}
		verr.Add("active", "required")
		writeMappedError(w, requestIDFromRequest(r), verr)
		return
	}
	agent, err := h.profiles.SetAgentActive(r.Context(), parts[0], *req.Active)
	if err != nil {
		writeMappedError(w, requestIDFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, access.ErrAuthenticationRequired):
		return http.StatusUnauthorized, "authentication_required", "authentication required"
	case errors.Is(err, access.ErrRoleMismatch):
		return http.StatusForbidden, "role_mismatch", "role not allowed for this action"
	case errors.Is(err, store.ErrNotOwner):
		return http.StatusForbidden, "not_owner", "report belongs to someone else"
	case errors.Is(err, store.ErrAgentInactive):
		return http.StatusForbidden, "agent_inactive", "agent is not active"
	case errors.Is(err, store.ErrReportNotFound):
		return http.StatusNotFound, "report_not_found", "report not found"
	case errors.Is(err, store.ErrProfileNotFound):
		return http.StatusNotFound, "profile_not_found", "profile not found"
	case errors.Is(err, store.ErrClaimConflict):
		return http.StatusConflict, "claim_conflict", "report already taken"
	case errors.Is(err, store.ErrStaleReport):
		return http.StatusConflict, "stale_report", "report changed, refresh and retry"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "report status does not allow this action"
	case errors.Is(err, store.ErrRoleAlreadySet):
		return http.StatusConflict, "role_already_set", "role already set"
	case errors.Is(err, store.ErrValidation):
		return http.StatusUnprocessableEntity, "validation_failed", "validation failed"
	case errors.Is(err, store.ErrRemoteService), errors.Is(err, session.ErrRolePending):
		return http.StatusServiceUnavailable, "remote_unavailable", "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeMappedError(w http.ResponseWriter, requestID string, err error) {
	status, code, msg := mapError(err)
	resp := errorResponse{
		RequestID: requestID,
		Error:     responseError{Code: code, Message: msg},
	}
	var verr *store.ValidationError
	if errors.As(err, &verr) {
		resp.Error.Details = verr.Violations
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
