package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pesio-ai/be-proc-requisitions/internal/approval"
	"github.com/pesio-ai/be-proc-requisitions/internal/errors"
	"github.com/pesio-ai/be-proc-requisitions/internal/logger"
	"github.com/pesio-ai/be-proc-requisitions/internal/notify"
	"github.com/pesio-ai/be-proc-requisitions/internal/repository"
	"github.com/pesio-ai/be-proc-requisitions/internal/service"
)

// Identity headers set by the gateway after authentication.
const (
	HeaderUserID          = "X-User-ID"
	HeaderUserRoles       = "X-User-Roles"
	HeaderUserDepartments = "X-User-Departments"
)

const maxBodyBytes = 1 << 20

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	service *service.WorkflowService
	hub     *notify.Hub
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler. hub may be nil, in which case
// the event stream endpoint is not mounted.
func NewHTTPHandler(service *service.WorkflowService, hub *notify.Hub, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		hub:     hub,
		log:     log.Component("http"),
	}
}

// Routes builds the router. requestTimeout bounds every endpoint except the
// event stream.
func (h *HTTPHandler) Routes(requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(api chi.Router) {
		if h.hub != nil {
			api.Get("/events", h.StreamEvents)
		}

		api.Group(func(api chi.Router) {
			if requestTimeout > 0 {
				api.Use(middleware.Timeout(requestTimeout))
			}

			api.Get("/tags", h.ListTags)
			api.Post("/tags", h.CreateTag)

			api.Get("/requisitions", h.ListRequisitions)
			api.Post("/requisitions", h.CreateRequisition)
			api.Get("/requisitions/pending", h.PendingForActor)
			api.Get("/requisitions/{requisitionID}", h.GetRequisition)
			api.Get("/requisitions/{requisitionID}/selectable", h.Selectable)
			api.Get("/requisitions/{requisitionID}/history", h.History)
			api.Post("/requisitions/{requisitionID}/transitions", h.ApplyBulk)
			api.Post("/requisitions/{requisitionID}/items/{itemID}/transition", h.ApplyItem)
			api.Post("/requisitions/{requisitionID}/items/{itemID}/reopen", h.ReopenItem)
		})
	})
	return r
}

// ── Requisitions ──────────────────────────────────────────────────────────────

// CreateRequisition handles create requisition HTTP requests
func (h *HTTPHandler) CreateRequisition(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body createRequisitionRequest
	if !h.decode(w, r, &body) {
		return
	}

	in := &service.CreateRequisitionRequest{
		Purpose:    body.Purpose,
		Department: body.Department,
		Items:      make([]*service.LineItemRequest, 0, len(body.Items)),
	}
	var err error
	if in.DateNeeded, err = parseDate(body.DateNeeded); err != nil {
		h.writeError(w, errors.InvalidInput("date_needed", "invalid date format, expected YYYY-MM-DD"))
		return
	}
	if body.DateSubmitted != "" {
		if in.DateSubmitted, err = parseDate(body.DateSubmitted); err != nil {
			h.writeError(w, errors.InvalidInput("date_submitted", "invalid date format, expected YYYY-MM-DD"))
			return
		}
	}
	for _, it := range body.Items {
		in.Items = append(in.Items, &service.LineItemRequest{
			Quantity:    it.Quantity,
			Unit:        it.Unit,
			Description: it.Description,
			TagID:       it.TagID,
		})
	}

	view, err := h.service.CreateRequisition(r.Context(), actor, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequisitionResponse(view))
}

// GetRequisition handles get requisition HTTP requests
func (h *HTTPHandler) GetRequisition(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetRequisition(r.Context(), actor, chi.URLParam(r, "requisitionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequisitionResponse(view))
}

// ListRequisitions handles list requisitions HTTP requests
func (h *HTTPHandler) ListRequisitions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 50
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	filter := repository.ListFilter{
		Departments: splitCSV(q.Get("department")),
		CreatedBy:   q.Get("created_by"),
		Limit:       limit,
		Offset:      offset,
	}

	views, err := h.service.ListRequisitions(r.Context(), actor, filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]requisitionResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toRequisitionResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requisitions": out,
		"limit":        limit,
		"offset":       offset,
	})
}

// PendingForActor handles the approver dashboard queue
func (h *HTTPHandler) PendingForActor(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	entries, err := h.service.PendingForActor(r.Context(), actor)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]pendingEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, pendingEntryResponse{
			Requisition: toRequisitionResponse(e.RequisitionView),
			Selectable:  e.Selectable,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pending": out})
}

// Selectable handles selectable items HTTP requests
func (h *HTTPHandler) Selectable(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	ids, err := h.service.Selectable(r.Context(), chi.URLParam(r, "requisitionID"), actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"item_ids": ids})
}

// History handles requisition event log HTTP requests
func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	events, err := h.service.History(r.Context(), actor, chi.URLParam(r, "requisitionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// ── Transitions ───────────────────────────────────────────────────────────────

// ApplyItem handles single item transition HTTP requests. A refused
// transition answers with the failure's status and the unchanged requisition.
func (h *HTTPHandler) ApplyItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body transitionRequest
	if !h.decode(w, r, &body) {
		return
	}
	action, err := approval.ParseAction(body.Action)
	if err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.service.ApplyItem(r.Context(),
		chi.URLParam(r, "requisitionID"), chi.URLParam(r, "itemID"),
		actor, action, body.Remark)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if res.Failure != nil {
		status = statusForKind(res.Failure.Kind)
	}
	writeJSON(w, status, itemResultResponse{
		ItemOutcome: res.ItemOutcome,
		Requisition: toRequisitionResponse(res.RequisitionView),
	})
}

// ApplyBulk handles bulk transition HTTP requests. The response lists
// per-item outcomes even when the store fails part way; the error is then
// carried alongside them with the matching status code.
func (h *HTTPHandler) ApplyBulk(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body bulkTransitionRequest
	if !h.decode(w, r, &body) {
		return
	}
	action, err := approval.ParseAction(body.Action)
	if err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.service.ApplyBulk(r.Context(), chi.URLParam(r, "requisitionID"), body.ItemIDs, actor, action, body.Remark)
	if err != nil && res == nil {
		h.writeError(w, err)
		return
	}

	status, out := http.StatusOK, batchResultResponse{
		Items:       res.Items,
		Committed:   res.Count(service.OutcomeCommitted),
		Skipped:     res.Count(service.OutcomeSkipped),
		Rejected:    res.Count(service.OutcomeRejected),
		Requisition: toRequisitionResponse(res.RequisitionView),
	}
	if err != nil {
		// Items listed as committed stay committed; the rest were not tried.
		var body errorBody
		status, body = h.errorFor(err)
		out.Error = &body
	}
	writeJSON(w, status, out)
}

// ReopenItem handles reopen rejected item HTTP requests
func (h *HTTPHandler) ReopenItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body reopenItemRequest
	if !h.decode(w, r, &body) {
		return
	}

	view, err := h.service.ReopenItem(r.Context(),
		chi.URLParam(r, "requisitionID"), chi.URLParam(r, "itemID"),
		actor, &service.ReopenItemRequest{
			Quantity:    body.Quantity,
			Unit:        body.Unit,
			Description: body.Description,
			TagID:       body.TagID,
		})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequisitionResponse(view))
}

// ── Tags ──────────────────────────────────────────────────────────────────────

// CreateTag handles create tag HTTP requests
func (h *HTTPHandler) CreateTag(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body createTagRequest
	if !h.decode(w, r, &body) {
		return
	}

	tag, err := h.service.CreateTag(r.Context(), actor, body.Name, body.Description, body.RequiresReview)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTagResponse(tag))
}

// ListTags handles list tags HTTP requests
func (h *HTTPHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.service.ListTags(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]tagResponse, 0, len(tags))
	for _, t := range tags {
		out = append(out, toTagResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tags": out})
}

// ── Events ────────────────────────────────────────────────────────────────────

// StreamEvents streams change events relevant to the actor over SSE. The
// scope query parameter narrows the stream to "mine", "roles" or
// "departments"; by default all three apply.
func (h *HTTPHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	roles := make([]string, 0, len(actor.Roles))
	for _, role := range actor.Roles {
		roles = append(roles, string(role))
	}

	var filter notify.Filter
	switch scope := r.URL.Query().Get("scope"); scope {
	case "mine":
		filter.UserID = actor.ID
	case "roles":
		filter.Roles = roles
	case "departments":
		filter.Departments = actor.Departments
	case "":
		filter = notify.Filter{UserID: actor.ID, Roles: roles, Departments: actor.Departments}
	default:
		h.writeError(w, errors.InvalidInput("scope", "scope must be mine, roles or departments"))
		return
	}

	h.hub.ServeSSE(w, r, filter)
}

// ── helpers ───────────────────────────────────────────────────────────────────

// actor reads the caller's identity from the gateway headers.
func (h *HTTPHandler) actor(w http.ResponseWriter, r *http.Request) (approval.Actor, bool) {
	roles, err := approval.ParseRoles(r.Header.Get(HeaderUserRoles))
	if err != nil {
		h.writeError(w, errors.InvalidInput("actor", err.Error()))
		return approval.Actor{}, false
	}
	actor := approval.Actor{
		ID:          strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Roles:       roles,
		Departments: splitCSV(r.Header.Get(HeaderUserDepartments)),
	}
	if err := actor.Validate(); err != nil {
		h.writeError(w, errors.InvalidInput("actor", err.Error()))
		return approval.Actor{}, false
	}
	return actor, true
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
			Code:    "BAD_REQUEST",
			Message: "Invalid request body",
		}})
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status, body := h.errorFor(err)
	writeJSON(w, status, errorResponse{Error: body})
}

// errorFor maps err to a status code and response body. Internal details are
// logged and masked.
func (h *HTTPHandler) errorFor(err error) (int, errorBody) {
	if re, ok := approval.AsRuleError(err); ok {
		return statusForKind(re.Kind), errorBody{
			Code:    string(re.Kind),
			Message: re.Message,
			Reason:  string(re.Reason),
		}
	}

	body := errorBody{Code: string(errors.CodeOf(err)), Message: err.Error()}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		body.Message = appErr.Message
		body.Field = appErr.Field
	}

	status := statusForCode(errors.CodeOf(err))
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
		body.Message = "internal error"
	}
	return status, body
}

func statusForCode(code errors.Code) int {
	switch code {
	case errors.ErrCodeInvalidInput:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func statusForKind(kind approval.Kind) int {
	switch kind {
	case approval.KindValidation:
		return http.StatusUnprocessableEntity
	case approval.KindAuthorization:
		return http.StatusForbidden
	case approval.KindState:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, strings.TrimSpace(s))
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
