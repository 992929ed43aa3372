package handler

import (
	"time"

	"github.com/pesio-ai/be-proc-requisitions/internal/approval"
	"github.com/pesio-ai/be-proc-requisitions/internal/repository"
	"github.com/pesio-ai/be-proc-requisitions/internal/service"
)

const dateLayout = "2006-01-02"

// ── Requests ──────────────────────────────────────────────────────────────────

type createRequisitionRequest struct {
	Purpose       string               `json:"purpose"`
	Department    string               `json:"department"`
	DateSubmitted string               `json:"date_submitted,omitempty"`
	DateNeeded    string               `json:"date_needed"`
	Items         []lineItemRequestDTO `json:"items"`
}

type lineItemRequestDTO struct {
	Quantity    int    `json:"quantity"`
	Unit        string `json:"unit"`
	Description string `json:"description"`
	TagID       string `json:"tag_id"`
}

type transitionRequest struct {
	Action string `json:"action"`
	Remark string `json:"remark"`
}

type bulkTransitionRequest struct {
	ItemIDs []string `json:"item_ids"`
	Action  string   `json:"action"`
	Remark  string   `json:"remark"`
}

type reopenItemRequest struct {
	Quantity    int    `json:"quantity,omitempty"`
	Unit        string `json:"unit,omitempty"`
	Description string `json:"description,omitempty"`
	TagID       string `json:"tag_id,omitempty"`
}

type createTagRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	RequiresReview *bool  `json:"requires_review,omitempty"`
}

// ── Responses ─────────────────────────────────────────────────────────────────

type lineItemResponse struct {
	ID             string            `json:"id"`
	Position       int               `json:"position"`
	Quantity       int               `json:"quantity"`
	Unit           string            `json:"unit"`
	Description    string            `json:"description"`
	TagID          string            `json:"tag_id"`
	RequiresReview bool              `json:"requires_review"`
	Status         repository.Status `json:"status"`
	Remark         string            `json:"remark,omitempty"`
	ActedBy        *string           `json:"acted_by,omitempty"`
	ActedAt        *time.Time        `json:"acted_at,omitempty"`
	AwaitingRole   string            `json:"awaiting_role,omitempty"`
}

type signatureResponse struct {
	By string    `json:"by"`
	At time.Time `json:"at"`
}

type requisitionResponse struct {
	ID            string             `json:"id"`
	SeriesNumber  int64              `json:"series_number"`
	Purpose       string             `json:"purpose"`
	Department    string             `json:"department"`
	DateSubmitted string             `json:"date_submitted"`
	DateNeeded    string             `json:"date_needed"`
	CreatedBy     string             `json:"created_by"`
	HODSignature  *signatureResponse `json:"hod_signature,omitempty"`
	TRSignature   *signatureResponse `json:"tr_signature,omitempty"`
	PONumber      *string            `json:"po_number,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Items         []lineItemResponse `json:"items"`
	Summary       approval.Summary   `json:"summary"`
}

type itemResultResponse struct {
	service.ItemOutcome
	Requisition requisitionResponse `json:"requisition"`
}

type batchResultResponse struct {
	Items       []service.ItemOutcome `json:"items"`
	Committed   int                   `json:"committed"`
	Skipped     int                   `json:"skipped"`
	Rejected    int                   `json:"rejected"`
	Requisition requisitionResponse   `json:"requisition"`
	Error       *errorBody            `json:"error,omitempty"`
}

type pendingEntryResponse struct {
	Requisition requisitionResponse `json:"requisition"`
	Selectable  []string            `json:"selectable"`
}

type tagResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	RequiresReview bool      `json:"requires_review"`
	CreatedAt      time.Time `json:"created_at"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func toRequisitionResponse(v *service.RequisitionView) requisitionResponse {
	req := v.Requisition
	out := requisitionResponse{
		ID:            req.ID,
		SeriesNumber:  req.SeriesNumber,
		Purpose:       req.Purpose,
		Department:    req.Department,
		DateSubmitted: req.DateSubmitted.Format(dateLayout),
		DateNeeded:    req.DateNeeded.Format(dateLayout),
		CreatedBy:     req.CreatedBy,
		PONumber:      req.PONumber,
		CreatedAt:     req.CreatedAt,
		UpdatedAt:     req.UpdatedAt,
		Items:         make([]lineItemResponse, 0, len(req.Items)),
		Summary:       v.Summary,
	}
	if req.HODSignedBy != nil && req.HODSignedAt != nil {
		out.HODSignature = &signatureResponse{By: *req.HODSignedBy, At: *req.HODSignedAt}
	}
	if req.TRSignedBy != nil && req.TRSignedAt != nil {
		out.TRSignature = &signatureResponse{By: *req.TRSignedBy, At: *req.TRSignedAt}
	}
	for _, it := range req.Items {
		out.Items = append(out.Items, lineItemResponse{
			ID:             it.ID,
			Position:       it.Position,
			Quantity:       it.Quantity,
			Unit:           it.Unit,
			Description:    it.Description,
			TagID:          it.TagID,
			RequiresReview: it.RequiresReview,
			Status:         it.Status,
			Remark:         it.Remark,
			ActedBy:        it.ActedBy,
			ActedAt:        it.ActedAt,
			AwaitingRole:   approval.AwaitingRole(it.Status),
		})
	}
	return out
}

func toTagResponse(t *repository.Tag) tagResponse {
	return tagResponse{
		ID:             t.ID,
		Name:           t.Name,
		Description:    t.Description,
		RequiresReview: t.RequiresReview,
		CreatedAt:      t.CreatedAt,
	}
}
