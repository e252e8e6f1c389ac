package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/amajid/jamiya/internal/gateway"
	"github.com/amajid/jamiya/pkg/middleware"
	"github.com/amajid/jamiya/pkg/response"
)

// Handler handles HTTP requests for payment operations
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for payment endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/contributions", h.InitiateContribution)
	r.Get("/", h.List)
	r.Get("/{id}", h.GetByID)
	r.Post("/{id}/complete", h.CompleteContribution)
	r.Post("/{id}/cancel", h.Cancel)

	return r
}

// InitiateContribution handles POST /payments/contributions
// @Summary      Initiate a contribution
// @Description  Create a pending contribution for the pool's current round and open a gateway order
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        request body InitiateContributionRequest true "Contribution request"
// @Success      201 {object} response.APIResponse{data=RecordResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Router       /payments/contributions [post]
func (h *Handler) InitiateContribution(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		userID = 1
	}

	var req InitiateContributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if req.PoolID == 0 {
		response.BadRequest(w, "pool_id is required")
		return
	}

	rec, err := h.service.InitiateContribution(r.Context(), userID, &req)
	if err != nil {
		switch {
		case errors.Is(err, ErrPoolNotFound):
			response.NotFound(w, err.Error())
		case errors.Is(err, ErrNotPoolMember):
			response.Forbidden(w, err.Error())
		case errors.Is(err, ErrPoolComplete),
			errors.Is(err, ErrRecipientCannotContribute):
			response.BadRequest(w, err.Error())
		case errors.Is(err, ErrAlreadyContributed):
			response.Conflict(w, err.Error())
		case errors.Is(err, ErrNoRecipient):
			response.InternalError(w, err.Error())
		case gateway.IsRetryable(err):
			response.ServiceUnavailable(w, "Payment gateway temporarily unavailable")
		default:
			var gwErr *gateway.Error
			if errors.As(err, &gwErr) {
				response.BadGateway(w, gwErr.Message)
				return
			}
			response.InternalError(w, "Failed to initiate contribution")
		}
		return
	}

	response.JSON(w, http.StatusCreated, rec.ToResponse())
}

// CompleteContribution handles POST /payments/{id}/complete
// @Summary      Complete a contribution
// @Description  Capture the gateway order and settle the contribution into the round ledger
// @Tags         payments
// @Produce      json
// @Param        id path string true "Payment ID"
// @Success      200 {object} response.APIResponse{data=RecordResponse}
// @Failure      404 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Router       /payments/{id}/complete [post]
func (h *Handler) CompleteContribution(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		userID = 1
	}

	rec, err := h.service.CompleteContribution(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrPaymentNotFound):
			response.NotFound(w, err.Error())
		case errors.Is(err, ErrNotPaymentOwner):
			response.Forbidden(w, err.Error())
		case errors.Is(err, ErrNotContribution):
			response.BadRequest(w, err.Error())
		case errors.Is(err, ErrInvalidTransition):
			response.Conflict(w, err.Error())
		case gateway.IsRetryable(err):
			response.ServiceUnavailable(w, "Payment gateway temporarily unavailable")
		default:
			var gwErr *gateway.Error
			if errors.As(err, &gwErr) {
				response.BadGateway(w, gwErr.Message)
				return
			}
			response.InternalError(w, "Failed to complete contribution")
		}
		return
	}

	response.JSON(w, http.StatusOK, rec.ToResponse())
}

// Cancel handles POST /payments/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		userID = 1
	}

	rec, err := h.service.CancelPayment(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrPaymentNotFound):
			response.NotFound(w, err.Error())
		case errors.Is(err, ErrNotPaymentOwner):
			response.Forbidden(w, err.Error())
		case errors.Is(err, ErrInvalidTransition):
			response.Conflict(w, err.Error())
		default:
			response.InternalError(w, "Failed to cancel payment")
		}
		return
	}

	response.JSON(w, http.StatusOK, rec.ToResponse())
}

// GetByID handles GET /payments/{id}
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		userID = 1
	}

	rec, err := h.service.GetByID(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrPaymentNotFound):
			response.NotFound(w, err.Error())
		case errors.Is(err, ErrNotPaymentOwner):
			response.Forbidden(w, err.Error())
		default:
			response.InternalError(w, "Failed to get payment")
		}
		return
	}

	response.JSON(w, http.StatusOK, rec.ToResponse())
}

// List handles GET /payments
// @Summary      Transaction history
// @Description  Paginated payment history for the current user with filters
// @Tags         payments
// @Produce      json
// @Param        pool_id query int false "Filter by pool"
// @Param        type query string false "Filter by record type"
// @Param        status query string false "Filter by status"
// @Param        from query string false "Created-at lower bound (RFC 3339)"
// @Param        to query string false "Created-at upper bound (RFC 3339)"
// @Param        q query string false "Free-text search"
// @Success      200 {object} response.APIResponse{data=[]RecordResponse}
// @Router       /payments [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		userID = 1
	}

	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if page < 1 {
		page = 1
	}
	// Same normalization the service applies, so the meta reflects the
	// page size actually used
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	filter := Filter{Search: q.Get("q")}

	if v := q.Get("pool_id"); v != "" {
		poolID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			response.BadRequest(w, "Invalid pool_id filter")
			return
		}
		filter.PoolID = &poolID
	}
	if v := q.Get("type"); v != "" {
		typ := Type(v)
		filter.Type = &typ
	}
	if v := q.Get("status"); v != "" {
		status := Status(v)
		filter.Status = &status
	}
	if v := q.Get("from"); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.BadRequest(w, "Invalid from filter, expected RFC 3339")
			return
		}
		filter.DateFrom = &from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.BadRequest(w, "Invalid to filter, expected RFC 3339")
			return
		}
		filter.DateTo = &to
	}

	records, total, err := h.service.GetTransactionHistory(r.Context(), userID, filter, page, perPage)
	if err != nil {
		response.InternalError(w, "Failed to list payments")
		return
	}

	responses := make([]*RecordResponse, len(records))
	for i, rec := range records {
		responses[i] = rec.ToResponse()
	}

	totalPages := (total + perPage - 1) / perPage
	meta := &response.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	}

	response.JSONWithMeta(w, http.StatusOK, responses, meta)
}
