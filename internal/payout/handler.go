package payout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/amajid/jamiya/internal/gateway"
	"github.com/amajid/jamiya/pkg/middleware"
	"github.com/amajid/jamiya/pkg/response"
)

// ExecuteRequest triggers the payout for a pool's current round
type ExecuteRequest struct {
	PoolID int64 `json:"pool_id" validate:"required"`
}

// Handler handles HTTP requests for payout operations
type Handler struct {
	service *Service
}

// NewHandler creates a new payout handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for payout endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Execute)
	r.Get("/eligibility", h.Eligibility)

	return r
}

// Execute handles POST /payouts
// @Summary      Execute a round payout
// @Description  Pay the current round's pooled funds to the recipient and advance the round. Idempotent per round.
// @Tags         payouts
// @Accept       json
// @Produce      json
// @Param        request body ExecuteRequest true "Payout request"
// @Success      200 {object} response.APIResponse{data=payment.RecordResponse}
// @Failure      403 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Router       /payouts [post]
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserID(r.Context())
	if !ok {
		actorID = 1
	}

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if req.PoolID == 0 {
		response.BadRequest(w, "pool_id is required")
		return
	}

	rec, err := h.service.ExecutePayout(r.Context(), actorID, req.PoolID)
	if err != nil {
		switch {
		case errors.Is(err, ErrPoolNotFound):
			response.NotFound(w, err.Error())
		case errors.Is(err, ErrNotAuthorized):
			response.Forbidden(w, err.Error())
		case errors.Is(err, ErrPoolComplete), errors.Is(err, ErrRoundIncomplete):
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
			response.InternalError(w, "Failed to execute payout")
		}
		return
	}

	response.JSON(w, http.StatusOK, rec.ToResponse())
}

// Eligibility handles GET /payouts/eligibility?pool_id=N
func (h *Handler) Eligibility(w http.ResponseWriter, r *http.Request) {
	poolID, err := strconv.ParseInt(r.URL.Query().Get("pool_id"), 10, 64)
	if err != nil || poolID < 1 {
		response.BadRequest(w, "pool_id query parameter is required")
		return
	}

	elig, err := h.service.CanPayout(r.Context(), poolID)
	if err != nil {
		switch {
		case errors.Is(err, ErrPoolNotFound):
			response.NotFound(w, err.Error())
		case errors.Is(err, ErrPoolComplete):
			response.Conflict(w, err.Error())
		case errors.Is(err, ErrNoRecipient):
			response.InternalError(w, err.Error())
		default:
			response.InternalError(w, "Failed to compute payout eligibility")
		}
		return
	}

	response.JSON(w, http.StatusOK, elig)
}
