package escrow

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/amajid/jamiya/internal/gateway"
	"github.com/amajid/jamiya/internal/payment"
	"github.com/amajid/jamiya/pkg/middleware"
	"github.com/amajid/jamiya/pkg/response"
)

// Handler handles HTTP requests for escrow operations
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for escrow endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateHold)
	r.Post("/{id}/release", h.Release)
	r.Post("/{id}/void", h.Void)

	return r
}

// CreateHold handles POST /escrow
// @Summary      Create an escrow hold
// @Description  Open an escrow hold for the pool's current round, pending gateway authorization
// @Tags         escrow
// @Accept       json
// @Produce      json
// @Param        request body CreateHoldRequest true "Hold request"
// @Success      201 {object} response.APIResponse{data=payment.RecordResponse}
// @Failure      400 {object} response.APIResponse
// @Router       /escrow [post]
func (h *Handler) CreateHold(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		userID = 1
	}

	var req CreateHoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if req.PoolID == 0 {
		response.BadRequest(w, "pool_id is required")
		return
	}

	rec, err := h.service.CreateHold(r.Context(), userID, &req)
	if err != nil {
		switch {
		case errors.Is(err, ErrPoolNotFound):
			response.NotFound(w, err.Error())
		case errors.Is(err, ErrNotPoolMember):
			response.Forbidden(w, err.Error())
		case gateway.IsRetryable(err):
			response.ServiceUnavailable(w, "Payment gateway temporarily unavailable")
		default:
			var gwErr *gateway.Error
			if errors.As(err, &gwErr) {
				response.BadGateway(w, gwErr.Message)
				return
			}
			response.InternalError(w, "Failed to create escrow hold")
		}
		return
	}

	response.JSON(w, http.StatusCreated, rec.ToResponse())
}

// Release handles POST /escrow/{id}/release
// @Summary      Release an escrow hold
// @Description  Capture the held funds and credit the pool. Idempotent: repeat calls return the existing release.
// @Tags         escrow
// @Produce      json
// @Param        id path string true "Escrow payment ID"
// @Success      200 {object} response.APIResponse{data=payment.RecordResponse}
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /escrow/{id}/release [post]
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserID(r.Context())
	if !ok {
		actorID = 1
	}

	release, err := h.service.Release(r.Context(), chi.URLParam(r, "id"), actorID)
	if err != nil {
		switch {
		case errors.Is(err, ErrEscrowNotFound):
			response.NotFound(w, err.Error())
		case errors.Is(err, ErrNotAuthorized):
			response.Forbidden(w, err.Error())
		case errors.Is(err, ErrNotEscrow):
			response.BadRequest(w, err.Error())
		case errors.Is(err, payment.ErrInvalidTransition):
			response.Conflict(w, err.Error())
		case gateway.IsRetryable(err):
			response.ServiceUnavailable(w, "Payment gateway temporarily unavailable")
		default:
			var gwErr *gateway.Error
			if errors.As(err, &gwErr) {
				response.BadGateway(w, gwErr.Message)
				return
			}
			response.InternalError(w, "Failed to release escrow")
		}
		return
	}

	response.JSON(w, http.StatusOK, release.ToResponse())
}

// Void handles POST /escrow/{id}/void
func (h *Handler) Void(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserID(r.Context())
	if !ok {
		actorID = 1
	}

	rec, err := h.service.Void(r.Context(), chi.URLParam(r, "id"), actorID)
	if err != nil {
		switch {
		case errors.Is(err, ErrEscrowNotFound):
			response.NotFound(w, err.Error())
		case errors.Is(err, ErrNotAuthorized):
			response.Forbidden(w, err.Error())
		case errors.Is(err, ErrNotEscrow):
			response.BadRequest(w, err.Error())
		case errors.Is(err, payment.ErrInvalidTransition):
			response.Conflict(w, err.Error())
		default:
			response.InternalError(w, "Failed to void escrow")
		}
		return
	}

	response.JSON(w, http.StatusOK, rec.ToResponse())
}
