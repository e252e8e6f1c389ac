package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/amajid/jamiya/internal/payment"
	"github.com/amajid/jamiya/pkg/middleware"
	"github.com/amajid/jamiya/pkg/response"
)

// Handler handles HTTP requests for round ledger queries
type Handler struct {
	service *Service
}

// NewHandler creates a new ledger handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for ledger endpoints, mounted under /pools
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/obligations", h.GetObligations)
	r.Get("/{id}/rounds/current", h.GetCurrentRoundStatus)
	r.Get("/{id}/rounds/{round}", h.GetRoundStatus)

	return r
}

// GetCurrentRoundStatus handles GET /pools/{id}/rounds/current
// @Summary      Get current round status
// @Description  Contribution ledger and payout gate for the pool's current round
// @Tags         pools
// @Produce      json
// @Param        id path int true "Pool ID"
// @Success      200 {object} response.APIResponse{data=RoundStatus}
// @Failure      404 {object} response.APIResponse
// @Router       /pools/{id}/rounds/current [get]
func (h *Handler) GetCurrentRoundStatus(w http.ResponseWriter, r *http.Request) {
	poolID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid pool ID")
		return
	}

	p, err := h.service.pools.GetByID(r.Context(), poolID)
	if err != nil {
		response.InternalError(w, "Failed to get pool")
		return
	}
	if p == nil {
		response.NotFound(w, ErrPoolNotFound.Error())
		return
	}
	if p.IsComplete() {
		response.BadRequest(w, "pool has completed all rounds")
		return
	}

	h.respondWithStatus(w, r, poolID, p.CurrentRound)
}

// GetRoundStatus handles GET /pools/{id}/rounds/{round}
func (h *Handler) GetRoundStatus(w http.ResponseWriter, r *http.Request) {
	poolID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid pool ID")
		return
	}

	round, err := strconv.Atoi(chi.URLParam(r, "round"))
	if err != nil {
		response.BadRequest(w, "Invalid round number")
		return
	}

	h.respondWithStatus(w, r, poolID, round)
}

func (h *Handler) respondWithStatus(w http.ResponseWriter, r *http.Request, poolID int64, round int) {
	status, err := h.service.GetStatus(r.Context(), poolID, round)
	if err != nil {
		switch {
		case errors.Is(err, ErrPoolNotFound):
			response.NotFound(w, err.Error())
		case errors.Is(err, ErrRoundOutOfRange):
			response.BadRequest(w, err.Error())
		case errors.Is(err, payment.ErrNoRecipient):
			// Data inconsistency: surfaced for operators, not auto-corrected
			response.InternalError(w, err.Error())
		default:
			response.InternalError(w, "Failed to get round status")
		}
		return
	}

	response.JSON(w, http.StatusOK, status)
}

// GetObligations handles GET /pools/obligations
// @Summary      Get upcoming obligations
// @Description  What the current user owes into each of their active pools
// @Tags         pools
// @Produce      json
// @Success      200 {object} response.APIResponse{data=[]Obligation}
// @Router       /pools/obligations [get]
func (h *Handler) GetObligations(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		userID = 1
	}

	obligations, err := h.service.GetUpcomingObligations(r.Context(), userID)
	if err != nil {
		response.InternalError(w, "Failed to get obligations")
		return
	}

	response.JSON(w, http.StatusOK, obligations)
}
