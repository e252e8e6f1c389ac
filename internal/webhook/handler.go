package webhook

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/amajid/jamiya/pkg/response"
)

// Handler receives gateway webhook deliveries
type Handler struct {
	verifier *Verifier
	service  *Service
}

// NewHandler creates a new webhook handler
func NewHandler(verifier *Verifier, service *Service) *Handler {
	return &Handler{verifier: verifier, service: service}
}

// Routes returns the router for webhook endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/gateway", h.Receive)

	return r
}

// Receive handles POST /webhooks/gateway
// @Summary      Receive a gateway event
// @Description  Verify, store, and reconcile a payment gateway notification
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Success      200 {object} response.APIResponse
// @Failure      400 {object} response.APIResponse
// @Failure      503 {object} response.APIResponse
// @Router       /webhooks/gateway [post]
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		response.BadRequest(w, "Failed to read request body")
		return
	}

	if err := h.verifier.Verify(body, r.Header.Get("X-Gateway-Signature")); err != nil {
		if errors.Is(err, ErrVerifierUnavailable) {
			// 503 asks the gateway to redeliver once the secret is in place
			response.ServiceUnavailable(w, "Webhook verification unavailable")
			return
		}
		response.BadRequest(w, "Invalid webhook signature")
		return
	}

	evt, err := ParseEvent(body)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	outcome, err := h.service.Process(r.Context(), evt, body)
	if err != nil {
		// The event was not durably recorded; a 500 makes the gateway retry
		response.InternalError(w, "Failed to process webhook event")
		return
	}

	// Acknowledged once recorded, even when orphaned or anomalous; the
	// retry sweep and operators take it from here
	response.JSON(w, http.StatusOK, map[string]string{
		"event_id": evt.ID,
		"outcome":  string(outcome),
	})
}
