package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
)

// deviceRequest carries a device id under its current name or the legacy
// machineId alias.
type deviceRequest struct {
	DeviceID  string `json:"deviceId"`
	MachineID string `json:"machineId"`
}

func (d deviceRequest) device() string {
	if d.DeviceID != "" {
		return d.DeviceID
	}
	return d.MachineID
}

type checkoutResponse struct {
	CheckoutURL string `json:"checkoutUrl"`
	URL         string `json:"url"`
	LicenseKey  string `json:"licenseKey"`
}

type validateRequest struct {
	deviceRequest
	LicenseKey string `json:"licenseKey"`
}

type manageResponse struct {
	PortalURL string `json:"portalUrl"`
	URL       string `json:"url"`
}

func (h *Handler) log(r *http.Request) *zap.Logger {
	return h.logger.With(zap.String("request_id", middleware.GetReqID(r.Context())))
}

func (h *Handler) startCheckout(w http.ResponseWriter, r *http.Request) {
	// The body is optional; anything undecodable means no device lock.
	var req deviceRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	res, err := h.checkout.StartCheckout(r.Context(), req.device())
	if err != nil {
		h.log(r).Error("start checkout", zap.Error(err))
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{
		CheckoutURL: res.CheckoutURL,
		URL:         res.CheckoutURL,
		LicenseKey:  res.LicenseKey,
	})
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	res, err := h.validator.Validate(r.Context(), req.LicenseKey, req.device())
	if err != nil {
		h.log(r).Error("validate license", zap.Error(err))
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		writeText(w, http.StatusBadRequest, "Missing signature")
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeText(w, http.StatusBadRequest, "Unreadable body")
		return
	}
	if err := h.verifier.Verify(payload, signature); err != nil {
		h.log(r).Warn("webhook signature rejected", zap.Error(err))
		writeText(w, http.StatusUnauthorized, "Invalid signature")
		return
	}
	ev, err := h.parser.ParseEvent(payload)
	if err != nil {
		// Authentic but unusable: acknowledge so the sender stops redelivering.
		h.log(r).Error("webhook event malformed, dropped", zap.Error(err))
		writeText(w, http.StatusOK, "ok")
		return
	}
	h.events.Handle(r.Context(), ev)
	writeText(w, http.StatusOK, "ok")
}

func (h *Handler) manage(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("licenseKey")
	if key == "" {
		writeError(w, http.StatusBadRequest, "Missing licenseKey")
		return
	}
	url, err := h.checkout.OpenPortal(r.Context(), key)
	switch {
	case errors.Is(err, license.ErrNotFound):
		writeError(w, http.StatusNotFound, "License not found")
	case errors.Is(err, license.ErrNoBillingCustomer):
		writeError(w, http.StatusConflict, "License has no billing account yet")
	case err != nil:
		h.log(r).Error("open portal", zap.Error(err), zap.String("license_key", key))
		writeInternalError(w)
	default:
		writeJSON(w, http.StatusOK, manageResponse{PortalURL: url, URL: url})
	}
}
