package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/auth"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/logx"
)

// DeliveryHandler serves the dispatch and order lifecycle endpoints.
type DeliveryHandler struct {
	usecase  deliveryUsecase
	tracking trackingReader
	logger   logx.Logger
	now      func() time.Time
}

// NewDeliveryHandler creates a new DeliveryHandler.
func NewDeliveryHandler(logger logx.Logger, uc deliveryUsecase, tr trackingReader) *DeliveryHandler {
	if logger == nil {
		logger = logx.Nop()
	}
	return &DeliveryHandler{usecase: uc, tracking: tr, logger: logger, now: time.Now}
}

// Nearest handles GET /api/couriers/nearest?lat=&lon=.
func (h *DeliveryHandler) Nearest(w http.ResponseWriter, r *http.Request) {
	lat, errLat := coordinate(r, "lat")
	lon, errLon := coordinate(r, "lon")
	if errLat != nil || errLon != nil {
		writeError(h.logger, w, r, http.StatusBadRequest, "invalid_input", "lat and lon query parameters are required")
		return
	}

	id, err := h.usecase.NearestCourier(lat, lon)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, nearestCourierResponse{CourierID: id})
}

// Dispatch handles POST /api/dispatch.
func (h *DeliveryHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if ok := decodeJSON(h.logger, w, r, &req); !ok {
		return
	}
	if req.OriginLat == nil || req.OriginLon == nil {
		writeError(h.logger, w, r, http.StatusBadRequest, "invalid_input", "origin_lat and origin_lon are required")
		return
	}

	res, err := h.usecase.Dispatch(r.Context(), req.OrderID, *req.OriginLat, *req.OriginLon, req.Summary)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(h.logger, w, r, status, resultToResponse(res))
}

// Reassign handles PUT /api/orders/{orderID}/assignment.
func (h *DeliveryHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	var req reassignRequest
	if ok := decodeJSON(h.logger, w, r, &req); !ok {
		return
	}

	res, err := h.usecase.Reassign(r.Context(), chi.URLParam(r, "orderID"), req.CourierID)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, resultToResponse(res))
}

// Complete handles POST /api/orders/{orderID}/complete. A courier may only
// complete its own order.
func (h *DeliveryHandler) Complete(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var err error
	if id, ok := auth.FromContext(r.Context()); ok && id.Role == domain.RoleCourier {
		err = h.usecase.CompleteByCourier(r.Context(), orderID, id.Subject)
	} else {
		err = h.usecase.Complete(r.Context(), orderID)
	}
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, closeResponse{OrderID: orderID, Status: string(domain.CloseCompleted)})
}

// Cancel handles POST /api/orders/{orderID}/cancel.
func (h *DeliveryHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if err := h.usecase.Cancel(r.Context(), orderID); err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, closeResponse{OrderID: orderID, Status: string(domain.CloseCanceled)})
}

// Tracking handles GET /api/orders/{orderID}/tracking. The age of the last
// position lets clients show staleness after the courier drops.
func (h *DeliveryHandler) Tracking(w http.ResponseWriter, r *http.Request) {
	t, err := h.tracking.Tracking(chi.URLParam(r, "orderID"))
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, trackingToResponse(t, h.now()))
}

func coordinate(r *http.Request, name string) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, fmt.Errorf("missing %s: %w", name, apperr.ErrInvalid)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %v: %w", name, err, apperr.ErrInvalid)
	}
	return v, nil
}
