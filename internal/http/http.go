package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/admesh/adcp-sales-agent/internal/api"
	"github.com/admesh/adcp-sales-agent/internal/auth"
	"github.com/admesh/adcp-sales-agent/internal/middleware"
	"github.com/admesh/adcp-sales-agent/internal/server"
)

const requestTimeout = 30 * time.Second

// HTTPHandler wraps the server and provides HTTP handlers
type HTTPHandler struct {
	srv *server.Server
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(srv *server.Server) *HTTPHandler {
	return &HTTPHandler{srv: srv}
}

// NewRouter assembles the REST surface: public discovery endpoints plus the
// authenticated media buy operations.
func NewRouter(h *HTTPHandler, jwtSecretKey string, apiKeys *auth.APIKeyStore, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.LoggingMiddleware(logger))
	r.Use(middleware.CORSMiddleware)
	r.Use(middleware.LimitBodySize(1 << 20))
	r.Use(middleware.RateLimitMiddleware(middleware.NewRateLimiterStore(rate.Limit(20), 40, 10*time.Minute)))

	r.Get("/health", h.HealthHandler)

	authn := middleware.NewAuthenticator(jwtSecretKey, apiKeys, logger)

	// Discovery endpoints are browsable without credentials; a presented
	// credential still resolves to a principal.
	r.Group(func(r chi.Router) {
		r.Use(authn.Optional())

		r.Get("/adcp/products", h.GetProductsHandler)
		r.Get("/adcp/authorized-properties", h.ListAuthorizedPropertiesHandler)
		r.Get("/adcp/creative-formats", h.ListCreativeFormatsHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(authn.Require())

		r.Post("/adcp/media-buys", h.CreateMediaBuyHandler)
		r.Post("/adcp/media-buys/{mediaBuyID}/updates", h.UpdateMediaBuyHandler)
		r.Get("/adcp/media-buys/{mediaBuyID}/status", h.CheckMediaBuyStatusHandler)
		r.Get("/adcp/media-buys/{mediaBuyID}/delivery", h.GetMediaBuyDeliveryHandler)
		r.Post("/adcp/media-buys/{mediaBuyID}/creatives", h.AddCreativeAssetsHandler)
		r.Post("/adcp/media-buys/{mediaBuyID}/performance-index", h.UpdatePerformanceIndexHandler)
		r.Post("/adcp/creative-associations", h.AssociateCreativesHandler)
	})

	return r
}

// Returns properties that this sales agent is authorized to sell.
func (h *HTTPHandler) ListAuthorizedPropertiesHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.srv.AuthProperties); err != nil {
		h.srv.Logger.Error("encode authorized properties failed", "error", err)
	}
}

// Returns the list of available advertising products (inventory offerings).
func (h *HTTPHandler) GetProductsHandler(w http.ResponseWriter, r *http.Request) {
	products, err := h.srv.GetProducts(r.Context())
	if err != nil {
		h.sendOperationError(w, err, "get products failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	resp := struct {
		Products []api.Product `json:"products"`
	}{Products: products}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.srv.Logger.Error("encode products failed", "error", err)
	}
}

// Returns supported creative formats (here we reference the standard Creative agent).
func (h *HTTPHandler) ListCreativeFormatsHandler(w http.ResponseWriter, r *http.Request) {
	// No custom formats defined; we advertise support for all standard formats via the reference Creative agent.
	w.Header().Set("Content-Type", "application/json")
	resp := api.CreativeFormatsResponse{
		Formats:        []api.CreativeFormat{},
		CreativeAgents: []string{"https://creative.adcontextprotocol.org"},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.srv.Logger.Error("encode creative formats failed", "error", err)
	}
}

// Processes a new media buy request (campaign creation).
func (h *HTTPHandler) CreateMediaBuyHandler(w http.ResponseWriter, r *http.Request) {
	var req api.CreateMediaBuyRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		h.sendDetailedErrorResponse(w, "Invalid JSON format", "INVALID_JSON", err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := h.srv.CreateMediaBuy(ctx, server.CreateMediaBuyParams{
		Request: &req,
	})
	if err != nil {
		h.sendOperationError(w, err, "create media buy failed")
		return
	}

	status := http.StatusCreated
	if result.Error != nil {
		status = http.StatusUnprocessableEntity
	}
	h.writeJSON(w, status, result)
}

// Applies one update action to an existing media buy.
func (h *HTTPHandler) UpdateMediaBuyHandler(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateMediaBuyRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		h.sendDetailedErrorResponse(w, "Invalid JSON format", "INVALID_JSON", err.Error(), http.StatusBadRequest)
		return
	}
	req.MediaBuyID = chi.URLParam(r, "mediaBuyID")

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := h.srv.UpdateMediaBuy(ctx, &req)
	if err != nil {
		h.sendOperationError(w, err, "update media buy failed")
		return
	}

	status := http.StatusOK
	if result.Error != nil {
		status = http.StatusUnprocessableEntity
	}
	h.writeJSON(w, status, result)
}

// Reports the media buy's lifecycle status.
func (h *HTTPHandler) CheckMediaBuyStatusHandler(w http.ResponseWriter, r *http.Request) {
	mediaBuyID := chi.URLParam(r, "mediaBuyID")
	today, ok := h.parseTodayParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	resp, err := h.srv.CheckMediaBuyStatus(ctx, mediaBuyID, today)
	if err != nil {
		h.sendOperationError(w, err, "check media buy status failed")
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Reports delivered volume over a date range.
func (h *HTTPHandler) GetMediaBuyDeliveryHandler(w http.ResponseWriter, r *http.Request) {
	mediaBuyID := chi.URLParam(r, "mediaBuyID")
	today, ok := h.parseTodayParam(w, r)
	if !ok {
		return
	}

	var dateRange api.DateRange
	var err error
	if startStr := r.URL.Query().Get("start"); startStr != "" {
		if dateRange.Start, err = time.Parse("2006-01-02", startStr); err != nil {
			h.sendErrorResponse(w, "Invalid start date (use YYYY-MM-DD)", "INVALID_DATE_FORMAT", http.StatusBadRequest)
			return
		}
	}
	if endStr := r.URL.Query().Get("end"); endStr != "" {
		if dateRange.End, err = time.Parse("2006-01-02", endStr); err != nil {
			h.sendErrorResponse(w, "Invalid end date (use YYYY-MM-DD)", "INVALID_DATE_FORMAT", http.StatusBadRequest)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	resp, err := h.srv.GetMediaBuyDelivery(ctx, mediaBuyID, dateRange, today)
	if err != nil {
		h.sendOperationError(w, err, "get media buy delivery failed")
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Uploads creative assets to a media buy.
func (h *HTTPHandler) AddCreativeAssetsHandler(w http.ResponseWriter, r *http.Request) {
	mediaBuyID := chi.URLParam(r, "mediaBuyID")

	var body struct {
		Assets []api.CreativeAsset `json:"assets"`
		Today  string              `json:"today,omitempty"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		h.sendDetailedErrorResponse(w, "Invalid JSON format", "INVALID_JSON", err.Error(), http.StatusBadRequest)
		return
	}

	today := time.Now().UTC()
	if body.Today != "" {
		parsed, err := time.Parse("2006-01-02", body.Today)
		if err != nil {
			h.sendErrorResponse(w, "Invalid today date (use YYYY-MM-DD)", "INVALID_DATE_FORMAT", http.StatusBadRequest)
			return
		}
		today = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	statuses, err := h.srv.AddCreativeAssets(ctx, mediaBuyID, body.Assets, today)
	if err != nil {
		h.sendOperationError(w, err, "add creative assets failed")
		return
	}
	h.writeJSON(w, http.StatusOK, struct {
		Statuses []api.AssetStatus `json:"statuses"`
	}{Statuses: statuses})
}

// Associates already-uploaded creatives with line items.
func (h *HTTPHandler) AssociateCreativesHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LineItemIDs         []string `json:"line_item_ids"`
		PlatformCreativeIDs []string `json:"platform_creative_ids"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		h.sendDetailedErrorResponse(w, "Invalid JSON format", "INVALID_JSON", err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	associations, err := h.srv.AssociateCreatives(ctx, body.LineItemIDs, body.PlatformCreativeIDs)
	if err != nil {
		h.sendOperationError(w, err, "associate creatives failed")
		return
	}
	h.writeJSON(w, http.StatusOK, struct {
		Associations []api.CreativeAssociation `json:"associations"`
	}{Associations: associations})
}

// Forwards buyer performance signals to backend pacing.
func (h *HTTPHandler) UpdatePerformanceIndexHandler(w http.ResponseWriter, r *http.Request) {
	mediaBuyID := chi.URLParam(r, "mediaBuyID")

	var body struct {
		PackagePerformance []api.PackagePerformance `json:"package_performance"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		h.sendDetailedErrorResponse(w, "Invalid JSON format", "INVALID_JSON", err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	acknowledged, err := h.srv.UpdateMediaBuyPerformanceIndex(ctx, mediaBuyID, body.PackagePerformance)
	if err != nil {
		h.sendOperationError(w, err, "update performance index failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"acknowledged": acknowledged})
}

func (h *HTTPHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	if err := h.srv.DB.PingContext(ctx); err != nil {
		h.sendErrorResponse(w, "database unavailable", "DATABASE_UNAVAILABLE", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"agent":  "AdMesh Sales Agent",
	}); err != nil {
		h.srv.Logger.Error("encode health response failed", "error", err)
	}
}

// parseTodayParam reads the optional reference-date query parameter used by
// status and delivery simulations; it defaults to now.
func (h *HTTPHandler) parseTodayParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	todayStr := r.URL.Query().Get("today")
	if todayStr == "" {
		return time.Now().UTC(), true
	}
	today, err := time.Parse("2006-01-02", todayStr)
	if err != nil {
		h.sendErrorResponse(w, "Invalid today date (use YYYY-MM-DD)", "INVALID_DATE_FORMAT", http.StatusBadRequest)
		return time.Time{}, false
	}
	return today, true
}

// sendOperationError maps server-layer failures onto HTTP statuses.
func (h *HTTPHandler) sendOperationError(w http.ResponseWriter, err error, logMsg string) {
	var valErr server.ValidationError
	if errors.As(err, &valErr) {
		status := http.StatusBadRequest
		if valErr.Code == "NOT_FOUND" {
			status = http.StatusNotFound
		}
		h.sendErrorResponse(w, valErr.Message, valErr.Code, status)
		return
	}
	if errors.Is(err, auth.ErrAuthRequired) {
		h.sendErrorResponse(w, "Authentication required for this operation", "AUTH_REQUIRED", http.StatusUnauthorized)
		return
	}
	var permErr *auth.InsufficientPermissionsError
	if errors.As(err, &permErr) {
		h.sendErrorResponse(w, "Insufficient permissions for this operation", "INSUFFICIENT_PERMISSIONS", http.StatusForbidden)
		return
	}
	h.srv.Logger.Error(logMsg, "error", err)
	h.sendErrorResponse(w, "Internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.srv.Logger.Error("encode response failed", "error", err)
	}
}

// Sends a structured error response
func (h *HTTPHandler) sendErrorResponse(w http.ResponseWriter, message string, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: message,
		Code:  code,
	}); err != nil {
		h.srv.Logger.Error("encode error response failed", "code", code, "error", err)
	}
}

// Sends an error with additional details
func (h *HTTPHandler) sendDetailedErrorResponse(w http.ResponseWriter, message string, code string, details string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(api.ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	}); err != nil {
		h.srv.Logger.Error("encode detailed error response failed", "code", code, "error", err)
	}
}
