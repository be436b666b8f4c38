package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sells-group/vehicle-resolver/internal/resolver"
)

type handler struct {
	resolver Resolver
	stats    StatsCollector
	cfg      Config
}

type errorBody struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) cacheStats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.stats.Collect(r.Context())
	if err != nil {
		zap.L().Error("api: collect cache stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats_unavailable", "cache statistics could not be collected")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) vehicle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := resolver.ParseRequest(chi.URLParam(r, "vin"), q.Get("zip"), q.Get("radius"), q.Get("pick"),
		h.cfg.DefaultRadius, h.cfg.MaxRadius)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := h.resolver.Resolve(r.Context(), req)
	if err != nil {
		h.resolveError(w, r, req, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) resolveError(w http.ResponseWriter, r *http.Request, req resolver.Request, err error) {
	log := zap.L().With(
		zap.String("vin", req.VIN),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)

	var credErr *resolver.CredentialError
	var upErr *resolver.UpstreamError
	switch {
	case errors.As(err, &credErr):
		log.Error("api: listing provider credentials unavailable")
		writeError(w, http.StatusInternalServerError, "credentials_unavailable",
			credErr.Name+" could not be resolved; check the secret store")
	case errors.As(err, &upErr):
		log.Warn("api: upstream failure", zap.Int("upstream_status", upErr.StatusCode))
		writeError(w, upErr.HTTPStatus(), "upstream_error", upErr.Error())
	default:
		log.Error("api: resolution failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "resolution failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorBody{OK: false, Error: code, Detail: detail})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
