package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"commissiond/internal/attribution"
	"commissiond/internal/cohort"
	"commissiond/internal/fetcher"
	"commissiond/internal/heat"
	"commissiond/internal/service"
)

var errBadRequest = errors.New("bad request")

type handler struct {
	analytics Analytics
	cfg       Config
	now       func() time.Time
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Health != nil {
		if err := h.cfg.Health(r.Context()); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("health check failed")
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) attribution(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	current := fetcher.PeriodOf(h.now())
	if raw := q.Get("current"); raw != "" {
		p, err := fetcher.ParsePeriod(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		current = p
	}

	prior := current.Previous()
	if raw := q.Get("prior"); raw != "" {
		p, err := fetcher.ParsePeriod(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		prior = p
	}

	report, err := h.analytics.Attribution(r.Context(), prior, current)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

func (h *handler) cohorts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	maxOffset := h.cfg.MaxOffsetMonths
	if raw := q.Get("max_offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: max_offset must be an integer", errBadRequest))
			return
		}
		maxOffset = n
	}

	now := h.now()
	window := fetcher.LookbackWindow(h.cfg.CohortLookback, maxOffset, now)
	start, end := q.Get("start"), q.Get("end")
	switch {
	case start != "" || end != "":
		if start == "" || end == "" {
			writeError(w, r, fmt.Errorf("%w: start and end must be given together", errBadRequest))
			return
		}
		var err error
		window, err = fetcher.NewCohortWindow(start, end, maxOffset, now)
		if err != nil {
			writeError(w, r, err)
			return
		}
	case maxOffset < 0:
		writeError(w, r, fmt.Errorf("%w: max_offset must not be negative", errBadRequest))
		return
	}

	report, err := h.analytics.Cohorts(r.Context(), window)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

func (h *handler) vendorHeat(w http.ResponseWriter, r *http.Request) {
	asOf, limit, err := heatParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	report, err := h.analytics.VendorHeat(r.Context(), asOf)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, truncate(report, limit))
}

func (h *handler) packHeat(w http.ResponseWriter, r *http.Request) {
	asOf, limit, err := heatParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	byVendor, err := parseBool(r.URL.Query().Get("by_vendor"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	report, err := h.analytics.PackHeat(r.Context(), asOf, byVendor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, truncate(report, limit))
}

func (h *handler) carriers(w http.ResponseWriter, r *http.Request) {
	asOf, limit, err := heatParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	report, err := h.analytics.Carriers(r.Context(), asOf)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit > 0 && limit < len(report.Carriers) {
		report.Carriers = report.Carriers[:limit]
	}
	writeJSON(w, r, http.StatusOK, report)
}

func (h *handler) overview(w http.ResponseWriter, r *http.Request) {
	asOf, _, err := heatParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ov, err := h.analytics.Overview(r.Context(), asOf)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ov)
}

// heatParams reads the optional as_of (RFC3339) and limit parameters. A zero
// asOf lets the service use the current time.
func heatParams(r *http.Request) (time.Time, int, error) {
	q := r.URL.Query()

	var asOf time.Time
	if raw := q.Get("as_of"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("%w: as_of must be RFC3339", errBadRequest)
		}
		asOf = t
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return time.Time{}, 0, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest)
		}
		limit = n
	}
	return asOf, limit, nil
}

func parseBool(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %q is not a boolean", errBadRequest, raw)
	}
	return v, nil
}

func truncate(report service.HeatReport, limit int) service.HeatReport {
	if limit > 0 && limit < len(report.Scores) {
		report.Scores = report.Scores[:limit]
	}
	return report
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, fetcher.ErrInvalidWindow):
		return http.StatusBadRequest
	case errors.Is(err, attribution.ErrInvalidSnapshot),
		errors.Is(err, attribution.ErrInvalidCarrier),
		errors.Is(err, cohort.ErrInvalidRecord),
		errors.Is(err, heat.ErrInvalidSignal):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrFetch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		logger.Debug().Err(err).Int("status", status).Msg("request rejected")
	}
	writeJSON(w, r, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
	}
}
