package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/couchcryptid/agroclimate-severity-service/internal/domain"
	"github.com/couchcryptid/agroclimate-severity-service/internal/severity"
)

const maxTransformBody = 128 << 20

type handlers struct {
	source    domain.GridSource
	maxPoints int
	validate  *validator.Validate
	logger    *slog.Logger
}

func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.source.Runs(r.Context())
	if err != nil {
		h.sourceError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string][]string{"runs": runs})
}

func (h *handlers) listSteps(w http.ResponseWriter, r *http.Request) {
	run := chi.URLParam(r, "run")
	steps, err := h.source.Steps(r.Context(), run)
	if err != nil {
		h.sourceError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"run": run, "steps": steps})
}

type heatResponse struct {
	ID          string                  `json:"id"`
	Run         string                  `json:"run"`
	Step        string                  `json:"step"`
	PointCount  int                     `json:"point_count"`
	ExtremeHeat int                     `json:"extreme_heat"`
	ExtremeCold int                     `json:"extreme_cold"`
	Gradient    []severity.GradientStop `json:"gradient"`
	Points      [][3]float64            `json:"points"`
}

func (h *handlers) heatmap(w http.ResponseWriter, r *http.Request) {
	bounds, err := parseBounds(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := bounds.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, step := chi.URLParam(r, "run"), chi.URLParam(r, "step")
	subset, err := h.source.Subset(r.Context(), run, step, bounds)
	if err != nil {
		h.sourceError(w, r, err)
		return
	}

	layer := domain.BuildLayer(subset).Sampled(h.maxPoints)

	switch r.URL.Query().Get("format") {
	case "heat":
		h.respond(w, r, heatResponse{
			ID:          layer.ID,
			Run:         layer.Run,
			Step:        layer.Step,
			PointCount:  layer.PointCount,
			ExtremeHeat: layer.ExtremeHeat,
			ExtremeCold: layer.ExtremeCold,
			Gradient:    severity.Gradient(),
			Points:      severity.HeatTuples(layer.Points),
		})
	case "grid":
		h.respond(w, r, newGridResponse(layer, subset.CellHalfWidth()))
	case "", "layer":
		h.respond(w, r, layer)
	default:
		writeError(w, http.StatusBadRequest, "format must be one of layer, heat, grid")
	}
}

// gridCell is one classified cell drawn as a rectangle.
type gridCell struct {
	Bounds    domain.Bounds  `json:"bounds"`
	Severity  severity.Level `json:"severity"`
	Label     string         `json:"label"`
	Color     string         `json:"color"`
	RawValue  float64        `json:"raw_value"`
	Intensity float64        `json:"intensity"`
}

type gridResponse struct {
	ID            string     `json:"id"`
	Run           string     `json:"run"`
	Step          string     `json:"step"`
	PointCount    int        `json:"point_count"`
	CellHalfWidth float64    `json:"cell_half_width"`
	Cells         []gridCell `json:"cells"`
}

func newGridResponse(layer domain.HeatmapLayer, halfWidth float64) gridResponse {
	if halfWidth <= 0 {
		halfWidth = domain.DefaultCellHalfWidth
	}
	cells := make([]gridCell, len(layer.Points))
	for i, p := range layer.Points {
		cells[i] = gridCell{
			Bounds:    domain.CellBounds(p, halfWidth),
			Severity:  p.Severity,
			Label:     severity.Label(p.Severity),
			Color:     severity.Color(p.Severity),
			RawValue:  p.RawValue,
			Intensity: p.Intensity,
		}
	}
	return gridResponse{
		ID:            layer.ID,
		Run:           layer.Run,
		Step:          layer.Step,
		PointCount:    layer.PointCount,
		CellHalfWidth: halfWidth,
		Cells:         cells,
	}
}

// parseBounds reads lat_min, lat_max, lon_min and lon_max. Missing
// parameters fall back to the matching edge of domain.DefaultBounds.
func parseBounds(r *http.Request) (domain.Bounds, error) {
	b := domain.DefaultBounds
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"lat_min", &b.LatMin},
		{"lat_max", &b.LatMax},
		{"lon_min", &b.LonMin},
		{"lon_max", &b.LonMax},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.Bounds{}, fmt.Errorf("%s must be a number", p.name)
		}
		*p.dst = v
	}
	return b, nil
}

// transformRequest carries parallel arrays. A null entry is treated as a
// masked cell. Polygon is an optional field outline of [lat, lng] vertices.
type transformRequest struct {
	Latitudes  []*float64   `json:"latitudes" validate:"required,max=1000000"`
	Longitudes []*float64   `json:"longitudes" validate:"required,max=1000000"`
	Values     []*float64   `json:"values" validate:"required,max=1000000"`
	RangeMin   *float64     `json:"range_min" validate:"required_with=RangeMax"`
	RangeMax   *float64     `json:"range_max" validate:"required_with=RangeMin"`
	Polygon    [][2]float64 `json:"polygon" validate:"omitempty,min=3"`
}

type transformResponse struct {
	Points  []severity.Point     `json:"points"`
	Count   int                  `json:"count"`
	Dropped int                  `json:"dropped"`
	Outside int                  `json:"outside,omitempty"`
	Field   *domain.FieldSummary `json:"field,omitempty"`
}

func (h *handlers) transform(w http.ResponseWriter, r *http.Request) {
	var req transformRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTransformBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	var field *domain.FieldBoundary
	if len(req.Polygon) > 0 {
		var err error
		if field, err = domain.NewFieldBoundary(req.Polygon); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var rng *severity.Range
	if req.RangeMin != nil && req.RangeMax != nil {
		rng = &severity.Range{Min: *req.RangeMin, Max: *req.RangeMax}
	}

	lats, lons, values := unmask(req.Latitudes), unmask(req.Longitudes), unmask(req.Values)
	points := severity.Transform(lats, lons, values, rng)
	resp := transformResponse{Dropped: min(len(lats), len(lons), len(values)) - len(points)}

	if field != nil {
		inside := field.Clip(points)
		summary := field.Summarize(inside)
		resp.Outside = len(points) - len(inside)
		resp.Field = &summary
		points = inside
	}
	if points == nil {
		points = []severity.Point{}
	}
	resp.Points, resp.Count = points, len(points)

	h.respond(w, r, resp)
}

func unmask(in []*float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	return out
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag())
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

type legendLevel struct {
	Level          severity.Level `json:"level"`
	Label          string         `json:"label"`
	Color          string         `json:"color"`
	Recommendation string         `json:"recommendation"`
	Threshold      float64        `json:"threshold"`
}

type legendResponse struct {
	Levels               []legendLevel           `json:"levels"`
	Gradient             []severity.GradientStop `json:"gradient"`
	ExtremeHeatThreshold float64                 `json:"extreme_heat_threshold"`
	ExtremeColdThreshold float64                 `json:"extreme_cold_threshold"`
	ClampMin             float64                 `json:"clamp_min"`
	ClampMax             float64                 `json:"clamp_max"`
}

func (h *handlers) legend(w http.ResponseWriter, _ *http.Request) {
	levels := severity.Levels()
	resp := legendResponse{
		Levels:               make([]legendLevel, len(levels)),
		Gradient:             severity.Gradient(),
		ExtremeHeatThreshold: severity.ExtremeHeatThreshold,
		ExtremeColdThreshold: severity.ExtremeColdThreshold,
		ClampMin:             severity.ClampMin,
		ClampMax:             severity.ClampMax,
	}
	for i, l := range levels {
		threshold, _ := severity.Threshold(l)
		resp.Levels[i] = legendLevel{
			Level:          l,
			Label:          severity.Label(l),
			Color:          severity.Color(l),
			Recommendation: severity.Recommendation(l),
			Threshold:      threshold,
		}
	}
	sharedobs.WriteJSON(w, http.StatusOK, resp)
}

func (h *handlers) sourceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidBounds):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrSourceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Warn("grid source request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, "upstream grid source failed")
	}
}

// respond marshals v before writing a 200. Encoding failures become a 500.
func (h *handlers) respond(w http.ResponseWriter, r *http.Request, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encode response failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "response could not be encoded")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(append(body, '\n')) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": msg})
}
