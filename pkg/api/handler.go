package api

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"

	"gridkit/pkg/catalog"
	"gridkit/pkg/geom"
	"gridkit/pkg/projection"
)

// APIHandler handles REST API requests against the raster catalog
type APIHandler struct {
	repo *catalog.Repository
}

// NewAPIHandler creates a new APIHandler
func NewAPIHandler(repo *catalog.Repository) *APIHandler {
	return &APIHandler{
		repo: repo,
	}
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// SampleHandler handles POST requests that sample a catalog raster at
// GeoJSON point locations. The dataset comes from the "dataset" query
// parameter and the point CRS from "crs" (default EPSG:4326).
func (h *APIHandler) SampleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}

	dataset := r.URL.Query().Get("dataset")
	if dataset == "" {
		h.sendError(w, http.StatusBadRequest, "missing dataset query parameter")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
		return
	}
	defer r.Body.Close()

	crs := r.URL.Query().Get("crs")
	if crs == "" {
		crs = geom.WGS84
	}

	xs, ys, err := h.parsePoints(body)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid GeoJSON: %v", err))
		return
	}

	grid, err := h.repo.GetLatest(r.Context(), dataset)
	if err != nil {
		h.sendError(w, http.StatusNotFound, fmt.Sprintf("failed to get dataset %s: %v", dataset, err))
		return
	}
	defer grid.Close()

	// Move the points into the raster's CRS before indexing.
	if grid.CRS() != "" && !geom.SameCRS(crs, grid.CRS()) {
		xs, ys, err = projection.TransformPoints(r.Context(), xs, ys, crs, grid.CRS())
		if err != nil {
			h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("failed to transform points: %v", err))
			return
		}
	}

	values, err := grid.Values(r.Context())
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("failed to evaluate raster: %v", err))
		return
	}
	mask, err := grid.Mask(r.Context())
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("failed to evaluate mask: %v", err))
		return
	}

	inv, err := grid.Affine().Invert()
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("degenerate raster transform: %v", err))
		return
	}

	s := grid.Shape()
	per := s.Rows * s.Cols
	type sampleResult struct {
		X      float64    `json:"x"`
		Y      float64    `json:"y"`
		Inside bool       `json:"inside"`
		Values []*float64 `json:"values"`
	}
	results := make([]sampleResult, len(xs))
	for i := range xs {
		fc, fr := inv.Apply(xs[i], ys[i])
		col, row := int(math.Floor(fc)), int(math.Floor(fr))
		res := sampleResult{X: xs[i], Y: ys[i]}
		if col >= 0 && col < s.Cols && row >= 0 && row < s.Rows {
			res.Inside = true
			res.Values = make([]*float64, s.Bands)
			for band := 0; band < s.Bands; band++ {
				idx := band*per + row*s.Cols + col
				if mask != nil && mask[idx] {
					continue
				}
				v := values[idx]
				res.Values[band] = &v
			}
		}
		results[i] = res
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"dataset": dataset,
		"crs":     grid.CRS(),
		"samples": results,
	})
}

// InfoHandler handles GET requests describing a catalog dataset.
func (h *APIHandler) InfoHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "only GET method is allowed")
		return
	}

	dataset := r.URL.Query().Get("dataset")
	if dataset == "" {
		h.sendError(w, http.StatusBadRequest, "missing dataset query parameter")
		return
	}

	_, version, err := h.repo.LatestFile(r.Context(), dataset)
	if err != nil {
		h.sendError(w, http.StatusNotFound, fmt.Sprintf("failed to get dataset %s: %v", dataset, err))
		return
	}
	grid, err := h.repo.GetLatest(r.Context(), dataset)
	if err != nil {
		h.sendError(w, http.StatusNotFound, fmt.Sprintf("failed to load dataset %s: %v", dataset, err))
		return
	}
	defer grid.Close()

	s := grid.Shape()
	xres, yres := grid.Resolution()
	b := grid.Bounds()
	info := map[string]any{
		"dataset":    dataset,
		"version":    version,
		"bands":      s.Bands,
		"rows":       s.Rows,
		"cols":       s.Cols,
		"dtype":      grid.DType().String(),
		"crs":        grid.CRS(),
		"resolution": []float64{xres, yres},
		"bounds":     []float64{b.XMin, b.YMin, b.XMax, b.YMax},
	}
	if nv := grid.NullValue(); nv != nil && !math.IsNaN(*nv) {
		info["null_value"] = *nv
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(info)
}

// parsePoints validates the GeoJSON structure and pulls out the point
// coordinates.
func (h *APIHandler) parsePoints(data []byte) ([]float64, []float64, error) {
	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Type     string `json:"type"`
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}

	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if fc.Type != "FeatureCollection" {
		return nil, nil, fmt.Errorf("expected FeatureCollection, got %s", fc.Type)
	}

	if len(fc.Features) == 0 {
		return nil, nil, fmt.Errorf("no features in FeatureCollection")
	}

	xs := make([]float64, len(fc.Features))
	ys := make([]float64, len(fc.Features))
	for i, f := range fc.Features {
		if f.Type != "Feature" {
			return nil, nil, fmt.Errorf("feature %d: expected Feature type, got %s", i, f.Type)
		}
		if f.Geometry.Type != "Point" {
			return nil, nil, fmt.Errorf("feature %d: only Point geometry is supported, got %s", i, f.Geometry.Type)
		}
		if len(f.Geometry.Coordinates) < 2 {
			return nil, nil, fmt.Errorf("feature %d: Point must have at least 2 coordinates", i)
		}
		xs[i] = f.Geometry.Coordinates[0]
		ys[i] = f.Geometry.Coordinates[1]
	}

	return xs, ys, nil
}

// sendError sends an error response as JSON
func (h *APIHandler) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
