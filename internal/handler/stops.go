package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ksharma-xyz/krail-nearby/internal/geo"
	"github.com/ksharma-xyz/krail-nearby/internal/storage"
)

const maxRadiusKm = 50.0

// ListStopsNear handles GET /api/v1/stops/nearby
//
// Query params:
//   - lat        (required) float64: WGS-84 latitude
//   - lon        (required) float64: WGS-84 longitude
//   - radius_km  (optional) float64: search radius; server default otherwise
//   - categories (optional) comma-separated ints, e.g. "1,5"
//   - limit      (optional) int: capped at the server maximum
//
// Response 200:
//
//	[{"id":"200060","name":"Central Station","lat":-33.883,"lon":151.206,"categories":[1]}]
//
// Response 400: missing or invalid query parameters.
// Response 500: storage error.
func (h *Handler) ListStopsNear(c *gin.Context) {
	lat, ok := parseRequiredFloat(c, "lat")
	if !ok {
		return
	}
	lon, ok := parseRequiredFloat(c, "lon")
	if !ok {
		return
	}
	center := geo.Point{Lat: lat, Lon: lon}
	if !validLatLon(center) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat/lon out of range"})
		return
	}

	radius := h.defaultRadiusKm
	if raw := c.Query("radius_km"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || !(v > 0) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "radius_km must be a positive number"})
			return
		}
		if v > maxRadiusKm {
			c.JSON(http.StatusBadRequest, gin.H{"error": "radius_km must not exceed 50"})
			return
		}
		radius = v
	}

	cats, err := parseCategories(c.Query("categories"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := h.maxResults
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if v < limit {
			limit = v
		}
	}

	stops, err := h.stopsRepo.GetStopsNearby(c.Request.Context(), lat, lon, radius, categorySet(cats), limit)
	if errors.Is(err, storage.ErrInvalidQuery) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query stops"})
		return
	}

	c.JSON(http.StatusOK, toStopJSON(stops))
}

// parseRequiredFloat extracts a required float64 query parameter.
// On failure it writes a 400 response and returns (0, false).
func parseRequiredFloat(c *gin.Context, name string) (float64, bool) {
	raw := c.Query(name)
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " query parameter is required"})
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a valid number"})
		return 0, false
	}
	return v, true
}

// parseCategories parses "1,5,9"; empty input means no filter.
func parseCategories(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []int
	for _, p := range strings.Split(raw, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, errors.New("categories must be comma-separated integers")
		}
		out = append(out, v)
	}
	return out, nil
}
