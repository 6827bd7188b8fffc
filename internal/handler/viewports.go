package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ksharma-xyz/krail-nearby/internal/geo"
	"github.com/ksharma-xyz/krail-nearby/internal/nearby"
)

type moveRequest struct {
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
	RadiusKm   float64  `json:"radius_km"`
	Categories []int    `json:"categories"`
	MaxResults int      `json:"max_results"`
}

type viewportJSON struct {
	ID        string     `json:"id"`
	Phase     string     `json:"phase,omitempty"`
	Loading   bool       `json:"loading"`
	Stops     []stopJSON `json:"stops"`
	Error     string     `json:"error,omitempty"`
	CenterLat float64    `json:"center_lat"`
	CenterLon float64    `json:"center_lon"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func toViewportJSON(id string, st ViewportState, phase string) viewportJSON {
	out := viewportJSON{
		ID:        id,
		Phase:     phase,
		Loading:   st.Loading,
		Stops:     toStopJSON(st.Stops),
		Error:     st.Err,
		CenterLat: st.Center.Lat,
		CenterLon: st.Center.Lon,
	}
	if !st.UpdatedAt.IsZero() {
		t := st.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

// CreateViewport handles POST /api/v1/viewports
//
// Response 201: {"id":"<uuid>"}
// Response 429: session limit reached.
func (h *Handler) CreateViewport(c *gin.Context) {
	id, err := h.sessions.Create()
	if errors.Is(err, ErrTooManySessions) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many viewport sessions"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create viewport"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// MoveViewport handles PUT /api/v1/viewports/:id/center
//
// Body:
//
//	{"lat":-33.8688,"lon":151.2093,"radius_km":1,"categories":[1,5],"max_results":20}
//
// The search runs in the background. Response 202 carries the state right
// after the request was accepted: loading=true when a fetch was committed to,
// unchanged state on a cache hit.
// Response 400: invalid body. Response 404: unknown session.
func (h *Handler) MoveViewport(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if req.Lat == nil || req.Lon == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lon are required"})
		return
	}
	center := geo.Point{Lat: *req.Lat, Lon: *req.Lon}
	if !validLatLon(center) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat/lon out of range"})
		return
	}

	radius := req.RadiusKm
	switch {
	case radius == 0:
		radius = h.defaultRadiusKm
	case radius < 0 || radius > maxRadiusKm:
		c.JSON(http.StatusBadRequest, gin.H{"error": "radius_km must be in (0, 50]"})
		return
	}
	if req.MaxResults < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_results must not be negative"})
		return
	}

	cfg := nearby.QueryConfig{
		RadiusKm:          radius,
		AllowedCategories: categorySet(req.Categories),
		MaxResults:        req.MaxResults,
	}

	id := c.Param("id")
	st, err := h.sessions.MoveTo(id, cfg, center)
	if errors.Is(err, ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "viewport not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to move viewport"})
		return
	}

	c.JSON(http.StatusAccepted, toViewportJSON(id, st, ""))
}

// GetViewport handles GET /api/v1/viewports/:id
//
// Response 200: the current stops, loading flag, last error and the
// manager phase (idle, debouncing, fetching).
func (h *Handler) GetViewport(c *gin.Context) {
	id := c.Param("id")
	st, phase, err := h.sessions.State(id)
	if errors.Is(err, ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "viewport not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read viewport"})
		return
	}
	c.JSON(http.StatusOK, toViewportJSON(id, st, phase.String()))
}

// InvalidateViewport handles POST /api/v1/viewports/:id/invalidate
func (h *Handler) InvalidateViewport(c *gin.Context) {
	h.noContent(c, h.sessions.Invalidate(c.Param("id")))
}

// CancelViewportQuery handles DELETE /api/v1/viewports/:id/query
func (h *Handler) CancelViewportQuery(c *gin.Context) {
	h.noContent(c, h.sessions.CancelQuery(c.Param("id")))
}

// CloseViewport handles DELETE /api/v1/viewports/:id
func (h *Handler) CloseViewport(c *gin.Context) {
	h.noContent(c, h.sessions.Close(c.Param("id")))
}

func (h *Handler) noContent(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "viewport not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "viewport operation failed"})
	default:
		c.Status(http.StatusNoContent)
	}
}
