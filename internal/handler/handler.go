// Package handler implements the HTTP surface: direct proximity search and
// viewport sessions driven by the nearby-stops manager.
package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ksharma-xyz/krail-nearby/internal/geo"
	"github.com/ksharma-xyz/krail-nearby/internal/storage"
)

// Handler holds the dependencies shared by all HTTP handlers.
type Handler struct {
	stopsRepo       storage.StopsRepository
	sessions        *Sessions
	defaultRadiusKm float64
	maxResults      int
}

// New creates a Handler. defaultRadiusKm applies when a request omits
// radius_km; maxResults caps the limit parameter of direct searches.
func New(stopsRepo storage.StopsRepository, sessions *Sessions, defaultRadiusKm float64, maxResults int) *Handler {
	return &Handler{
		stopsRepo:       stopsRepo,
		sessions:        sessions,
		defaultRadiusKm: defaultRadiusKm,
		maxResults:      maxResults,
	}
}

type stopJSON struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Categories []int   `json:"categories"`
}

func toStopJSON(stops []storage.StopRecord) []stopJSON {
	out := make([]stopJSON, len(stops))
	for i, s := range stops {
		cats := s.Categories
		if cats == nil {
			cats = []int{}
		}
		out[i] = stopJSON{ID: s.ID, Name: s.Name, Lat: s.Position.Lat, Lon: s.Position.Lon, Categories: cats}
	}
	return out
}

func categorySet(cats []int) map[int]struct{} {
	if len(cats) == 0 {
		return nil
	}
	set := make(map[int]struct{}, len(cats))
	for _, c := range cats {
		set[c] = struct{}{}
	}
	return set
}

func validLatLon(p geo.Point) bool {
	return p.Valid() && p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Register mounts every route on api (normally the /api/v1 group).
func (h *Handler) Register(api gin.IRoutes) {
	api.GET("/stops/nearby", h.ListStopsNear)

	api.POST("/viewports", h.CreateViewport)
	api.GET("/viewports/:id", h.GetViewport)
	api.PUT("/viewports/:id/center", h.MoveViewport)
	api.POST("/viewports/:id/invalidate", h.InvalidateViewport)
	api.DELETE("/viewports/:id/query", h.CancelViewportQuery)
	api.DELETE("/viewports/:id", h.CloseViewport)
}
