package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ksharma-xyz/krail-nearby/internal/geo"
)

// seedStop is the on-disk JSON shape of a stop:
//
//	{"id":"200060","name":"Central Station","lat":-33.8832,"lon":151.2070,"categories":[1,5]}
type seedStop struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Categories []int   `json:"categories"`
}

// LoadSeedFile reads a JSON array of stops from path.
func LoadSeedFile(path string) ([]StopRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("storage: LoadSeedFile: %w", err)
	}
	defer f.Close()

	stops, err := DecodeSeed(f)
	if err != nil {
		return nil, fmt.Errorf("storage: LoadSeedFile %q: %w", path, err)
	}
	return stops, nil
}

// DecodeSeed decodes a JSON array of stops. Entries without an id are rejected.
func DecodeSeed(r io.Reader) ([]StopRecord, error) {
	var raw []seedStop
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	out := make([]StopRecord, 0, len(raw))
	for i, s := range raw {
		if s.ID == "" {
			return nil, fmt.Errorf("entry %d: missing id", i)
		}
		out = append(out, StopRecord{
			ID:         s.ID,
			Name:       s.Name,
			Position:   geo.Point{Lat: s.Lat, Lon: s.Lon},
			Categories: s.Categories,
		})
	}
	return out, nil
}
