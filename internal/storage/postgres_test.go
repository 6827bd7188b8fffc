package storage

import (
	"context"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ksharma-xyz/krail-nearby/internal/migrations"
)

func TestInt32sRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   []int
	}{
		{"nil", nil},
		{"empty", []int{}},
		{"values", []int{1, 5, 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := int32s(tt.in)
			if got == nil {
				t.Fatal("int32s returned nil; the query needs an empty array")
			}
			back := ints(got)
			if len(back) != len(tt.in) || (len(tt.in) > 0 && !slices.Equal(back, tt.in)) {
				t.Errorf("round trip = %v, want %v", back, tt.in)
			}
		})
	}
}

func TestPostgres_InvalidQueryNeverHitsPool(t *testing.T) {
	// A nil pool would panic if the query were sent.
	repo := NewStopsRepository(nil)
	if _, err := repo.GetStopsNearby(context.Background(), sydney.Lat, sydney.Lon, 0, nil, 10); err == nil {
		t.Fatal("expected ErrInvalidQuery for zero radius")
	}
}

// TestPostgres_Integration runs against a PostGIS database named by
// TEST_DB_DSN and is skipped otherwise.
func TestPostgres_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	if err := migrations.Run(ctx, pool); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if err := UpsertStops(ctx, pool, fixtureStops()); err != nil {
		t.Fatalf("UpsertStops: %v", err)
	}

	repo := NewStopsRepository(pool)

	// PostGIS measures on the spheroid, so only membership is compared.
	got, err := repo.GetStopsNearby(ctx, sydney.Lat, sydney.Lon, 1, nil, 10)
	if err != nil {
		t.Fatalf("GetStopsNearby: %v", err)
	}
	gotIDs := make([]string, len(got))
	for i, s := range got {
		gotIDs[i] = s.ID
	}
	slices.Sort(gotIDs)
	if want := []string{"circularquay", "qvb", "townhall", "wynyard"}; !slices.Equal(gotIDs, want) {
		t.Errorf("ids = %v, want %v", gotIDs, want)
	}

	bus, err := repo.GetStopsNearby(ctx, sydney.Lat, sydney.Lon, 1, map[int]struct{}{catBus: {}}, 10)
	if err != nil {
		t.Fatalf("GetStopsNearby bus: %v", err)
	}
	for _, s := range bus {
		if !slices.Contains(s.Categories, catBus) {
			t.Errorf("stop %s has categories %v, want bus", s.ID, s.Categories)
		}
	}
	if len(bus) != 2 {
		t.Errorf("bus stops = %d, want 2", len(bus))
	}
}
