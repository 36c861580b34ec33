package geometry

import (
	"testing"
)

func TestNewBoundingBox(t *testing.T) {
	tests := []struct {
		name        string
		coords      []float64
		expectError bool
	}{
		{
			name:   "valid box",
			coords: []float64{13.0, 52.3, 13.8, 52.7},
		},
		{
			name:        "wrong length",
			coords:      []float64{13.0, 52.3, 13.8},
			expectError: true,
		},
		{
			name:        "west equals east",
			coords:      []float64{13.0, 52.3, 13.0, 52.7},
			expectError: true,
		},
		{
			name:        "south equals north",
			coords:      []float64{13.0, 52.3, 13.8, 52.3},
			expectError: true,
		},
		{
			name:        "inverted axis",
			coords:      []float64{13.8, 52.3, 13.0, 52.7},
			expectError: true,
		},
		{
			name:        "longitude out of range",
			coords:      []float64{-190, 52.3, 13.8, 52.7},
			expectError: true,
		},
		{
			name:        "latitude out of range",
			coords:      []float64{13.0, 52.3, 13.8, 95},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBoundingBox(tt.coords)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error for %v, got nil", tt.coords)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := BoundSlice(b)
			for i := range tt.coords {
				if got[i] != tt.coords[i] {
					t.Errorf("round trip mismatch at %d: got %f, want %f", i, got[i], tt.coords[i])
				}
			}
		})
	}
}

func TestUTMZone(t *testing.T) {
	tests := []struct {
		name   string
		coords []float64
		zone   int
	}{
		{"berlin", []float64{13.0, 52.3, 13.8, 52.7}, 33},
		{"greenwich", []float64{-0.5, 51.0, 0.1, 51.6}, 30},
		{"alaska west", []float64{-179.9, 60.0, -178.0, 61.0}, 1},
		{"fiji east", []float64{178.0, -18.5, 179.9, -17.0}, 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBoundingBox(tt.coords)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := UTMZone(b); got != tt.zone {
				t.Errorf("UTMZone = %d, want %d", got, tt.zone)
			}
		})
	}
}

func TestEPSGForZone(t *testing.T) {
	if got := EPSGForZone(33, false); got != 32633 {
		t.Errorf("north zone 33 = %d, want 32633", got)
	}
	if got := EPSGForZone(19, true); got != 32719 {
		t.Errorf("south zone 19 = %d, want 32719", got)
	}
}

func TestBoundsSnap(t *testing.T) {
	b := Bounds{Left: 399991.0, Bottom: 5799997.5, Right: 400008.2, Top: 5800013.0}
	snapped := b.Snap(10)

	want := Bounds{Left: 399990, Bottom: 5799990, Right: 400010, Top: 5800020}
	if snapped != want {
		t.Errorf("Snap = %+v, want %+v", snapped, want)
	}

	// Already aligned bounds must not move.
	if again := snapped.Snap(10); again != snapped {
		t.Errorf("Snap not idempotent: %+v != %+v", again, snapped)
	}
}

func TestBoundsIntersects(t *testing.T) {
	a := Bounds{Left: 0, Bottom: 0, Right: 100, Top: 100}
	if !a.Intersects(Bounds{Left: 50, Bottom: 50, Right: 150, Top: 150}) {
		t.Error("expected overlap")
	}
	if a.Intersects(Bounds{Left: 100, Bottom: 0, Right: 200, Top: 100}) {
		t.Error("edge-touching extents must not intersect")
	}
	if a.Intersects(Bounds{Left: 200, Bottom: 200, Right: 300, Top: 300}) {
		t.Error("disjoint extents must not intersect")
	}
}
