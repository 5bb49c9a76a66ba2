package physics

import (
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		tol                    float64
	}{
		{"same point", -34.8222, -58.5358, -34.8222, -58.5358, 0, 1e-9},
		{"EZE to AEP", -34.8222, -58.5358, -34.5592, -58.4156, 31.1, 0.5},
		{"one degree latitude", 0, 0, 1, 0, 111.19, 0.05},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := HaversineKm(tc.lat1, tc.lon1, tc.lat2, tc.lon2)
			if math.Abs(got-tc.want) > tc.tol {
				t.Fatalf("HaversineKm = %.4f, want %.4f ± %.2f", got, tc.want, tc.tol)
			}
		})
	}
}

func TestCardinal(t *testing.T) {
	tests := []struct {
		heading float64
		want    string
	}{
		{0, "N"},
		{22.4, "N"},
		{22.5, "NE"},
		{90, "E"},
		{180, "S"},
		{269, "W"},
		{337.5, "N"},
		{359.9, "N"},
		{-90, "W"},
		{720 + 45, "NE"},
	}
	for _, tc := range tests {
		if got := Cardinal(tc.heading); got != tc.want {
			t.Fatalf("Cardinal(%v) = %s, want %s", tc.heading, got, tc.want)
		}
	}
}

func TestTrend(t *testing.T) {
	if Trend(65) != Climbing {
		t.Fatalf("65 fpm should be climbing")
	}
	if Trend(64) != Level || Trend(-64) != Level {
		t.Fatalf("band edges should be level")
	}
	if Trend(-1200) != Descending {
		t.Fatalf("-1200 fpm should be descending")
	}
}

func TestRoundTo(t *testing.T) {
	if got := RoundTo(1.23456, 4); got != 1.2346 {
		t.Fatalf("RoundTo = %v", got)
	}
}
