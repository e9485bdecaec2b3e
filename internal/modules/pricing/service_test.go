package pricing

import (
	"testing"

	"roadside/internal/types"
)

func TestService_Quote(t *testing.T) {
	origin := types.Point{Lat: 0, Lng: 0}
	tenthEast := types.Point{Lat: 0, Lng: 0.1}

	tests := []struct {
		name         string
		serviceType  ServiceType
		dest         *types.Point
		wantPrice    int64
		wantDistance float64
	}{
		{name: "General flat", serviceType: ServiceGeneral, wantPrice: 50},
		{name: "Tire flat", serviceType: ServiceTire, wantPrice: 40},
		{name: "Fuel flat", serviceType: ServiceFuel, wantPrice: 35},
		{name: "Unknown type uses default", serviceType: ServiceType("Winch"), wantPrice: 50},
		{name: "Towing without destination", serviceType: ServiceTowing, wantPrice: 80},
		{
			name:        "Towing 0.1 degree (~11.1km)",
			serviceType: ServiceTowing,
			dest:        &tenthEast,
			// 80 + 11.12*5 = 135.6 -> 136
			wantPrice:    136,
			wantDistance: 11.1,
		},
		{
			name:        "Non-towing ignores destination",
			serviceType: ServiceGeneral,
			dest:        &tenthEast,
			wantPrice:   50,
		},
		{
			name:        "Towing to the same point",
			serviceType: ServiceTowing,
			dest:        &origin,
			wantPrice:   80,
		},
	}

	s := NewService()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Quote(tt.serviceType, origin, tt.dest)
			if got.Price != tt.wantPrice {
				t.Errorf("Quote().Price = %d, want %d", got.Price, tt.wantPrice)
			}
			if got.DistanceKm != tt.wantDistance {
				t.Errorf("Quote().DistanceKm = %v, want %v", got.DistanceKm, tt.wantDistance)
			}
		})
	}
}

func TestQuote_NeverBelowBase(t *testing.T) {
	s := NewService()
	dest := types.Point{Lat: 40.1, Lng: -74.0}
	for _, st := range []ServiceType{ServiceGeneral, ServiceTowing, ServiceTire, ServiceFuel} {
		if q := s.Quote(st, types.Point{Lat: 40.0, Lng: -74.0}, &dest); q.Price < BasePrice(st) {
			t.Errorf("%s priced %d below base %d", st, q.Price, BasePrice(st))
		}
	}
}

func TestParseServiceType(t *testing.T) {
	if st, ok := ParseServiceType("towing"); !ok || st != ServiceTowing {
		t.Errorf("ParseServiceType(towing) = %v, %v", st, ok)
	}
	if st, ok := ParseServiceType("winch"); ok || st != ServiceGeneral {
		t.Errorf("ParseServiceType(winch) = %v, %v", st, ok)
	}
}
