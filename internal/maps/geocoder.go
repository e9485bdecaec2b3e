// README: Google Maps geocoding for tow destinations given only as an address.
package maps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"roadside/internal/types"
)

var ErrNoResult = errors.New("address not found")

type geocodeClient interface {
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// Geocoder resolves free-text addresses through the Geocoding API.
type Geocoder struct {
	client geocodeClient
	region string
}

// NewGeocoder creates a Geocoder with the given API key. region is an optional
// ccTLD bias such as "in" or "us".
func NewGeocoder(apiKey, region string) (*Geocoder, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Geocoder{client: client, region: region}, nil
}

// Geocode returns the first result's location.
func (g *Geocoder) Geocode(ctx context.Context, address string) (types.Point, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return types.Point{}, ErrNoResult
	}
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{Address: address, Region: g.region})
	if err != nil {
		return types.Point{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(results) == 0 {
		return types.Point{}, ErrNoResult
	}

	loc := results[0].Geometry.Location
	p := types.Point{Lat: loc.Lat, Lng: loc.Lng}
	if !p.Valid() {
		return types.Point{}, fmt.Errorf("maps api returned invalid point %v", loc)
	}
	return p, nil
}
