// README: Pricing service computes request quotes.
package pricing

import (
	"math"

	"roadside/internal/modules/location"
	"roadside/internal/types"
)

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Quote prices a request. Only a towing job with a destination pays the
// per-kilometre surcharge; everything else is the flat base price.
func (s *Service) Quote(serviceType ServiceType, pickup types.Point, dest *types.Point) Quote {
	if serviceType != ServiceTowing || dest == nil {
		return Quote{Price: BasePrice(serviceType)}
	}
	km := location.HaversineKm(pickup, *dest)
	price := float64(BasePrice(ServiceTowing)) + km*TowingRatePerKm
	return Quote{
		Price:      int64(math.Round(price)),
		DistanceKm: math.Round(km*10) / 10,
	}
}
