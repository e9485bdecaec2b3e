// README: Service categories and the fixed base-price table.
package pricing

import "strings"

type ServiceType string

const (
	ServiceGeneral ServiceType = "General"
	ServiceTowing  ServiceType = "Towing"
	ServiceTire    ServiceType = "Tire"
	ServiceFuel    ServiceType = "Fuel"
)

const (
	DefaultBasePrice int64 = 50
	TowingRatePerKm        = 5.0
)

var basePrices = map[ServiceType]int64{
	ServiceGeneral: 50,
	ServiceTowing:  80,
	ServiceTire:    40,
	ServiceFuel:    35,
}

// ParseServiceType matches case-insensitively; ok is false for unknown names.
func ParseServiceType(s string) (ServiceType, bool) {
	for t := range basePrices {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, true
		}
	}
	return ServiceGeneral, false
}

func BasePrice(t ServiceType) int64 {
	if p, ok := basePrices[t]; ok {
		return p
	}
	return DefaultBasePrice
}

// Quote is the commercial terms stored on a request.
type Quote struct {
	Price      int64
	DistanceKm float64
}
