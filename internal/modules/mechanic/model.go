// README: Mechanic (service provider) profile, availability and rating aggregate.
package mechanic

import (
	"errors"
	"math"
	"time"

	"roadside/internal/modules/pricing"
	"roadside/internal/types"
)

var (
	ErrNotFound       = errors.New("mechanic not found")
	ErrInvalidInput   = errors.New("invalid mechanic input")
	ErrDuplicateEmail = errors.New("mechanic email already registered")
)

type Mechanic struct {
	ID          types.ID            `json:"_id"`
	Name        string              `json:"name"`
	Email       string              `json:"email,omitempty"`
	Phone       string              `json:"phone"`
	ServiceType pricing.ServiceType `json:"serviceType"`
	Location    *types.Point        `json:"location,omitempty"`
	IsAvailable bool                `json:"isAvailable"`
	PhotoURL    string              `json:"photoUrl"`
	Rating      float64             `json:"rating"`
	NumReviews  int                 `json:"numReviews"`
	CreatedAt   time.Time           `json:"createdAt"`
}

// Nearby is a mechanic returned by a distance-bounded search.
type Nearby struct {
	*Mechanic
	DistanceKm float64 `json:"distanceKm"`
}

// NextRating folds one more score into a running mean, rounded to one decimal.
func NextRating(old float64, count int, score int) float64 {
	total := old*float64(count) + float64(score)
	return math.Round(total/float64(count+1)*10) / 10
}
