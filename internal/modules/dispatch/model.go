// README: Dispatch views: redacted nearby requests and mechanic-populated requests.
package dispatch

import (
	"errors"
	"time"

	"roadside/internal/modules/mechanic"
	"roadside/internal/modules/pricing"
	"roadside/internal/modules/request"
	"roadside/internal/types"
)

var ErrInvalidQuery = errors.New("invalid dispatch query")

type NearbyQuery struct {
	Point    types.Point
	RadiusKm float64
	// ServiceType narrows the result when set.
	ServiceType pricing.ServiceType
}

// PublicRequest is what a mechanic sees before accepting. It has no driver
// name or phone fields, so they cannot leak through serialisation.
type PublicRequest struct {
	ID             types.ID                `json:"_id"`
	DriverID       types.ID                `json:"driverId"`
	Issue          string                  `json:"issue"`
	Vehicle        *request.Vehicle        `json:"vehicle,omitempty"`
	ServiceType    pricing.ServiceType     `json:"serviceType"`
	Location       types.Point             `json:"location"`
	TowDestination *request.TowDestination `json:"towDestination,omitempty"`
	Price          int64                   `json:"price"`
	Distance       float64                 `json:"distance"`
	Status         request.Status          `json:"status"`
	CreatedAt      time.Time               `json:"createdAt"`
	DistanceKm     float64                 `json:"distanceKm"`
}

func redact(r *request.Request, distanceKm float64) PublicRequest {
	return PublicRequest{
		ID:             r.ID,
		DriverID:       r.DriverID,
		Issue:          r.Issue,
		Vehicle:        r.Vehicle,
		ServiceType:    r.ServiceType,
		Location:       r.Location,
		TowDestination: r.TowDestination,
		Price:          r.Price,
		Distance:       r.Distance,
		Status:         r.Status,
		CreatedAt:      r.CreatedAt,
		DistanceKm:     distanceKm,
	}
}

// Populated is a request with its assigned mechanic expanded in place of the id.
type Populated struct {
	request.Request
	AssignedMechanic *mechanic.Mechanic `json:"assignedMechanic"`
}

// VisibleTo reports whether viewer may see the driver's contact details: the
// owning driver, or the mechanic the job is assigned to.
func (p *Populated) VisibleTo(viewer types.ID) bool {
	return p.OwnedBy(viewer) || p.Request.AssignedTo(viewer)
}

// Public is the view handed to anyone else.
func (p *Populated) Public() PublicRequest {
	return redact(&p.Request, 0)
}
