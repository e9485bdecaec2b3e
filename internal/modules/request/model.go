// README: Request aggregate, status machine and service payload variants.
package request

import (
	"strings"
	"time"

	"roadside/internal/modules/pricing"
	"roadside/internal/types"
)

type Status string

const (
	StatusNone           Status = "NONE"
	StatusPending        Status = "PENDING"
	StatusAccepted       Status = "ACCEPTED"
	StatusPaymentPending Status = "PAYMENT_PENDING"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

// ActiveStatuses count toward a mechanic's capacity.
var ActiveStatuses = []Status{StatusAccepted, StatusPaymentPending}

func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusAccepted, StatusPaymentPending, StatusCompleted, StatusCancelled:
		return st, true
	}
	return "", false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type PaymentMethod string

const (
	PaymentCash    PaymentMethod = "Cash"
	PaymentCard    PaymentMethod = "Card"
	PaymentUPI     PaymentMethod = "UPI"
	PaymentUnknown PaymentMethod = "Unknown"
)

// ParsePaymentMethod accepts the known methods case-insensitively; empty means Unknown.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PaymentUnknown, nil
	}
	for _, m := range []PaymentMethod{PaymentCash, PaymentCard, PaymentUPI, PaymentUnknown} {
		if strings.EqualFold(string(m), s) {
			return m, nil
		}
	}
	return "", ErrInvalidInput
}

type Vehicle struct {
	Make         string `json:"make,omitempty"`
	Model        string `json:"model,omitempty"`
	Color        string `json:"color,omitempty"`
	LicensePlate string `json:"licensePlate,omitempty"`
}

func (v *Vehicle) empty() bool {
	return v == nil || (v.Make == "" && v.Model == "" && v.Color == "" && v.LicensePlate == "")
}

type TowDestination struct {
	Location types.Point `json:"location"`
	Address  string      `json:"address"`
}

const defaultTowAddress = "Destination"

type Review struct {
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Request struct {
	ID               types.ID            `json:"_id"`
	DriverID         types.ID            `json:"driverId"`
	DriverName       string              `json:"driverName"`
	DriverPhone      string              `json:"driverPhone"`
	Issue            string              `json:"issue"`
	Vehicle          *Vehicle            `json:"vehicle,omitempty"`
	ServiceType      pricing.ServiceType `json:"serviceType"`
	Location         types.Point         `json:"location"`
	TowDestination   *TowDestination     `json:"towDestination,omitempty"`
	Price            int64               `json:"price"`
	Distance         float64             `json:"distance"`
	AssignedMechanic *types.ID           `json:"assignedMechanic"`
	Status           Status              `json:"status"`
	StatusVersion    int                 `json:"statusVersion"`
	PaymentMethod    PaymentMethod       `json:"paymentMethod"`
	Review           *Review             `json:"review,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
}

// AssignedTo reports whether mechanicID is the assigned mechanic.
func (r *Request) AssignedTo(mechanicID types.ID) bool {
	return r.AssignedMechanic != nil && mechanicID != "" && *r.AssignedMechanic == mechanicID
}

func (r *Request) OwnedBy(driverID types.ID) bool {
	return driverID != "" && r.DriverID == driverID
}

type Event struct {
	ID         int64
	RequestID  types.ID
	FromStatus Status
	ToStatus   Status
	ActorRole  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

const (
	ActorDriver   = "driver"
	ActorMechanic = "mechanic"
)

// StatusEvent is pushed to the request's room after every transition.
type StatusEvent struct {
	RequestID        types.ID  `json:"requestId"`
	Status           Status    `json:"status"`
	StatusVersion    int       `json:"statusVersion"`
	AssignedMechanic *types.ID `json:"assignedMechanic"`
}

// ServiceDetails is the service-specific part of a new request. Only the
// Towing variant can carry a destination.
type ServiceDetails interface {
	kind() pricing.ServiceType
}

// Standard is any non-towing service.
type Standard struct {
	Type pricing.ServiceType
}

func (s Standard) kind() pricing.ServiceType {
	if s.Type == "" || s.Type == pricing.ServiceTowing {
		return pricing.ServiceGeneral
	}
	return s.Type
}

// Towing optionally names a destination by coordinates, by address, or both.
// An address without coordinates is resolved by the Geocoder when one is configured.
type Towing struct {
	Destination *types.Point
	Address     string
}

func (Towing) kind() pricing.ServiceType { return pricing.ServiceTowing }

// AllowedTransitions represents the request state flow (diagram) as code.
var AllowedTransitions = map[Status][]Status{
	StatusNone:           {StatusPending},
	StatusPending:        {StatusAccepted, StatusCancelled},
	StatusAccepted:       {StatusPaymentPending, StatusCancelled},
	StatusPaymentPending: {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
