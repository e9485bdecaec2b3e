// README: Geospatial index entries and query results.
package location

import "roadside/internal/types"

// Kind names one point set in the index.
type Kind string

const (
	KindPendingRequest Kind = "requests:pending"
	KindMechanic       Kind = "mechanics"
)

type Entry struct {
	ID       types.ID
	Position types.Point
}

// Hit is a query result; DistanceKm is always the haversine distance from the
// query origin.
type Hit struct {
	ID         types.ID
	Position   types.Point
	DistanceKm float64
}
