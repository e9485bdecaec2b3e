// README: Request handlers for the lifecycle transitions and the dispatch views.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"roadside/internal/http/middleware"
	"roadside/internal/infra"
	"roadside/internal/modules/dispatch"
	"roadside/internal/modules/pricing"
	"roadside/internal/modules/request"
	"roadside/internal/types"
)

type RequestLifecycle interface {
	Create(ctx context.Context, cmd request.CreateCommand) (*request.Request, error)
	Accept(ctx context.Context, cmd request.AcceptCommand) (*request.Request, error)
	Finish(ctx context.Context, cmd request.FinishCommand) (*request.Request, error)
	Pay(ctx context.Context, cmd request.PayCommand) (*request.Request, error)
	Review(ctx context.Context, cmd request.ReviewCommand) (*request.Request, error)
	Cancel(ctx context.Context, cmd request.CancelCommand) (*request.Request, error)
}

type RequestViews interface {
	FindNearby(ctx context.Context, q dispatch.NearbyQuery) ([]dispatch.PublicRequest, error)
	FindNearbyForMechanic(ctx context.Context, mechanicID types.ID, radiusKm float64) ([]dispatch.PublicRequest, error)
	FindByMechanic(ctx context.Context, mechanicID types.ID, filter string) ([]*request.Request, error)
	FindByDriver(ctx context.Context, driverID types.ID, status string) ([]dispatch.Populated, error)
	GetPopulated(ctx context.Context, id types.ID) (*dispatch.Populated, error)
}

type RequestHandler struct {
	lifecycle RequestLifecycle
	views     RequestViews
}

func NewRequestHandler(lifecycle RequestLifecycle, views RequestViews) *RequestHandler {
	return &RequestHandler{lifecycle: lifecycle, views: views}
}

type createRequestReq struct {
	DriverID       string           `json:"driverId"`
	DriverName     string           `json:"driverName"`
	DriverPhone    string           `json:"driverPhone"`
	Issue          string           `json:"issue"`
	Latitude       *float64         `json:"latitude"`
	Longitude      *float64         `json:"longitude"`
	ServiceType    string           `json:"serviceType"`
	TowDestLat     *float64         `json:"towDestLat"`
	TowDestLng     *float64         `json:"towDestLng"`
	TowDestAddress string           `json:"towDestAddress"`
	Vehicle        *request.Vehicle `json:"vehicle"`
}

// details builds the service variant; only towing carries destination fields.
func (r createRequestReq) details() request.ServiceDetails {
	st, _ := pricing.ParseServiceType(r.ServiceType)
	if st != pricing.ServiceTowing {
		return request.Standard{Type: st}
	}
	tow := request.Towing{Address: strings.TrimSpace(r.TowDestAddress)}
	if r.TowDestLat != nil && r.TowDestLng != nil {
		tow.Destination = &types.Point{Lat: *r.TowDestLat, Lng: *r.TowDestLng}
	}
	return tow
}

func (h *RequestHandler) Create(c *gin.Context) {
	var req createRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(c, http.StatusBadRequest, "Please provide all details including driver authentication")
		return
	}
	driverID, ok := actingAs(c, infra.RoleDriver, req.DriverID)
	if !ok {
		return
	}

	r, err := h.lifecycle.Create(c.Request.Context(), request.CreateCommand{
		DriverID:    driverID,
		DriverName:  req.DriverName,
		DriverPhone: req.DriverPhone,
		Issue:       req.Issue,
		Pickup:      types.Point{Lat: *req.Latitude, Lng: *req.Longitude},
		Vehicle:     req.Vehicle,
		Service:     req.details(),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusCreated, r)
}

func (h *RequestHandler) Nearby(c *gin.Context) {
	p, ok := queryPoint(c)
	if !ok {
		return
	}
	radius, ok := queryFloat(c, "distanceInKm", 0)
	if !ok {
		return
	}
	q := dispatch.NearbyQuery{Point: p, RadiusKm: radius}
	if raw := c.Query("serviceType"); raw != "" {
		st, known := pricing.ParseServiceType(raw)
		if !known {
			writeError(c, http.StatusBadRequest, "unknown serviceType")
			return
		}
		q.ServiceType = st
	}

	list, err := h.views.FindNearby(c.Request.Context(), q)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeList(c, list)
}

type actorReq struct {
	MechanicID string `json:"mechanicId"`
	DriverID   string `json:"driverId"`
}

func (h *RequestHandler) Accept(c *gin.Context) {
	var req actorReq
	if !bindOptional(c, &req) {
		return
	}
	mechanicID, ok := actingAs(c, infra.RoleMechanic, req.MechanicID)
	if !ok {
		return
	}
	r, err := h.lifecycle.Accept(c.Request.Context(), request.AcceptCommand{
		RequestID:  types.ID(c.Param("id")),
		MechanicID: mechanicID,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, r)
}

func (h *RequestHandler) ListByMechanic(c *gin.Context) {
	id := c.Param("id")
	if !sameCaller(c, id) {
		return
	}
	list, err := h.views.FindByMechanic(c.Request.Context(), types.ID(id), c.Query("status"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeList(c, list)
}

func (h *RequestHandler) ListByDriver(c *gin.Context) {
	id := c.Param("id")
	if !sameCaller(c, id) {
		return
	}
	list, err := h.views.FindByDriver(c.Request.Context(), types.ID(id), c.Query("status"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeList(c, list)
}

// Get returns the full request to its driver and assigned mechanic; other
// authenticated callers get the redacted nearby view.
func (h *RequestHandler) Get(c *gin.Context) {
	r, err := h.views.GetPopulated(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if middleware.Authenticated(c) && !r.VisibleTo(types.ID(middleware.CallerUID(c))) {
		writeData(c, http.StatusOK, r.Public())
		return
	}
	writeData(c, http.StatusOK, r)
}

func (h *RequestHandler) Finish(c *gin.Context) {
	var req actorReq
	if !bindOptional(c, &req) {
		return
	}
	mechanicID, ok := actingAs(c, infra.RoleMechanic, req.MechanicID)
	if !ok {
		return
	}
	r, err := h.lifecycle.Finish(c.Request.Context(), request.FinishCommand{
		RequestID:  types.ID(c.Param("id")),
		MechanicID: mechanicID,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, r)
}

type payReq struct {
	DriverID      string `json:"driverId"`
	PaymentMethod string `json:"paymentMethod"`
}

func (h *RequestHandler) Pay(c *gin.Context) {
	var req payReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	driverID, ok := actingAs(c, infra.RoleDriver, req.DriverID)
	if !ok {
		return
	}
	r, err := h.lifecycle.Pay(c.Request.Context(), request.PayCommand{
		RequestID:     types.ID(c.Param("id")),
		DriverID:      driverID,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, r)
}

type reviewReq struct {
	DriverID string `json:"driverId"`
	Rating   int    `json:"rating"`
	Comment  string `json:"comment"`
}

func (h *RequestHandler) Review(c *gin.Context) {
	var req reviewReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "Valid rating (1-5) is required")
		return
	}
	driverID, ok := actingAs(c, infra.RoleDriver, req.DriverID)
	if !ok {
		return
	}
	r, err := h.lifecycle.Review(c.Request.Context(), request.ReviewCommand{
		RequestID: types.ID(c.Param("id")),
		DriverID:  driverID,
		Rating:    req.Rating,
		Comment:   req.Comment,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, r)
}

func (h *RequestHandler) Cancel(c *gin.Context) {
	var req actorReq
	if !bindOptional(c, &req) {
		return
	}
	driverID, ok := actingAs(c, infra.RoleDriver, req.DriverID)
	if !ok {
		return
	}
	r, err := h.lifecycle.Cancel(c.Request.Context(), request.CancelCommand{
		RequestID: types.ID(c.Param("id")),
		DriverID:  driverID,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, r)
}
