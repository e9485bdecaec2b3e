// README: HTTP router registration.
package http

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"roadside/internal/http/handlers"
	"roadside/internal/http/middleware"
	"roadside/internal/infra"
)

// ChatService is the chat surface used by both REST and the socket.
type ChatService interface {
	handlers.ChatService
	handlers.SessionOpener
}

type RouterDeps struct {
	// Verifier is nil when authentication is off.
	Verifier  infra.TokenVerifier
	Requests  handlers.RequestLifecycle
	Views     handlers.RequestViews
	Mechanics handlers.MechanicService
	Chat      ChatService
	IndexSync handlers.IndexSyncStatus
	RadiusKm  float64
	Log       logrus.FieldLogger
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logging(d.Log), middleware.Recovery(d.Log), middleware.CORS())

	r.GET("/health", handlers.NewHealthHandler(d.IndexSync).Check)

	auth := middleware.Auth(d.Verifier)
	r.GET("/ws", auth, handlers.NewWSHandler(d.Chat, d.Log).Serve)

	api := r.Group("/api", auth)

	requestHandler := handlers.NewRequestHandler(d.Requests, d.Views)
	requests := api.Group("/requests")
	requests.POST("", requestHandler.Create)
	requests.GET("/nearby", requestHandler.Nearby)
	requests.GET("/mechanic/:id", requestHandler.ListByMechanic)
	requests.GET("/driver/:id", requestHandler.ListByDriver)
	requests.GET("/:id", requestHandler.Get)
	requests.PATCH("/:id/accept", requestHandler.Accept)
	requests.PATCH("/:id/finish", requestHandler.Finish)
	requests.PATCH("/:id/pay", requestHandler.Pay)
	requests.PATCH("/:id/review", requestHandler.Review)
	requests.PATCH("/:id/cancel", requestHandler.Cancel)

	chatHandler := handlers.NewChatHandler(d.Chat)
	api.GET("/chats/:requestId", chatHandler.History)
	api.POST("/chats", chatHandler.Send)

	mechanicHandler := handlers.NewMechanicHandler(d.Mechanics, d.Views, d.RadiusKm)
	mechanics := api.Group("/mechanics")
	mechanics.POST("", mechanicHandler.Register)
	mechanics.GET("", mechanicHandler.List)
	mechanics.GET("/nearby", mechanicHandler.Nearby)
	mechanics.GET("/:id", mechanicHandler.Get)
	mechanics.GET("/:id/requests/nearby", mechanicHandler.NearbyRequests)
	mechanics.PATCH("/:id/location", mechanicHandler.UpdateLocation)
	mechanics.PATCH("/:id/availability", mechanicHandler.SetAvailability)

	return r
}
