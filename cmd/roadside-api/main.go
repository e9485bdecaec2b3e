// README: Entry point; loads config, wires services, starts HTTP server and background loops.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"roadside/internal/config"
	httptransport "roadside/internal/http"
	"roadside/internal/infra"
	"roadside/internal/maps"
	"roadside/internal/modules/chat"
	"roadside/internal/modules/dispatch"
	"roadside/internal/modules/location"
	"roadside/internal/modules/mechanic"
	"roadside/internal/modules/pricing"
	"roadside/internal/modules/request"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := infra.NewLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := infra.InitTracer(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
	if err != nil {
		log.WithError(err).Fatal("tracing init")
	}

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("auth init")
	}
	if verifier == nil {
		log.Warn("authentication disabled (auth.provider=none)")
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.WithError(err).Fatal("postgres")
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.WithError(err).Fatal("redis")
	}
	defer redisClient.Close()

	mongoClient, err := infra.NewMongo(ctx, cfg.Mongo.URI)
	if err != nil {
		log.WithError(err).Fatal("mongo")
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()

	geoSvc := location.NewService(location.NewStore(redisClient))

	mechanicStore := mechanic.NewStore(dbPool)
	mechanicSvc := mechanic.NewService(mechanicStore, geoSvc, log.WithField("module", "mechanic"))

	hub := chat.NewHub(cfg.Chat.QueueSize)
	broker := chat.NewBroker(redisClient, hub, log.WithField("module", "chat"))
	chatStore := chat.NewStore(mongoClient.Database(cfg.Mongo.Database))
	if err := chatStore.EnsureIndexes(ctx); err != nil {
		log.WithError(err).Warn("chat indexes")
	}
	chatSvc := chat.NewService(chatStore, broker, hub, log.WithField("module", "chat"))

	requestStore := request.NewStore(dbPool, mechanicStore)
	requestSvc := request.NewService(requestStore, pricing.NewService(), geoSvc, chatSvc, cfg.Dispatch, log.WithField("module", "request"))
	if cfg.Maps.APIKey != "" {
		geocoder, err := maps.NewGeocoder(cfg.Maps.APIKey, cfg.Maps.Region)
		if err != nil {
			log.WithError(err).Fatal("maps init")
		}
		requestSvc.UseGeocoder(geocoder)
	}

	syncStore := dispatch.NewStore(redisClient)
	dispatchSvc := dispatch.NewService(requestStore, mechanicSvc, geoSvc, syncStore, cfg.Dispatch, log.WithField("module", "dispatch"))

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Verifier:  verifier,
		Requests:  requestSvc,
		Views:     dispatchSvc,
		Mechanics: mechanicSvc,
		Chat:      chatSvc,
		IndexSync: syncStore,
		RadiusKm:  cfg.Dispatch.RadiusKm,
		Log:       log,
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go dispatchSvc.RunIndexSync(ctx)
	go func() {
		if err := broker.Run(ctx); err != nil {
			log.WithError(err).Error("chat broker stopped")
		}
	}()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		log.Info("shutting down")
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("http shutdown")
		}
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.WithError(err).Warn("tracer shutdown")
		}
	}()

	log.WithField("addr", cfg.HTTP.Addr).Info("roadside api listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("http server")
	}
	<-shutdownDone
}

// newVerifier returns nil when authentication is turned off.
func newVerifier(ctx context.Context, cfg config.Config) (infra.TokenVerifier, error) {
	switch cfg.Auth.Provider {
	case "firebase":
		return infra.NewFirebaseVerifier(ctx, cfg.Auth.FirebaseProject, cfg.Auth.FirebaseCreds)
	case "jwt":
		return infra.NewJWTVerifier(cfg.Auth.JWTSecret), nil
	default:
		return nil, nil
	}
}
