package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"activity/api/handlers"
	"activity/api/middleware"
	"activity/api/routes"
	"activity/config"
	"activity/models"
	"activity/services"
	"activity/supabase"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	err := config.LoadConfig(configPath)
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	log.Println("Starting activity feed gateway...")

	if err := services.InitSupabase(); err != nil {
		panic("Failed to init supabase client: " + err.Error())
	}

	if err := services.InitRedis(); err != nil {
		log.Println("Warning: Redis initialization failed:", err)
	}
	if err := services.InitRabbitMQ(); err != nil {
		log.Println("Warning: RabbitMQ initialization failed:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := services.NewSessionService(services.Supa)
	auth := services.NewAuthService(services.Supa)
	activities := services.NewActivityService(services.Supa)

	feedConf := config.AppConfig.Feed
	feed := services.NewFeedSynchronizer(services.Supa,
		feedConf.RetryBase, feedConf.RetryCap, feedConf.RetryMax, feedConf.RefreshPerSec)

	feed.OnChange(func(event supabase.RealtimeEvent) {
		services.PublishFeedRefresh(ctx)
		bridgeEvent := services.ActivityChangeEvent{
			Type:       event.Type,
			ObservedAt: event.Timestamp,
		}
		if id, ok := event.Record["id"].(string); ok {
			bridgeEvent.ActivityID = id
		}
		if uid, ok := event.Record["user_id"].(string); ok {
			bridgeEvent.UserID = uid
		}
		if err := services.PublishActivityChange(ctx, bridgeEvent); err != nil {
			log.Println("event bridge publish failed:", err)
		}
	})
	feed.OnRefresh(func(entries []models.Activity) {
		if err := services.PushFeedChanged(len(entries)); err != nil {
			log.Println("ws push failed:", err)
		}
	})
	feed.OnFetch(func(status string, elapsed time.Duration) {
		middleware.RecordFeedRefresh("change", status, "activity-gateway", elapsed)
	})

	if err := feed.Start(ctx); err != nil {
		panic("Failed to start feed synchronizer: " + err.Error())
	}
	services.SubscribeFeedRefresh(ctx, feed.RequestRefresh)

	handlers.Init(sessions, auth, activities, feed)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(middleware.PrometheusMiddleware("activity-gateway"))
	routes.PublicApi(router, sessions)

	addr := fmt.Sprintf("%s:%d", config.AppConfig.Backend.Host, config.AppConfig.Backend.Port)
	if addr == ":0" {
		addr = ":8080"
	}

	if err := serveHTTP(ctx, &http.Server{Addr: addr, Handler: router}); err != nil {
		panic(err)
	}

	log.Println("Shutting down...")
	feed.Close()
	services.CloseRabbitMQ()
	if err := services.CloseRedis(); err != nil {
		log.Println("redis close error:", err)
	}
	log.Println("Server stopped")
}

// serveHTTP serves until ctx is cancelled, then drains in-flight requests
// and returns so main can tear the rest down and exit.
func serveHTTP(ctx context.Context, srv *http.Server) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-serveErr; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
