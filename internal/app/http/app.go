package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/pollcast/pollcast/internal/handlers"
	"github.com/pollcast/pollcast/internal/routes"
)

type App struct {
	log    *slog.Logger
	engine *gin.Engine
	server *http.Server
	port   int
}

func NewApp(
	log *slog.Logger,
	port int,
	allowedOrigins []string,
	handler *handlers.VotingHandler,
	liveHandler *handlers.LiveHandler,
	authMiddleware gin.HandlerFunc,
	identityMiddleware gin.HandlerFunc,
) *App {
	r := gin.New()
	r.Use(gin.Recovery())

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173"}
	}

	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		AllowWebSockets:  true,
	}))

	api := r.Group("/api")
	{
		publicGroup := api.Group("")
		routes.RegisterPublicRoutes(publicGroup, handler, identityMiddleware)

		privateGroup := api.Group("", authMiddleware)
		routes.RegisterPrivateRoutes(privateGroup, handler)
	}

	// Results subscription entry point.
	r.GET("/ws/polls/:id", liveHandler.Subscribe)

	// Healthcheck
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	addr := fmt.Sprintf(":%d", port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	return &App{
		log:    log,
		engine: r,
		server: httpServer,
		port:   port,
	}
}

func (a *App) Run() error {
	a.log.Info("HTTP server is running", slog.String("addr", a.server.Addr))
	return a.server.ListenAndServe()
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("HTTP server is stopping...")
	return a.server.Shutdown(ctx)
}

func (a *App) Engine() *gin.Engine {
	return a.engine
}
