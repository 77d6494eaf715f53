// server/internal/api/routes/routes.go
package routes

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pharma-scm-api-server/config"
	"pharma-scm-api-server/internal/api/handlers"
	"pharma-scm-api-server/internal/api/middleware"
	"pharma-scm-api-server/internal/auth"
	"pharma-scm-api-server/internal/metrics"
	"pharma-scm-api-server/internal/models"
	"pharma-scm-api-server/internal/prediction"
	"pharma-scm-api-server/internal/socket"
	"pharma-scm-api-server/internal/store"
	"pharma-scm-api-server/internal/workflow"
)

// Dependencies are the components the router wires into handlers.
// Predictions and Metrics may be nil.
type Dependencies struct {
	Config      config.Config
	Engine      *workflow.Engine
	Users       store.UserStore
	Tokens      *auth.Tokens
	Hub         *socket.Hub
	Predictions *prediction.Service
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// SetupRouter builds the HTTP API.
func SetupRouter(d Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(d.Logger))
	router.Use(cors.New(corsConfig(d.Config.Server.AllowedOrigins)))

	defaultRole, ok := models.ParseRole(d.Config.Auth.DefaultRole)
	if !ok || defaultRole == models.RoleFDA {
		defaultRole = models.RolePatient
	}

	authn := auth.NewAuthenticator(d.Tokens, d.Users)

	batchHandler := &handlers.BatchHandler{Engine: d.Engine}
	shipmentHandler := &handlers.ShipmentHandler{Engine: d.Engine}
	viewHandler := &handlers.ViewHandler{Engine: d.Engine}
	predictionHandler := &handlers.PredictionHandler{Service: d.Predictions}
	userHandler := &handlers.UserHandler{
		Users:           d.Users,
		Tokens:          d.Tokens,
		Logger:          d.Logger,
		DefaultRole:     defaultRole,
		AllowRoleChoice: d.Config.Auth.AllowRoleChoice,
	}
	webSocketHandler := &handlers.WebSocketHandler{
		Hub:    d.Hub,
		Auth:   authn,
		Engine: d.Engine,
		Logger: d.Logger,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(d.Config.Server.AllowedOrigins),
		},
	}

	if d.Metrics != nil {
		router.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	apiV1 := router.Group("/api/v1")
	{
		apiV1.GET("/ws", webSocketHandler.ServeWs)

		authRoutes := apiV1.Group("/auth")
		{
			authRoutes.POST("/register", userHandler.Register)
			authRoutes.POST("/login", userHandler.Login)
		}

		// Patient verification needs no account.
		apiV1.GET("/verify/:batchNumber", viewHandler.VerifyBatch)

		protected := apiV1.Group("/")
		protected.Use(middleware.Authenticate(authn))
		{
			protected.GET("/batches/:id", batchHandler.GetBatch)
			protected.GET("/views/:view", viewHandler.GetView)

			protected.POST("/batches", middleware.Authorize(models.RoleManufacturer), batchHandler.SubmitBatch)

			fda := protected.Group("/batches/:id")
			fda.Use(middleware.Authorize(models.RoleFDA))
			{
				fda.POST("/approve", batchHandler.ApproveBatch)
				fda.POST("/reject", batchHandler.RejectBatch)
			}

			distributor := protected.Group("/")
			distributor.Use(middleware.Authorize(models.RoleDistributor))
			{
				distributor.POST("/batches/:id/dispatch", shipmentHandler.DispatchBatch)
				distributor.POST("/batches/:id/recover", shipmentHandler.RecoverDispatch)
				distributor.POST("/shipments/dispatch", shipmentHandler.DispatchMany)
			}

			protected.POST("/predictions",
				middleware.Authorize(models.RoleManufacturer, models.RoleDistributor, models.RoleFDA),
				predictionHandler.PredictAnomalies)
		}
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}
