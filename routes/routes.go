package routes

import (
	"net/http"

	"gamesession/handlers"
	"gamesession/middleware"
	"gamesession/services"
	"gamesession/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func SetupRoutes(
	router *gin.Engine,
	functionsHandler *handlers.FunctionsHandler,
	storeHandler *handlers.StoreHandler,
	hub *services.Hub,
	verifier middleware.TokenVerifier,
) {
	// Callable session functions
	router.POST("/createSessionCode", functionsHandler.CreateSessionCode)
	router.POST("/leaveSession", functionsHandler.LeaveSession)

	// Store REST surface
	db := router.Group("/db")
	{
		db.GET("/*path", storeHandler.Get)
		db.PUT("/*path", storeHandler.Put)
		db.DELETE("/*path", middleware.Auth(verifier), storeHandler.Delete)
	}

	// Change feed for one store path
	router.GET("/ws/feed", func(c *gin.Context) {
		path := c.Query("path")
		if path == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "path query parameter required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("websocket upgrade failed")
			return
		}

		if _, err := hub.RegisterClient(c.Request.Context(), conn, path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("feed subscription failed")
			conn.WriteJSON(services.Message{
				Type:    store.FrameError,
				Payload: store.FeedValue{Path: path, Error: err.Error()},
			})
			conn.Close()
		}
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
