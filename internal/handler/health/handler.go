package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/orderlab/orderflow/pkg/messaging"
)

type Handler struct {
	db     *sqlx.DB
	broker messaging.Broker
}

func NewHandler(db *sqlx.DB, broker messaging.Broker) *Handler {
	return &Handler{
		db:     db,
		broker: broker,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/health", h.HealthCheck)
}

// HealthCheck reports 200 when both the database and the broker
// connection are usable, 503 otherwise.
func (h *Handler) HealthCheck(c *gin.Context) {
	if err := h.db.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "down",
			"reason": "database connection failed",
		})
		return
	}
	if !h.broker.Healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "down",
			"reason": "broker connection failed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "up"})
}
