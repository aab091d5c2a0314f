package order

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orderlab/orderflow/internal/handler"
	"github.com/orderlab/orderflow/internal/model"
	orderService "github.com/orderlab/orderflow/internal/service/order"
	apperrors "github.com/orderlab/orderflow/pkg/errors"
)

type Handler struct {
	service orderService.OrderServicer
}

func NewHandler(service orderService.OrderServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	orders := r.Group("/orders")
	{
		orders.POST("", h.CreateOrder)
		orders.GET("/:order_id", h.GetOrder)
	}
}

type itemLineRequest struct {
	SKU      string  `json:"sku" binding:"required,notblank"`
	Quantity int     `json:"quantity" binding:"required,gte=1"`
	Price    float64 `json:"price" binding:"gte=0"`
}

type createOrderRequest struct {
	OrderID    string            `json:"order_id" binding:"required,notblank"`
	CustomerID string            `json:"customer_id" binding:"required,notblank"`
	Items      []itemLineRequest `json:"items" binding:"required,min=1,dive"`
}

type orderResponse struct {
	OrderID     string  `json:"order_id"`
	CustomerID  string  `json:"customer_id"`
	Status      string  `json:"status"`
	TotalAmount float64 `json:"total_amount"`
	Version     int     `json:"version"`
	FailReason  string  `json:"fail_reason,omitempty"`
}

func newOrderResponse(order *model.Order) orderResponse {
	return orderResponse{
		OrderID:     order.OrderID,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount,
		Version:     order.Version,
		FailReason:  order.FailReason,
	}
}

// CreateOrder handles POST /orders. Creating an existing order_id again
// returns the stored order with 200 instead of 201.
func (h *Handler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, handler.NewErrorResponse(err.Error()))
		return
	}

	items := make([]model.ItemLine, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, model.ItemLine{
			SKU:      item.SKU,
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}

	order, created, err := h.service.CreateOrder(c.Request.Context(), orderService.CreateOrderCommand{
		OrderID:    req.OrderID,
		CustomerID: req.CustomerID,
		Items:      items,
	})
	if err != nil {
		if apperrors.IsValidation(err) {
			c.JSON(http.StatusUnprocessableEntity, handler.NewErrorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("internal server error"))
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, handler.NewSuccessResponse(newOrderResponse(order)))
}

// GetOrder handles GET /orders/:order_id.
func (h *Handler) GetOrder(c *gin.Context) {
	orderID := c.Param("order_id")

	order, err := h.service.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			c.JSON(http.StatusNotFound, handler.NewErrorResponse("order not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("internal server error"))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(newOrderResponse(order)))
}
