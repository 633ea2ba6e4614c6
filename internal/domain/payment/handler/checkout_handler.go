package handler

import (
	"net/http"

	"store_backend/internal/domain/payment/provider"
	"store_backend/internal/domain/payment/service"
	"store_backend/internal/pkg/config"
	"store_backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type CheckoutHandler struct {
	service service.CheckoutService
}

func NewCheckoutHandler(service service.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{service: service}
}

type CheckoutItemInput struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name" binding:"required"`
	Quantity  int     `json:"quantity" binding:"required,min=1"`
	UnitPrice float64 `json:"unitPrice" binding:"required,min=0"`
}

type CheckoutInput struct {
	Channel  string              `json:"channel" binding:"required"`
	Currency string              `json:"currency"`
	Name     string              `json:"name" binding:"required"`
	Email    string              `json:"email" binding:"required,email"`
	Phone    string              `json:"phone"`
	City     string              `json:"city"`
	Address  string              `json:"address"`
	Items    []CheckoutItemInput `json:"items" binding:"required,min=1,dive"`
	Subtotal float64             `json:"subtotal" binding:"required,min=0.01"`
	Tax      float64             `json:"tax"`
	Shipping float64             `json:"shipping"`
	Discount float64             `json:"discount"`
	Total    float64             `json:"total" binding:"required,min=0.01"`
}

// Checkout 同步下单
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	var input CheckoutInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	currency := input.Currency
	if currency == "" {
		currency = config.GlobalConfig.App.Currency
	}

	items := make([]service.CheckoutItem, 0, len(input.Items))
	for _, item := range input.Items {
		items = append(items, service.CheckoutItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	result, err := h.service.CreateOrder(c.Request.Context(), service.CheckoutInput{
		Channel:  input.Channel,
		Currency: currency,
		Customer: provider.CustomerInfo{
			Name:    input.Name,
			Email:   input.Email,
			Phone:   input.Phone,
			City:    input.City,
			Address: input.Address,
		},
		Items:    items,
		Subtotal: input.Subtotal,
		Tax:      input.Tax,
		Shipping: input.Shipping,
		Discount: input.Discount,
		Total:    input.Total,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, result)
}
