package service

import (
	"context"
	"errors"

	customerModel "store_backend/internal/domain/customer/model"
	"store_backend/internal/domain/payment/model"
	"store_backend/internal/domain/payment/provider"
	"store_backend/internal/domain/payment/repository"
	"store_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CheckoutInput 同步下单入参
type CheckoutInput struct {
	Channel  string
	Currency string
	Customer provider.CustomerInfo
	Items    []CheckoutItem
	Subtotal float64
	Tax      float64
	Shipping float64
	Discount float64
	Total    float64
}

// CheckoutItem 下单行项目
type CheckoutItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice float64
}

// CheckoutResult 同步下单结果
type CheckoutResult struct {
	Order        *model.Order `json:"order"`
	ClientSecret string       `json:"clientSecret,omitempty"`
	RedirectURL  string       `json:"redirectUrl,omitempty"`
}

// CheckoutService 同步下单路径：建单三个并发触发点之一
type CheckoutService interface {
	CreateOrder(ctx context.Context, input CheckoutInput) (*CheckoutResult, error)
}

type checkoutService struct {
	repo      repository.LedgerRepository
	providers *ProviderRegistry
}

// NewCheckoutService 创建下单服务
func NewCheckoutService(repo repository.LedgerRepository, providers *ProviderRegistry) CheckoutService {
	return &checkoutService{repo: repo, providers: providers}
}

// CreateOrder 同步下单
// 先在渠道开支付单，再落本地订单+支付单；
// 如果渠道回调抢先落了库（唯一索引冲突），直接复用已有订单
func (s *checkoutService) CreateOrder(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	p, err := s.providers.Get(input.Channel)
	if err != nil {
		return nil, err
	}

	if input.Total <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := input.Customer.Validate(); err != nil {
		return nil, ErrInvalidMetadata
	}

	created, err := p.CreatePayment(ctx, provider.CreatePaymentRequest{
		Amount:      input.Total,
		Currency:    input.Currency,
		Description: "Online order",
		Customer:    input.Customer,
	})
	if err != nil {
		return nil, err
	}

	items := make([]model.OrderItem, 0, len(input.Items))
	for _, item := range input.Items {
		items = append(items, model.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	externalID := created.ExternalID
	order := &model.Order{
		Items:      items,
		Subtotal:   input.Subtotal,
		Tax:        input.Tax,
		Shipping:   input.Shipping,
		Discount:   input.Discount,
		Total:      input.Total,
		Status:     model.OrderStatusNew,
		Provider:   input.Channel,
		ExternalID: &externalID,
		City:       input.Customer.City,
		Address:    input.Customer.Address,
	}
	payment := &model.Payment{
		Provider:   input.Channel,
		ExternalID: created.ExternalID,
		Amount:     input.Total,
		Currency:   input.Currency,
		Status:     model.PaymentStatusProcessing,
	}

	customer := &customerModel.Customer{
		Name:    input.Customer.Name,
		Email:   input.Customer.Email,
		Phone:   input.Customer.Phone,
		City:    input.Customer.City,
		Address: input.Customer.Address,
	}

	if err := s.repo.CreateOrderWithPayment(ctx, customer, order, payment); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 渠道确认比下单请求先到，订单已由对账器落库
			logger.Log.Info("checkout lost creation race to webhook, reusing existing order",
				zap.String("external_id", created.ExternalID))
			existing, ferr := s.repo.GetOrderByExternalID(created.ExternalID)
			if ferr != nil {
				return nil, ferr
			}
			return &CheckoutResult{
				Order:        existing,
				ClientSecret: created.ClientSecret,
				RedirectURL:  created.RedirectURL,
			}, nil
		}
		return nil, err
	}

	return &CheckoutResult{
		Order:        order,
		ClientSecret: created.ClientSecret,
		RedirectURL:  created.RedirectURL,
	}, nil
}
