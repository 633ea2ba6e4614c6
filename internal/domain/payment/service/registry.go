package service

import (
	"store_backend/internal/domain/payment/provider"
)

// ProviderRegistry 已启用的支付通道注册表
// 模块初始化时按配置注册，之后只读
type ProviderRegistry struct {
	providers map[string]provider.Provider
	order     []string
}

// NewProviderRegistry 创建通道注册表
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]provider.Provider)}
}

// Register 注册支付通道
func (r *ProviderRegistry) Register(p provider.Provider) {
	if _, exists := r.providers[p.Name()]; !exists {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// Get 按通道名取适配器
func (r *ProviderRegistry) Get(name string) (provider.Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, ErrUnsupportedProvider
	}
	return p, nil
}

// All 按注册顺序返回所有通道
func (r *ProviderRegistry) All() []provider.Provider {
	result := make([]provider.Provider, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.providers[name])
	}
	return result
}
