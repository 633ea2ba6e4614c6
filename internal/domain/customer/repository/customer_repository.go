package repository

import (
	"store_backend/internal/domain/customer/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CustomerRepository 接口定义
type CustomerRepository interface {
	GetByID(id string) (*model.Customer, error)
	GetByEmail(email string) (*model.Customer, error)
	// GetOrCreateTx 在给定事务内按邮箱取客户，不存在则创建
	// 订单落库事务会调用它，保证客户与订单同事务提交
	GetOrCreateTx(tx *gorm.DB, customer *model.Customer) (*model.Customer, error)
}

type customerRepository struct {
	db *gorm.DB
}

// NewCustomerRepository 创建新的仓库实例
func NewCustomerRepository(db *gorm.DB) CustomerRepository {
	return &customerRepository{db: db}
}

// GetByID 根据ID获取客户
func (r *customerRepository) GetByID(id string) (*model.Customer, error) {
	var customer model.Customer
	if err := r.db.Where("id = ?", id).First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

// GetByEmail 根据邮箱获取客户
func (r *customerRepository) GetByEmail(email string) (*model.Customer, error) {
	var customer model.Customer
	if err := r.db.Where("email = ?", email).First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

// GetOrCreateTx 事务内按邮箱取或建客户
func (r *customerRepository) GetOrCreateTx(tx *gorm.DB, customer *model.Customer) (*model.Customer, error) {
	var existing model.Customer
	err := tx.Where("email = ?", customer.Email).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	// 邮箱上有唯一约束，并发创建用 ON CONFLICT 吸收
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(customer)
	if res.Error != nil {
		return nil, res.Error
	}

	// 冲突命中说明另一个事务先建了这条客户，重查拿真实记录
	if res.RowsAffected == 0 {
		if err := tx.Where("email = ?", customer.Email).First(&existing).Error; err != nil {
			return nil, err
		}
		return &existing, nil
	}
	return customer, nil
}
