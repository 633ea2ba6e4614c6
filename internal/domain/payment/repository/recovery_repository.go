package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// RecoveryRepository 补单工具的只读查询
// 孤儿比对是批量 IN 查询，直接走 sqlx，不经过 GORM 模型
type RecoveryRepository interface {
	// ExistingExternalIDs 返回给定外部支付单号中已在本地落库的子集
	ExistingExternalIDs(ctx context.Context, provider string, externalIDs []string) (map[string]struct{}, error)
}

type recoveryRepository struct {
	db *sqlx.DB
}

// NewRecoveryRepository 创建新的仓库实例
func NewRecoveryRepository(db *sqlx.DB) RecoveryRepository {
	return &recoveryRepository{db: db}
}

func (r *recoveryRepository) ExistingExternalIDs(ctx context.Context, provider string, externalIDs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(externalIDs) == 0 {
		return existing, nil
	}

	query, args, err := sqlx.In(
		"SELECT external_id FROM payments WHERE provider = ? AND external_id IN (?)",
		provider, externalIDs,
	)
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	for _, id := range ids {
		existing[id] = struct{}{}
	}
	return existing, nil
}
