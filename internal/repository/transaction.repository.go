package repository

import (
	"context"
	"time"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/nimasrn/voucher-gateway/pkg/pg"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateTransaction = errors.New("transaction id already exists")
)

// PriceRepairer recomputes a selling price for rows persisted without one.
type PriceRepairer interface {
	Resolve(ctx context.Context, costPrice int64, productCode string, provider model.Provider) int64
}

type TransactionRepository struct {
	*pg.DB
	repairer PriceRepairer
	now      func() time.Time
}

func NewTransactionRepository(db *pg.DB, repairer PriceRepairer) *TransactionRepository {
	return &TransactionRepository{
		DB:       db,
		repairer: repairer,
		now:      time.Now,
	}
}

func (r *TransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	entity := toTransactionEntity(txn)

	var exists int64
	if err := r.Write(ctx).Model(&TransactionEntity{}).Where("id = ?", entity.ID).Count(&exists).Error; err != nil {
		return nil, errors.Wrap(err, "check transaction id")
	}
	if exists > 0 {
		return nil, errors.Wrapf(ErrDuplicateTransaction, "%s", entity.ID)
	}

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errors.Wrapf(ErrDuplicateTransaction, "%s", entity.ID)
		}
		return nil, errors.Wrap(err, "insert transaction")
	}

	return toTransactionModel(entity), nil
}

// Get loads one transaction. A row stored with a non-positive selling price
// is repaired in place and flagged with price_repaired for audit.
func (r *TransactionRepository) Get(ctx context.Context, id string) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, errors.Wrap(err, "load transaction")
	}

	if err := r.repairPrice(ctx, &entity); err != nil {
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

// List returns transactions newest first. Status, provider and time range are
// pushed into the query; category is derived and filtered by the caller.
func (r *TransactionRepository) List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, error) {
	q := r.Read(ctx).Model(&TransactionEntity{})

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where("status IN ?", statuses)
	}
	if f.Provider != nil {
		q = q.Where("provider = ?", string(*f.Provider))
	}
	if f.From != nil {
		q = q.Where(`"timestamp" >= ?`, *f.From)
	}
	if f.To != nil {
		q = q.Where(`"timestamp" <= ?`, *f.To)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var entities []*TransactionEntity
	if err := q.Order(`"timestamp" DESC`).Order("id DESC").Find(&entities).Error; err != nil {
		return nil, errors.Wrap(err, "list transactions")
	}

	for _, e := range entities {
		if err := r.repairPrice(ctx, e); err != nil {
			return nil, err
		}
	}
	return toTransactionModels(entities), nil
}

// Settle applies a terminal transition only while the stored row is still
// Pending. It reports false when another caller settled it first.
func (r *TransactionRepository) Settle(ctx context.Context, id string, s model.Settlement) (bool, error) {
	if !s.Status.IsTerminal() {
		return false, errors.Errorf("settle %s: %q is not a terminal status", id, s.Status)
	}

	updates := map[string]interface{}{
		"status":         string(s.Status),
		"timestamp":      s.SettledAt,
		"serial_number":  s.SerialNumber,
		"failure_reason": s.FailureReason,
	}
	if s.ProviderTransactionID != "" {
		updates["provider_transaction_id"] = s.ProviderTransactionID
	}

	result := r.Write(ctx).
		Model(&TransactionEntity{}).
		Where("id = ? AND status = ?", id, string(model.StatusPending)).
		Updates(updates)
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "settle transaction")
	}
	return result.RowsAffected == 1, nil
}

func (r *TransactionRepository) Delete(ctx context.Context, id string) error {
	result := r.Write(ctx).Where("id = ?", id).Delete(&TransactionEntity{})
	if result.Error != nil {
		return errors.Wrap(result.Error, "delete transaction")
	}
	if result.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// ListPending returns the oldest Pending transactions first.
func (r *TransactionRepository) ListPending(ctx context.Context, limit int) ([]model.PendingRef, error) {
	q := r.Read(ctx).
		Model(&TransactionEntity{}).
		Select("id", "provider").
		Where("status = ?", string(model.StatusPending)).
		Order(`"timestamp" ASC`)
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []struct {
		ID       string
		Provider string
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list pending transactions")
	}

	refs := make([]model.PendingRef, len(rows))
	for i, row := range rows {
		refs[i] = model.PendingRef{ID: row.ID, Provider: model.Provider(row.Provider)}
	}
	return refs, nil
}

func (r *TransactionRepository) CountPendingByProvider(ctx context.Context) (map[model.Provider]int64, error) {
	var rows []struct {
		Provider string
		Total    int64
	}
	err := r.Read(ctx).
		Model(&TransactionEntity{}).
		Select("provider, COUNT(*) AS total").
		Where("status = ?", string(model.StatusPending)).
		Group("provider").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "count pending transactions")
	}

	counts := make(map[model.Provider]int64, len(rows))
	for _, row := range rows {
		counts[model.Provider(row.Provider)] = row.Total
	}
	return counts, nil
}

// ProfitSummary aggregates Sukses transactions settled inside [from, to].
func (r *TransactionRepository) ProfitSummary(ctx context.Context, from, to time.Time) (*model.ProfitReport, error) {
	var row struct {
		Count   int64
		Revenue int64
		Cost    int64
	}
	err := r.Read(ctx).
		Model(&TransactionEntity{}).
		Select("COUNT(*) AS count, COALESCE(SUM(selling_price), 0) AS revenue, COALESCE(SUM(cost_price), 0) AS cost").
		Where(`status = ? AND "timestamp" >= ? AND "timestamp" <= ?`, string(model.StatusSukses), from, to).
		Scan(&row).Error
	if err != nil {
		return nil, errors.Wrap(err, "profit summary")
	}

	return &model.ProfitReport{
		From:    from,
		To:      to,
		Count:   row.Count,
		Revenue: row.Revenue,
		Cost:    row.Cost,
		Profit:  row.Revenue - row.Cost,
	}, nil
}

func (r *TransactionRepository) repairPrice(ctx context.Context, e *TransactionEntity) error {
	if e.SellingPrice > 0 || r.repairer == nil {
		return nil
	}

	price := r.repairer.Resolve(ctx, e.CostPrice, e.BuyerSkuCode, model.Provider(e.Provider))
	repairedAt := r.now()

	result := r.Write(ctx).
		Model(&TransactionEntity{}).
		Where("id = ? AND selling_price <= 0", e.ID).
		Updates(map[string]interface{}{
			"selling_price":  price,
			"price_repaired": true,
			"repaired_at":    repairedAt,
		})
	if result.Error != nil {
		return errors.Wrapf(result.Error, "repair selling price of %s", e.ID)
	}

	logger.Warn("repaired transaction without selling price",
		"ref_id", e.ID, "provider", e.Provider, "cost_price", e.CostPrice, "selling_price", price)

	e.SellingPrice = price
	e.PriceRepaired = true
	e.RepairedAt = &repairedAt
	return nil
}
