package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RepositoryInterface restricts Repo methods so services can be tested against fakes.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	EnsureWallet(ctx context.Context, tx *gorm.DB, tenantID, currency string) (*model.Wallet, error)
	GetWalletByTenant(ctx context.Context, tx *gorm.DB, tenantID string) (*model.Wallet, error)
	DebitWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet, amt decimal.Decimal) (bool, error)
	CreditWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet, amt decimal.Decimal) (bool, error)
	SetFrozen(ctx context.Context, tx *gorm.DB, tenantID string, frozen bool) error
	UpdateAutoRecharge(ctx context.Context, tx *gorm.DB, tenantID string, fields AutoRechargeFields) error

	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	FindTransactionByReference(ctx context.Context, tx *gorm.DB, txType, refType, refID string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, walletID uint64, f TxFilter) ([]model.Transaction, int64, error)
	ReplayLedger(ctx context.Context, walletID uint64) (decimal.Decimal, int64, error)

	GetActivePrice(ctx context.Context, code string) (*model.ServicePrice, error)
	UpsertPrice(ctx context.Context, p *model.ServicePrice) error
	DeactivatePrice(ctx context.Context, code string) (bool, error)
	ListPrices(ctx context.Context, activeOnly bool) ([]model.ServicePrice, error)

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CacheBalance(ctx context.Context, tenantID string, bal decimal.Decimal, version uint64) error
	GetCachedBalance(ctx context.Context, tenantID string) (decimal.Decimal, error)
}

// AutoRechargeFields is the column set written by UpdateAutoRecharge.
type AutoRechargeFields struct {
	Enabled      bool
	Trigger      *decimal.Decimal
	Amount       *decimal.Decimal
	PaymentToken *string
}

// TxFilter narrows ListTransactions. Zero values mean "any".
type TxFilter struct {
	Type   string
	Status string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// Repository implements RepositoryInterface.
type Repository struct {
	db         *gorm.DB
	rdb        *redis.Client
	writer     *kafka.Writer
	log        *zap.SugaredLogger
	balanceTTL time.Duration
}

// NewRepository constructs repo. rdb and w may be nil: the balance cache is
// skipped and PublishEvent fails.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger, balanceTTL: 30 * time.Second}
}

// WithBalanceTTL sets how long cached balances live.
func (r *Repository) WithBalanceTTL(ttl time.Duration) *Repository {
	if ttl > 0 {
		r.balanceTTL = ttl
	}
	return r
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// EnsureWallet inserts a zero-balance wallet for the tenant unless one exists,
// then returns the stored row. Concurrent callers all get the same wallet.
func (r *Repository) EnsureWallet(ctx context.Context, tx *gorm.DB, tenantID, currency string) (*model.Wallet, error) {
	existing, err := r.GetWalletByTenant(ctx, tx, tenantID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	w := &model.Wallet{TenantID: tenantID, Balance: decimal.Zero, Currency: currency}
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tenant_id"}}, DoNothing: true}).
		Create(w)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		r.log.Infow("wallet created", "tenant_id", tenantID, "currency", currency)
	}
	return r.GetWalletByTenant(ctx, tx, tenantID)
}

// GetWalletByTenant returns gorm.ErrRecordNotFound when the tenant has no wallet.
func (r *Repository) GetWalletByTenant(ctx context.Context, tx *gorm.DB, tenantID string) (*model.Wallet, error) {
	var w model.Wallet
	if err := tx.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// DebitWallet decrements the balance in one conditioned statement. The row is
// only touched if it still has the version that was read, is not frozen and
// still covers amt. false means nothing was written.
func (r *Repository) DebitWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet, amt decimal.Decimal) (bool, error) {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ? AND is_frozen = ? AND balance >= ?", w.ID, w.Version, false, amt).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amt),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CreditWallet increments the balance with the same version guard as
// DebitWallet but no balance condition.
func (r *Repository) CreditWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet, amt decimal.Decimal) (bool, error) {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ? AND is_frozen = ?", w.ID, w.Version, false).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", amt),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetFrozen toggles the frozen flag.
func (r *Repository) SetFrozen(ctx context.Context, tx *gorm.DB, tenantID string, frozen bool) error {
	res := tx.WithContext(ctx).Model(&model.Wallet{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]interface{}{"is_frozen": frozen, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateAutoRecharge stores the recharge policy of a wallet.
func (r *Repository) UpdateAutoRecharge(ctx context.Context, tx *gorm.DB, tenantID string, f AutoRechargeFields) error {
	res := tx.WithContext(ctx).Model(&model.Wallet{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]interface{}{
			"auto_recharge":         f.Enabled,
			"auto_recharge_trigger": f.Trigger,
			"auto_recharge_amount":  f.Amount,
			"saved_payment_token":   f.PaymentToken,
			"updated_at":            time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateTransaction inserts record.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	return tx.WithContext(ctx).Create(t).Error
}

// FindTransactionByReference returns nil, nil when no row carries the reference.
func (r *Repository) FindTransactionByReference(ctx context.Context, tx *gorm.DB, txType, refType, refID string) (*model.Transaction, error) {
	if refID == "" {
		return nil, nil
	}
	var t model.Transaction
	err := tx.WithContext(ctx).
		Where("type = ? AND reference_type = ? AND reference_id = ?", txType, refType, refID).
		First(&t).Error
	if err == nil {
		return &t, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

// ListTransactions returns one page of a wallet's ledger, newest first, and the
// total number of rows matching the filter.
func (r *Repository) ListTransactions(ctx context.Context, walletID uint64, f TxFilter) ([]model.Transaction, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("wallet_id = ?", walletID)
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("created_at < ?", f.To)
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var txs []model.Transaction
	err := q.Order("created_at desc").Order("id desc").
		Limit(f.Limit).Offset(f.Offset).
		Find(&txs).Error
	return txs, total, err
}

// ReplayLedger folds every completed row of the wallet into a balance.
func (r *Repository) ReplayLedger(ctx context.Context, walletID uint64) (decimal.Decimal, int64, error) {
	sum := decimal.Zero
	var n int64
	var batch []model.Transaction
	res := r.db.WithContext(ctx).
		Where("wallet_id = ? AND status = ?", walletID, model.TxStatusCompleted).
		FindInBatches(&batch, 500, func(_ *gorm.DB, _ int) error {
			for i := range batch {
				sum = sum.Add(batch[i].Signed())
				n++
			}
			return nil
		})
	if res.Error != nil {
		return decimal.Zero, 0, res.Error
	}
	return sum, n, nil
}

// GetActivePrice returns nil, nil when the service is unknown or inactive.
func (r *Repository) GetActivePrice(ctx context.Context, code string) (*model.ServicePrice, error) {
	var p model.ServicePrice
	err := r.db.WithContext(ctx).Where("service_code = ? AND is_active = ?", code, true).First(&p).Error
	if err == nil {
		return &p, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

// UpsertPrice creates or replaces a catalog entry.
func (r *Repository) UpsertPrice(ctx context.Context, p *model.ServicePrice) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "service_code"}},
			DoUpdates: clause.AssignmentColumns([]string{"service_name", "price", "cost_price", "is_active", "updated_at"}),
		}).
		Create(p).Error
}

// DeactivatePrice reports false when the code is not in the catalog.
func (r *Repository) DeactivatePrice(ctx context.Context, code string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.ServicePrice{}).
		Where("service_code = ?", code).
		Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now()})
	return res.RowsAffected > 0, res.Error
}

// ListPrices returns the catalog ordered by code.
func (r *Repository) ListPrices(ctx context.Context, activeOnly bool) ([]model.ServicePrice, error) {
	q := r.db.WithContext(ctx).Order("service_code")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var out []model.ServicePrice
	err := q.Find(&out).Error
	return out, err
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = ?", false).Order("id").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka keyed by aggregate id so a tenant's events stay ordered.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	if r.writer == nil {
		return errors.New("kafka writer not configured")
	}
	msg := kafka.Message{
		Key:   []byte(evt.AggregateID),
		Value: []byte(evt.Payload),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
			{Key: "outbox_id", Value: []byte(fmt.Sprintf("%d", evt.ID))},
		},
		Time: time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

func balanceKey(tenantID string) string { return "balance:" + tenantID }

// setBalanceIfNewer stores "version:balance" unless the cached entry already
// carries the same or a later wallet version.
const setBalanceIfNewer = `
local cur = redis.call('GET', KEYS[1])
if cur then
  local v = tonumber(string.match(cur, '^(%d+):'))
  if v and v >= tonumber(ARGV[1]) then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1] .. ':' .. ARGV[2], 'PX', ARGV[3])
return 1
`

// CacheBalance writes the balance seen at version. Writers that finish out of
// order cannot replace a newer balance with an older one.
func (r *Repository) CacheBalance(ctx context.Context, tenantID string, bal decimal.Decimal, version uint64) error {
	if r.rdb == nil {
		return nil
	}
	stored, err := r.rdb.Eval(ctx, setBalanceIfNewer, []string{balanceKey(tenantID)},
		version, bal.String(), r.balanceTTL.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if stored == 0 {
		r.log.Debugw("cached balance is newer, skipped", "tenant_id", tenantID, "version", version)
	}
	return nil
}

// GetCachedBalance reads Redis. Returns redis.Nil on a miss or with no client.
func (r *Repository) GetCachedBalance(ctx context.Context, tenantID string) (decimal.Decimal, error) {
	if r.rdb == nil {
		return decimal.Zero, redis.Nil
	}
	str, err := r.rdb.Get(ctx, balanceKey(tenantID)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	_, bal, ok := strings.Cut(str, ":")
	if !ok {
		return decimal.Zero, fmt.Errorf("malformed cached balance %q", str)
	}
	return decimal.NewFromString(bal)
}
