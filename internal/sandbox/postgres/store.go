package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	internal "github.com/frahmantamala/checkout/internal"
	checkoutDatamodel "github.com/frahmantamala/checkout/internal/core/datamodel/checkout"
	sandboxDatamodel "github.com/frahmantamala/checkout/internal/core/datamodel/sandbox"
	"github.com/frahmantamala/checkout/internal/sandbox"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured driver and applies pool settings.
func Open(cfg internal.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = gormPostgres.Open(cfg.GetDSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.GetDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	switch {
	case cfg.Driver == "sqlite" && strings.Contains(cfg.Source, ":memory:"):
		// every new connection to an in-memory database starts out empty
		sqlDB.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(sandboxDatamodel.Models()...); err != nil {
			return nil, fmt.Errorf("failed to migrate sandbox schema: %w", err)
		}
	}
	return db, nil
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) sandbox.RepositoryAPI {
	return &Store{db: db}
}

func (s *Store) CreateMerchant(ctx context.Context, merchant *sandboxDatamodel.Merchant) error {
	return s.db.WithContext(ctx).Create(merchant).Error
}

func (s *Store) GetMerchantByAPIKey(ctx context.Context, apiKey string) (*sandboxDatamodel.Merchant, error) {
	var merchant sandboxDatamodel.Merchant
	err := s.db.WithContext(ctx).Where("api_key = ?", apiKey).First(&merchant).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &merchant, nil
}

func (s *Store) GetMerchantByEmail(ctx context.Context, email string) (*sandboxDatamodel.Merchant, error) {
	var merchant sandboxDatamodel.Merchant
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&merchant).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &merchant, nil
}

func (s *Store) CreateOrder(ctx context.Context, order *sandboxDatamodel.Order) error {
	return s.db.WithContext(ctx).Create(order).Error
}

func (s *Store) GetOrder(ctx context.Context, id string) (*sandboxDatamodel.Order, error) {
	var order sandboxDatamodel.Order
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (s *Store) CreatePayment(ctx context.Context, payment *sandboxDatamodel.Payment) error {
	return s.db.WithContext(ctx).Create(payment).Error
}

func (s *Store) GetPayment(ctx context.Context, id string) (*sandboxDatamodel.Payment, error) {
	var payment sandboxDatamodel.Payment
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (s *Store) HasSuccessfulPayment(ctx context.Context, orderID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&sandboxDatamodel.Payment{}).
		Where("order_id = ? AND status = ?", orderID, string(checkoutDatamodel.StatusSuccess)).
		Count(&count).Error
	return count > 0, err
}

func (s *Store) SettlePayment(ctx context.Context, id string, outcome sandbox.Outcome) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment sandboxDatamodel.Payment
		if err := tx.Where("id = ?", id).First(&payment).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"status":            outcome.Status,
			"error_code":        nullable(outcome.Code),
			"error_description": nullable(outcome.Description),
			"settled_at":        outcome.SettledAt,
		}
		if err := tx.Model(&sandboxDatamodel.Payment{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}

		if outcome.Status != string(checkoutDatamodel.StatusSuccess) {
			return nil
		}
		return tx.Model(&sandboxDatamodel.Order{}).
			Where("id = ?", payment.OrderID).
			Update("status", sandboxDatamodel.OrderStatusPaid).Error
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
