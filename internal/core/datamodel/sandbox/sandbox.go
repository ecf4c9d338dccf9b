package sandbox

import "time"

type Merchant struct {
	ID            string    `gorm:"column:id;primaryKey"`
	Name          string    `gorm:"column:name;not null"`
	Email         string    `gorm:"column:email;not null;uniqueIndex"`
	APIKey        string    `gorm:"column:api_key;not null;uniqueIndex"`
	APISecretHash string    `gorm:"column:api_secret_hash;not null"`
	IsActive      bool      `gorm:"column:is_active;not null"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (Merchant) TableName() string {
	return "merchants"
}

// Order amounts are minor currency units.
type Order struct {
	ID         string    `gorm:"column:id;primaryKey"`
	MerchantID string    `gorm:"column:merchant_id;not null;index"`
	Amount     int64     `gorm:"column:amount;not null"`
	Currency   string    `gorm:"column:currency;not null"`
	Receipt    *string   `gorm:"column:receipt"`
	Status     string    `gorm:"column:status;not null"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// Payment never stores the full card number or the CVV.
type Payment struct {
	ID               string     `gorm:"column:id;primaryKey"`
	OrderID          string     `gorm:"column:order_id;not null;index"`
	MerchantID       string     `gorm:"column:merchant_id;not null;index"`
	Amount           int64      `gorm:"column:amount;not null"`
	Currency         string     `gorm:"column:currency;not null"`
	Method           string     `gorm:"column:method;not null"`
	Status           string     `gorm:"column:status;not null"`
	VPA              *string    `gorm:"column:vpa"`
	CardNetwork      *string    `gorm:"column:card_network"`
	CardLast4        *string    `gorm:"column:card_last4"`
	ErrorCode        *string    `gorm:"column:error_code"`
	ErrorDescription *string    `gorm:"column:error_description"`
	SettledAt        *time.Time `gorm:"column:settled_at"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

const (
	OrderStatusCreated = "created"
	OrderStatusPaid    = "paid"
)

// Models lists every table for auto migration.
func Models() []any {
	return []any{&Merchant{}, &Order{}, &Payment{}}
}
