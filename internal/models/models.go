package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Skotchmaster/storefront/internal/billing"
	"github.com/Skotchmaster/storefront/internal/cart"
	"github.com/Skotchmaster/storefront/internal/payments"
)

// BillingInfo holds the latest billing details of a user. There is at most
// one row per user; every successful checkout overwrites it.
type BillingInfo struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"        json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Name      string    `gorm:"not null"                    json:"name"`
	Email     string    `gorm:"not null"                    json:"email"`
	Address   string    `gorm:"not null"                    json:"address"`
	City      string    `gorm:"not null"                    json:"city"`
	State     string    `gorm:"not null"                    json:"state"`
	ZipCode   string    `gorm:"not null"                    json:"zip"`
	Country   string    `gorm:"not null"                    json:"country"`
	CreatedAt time.Time `                                   json:"created_at"`
	UpdatedAt time.Time `                                   json:"updated_at"`
}

func (b *BillingInfo) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

func (BillingInfo) TableName() string { return "billing_infos" }

func (b BillingInfo) Info() billing.Info {
	return billing.Info{
		Name:    b.Name,
		Email:   b.Email,
		Address: b.Address,
		City:    b.City,
		State:   b.State,
		ZipCode: b.ZipCode,
		Country: b.Country,
	}
}

func BillingFromInfo(userID uuid.UUID, in billing.Info) BillingInfo {
	return BillingInfo{
		UserID:  userID,
		Name:    in.Name,
		Email:   in.Email,
		Address: in.Address,
		City:    in.City,
		State:   in.State,
		ZipCode: in.ZipCode,
		Country: in.Country,
	}
}

type OrderItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Image       string          `json:"image,omitempty"`
}

// Order is the canonical record of a completed checkout. OrderID is the
// public identifier and the idempotency key for every completion path.
type Order struct {
	ID              uuid.UUID        `gorm:"type:uuid;primaryKey"           json:"-"`
	OrderID         string           `gorm:"size:64;uniqueIndex;not null"   json:"order_id"`
	UserID          uuid.UUID        `gorm:"type:uuid;index;not null"       json:"user_id"`
	Items           []OrderItem      `gorm:"serializer:json;not null"       json:"items"`
	TotalAmount     decimal.Decimal  `gorm:"type:numeric(12,2);not null"    json:"total_amount"`
	Currency        string           `gorm:"size:3;not null"                json:"currency"`
	PaymentMethod   payments.Method  `gorm:"size:32;not null"               json:"payment_method"`
	PaymentLabel    string           `                                      json:"payment_label,omitempty"`
	PaymentStatus   string           `gorm:"size:64;not null"               json:"payment_status"`
	TransactionID   string           `gorm:"size:128;index"                 json:"transaction_id"`
	BillingInfoID   uuid.UUID        `gorm:"type:uuid"                      json:"billing_info_id"`
	Billing         billing.Info     `gorm:"embedded;embeddedPrefix:billing_" json:"billing"`
	ShippingAddress *billing.Address `gorm:"serializer:json"                json:"shipping_address,omitempty"`
	CreatedAt       time.Time        `                                      json:"created_at"`
	UpdatedAt       time.Time        `                                      json:"updated_at"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

func (Order) TableName() string { return "orders" }

func OrderItemsFromCart(items []cart.Item) []OrderItem {
	out := make([]OrderItem, 0, len(items))
	for _, it := range items {
		out = append(out, OrderItem{
			ProductID:   it.ProductID,
			ProductName: it.Title,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Image:       it.Image,
		})
	}
	return out
}

// CheckoutSession tracks one payment attempt from session creation until the
// order is persisted or the attempt fails.
type CheckoutSession struct {
	ID             string                  `gorm:"size:64;primaryKey" json:"id"`
	UserID         uuid.UUID               `gorm:"type:uuid;index;not null" json:"user_id"`
	IdempotencyKey string                  `gorm:"size:128;index" json:"-"`
	Method         payments.Method         `gorm:"size:32;not null" json:"method"`
	State          SessionState            `gorm:"size:32;index;not null" json:"state"`
	OrderID        string                  `gorm:"size:64;index" json:"order_id,omitempty"`
	ProviderRef    string                  `gorm:"size:128;index" json:"provider_ref,omitempty"`
	Amount         decimal.Decimal         `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency       string                  `gorm:"size:3;not null" json:"currency"`
	Items          []cart.Item             `gorm:"serializer:json;not null" json:"items"`
	Billing        billing.Info            `gorm:"serializer:json;not null" json:"billing"`
	Shipping       *billing.Address        `gorm:"serializer:json" json:"shipping,omitempty"`
	Handle         *payments.SessionHandle `gorm:"serializer:json" json:"handle,omitempty"`
	Result         *payments.Result        `gorm:"serializer:json" json:"result,omitempty"`
	FailureReason  string                  `json:"failure_reason,omitempty"`
	Attempts       int                     `gorm:"not null;default:0" json:"attempts"`
	LeaseUntil     *time.Time              `json:"-"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

func (CheckoutSession) TableName() string { return "checkout_sessions" }

// WebhookEvent records provider events that were already handled.
type WebhookEvent struct {
	EventID     string    `gorm:"size:128;primaryKey" json:"event_id"`
	Provider    string    `gorm:"size:32;not null"    json:"provider"`
	Type        string    `gorm:"size:64;not null"    json:"type"`
	ProcessedAt time.Time `gorm:"not null"            json:"processed_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

func All() []any {
	return []any{&BillingInfo{}, &Order{}, &CheckoutSession{}, &WebhookEvent{}}
}
