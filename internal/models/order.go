package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCollected  OrderStatus = "collected"
	OrderCancelled  OrderStatus = "cancelled"
)

const (
	DeliveryMethodDelivery = "delivery"
	DeliveryMethodPickup   = "pickup"
)

// OrderItem is the price snapshot of one cart line.
type OrderItem struct {
	ProductID string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID              string          `bun:"id,pk" json:"id"`
	OrderNumber     string          `bun:"order_number,notnull,unique" json:"order_number"`
	UserID          string          `bun:"user_id,notnull" json:"user_id"`
	Items           []OrderItem     `bun:"items,type:jsonb" json:"items"`
	TotalAmount     decimal.Decimal `bun:"total_amount,type:decimal(10,2),notnull" json:"total_amount"`
	Status          OrderStatus     `bun:"status,notnull" json:"status"`
	DeliveryMethod  string          `bun:"delivery_method" json:"delivery_method"`
	DeliveryAddress string          `bun:"delivery_address" json:"delivery_address,omitempty"`
	Phone           string          `bun:"phone" json:"phone"`
	PaymentProofURL string          `bun:"payment_proof_url" json:"payment_proof_url,omitempty"`
	CreatedAt       time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt       time.Time       `bun:"updated_at,notnull" json:"updated_at"`
}

type OrderLine struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

type OrderRequest struct {
	Items           []OrderLine `json:"items" validate:"required,min=1,dive"`
	DeliveryMethod  string      `json:"delivery_method" validate:"required,oneof=delivery pickup"`
	DeliveryAddress string      `json:"delivery_address" validate:"required_if=DeliveryMethod delivery"`
	Phone           string      `json:"phone" validate:"required"`
	PaymentProofURL string      `json:"payment_proof_url"`
}

type OrderStatusRequest struct {
	Status OrderStatus `json:"status" validate:"required"`
}
