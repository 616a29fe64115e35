package storefront

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a storefront account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Session is returned by login and registration.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// Credentials log a user in.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration creates an account.
type Registration struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
}

// Store is a shop offering surplus food.
type Store struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Address    string  `json:"address"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	DistanceKM float64 `json:"distance_km,omitempty"`
	OpenNow    bool    `json:"open_now"`
}

// StoreQuery filters the store list. Zero fields are not sent.
type StoreQuery struct {
	Latitude  *float64
	Longitude *float64
	RadiusKM  *float64
	Search    string
}

// Product is a listing offered by a store.
type Product struct {
	ID            string          `json:"id"`
	StoreID       string          `json:"store_id"`
	Name          string          `json:"name"`
	Category      string          `json:"category,omitempty"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Quantity      int             `json:"quantity"`
	PickupUntil   time.Time       `json:"pickup_until"`
}

// Discount returns the price reduction relative to the original price.
func (p Product) Discount() decimal.Decimal {
	if p.OriginalPrice.LessThanOrEqual(p.Price) {
		return decimal.Zero
	}
	return p.OriginalPrice.Sub(p.Price)
}

// ProductQuery filters the product search. Zero fields are not sent.
type ProductQuery struct {
	Search   string
	StoreID  string
	Category string
	Page     int
}

// Hold reserves product quantity for a limited time.
type Hold struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Subtotal returns UnitPrice * Quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is a placed order.
type Order struct {
	ID        string          `json:"id"`
	StoreID   string          `json:"store_id"`
	Status    string          `json:"status"`
	Items     []OrderItem     `json:"items"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}

// ComputedTotal sums the item subtotals.
func (o Order) ComputedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// NewOrder is the body of an order placement.
type NewOrder struct {
	StoreID string         `json:"store_id"`
	HoldIDs []string       `json:"hold_ids,omitempty"`
	Items   []NewOrderItem `json:"items"`
	Note    string         `json:"note,omitempty"`
}

// NewOrderItem is one requested line of a new order.
type NewOrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Feedback is a rating left after pickup.
type Feedback struct {
	OrderID string `json:"order_id,omitempty"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

// PushToken registers a device for notifications.
type PushToken struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}
