package storefront

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"foodshare-proxy/internal/gateway"
)

// Services bundles every feature service over one gateway client.
type Services struct {
	Auth       *AuthService
	Stores     *StoreService
	Products   *ProductService
	Orders     *OrderService
	Feedback   *FeedbackService
	PushTokens *PushTokenService
}

// New creates all feature services.
func New(gw *gateway.Client) *Services {
	return &Services{
		Auth:       &AuthService{gw: gw},
		Stores:     &StoreService{gw: gw},
		Products:   &ProductService{gw: gw},
		Orders:     &OrderService{gw: gw},
		Feedback:   &FeedbackService{gw: gw},
		PushTokens: &PushTokenService{gw: gw},
	}
}

// AuthService handles login, registration and the current profile.
type AuthService struct {
	gw *gateway.Client
}

// Login exchanges credentials for a session.
func (s *AuthService) Login(ctx context.Context, creds Credentials) (Session, error) {
	return call[Session](ctx, s.gw, http.MethodPost, "/auth/login", "", &gateway.RequestOptions{Body: creds})
}

// Register creates an account and returns its first session.
func (s *AuthService) Register(ctx context.Context, reg Registration) (Session, error) {
	return call[Session](ctx, s.gw, http.MethodPost, "/auth/register", "", &gateway.RequestOptions{Body: reg})
}

// Profile returns the user owning token.
func (s *AuthService) Profile(ctx context.Context, token string) (User, error) {
	return call[User](ctx, s.gw, http.MethodGet, "/users/me", token, nil)
}

// StoreService lists and fetches stores.
type StoreService struct {
	gw *gateway.Client
}

// List returns stores, optionally around a position.
func (s *StoreService) List(ctx context.Context, q StoreQuery) ([]Store, error) {
	return call[[]Store](ctx, s.gw, http.MethodGet, "/stores", "", &gateway.RequestOptions{
		Query: map[string]any{
			"lat":       q.Latitude,
			"lng":       q.Longitude,
			"radius_km": q.RadiusKM,
			"search":    q.Search,
		},
	})
}

// Get returns one store.
func (s *StoreService) Get(ctx context.Context, id string) (Store, error) {
	return call[Store](ctx, s.gw, http.MethodGet, "/stores/"+url.PathEscape(id), "", nil)
}

// ProductService searches products and places holds.
type ProductService struct {
	gw *gateway.Client
}

// Search returns products matching q.
func (s *ProductService) Search(ctx context.Context, q ProductQuery) ([]Product, error) {
	query := map[string]any{
		"q":        q.Search,
		"store_id": q.StoreID,
		"category": q.Category,
	}
	if q.Page > 0 {
		query["page"] = q.Page
	}
	return call[[]Product](ctx, s.gw, http.MethodGet, "/products", "", &gateway.RequestOptions{Query: query})
}

// Get returns one product.
func (s *ProductService) Get(ctx context.Context, id string) (Product, error) {
	return call[Product](ctx, s.gw, http.MethodGet, "/products/"+url.PathEscape(id), "", nil)
}

// Hold reserves quantity units of a product for the user owning token.
func (s *ProductService) Hold(ctx context.Context, token, productID string, quantity int) (Hold, error) {
	if quantity <= 0 {
		return Hold{}, fmt.Errorf("storefront: hold quantity must be positive; got %d", quantity)
	}
	return call[Hold](ctx, s.gw, http.MethodPost, "/products/"+url.PathEscape(productID)+"/hold", token, &gateway.RequestOptions{
		Body: map[string]int{"quantity": quantity},
	})
}

// OrderService places and tracks orders.
type OrderService struct {
	gw *gateway.Client
}

// Place submits a new order.
func (s *OrderService) Place(ctx context.Context, token string, order NewOrder) (Order, error) {
	if len(order.Items) == 0 {
		return Order{}, fmt.Errorf("storefront: order has no items")
	}
	return call[Order](ctx, s.gw, http.MethodPost, "/orders", token, &gateway.RequestOptions{Body: order})
}

// List returns the user's orders, optionally filtered by status.
func (s *OrderService) List(ctx context.Context, token, status string) ([]Order, error) {
	return call[[]Order](ctx, s.gw, http.MethodGet, "/orders", token, &gateway.RequestOptions{
		Query: map[string]any{"status": status},
	})
}

// Get returns one order.
func (s *OrderService) Get(ctx context.Context, token, id string) (Order, error) {
	return call[Order](ctx, s.gw, http.MethodGet, "/orders/"+url.PathEscape(id), token, nil)
}

// Cancel cancels an order. It is never retried.
func (s *OrderService) Cancel(ctx context.Context, token, id string) (Order, error) {
	once := 0
	return call[Order](ctx, s.gw, http.MethodPost, "/orders/"+url.PathEscape(id)+"/cancel", token, &gateway.RequestOptions{
		Retries: &once,
	})
}

// FeedbackService submits ratings.
type FeedbackService struct {
	gw *gateway.Client
}

// Submit sends feedback for an order or the app in general.
func (s *FeedbackService) Submit(ctx context.Context, token string, fb Feedback) error {
	if fb.Rating < 1 || fb.Rating > 5 {
		return fmt.Errorf("storefront: rating must be 1-5; got %d", fb.Rating)
	}
	_, err := call[struct{}](ctx, s.gw, http.MethodPost, "/feedback", token, &gateway.RequestOptions{Body: fb})
	return err
}

// PushTokenService registers devices for push notifications.
type PushTokenService struct {
	gw *gateway.Client
}

// Register stores the device token for the user owning token.
func (s *PushTokenService) Register(ctx context.Context, token string, pt PushToken) error {
	_, err := call[struct{}](ctx, s.gw, http.MethodPost, "/push-tokens", token, &gateway.RequestOptions{Body: pt})
	return err
}

// Unregister removes a device token.
func (s *PushTokenService) Unregister(ctx context.Context, token, deviceToken string) error {
	_, err := call[struct{}](ctx, s.gw, http.MethodDelete, "/push-tokens/"+url.PathEscape(deviceToken), token, nil)
	return err
}
