package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-tourbooking/internal/logger"
	"ms-tourbooking/internal/models"
	"ms-tourbooking/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound           = errors.New("orders: not found")
	ErrInvalid            = errors.New("orders: invalid request")
	ErrProductUnavailable = errors.New("orders: product unavailable")
	ErrInsufficientStock  = errors.New("orders: not enough stock")
	ErrInvalidTransition  = errors.New("orders: status transition not allowed")
	ErrConflict           = errors.New("orders: order changed concurrently")
)

type Store interface {
	ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	GetProducts(ctx context.Context, ids []string) ([]models.Product, error)
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, status models.OrderStatus) ([]models.Order, error)
	ListUserOrders(ctx context.Context, userID string) ([]models.Order, error)
	// UpdateOrderStatus changes the status only while it still equals from; ErrConflict otherwise.
	UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus) error
}

type ChangePublisher interface {
	PublishChange(ctx context.Context, event models.ChangeEvent) error
}

// Service runs the shop: product listing and cash-on-delivery orders.
type Service struct {
	store       Store
	publisher   ChangePublisher
	deliveryFee decimal.Decimal
	validate    *validator.Validate
	logger      *logger.Logger
	now         func() time.Time
}

func NewService(store Store, publisher ChangePublisher, deliveryFee decimal.Decimal, log *logger.Logger) *Service {
	return &Service{
		store:       store,
		publisher:   publisher,
		deliveryFee: deliveryFee,
		validate:    validator.New(),
		logger:      log,
		now:         time.Now,
	}
}

func (s *Service) ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error) {
	return s.store.ListProducts(ctx, filter)
}

func (s *Service) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, ErrNotFound
	}
	return p, nil
}

// PlaceOrder prices the cart from the current product rows and stores a
// pending order. Stock is checked, not reserved.
func (s *Service) PlaceOrder(ctx context.Context, userID string, req models.OrderRequest) (*models.Order, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	lines := mergeLines(req.Items)

	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	products, err := s.store.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	byID := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	items := make([]models.OrderItem, 0, len(lines))
	total := decimal.Zero
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok || !p.IsActive {
			return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, l.ProductID)
		}
		if l.Quantity > p.StockQuantity {
			return nil, fmt.Errorf("%w: %s has %d left", ErrInsufficientStock, p.Name, p.StockQuantity)
		}
		items = append(items, models.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  l.Quantity,
		})
		total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	address := ""
	if req.DeliveryMethod == models.DeliveryMethodDelivery {
		total = total.Add(s.deliveryFee)
		address = req.DeliveryAddress
	}

	now := s.now().UTC()
	o := &models.Order{
		ID:              utils.GenerateID(),
		OrderNumber:     utils.GenerateOrderNumber(now),
		UserID:          userID,
		Items:           items,
		TotalAmount:     total,
		Status:          models.OrderPending,
		DeliveryMethod:  req.DeliveryMethod,
		DeliveryAddress: address,
		Phone:           req.Phone,
		PaymentProofURL: req.PaymentProofURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.logger.LogDatabase("INSERT", models.TableOrders, fmt.Sprintf("order %s for %s", o.OrderNumber, total.StringFixed(2)))
	s.publish(ctx, models.NewChangeEvent(models.TableOrders, models.ChangeInsert, o.ID, ""))
	return o, nil
}

// mergeLines folds repeated products into one line, keeping first-seen order.
func mergeLines(in []models.OrderLine) []models.OrderLine {
	index := make(map[string]int, len(in))
	out := make([]models.OrderLine, 0, len(in))
	for _, l := range in {
		if i, ok := index[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out
}

func (s *Service) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.store.GetOrder(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	return s.store.ListOrders(ctx, status)
}

func (s *Service) ListUserOrders(ctx context.Context, userID string) ([]models.Order, error) {
	return s.store.ListUserOrders(ctx, userID)
}

func (s *Service) UpdateStatus(ctx context.Context, id string, to models.OrderStatus) (*models.Order, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CanTransition(o.DeliveryMethod, o.Status, to); err != nil {
		return nil, err
	}
	if err := s.store.UpdateOrderStatus(ctx, id, o.Status, to); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: order %s", ErrConflict, o.OrderNumber)
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}
	s.logger.LogDatabase("UPDATE", models.TableOrders, fmt.Sprintf("order %s %s → %s", o.OrderNumber, o.Status, to))
	s.publish(ctx, models.NewChangeEvent(models.TableOrders, models.ChangeUpdate, id, ""))
	return s.store.GetOrder(ctx, id)
}

func (s *Service) publish(ctx context.Context, event models.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishChange(ctx, event); err != nil {
		s.logger.Warn("ORDERS", fmt.Sprintf("publish %s change: %v", event.Table, err))
	}
}
