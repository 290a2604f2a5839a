package orders

import (
	"context"
	"errors"
	"io"
	"testing"

	"ms-tourbooking/internal/logger"
	"ms-tourbooking/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]models.Product), args.Error(1)
}

func (m *MockStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *MockStore) GetProducts(ctx context.Context, ids []string) ([]models.Product, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).([]models.Product), args.Error(1)
}

func (m *MockStore) CreateOrder(ctx context.Context, o *models.Order) error {
	return m.Called(ctx, o).Error(0)
}

func (m *MockStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockStore) ListOrders(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	args := m.Called(ctx, status)
	return args.Get(0).([]models.Order), args.Error(1)
}

func (m *MockStore) ListUserOrders(ctx context.Context, userID string) ([]models.Order, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]models.Order), args.Error(1)
}

func (m *MockStore) UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus) error {
	return m.Called(ctx, id, from, to).Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishChange(ctx context.Context, e models.ChangeEvent) error {
	return m.Called(ctx, e).Error(0)
}

func product(id, price string, stock int, active bool) models.Product {
	return models.Product{ID: id, Name: "Product " + id, Price: decimal.RequireFromString(price), StockQuantity: stock, IsActive: active}
}

func newService(store *MockStore, pub *MockPublisher) *Service {
	return NewService(store, pub, decimal.NewFromInt(50), logger.New(io.Discard))
}

func TestPlaceOrder_Delivery(t *testing.T) {
	store, pub := new(MockStore), new(MockPublisher)
	store.On("GetProducts", mock.Anything, []string{"p1", "p2"}).
		Return([]models.Product{product("p1", "120.00", 5, true), product("p2", "35.50", 10, true)}, nil)
	store.On("CreateOrder", mock.Anything, mock.AnythingOfType("*models.Order")).Return(nil)
	pub.On("PublishChange", mock.Anything, mock.MatchedBy(func(e models.ChangeEvent) bool {
		return e.Table == models.TableOrders && e.Action == models.ChangeInsert
	})).Return(nil)

	o, err := newService(store, pub).PlaceOrder(context.Background(), "u1", models.OrderRequest{
		Items: []models.OrderLine{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
			{ProductID: "p1", Quantity: 1},
		},
		DeliveryMethod:  models.DeliveryMethodDelivery,
		DeliveryAddress: "12 Long Street, Cape Town",
		Phone:           "0821234567",
	})
	require.NoError(t, err)

	require.Len(t, o.Items, 2)
	assert.Equal(t, 3, o.Items[0].Quantity, "repeated products are merged")
	// 3 × 120 + 35.50 + 50 delivery
	assert.Equal(t, "445.50", o.TotalAmount.StringFixed(2))
	assert.Equal(t, models.OrderPending, o.Status)
	assert.Regexp(t, `^ORD-\d+-\d+$`, o.OrderNumber)
	store.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestPlaceOrder_PickupHasNoFee(t *testing.T) {
	store, pub := new(MockStore), new(MockPublisher)
	store.On("GetProducts", mock.Anything, []string{"p1"}).Return([]models.Product{product("p1", "120.00", 5, true)}, nil)
	store.On("CreateOrder", mock.Anything, mock.Anything).Return(nil)
	pub.On("PublishChange", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	o, err := newService(store, pub).PlaceOrder(context.Background(), "u1", models.OrderRequest{
		Items:           []models.OrderLine{{ProductID: "p1", Quantity: 1}},
		DeliveryMethod:  models.DeliveryMethodPickup,
		DeliveryAddress: "ignored",
		Phone:           "0821234567",
	})
	require.NoError(t, err, "a failed notification does not fail the order")
	assert.Equal(t, "120.00", o.TotalAmount.StringFixed(2))
	assert.Empty(t, o.DeliveryAddress)
}

func TestPlaceOrder_Rejections(t *testing.T) {
	valid := func() models.OrderRequest {
		return models.OrderRequest{
			Items:          []models.OrderLine{{ProductID: "p1", Quantity: 2}},
			DeliveryMethod: models.DeliveryMethodPickup,
			Phone:          "0821234567",
		}
	}

	tests := []struct {
		name     string
		mutate   func(*models.OrderRequest)
		products []models.Product
		want     error
	}{
		{"empty cart", func(r *models.OrderRequest) { r.Items = nil }, nil, ErrInvalid},
		{"zero quantity", func(r *models.OrderRequest) { r.Items[0].Quantity = 0 }, nil, ErrInvalid},
		{"no phone", func(r *models.OrderRequest) { r.Phone = "" }, nil, ErrInvalid},
		{"delivery without address", func(r *models.OrderRequest) { r.DeliveryMethod = models.DeliveryMethodDelivery }, nil, ErrInvalid},
		{"unknown method", func(r *models.OrderRequest) { r.DeliveryMethod = "drone" }, nil, ErrInvalid},
		{"missing product", func(r *models.OrderRequest) {}, []models.Product{}, ErrProductUnavailable},
		{"inactive product", func(r *models.OrderRequest) {}, []models.Product{product("p1", "10", 5, false)}, ErrProductUnavailable},
		{"not enough stock", func(r *models.OrderRequest) {}, []models.Product{product("p1", "10", 1, true)}, ErrInsufficientStock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockStore)
			if tt.products != nil {
				store.On("GetProducts", mock.Anything, []string{"p1"}).Return(tt.products, nil)
			}
			req := valid()
			tt.mutate(&req)

			_, err := newService(store, new(MockPublisher)).PlaceOrder(context.Background(), "u1", req)
			assert.ErrorIs(t, err, tt.want)
			store.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.NoError(t, CanTransition(models.DeliveryMethodDelivery, models.OrderPending, models.OrderProcessing))
	assert.NoError(t, CanTransition(models.DeliveryMethodDelivery, models.OrderProcessing, models.OrderShipped))
	assert.NoError(t, CanTransition(models.DeliveryMethodDelivery, models.OrderShipped, models.OrderDelivered))
	assert.NoError(t, CanTransition(models.DeliveryMethodPickup, models.OrderProcessing, models.OrderCollected))
	assert.NoError(t, CanTransition(models.DeliveryMethodPickup, models.OrderPending, models.OrderCancelled))

	assert.ErrorIs(t, CanTransition(models.DeliveryMethodPickup, models.OrderProcessing, models.OrderShipped), ErrInvalidTransition)
	assert.ErrorIs(t, CanTransition(models.DeliveryMethodDelivery, models.OrderProcessing, models.OrderCollected), ErrInvalidTransition)
	assert.ErrorIs(t, CanTransition(models.DeliveryMethodDelivery, models.OrderShipped, models.OrderCancelled), ErrInvalidTransition)
	assert.ErrorIs(t, CanTransition(models.DeliveryMethodDelivery, models.OrderDelivered, models.OrderPending), ErrInvalidTransition)
}

func TestUpdateStatus(t *testing.T) {
	order := &models.Order{ID: "o1", OrderNumber: "ORD-1-1", Status: models.OrderPending, DeliveryMethod: models.DeliveryMethodPickup}
	updated := &models.Order{ID: "o1", OrderNumber: "ORD-1-1", Status: models.OrderProcessing, DeliveryMethod: models.DeliveryMethodPickup}

	store, pub := new(MockStore), new(MockPublisher)
	store.On("GetOrder", mock.Anything, "o1").Return(order, nil).Once()
	store.On("UpdateOrderStatus", mock.Anything, "o1", models.OrderPending, models.OrderProcessing).Return(nil)
	store.On("GetOrder", mock.Anything, "o1").Return(updated, nil).Once()
	pub.On("PublishChange", mock.Anything, mock.Anything).Return(nil)

	got, err := newService(store, pub).UpdateStatus(context.Background(), "o1", models.OrderProcessing)
	require.NoError(t, err)
	assert.Equal(t, models.OrderProcessing, got.Status)

	store = new(MockStore)
	store.On("GetOrder", mock.Anything, "o1").Return(order, nil)
	store.On("UpdateOrderStatus", mock.Anything, "o1", models.OrderPending, models.OrderCancelled).Return(ErrConflict)
	_, err = newService(store, pub).UpdateStatus(context.Background(), "o1", models.OrderCancelled)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = newService(store, pub).UpdateStatus(context.Background(), "o1", models.OrderDelivered)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestGetProductHidesInactive(t *testing.T) {
	store := new(MockStore)
	p := product("p1", "10", 1, false)
	store.On("GetProduct", mock.Anything, "p1").Return(&p, nil)
	_, err := newService(store, nil).GetProduct(context.Background(), "p1")
	assert.ErrorIs(t, err, ErrNotFound)
}
