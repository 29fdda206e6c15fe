package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/safar/dental-lab-orders/internal/lifecycle"
	"github.com/safar/dental-lab-orders/internal/models"
	"github.com/safar/dental-lab-orders/internal/store"
	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) CreateOrder(ctx context.Context, in lifecycle.CreateOrderInput) (*models.Order, error) {
	args := m.Called(ctx, in)
	order, _ := args.Get(0).(*models.Order)
	return order, args.Error(1)
}

func (m *MockEngine) Transition(ctx context.Context, in lifecycle.TransitionInput) (*models.Order, error) {
	args := m.Called(ctx, in)
	order, _ := args.Get(0).(*models.Order)
	return order, args.Error(1)
}

func (m *MockEngine) Rollback(ctx context.Context, in lifecycle.RollbackInput) (*models.Order, error) {
	args := m.Called(ctx, in)
	order, _ := args.Get(0).(*models.Order)
	return order, args.Error(1)
}

func (m *MockEngine) UpdateDeliveryDate(ctx context.Context, orderID int64, date time.Time, actorID int64) (*models.Order, error) {
	args := m.Called(ctx, orderID, date, actorID)
	order, _ := args.Get(0).(*models.Order)
	return order, args.Error(1)
}

func (m *MockEngine) SubmitApprovalLink(ctx context.Context, in lifecycle.SubmitApprovalInput) (*models.Approval, error) {
	args := m.Called(ctx, in)
	approval, _ := args.Get(0).(*models.Approval)
	return approval, args.Error(1)
}

func (m *MockEngine) RespondToApproval(ctx context.Context, in lifecycle.RespondInput) (*models.Approval, error) {
	args := m.Called(ctx, in)
	approval, _ := args.Get(0).(*models.Approval)
	return approval, args.Error(1)
}

type MockReader struct {
	mock.Mock
}

func (m *MockReader) GetOrderDetail(ctx context.Context, id int64) (*models.OrderDetail, error) {
	args := m.Called(ctx, id)
	detail, _ := args.Get(0).(*models.OrderDetail)
	return detail, args.Error(1)
}

func (m *MockReader) ListOrders(ctx context.Context, filter store.OrderFilter) (*store.CursorPage, error) {
	args := m.Called(ctx, filter)
	page, _ := args.Get(0).(*store.CursorPage)
	return page, args.Error(1)
}

func (m *MockReader) ListProducts(ctx context.Context, page, pageSize int) (*store.OffsetPage, error) {
	args := m.Called(ctx, page, pageSize)
	result, _ := args.Get(0).(*store.OffsetPage)
	return result, args.Error(1)
}

type MockInbox struct {
	mock.Mock
}

func (m *MockInbox) ListNotifications(ctx context.Context, userID int64, unreadOnly bool) (*store.Inbox, error) {
	args := m.Called(ctx, userID, unreadOnly)
	inbox, _ := args.Get(0).(*store.Inbox)
	return inbox, args.Error(1)
}

func (m *MockInbox) MarkNotificationRead(ctx context.Context, id, userID int64) error {
	return m.Called(ctx, id, userID).Error(0)
}

func (m *MockInbox) MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

type MockUsers struct {
	mock.Mock
}

func (m *MockUsers) FindUserByEmail(ctx context.Context, email string) (*models.User, string, error) {
	args := m.Called(ctx, email)
	user, _ := args.Get(0).(*models.User)
	return user, args.String(1), args.Error(2)
}

func (m *MockUsers) UserCredentials(ctx context.Context, id int64) (*models.User, string, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*models.User)
	return user, args.String(1), args.Error(2)
}

func (m *MockUsers) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	return m.Called(ctx, id, hash).Error(0)
}

type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) CreateClinic(ctx context.Context, name, email, contactName string) (*models.Clinic, error) {
	args := m.Called(ctx, name, email, contactName)
	clinic, _ := args.Get(0).(*models.Clinic)
	return clinic, args.Error(1)
}

func (m *MockCatalog) CreateProduct(ctx context.Context, name string, basePrice decimal.Decimal, defaultMaterial string, estimatedDays int) (*models.Product, error) {
	args := m.Called(ctx, name, basePrice, defaultMaterial, estimatedDays)
	product, _ := args.Get(0).(*models.Product)
	return product, args.Error(1)
}

func (m *MockCatalog) SetProductActive(ctx context.Context, id int64, active bool) error {
	return m.Called(ctx, id, active).Error(0)
}

type testServer struct {
	engine  *MockEngine
	reader  *MockReader
	inbox   *MockInbox
	users   *MockUsers
	catalog *MockCatalog
	handler http.Handler
	hook    *logtest.Hook
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	s := &testServer{
		engine:  new(MockEngine),
		reader:  new(MockReader),
		inbox:   new(MockInbox),
		users:   new(MockUsers),
		catalog: new(MockCatalog),
		hook:    hook,
	}
	h := NewHandler(Services{
		Engine:        s.engine,
		Orders:        s.reader,
		Notifications: s.inbox,
		Users:         s.users,
		Catalog:       s.catalog,
	}, TokenConfig{Secret: testSecret, TTL: time.Hour}, logger)
	s.handler = NewRouter(h)
	return s
}

func tokenFor(t *testing.T, userID int64, userType models.UserType, clinicID *int64) string {
	t.Helper()
	token, err := IssueToken(testSecret, Claims{UserID: userID, Type: userType, ClinicID: clinicID}, time.Hour)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func ptr[T any](v T) *T { return &v }
