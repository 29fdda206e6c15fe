package lifecycle

import (
	"context"
	"time"

	"github.com/safar/dental-lab-orders/internal/models"
)

// Repository is the data access the engine depends on. The Postgres
// implementation lives in internal/store.
type Repository interface {
	// InTx runs fn inside one database transaction. The transaction commits
	// when fn returns nil and rolls back otherwise. fn may be invoked more
	// than once when the database reports a retryable conflict.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	ActiveStaffIDs(ctx context.Context) ([]int64, error)
	ActiveClientIDs(ctx context.Context, clinicID int64) ([]int64, error)
	CreateNotifications(ctx context.Context, notifications []models.Notification) error
}

// Tx is the transaction-scoped half of the repository.
type Tx interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	ClinicExists(ctx context.Context, id int64) (bool, error)
	// ProductsByID returns the requested products keyed by id; unknown ids
	// are simply absent from the map.
	ProductsByID(ctx context.Context, ids []int64) (map[int64]models.Product, error)
	NextOrderCode(ctx context.Context) (string, error)

	// InsertOrder stores order and fills in its generated fields.
	InsertOrder(ctx context.Context, order *models.Order) error
	InsertLineItem(ctx context.Context, item *models.LineItem) error

	// LockOrder reads the order and holds a row lock until the transaction ends.
	LockOrder(ctx context.Context, id int64) (*models.Order, error)
	UpdateOrderState(ctx context.Context, id int64, update StateUpdate) (*models.Order, error)
	UpdateDeliveryDate(ctx context.Context, id int64, version int, date time.Time) (*models.Order, error)
	AppendTimeline(ctx context.Context, entry *models.TimelineEntry) error

	InsertApproval(ctx context.Context, approval *models.Approval) error
	GetApproval(ctx context.Context, id int64) (*models.Approval, error)
	LockApproval(ctx context.Context, id int64) (*models.Approval, error)
	LatestApprovalID(ctx context.Context, orderID int64) (int64, error)
	RecordApprovalResponse(ctx context.Context, id int64, response ApprovalResponse) (*models.Approval, error)
}

// StateUpdate carries the fields of a status change. Nil pointers leave the
// stored value untouched; ClearSubStatus resets the sub-status to NULL. Version is the version read under the row lock;
// the update fails with database.ErrOptimisticLockFailed if it moved.
type StateUpdate struct {
	Status         models.OrderStatus
	SubStatus      *string
	ClearSubStatus bool
	ResponsibleID  *int64
	Version        int
}

type ApprovalResponse struct {
	Status        models.ApprovalStatus
	ClientComment string
	RespondedBy   int64
}
