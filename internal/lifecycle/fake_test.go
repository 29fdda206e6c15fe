package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/safar/dental-lab-orders/internal/database"
	"github.com/safar/dental-lab-orders/internal/models"
	"github.com/shopspring/decimal"
)

var testNow = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

type memState struct {
	users         map[int64]models.User
	clinics       map[int64]bool
	products      map[int64]models.Product
	orders        map[int64]models.Order
	items         []models.LineItem
	timeline      []models.TimelineEntry
	approvals     []models.Approval
	notifications []models.Notification
	nextID        int64
	codeSeq       int
}

func (s *memState) clone() *memState {
	return &memState{
		users:         maps.Clone(s.users),
		clinics:       maps.Clone(s.clinics),
		products:      maps.Clone(s.products),
		orders:        maps.Clone(s.orders),
		items:         slices.Clone(s.items),
		timeline:      slices.Clone(s.timeline),
		approvals:     slices.Clone(s.approvals),
		notifications: slices.Clone(s.notifications),
		nextID:        s.nextID,
		codeSeq:       s.codeSeq,
	}
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

// memRepo is an in-memory Repository. Transactions run against a copy of the
// state that replaces it only when fn succeeds.
type memRepo struct {
	mu    sync.Mutex
	state *memState

	failNotifications error
	failTimeline      error
}

func newMemRepo() *memRepo {
	r := &memRepo{state: &memState{
		users:    map[int64]models.User{},
		clinics:  map[int64]bool{},
		products: map[int64]models.Product{},
		orders:   map[int64]models.Order{},
		nextID:   1000,
	}}

	clinicA, clinicB := int64(100), int64(200)
	r.state.clinics[clinicA] = true
	r.state.clinics[clinicB] = true

	for _, u := range []models.User{
		{ID: 1, Name: "Ana Admin", Type: models.UserAdmin, Active: true},
		{ID: 2, Name: "Tito Tecnico", Type: models.UserTechnician, Active: true},
		{ID: 3, Name: "Old Tecnico", Type: models.UserTechnician, Active: false},
		{ID: 10, Name: "Clara Cliente", Type: models.UserClient, ClinicID: &clinicA, Active: true},
		{ID: 11, Name: "Inactive Cliente", Type: models.UserClient, ClinicID: &clinicA, Active: false},
		{ID: 12, Name: "Other Cliente", Type: models.UserClient, ClinicID: &clinicB, Active: true},
	} {
		r.state.users[u.ID] = u
	}

	r.state.products[1] = models.Product{ID: 1, Name: "Corona zirconio", BasePrice: decimal.RequireFromString("150.00"), DefaultMaterial: "zirconio", Active: true}
	r.state.products[2] = models.Product{ID: 2, Name: "Incrustacion", BasePrice: decimal.RequireFromString("80.00"), Active: false}
	r.state.products[3] = models.Product{ID: 3, Name: "Carilla", BasePrice: decimal.RequireFromString("10.05"), Active: true}
	return r
}

func (r *memRepo) InTx(ctx context.Context, fn func(tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	work := r.state.clone()
	if err := fn(&memTx{s: work, repo: r}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memRepo) ActiveStaffIDs(ctx context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for _, u := range r.state.users {
		if u.Active && u.Type.IsStaff() {
			ids = append(ids, u.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *memRepo) ActiveClientIDs(ctx context.Context, clinicID int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for _, u := range r.state.users {
		if u.Active && u.Type == models.UserClient && u.ClinicID != nil && *u.ClinicID == clinicID {
			ids = append(ids, u.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *memRepo) CreateNotifications(ctx context.Context, notifications []models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failNotifications != nil {
		return r.failNotifications
	}
	for _, n := range notifications {
		n.ID = r.state.id()
		n.CreatedAt = testNow
		r.state.notifications = append(r.state.notifications, n)
	}
	return nil
}

func (r *memRepo) order(id int64) models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.orders[id]
}

func (r *memRepo) timelineFor(orderID int64) []models.TimelineEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.TimelineEntry
	for _, e := range r.state.timeline {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out
}

func (r *memRepo) approvalsFor(orderID int64) []models.Approval {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.Approval
	for _, a := range r.state.approvals {
		if a.OrderID == orderID {
			out = append(out, a)
		}
	}
	return out
}

func (r *memRepo) notificationsSent() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.state.notifications)
}

// putOrder seeds an order directly in the given status.
func (r *memRepo) putOrder(status models.OrderStatus) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.state.id()
	r.state.codeSeq++
	r.state.orders[id] = models.Order{
		ID:           id,
		Code:         fmt.Sprintf("NL-%05d", r.state.codeSeq),
		ClinicID:     100,
		PatientName:  "Maria Lopez",
		OrderDate:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		DeliveryDate: time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC),
		Status:       status,
		Subtotal:     decimal.RequireFromString("100.00"),
		Tax:          decimal.RequireFromString("18.00"),
		Total:        decimal.RequireFromString("118.00"),
		CreatedBy:    1,
		Version:      1,
	}
	return id
}

type memTx struct {
	s    *memState
	repo *memRepo
}

func (t *memTx) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, ok := t.s.users[id]
	if !ok {
		return nil, database.ErrUserNotFound
	}
	return &u, nil
}

func (t *memTx) ClinicExists(ctx context.Context, id int64) (bool, error) {
	return t.s.clinics[id], nil
}

func (t *memTx) ProductsByID(ctx context.Context, ids []int64) (map[int64]models.Product, error) {
	out := make(map[int64]models.Product)
	for _, id := range ids {
		if p, ok := t.s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *memTx) NextOrderCode(ctx context.Context) (string, error) {
	t.s.codeSeq++
	return fmt.Sprintf("NL-%05d", t.s.codeSeq), nil
}

func (t *memTx) InsertOrder(ctx context.Context, order *models.Order) error {
	order.ID = t.s.id()
	order.Version = 1
	order.CreatedAt = testNow
	order.UpdatedAt = testNow
	t.s.orders[order.ID] = *order
	return nil
}

func (t *memTx) InsertLineItem(ctx context.Context, item *models.LineItem) error {
	if _, ok := t.s.orders[item.OrderID]; !ok {
		return database.ErrOrderNotFound
	}
	item.ID = t.s.id()
	t.s.items = append(t.s.items, *item)
	return nil
}

func (t *memTx) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	return &o, nil
}

func (t *memTx) UpdateOrderState(ctx context.Context, id int64, update StateUpdate) (*models.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	if o.Version != update.Version {
		return nil, database.ErrOptimisticLockFailed
	}
	o.Status = update.Status
	if update.SubStatus != nil {
		o.SubStatus = update.SubStatus
	}
	if update.ClearSubStatus {
		o.SubStatus = nil
	}
	if update.ResponsibleID != nil {
		o.ResponsibleID = update.ResponsibleID
	}
	o.Version++
	o.UpdatedAt = testNow
	t.s.orders[id] = o
	return &o, nil
}

func (t *memTx) UpdateDeliveryDate(ctx context.Context, id int64, version int, date time.Time) (*models.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	if o.Version != version {
		return nil, database.ErrOptimisticLockFailed
	}
	o.DeliveryDate = date
	o.Version++
	t.s.orders[id] = o
	return &o, nil
}

func (t *memTx) AppendTimeline(ctx context.Context, entry *models.TimelineEntry) error {
	if t.repo.failTimeline != nil {
		return t.repo.failTimeline
	}
	entry.ID = t.s.id()
	entry.CreatedAt = testNow
	t.s.timeline = append(t.s.timeline, *entry)
	return nil
}

func (t *memTx) InsertApproval(ctx context.Context, approval *models.Approval) error {
	approval.ID = t.s.id()
	approval.CreatedAt = testNow
	t.s.approvals = append(t.s.approvals, *approval)
	return nil
}

func (t *memTx) GetApproval(ctx context.Context, id int64) (*models.Approval, error) {
	for _, a := range t.s.approvals {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, database.ErrApprovalNotFound
}

func (t *memTx) LockApproval(ctx context.Context, id int64) (*models.Approval, error) {
	return t.GetApproval(ctx, id)
}

func (t *memTx) LatestApprovalID(ctx context.Context, orderID int64) (int64, error) {
	var latest int64
	for _, a := range t.s.approvals {
		if a.OrderID == orderID && a.ID > latest {
			latest = a.ID
		}
	}
	if latest == 0 {
		return 0, database.ErrApprovalNotFound
	}
	return latest, nil
}

func (t *memTx) RecordApprovalResponse(ctx context.Context, id int64, response ApprovalResponse) (*models.Approval, error) {
	for i, a := range t.s.approvals {
		if a.ID != id {
			continue
		}
		respondedAt := testNow
		a.Status = response.Status
		a.ClientComment = response.ClientComment
		a.RespondedBy = &response.RespondedBy
		a.RespondedAt = &respondedAt
		t.s.approvals[i] = a
		return &a, nil
	}
	return nil, database.ErrApprovalNotFound
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) published() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.events)
}

var errBoom = errors.New("boom")

func newTestEngine(t interface{ Helper() }) (*Engine, *memRepo, *recordingPublisher) {
	t.Helper()
	repo := newMemRepo()
	pub := &recordingPublisher{}
	eng := New(repo, WithPublisher(pub), WithClock(func() time.Time { return testNow }))
	return eng, repo, pub
}

func ptr[T any](v T) *T { return &v }
