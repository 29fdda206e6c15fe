package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/safar/dental-lab-orders/internal/database"
	"github.com/safar/dental-lab-orders/internal/models"
	"github.com/sirupsen/logrus"
)

const defaultSideEffectTimeout = 5 * time.Second

// Engine validates and applies order lifecycle changes. Each change runs in a
// single transaction holding the order row lock; notifications and events are
// emitted after commit and never fail the change.
type Engine struct {
	repo              Repository
	publisher         EventPublisher
	log               logrus.FieldLogger
	now               func() time.Time
	sideEffectTimeout time.Duration
}

type Option func(*Engine)

func WithPublisher(p EventPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(repo Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:              repo,
		publisher:         NopPublisher{},
		log:               logrus.StandardLogger(),
		now:               time.Now,
		sideEffectTimeout: defaultSideEffectTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TransitionInput is a request to move an order along the pipeline.
// SubState and ResponsibleID are applied only when set. ExocadLink is stored
// on the approval round opened when the target is esperando_aprobacion.
// Forced routes the request to ForceAdvance.
type TransitionInput struct {
	OrderID       int64
	Target        models.OrderStatus
	ActorID       int64
	SubState      *string
	ResponsibleID *int64
	Comment       string
	ExocadLink    string
	Note          string
	Forced        bool
}

type ForceInput struct {
	OrderID       int64
	Target        models.OrderStatus
	ActorID       int64
	SubState      *string
	ResponsibleID *int64
	Comment       string
}

type RollbackInput struct {
	OrderID int64
	Target  models.OrderStatus
	ActorID int64
	Reason  string
}

// Transition applies a normal edge of the state machine.
func (e *Engine) Transition(ctx context.Context, in TransitionInput) (*models.Order, error) {
	if in.Forced {
		return e.ForceAdvance(ctx, ForceInput{
			OrderID:       in.OrderID,
			Target:        in.Target,
			ActorID:       in.ActorID,
			SubState:      in.SubState,
			ResponsibleID: in.ResponsibleID,
			Comment:       in.Comment,
		})
	}
	if _, err := ParseStatus(string(in.Target)); err != nil {
		return nil, err
	}

	var (
		result *models.Order
		ev     Event
	)
	err := e.repo.InTx(ctx, func(tx Tx) error {
		actor, err := requireStaff(ctx, tx, in.ActorID)
		if err != nil {
			return err
		}
		order, err := tx.LockOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		result, _, ev, err = e.advanceLocked(ctx, tx, order, actor, in)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.afterCommit(ctx, ev)
	return result, nil
}

// advanceLocked applies a normal edge to an order already locked by tx. When
// the target is esperando_aprobacion a new approval round is opened.
func (e *Engine) advanceLocked(ctx context.Context, tx Tx, order *models.Order, actor *models.User, in TransitionInput) (*models.Order, *models.Approval, Event, error) {
	if err := CheckAdvance(order.Status, in.Target); err != nil {
		return nil, nil, Event{}, err
	}
	if err := checkResponsible(ctx, tx, in.ResponsibleID); err != nil {
		return nil, nil, Event{}, err
	}

	updated, ev, err := e.moveLocked(ctx, tx, order, actor.ID, models.TimelineAdvance, in.Comment, StateUpdate{
		Status:        in.Target,
		SubStatus:     in.SubState,
		ResponsibleID: in.ResponsibleID,
	})
	if err != nil {
		return nil, nil, Event{}, err
	}

	var approval *models.Approval
	if in.Target == models.StatusAwaitingApproval {
		approval, err = openApprovalRound(ctx, tx, updated.ID, actor.ID, in.ExocadLink, in.Note)
		if err != nil {
			return nil, nil, Event{}, err
		}
	}
	return updated, approval, ev, nil
}

// ForceAdvance moves an order from a design stage straight into production,
// bypassing the edge table. A justification comment is mandatory.
func (e *Engine) ForceAdvance(ctx context.Context, in ForceInput) (*models.Order, error) {
	if _, err := ParseStatus(string(in.Target)); err != nil {
		return nil, err
	}

	var (
		result *models.Order
		ev     Event
	)
	err := e.repo.InTx(ctx, func(tx Tx) error {
		actor, err := requireStaff(ctx, tx, in.ActorID)
		if err != nil {
			return err
		}
		order, err := tx.LockOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if err := CheckForce(order.Status, in.Target, in.Comment); err != nil {
			return err
		}
		if err := checkResponsible(ctx, tx, in.ResponsibleID); err != nil {
			return err
		}

		result, ev, err = e.moveLocked(ctx, tx, order, actor.ID, models.TimelineForced, strings.TrimSpace(in.Comment), StateUpdate{
			Status:        in.Target,
			SubStatus:     in.SubState,
			ResponsibleID: in.ResponsibleID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	e.afterCommit(ctx, ev)
	return result, nil
}

// Rollback moves an order back to an earlier stage. A reason is mandatory.
// The sub-status of the later stage is cleared; the responsible stays. Going
// back to esperando_aprobacion opens a fresh round with the last design link
// so the client can answer again.
func (e *Engine) Rollback(ctx context.Context, in RollbackInput) (*models.Order, error) {
	if _, err := ParseStatus(string(in.Target)); err != nil {
		return nil, err
	}

	var (
		result *models.Order
		ev     Event
	)
	err := e.repo.InTx(ctx, func(tx Tx) error {
		actor, err := requireStaff(ctx, tx, in.ActorID)
		if err != nil {
			return err
		}
		order, err := tx.LockOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if err := CheckRollback(order.Status, in.Target, in.Reason); err != nil {
			return err
		}

		reason := strings.TrimSpace(in.Reason)
		result, ev, err = e.moveLocked(ctx, tx, order, actor.ID, models.TimelineRollback, reason, StateUpdate{
			Status:         in.Target,
			ClearSubStatus: true,
		})
		if err != nil {
			return err
		}
		if in.Target == models.StatusAwaitingApproval {
			return reopenApprovalRound(ctx, tx, order.ID, actor.ID, reason)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.afterCommit(ctx, ev)
	return result, nil
}

func reopenApprovalRound(ctx context.Context, tx Tx, orderID, actorID int64, reason string) error {
	var link string
	latestID, err := tx.LatestApprovalID(ctx, orderID)
	switch {
	case err == nil:
		latest, err := tx.GetApproval(ctx, latestID)
		if err != nil {
			return err
		}
		link = latest.ExocadLink
	case !errors.Is(err, database.ErrApprovalNotFound):
		return err
	}
	_, err = openApprovalRound(ctx, tx, orderID, actorID, link, reason)
	return err
}

// UpdateDeliveryDate edits the requested delivery date. It is a field edit
// outside the state machine: no timeline entry, totals untouched.
func (e *Engine) UpdateDeliveryDate(ctx context.Context, orderID int64, date time.Time, actorID int64) (*models.Order, error) {
	if date.IsZero() {
		return nil, invalid("fecha_entrega", "delivery date is required")
	}

	var result *models.Order
	err := e.repo.InTx(ctx, func(tx Tx) error {
		if _, err := requireStaff(ctx, tx, actorID); err != nil {
			return err
		}
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if truncateDay(date).Before(truncateDay(order.OrderDate)) {
			return invalid("fecha_entrega", "delivery date precedes the order date")
		}
		result, err = tx.UpdateDeliveryDate(ctx, order.ID, order.Version, truncateDay(date))
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// moveLocked writes the new state and its timeline entry.
func (e *Engine) moveLocked(ctx context.Context, tx Tx, order *models.Order, actorID int64, kind models.TimelineKind, comment string, update StateUpdate) (*models.Order, Event, error) {
	update.Version = order.Version
	updated, err := tx.UpdateOrderState(ctx, order.ID, update)
	if err != nil {
		return nil, Event{}, fmt.Errorf("update order %d: %w", order.ID, err)
	}

	previous := order.Status
	entry := &models.TimelineEntry{
		OrderID:        order.ID,
		PreviousStatus: &previous,
		NewStatus:      update.Status,
		Kind:           kind,
		UserID:         &actorID,
		Comment:        comment,
	}
	if err := tx.AppendTimeline(ctx, entry); err != nil {
		return nil, Event{}, fmt.Errorf("append timeline for order %d: %w", order.ID, err)
	}

	ev := e.newEvent(EventStatusChanged, updated, actorID)
	ev.From = &previous
	ev.TimelineKind = kind
	ev.Comment = comment
	return updated, ev, nil
}

func requireStaff(ctx context.Context, tx Tx, actorID int64) (*models.User, error) {
	actor, err := activeActor(ctx, tx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Type.IsStaff() {
		return nil, forbidden("user %d is not lab staff", actorID)
	}
	return actor, nil
}

func activeActor(ctx context.Context, tx Tx, actorID int64) (*models.User, error) {
	actor, err := tx.GetUser(ctx, actorID)
	if errors.Is(err, database.ErrUserNotFound) {
		return nil, forbidden("unknown user %d", actorID)
	}
	if err != nil {
		return nil, err
	}
	if !actor.Active {
		return nil, forbidden("user %d is inactive", actorID)
	}
	return actor, nil
}

func checkResponsible(ctx context.Context, tx Tx, responsibleID *int64) error {
	if responsibleID == nil {
		return nil
	}
	user, err := tx.GetUser(ctx, *responsibleID)
	if errors.Is(err, database.ErrUserNotFound) {
		return invalid("responsable_id", "user %d does not exist", *responsibleID)
	}
	if err != nil {
		return err
	}
	if !user.Active || !user.Type.IsStaff() {
		return invalid("responsable_id", "user %d is not active lab staff", *responsibleID)
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
