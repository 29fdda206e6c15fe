package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/dental-lab-orders/internal/models"
	"github.com/sirupsen/logrus"
)

type EventType string

const (
	EventOrderCreated      EventType = "order.created"
	EventStatusChanged     EventType = "order.status_changed"
	EventApprovalResponded EventType = "order.approval_responded"
)

// Event describes one committed lifecycle change.
type Event struct {
	ID           uuid.UUID           `json:"id"`
	Type         EventType           `json:"type"`
	OrderID      int64               `json:"order_id"`
	OrderCode    string              `json:"order_code"`
	ClinicID     int64               `json:"clinic_id"`
	PatientName  string              `json:"patient_name"`
	From         *models.OrderStatus `json:"from,omitempty"`
	To           models.OrderStatus  `json:"to"`
	TimelineKind models.TimelineKind `json:"timeline_kind"`
	ActorID      int64               `json:"actor_id"`
	Comment      string              `json:"comment,omitempty"`
	OccurredAt   time.Time           `json:"occurred_at"`
}

// EventPublisher ships committed lifecycle events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (e *Engine) newEvent(typ EventType, order *models.Order, actorID int64) Event {
	return Event{
		ID:          uuid.New(),
		Type:        typ,
		OrderID:     order.ID,
		OrderCode:   order.Code,
		ClinicID:    order.ClinicID,
		PatientName: order.PatientName,
		To:          order.Status,
		ActorID:     actorID,
		OccurredAt:  e.now().UTC(),
	}
}

// afterCommit runs the side effects of a committed change. It detaches from
// the caller's cancellation so a finished request does not abort delivery,
// and swallows every failure after logging it.
func (e *Engine) afterCommit(ctx context.Context, ev Event) {
	if ev.Type == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.sideEffectTimeout)
	defer cancel()

	logger := e.log.WithFields(logrus.Fields{
		"event_id":   ev.ID.String(),
		"event_type": ev.Type,
		"order_id":   ev.OrderID,
		"order_code": ev.OrderCode,
	})

	if err := e.notify(ctx, ev); err != nil {
		logger.WithError(err).Error("failed to create notifications")
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		logger.WithError(err).Warn("failed to publish lifecycle event")
	}
}

func (e *Engine) notify(ctx context.Context, ev Event) error {
	recipients, template, ok, err := e.recipientsFor(ctx, ev)
	if err != nil || !ok || len(recipients) == 0 {
		return err
	}

	link := fmt.Sprintf("/pedidos/%d", ev.OrderID)
	notifications := make([]models.Notification, 0, len(recipients))
	for _, userID := range recipients {
		notifications = append(notifications, models.Notification{
			UserID:  userID,
			Type:    template.kind,
			Title:   template.title,
			Message: template.message(ev),
			Link:    link,
		})
	}

	if err := e.repo.CreateNotifications(ctx, notifications); err != nil {
		return fmt.Errorf("create %d notifications: %w", len(notifications), err)
	}
	return nil
}

type notificationTemplate struct {
	kind    string
	title   string
	message func(Event) string
}

var (
	newOrderTemplate = notificationTemplate{
		kind:  models.NotificationNewOrder,
		title: "Nuevo Pedido Recibido",
		message: func(ev Event) string {
			return fmt.Sprintf("Pedido %s de %s", ev.OrderCode, ev.PatientName)
		},
	}
	approvalTemplate = notificationTemplate{
		kind:  models.NotificationApproval,
		title: "Diseño listo para aprobar",
		message: func(ev Event) string {
			return fmt.Sprintf("Pedido %s tiene un diseño para revisar", ev.OrderCode)
		},
	}
	shippedTemplate = notificationTemplate{
		kind:  models.NotificationShipped,
		title: "Pedido Enviado",
		message: func(ev Event) string {
			return fmt.Sprintf("Su pedido %s ha sido enviado", ev.OrderCode)
		},
	}
)

// recipientsFor applies the fan-out rules. Only creation and normal advances
// into esperando_aprobacion or enviado notify anyone.
func (e *Engine) recipientsFor(ctx context.Context, ev Event) ([]int64, notificationTemplate, bool, error) {
	switch {
	case ev.Type == EventOrderCreated:
		ids, err := e.repo.ActiveStaffIDs(ctx)
		if err != nil {
			return nil, notificationTemplate{}, false, fmt.Errorf("list active staff: %w", err)
		}
		return ids, newOrderTemplate, true, nil

	case ev.Type == EventStatusChanged && ev.TimelineKind == models.TimelineAdvance:
		var template notificationTemplate
		switch ev.To {
		case models.StatusAwaitingApproval:
			template = approvalTemplate
		case models.StatusShipped:
			template = shippedTemplate
		default:
			return nil, notificationTemplate{}, false, nil
		}
		ids, err := e.repo.ActiveClientIDs(ctx, ev.ClinicID)
		if err != nil {
			return nil, notificationTemplate{}, false, fmt.Errorf("list clients of clinic %d: %w", ev.ClinicID, err)
		}
		return ids, template, true, nil
	}
	return nil, notificationTemplate{}, false, nil
}
