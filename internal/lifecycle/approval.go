package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/safar/dental-lab-orders/internal/database"
	"github.com/safar/dental-lab-orders/internal/models"
)

type SubmitApprovalInput struct {
	OrderID    int64
	ExocadLink string
	Note       string
	ActorID    int64
}

// RespondInput answers one approval round. A non-zero OrderID must match the
// round's order.
type RespondInput struct {
	OrderID       int64
	ApprovalID    int64
	Decision      models.ApprovalStatus
	ClientComment string
	ActorID       int64
}

// SubmitApprovalLink publishes a design for client review. An order still in
// en_diseno is advanced into esperando_aprobacion; an order already waiting
// gets a new round that supersedes the previous one.
func (e *Engine) SubmitApprovalLink(ctx context.Context, in SubmitApprovalInput) (*models.Approval, error) {
	link := strings.TrimSpace(in.ExocadLink)
	if link == "" {
		return nil, invalid("link_exocad", "a design link is required")
	}

	var (
		approval *models.Approval
		ev       Event
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

		switch order.Status {
		case models.StatusInDesign:
			_, approval, ev, err = e.advanceLocked(ctx, tx, order, actor, TransitionInput{
				OrderID:    order.ID,
				Target:     models.StatusAwaitingApproval,
				ActorID:    actor.ID,
				ExocadLink: link,
				Note:       in.Note,
			})
			return err
		case models.StatusAwaitingApproval:
			approval, err = openApprovalRound(ctx, tx, order.ID, actor.ID, link, in.Note)
			return err
		default:
			return &TransitionError{
				From:   order.Status,
				To:     models.StatusAwaitingApproval,
				Reason: "a design can only be submitted while the order is in design or awaiting approval",
			}
		}
	})
	if err != nil {
		return nil, err
	}

	e.afterCommit(ctx, ev)
	return approval, nil
}

// RespondToApproval records the client's verdict on the current round and
// moves the order accordingly: aprobado to en_produccion, ajuste_solicitado
// back to en_diseno.
func (e *Engine) RespondToApproval(ctx context.Context, in RespondInput) (*models.Approval, error) {
	var target models.OrderStatus
	comment := strings.TrimSpace(in.ClientComment)
	switch in.Decision {
	case models.ApprovalApproved:
		target = models.StatusInProduction
	case models.ApprovalChangesRequested:
		if comment == "" {
			return nil, invalid("comentario_cliente", "a comment is required when requesting changes")
		}
		target = models.StatusInDesign
	default:
		return nil, invalid("estado", "decision must be %q or %q", models.ApprovalApproved, models.ApprovalChangesRequested)
	}

	var (
		approval *models.Approval
		ev       Event
	)
	err := e.repo.InTx(ctx, func(tx Tx) error {
		actor, err := activeActor(ctx, tx, in.ActorID)
		if err != nil {
			return err
		}

		// The order row is locked before the approval row, the same order
		// every other writer uses.
		current, err := tx.GetApproval(ctx, in.ApprovalID)
		if err != nil {
			return err
		}
		if in.OrderID != 0 && current.OrderID != in.OrderID {
			return fmt.Errorf("approval %d of order %d: %w", in.ApprovalID, in.OrderID, database.ErrApprovalNotFound)
		}
		order, err := tx.LockOrder(ctx, current.OrderID)
		if err != nil {
			return err
		}
		if !canRespond(actor, order) {
			return forbidden("user %d may not answer approvals for order %d", actor.ID, order.ID)
		}

		locked, err := tx.LockApproval(ctx, in.ApprovalID)
		if err != nil {
			return err
		}
		if locked.Status != models.ApprovalPending {
			return invalid("aprobacion", "approval %d was already answered", locked.ID)
		}
		latest, err := tx.LatestApprovalID(ctx, order.ID)
		if err != nil {
			return err
		}
		if latest != locked.ID {
			return invalid("aprobacion", "approval %d was superseded by a newer design", locked.ID)
		}
		if order.Status != models.StatusAwaitingApproval {
			return &TransitionError{From: order.Status, To: target, Reason: "order is not awaiting approval"}
		}

		approval, err = tx.RecordApprovalResponse(ctx, locked.ID, ApprovalResponse{
			Status:        in.Decision,
			ClientComment: comment,
			RespondedBy:   actor.ID,
		})
		if err != nil {
			return fmt.Errorf("record approval response: %w", err)
		}

		timelineComment := "Diseño aprobado por el cliente"
		if in.Decision == models.ApprovalChangesRequested {
			timelineComment = "Ajuste solicitado: " + comment
		}
		_, ev, err = e.moveLocked(ctx, tx, order, actor.ID, models.TimelineApproval, timelineComment, StateUpdate{
			Status: target,
		})
		ev.Type = EventApprovalResponded
		return err
	})
	if err != nil {
		return nil, err
	}

	e.afterCommit(ctx, ev)
	return approval, nil
}

func canRespond(actor *models.User, order *models.Order) bool {
	switch actor.Type {
	case models.UserAdmin:
		return true
	case models.UserClient:
		return actor.ClinicID != nil && *actor.ClinicID == order.ClinicID
	default:
		return false
	}
}

func openApprovalRound(ctx context.Context, tx Tx, orderID, actorID int64, link, note string) (*models.Approval, error) {
	approval := &models.Approval{
		OrderID:     orderID,
		ExocadLink:  link,
		Note:        note,
		Status:      models.ApprovalPending,
		SubmittedBy: &actorID,
	}
	if err := tx.InsertApproval(ctx, approval); err != nil {
		return nil, fmt.Errorf("insert approval for order %d: %w", orderID, err)
	}
	return approval, nil
}
