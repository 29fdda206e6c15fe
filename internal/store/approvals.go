package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/dental-lab-orders/internal/database"
	"github.com/safar/dental-lab-orders/internal/lifecycle"
	"github.com/safar/dental-lab-orders/internal/models"
)

const approvalColumns = `id, order_id, exocad_link, note, status, client_comment,
	submitted_by, responded_by, responded_at, created_at`

func (t *pgTx) InsertApproval(ctx context.Context, approval *models.Approval) error {
	query := `
		INSERT INTO order_approvals (order_id, exocad_link, note, status, submitted_by, created_at)
		VALUES ($1, $2, $3, $4, $5, clock_timestamp())
		RETURNING ` + approvalColumns

	err := scanApproval(t.q.QueryRowContext(ctx, query,
		approval.OrderID,
		approval.ExocadLink,
		approval.Note,
		approval.Status,
		approval.SubmittedBy,
	), approval)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return database.ErrOrderNotFound
		}
		return fmt.Errorf("create approval: %w", err)
	}
	return nil
}

func (t *pgTx) GetApproval(ctx context.Context, id int64) (*models.Approval, error) {
	return getApproval(ctx, t.q, `SELECT `+approvalColumns+` FROM order_approvals WHERE id = $1`, id)
}

func (t *pgTx) LockApproval(ctx context.Context, id int64) (*models.Approval, error) {
	return getApproval(ctx, t.q, `SELECT `+approvalColumns+` FROM order_approvals WHERE id = $1 FOR UPDATE`, id)
}

// LatestApprovalID returns the id of the most recent round of an order.
func (t *pgTx) LatestApprovalID(ctx context.Context, orderID int64) (int64, error) {
	var id int64
	err := t.q.QueryRowContext(ctx,
		`SELECT id FROM order_approvals WHERE order_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		orderID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, database.ErrApprovalNotFound
		}
		return 0, fmt.Errorf("latest approval: %w", err)
	}
	return id, nil
}

func (t *pgTx) RecordApprovalResponse(ctx context.Context, id int64, response lifecycle.ApprovalResponse) (*models.Approval, error) {
	query := `
		UPDATE order_approvals
		SET status = $2, client_comment = $3, responded_by = $4, responded_at = NOW()
		WHERE id = $1 AND status = 'pendiente'
		RETURNING ` + approvalColumns

	approval := &models.Approval{}
	err := scanApproval(t.q.QueryRowContext(ctx, query, id, response.Status, response.ClientComment, response.RespondedBy), approval)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrApprovalNotFound
		}
		return nil, fmt.Errorf("record approval response: %w", err)
	}
	return approval, nil
}

func getApproval(ctx context.Context, q querier, query string, id int64) (*models.Approval, error) {
	approval := &models.Approval{}
	if err := scanApproval(q.QueryRowContext(ctx, query, id), approval); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrApprovalNotFound
		}
		return nil, fmt.Errorf("get approval: %w", err)
	}
	return approval, nil
}

// listApprovals returns an order's rounds, newest first.
func listApprovals(ctx context.Context, q querier, orderID int64) ([]models.Approval, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+approvalColumns+` FROM order_approvals
		 WHERE order_id = $1
		 ORDER BY created_at DESC, id DESC`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	approvals := []models.Approval{}
	for rows.Next() {
		var approval models.Approval
		if err := scanApproval(rows, &approval); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		approvals = append(approvals, approval)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return approvals, nil
}

func scanApproval(row rowScanner, approval *models.Approval) error {
	var submittedBy, respondedBy sql.NullInt64
	var respondedAt sql.NullTime

	err := row.Scan(
		&approval.ID,
		&approval.OrderID,
		&approval.ExocadLink,
		&approval.Note,
		&approval.Status,
		&approval.ClientComment,
		&submittedBy,
		&respondedBy,
		&respondedAt,
		&approval.CreatedAt,
	)
	if err != nil {
		return err
	}

	if submittedBy.Valid {
		approval.SubmittedBy = &submittedBy.Int64
	}
	if respondedBy.Valid {
		approval.RespondedBy = &respondedBy.Int64
	}
	if respondedAt.Valid {
		approval.RespondedAt = &respondedAt.Time
	}
	return nil
}
