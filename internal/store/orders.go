package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/safar/dental-lab-orders/internal/database"
	"github.com/safar/dental-lab-orders/internal/lifecycle"
	"github.com/safar/dental-lab-orders/internal/models"
)

const orderColumns = `o.id, o.code, o.clinic_id, o.patient_name, o.order_date, o.delivery_date,
	o.observations, o.file_urls, o.subtotal, o.tax, o.total, o.status, o.sub_status,
	o.responsible_id, o.created_by, o.created_at, o.updated_at, o.version`

// OrderFilter narrows ListOrders. Zero values disable a filter.
type OrderFilter struct {
	Status        models.OrderStatus
	ClinicID      int64
	ResponsibleID int64
	Search        string
	Cursor        string
	Limit         int
}

func (t *pgTx) NextOrderCode(ctx context.Context) (string, error) {
	var n int64
	if err := t.q.QueryRowContext(ctx, `SELECT nextval('order_code_seq')`).Scan(&n); err != nil {
		return "", fmt.Errorf("next order code: %w", err)
	}
	return fmt.Sprintf("NL-%05d", n), nil
}

func (t *pgTx) InsertOrder(ctx context.Context, order *models.Order) error {
	err := t.q.QueryRowContext(ctx,
		`INSERT INTO orders (code, clinic_id, patient_name, order_date, delivery_date, observations,
		                     file_urls, subtotal, tax, total, status, created_by, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW(), 1)
		 RETURNING id, created_at, updated_at, version`,
		order.Code,
		order.ClinicID,
		order.PatientName,
		order.OrderDate,
		order.DeliveryDate,
		order.Observations,
		pq.Array(order.FileURLs),
		order.Subtotal,
		order.Tax,
		order.Total,
		order.Status,
		order.CreatedBy,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt, &order.Version)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return database.ErrClinicNotFound
		}
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (t *pgTx) InsertLineItem(ctx context.Context, item *models.LineItem) error {
	err := t.q.QueryRowContext(ctx,
		`INSERT INTO order_line_items (order_id, product_id, dental_pieces, is_bridge, piece_start, piece_end,
		                               material, vita_shade, stump_shade, texture, occlusion, notes,
		                               quantity, unit_price, subtotal, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
		 RETURNING id, created_at`,
		item.OrderID,
		item.ProductID,
		pq.Array(item.DentalPieces),
		item.IsBridge,
		item.PieceStart,
		item.PieceEnd,
		item.Material,
		item.VitaShade,
		item.StumpShade,
		item.Texture,
		item.Occlusion,
		item.Notes,
		item.Quantity,
		item.UnitPrice,
		item.Subtotal,
	).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return database.ErrProductNotFound
		}
		return fmt.Errorf("create line item: %w", err)
	}
	return nil
}

// LockOrder reads the order with FOR UPDATE. Concurrent writers on the same
// order queue here until the holder commits.
func (t *pgTx) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders o WHERE o.id = $1 FOR UPDATE`

	var order models.Order
	if err := scanOrder(t.q.QueryRowContext(ctx, query, id), &order); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}
	return &order, nil
}

func (t *pgTx) UpdateOrderState(ctx context.Context, id int64, update lifecycle.StateUpdate) (*models.Order, error) {
	query := `
		UPDATE orders o
		SET status = $2,
		    sub_status = CASE WHEN $6 THEN NULL ELSE COALESCE($3, o.sub_status) END,
		    responsible_id = COALESCE($4, o.responsible_id),
		    updated_at = NOW(),
		    version = o.version + 1
		WHERE o.id = $1 AND o.version = $5
		RETURNING ` + orderColumns

	var order models.Order
	err := scanOrder(t.q.QueryRowContext(ctx, query, id, update.Status, update.SubStatus, update.ResponsibleID, update.Version, update.ClearSubStatus), &order)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOptimisticLockFailed
		}
		return nil, fmt.Errorf("update order state: %w", err)
	}
	return &order, nil
}

func (t *pgTx) UpdateDeliveryDate(ctx context.Context, id int64, version int, date time.Time) (*models.Order, error) {
	query := `
		UPDATE orders o
		SET delivery_date = $2, updated_at = NOW(), version = o.version + 1
		WHERE o.id = $1 AND o.version = $3
		RETURNING ` + orderColumns

	var order models.Order
	if err := scanOrder(t.q.QueryRowContext(ctx, query, id, date, version), &order); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOptimisticLockFailed
		}
		return nil, fmt.Errorf("update delivery date: %w", err)
	}
	return &order, nil
}

func (t *pgTx) AppendTimeline(ctx context.Context, entry *models.TimelineEntry) error {
	err := t.q.QueryRowContext(ctx,
		`INSERT INTO order_timeline (order_id, previous_status, new_status, kind, user_id, comment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, clock_timestamp())
		 RETURNING id, created_at`,
		entry.OrderID,
		entry.PreviousStatus,
		entry.NewStatus,
		entry.Kind,
		entry.UserID,
		entry.Comment,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append timeline: %w", err)
	}
	return nil
}

// GetOrderDetail loads an order with its clinic, people, items, timeline and
// approval rounds.
func (s *Store) GetOrderDetail(ctx context.Context, id int64) (*models.OrderDetail, error) {
	query := `
		SELECT ` + orderColumns + `, c.name, r.name, u.name
		FROM orders o
		JOIN clinics c ON c.id = o.clinic_id
		LEFT JOIN users r ON r.id = o.responsible_id
		LEFT JOIN users u ON u.id = o.created_by
		WHERE o.id = $1`

	detail := &models.OrderDetail{}
	var responsibleName, creatorName sql.NullString
	err := scanOrder(s.db.QueryRowContext(ctx, query, id), &detail.Order, &detail.ClinicName, &responsibleName, &creatorName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if responsibleName.Valid {
		detail.ResponsibleName = &responsibleName.String
	}
	if creatorName.Valid {
		detail.CreatorName = &creatorName.String
	}

	if detail.Items, err = s.listLineItems(ctx, id); err != nil {
		return nil, err
	}
	if detail.Timeline, err = s.listTimeline(ctx, id); err != nil {
		return nil, err
	}
	if detail.Approvals, err = listApprovals(ctx, s.db, id); err != nil {
		return nil, err
	}

	return detail, nil
}

// ListOrders returns orders newest first, one cursor page at a time.
func (s *Store) ListOrders(ctx context.Context, filter OrderFilter) (*CursorPage, error) {
	cursor, err := DecodeCursor(filter.Cursor)
	if err != nil {
		return nil, err
	}
	limit := normalizeLimit(filter.Limit)

	var (
		conditions []string
		args       []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		conditions = append(conditions, "o.status = "+arg(filter.Status))
	}
	if filter.ClinicID != 0 {
		conditions = append(conditions, "o.clinic_id = "+arg(filter.ClinicID))
	}
	if filter.ResponsibleID != 0 {
		conditions = append(conditions, "o.responsible_id = "+arg(filter.ResponsibleID))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		p := arg("%" + search + "%")
		conditions = append(conditions, fmt.Sprintf("(o.code ILIKE %s OR o.patient_name ILIKE %s)", p, p))
	}
	if cursor != nil {
		conditions = append(conditions, fmt.Sprintf("(o.created_at, o.id) < (%s, %s)", arg(cursor.CreatedAt), arg(cursor.ID)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := `
		SELECT ` + orderColumns + `, c.name, r.name
		FROM orders o
		JOIN clinics c ON c.id = o.clinic_id
		LEFT JOIN users r ON r.id = o.responsible_id
		` + where + `
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT ` + arg(limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.OrderSummary{}
	for rows.Next() {
		var summary models.OrderSummary
		var responsibleName sql.NullString
		if err := scanOrder(rows, &summary.Order, &summary.ClinicName, &responsibleName); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if responsibleName.Valid {
			summary.ResponsibleName = &responsibleName.String
		}
		orders = append(orders, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func (s *Store) listLineItems(ctx context.Context, orderID int64) ([]models.LineItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.id, i.order_id, i.product_id, p.name, i.dental_pieces, i.is_bridge, i.piece_start, i.piece_end,
		        i.material, i.vita_shade, i.stump_shade, i.texture, i.occlusion, i.notes,
		        i.quantity, i.unit_price, i.subtotal, i.created_at
		 FROM order_line_items i
		 JOIN products p ON p.id = i.product_id
		 WHERE i.order_id = $1
		 ORDER BY i.id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get line items: %w", err)
	}
	defer rows.Close()

	items := []models.LineItem{}
	for rows.Next() {
		var item models.LineItem
		var pieceStart, pieceEnd sql.NullInt64
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			pq.Array(&item.DentalPieces),
			&item.IsBridge,
			&pieceStart,
			&pieceEnd,
			&item.Material,
			&item.VitaShade,
			&item.StumpShade,
			&item.Texture,
			&item.Occlusion,
			&item.Notes,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		if pieceStart.Valid {
			item.PieceStart = &pieceStart.Int64
		}
		if pieceEnd.Valid {
			item.PieceEnd = &pieceEnd.Int64
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func (s *Store) listTimeline(ctx context.Context, orderID int64) ([]models.TimelineEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.order_id, t.previous_status, t.new_status, t.kind, t.user_id,
		        COALESCE(u.name, ''), t.comment, t.created_at
		 FROM order_timeline t
		 LEFT JOIN users u ON u.id = t.user_id
		 WHERE t.order_id = $1
		 ORDER BY t.created_at, t.id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get timeline: %w", err)
	}
	defer rows.Close()

	entries := []models.TimelineEntry{}
	for rows.Next() {
		var entry models.TimelineEntry
		var previous sql.NullString
		var userID sql.NullInt64
		err := rows.Scan(
			&entry.ID,
			&entry.OrderID,
			&previous,
			&entry.NewStatus,
			&entry.Kind,
			&userID,
			&entry.UserName,
			&entry.Comment,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		if previous.Valid {
			status := models.OrderStatus(previous.String)
			entry.PreviousStatus = &status
		}
		if userID.Valid {
			entry.UserID = &userID.Int64
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return entries, nil
}

// scanOrder scans orderColumns followed by any extra destinations.
func scanOrder(row rowScanner, order *models.Order, extra ...any) error {
	var subStatus sql.NullString
	var responsibleID sql.NullInt64

	dest := []any{
		&order.ID,
		&order.Code,
		&order.ClinicID,
		&order.PatientName,
		&order.OrderDate,
		&order.DeliveryDate,
		&order.Observations,
		pq.Array(&order.FileURLs),
		&order.Subtotal,
		&order.Tax,
		&order.Total,
		&order.Status,
		&subStatus,
		&responsibleID,
		&order.CreatedBy,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}

	if subStatus.Valid {
		order.SubStatus = &subStatus.String
	}
	if responsibleID.Valid {
		order.ResponsibleID = &responsibleID.Int64
	}
	return nil
}
