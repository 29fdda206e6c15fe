package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/safar/dental-lab-orders/internal/models"
	"github.com/shopspring/decimal"
)

// TaxRate is the IGV applied to every order subtotal.
var TaxRate = decimal.RequireFromString("0.18")

type CreateOrderInput struct {
	ClinicID     int64
	PatientName  string
	OrderDate    *time.Time
	DeliveryDate *time.Time
	Observations string
	FileURLs     []string
	Items        []LineItemInput
	CreatorID    int64
}

// LineItemInput is one requested product. A nil UnitPrice takes the product's
// base price; a zero Quantity means one unit.
type LineItemInput struct {
	ProductID    int64
	DentalPieces []int64
	IsBridge     bool
	PieceStart   *int64
	PieceEnd     *int64
	Material     string
	VitaShade    string
	StumpShade   string
	Texture      string
	Occlusion    string
	Notes        string
	Quantity     int
	UnitPrice    *decimal.Decimal
}

// Totals derives tax and total from a subtotal. Tax is rounded to cents.
func Totals(subtotal decimal.Decimal) (tax, total decimal.Decimal) {
	tax = subtotal.Mul(TaxRate).Round(2)
	return tax, subtotal.Add(tax)
}

// CreateOrder registers a new order in pendiente with its line items, priced
// and coded, and the initial timeline entry. Lab staff are notified after
// commit.
func (e *Engine) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	orderDate := truncateDay(e.now())
	if in.OrderDate != nil {
		orderDate = truncateDay(*in.OrderDate)
	}
	deliveryDate := truncateDay(*in.DeliveryDate)
	if deliveryDate.Before(orderDate) {
		return nil, invalid("fecha_entrega", "delivery date precedes the order date")
	}

	var (
		order *models.Order
		ev    Event
	)
	err := e.repo.InTx(ctx, func(tx Tx) error {
		creator, err := activeActor(ctx, tx, in.CreatorID)
		if err != nil {
			return err
		}
		if !creator.Type.IsStaff() && (creator.ClinicID == nil || *creator.ClinicID != in.ClinicID) {
			return forbidden("user %d may only create orders for their own clinic", creator.ID)
		}

		exists, err := tx.ClinicExists(ctx, in.ClinicID)
		if err != nil {
			return err
		}
		if !exists {
			return invalid("clinica_id", "clinic %d does not exist", in.ClinicID)
		}

		items, subtotal, err := priceItems(ctx, tx, in.Items)
		if err != nil {
			return err
		}
		tax, total := Totals(subtotal)

		code, err := tx.NextOrderCode(ctx)
		if err != nil {
			return fmt.Errorf("allocate order code: %w", err)
		}

		fileURLs := in.FileURLs
		if fileURLs == nil {
			fileURLs = []string{}
		}
		order = &models.Order{
			Code:         code,
			ClinicID:     in.ClinicID,
			PatientName:  strings.TrimSpace(in.PatientName),
			OrderDate:    orderDate,
			DeliveryDate: deliveryDate,
			Observations: in.Observations,
			FileURLs:     fileURLs,
			Subtotal:     subtotal,
			Tax:          tax,
			Total:        total,
			Status:       models.StatusPending,
			CreatedBy:    creator.ID,
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for i := range items {
			items[i].OrderID = order.ID
			if err := tx.InsertLineItem(ctx, &items[i]); err != nil {
				return fmt.Errorf("insert line item %d: %w", i, err)
			}
		}
		order.Items = items

		entry := &models.TimelineEntry{
			OrderID:   order.ID,
			NewStatus: models.StatusPending,
			Kind:      models.TimelineCreated,
			UserID:    &creator.ID,
			Comment:   "Pedido creado",
		}
		if err := tx.AppendTimeline(ctx, entry); err != nil {
			return fmt.Errorf("append creation timeline: %w", err)
		}

		ev = e.newEvent(EventOrderCreated, order, creator.ID)
		ev.TimelineKind = models.TimelineCreated
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.afterCommit(ctx, ev)
	return order, nil
}

func validateCreate(in CreateOrderInput) error {
	if in.ClinicID <= 0 {
		return invalid("clinica_id", "clinic is required")
	}
	if strings.TrimSpace(in.PatientName) == "" {
		return invalid("paciente_nombre", "patient name is required")
	}
	if in.DeliveryDate == nil || in.DeliveryDate.IsZero() {
		return invalid("fecha_entrega", "delivery date is required")
	}
	if len(in.Items) == 0 {
		return invalid("items", "at least one line item is required")
	}
	for i, item := range in.Items {
		if item.ProductID <= 0 {
			return invalid(fmt.Sprintf("items[%d].producto_id", i), "product is required")
		}
		if item.Quantity < 0 {
			return invalid(fmt.Sprintf("items[%d].cantidad", i), "quantity must be positive")
		}
		if item.UnitPrice != nil && item.UnitPrice.IsNegative() {
			return invalid(fmt.Sprintf("items[%d].precio_unitario", i), "unit price must not be negative")
		}
		if item.UnitPrice != nil && !item.UnitPrice.Equal(item.UnitPrice.Round(2)) {
			return invalid(fmt.Sprintf("items[%d].precio_unitario", i), "unit price has more than two decimals")
		}
		if item.IsBridge && (item.PieceStart == nil || item.PieceEnd == nil) {
			return invalid(fmt.Sprintf("items[%d].es_puente", i), "a bridge needs start and end pieces")
		}
	}
	return nil
}

// priceItems resolves products and computes item and order subtotals.
func priceItems(ctx context.Context, tx Tx, inputs []LineItemInput) ([]models.LineItem, decimal.Decimal, error) {
	ids := make([]int64, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.ProductID)
	}
	products, err := tx.ProductsByID(ctx, ids)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("load products: %w", err)
	}

	items := make([]models.LineItem, 0, len(inputs))
	subtotal := decimal.Zero
	for i, in := range inputs {
		product, ok := products[in.ProductID]
		if !ok || !product.Active {
			return nil, decimal.Zero, invalid(fmt.Sprintf("items[%d].producto_id", i), "product %d is not available", in.ProductID)
		}

		quantity := in.Quantity
		if quantity == 0 {
			quantity = 1
		}
		price := product.BasePrice
		if in.UnitPrice != nil {
			price = *in.UnitPrice
		}
		material := in.Material
		if material == "" {
			material = product.DefaultMaterial
		}
		pieces := in.DentalPieces
		if pieces == nil {
			pieces = []int64{}
		}

		line := price.Mul(decimal.NewFromInt(int64(quantity)))
		subtotal = subtotal.Add(line)

		items = append(items, models.LineItem{
			ProductID:    product.ID,
			ProductName:  product.Name,
			DentalPieces: pieces,
			IsBridge:     in.IsBridge,
			PieceStart:   in.PieceStart,
			PieceEnd:     in.PieceEnd,
			Material:     material,
			VitaShade:    in.VitaShade,
			StumpShade:   in.StumpShade,
			Texture:      in.Texture,
			Occlusion:    in.Occlusion,
			Notes:        in.Notes,
			Quantity:     quantity,
			UnitPrice:    price,
			Subtotal:     line,
		})
	}
	return items, subtotal, nil
}
