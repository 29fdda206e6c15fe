package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/safar/dental-lab-orders/internal/database"
	"github.com/safar/dental-lab-orders/internal/lifecycle"
	"github.com/safar/dental-lab-orders/internal/models"
	"github.com/safar/dental-lab-orders/internal/store"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type lineItemRequest struct {
	ProductID    int64            `json:"producto_id"`
	DentalPieces []int64          `json:"piezas_dentales"`
	IsBridge     bool             `json:"es_puente"`
	PieceStart   *int64           `json:"pieza_inicio"`
	PieceEnd     *int64           `json:"pieza_fin"`
	Material     string           `json:"material"`
	VitaShade    string           `json:"color_vita"`
	StumpShade   string           `json:"color_munon"`
	Texture      string           `json:"textura"`
	Occlusion    string           `json:"oclusion"`
	Notes        string           `json:"notas"`
	Quantity     int              `json:"cantidad"`
	UnitPrice    *decimal.Decimal `json:"precio_unitario"`
}

type createOrderRequest struct {
	ClinicID     int64             `json:"clinica_id"`
	PatientName  string            `json:"paciente_nombre"`
	OrderDate    string            `json:"fecha"`
	DeliveryDate string            `json:"fecha_entrega"`
	Observations string            `json:"observaciones"`
	FileURLs     []string          `json:"archivos_urls"`
	Items        []lineItemRequest `json:"items"`
}

type transitionRequest struct {
	Status        string  `json:"estado"`
	SubStatus     *string `json:"sub_estado"`
	ResponsibleID *int64  `json:"responsable_id"`
	Comment       string  `json:"comentario"`
	ExocadLink    string  `json:"link_exocad"`
	Note          string  `json:"nota"`
	Forced        bool    `json:"forzado"`
}

type rollbackRequest struct {
	Status string `json:"estado"`
	Reason string `json:"motivo"`
}

type deliveryDateRequest struct {
	DeliveryDate string `json:"fecha_entrega"`
}

type submitApprovalRequest struct {
	ExocadLink string `json:"link_exocad"`
	Note       string `json:"nota"`
}

type respondApprovalRequest struct {
	Decision      string `json:"estado"`
	ClientComment string `json:"comentario_cliente"`
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp. Empty
// input yields nil.
func parseDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	q := r.URL.Query()

	filter := store.OrderFilter{
		Search: q.Get("buscar"),
		Cursor: q.Get("cursor"),
	}
	if raw := q.Get("estado"); raw != "" {
		status, err := lifecycle.ParseStatus(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		filter.Status = status
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.ClinicID, _ = strconv.ParseInt(q.Get("clinica_id"), 10, 64)
	filter.ResponsibleID, _ = strconv.ParseInt(q.Get("responsable_id"), 10, 64)

	if claims.Type == models.UserClient {
		if claims.ClinicID == nil {
			respondError(w, http.StatusForbidden, "client has no clinic")
			return
		}
		filter.ClinicID = *claims.ClinicID
	}

	page, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	orderDate, err := parseDate(req.OrderDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "fecha: invalid date")
		return
	}
	deliveryDate, err := parseDate(req.DeliveryDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "fecha_entrega: invalid date")
		return
	}

	clinicID := req.ClinicID
	if clinicID == 0 && claims.ClinicID != nil {
		clinicID = *claims.ClinicID
	}

	items := make([]lifecycle.LineItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, lifecycle.LineItemInput{
			ProductID:    item.ProductID,
			DentalPieces: item.DentalPieces,
			IsBridge:     item.IsBridge,
			PieceStart:   item.PieceStart,
			PieceEnd:     item.PieceEnd,
			Material:     item.Material,
			VitaShade:    item.VitaShade,
			StumpShade:   item.StumpShade,
			Texture:      item.Texture,
			Occlusion:    item.Occlusion,
			Notes:        item.Notes,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
		})
	}

	order, err := h.engine.CreateOrder(r.Context(), lifecycle.CreateOrderInput{
		ClinicID:     clinicID,
		PatientName:  req.PatientName,
		OrderDate:    orderDate,
		DeliveryDate: deliveryDate,
		Observations: req.Observations,
		FileURLs:     req.FileURLs,
		Items:        items,
		CreatorID:    claims.UserID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	detail, err := h.orders.GetOrderDetail(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// Orders of other clinics look missing to clients.
	claims, _ := ClaimsFromContext(r.Context())
	if claims.Type == models.UserClient && (claims.ClinicID == nil || *claims.ClinicID != detail.ClinicID) {
		h.writeError(w, r, database.ErrOrderNotFound)
		return
	}

	detail.NextStatuses = lifecycle.NextStatuses(detail.Status)
	detail.Closed = lifecycle.IsTerminal(detail.Status)
	respondJSON(w, http.StatusOK, detail)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	target, err := lifecycle.ParseStatus(req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	claims, _ := ClaimsFromContext(r.Context())
	order, err := h.engine.Transition(r.Context(), lifecycle.TransitionInput{
		OrderID:       id,
		Target:        target,
		ActorID:       claims.UserID,
		SubState:      req.SubStatus,
		ResponsibleID: req.ResponsibleID,
		Comment:       req.Comment,
		ExocadLink:    req.ExocadLink,
		Note:          req.Note,
		Forced:        req.Forced,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req rollbackRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	target, err := lifecycle.ParseStatus(req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	claims, _ := ClaimsFromContext(r.Context())
	order, err := h.engine.Rollback(r.Context(), lifecycle.RollbackInput{
		OrderID: id,
		Target:  target,
		ActorID: claims.UserID,
		Reason:  req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *Handler) updateDeliveryDate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req deliveryDateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	date, err := parseDate(strings.TrimSpace(req.DeliveryDate))
	if err != nil || date == nil {
		respondError(w, http.StatusBadRequest, "fecha_entrega: invalid date")
		return
	}

	claims, _ := ClaimsFromContext(r.Context())
	order, err := h.engine.UpdateDeliveryDate(r.Context(), id, *date, claims.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *Handler) submitApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req submitApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	claims, _ := ClaimsFromContext(r.Context())
	approval, err := h.engine.SubmitApprovalLink(r.Context(), lifecycle.SubmitApprovalInput{
		OrderID:    id,
		ExocadLink: req.ExocadLink,
		Note:       req.Note,
		ActorID:    claims.UserID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, approval)
}

func (h *Handler) respondApproval(w http.ResponseWriter, r *http.Request) {
	orderID, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}
	approvalID, ok := idParam(r, "aprobacionId")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid approval ID")
		return
	}

	var req respondApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	claims, _ := ClaimsFromContext(r.Context())
	approval, err := h.engine.RespondToApproval(r.Context(), lifecycle.RespondInput{
		OrderID:       orderID,
		ApprovalID:    approvalID,
		Decision:      models.ApprovalStatus(req.Decision),
		ClientComment: req.ClientComment,
		ActorID:       claims.UserID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, approval)
}
