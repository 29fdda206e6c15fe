package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending          OrderStatus = "pendiente"
	StatusInDesign         OrderStatus = "en_diseno"
	StatusAwaitingApproval OrderStatus = "esperando_aprobacion"
	StatusInProduction     OrderStatus = "en_produccion"
	StatusFinished         OrderStatus = "terminado"
	StatusShipped          OrderStatus = "enviado"
)

type ApprovalStatus string

const (
	ApprovalPending          ApprovalStatus = "pendiente"
	ApprovalApproved         ApprovalStatus = "aprobado"
	ApprovalChangesRequested ApprovalStatus = "ajuste_solicitado"
)

type UserType string

const (
	UserAdmin      UserType = "admin"
	UserTechnician UserType = "tecnico"
	UserClient     UserType = "cliente"
)

// IsStaff reports whether the user type belongs to lab personnel.
func (t UserType) IsStaff() bool {
	return t == UserAdmin || t == UserTechnician
}

// TimelineKind tags how a timeline entry came to be.
type TimelineKind string

const (
	TimelineCreated  TimelineKind = "creacion"
	TimelineAdvance  TimelineKind = "avance"
	TimelineForced   TimelineKind = "forzado"
	TimelineRollback TimelineKind = "retroceso"
	TimelineApproval TimelineKind = "aprobacion"
)

const (
	NotificationNewOrder = "nuevo_pedido"
	NotificationApproval = "aprobacion"
	NotificationShipped  = "enviado"
)

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"nombre"`
	Email     string    `json:"email"`
	Type      UserType  `json:"tipo"`
	ClinicID  *int64    `json:"clinica_id,omitempty"`
	Active    bool      `json:"activo"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Clinic struct {
	ID          int64     `json:"id"`
	Name        string    `json:"nombre"`
	Email       string    `json:"email,omitempty"`
	ContactName string    `json:"contacto_nombre,omitempty"`
	Active      bool      `json:"activo"`
	CreatedAt   time.Time `json:"created_at"`
}

type Product struct {
	ID              int64           `json:"id"`
	Name            string          `json:"nombre"`
	BasePrice       decimal.Decimal `json:"precio_base"`
	DefaultMaterial string          `json:"material_default,omitempty"`
	EstimatedDays   int             `json:"tiempo_estimado_dias"`
	Active          bool            `json:"activo"`
}

type Order struct {
	ID            int64           `json:"id"`
	Code          string          `json:"codigo"`
	ClinicID      int64           `json:"clinica_id"`
	PatientName   string          `json:"paciente_nombre"`
	OrderDate     time.Time       `json:"fecha"`
	DeliveryDate  time.Time       `json:"fecha_entrega"`
	Observations  string          `json:"observaciones"`
	FileURLs      []string        `json:"archivos_urls"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"igv"`
	Total         decimal.Decimal `json:"total"`
	Status        OrderStatus     `json:"estado"`
	SubStatus     *string         `json:"sub_estado"`
	ResponsibleID *int64          `json:"responsable_id"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int             `json:"version"`
	Items         []LineItem      `json:"items,omitempty"`
}

type LineItem struct {
	ID           int64           `json:"id"`
	OrderID      int64           `json:"pedido_id"`
	ProductID    int64           `json:"producto_id"`
	ProductName  string          `json:"producto_nombre,omitempty"`
	DentalPieces []int64         `json:"piezas_dentales"`
	IsBridge     bool            `json:"es_puente"`
	PieceStart   *int64          `json:"pieza_inicio"`
	PieceEnd     *int64          `json:"pieza_fin"`
	Material     string          `json:"material"`
	VitaShade    string          `json:"color_vita"`
	StumpShade   string          `json:"color_munon"`
	Texture      string          `json:"textura"`
	Occlusion    string          `json:"oclusion"`
	Notes        string          `json:"notas"`
	Quantity     int             `json:"cantidad"`
	UnitPrice    decimal.Decimal `json:"precio_unitario"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TimelineEntry is an append-only audit record of one status change.
type TimelineEntry struct {
	ID             int64        `json:"id"`
	OrderID        int64        `json:"pedido_id"`
	PreviousStatus *OrderStatus `json:"estado_anterior"`
	NewStatus      OrderStatus  `json:"estado_nuevo"`
	Kind           TimelineKind `json:"tipo"`
	UserID         *int64       `json:"usuario_id"`
	UserName       string       `json:"usuario_nombre,omitempty"`
	Comment        string       `json:"comentario"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Approval is one round of client review of a 3D design.
type Approval struct {
	ID            int64          `json:"id"`
	OrderID       int64          `json:"pedido_id"`
	ExocadLink    string         `json:"link_exocad"`
	Note          string         `json:"nota"`
	Status        ApprovalStatus `json:"estado"`
	ClientComment string         `json:"comentario_cliente"`
	SubmittedBy   *int64         `json:"enviado_por"`
	RespondedBy   *int64         `json:"respondido_por"`
	RespondedAt   *time.Time     `json:"respondido_at"`
	CreatedAt     time.Time      `json:"created_at"`
}

type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"usuario_id"`
	Type      string    `json:"tipo"`
	Title     string    `json:"titulo"`
	Message   string    `json:"mensaje"`
	Link      string    `json:"link"`
	Read      bool      `json:"leida"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderDetail is the order as shown on its detail page.
type OrderDetail struct {
	Order
	ClinicName      string          `json:"clinica_nombre"`
	ResponsibleName *string         `json:"responsable_nombre"`
	CreatorName     *string         `json:"creador_nombre"`
	Timeline        []TimelineEntry `json:"timeline"`
	Approvals       []Approval      `json:"aprobaciones"`
	NextStatuses    []OrderStatus   `json:"siguientes_estados"`
	Closed          bool            `json:"cerrado"`
}

// OrderSummary is a row of the order list.
type OrderSummary struct {
	Order
	ClinicName      string  `json:"clinica_nombre"`
	ResponsibleName *string `json:"responsable_nombre"`
}
