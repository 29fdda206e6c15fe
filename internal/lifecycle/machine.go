package lifecycle

import (
	"slices"
	"strings"

	"github.com/safar/dental-lab-orders/internal/models"
)

// Sequence is the production pipeline in canonical order. Rollback compares
// positions in this slice.
var Sequence = []models.OrderStatus{
	models.StatusPending,
	models.StatusInDesign,
	models.StatusAwaitingApproval,
	models.StatusInProduction,
	models.StatusFinished,
	models.StatusShipped,
}

// advanceEdges is the complete table of normal transitions.
var advanceEdges = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPending:          {models.StatusInDesign},
	models.StatusInDesign:         {models.StatusAwaitingApproval},
	models.StatusAwaitingApproval: {models.StatusInProduction, models.StatusInDesign},
	models.StatusInProduction:     {models.StatusFinished},
	models.StatusFinished:         {models.StatusShipped},
}

// forceSources are the states a forced advance may leave; its only target is
// en_produccion.
var forceSources = []models.OrderStatus{
	models.StatusInDesign,
	models.StatusAwaitingApproval,
}

// ParseStatus converts raw input into a known status.
func ParseStatus(raw string) (models.OrderStatus, error) {
	status := models.OrderStatus(strings.TrimSpace(raw))
	if Index(status) < 0 {
		return "", invalid("estado", "unknown status %q", raw)
	}
	return status, nil
}

// Index returns the position of status in Sequence, or -1.
func Index(status models.OrderStatus) int {
	return slices.Index(Sequence, status)
}

// IsTerminal reports whether no normal transition leaves status.
func IsTerminal(status models.OrderStatus) bool {
	return len(advanceEdges[status]) == 0
}

// NextStatuses lists the normal targets reachable from status.
func NextStatuses(from models.OrderStatus) []models.OrderStatus {
	return slices.Clone(advanceEdges[from])
}

// CheckAdvance validates a normal transition against the edge table.
func CheckAdvance(from, to models.OrderStatus) error {
	if !slices.Contains(advanceEdges[from], to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// CheckForce validates a forced advance: design stages straight into
// production, with a justification.
func CheckForce(from, to models.OrderStatus, comment string) error {
	if to != models.StatusInProduction || !slices.Contains(forceSources, from) {
		return &TransitionError{From: from, To: to, Reason: "forced advance only moves design stages into production"}
	}
	if strings.TrimSpace(comment) == "" {
		return invalid("comentario", "a justification is required to force an advance")
	}
	return nil
}

// CheckRollback validates a manual regression to a strictly earlier stage.
func CheckRollback(from, to models.OrderStatus, reason string) error {
	fromIdx, toIdx := Index(from), Index(to)
	if fromIdx < 0 || toIdx < 0 || toIdx >= fromIdx {
		return &TransitionError{From: from, To: to, Reason: "rollback target must be an earlier stage"}
	}
	if strings.TrimSpace(reason) == "" {
		return invalid("motivo", "a reason is required to roll back an order")
	}
	return nil
}
