package lifecycle

import (
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/safar/dental-lab-orders/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, s := range Sequence {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	for _, raw := range []string{"", "cancelado", "EN_DISENO", "entregado"} {
		_, err := ParseStatus(raw)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "raw=%q", raw)
		assert.Equal(t, "estado", verr.Field)
	}
}

func TestCheckAdvanceMatchesEdgeTable(t *testing.T) {
	allowed := map[[2]models.OrderStatus]bool{
		{models.StatusPending, models.StatusInDesign}:              true,
		{models.StatusInDesign, models.StatusAwaitingApproval}:     true,
		{models.StatusAwaitingApproval, models.StatusInProduction}: true,
		{models.StatusAwaitingApproval, models.StatusInDesign}:     true,
		{models.StatusInProduction, models.StatusFinished}:         true,
		{models.StatusFinished, models.StatusShipped}:              true,
	}

	for _, from := range Sequence {
		for _, to := range Sequence {
			t.Run(fmt.Sprintf("%s->%s", from, to), func(t *testing.T) {
				err := CheckAdvance(from, to)
				if allowed[[2]models.OrderStatus{from, to}] {
					assert.NoError(t, err)
					return
				}
				var terr *TransitionError
				require.ErrorAs(t, err, &terr)
				assert.Equal(t, from, terr.From)
				assert.Equal(t, to, terr.To)
			})
		}
	}
}

func TestShippedIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(models.StatusShipped))
	assert.Empty(t, NextStatuses(models.StatusShipped))

	for _, s := range Sequence[:len(Sequence)-1] {
		assert.False(t, IsTerminal(s), s)
	}
}

func TestNextStatusesReturnsCopy(t *testing.T) {
	next := NextStatuses(models.StatusAwaitingApproval)
	next[0] = models.StatusShipped

	assert.True(t, slices.Contains(NextStatuses(models.StatusAwaitingApproval), models.StatusInProduction))
}

func TestCheckForce(t *testing.T) {
	tests := []struct {
		name    string
		from    models.OrderStatus
		to      models.OrderStatus
		comment string
		want    any
	}{
		{"from design", models.StatusInDesign, models.StatusInProduction, "urgente", nil},
		{"from approval", models.StatusAwaitingApproval, models.StatusInProduction, "cliente aprobo por telefono", nil},
		{"blank comment", models.StatusInDesign, models.StatusInProduction, "   ", &ValidationError{}},
		{"from pending", models.StatusPending, models.StatusInProduction, "x", &TransitionError{}},
		{"wrong target", models.StatusInDesign, models.StatusFinished, "x", &TransitionError{}},
		{"from production", models.StatusInProduction, models.StatusInProduction, "x", &TransitionError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckForce(tt.from, tt.to, tt.comment)
			switch tt.want.(type) {
			case nil:
				assert.NoError(t, err)
			case *ValidationError:
				var verr *ValidationError
				assert.ErrorAs(t, err, &verr)
			case *TransitionError:
				var terr *TransitionError
				assert.ErrorAs(t, err, &terr)
			}
		})
	}
}

func TestCheckRollback(t *testing.T) {
	for i, from := range Sequence {
		for j, to := range Sequence {
			err := CheckRollback(from, to, "reproceso")
			if j < i {
				assert.NoError(t, err, "%s->%s", from, to)
				continue
			}
			var terr *TransitionError
			assert.True(t, errors.As(err, &terr), "%s->%s", from, to)
		}
	}

	var verr *ValidationError
	require.ErrorAs(t, CheckRollback(models.StatusFinished, models.StatusInDesign, ""), &verr)
	assert.Equal(t, "motivo", verr.Field)
}

func TestTransitionErrorMessage(t *testing.T) {
	err := &TransitionError{From: models.StatusPending, To: models.StatusShipped}
	assert.Equal(t, `transition from "pendiente" to "enviado" not allowed`, err.Error())

	err.Reason = "nope"
	assert.Equal(t, `transition from "pendiente" to "enviado" not allowed: nope`, err.Error())
}
