package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		class     ErrorClass
		retryable bool
	}{
		{"nil", nil, ErrorClassPermanent, false},
		{"serialization", &pq.Error{Code: "40001"}, ErrorClassSerialization, true},
		{"deadlock", fmt.Errorf("update order: %w", &pq.Error{Code: "40P01"}), ErrorClassDeadlock, true},
		{"lock not available", &pq.Error{Code: "55P03"}, ErrorClassTransient, true},
		{"unique violation", &pq.Error{Code: "23505"}, ErrorClassPermanent, false},
		{"plain", errors.New("boom"), ErrorClassPermanent, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.class {
				t.Errorf("ClassifyError() = %v, want %v", got, tt.class)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestIsForeignKeyViolation(t *testing.T) {
	if !IsForeignKeyViolation(fmt.Errorf("insert user: %w", &pq.Error{Code: "23503"})) {
		t.Error("Expected wrapped 23503 to be a foreign key violation")
	}
	if IsForeignKeyViolation(&pq.Error{Code: "23505"}) {
		t.Error("Unique violation reported as foreign key violation")
	}
}

func TestIsNotFound(t *testing.T) {
	for _, err := range []error{ErrOrderNotFound, ErrApprovalNotFound, ErrNotificationNotFound, ErrUserNotFound} {
		if !IsNotFound(fmt.Errorf("lookup: %w", err)) {
			t.Errorf("Expected %v to be not-found", err)
		}
	}
	if IsNotFound(ErrOptimisticLockFailed) {
		t.Error("Optimistic lock failure is not a not-found error")
	}
}
