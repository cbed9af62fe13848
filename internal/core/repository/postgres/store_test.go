package postgres

import (
	"fmt"
	"testing"

	"github.com/Nzyazin/bidfunds/internal/core/repository"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pq.Error{Code: codeSerializationFailure}, true},
		{"deadlock", &pq.Error{Code: codeDeadlockDetected}, true},
		{"active pair race", &pq.Error{Code: codeUniqueViolation, Constraint: "uq_reservations_active_pair"}, true},
		{"wallet owner race", &pq.Error{Code: codeUniqueViolation, Constraint: "wallets_owner_id_key"}, true},
		{"deposit reference race", &pq.Error{Code: codeUniqueViolation, Constraint: "deposits_reference_key"}, true},
		{"duplicate ledger id", &pq.Error{Code: codeUniqueViolation, Constraint: "transactions_pkey"}, false},
		{"wrapped duplicate ledger id", mapError("append RESERVE entry", &pq.Error{Code: codeUniqueViolation, Constraint: "transactions_pkey"}), false},
		{"check violation", &pq.Error{Code: codeCheckViolation}, false},
		{"row no longer active", fmt.Errorf("extend: %w", repository.ErrConflict), true},
		{"plain error", fmt.Errorf("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}
