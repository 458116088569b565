package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"pgconn unique", &pgconn.PgError{Code: "23505"}, true},
		{"pgconn wrapped", fmt.Errorf("create attempt: %w", &pgconn.PgError{Code: "23505"}), true},
		{"pgconn other code", &pgconn.PgError{Code: "23503"}, false},
		{"lib/pq unique", &pq.Error{Code: "23505"}, true},
		{"plain error", errors.New("duplicate"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}
