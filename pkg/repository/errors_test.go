package repository_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JaimeStill/conveyor/pkg/repository"
)

var (
	errNotFound  = errors.New("record not found")
	errDuplicate = errors.New("record already exists")
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil passes through", nil, nil},
		{"no rows maps to not found", sql.ErrNoRows, errNotFound},
		{"wrapped no rows maps to not found", fmt.Errorf("get record: %w", sql.ErrNoRows), errNotFound},
		{"unique violation maps to duplicate", &pgconn.PgError{Code: "23505"}, errDuplicate},
		{"other pg errors pass through", &pgconn.PgError{Code: "40001"}, nil},
		{"plain errors pass through", errors.New("connection reset"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := repository.MapError(tt.err, errNotFound, errDuplicate)
			if tt.want != nil {
				if !errors.Is(got, tt.want) {
					t.Errorf("MapError() = %v, want %v", got, tt.want)
				}
				return
			}
			if !errors.Is(got, tt.err) && got != nil {
				t.Errorf("MapError() = %v, want original error %v", got, tt.err)
			}
		})
	}
}

func TestIsSerializationFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization code", &pgconn.PgError{Code: "40001"}, true},
		{"wrapped serialization code", fmt.Errorf("mutate: %w", &pgconn.PgError{Code: "40001"}), true},
		{"other pg code", &pgconn.PgError{Code: "23505"}, false},
		{"plain error", errors.New("timeout"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := repository.IsSerializationFailure(tt.err); got != tt.want {
				t.Errorf("IsSerializationFailure() = %t, want %t", got, tt.want)
			}
		})
	}
}
