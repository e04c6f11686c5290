package sqlutil

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mcdev12/potgame/go/internal/models"
)

// Helper functions for converting between Go types and column types

// ToNumeric renders an Amount for a NUMERIC(39,0) parameter
func ToNumeric(a models.Amount) string {
	return a.String()
}

// FromNumeric parses a NUMERIC(39,0) column selected as text
func FromNumeric(s string) (models.Amount, error) {
	a, err := models.ParseAmount(s)
	if err != nil {
		return models.Amount{}, fmt.Errorf("invalid numeric column: %w", err)
	}
	return a, nil
}

// ToBigint converts a uint64 to a BIGINT parameter, rejecting values Postgres cannot hold
func ToBigint(v uint64) (int64, error) {
	if v > 1<<63-1 {
		return 0, fmt.Errorf("value %d does not fit BIGINT", v)
	}
	return int64(v), nil
}

// FromBigint converts a BIGINT column to uint64, rejecting negatives
func FromBigint(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("negative BIGINT %d", v)
	}
	return uint64(v), nil
}

// ToSqlTime converts a Go time pointer to sql.NullTime
func ToSqlTime(val *time.Time) sql.NullTime {
	if val == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *val, Valid: true}
}

// FromSqlTime converts sql.NullTime to Go time pointer
func FromSqlTime(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	return &val.Time
}
