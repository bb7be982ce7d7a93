package store

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateUsername はユーザー名の一意制約違反を表します。
	ErrDuplicateUsername = errors.New("username already exists")
	// ErrNotFound は対象レコードが存在しないことを表します。
	ErrNotFound = errors.New("record not found")
)

// ValidationError は必須項目の欠落や長さ超過など、書き込み前に検出した入力不備です。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func missing(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "is required"}
}

func tooLong(field string, max int) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf("must be at most %d characters", max)}
}
