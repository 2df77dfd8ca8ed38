package apperrors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrRuleNotMatchable  = errors.New("rule has no embedding and cannot be matched")
	ErrInvalidTier       = errors.New("invalid knowledge tier")
)
