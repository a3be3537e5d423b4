package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrInvalidPattern      = errors.New("pattern is not a valid regular expression")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAlreadyReviewed     = errors.New("approval request already reviewed")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
)
