package services

import (
	"errors"

	"github.com/cppla/dailytake/models"
)

var (
	// local validation
	ErrInvalidContent    = errors.New("invalid content")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidDateKey    = errors.New("invalid date key")
	ErrInvalidTimezone   = errors.New("invalid timezone offset")
	ErrUnknownCreditType = models.ErrUnknownCreditType

	// registry
	ErrAlreadySubmitted = errors.New("already submitted for this prompt date")
	ErrNoPromptForDate  = errors.New("no prompt for date")
	ErrNotEligible      = errors.New("not eligible")
	ErrUserNotFound     = errors.New("user not found")

	// ledger
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrRefundNotAllowed   = errors.New("refund not allowed")

	// storage
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)
