package errors

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailExists        = errors.New("email already exists")
	ErrCourseNotFound     = errors.New("course not found")
	ErrCourseCodeExists   = errors.New("course with this code already exists")
	ErrPriceRequired      = errors.New("paid course requires a price")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrAlreadyPaid        = errors.New("course already paid")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidInput       = errors.New("invalid input")
	ErrNilUser            = errors.New("user is nil")
	ErrNilCourse          = errors.New("course is nil")
	ErrInternal           = errors.New("internal error")
)
