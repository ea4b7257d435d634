package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CourseType string

const (
	CourseFree CourseType = "free"
	CourseRent CourseType = "rent"
	CourseBuy  CourseType = "buy"
)

func (t CourseType) Valid() bool {
	switch t {
	case CourseFree, CourseRent, CourseBuy:
		return true
	}
	return false
}

// Price is nil iff Type is CourseFree.
type Course struct {
	ID        int32            `json:"id"`
	Code      string           `json:"code"`
	Name      string           `json:"name"`
	Type      CourseType       `json:"type"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
