package patient

import (
	"strings"

	"github.com/ehr/records/internal/platform/apperr"
)

// Status is the lifecycle stage of a patient.
type Status string

const (
	StatusInquiry    Status = "INQUIRY"
	StatusOnboarding Status = "ONBOARDING"
	StatusActive     Status = "ACTIVE"
	StatusChurned    Status = "CHURNED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusInquiry, StatusOnboarding, StatusActive, StatusChurned}

var statusMessage = "status must be one of: " + joinStatuses(Statuses)

// ParseStatus upper-cases raw and matches it against the known statuses.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusInquiry, StatusOnboarding, StatusActive, StatusChurned:
		return s, nil
	}
	return "", apperr.Validation("%s", statusMessage)
}

// ResolveStatus is ParseStatus with an empty value meaning INQUIRY.
func ResolveStatus(raw string) (Status, error) {
	if strings.TrimSpace(raw) == "" {
		return StatusInquiry, nil
	}
	return ParseStatus(raw)
}

// FieldType is the value type a custom field holds.
type FieldType string

const (
	FieldText   FieldType = "TEXT"
	FieldNumber FieldType = "NUMBER"
	FieldDate   FieldType = "DATE"
)

const fieldTypeMessage = "field_type must be one of: TEXT, NUMBER, DATE"

func ParseFieldType(raw string) (FieldType, error) {
	switch t := FieldType(strings.ToUpper(strings.TrimSpace(raw))); t {
	case FieldText, FieldNumber, FieldDate:
		return t, nil
	}
	return "", apperr.Validation("%s", fieldTypeMessage)
}

// column names the custom_field_value column holding values of this type.
func (t FieldType) column() string {
	switch t {
	case FieldText:
		return "text_value"
	case FieldNumber:
		return "number_value"
	case FieldDate:
		return "date_value"
	}
	return ""
}

func joinStatuses(ss []Status) string {
	names := make([]string, len(ss))
	for i, s := range ss {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
