package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

// Patient maps to the patient table.
type Patient struct {
	ID          uuid.UUID `db:"id"`
	FirstName   string    `db:"first_name"`
	MiddleName  *string   `db:"middle_name"`
	LastName    string    `db:"last_name"`
	DateOfBirth time.Time `db:"date_of_birth"`
	Status      Status    `db:"status"`
	CreatedBy   uuid.UUID `db:"created_by"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// FullName joins first, middle and last name with single spaces, skipping
// the middle name when blank.
func (p *Patient) FullName() string {
	parts := make([]string, 0, 3)
	for _, n := range []string{p.FirstName, deref(p.MiddleName), p.LastName} {
		if n = strings.TrimSpace(n); n != "" {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, " ")
}

// Address maps to the address table.
type Address struct {
	ID        uuid.UUID `db:"id"`
	PatientID uuid.UUID `db:"patient_id"`
	Street    string    `db:"street"`
	City      string    `db:"city"`
	State     string    `db:"state"`
	ZipCode   string    `db:"zip_code"`
	IsPrimary bool      `db:"is_primary"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// CustomField maps to the custom_field table.
type CustomField struct {
	ID         uuid.UUID `db:"id"`
	Name       string    `db:"name"`
	FieldType  FieldType `db:"field_type"`
	IsRequired bool      `db:"is_required"`
	CreatedBy  uuid.UUID `db:"created_by"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// CustomFieldValue maps to the custom_field_value table. FieldName and
// FieldType are read from the referenced custom field.
type CustomFieldValue struct {
	ID            uuid.UUID           `db:"id"`
	PatientID     uuid.UUID           `db:"patient_id"`
	CustomFieldID uuid.UUID           `db:"custom_field_id"`
	TextValue     *string             `db:"text_value"`
	NumberValue   decimal.NullDecimal `db:"number_value"`
	DateValue     *time.Time          `db:"date_value"`
	CreatedAt     time.Time           `db:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at"`

	FieldName string    `db:"field_name"`
	FieldType FieldType `db:"field_type"`
}

// Record is a patient together with its nested collections.
type Record struct {
	Patient   *Patient
	Addresses []*Address
	Values    []*CustomFieldValue
}

// ListFilter narrows the patients list.
type ListFilter struct {
	Status   Status
	Search   string
	Ordering string
}

// FieldFilter narrows the custom-fields list.
type FieldFilter struct {
	Search   string
	Ordering string
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
