package patient

import (
	"time"

	"github.com/google/uuid"
)

type PatientResponse struct {
	ID                uuid.UUID                  `json:"id"`
	FirstName         string                     `json:"first_name"`
	MiddleName        *string                    `json:"middle_name"`
	LastName          string                     `json:"last_name"`
	FullName          string                     `json:"full_name"`
	DateOfBirth       string                     `json:"date_of_birth"`
	Status            Status                     `json:"status"`
	CreatedBy         uuid.UUID                  `json:"created_by"`
	CreatedAt         time.Time                  `json:"created_at"`
	UpdatedAt         time.Time                  `json:"updated_at"`
	Addresses         []AddressResponse          `json:"addresses"`
	CustomFieldValues []CustomFieldValueResponse `json:"custom_field_values"`
}

// AddressResponse never carries country. postal_code mirrors zip_code.
type AddressResponse struct {
	ID         uuid.UUID `json:"id"`
	Street     string    `json:"street"`
	City       string    `json:"city"`
	State      string    `json:"state"`
	ZipCode    string    `json:"zip_code"`
	PostalCode string    `json:"postal_code"`
	IsPrimary  bool      `json:"is_primary"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CustomFieldValueResponse omits the custom_field reference and names the
// field instead. PatientID is only set when listing values of one field
// across patients.
type CustomFieldValueResponse struct {
	ID          uuid.UUID  `json:"id"`
	PatientID   *uuid.UUID `json:"patient_id,omitempty"`
	FieldName   string     `json:"field_name"`
	FieldType   FieldType  `json:"field_type"`
	TextValue   *string    `json:"text_value"`
	NumberValue *string    `json:"number_value"`
	DateValue   *string    `json:"date_value"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type CustomFieldResponse struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	FieldType  FieldType `json:"field_type"`
	IsRequired bool      `json:"is_required"`
	CreatedBy  uuid.UUID `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StatsResponse counts patients per status. Every status is present.
type StatsResponse struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}

func NewPatientResponse(r *Record) PatientResponse {
	p := r.Patient
	return PatientResponse{
		ID:                p.ID,
		FirstName:         p.FirstName,
		MiddleName:        p.MiddleName,
		LastName:          p.LastName,
		FullName:          p.FullName(),
		DateOfBirth:       p.DateOfBirth.Format(DateLayout),
		Status:            p.Status,
		CreatedBy:         p.CreatedBy,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
		Addresses:         NewAddressResponses(r.Addresses),
		CustomFieldValues: NewValueResponses(r.Values, false),
	}
}

func NewPatientResponses(records []*Record) []PatientResponse {
	out := make([]PatientResponse, 0, len(records))
	for _, r := range records {
		out = append(out, NewPatientResponse(r))
	}
	return out
}

func NewAddressResponses(addrs []*Address) []AddressResponse {
	out := make([]AddressResponse, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, AddressResponse{
			ID:         a.ID,
			Street:     a.Street,
			City:       a.City,
			State:      a.State,
			ZipCode:    a.ZipCode,
			PostalCode: a.ZipCode,
			IsPrimary:  a.IsPrimary,
			CreatedAt:  a.CreatedAt,
			UpdatedAt:  a.UpdatedAt,
		})
	}
	return out
}

// NewValueResponses renders values. withPatient adds patient_id.
func NewValueResponses(values []*CustomFieldValue, withPatient bool) []CustomFieldValueResponse {
	out := make([]CustomFieldValueResponse, 0, len(values))
	for _, v := range values {
		r := CustomFieldValueResponse{
			ID:        v.ID,
			FieldName: v.FieldName,
			FieldType: v.FieldType,
			TextValue: v.TextValue,
			CreatedAt: v.CreatedAt,
			UpdatedAt: v.UpdatedAt,
		}
		if withPatient {
			id := v.PatientID
			r.PatientID = &id
		}
		if v.NumberValue.Valid {
			n := v.NumberValue.Decimal.StringFixed(2)
			r.NumberValue = &n
		}
		if v.DateValue != nil {
			d := v.DateValue.Format(DateLayout)
			r.DateValue = &d
		}
		out = append(out, r)
	}
	return out
}

func NewCustomFieldResponse(f *CustomField) CustomFieldResponse {
	return CustomFieldResponse{
		ID:         f.ID,
		Name:       f.Name,
		FieldType:  f.FieldType,
		IsRequired: f.IsRequired,
		CreatedBy:  f.CreatedBy,
		CreatedAt:  f.CreatedAt,
		UpdatedAt:  f.UpdatedAt,
	}
}

func NewCustomFieldResponses(fields []*CustomField) []CustomFieldResponse {
	out := make([]CustomFieldResponse, 0, len(fields))
	for _, f := range fields {
		out = append(out, NewCustomFieldResponse(f))
	}
	return out
}

func NewStatsResponse(counts map[Status]int) StatsResponse {
	resp := StatsResponse{ByStatus: make(map[Status]int, len(Statuses))}
	for _, s := range Statuses {
		resp.ByStatus[s] = counts[s]
		resp.Total += counts[s]
	}
	return resp
}
