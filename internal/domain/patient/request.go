package patient

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/records/internal/platform/apperr"
)

// Column limits from the schema.
const (
	maxNameLen   = 100
	maxStreetLen = 255
	maxCityLen   = 100
	maxStateLen  = 50
	maxZipLen    = 20
)

const valueDigitsMessage = "number_value must have at most 10 digits with 2 decimal places"

var maxInteger = decimal.New(1, 8)

// Nullable records whether a JSON field was present, so an explicit null
// can be told apart from an omitted field.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// Of returns a present, non-null value.
func Of[T any](v T) Nullable[T] { return Nullable[T]{Set: true, Value: &v} }

func (n *Nullable[T]) UnmarshalJSON(b []byte) error {
	n.Set = true
	if string(b) == "null" {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// PatientInput is the write payload for patients. Pointer fields distinguish
// an omitted field from an empty one; middle_name also accepts null to clear
// it. Server-controlled fields are not declared, so values sent for them are
// dropped during binding.
type PatientInput struct {
	FirstName         *string                 `json:"first_name"`
	MiddleName        Nullable[string]        `json:"middle_name"`
	LastName          *string                 `json:"last_name"`
	DateOfBirth       *string                 `json:"date_of_birth"`
	Status            *string                 `json:"status"`
	Addresses         []AddressInput          `json:"addresses"`
	CustomFieldValues []CustomFieldValueInput `json:"custom_field_values"`
}

// AddressInput accepts postal_code as an alias of zip_code. country is
// accepted and discarded.
type AddressInput struct {
	Street     *string `json:"street"`
	City       *string `json:"city"`
	State      *string `json:"state"`
	ZipCode    *string `json:"zip_code"`
	PostalCode *string `json:"postal_code"`
	Country    *string `json:"country"`
	IsPrimary  *bool   `json:"is_primary"`
}

// CustomFieldValueInput references a custom field by id and carries the
// value in the column matching the field's type.
type CustomFieldValueInput struct {
	CustomField string           `json:"custom_field"`
	TextValue   *string          `json:"text_value"`
	NumberValue *decimal.Decimal `json:"number_value"`
	DateValue   *string          `json:"date_value"`
}

type CustomFieldInput struct {
	Name       *string `json:"name"`
	FieldType  *string `json:"field_type"`
	IsRequired *bool   `json:"is_required"`
}

// apply copies the supplied fields onto p. Unless partial, the required
// fields must be present. A nil status leaves p.Status as is.
func (in *PatientInput) apply(p *Patient, partial bool, fe apperr.FieldErrors) {
	if in.FirstName != nil || !partial {
		p.FirstName = requiredString(fe, "first_name", in.FirstName, maxNameLen)
	}
	if in.MiddleName.Set {
		p.MiddleName = optionalString(fe, "middle_name", in.MiddleName.Value, maxNameLen)
	}
	if in.LastName != nil || !partial {
		p.LastName = requiredString(fe, "last_name", in.LastName, maxNameLen)
	}
	if in.DateOfBirth != nil || !partial {
		if d, ok := requiredDate(fe, "date_of_birth", in.DateOfBirth); ok {
			p.DateOfBirth = d
		}
	}
	if in.Status != nil {
		s, err := ResolveStatus(*in.Status)
		if err != nil {
			fe.Add("status", statusMessage)
		}
		p.Status = s
	}

	for i := range in.Addresses {
		in.Addresses[i].validate(fmt.Sprintf("addresses[%d]", i), fe)
	}
	for i, v := range in.CustomFieldValues {
		if _, err := uuid.Parse(strings.TrimSpace(v.CustomField)); err != nil {
			fe.Add(fmt.Sprintf("custom_field_values[%d].custom_field", i), "must be a valid custom field id")
		}
	}
}

func (in *AddressInput) validate(prefix string, fe apperr.FieldErrors) {
	requiredString(fe, prefix+".street", in.Street, maxStreetLen)
	requiredString(fe, prefix+".city", in.City, maxCityLen)
	requiredString(fe, prefix+".state", in.State, maxStateLen)
	requiredString(fe, prefix+".zip_code", in.zip(), maxZipLen)
}

// zip resolves the stored zip code. postal_code wins when both are sent.
func (in *AddressInput) zip() *string {
	if in.PostalCode != nil {
		return in.PostalCode
	}
	return in.ZipCode
}

// toAddress builds the stored address. Call validate first.
func (in *AddressInput) toAddress(patientID uuid.UUID) *Address {
	a := &Address{
		PatientID: patientID,
		Street:    strings.TrimSpace(deref(in.Street)),
		City:      strings.TrimSpace(deref(in.City)),
		State:     strings.TrimSpace(deref(in.State)),
		ZipCode:   strings.TrimSpace(deref(in.zip())),
	}
	if in.IsPrimary != nil {
		a.IsPrimary = *in.IsPrimary
	}
	return a
}

// toValue checks the input against the referenced field's type and builds
// the stored value. Exactly the column matching the type must be set.
func (in *CustomFieldValueInput) toValue(field *CustomField, patientID uuid.UUID, prefix string, fe apperr.FieldErrors) *CustomFieldValue {
	v := &CustomFieldValue{
		PatientID:     patientID,
		CustomFieldID: field.ID,
		FieldName:     field.Name,
		FieldType:     field.FieldType,
	}

	set := map[string]bool{
		"text_value":   in.TextValue != nil,
		"number_value": in.NumberValue != nil,
		"date_value":   in.DateValue != nil,
	}
	want := field.FieldType.column()
	for col, present := range set {
		if present && col != want {
			fe.Add(prefix+"."+col, fmt.Sprintf("not allowed for a %s field", field.FieldType))
		}
	}
	if !set[want] {
		fe.Add(prefix+"."+want, fmt.Sprintf("required for a %s field", field.FieldType))
		return v
	}

	switch field.FieldType {
	case FieldText:
		v.TextValue = in.TextValue
	case FieldNumber:
		n := *in.NumberValue
		if !n.Equal(n.Truncate(2)) || n.Abs().GreaterThanOrEqual(maxInteger) {
			fe.Add(prefix+".number_value", valueDigitsMessage)
			return v
		}
		v.NumberValue = decimal.NewNullDecimal(n)
	case FieldDate:
		if d, ok := requiredDate(fe, prefix+".date_value", in.DateValue); ok {
			v.DateValue = &d
		}
	}
	return v
}

// apply copies the supplied fields onto f. Unless partial, name and
// field_type must be present.
func (in *CustomFieldInput) apply(f *CustomField, partial bool, fe apperr.FieldErrors) {
	if in.Name != nil || !partial {
		f.Name = requiredString(fe, "name", in.Name, maxNameLen)
	}
	if in.FieldType != nil || !partial {
		t, err := ParseFieldType(deref(in.FieldType))
		if err != nil {
			fe.Add("field_type", fieldTypeMessage)
		}
		f.FieldType = t
	}
	if in.IsRequired != nil {
		f.IsRequired = *in.IsRequired
	}
}

func requiredString(fe apperr.FieldErrors, field string, v *string, max int) string {
	if v == nil {
		fe.Add(field, "this field is required")
		return ""
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		fe.Add(field, "this field may not be blank")
	} else if utf8.RuneCountInString(s) > max {
		fe.Add(field, fmt.Sprintf("ensure this field has no more than %d characters", max))
	}
	return s
}

func optionalString(fe apperr.FieldErrors, field string, v *string, max int) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	if utf8.RuneCountInString(s) > max {
		fe.Add(field, fmt.Sprintf("ensure this field has no more than %d characters", max))
	}
	return &s
}

func requiredDate(fe apperr.FieldErrors, field string, v *string) (time.Time, bool) {
	if v == nil || strings.TrimSpace(*v) == "" {
		fe.Add(field, "this field is required")
		return time.Time{}, false
	}
	d, err := time.Parse(DateLayout, strings.TrimSpace(*v))
	if err != nil {
		fe.Add(field, "date has wrong format, use YYYY-MM-DD")
		return time.Time{}, false
	}
	return d, true
}
