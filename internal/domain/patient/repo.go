package patient

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)

	// ListAddresses returns the addresses of every given patient, primary
	// first then newest first within each patient.
	ListAddresses(ctx context.Context, patientIDs ...uuid.UUID) ([]*Address, error)
	// ReplaceAddresses deletes the patient's addresses and inserts addrs.
	// It must run inside a transaction.
	ReplaceAddresses(ctx context.Context, patientID uuid.UUID, addrs []*Address) error

	// ListValues returns the custom field values of every given patient,
	// ordered by field name.
	ListValues(ctx context.Context, patientIDs ...uuid.UUID) ([]*CustomFieldValue, error)
	// ReplaceValues deletes the patient's custom field values and inserts
	// values. It must run inside a transaction.
	ReplaceValues(ctx context.Context, patientID uuid.UUID, values []*CustomFieldValue) error
}

type CustomFieldRepository interface {
	Create(ctx context.Context, f *CustomField) error
	GetByID(ctx context.Context, id uuid.UUID) (*CustomField, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*CustomField, error)
	Update(ctx context.Context, f *CustomField) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f FieldFilter, limit, offset int) ([]*CustomField, int, error)
	ListRequired(ctx context.Context) ([]*CustomField, error)
	HasValues(ctx context.Context, id uuid.UUID) (bool, error)
	// ListValues returns every value recorded for the field across patients.
	ListValues(ctx context.Context, fieldID uuid.UUID) ([]*CustomFieldValue, error)
}
