package patient

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/records/internal/platform/apperr"
)

// TxRunner runs fn as one unit of work. *db.TxManager implements it.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	patients PatientRepository
	fields   CustomFieldRepository
	tx       TxRunner
	logger   zerolog.Logger
}

func NewService(patients PatientRepository, fields CustomFieldRepository, tx TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		patients: patients,
		fields:   fields,
		tx:       tx,
		logger:   logger.With().Str("component", "patient").Logger(),
	}
}

// -- Patients --

// CreatePatient stores a patient owned by actor together with its nested
// addresses and custom field values.
func (s *Service) CreatePatient(ctx context.Context, actor uuid.UUID, in *PatientInput) (*Record, error) {
	p := &Patient{Status: StatusInquiry, CreatedBy: actor}
	fe := apperr.FieldErrors{}
	in.apply(p, false, fe)
	if err := fe.Err(); err != nil {
		return nil, err
	}

	rec := &Record{Patient: p}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		values, err := s.resolveValues(ctx, in.CustomFieldValues)
		if err != nil {
			return err
		}
		if err := s.checkRequired(ctx, values); err != nil {
			return err
		}
		if err := s.patients.Create(ctx, p); err != nil {
			return err
		}
		if len(in.Addresses) > 0 {
			if err := s.patients.ReplaceAddresses(ctx, p.ID, toAddresses(in.Addresses, p.ID)); err != nil {
				return err
			}
		}
		if len(values) > 0 {
			if err := s.patients.ReplaceValues(ctx, p.ID, values); err != nil {
				return err
			}
		}
		return s.loadNested(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("patient_id", p.ID.String()).
		Str("created_by", actor.String()).
		Str("status", string(p.Status)).
		Msg("patient created")
	return rec, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Record, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	rec := &Record{Patient: p}
	if err := s.loadNested(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListPatients returns one page of patients. Nested rows for the whole page
// are loaded with one query per collection.
func (s *Service) ListPatients(ctx context.Context, f ListFilter, limit, offset int) ([]*Record, int, error) {
	patients, total, err := s.patients.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if len(patients) == 0 {
		return []*Record{}, total, nil
	}

	ids := make([]uuid.UUID, len(patients))
	records := make([]*Record, len(patients))
	byID := make(map[uuid.UUID]*Record, len(patients))
	for i, p := range patients {
		ids[i] = p.ID
		records[i] = &Record{Patient: p}
		byID[p.ID] = records[i]
	}

	addrs, err := s.patients.ListAddresses(ctx, ids...)
	if err != nil {
		return nil, 0, err
	}
	for _, a := range addrs {
		if r, ok := byID[a.PatientID]; ok {
			r.Addresses = append(r.Addresses, a)
		}
	}

	values, err := s.patients.ListValues(ctx, ids...)
	if err != nil {
		return nil, 0, err
	}
	for _, v := range values {
		if r, ok := byID[v.PatientID]; ok {
			r.Values = append(r.Values, v)
		}
	}
	return records, total, nil
}

// UpdatePatient applies in to the patient. A non-empty addresses or
// custom_field_values list replaces the stored collection wholesale; the
// field update and both replacements commit or roll back together. When
// partial is false the required fields must be supplied.
func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, in *PatientInput, partial bool) (*Record, error) {
	var rec *Record
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.patients.GetByID(ctx, id)
		if err != nil {
			return err
		}

		fe := apperr.FieldErrors{}
		in.apply(p, partial, fe)
		if err := fe.Err(); err != nil {
			return err
		}

		values, err := s.resolveValues(ctx, in.CustomFieldValues)
		if err != nil {
			return err
		}
		if err := s.patients.Update(ctx, p); err != nil {
			return err
		}
		if len(in.Addresses) > 0 {
			if err := s.patients.ReplaceAddresses(ctx, p.ID, toAddresses(in.Addresses, p.ID)); err != nil {
				return err
			}
		}
		if len(values) > 0 {
			if err := s.patients.ReplaceValues(ctx, p.ID, values); err != nil {
				return err
			}
		}

		rec = &Record{Patient: p}
		return s.loadNested(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("patient_id", id.String()).
		Bool("addresses_replaced", len(in.Addresses) > 0).
		Bool("values_replaced", len(in.CustomFieldValues) > 0).
		Msg("patient updated")
	return rec, nil
}

// DeletePatient removes the patient. Addresses and custom field values go
// with it.
func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if err := s.patients.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("patient_id", id.String()).Msg("patient deleted")
	return nil
}

func (s *Service) PatientStats(ctx context.Context) (map[Status]int, error) {
	return s.patients.CountByStatus(ctx)
}

func (s *Service) ListAddresses(ctx context.Context, patientID uuid.UUID) ([]*Address, error) {
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return nil, err
	}
	return s.patients.ListAddresses(ctx, patientID)
}

func (s *Service) ListPatientValues(ctx context.Context, patientID uuid.UUID) ([]*CustomFieldValue, error) {
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return nil, err
	}
	return s.patients.ListValues(ctx, patientID)
}

func (s *Service) loadNested(ctx context.Context, rec *Record) error {
	addrs, err := s.patients.ListAddresses(ctx, rec.Patient.ID)
	if err != nil {
		return err
	}
	values, err := s.patients.ListValues(ctx, rec.Patient.ID)
	if err != nil {
		return err
	}
	rec.Addresses, rec.Values = addrs, values
	return nil
}

// resolveValues looks up the custom fields referenced by inputs and checks
// each value against its field's type.
func (s *Service) resolveValues(ctx context.Context, inputs []CustomFieldValueInput) ([]*CustomFieldValue, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(inputs))
	seen := make(map[uuid.UUID]bool, len(inputs))
	for i, in := range inputs {
		id, err := uuid.Parse(strings.TrimSpace(in.CustomField))
		if err != nil {
			return nil, apperr.Validation("custom_field_values[%d].custom_field must be a valid custom field id", i)
		}
		if seen[id] {
			return nil, apperr.Constraint("a patient can have only one value per custom field")
		}
		seen[id] = true
		ids[i] = id
	}

	fields, err := s.fields.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*CustomField, len(fields))
	for _, f := range fields {
		byID[f.ID] = f
	}

	fe := apperr.FieldErrors{}
	values := make([]*CustomFieldValue, 0, len(inputs))
	for i := range inputs {
		prefix := fmt.Sprintf("custom_field_values[%d]", i)
		field, ok := byID[ids[i]]
		if !ok {
			fe.Add(prefix+".custom_field", "custom field does not exist")
			continue
		}
		values = append(values, inputs[i].toValue(field, uuid.Nil, prefix, fe))
	}
	if err := fe.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

// checkRequired fails when a custom field marked required has no value.
func (s *Service) checkRequired(ctx context.Context, values []*CustomFieldValue) error {
	required, err := s.fields.ListRequired(ctx)
	if err != nil {
		return err
	}
	have := make(map[uuid.UUID]bool, len(values))
	for _, v := range values {
		have[v.CustomFieldID] = true
	}

	var missing []string
	for _, f := range required {
		if !have[f.ID] {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return apperr.FieldErrors{
		"custom_field_values": "values are required for custom fields: " + strings.Join(missing, ", "),
	}.Err()
}

func toAddresses(inputs []AddressInput, patientID uuid.UUID) []*Address {
	addrs := make([]*Address, len(inputs))
	for i := range inputs {
		addrs[i] = inputs[i].toAddress(patientID)
	}
	return addrs
}

// -- Custom Fields --

func (s *Service) CreateCustomField(ctx context.Context, actor uuid.UUID, in *CustomFieldInput) (*CustomField, error) {
	f := &CustomField{CreatedBy: actor}
	fe := apperr.FieldErrors{}
	in.apply(f, false, fe)
	if err := fe.Err(); err != nil {
		return nil, err
	}
	if err := s.fields.Create(ctx, f); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("custom_field_id", f.ID.String()).
		Str("field_type", string(f.FieldType)).
		Msg("custom field created")
	return f, nil
}

func (s *Service) GetCustomField(ctx context.Context, id uuid.UUID) (*CustomField, error) {
	return s.fields.GetByID(ctx, id)
}

func (s *Service) ListCustomFields(ctx context.Context, f FieldFilter, limit, offset int) ([]*CustomField, int, error) {
	fields, total, err := s.fields.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if fields == nil {
		fields = []*CustomField{}
	}
	return fields, total, nil
}

// UpdateCustomField applies in to the field. The type of a field that
// already has values cannot change.
func (s *Service) UpdateCustomField(ctx context.Context, id uuid.UUID, in *CustomFieldInput, partial bool) (*CustomField, error) {
	var f *CustomField
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		f, err = s.fields.GetByID(ctx, id)
		if err != nil {
			return err
		}

		prevType := f.FieldType
		fe := apperr.FieldErrors{}
		in.apply(f, partial, fe)
		if err := fe.Err(); err != nil {
			return err
		}

		if f.FieldType != prevType {
			used, err := s.fields.HasValues(ctx, id)
			if err != nil {
				return err
			}
			if used {
				return apperr.FieldErrors{"field_type": "cannot change the type of a field that has values"}.Err()
			}
		}
		return s.fields.Update(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("custom_field_id", id.String()).Msg("custom field updated")
	return f, nil
}

// DeleteCustomField removes the field and every value recorded for it.
func (s *Service) DeleteCustomField(ctx context.Context, id uuid.UUID) error {
	if err := s.fields.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("custom_field_id", id.String()).Msg("custom field deleted")
	return nil
}

func (s *Service) ListFieldValues(ctx context.Context, fieldID uuid.UUID) ([]*CustomFieldValue, error) {
	if _, err := s.fields.GetByID(ctx, fieldID); err != nil {
		return nil, err
	}
	return s.fields.ListValues(ctx, fieldID)
}
