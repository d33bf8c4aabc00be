package patient

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/db"
	"github.com/ehr/records/internal/platform/query"
)

var constraints = db.Constraints{
	"uq_custom_field_value_patient_field":     "a patient can have only one value per custom field",
	"custom_field_value_custom_field_id_fkey": "custom field does not exist",
	"ck_patient_status":                       statusMessage,
	"ck_custom_field_type":                    fieldTypeMessage,
}

// accountGoneMessage answers writes by a token whose user no longer exists.
const accountGoneMessage = "user not found"

// Sortable fields exposed through the ordering parameter.
var (
	patientOrderFields = map[string]string{
		"first_name":    "first_name",
		"last_name":     "last_name",
		"date_of_birth": "date_of_birth",
		"status":        "status",
		"created_at":    "created_at",
	}
	fieldOrderFields = map[string]string{
		"name":       "name",
		"field_type": "field_type",
		"created_at": "created_at",
	}
)

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, first_name, middle_name, last_name, date_of_birth, status, created_by, created_at, updated_at`

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (first_name, middle_name, last_name, date_of_birth, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		p.FirstName, p.MiddleName, p.LastName, p.DateOfBirth, string(p.Status), p.CreatedBy,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if db.ViolatesConstraint(err, "patient_created_by_fkey") {
		return apperr.Wrap(apperr.KindUnauthenticated, err, accountGoneMessage)
	}
	return constraints.Classify(err, "patient")
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if err != nil {
		return nil, constraints.Classify(err, "patient")
	}
	return p, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET
			first_name = $2, middle_name = $3, last_name = $4, date_of_birth = $5, status = $6,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FirstName, p.MiddleName, p.LastName, p.DateOfBirth, string(p.Status),
	).Scan(&p.UpdatedAt)
	return constraints.Classify(err, "patient")
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return constraints.Classify(err, "patient")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient not found")
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error) {
	qb := query.NewSearchQuery("patient", patientCols)
	if f.Status != "" {
		qb.AddEquals("status", string(f.Status))
	}
	qb.AddContains(f.Search, "first_name", "middle_name", "last_name")
	qb.OrderBy(query.Ordering(f.Ordering, patientOrderFields, "created_at DESC", "id ASC"))

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, constraints.Classify(err, "patient")
	}

	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, constraints.Classify(err, "patient")
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, constraints.Classify(err, "patient")
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, constraints.Classify(err, "patient")
	}
	return items, total, nil
}

func (r *patientRepoPG) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT status, COUNT(*) FROM patient GROUP BY status`)
	if err != nil {
		return nil, constraints.Classify(err, "patient")
	}
	defer rows.Close()

	counts := make(map[Status]int, len(Statuses))
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, constraints.Classify(err, "patient")
		}
		counts[Status(status)] = n
	}
	return counts, constraints.Classify(rows.Err(), "patient")
}

const addressCols = `id, patient_id, street, city, state, zip_code, is_primary, created_at, updated_at`

func (r *patientRepoPG) ListAddresses(ctx context.Context, patientIDs ...uuid.UUID) ([]*Address, error) {
	if len(patientIDs) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+addressCols+` FROM address
		WHERE patient_id = ANY($1)
		ORDER BY patient_id, is_primary DESC, created_at DESC, seq DESC`, patientIDs)
	if err != nil {
		return nil, constraints.Classify(err, "address")
	}
	defer rows.Close()

	var items []*Address
	for rows.Next() {
		var a Address
		if err := rows.Scan(&a.ID, &a.PatientID, &a.Street, &a.City, &a.State, &a.ZipCode,
			&a.IsPrimary, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, constraints.Classify(err, "address")
		}
		items = append(items, &a)
	}
	return items, constraints.Classify(rows.Err(), "address")
}

// ReplaceAddresses sends the delete and every insert as one batch.
func (r *patientRepoPG) ReplaceAddresses(ctx context.Context, patientID uuid.UUID, addrs []*Address) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM address WHERE patient_id = $1`, patientID)
	for _, a := range addrs {
		a.PatientID = patientID
		batch.Queue(`
			INSERT INTO address (patient_id, street, city, state, zip_code, is_primary)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at, updated_at`,
			a.PatientID, a.Street, a.City, a.State, a.ZipCode, a.IsPrimary)
	}

	br := r.conn(ctx).SendBatch(ctx, batch)
	defer br.Close()

	if _, err := br.Exec(); err != nil {
		return constraints.Classify(err, "address")
	}
	for _, a := range addrs {
		if err := br.QueryRow().Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return constraints.Classify(err, "address")
		}
	}
	return nil
}

const valueCols = `v.id, v.patient_id, v.custom_field_id, v.text_value, v.number_value, v.date_value,
	v.created_at, v.updated_at, f.name, f.field_type`

func (r *patientRepoPG) ListValues(ctx context.Context, patientIDs ...uuid.UUID) ([]*CustomFieldValue, error) {
	if len(patientIDs) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+valueCols+`
		FROM custom_field_value v JOIN custom_field f ON f.id = v.custom_field_id
		WHERE v.patient_id = ANY($1)
		ORDER BY v.patient_id, f.name, v.seq`, patientIDs)
	if err != nil {
		return nil, constraints.Classify(err, "custom field value")
	}
	return scanValueRows(rows)
}

func (r *patientRepoPG) ReplaceValues(ctx context.Context, patientID uuid.UUID, values []*CustomFieldValue) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM custom_field_value WHERE patient_id = $1`, patientID)
	for _, v := range values {
		v.PatientID = patientID
		batch.Queue(`
			INSERT INTO custom_field_value (patient_id, custom_field_id, text_value, number_value, date_value)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at, updated_at`,
			v.PatientID, v.CustomFieldID, v.TextValue, v.NumberValue, v.DateValue)
	}

	br := r.conn(ctx).SendBatch(ctx, batch)
	defer br.Close()

	if _, err := br.Exec(); err != nil {
		return constraints.Classify(err, "custom field value")
	}
	for _, v := range values {
		if err := br.QueryRow().Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return constraints.Classify(err, "custom field value")
		}
	}
	return nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var status string
	err := row.Scan(&p.ID, &p.FirstName, &p.MiddleName, &p.LastName, &p.DateOfBirth,
		&status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = Status(status)
	return &p, nil
}

func scanValueRows(rows pgx.Rows) ([]*CustomFieldValue, error) {
	defer rows.Close()
	var items []*CustomFieldValue
	for rows.Next() {
		var v CustomFieldValue
		var fieldType string
		if err := rows.Scan(&v.ID, &v.PatientID, &v.CustomFieldID, &v.TextValue, &v.NumberValue,
			&v.DateValue, &v.CreatedAt, &v.UpdatedAt, &v.FieldName, &fieldType); err != nil {
			return nil, constraints.Classify(err, "custom field value")
		}
		v.FieldType = FieldType(fieldType)
		items = append(items, &v)
	}
	return items, constraints.Classify(rows.Err(), "custom field value")
}

// -- Custom Field Repository --

type customFieldRepoPG struct {
	pool *pgxpool.Pool
}

func NewCustomFieldRepo(pool *pgxpool.Pool) CustomFieldRepository {
	return &customFieldRepoPG{pool: pool}
}

func (r *customFieldRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const fieldCols = `id, name, field_type, is_required, created_by, created_at, updated_at`

func (r *customFieldRepoPG) Create(ctx context.Context, f *CustomField) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO custom_field (name, field_type, is_required, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		f.Name, string(f.FieldType), f.IsRequired, f.CreatedBy,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if db.ViolatesConstraint(err, "custom_field_created_by_fkey") {
		return apperr.Wrap(apperr.KindUnauthenticated, err, accountGoneMessage)
	}
	return constraints.Classify(err, "custom field")
}

func (r *customFieldRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CustomField, error) {
	f, err := scanField(r.conn(ctx).QueryRow(ctx, `SELECT `+fieldCols+` FROM custom_field WHERE id = $1`, id))
	if err != nil {
		return nil, constraints.Classify(err, "custom field")
	}
	return f, nil
}

func (r *customFieldRepoPG) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*CustomField, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+fieldCols+` FROM custom_field WHERE id = ANY($1) ORDER BY name, id`, ids)
	if err != nil {
		return nil, constraints.Classify(err, "custom field")
	}
	return scanFieldRows(rows)
}

func (r *customFieldRepoPG) Update(ctx context.Context, f *CustomField) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE custom_field SET name = $2, field_type = $3, is_required = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		f.ID, f.Name, string(f.FieldType), f.IsRequired,
	).Scan(&f.UpdatedAt)
	return constraints.Classify(err, "custom field")
}

func (r *customFieldRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM custom_field WHERE id = $1`, id)
	if err != nil {
		return constraints.Classify(err, "custom field")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("custom field not found")
	}
	return nil
}

func (r *customFieldRepoPG) List(ctx context.Context, f FieldFilter, limit, offset int) ([]*CustomField, int, error) {
	qb := query.NewSearchQuery("custom_field", fieldCols)
	qb.AddContains(f.Search, "name")
	qb.OrderBy(query.Ordering(f.Ordering, fieldOrderFields, "name ASC", "id ASC"))

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, constraints.Classify(err, "custom field")
	}

	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, constraints.Classify(err, "custom field")
	}
	items, err := scanFieldRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *customFieldRepoPG) ListRequired(ctx context.Context) ([]*CustomField, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+fieldCols+` FROM custom_field WHERE is_required ORDER BY name, id`)
	if err != nil {
		return nil, constraints.Classify(err, "custom field")
	}
	return scanFieldRows(rows)
}

func (r *customFieldRepoPG) HasValues(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM custom_field_value WHERE custom_field_id = $1)`, id,
	).Scan(&exists)
	return exists, constraints.Classify(err, "custom field value")
}

func (r *customFieldRepoPG) ListValues(ctx context.Context, fieldID uuid.UUID) ([]*CustomFieldValue, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+valueCols+`
		FROM custom_field_value v JOIN custom_field f ON f.id = v.custom_field_id
		WHERE v.custom_field_id = $1
		ORDER BY v.created_at, v.seq`, fieldID)
	if err != nil {
		return nil, constraints.Classify(err, "custom field value")
	}
	return scanValueRows(rows)
}

func scanField(row pgx.Row) (*CustomField, error) {
	var f CustomField
	var fieldType string
	if err := row.Scan(&f.ID, &f.Name, &fieldType, &f.IsRequired, &f.CreatedBy, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.FieldType = FieldType(fieldType)
	return &f, nil
}

func scanFieldRows(rows pgx.Rows) ([]*CustomField, error) {
	defer rows.Close()
	var items []*CustomField
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, constraints.Classify(err, "custom field")
		}
		items = append(items, f)
	}
	return items, constraints.Classify(rows.Err(), "custom field")
}
