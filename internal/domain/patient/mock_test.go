package patient

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/records/internal/platform/apperr"
)

// -- In-memory store shared by the mock repositories --

type memStore struct {
	patients  map[uuid.UUID]*Patient
	addresses map[uuid.UUID][]*Address
	values    map[uuid.UUID][]*CustomFieldValue
	fields    map[uuid.UUID]*CustomField

	clock time.Time

	// failReplaceValues makes ReplaceValues fail after deleting the old rows.
	failReplaceValues error
}

func newMemStore() *memStore {
	return &memStore{
		patients:  make(map[uuid.UUID]*Patient),
		addresses: make(map[uuid.UUID][]*Address),
		values:    make(map[uuid.UUID][]*CustomFieldValue),
		fields:    make(map[uuid.UUID]*CustomField),
		clock:     time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

type snapshot struct {
	patients  map[uuid.UUID]Patient
	addresses map[uuid.UUID][]Address
	values    map[uuid.UUID][]CustomFieldValue
	fields    map[uuid.UUID]CustomField
}

func (m *memStore) snapshot() snapshot {
	s := snapshot{
		patients:  make(map[uuid.UUID]Patient, len(m.patients)),
		addresses: make(map[uuid.UUID][]Address, len(m.addresses)),
		values:    make(map[uuid.UUID][]CustomFieldValue, len(m.values)),
		fields:    make(map[uuid.UUID]CustomField, len(m.fields)),
	}
	for id, p := range m.patients {
		s.patients[id] = *p
	}
	for id, list := range m.addresses {
		for _, a := range list {
			s.addresses[id] = append(s.addresses[id], *a)
		}
	}
	for id, list := range m.values {
		for _, v := range list {
			s.values[id] = append(s.values[id], *v)
		}
	}
	for id, f := range m.fields {
		s.fields[id] = *f
	}
	return s
}

func (m *memStore) restore(s snapshot) {
	m.patients = make(map[uuid.UUID]*Patient, len(s.patients))
	m.addresses = make(map[uuid.UUID][]*Address, len(s.addresses))
	m.values = make(map[uuid.UUID][]*CustomFieldValue, len(s.values))
	m.fields = make(map[uuid.UUID]*CustomField, len(s.fields))
	for id, p := range s.patients {
		p := p
		m.patients[id] = &p
	}
	for id, list := range s.addresses {
		for i := range list {
			a := list[i]
			m.addresses[id] = append(m.addresses[id], &a)
		}
	}
	for id, list := range s.values {
		for i := range list {
			v := list[i]
			m.values[id] = append(m.values[id], &v)
		}
	}
	for id, f := range s.fields {
		f := f
		m.fields[id] = &f
	}
}

// mockTx restores the store snapshot when the unit of work fails.
type mockTx struct {
	store *memStore
	calls int
}

func (t *mockTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	snap := t.store.snapshot()
	if err := fn(ctx); err != nil {
		t.store.restore(snap)
		return err
	}
	return nil
}

// -- Mock Patient Repository --

type mockPatientRepo struct {
	*memStore
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	p.CreatedAt = m.tick()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient not found")
	}
	cp := *p
	return &cp, nil
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return apperr.NotFound("patient not found")
	}
	p.UpdatedAt = m.tick()
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.patients[id]; !ok {
		return apperr.NotFound("patient not found")
	}
	delete(m.patients, id)
	delete(m.addresses, id)
	delete(m.values, id)
	return nil
}

func (m *mockPatientRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error) {
	term := strings.ToLower(f.Search)
	var matched []*Patient
	for _, p := range m.patients {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if term != "" {
			names := strings.ToLower(p.FirstName + "\x00" + deref(p.MiddleName) + "\x00" + p.LastName)
			if !strings.Contains(names, term) {
				continue
			}
		}
		cp := *p
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *mockPatientRepo) CountByStatus(_ context.Context) (map[Status]int, error) {
	counts := make(map[Status]int)
	for _, p := range m.patients {
		counts[p.Status]++
	}
	return counts, nil
}

func (m *mockPatientRepo) ListAddresses(_ context.Context, patientIDs ...uuid.UUID) ([]*Address, error) {
	var out []*Address
	for _, id := range patientIDs {
		// Newest insert first among rows sharing a timestamp.
		stored := m.addresses[id]
		list := make([]*Address, 0, len(stored))
		for i := len(stored) - 1; i >= 0; i-- {
			cp := *stored[i]
			list = append(list, &cp)
		}
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].IsPrimary != list[j].IsPrimary {
				return list[i].IsPrimary
			}
			return list[i].CreatedAt.After(list[j].CreatedAt)
		})
		out = append(out, list...)
	}
	return out, nil
}

func (m *mockPatientRepo) ReplaceAddresses(_ context.Context, patientID uuid.UUID, addrs []*Address) error {
	m.addresses[patientID] = nil
	// One replace is one transaction: every row shares its timestamp.
	now := m.tick()
	for _, a := range addrs {
		a.ID = uuid.New()
		a.PatientID = patientID
		a.CreatedAt = now
		a.UpdatedAt = a.CreatedAt
		cp := *a
		m.addresses[patientID] = append(m.addresses[patientID], &cp)
	}
	return nil
}

func (m *mockPatientRepo) ListValues(_ context.Context, patientIDs ...uuid.UUID) ([]*CustomFieldValue, error) {
	var out []*CustomFieldValue
	for _, id := range patientIDs {
		out = append(out, m.joinValues(m.values[id])...)
	}
	return out, nil
}

func (m *mockPatientRepo) ReplaceValues(_ context.Context, patientID uuid.UUID, values []*CustomFieldValue) error {
	m.values[patientID] = nil
	if m.failReplaceValues != nil {
		return m.failReplaceValues
	}
	seen := make(map[uuid.UUID]bool)
	now := m.tick()
	for _, v := range values {
		if seen[v.CustomFieldID] {
			return apperr.Constraint("a patient can have only one value per custom field")
		}
		seen[v.CustomFieldID] = true
		v.ID = uuid.New()
		v.PatientID = patientID
		v.CreatedAt = now
		v.UpdatedAt = v.CreatedAt
		cp := *v
		m.values[patientID] = append(m.values[patientID], &cp)
	}
	return nil
}

// joinValues copies values with the referenced field's name and type, sorted
// by field name.
func (m *memStore) joinValues(values []*CustomFieldValue) []*CustomFieldValue {
	out := make([]*CustomFieldValue, 0, len(values))
	for _, v := range values {
		cp := *v
		if f, ok := m.fields[v.CustomFieldID]; ok {
			cp.FieldName = f.Name
			cp.FieldType = f.FieldType
		}
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FieldName < out[j].FieldName })
	return out
}

// -- Mock Custom Field Repository --

type mockFieldRepo struct {
	*memStore
}

func (m *mockFieldRepo) Create(_ context.Context, f *CustomField) error {
	f.ID = uuid.New()
	f.CreatedAt = m.tick()
	f.UpdatedAt = f.CreatedAt
	cp := *f
	m.fields[f.ID] = &cp
	return nil
}

func (m *mockFieldRepo) GetByID(_ context.Context, id uuid.UUID) (*CustomField, error) {
	f, ok := m.fields[id]
	if !ok {
		return nil, apperr.NotFound("custom field not found")
	}
	cp := *f
	return &cp, nil
}

func (m *mockFieldRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*CustomField, error) {
	var out []*CustomField
	for _, id := range ids {
		if f, ok := m.fields[id]; ok {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockFieldRepo) Update(_ context.Context, f *CustomField) error {
	if _, ok := m.fields[f.ID]; !ok {
		return apperr.NotFound("custom field not found")
	}
	f.UpdatedAt = m.tick()
	cp := *f
	m.fields[f.ID] = &cp
	return nil
}

func (m *mockFieldRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.fields[id]; !ok {
		return apperr.NotFound("custom field not found")
	}
	delete(m.fields, id)
	for pid, list := range m.values {
		kept := list[:0]
		for _, v := range list {
			if v.CustomFieldID != id {
				kept = append(kept, v)
			}
		}
		m.values[pid] = kept
	}
	return nil
}

func (m *mockFieldRepo) List(_ context.Context, f FieldFilter, limit, offset int) ([]*CustomField, int, error) {
	term := strings.ToLower(f.Search)
	var matched []*CustomField
	for _, cf := range m.fields {
		if term != "" && !strings.Contains(strings.ToLower(cf.Name), term) {
			continue
		}
		cp := *cf
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *mockFieldRepo) ListRequired(_ context.Context) ([]*CustomField, error) {
	var out []*CustomField
	for _, f := range m.fields {
		if f.IsRequired {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockFieldRepo) HasValues(_ context.Context, id uuid.UUID) (bool, error) {
	for _, list := range m.values {
		for _, v := range list {
			if v.CustomFieldID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *mockFieldRepo) ListValues(_ context.Context, fieldID uuid.UUID) ([]*CustomFieldValue, error) {
	var matched []*CustomFieldValue
	for _, list := range m.values {
		for _, v := range list {
			if v.CustomFieldID == fieldID {
				matched = append(matched, v)
			}
		}
	}
	out := m.joinValues(matched)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
