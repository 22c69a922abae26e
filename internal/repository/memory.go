package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"pharmacy/internal/domain"
)

// MemoryStore объединённое in-memory хранилище и простой генератор ID
type MemoryStore struct {
	mu                sync.RWMutex
	nextMedID         int64
	nextRxID          int64
	medicinesByID     map[int64]domain.Medicine
	medicineByName    map[string]int64
	prescriptionsByID map[int64]domain.Prescription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextMedID:         1,
		nextRxID:          1,
		medicinesByID:     make(map[int64]domain.Medicine),
		medicineByName:    make(map[string]int64),
		prescriptionsByID: make(map[int64]domain.Prescription),
	}
}

// transaction-aware locking helpers
type txKey struct{}

// memTx журнал отката: каждая мутация внутри транзакции кладёт сюда обратную операцию
type memTx struct {
	undo []func()
}

func txFrom(ctx context.Context) *memTx {
	t, _ := ctx.Value(txKey{}).(*memTx)
	return t
}

func (m *MemoryStore) rlock(ctx context.Context) {
	if txFrom(ctx) == nil {
		m.mu.RLock()
	}
}
func (m *MemoryStore) runlock(ctx context.Context) {
	if txFrom(ctx) == nil {
		m.mu.RUnlock()
	}
}
func (m *MemoryStore) wlock(ctx context.Context) {
	if txFrom(ctx) == nil {
		m.mu.Lock()
	}
}
func (m *MemoryStore) wunlock(ctx context.Context) {
	if txFrom(ctx) == nil {
		m.mu.Unlock()
	}
}

// remember must be called with the write lock held, before the row is touched.
func (m *MemoryStore) rememberMedicine(ctx context.Context, id int64) {
	t := txFrom(ctx)
	if t == nil {
		return
	}
	prev, existed := m.medicinesByID[id]
	t.undo = append(t.undo, func() {
		if cur, ok := m.medicinesByID[id]; ok {
			delete(m.medicineByName, nameIndexKey(cur.OwnerID, cur.Name))
		}
		if !existed {
			delete(m.medicinesByID, id)
			return
		}
		m.medicinesByID[id] = prev
		m.medicineByName[nameIndexKey(prev.OwnerID, prev.Name)] = id
	})
}

func (m *MemoryStore) rememberPrescription(ctx context.Context, id int64) {
	t := txFrom(ctx)
	if t == nil {
		return
	}
	prev, existed := m.prescriptionsByID[id]
	t.undo = append(t.undo, func() {
		if !existed {
			delete(m.prescriptionsByID, id)
			return
		}
		m.prescriptionsByID[id] = prev
	})
}

func nameIndexKey(owner, name string) string { return owner + "\x00" + domain.NameKey(name) }

// Ensure interfaces
var _ MedicineRepository = (*MemoryStore)(nil)

// MedicineRepository implementation
func (m *MemoryStore) Create(ctx context.Context, med *domain.Medicine) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	key := nameIndexKey(med.OwnerID, med.Name)
	if _, ok := m.medicineByName[key]; ok {
		return ErrDuplicate
	}
	med.ID = m.nextMedID
	m.nextMedID++
	med.CreatedAt = time.Now().UTC()
	med.UpdatedAt = med.CreatedAt
	m.rememberMedicine(ctx, med.ID)
	m.medicinesByID[med.ID] = *med
	m.medicineByName[key] = med.ID
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, owner string, id int64) (*domain.Medicine, error) {
	m.rlock(ctx)
	defer m.runlock(ctx)
	med, ok := m.medicinesByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := checkOwner(owner, med.OwnerID); err != nil {
		return nil, err
	}
	// return copy
	cp := med
	return &cp, nil
}

func (m *MemoryStore) FindByName(ctx context.Context, owner, name string) (*domain.Medicine, error) {
	m.rlock(ctx)
	defer m.runlock(ctx)
	id, ok := m.medicineByName[nameIndexKey(owner, name)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := m.medicinesByID[id]
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, med *domain.Medicine) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	cur, ok := m.medicinesByID[med.ID]
	if !ok {
		return ErrNotFound
	}
	if err := checkOwner(med.OwnerID, cur.OwnerID); err != nil {
		return err
	}
	oldKey, newKey := nameIndexKey(cur.OwnerID, cur.Name), nameIndexKey(med.OwnerID, med.Name)
	if id, taken := m.medicineByName[newKey]; taken && id != med.ID {
		return ErrDuplicate
	}
	m.rememberMedicine(ctx, med.ID)
	med.CreatedAt = cur.CreatedAt
	med.UpdatedAt = time.Now().UTC()
	delete(m.medicineByName, oldKey)
	m.medicineByName[newKey] = med.ID
	m.medicinesByID[med.ID] = *med
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, owner string, id int64) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	cur, ok := m.medicinesByID[id]
	if !ok {
		return ErrNotFound
	}
	if err := checkOwner(owner, cur.OwnerID); err != nil {
		return err
	}
	m.rememberMedicine(ctx, id)
	delete(m.medicineByName, nameIndexKey(cur.OwnerID, cur.Name))
	delete(m.medicinesByID, id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, owner string, f MedicineFilter) ([]domain.Medicine, error) {
	m.rlock(ctx)
	defer m.runlock(ctx)
	out := make([]domain.Medicine, 0)
	for _, med := range m.medicinesByID {
		if med.OwnerID != owner || !f.match(med) {
			continue
		}
		out = append(out, med)
	}
	// newest first
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryStore) DecrementIfSufficient(ctx context.Context, owner string, id int64, amount int64) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	med, ok := m.medicinesByID[id]
	if !ok {
		return ErrNotFound
	}
	if err := checkOwner(owner, med.OwnerID); err != nil {
		return err
	}
	if amount <= 0 || med.Quantity < amount {
		return ErrInsufficientStock
	}
	m.rememberMedicine(ctx, id)
	med.Quantity -= amount
	med.UpdatedAt = time.Now().UTC()
	m.medicinesByID[id] = med
	return nil
}

// PrescriptionRepository implementation on wrapper type
type MemoryPrescriptions struct{ store *MemoryStore }

func NewMemoryPrescriptions(store *MemoryStore) *MemoryPrescriptions {
	return &MemoryPrescriptions{store: store}
}

var _ PrescriptionRepository = (*MemoryPrescriptions)(nil)

func (mp *MemoryPrescriptions) Create(ctx context.Context, p *domain.Prescription) error {
	mp.store.wlock(ctx)
	defer mp.store.wunlock(ctx)
	p.ID = mp.store.nextRxID
	mp.store.nextRxID++
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	mp.store.rememberPrescription(ctx, p.ID)
	mp.store.prescriptionsByID[p.ID] = p.Clone()
	return nil
}

func (mp *MemoryPrescriptions) GetByID(ctx context.Context, owner string, id int64) (*domain.Prescription, error) {
	mp.store.rlock(ctx)
	defer mp.store.runlock(ctx)
	p, ok := mp.store.prescriptionsByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := checkOwner(owner, p.OwnerID); err != nil {
		return nil, err
	}
	cp := p.Clone()
	return &cp, nil
}

func (mp *MemoryPrescriptions) Update(ctx context.Context, p *domain.Prescription) error {
	mp.store.wlock(ctx)
	defer mp.store.wunlock(ctx)
	cur, ok := mp.store.prescriptionsByID[p.ID]
	if !ok {
		return ErrNotFound
	}
	if err := checkOwner(p.OwnerID, cur.OwnerID); err != nil {
		return err
	}
	mp.store.rememberPrescription(ctx, p.ID)
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	mp.store.prescriptionsByID[p.ID] = p.Clone()
	return nil
}

func (mp *MemoryPrescriptions) List(ctx context.Context, owner string, f PrescriptionFilter) ([]domain.Prescription, error) {
	mp.store.rlock(ctx)
	defer mp.store.runlock(ctx)
	out := make([]domain.Prescription, 0)
	for _, p := range mp.store.prescriptionsByID {
		if p.OwnerID != owner {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Tx manager using write lock to emulate transaction boundary
type MemoryTx struct{ store *MemoryStore }

func NewMemoryTx(store *MemoryStore) *MemoryTx { return &MemoryTx{store: store} }

func (tx *MemoryTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		// already inside a unit of work
		return fn(ctx)
	}
	// Держим блокировку записи всю транзакцию, репозитории внутри пропускают свои локи
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	t := &memTx{}
	committed := false
	// откат срабатывает и при ошибке, и при панике внутри fn
	defer func() {
		if !committed {
			t.rollback()
		}
	}()
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}
	committed = true
	return nil
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}
