package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"pharmacy/internal/domain"
)

// Key layout:
//
//	med/<id>                     JSON medicine
//	medname/<owner>\x00<name>    medicine id
//	rx/<id>                      JSON prescription
//	seq/med, seq/rx              last issued id
const (
	medPrefix     = "med/"
	medNamePrefix = "medname/"
	rxPrefix      = "rx/"
	seqMedKey     = "seq/med"
	seqRxKey      = "seq/rx"
)

// PebbleStore implements MedicineRepository on PebbleDB.
// Every write goes through an indexed batch; units of work are serialised by mu.
type PebbleStore struct {
	db *pebble.DB
	mu sync.Mutex
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	d, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

type pebbleTxKey struct{}

type pebbleReader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

func batchFrom(ctx context.Context) *pebble.Batch {
	b, _ := ctx.Value(pebbleTxKey{}).(*pebble.Batch)
	return b
}

// reader returns the ambient batch so reads observe uncommitted writes of the same unit of work.
func (p *PebbleStore) reader(ctx context.Context) pebbleReader {
	if b := batchFrom(ctx); b != nil {
		return b
	}
	return p.db
}

// write runs fn against the ambient batch, or against a fresh batch committed on success.
func (p *PebbleStore) write(ctx context.Context, fn func(b *pebble.Batch) error) error {
	if b := batchFrom(ctx); b != nil {
		return fn(b)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.db.NewIndexedBatch()
	defer b.Close()
	if err := fn(b); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func medKey(id int64) []byte { return []byte(fmt.Sprintf("%s%020d", medPrefix, id)) }
func rxKey(id int64) []byte  { return []byte(fmt.Sprintf("%s%020d", rxPrefix, id)) }
func medNameKey(owner, name string) []byte {
	return []byte(medNamePrefix + nameIndexKey(owner, name))
}

// prefixUpper is the exclusive upper bound for keys sharing prefix (prefixes end in '/').
func prefixUpper(prefix string) []byte {
	b := []byte(prefix)
	b[len(b)-1]++
	return b
}

func getRaw(r pebbleReader, key []byte) ([]byte, error) {
	v, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func getJSON(r pebbleReader, key []byte, out any) error {
	v, err := getRaw(r, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(v, out)
}

func setJSON(b *pebble.Batch, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Set(key, raw, nil)
}

func nextID(b *pebble.Batch, key string) (int64, error) {
	var cur int64
	raw, err := getRaw(b, []byte(key))
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return 0, err
	default:
		if cur, err = strconv.ParseInt(string(raw), 10, 64); err != nil {
			return 0, fmt.Errorf("corrupt sequence %s: %w", key, err)
		}
	}
	cur++
	if err := b.Set([]byte(key), []byte(strconv.FormatInt(cur, 10)), nil); err != nil {
		return 0, err
	}
	return cur, nil
}

func scanPrefix[T any](r pebbleReader, prefix string, fn func(T)) error {
	it, err := r.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpper(prefix),
	})
	if err != nil {
		return err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		var v T
		if err := json.Unmarshal(it.Value(), &v); err != nil {
			return err
		}
		fn(v)
	}
	return it.Error()
}

var _ MedicineRepository = (*PebbleStore)(nil)

func (p *PebbleStore) Create(ctx context.Context, m *domain.Medicine) error {
	return p.write(ctx, func(b *pebble.Batch) error {
		nk := medNameKey(m.OwnerID, m.Name)
		if _, err := getRaw(b, nk); err == nil {
			return ErrDuplicate
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		id, err := nextID(b, seqMedKey)
		if err != nil {
			return err
		}
		m.ID = id
		m.CreatedAt = time.Now().UTC()
		m.UpdatedAt = m.CreatedAt
		if err := setJSON(b, medKey(id), m); err != nil {
			return err
		}
		return b.Set(nk, []byte(strconv.FormatInt(id, 10)), nil)
	})
}

func (p *PebbleStore) GetByID(ctx context.Context, owner string, id int64) (*domain.Medicine, error) {
	var m domain.Medicine
	if err := getJSON(p.reader(ctx), medKey(id), &m); err != nil {
		return nil, err
	}
	if err := checkOwner(owner, m.OwnerID); err != nil {
		return nil, err
	}
	return &m, nil
}

func (p *PebbleStore) FindByName(ctx context.Context, owner, name string) (*domain.Medicine, error) {
	r := p.reader(ctx)
	raw, err := getRaw(r, medNameKey(owner, name))
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt name index: %w", err)
	}
	return p.GetByID(ctx, owner, id)
}

func (p *PebbleStore) Update(ctx context.Context, m *domain.Medicine) error {
	return p.write(ctx, func(b *pebble.Batch) error {
		var cur domain.Medicine
		if err := getJSON(b, medKey(m.ID), &cur); err != nil {
			return err
		}
		if err := checkOwner(m.OwnerID, cur.OwnerID); err != nil {
			return err
		}
		oldKey, newKey := medNameKey(cur.OwnerID, cur.Name), medNameKey(m.OwnerID, m.Name)
		if string(oldKey) != string(newKey) {
			if _, err := getRaw(b, newKey); err == nil {
				return ErrDuplicate
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
			if err := b.Delete(oldKey, nil); err != nil {
				return err
			}
			if err := b.Set(newKey, []byte(strconv.FormatInt(m.ID, 10)), nil); err != nil {
				return err
			}
		}
		m.CreatedAt = cur.CreatedAt
		m.UpdatedAt = time.Now().UTC()
		return setJSON(b, medKey(m.ID), m)
	})
}

func (p *PebbleStore) Delete(ctx context.Context, owner string, id int64) error {
	return p.write(ctx, func(b *pebble.Batch) error {
		var cur domain.Medicine
		if err := getJSON(b, medKey(id), &cur); err != nil {
			return err
		}
		if err := checkOwner(owner, cur.OwnerID); err != nil {
			return err
		}
		if err := b.Delete(medNameKey(cur.OwnerID, cur.Name), nil); err != nil {
			return err
		}
		return b.Delete(medKey(id), nil)
	})
}

func (p *PebbleStore) List(ctx context.Context, owner string, f MedicineFilter) ([]domain.Medicine, error) {
	out := make([]domain.Medicine, 0)
	err := scanPrefix(p.reader(ctx), medPrefix, func(m domain.Medicine) {
		if m.OwnerID == owner && f.match(m) {
			out = append(out, m)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (p *PebbleStore) DecrementIfSufficient(ctx context.Context, owner string, id int64, amount int64) error {
	return p.write(ctx, func(b *pebble.Batch) error {
		var m domain.Medicine
		if err := getJSON(b, medKey(id), &m); err != nil {
			return err
		}
		if err := checkOwner(owner, m.OwnerID); err != nil {
			return err
		}
		if amount <= 0 || m.Quantity < amount {
			return ErrInsufficientStock
		}
		m.Quantity -= amount
		m.UpdatedAt = time.Now().UTC()
		return setJSON(b, medKey(id), &m)
	})
}

// PebblePrescriptions implements PrescriptionRepository on the same DB.
type PebblePrescriptions struct{ store *PebbleStore }

func NewPebblePrescriptions(store *PebbleStore) *PebblePrescriptions {
	return &PebblePrescriptions{store: store}
}

var _ PrescriptionRepository = (*PebblePrescriptions)(nil)

func (pp *PebblePrescriptions) Create(ctx context.Context, p *domain.Prescription) error {
	return pp.store.write(ctx, func(b *pebble.Batch) error {
		id, err := nextID(b, seqRxKey)
		if err != nil {
			return err
		}
		p.ID = id
		p.CreatedAt = time.Now().UTC()
		p.UpdatedAt = p.CreatedAt
		return setJSON(b, rxKey(id), p)
	})
}

func (pp *PebblePrescriptions) GetByID(ctx context.Context, owner string, id int64) (*domain.Prescription, error) {
	var p domain.Prescription
	if err := getJSON(pp.store.reader(ctx), rxKey(id), &p); err != nil {
		return nil, err
	}
	if err := checkOwner(owner, p.OwnerID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (pp *PebblePrescriptions) Update(ctx context.Context, p *domain.Prescription) error {
	return pp.store.write(ctx, func(b *pebble.Batch) error {
		var cur domain.Prescription
		if err := getJSON(b, rxKey(p.ID), &cur); err != nil {
			return err
		}
		if err := checkOwner(p.OwnerID, cur.OwnerID); err != nil {
			return err
		}
		p.CreatedAt = cur.CreatedAt
		p.UpdatedAt = time.Now().UTC()
		return setJSON(b, rxKey(p.ID), p)
	})
}

func (pp *PebblePrescriptions) List(ctx context.Context, owner string, f PrescriptionFilter) ([]domain.Prescription, error) {
	out := make([]domain.Prescription, 0)
	err := scanPrefix(pp.store.reader(ctx), rxPrefix, func(p domain.Prescription) {
		if p.OwnerID != owner {
			return
		}
		if f.Status != "" && p.Status != f.Status {
			return
		}
		out = append(out, p)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// PebbleTx commits the unit of work as one synced batch; on error the batch is discarded.
type PebbleTx struct{ store *PebbleStore }

func NewPebbleTx(store *PebbleStore) *PebbleTx { return &PebbleTx{store: store} }

func (tx *PebbleTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if batchFrom(ctx) != nil {
		return fn(ctx)
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	b := tx.store.db.NewIndexedBatch()
	defer b.Close()
	if err := fn(context.WithValue(ctx, pebbleTxKey{}, b)); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}
