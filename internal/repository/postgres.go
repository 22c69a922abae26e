package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"pharmacy/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS medicines (
	id            BIGSERIAL PRIMARY KEY,
	owner_id      TEXT        NOT NULL,
	name          TEXT        NOT NULL,
	generic_name  TEXT        NOT NULL DEFAULT '',
	category      TEXT        NOT NULL,
	manufacturer  TEXT        NOT NULL DEFAULT '',
	batch_number  TEXT        NOT NULL DEFAULT '',
	expiry_date   TIMESTAMPTZ,
	quantity      BIGINT      NOT NULL CHECK (quantity >= 0),
	reorder_level BIGINT      NOT NULL DEFAULT 10 CHECK (reorder_level >= 0),
	price         NUMERIC     NOT NULL CHECK (price >= 0),
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS medicines_owner_name_idx ON medicines (owner_id, lower(name));

CREATE TABLE IF NOT EXISTS prescriptions (
	id              BIGSERIAL PRIMARY KEY,
	prescription_id TEXT        NOT NULL UNIQUE,
	owner_id        TEXT        NOT NULL,
	patient_name    TEXT        NOT NULL,
	patient_age     INT         NOT NULL,
	patient_phone   TEXT        NOT NULL DEFAULT '',
	doctor_name     TEXT        NOT NULL,
	items           JSONB       NOT NULL,
	status          TEXT        NOT NULL,
	total_amount    NUMERIC     NOT NULL,
	notes           TEXT        NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	completed_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS prescriptions_owner_created_idx ON prescriptions (owner_id, created_at DESC);
`

// OpenPostgres opens the pool and applies the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

type pgTxKey struct{}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func pgTxFrom(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(pgTxKey{}).(*sql.Tx)
	return tx
}

func conn(ctx context.Context, db *sql.DB) querier {
	if tx := pgTxFrom(ctx); tx != nil {
		return tx
	}
	return db
}

// forUpdate locks rows read inside a unit of work until commit or rollback.
func forUpdate(ctx context.Context) string {
	if pgTxFrom(ctx) != nil {
		return " FOR UPDATE"
	}
	return ""
}

// mapPgErr translates driver errors into repository sentinels.
func mapPgErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return ErrDuplicate
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", ErrConflict, pqErr.Message)
		}
	}
	return err
}

const medicineColumns = `id, owner_id, name, generic_name, category, manufacturer, batch_number,
	expiry_date, quantity, reorder_level, price, created_at, updated_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanMedicine(r rowScanner) (*domain.Medicine, error) {
	var (
		m      domain.Medicine
		cat    string
		expiry sql.NullTime
	)
	err := r.Scan(&m.ID, &m.OwnerID, &m.Name, &m.GenericName, &cat, &m.Manufacturer, &m.BatchNumber,
		&expiry, &m.Quantity, &m.ReorderLevel, &m.Price, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Category = domain.Category(cat)
	if expiry.Valid {
		t := expiry.Time
		m.ExpiryDate = &t
	}
	return &m, nil
}

// PostgresStore implements MedicineRepository over database/sql with lib/pq.
type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

var _ MedicineRepository = (*PostgresStore)(nil)

func (s *PostgresStore) Create(ctx context.Context, m *domain.Medicine) error {
	now := time.Now().UTC()
	err := conn(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO medicines (owner_id, name, generic_name, category, manufacturer, batch_number,
			expiry_date, quantity, reorder_level, price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING id`,
		m.OwnerID, m.Name, m.GenericName, string(m.Category), m.Manufacturer, m.BatchNumber,
		m.ExpiryDate, m.Quantity, m.ReorderLevel, m.Price, now,
	).Scan(&m.ID)
	if err != nil {
		return mapPgErr(err)
	}
	m.CreatedAt, m.UpdatedAt = now, now
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, owner string, id int64) (*domain.Medicine, error) {
	row := conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+medicineColumns+` FROM medicines WHERE id = $1`+forUpdate(ctx), id)
	m, err := scanMedicine(row)
	if err != nil {
		return nil, mapPgErr(err)
	}
	if err := checkOwner(owner, m.OwnerID); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) FindByName(ctx context.Context, owner, name string) (*domain.Medicine, error) {
	row := conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+medicineColumns+` FROM medicines WHERE owner_id = $1 AND lower(name) = $2`,
		owner, domain.NameKey(name))
	m, err := scanMedicine(row)
	if err != nil {
		return nil, mapPgErr(err)
	}
	return m, nil
}

func (s *PostgresStore) Update(ctx context.Context, m *domain.Medicine) error {
	if _, err := s.GetByID(ctx, m.OwnerID, m.ID); err != nil {
		return err
	}
	now := time.Now().UTC()
	err := conn(ctx, s.db).QueryRowContext(ctx, `
		UPDATE medicines SET name = $3, generic_name = $4, category = $5, manufacturer = $6,
			batch_number = $7, expiry_date = $8, quantity = $9, reorder_level = $10, price = $11,
			updated_at = $12
		WHERE id = $1 AND owner_id = $2
		RETURNING created_at`,
		m.ID, m.OwnerID, m.Name, m.GenericName, string(m.Category), m.Manufacturer, m.BatchNumber,
		m.ExpiryDate, m.Quantity, m.ReorderLevel, m.Price, now,
	).Scan(&m.CreatedAt)
	if err != nil {
		return mapPgErr(err)
	}
	m.UpdatedAt = now
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, owner string, id int64) error {
	if _, err := s.GetByID(ctx, owner, id); err != nil {
		return err
	}
	_, err := conn(ctx, s.db).ExecContext(ctx, `DELETE FROM medicines WHERE id = $1 AND owner_id = $2`, id, owner)
	return mapPgErr(err)
}

func (s *PostgresStore) List(ctx context.Context, owner string, f MedicineFilter) ([]domain.Medicine, error) {
	query := `SELECT ` + medicineColumns + ` FROM medicines WHERE owner_id = $1`
	args := []any{owner}
	if f.NameSubstring != "" {
		args = append(args, "%"+f.NameSubstring+"%")
		query += fmt.Sprintf(" AND name ILIKE $%d", len(args))
	}
	if f.Category != "" {
		args = append(args, string(f.Category))
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if f.LowStockOnly {
		query += " AND quantity <= reorder_level"
	}
	query += " ORDER BY id DESC"

	rows, err := conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()
	out := make([]domain.Medicine, 0)
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DecrementIfSufficient(ctx context.Context, owner string, id int64, amount int64) error {
	if amount <= 0 {
		return ErrInsufficientStock
	}
	res, err := conn(ctx, s.db).ExecContext(ctx, `
		UPDATE medicines SET quantity = quantity - $1, updated_at = $4
		WHERE id = $2 AND owner_id = $3 AND quantity >= $1`,
		amount, id, owner, time.Now().UTC())
	if err != nil {
		return mapPgErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	// classify: missing row, foreign owner, or short stock
	if _, err := s.GetByID(ctx, owner, id); err != nil {
		return err
	}
	return ErrInsufficientStock
}

// PostgresPrescriptions implements PrescriptionRepository; items live in a JSONB column.
type PostgresPrescriptions struct{ db *sql.DB }

func NewPostgresPrescriptions(db *sql.DB) *PostgresPrescriptions {
	return &PostgresPrescriptions{db: db}
}

var _ PrescriptionRepository = (*PostgresPrescriptions)(nil)

const prescriptionColumns = `id, prescription_id, owner_id, patient_name, patient_age, patient_phone,
	doctor_name, items, status, total_amount, notes, created_at, updated_at, completed_at`

func scanPrescription(r rowScanner) (*domain.Prescription, error) {
	var (
		p         domain.Prescription
		items     []byte
		status    string
		completed sql.NullTime
	)
	err := r.Scan(&p.ID, &p.PrescriptionID, &p.OwnerID, &p.PatientName, &p.PatientAge, &p.PatientPhone,
		&p.DoctorName, &items, &status, &p.TotalAmount, &p.Notes, &p.CreatedAt, &p.UpdatedAt, &completed)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &p.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	p.Status = domain.PrescriptionStatus(status)
	if completed.Valid {
		t := completed.Time
		p.CompletedAt = &t
	}
	return &p, nil
}

func (s *PostgresPrescriptions) Create(ctx context.Context, p *domain.Prescription) error {
	items, err := json.Marshal(p.Items)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	err = conn(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO prescriptions (prescription_id, owner_id, patient_name, patient_age, patient_phone,
			doctor_name, items, status, total_amount, notes, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11, $12)
		RETURNING id`,
		p.PrescriptionID, p.OwnerID, p.PatientName, p.PatientAge, p.PatientPhone, p.DoctorName,
		items, string(p.Status), p.TotalAmount, p.Notes, now, p.CompletedAt,
	).Scan(&p.ID)
	if err != nil {
		return mapPgErr(err)
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

func (s *PostgresPrescriptions) GetByID(ctx context.Context, owner string, id int64) (*domain.Prescription, error) {
	row := conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+prescriptionColumns+` FROM prescriptions WHERE id = $1`+forUpdate(ctx), id)
	p, err := scanPrescription(row)
	if err != nil {
		return nil, mapPgErr(err)
	}
	if err := checkOwner(owner, p.OwnerID); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresPrescriptions) Update(ctx context.Context, p *domain.Prescription) error {
	items, err := json.Marshal(p.Items)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	err = conn(ctx, s.db).QueryRowContext(ctx, `
		UPDATE prescriptions SET patient_name = $3, patient_age = $4, patient_phone = $5,
			doctor_name = $6, items = $7, status = $8, total_amount = $9, notes = $10,
			updated_at = $11, completed_at = $12
		WHERE id = $1 AND owner_id = $2
		RETURNING created_at`,
		p.ID, p.OwnerID, p.PatientName, p.PatientAge, p.PatientPhone, p.DoctorName,
		items, string(p.Status), p.TotalAmount, p.Notes, now, p.CompletedAt,
	).Scan(&p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// distinguish missing from foreign
		if _, gerr := s.GetByID(ctx, p.OwnerID, p.ID); gerr != nil {
			return gerr
		}
	}
	if err != nil {
		return mapPgErr(err)
	}
	p.UpdatedAt = now
	return nil
}

func (s *PostgresPrescriptions) List(ctx context.Context, owner string, f PrescriptionFilter) ([]domain.Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE owner_id = $1`
	args := []any{owner}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += " AND status = $2"
	}
	query += " ORDER BY created_at DESC, id DESC"
	rows, err := conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()
	out := make([]domain.Prescription, 0)
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// PostgresTx runs the unit of work in one database transaction.
type PostgresTx struct{ db *sql.DB }

func NewPostgresTx(db *sql.DB) *PostgresTx { return &PostgresTx{db: db} }

func (t *PostgresTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if pgTxFrom(ctx) != nil {
		return fn(ctx)
	}
	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapPgErr(fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()
	if err := fn(context.WithValue(ctx, pgTxKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapPgErr(err)
	}
	return nil
}
