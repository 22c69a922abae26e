package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"pharmacy/internal/domain"
	"pharmacy/internal/events"
	"pharmacy/internal/metrics"
	"pharmacy/internal/repository"
)

const (
	tracerName        = "pharmacy/service"
	defaultMaxRetries = 3
	retryBackoff      = 10 * time.Millisecond
)

// PrescriptionService реализует логику рецептов: создание, завершение со списанием, отмена
type PrescriptionService struct {
	medicines     repository.MedicineRepository
	prescriptions repository.PrescriptionRepository
	tx            repository.TxManager

	log        *zap.Logger
	tracer     trace.Tracer
	metrics    *metrics.Registry
	publisher  events.Publisher
	maxRetries int
}

type Option func(*PrescriptionService)

func WithLogger(l *zap.Logger) Option { return func(s *PrescriptionService) { s.log = l } }

func WithTracer(t trace.Tracer) Option { return func(s *PrescriptionService) { s.tracer = t } }

func WithMetrics(m *metrics.Registry) Option { return func(s *PrescriptionService) { s.metrics = m } }

func WithPublisher(p events.Publisher) Option { return func(s *PrescriptionService) { s.publisher = p } }

// WithMaxRetries bounds how many times a completion is retried after ErrConflict.
func WithMaxRetries(n int) Option {
	return func(s *PrescriptionService) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

func NewPrescriptionService(medicines repository.MedicineRepository, prescriptions repository.PrescriptionRepository, tx repository.TxManager, opts ...Option) *PrescriptionService {
	s := &PrescriptionService{
		medicines:     medicines,
		prescriptions: prescriptions,
		tx:            tx,
		log:           zap.NewNop(),
		tracer:        otel.Tracer(tracerName),
		metrics:       metrics.NewRegistry(),
		publisher:     events.Nop{},
		maxRetries:    defaultMaxRetries,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateInput данные рецепта от врача
type CreateInput struct {
	PatientName  string
	PatientAge   int
	PatientPhone string
	DoctorName   string
	Items        []RequestedItem
	Notes        string
}

func newPrescriptionID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "RX-" + strings.ToUpper(raw[:10])
}

// Create сопоставляет позиции со складом, вычисляет статус и сумму и сохраняет рецепт.
// Остатки не резервируются.
func (s *PrescriptionService) Create(ctx context.Context, owner string, in CreateInput) (*domain.Prescription, error) {
	if owner == "" {
		return nil, invalidInput("owner is required")
	}
	if strings.TrimSpace(in.PatientName) == "" || strings.TrimSpace(in.DoctorName) == "" {
		return nil, invalidInput("patient and doctor names are required")
	}
	if in.PatientAge < 0 {
		return nil, invalidInput("patient age must be non-negative")
	}

	ctx, span := s.tracer.Start(ctx, "prescription.create", trace.WithAttributes(
		attribute.String("owner.id", owner),
		attribute.Int("prescription.items", len(in.Items)),
	))
	defer span.End()

	matched, err := Match(ctx, s.medicines, owner, in.Items)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}

	p := domain.Prescription{
		PrescriptionID: newPrescriptionID(),
		PatientName:    strings.TrimSpace(in.PatientName),
		PatientAge:     in.PatientAge,
		PatientPhone:   in.PatientPhone,
		DoctorName:     strings.TrimSpace(in.DoctorName),
		Items:          matched.Items,
		Status:         DeriveStatus(matched.Items),
		TotalAmount:    matched.Total,
		Notes:          in.Notes,
		OwnerID:        owner,
	}
	if err := s.prescriptions.Create(ctx, &p); err != nil {
		endSpan(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("prescription.id", p.ID),
		attribute.String("prescription.status", string(p.Status)),
	)
	endSpan(span, nil)
	s.metrics.PrescriptionsCreated.WithLabelValues(string(p.Status)).Inc()
	s.log.Info("prescription created",
		zap.String("owner", owner),
		zap.Int64("id", p.ID),
		zap.String("prescription_id", p.PrescriptionID),
		zap.String("status", string(p.Status)),
		zap.String("total", p.TotalAmount.String()),
	)
	s.publish(ctx, events.New(events.PrescriptionCreated, owner, strconv.FormatInt(p.ID, 10), p))
	return &p, nil
}

// GetPrescription возвращает рецепт владельца
func (s *PrescriptionService) GetPrescription(ctx context.Context, owner string, id int64) (*domain.Prescription, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	return s.prescriptions.GetByID(ctx, owner, id)
}

// ListPrescriptions рецепты владельца, новые первыми; status пустой - без фильтра
func (s *PrescriptionService) ListPrescriptions(ctx context.Context, owner, status string) ([]domain.Prescription, error) {
	var f repository.PrescriptionFilter
	if status != "" {
		st, ok := domain.ParseStatus(status)
		if !ok {
			return nil, ErrInvalidStatus
		}
		f.Status = st
	}
	return s.prescriptions.List(ctx, owner, f)
}

// deduction total demand of one prescription on one medicine
type deduction struct {
	medicine domain.Medicine
	amount   int64
}

// revalidate re-reads stock for every fulfillable item. Medicines are read in ascending id order
// so that row-locking stores always acquire locks in the same order. Demand is cumulative per
// medicine; the first item that pushes demand over current stock fails the whole completion.
func (s *PrescriptionService) revalidate(ctx context.Context, owner string, p *domain.Prescription) ([]deduction, error) {
	seen := make(map[int64]bool)
	ids := make([]int64, 0, len(p.Items))
	for _, it := range p.Items {
		if it.Fulfillable() && !seen[*it.MedicineID] {
			seen[*it.MedicineID] = true
			ids = append(ids, *it.MedicineID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	stock := make(map[int64]*domain.Medicine, len(ids))
	for _, id := range ids {
		m, err := s.medicines.GetByID(ctx, owner, id)
		if errors.Is(err, repository.ErrNotFound) {
			// removed from the catalog since matching
			continue
		}
		if err != nil {
			return nil, err
		}
		stock[id] = m
	}

	demand := make(map[int64]int64, len(ids))
	for _, it := range p.Items {
		if !it.Fulfillable() {
			// back-ordered items are never re-sourced
			continue
		}
		id := *it.MedicineID
		prior := demand[id]
		demand[id] = prior + it.Quantity
		m, ok := stock[id]
		if !ok {
			return nil, &InsufficientStockError{Item: it.MedicineName, Requested: it.Quantity}
		}
		if m.Quantity < demand[id] {
			return nil, &InsufficientStockError{Item: it.MedicineName, Requested: it.Quantity, Available: m.Quantity - prior}
		}
	}

	out := make([]deduction, 0, len(ids))
	for _, id := range ids {
		out = append(out, deduction{medicine: *stock[id], amount: demand[id]})
	}
	return out, nil
}

// Complete re-validates stock and deducts it for every item that was available at creation, then
// marks the prescription completed. All of it happens in one unit of work: on any failure neither
// stock nor status change. Lock contention (ErrConflict) is retried a bounded number of times.
func (s *PrescriptionService) Complete(ctx context.Context, owner string, id int64) (*domain.Prescription, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "prescription.complete", trace.WithAttributes(
		attribute.String("owner.id", owner),
		attribute.Int64("prescription.id", id),
	))
	defer span.End()

	var (
		done    *domain.Prescription
		applied []deduction
	)
	err := s.withRetry(ctx, func() error {
		return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
			p, err := s.prescriptions.GetByID(ctx, owner, id)
			if err != nil {
				return err
			}
			switch {
			case p.Status == domain.StatusCompleted:
				return ErrAlreadyCompleted
			case !p.Status.Open():
				return ErrInvalidTransition
			}

			plan, err := s.revalidate(ctx, owner, p)
			if err != nil {
				return err
			}
			for _, d := range plan {
				err := s.medicines.DecrementIfSufficient(ctx, owner, d.medicine.ID, d.amount)
				if errors.Is(err, repository.ErrInsufficientStock) {
					return &InsufficientStockError{Item: d.medicine.Name, Requested: d.amount, Available: d.medicine.Quantity}
				}
				if err != nil {
					return err
				}
			}

			now := time.Now().UTC()
			p.Status = domain.StatusCompleted
			p.CompletedAt = &now
			if err := s.prescriptions.Update(ctx, p); err != nil {
				return err
			}
			done, applied = p, plan
			return nil
		})
	})
	if err != nil {
		endSpan(span, err)
		s.metrics.CompletionFailures.WithLabelValues(failureReason(err)).Inc()
		s.log.Warn("prescription completion rejected",
			zap.String("owner", owner), zap.Int64("id", id), zap.Error(err))
		return nil, err
	}

	var units int64
	evs := []events.Event{events.New(events.PrescriptionCompleted, owner, strconv.FormatInt(done.ID, 10), done)}
	for _, d := range applied {
		units += d.amount
		after := d.medicine
		after.Quantity -= d.amount
		if after.LowStock() && !d.medicine.LowStock() {
			s.metrics.LowStockAlerts.Inc()
			evs = append(evs, events.New(events.MedicineLowStock, owner, strconv.FormatInt(after.ID, 10), after))
		}
	}
	span.SetAttributes(attribute.Int64("prescription.units_dispensed", units))
	endSpan(span, nil)
	s.metrics.Completions.Inc()
	s.metrics.UnitsDispensed.Add(float64(units))
	s.metrics.CompletionLatencySec.Observe(time.Since(start).Seconds())
	s.log.Info("prescription completed",
		zap.String("owner", owner),
		zap.Int64("id", done.ID),
		zap.Int("medicines", len(applied)),
		zap.Int64("units", units),
	)
	s.publish(ctx, evs...)
	return done, nil
}

// Cancel закрывает открытый рецепт. Склад не затрагивается: при создании ничего не резервировалось.
func (s *PrescriptionService) Cancel(ctx context.Context, owner string, id int64) (*domain.Prescription, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	var updated *domain.Prescription
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		p, err := s.prescriptions.GetByID(ctx, owner, id)
		if err != nil {
			return err
		}
		if !p.Status.Open() {
			return ErrInvalidTransition
		}
		p.Status = domain.StatusCancelled
		if err := s.prescriptions.Update(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Cancellations.Inc()
	s.log.Info("prescription cancelled", zap.String("owner", owner), zap.Int64("id", id))
	s.publish(ctx, events.New(events.PrescriptionCancelled, owner, strconv.FormatInt(id, 10), updated))
	return updated, nil
}

// SetStatus administrative override of an open prescription's status. It never touches stock,
// so it refuses "completed" (only Complete may dispense) and refuses to reopen terminal orders.
func (s *PrescriptionService) SetStatus(ctx context.Context, owner string, id int64, status string) (*domain.Prescription, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	target, ok := domain.ParseStatus(status)
	if !ok {
		return nil, ErrInvalidStatus
	}
	if target == domain.StatusCompleted {
		return nil, ErrInvalidTransition
	}
	var (
		updated *domain.Prescription
		from    domain.PrescriptionStatus
	)
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		p, err := s.prescriptions.GetByID(ctx, owner, id)
		if err != nil {
			return err
		}
		if !p.Status.Open() {
			return ErrInvalidTransition
		}
		from = p.Status
		p.Status = target
		if err := s.prescriptions.Update(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.StatusOverrides.Inc()
	s.log.Info("prescription status overridden",
		zap.String("owner", owner), zap.Int64("id", id),
		zap.String("from", string(from)), zap.String("to", string(target)))
	s.publish(ctx, events.New(events.PrescriptionStatusOverridden, owner, strconv.FormatInt(id, 10), map[string]any{
		"from": from, "to": target,
	}))
	return updated, nil
}

func (s *PrescriptionService) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			s.metrics.CompletionRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}
		err = op()
		if !errors.Is(err, repository.ErrConflict) {
			return err
		}
	}
	return err
}

// publish runs after commit; a broker failure is logged, the committed state stands.
func (s *PrescriptionService) publish(ctx context.Context, evs ...events.Event) {
	if err := s.publisher.Publish(ctx, evs...); err != nil {
		s.log.Error("publish events", zap.Int("count", len(evs)), zap.Error(err))
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyCompleted):
		return "already_completed"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, repository.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, repository.ErrConflict):
		return "conflict"
	case errors.Is(err, repository.ErrNotFound):
		return "not_found"
	case errors.Is(err, repository.ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
