// Package ledger owns every mutation of warehouse stock and allocations.
// Each operation runs as one store transaction scoped to a material.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iacob98/cometa-warehouse/internal/domain/errs"
	"github.com/Iacob98/cometa-warehouse/internal/domain/materials"
	"github.com/Iacob98/cometa-warehouse/internal/domain/stock"
	"github.com/Iacob98/cometa-warehouse/internal/store"
)

type MaterialCatalog interface {
	// GetByID returns (nil, nil) when the material does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*materials.Material, error)
}

type ConsumerDirectory interface {
	ProjectExists(ctx context.Context, id uuid.UUID) (bool, error)
	CrewExists(ctx context.Context, id uuid.UUID) (bool, error)
}

type LowStockAlert struct {
	Material materials.Material
	Stock    stock.Stock
}

// LowStockNotifier is called after commit when a material crosses its
// reorder threshold. Failures are logged and never affect the operation.
type LowStockNotifier interface {
	NotifyLowStock(ctx context.Context, alert LowStockAlert) error
}

// Hooks receives operational signals. See infra/metrics.
type Hooks interface {
	ObserveOperation(op, outcome string, took time.Duration)
	IncRetry(op string)
	IncReleaseClamped(materialID uuid.UUID)
	ObserveStock(s stock.Stock)
}

type nopHooks struct{}

func (nopHooks) ObserveOperation(string, string, time.Duration) {}
func (nopHooks) IncRetry(string)                                {}
func (nopHooks) IncReleaseClamped(uuid.UUID)                    {}
func (nopHooks) ObserveStock(stock.Stock)                       {}

type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
}

const (
	defaultAttempts  = 3
	defaultBaseDelay = 50 * time.Millisecond
)

type Deps struct {
	Store     store.Store
	Materials MaterialCatalog
	Consumers ConsumerDirectory
	Log       *slog.Logger
	Hooks     Hooks
	Notifier  LowStockNotifier
	Retry     RetryConfig
	Now       func() time.Time
}

type Service struct {
	store     store.Store
	materials MaterialCatalog
	consumers ConsumerDirectory
	log       *slog.Logger
	hooks     Hooks
	notifier  LowStockNotifier
	retry     RetryConfig
	now       func() time.Time
	tracer    trace.Tracer
}

func New(d Deps) *Service {
	s := &Service{
		store:     d.Store,
		materials: d.Materials,
		consumers: d.Consumers,
		log:       d.Log,
		hooks:     d.Hooks,
		notifier:  d.Notifier,
		retry:     d.Retry,
		now:       d.Now,
		tracer:    otel.Tracer("github.com/Iacob98/cometa-warehouse/internal/ledger"),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.hooks == nil {
		s.hooks = nopHooks{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.retry.Attempts <= 0 {
		s.retry.Attempts = defaultAttempts
	}
	if s.retry.BaseDelay <= 0 {
		s.retry.BaseDelay = defaultBaseDelay
	}
	return s
}

func (s *Service) requireMaterial(ctx context.Context, op string, id uuid.UUID) (*materials.Material, error) {
	if id == uuid.Nil {
		return nil, errs.Validation(op, "material_id is required")
	}
	m, err := s.materials.GetByID(ctx, id)
	if err != nil {
		return nil, s.classify(op, store.Transient(err))
	}
	if m == nil {
		return nil, errs.MaterialNotFound(op, id)
	}
	return m, nil
}

func (s *Service) requireProject(ctx context.Context, op string, id uuid.UUID) error {
	ok, err := s.consumers.ProjectExists(ctx, id)
	if err != nil {
		return s.classify(op, store.Transient(err))
	}
	if !ok {
		return errs.ConsumerNotFound(op, "project", id)
	}
	return nil
}

func (s *Service) requireCrew(ctx context.Context, op string, id uuid.UUID) error {
	ok, err := s.consumers.CrewExists(ctx, id)
	if err != nil {
		return s.classify(op, store.Transient(err))
	}
	if !ok {
		return errs.ConsumerNotFound(op, "crew", id)
	}
	return nil
}
