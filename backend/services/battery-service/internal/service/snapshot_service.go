package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"batterymon/backend/services/battery-service/internal/models"
	"batterymon/backend/services/battery-service/internal/repository"
)

const (
	DefaultPage    = 1
	DefaultPerPage = 10
	MaxPerPage     = 100

	dateLayout = "2006-01-02"
)

var (
	// ErrNoReading is returned by Save before any telemetry was received.
	ErrNoReading = errors.New("no telemetry data to save")
	// ErrInvalidQuery wraps list parameter validation failures.
	ErrInvalidQuery = errors.New("invalid query")
)

// SnapshotStore is the durable storage behind SnapshotService.
type SnapshotStore interface {
	Insert(ctx context.Context, specificGravity, level float64) (*models.Snapshot, error)
	List(ctx context.Context, q repository.SnapshotQuery) ([]models.Snapshot, error)
	Count(ctx context.Context, date *time.Time) (int64, error)
}

// ReadingSource exposes the current cached reading.
type ReadingSource interface {
	Snapshot() models.Reading
}

// SchemaProvisioner recreates missing schema.
type SchemaProvisioner interface {
	Ensure(ctx context.Context)
}

// SortOrder is the direction of snapshot listing.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// ParseSortOrder accepts asc/desc case-insensitively and falls back to desc.
func ParseSortOrder(raw string) SortOrder {
	if strings.EqualFold(strings.TrimSpace(raw), string(OrderAsc)) {
		return OrderAsc
	}
	return OrderDesc
}

// ListParams are the caller-supplied paging options.
type ListParams struct {
	Page    int
	PerPage int
	Order   string
	Date    string
}

// SnapshotPage is one page of saved snapshots.
type SnapshotPage struct {
	Data       []models.Snapshot `json:"data"`
	Page       int               `json:"page"`
	PerPage    int               `json:"per_page"`
	Total      int64             `json:"total"`
	TotalPages int64             `json:"total_pages"`
}

// TotalPages returns ceil(total/perPage), or 1 when perPage is not positive.
func TotalPages(total int64, perPage int) int64 {
	if perPage <= 0 {
		return 1
	}
	return (total + int64(perPage) - 1) / int64(perPage)
}

// SnapshotService saves the cached reading and pages through saved snapshots.
type SnapshotService struct {
	store   SnapshotStore
	cache   ReadingSource
	schema  SchemaProvisioner
	timeout time.Duration
	logger  *zap.Logger
}

// NewSnapshotService returns service instance.
func NewSnapshotService(store SnapshotStore, cache ReadingSource, schema SchemaProvisioner, timeout time.Duration, logger *zap.Logger) *SnapshotService {
	return &SnapshotService{
		store:   store,
		cache:   cache,
		schema:  schema,
		timeout: timeout,
		logger:  logger,
	}
}

// Save persists the current reading. A missing table is provisioned and the insert retried once.
func (s *SnapshotService) Save(ctx context.Context) (*models.Snapshot, error) {
	reading := s.cache.Snapshot()
	if !reading.HasData() {
		return nil, ErrNoReading
	}

	snapshot, err := s.insert(ctx, reading)
	if errors.Is(err, repository.ErrSchemaMissing) {
		s.logger.Warn("snapshot table missing, provisioning before retry", zap.Error(err))
		s.schema.Ensure(ctx)
		snapshot, err = s.insert(ctx, reading)
	}
	if err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	s.logger.Info("snapshot saved",
		zap.Int64("id", snapshot.ID),
		zap.Float64("sg", snapshot.SpecificGravity),
		zap.Float64("level", reading.Level),
	)
	return snapshot, nil
}

// List returns one page of snapshots. A missing table is provisioned and an empty page returned.
func (s *SnapshotService) List(ctx context.Context, params ListParams) (*SnapshotPage, error) {
	query, err := buildQuery(params)
	if err != nil {
		return nil, err
	}

	rows, total, err := s.query(ctx, query)
	if errors.Is(err, repository.ErrSchemaMissing) {
		s.logger.Warn("snapshot table missing, provisioning", zap.Error(err))
		s.schema.Ensure(ctx)
		rows, total, err = []models.Snapshot{}, 0, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	return &SnapshotPage{
		Data:       rows,
		Page:       params.Page,
		PerPage:    params.PerPage,
		Total:      total,
		TotalPages: TotalPages(total, params.PerPage),
	}, nil
}

func (s *SnapshotService) insert(ctx context.Context, reading models.Reading) (*models.Snapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.Insert(ctx, reading.SpecificGravity, reading.Level)
}

func (s *SnapshotService) query(ctx context.Context, q repository.SnapshotQuery) ([]models.Snapshot, int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.store.List(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.Count(ctx, q.Date)
	if err != nil {
		return nil, 0, err
	}
	if rows == nil {
		rows = []models.Snapshot{}
	}
	return rows, total, nil
}

func (s *SnapshotService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func buildQuery(params ListParams) (repository.SnapshotQuery, error) {
	if params.Page < 1 {
		return repository.SnapshotQuery{}, fmt.Errorf("%w: page must be >= 1", ErrInvalidQuery)
	}
	if params.PerPage < 1 || params.PerPage > MaxPerPage {
		return repository.SnapshotQuery{}, fmt.Errorf("%w: per_page must be between 1 and %d", ErrInvalidQuery, MaxPerPage)
	}

	q := repository.SnapshotQuery{
		Limit:      params.PerPage,
		Offset:     (params.Page - 1) * params.PerPage,
		Descending: ParseSortOrder(params.Order) == OrderDesc,
	}

	if date := strings.TrimSpace(params.Date); date != "" {
		day, err := time.Parse(dateLayout, date)
		if err != nil {
			return repository.SnapshotQuery{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidQuery)
		}
		q.Date = &day
	}
	return q, nil
}
