package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stratoshift/orchestrator/internal/model"
	"go.uber.org/zap"
)

// PostgresFlowStore implements FlowStore for PostgreSQL. PersistenceData
// travels as the serializer's state blob; only the orchestrator decodes
// it.
type PostgresFlowStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresFlowStore creates a new PostgreSQL flow store
func NewPostgresFlowStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresFlowStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresFlowStore{pool: pool, logger: logger}, nil
}

// Create stores a new flow record
func (s *PostgresFlowStore) Create(ctx context.Context, flow *model.Flow) error {
	configuration, durations, err := encodeFlowDocs(flow)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO flows (
			id, flow_type, name, status, current_phase,
			configuration, state_blob, phase_durations,
			tenant_id, user_id, pause_reason, last_error,
			version, created_at, updated_at, deleted_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = s.pool.Exec(ctx, query,
		flow.ID,
		flow.FlowType,
		flow.Name,
		string(flow.Status),
		nullable(flow.CurrentPhase),
		configuration,
		flow.StateBlob,
		durations,
		flow.TenantID,
		nullable(flow.UserID),
		nullable(flow.PauseReason),
		nullable(flow.LastError),
		flow.Version,
		flow.CreatedAt,
		flow.UpdatedAt,
		flow.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create flow: %w", err)
	}
	return nil
}

// Get retrieves a flow record by id
func (s *PostgresFlowStore) Get(ctx context.Context, flowID string) (*model.Flow, error) {
	query := `
		SELECT id, flow_type, name, status, current_phase,
		       configuration, state_blob, phase_durations,
		       tenant_id, user_id, pause_reason, last_error,
		       version, created_at, updated_at, deleted_at
		FROM flows
		WHERE id = $1
	`
	flow, err := scanFlow(s.pool.QueryRow(ctx, query, flowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}
	return flow, nil
}

// Update persists the flow with optimistic version checking
func (s *PostgresFlowStore) Update(ctx context.Context, flow *model.Flow) error {
	configuration, durations, err := encodeFlowDocs(flow)
	if err != nil {
		return err
	}

	now := time.Now()
	query := `
		UPDATE flows
		SET status = $2, current_phase = $3, configuration = $4,
		    state_blob = $5, phase_durations = $6, pause_reason = $7,
		    last_error = $8, version = $9, updated_at = $10, deleted_at = $11
		WHERE id = $1 AND version = $12
	`

	result, err := s.pool.Exec(ctx, query,
		flow.ID,
		string(flow.Status),
		nullable(flow.CurrentPhase),
		configuration,
		flow.StateBlob,
		durations,
		nullable(flow.PauseReason),
		nullable(flow.LastError),
		flow.Version+1,
		now,
		flow.DeletedAt,
		flow.Version, // Optimistic locking
	)
	if err != nil {
		return fmt.Errorf("failed to update flow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	flow.Version++
	flow.UpdatedAt = now
	return nil
}

// UpdateStatus updates only the status of a flow
func (s *PostgresFlowStore) UpdateStatus(ctx context.Context, flowID string, status model.FlowStatus) error {
	query := `
		UPDATE flows
		SET status = $2, version = version + 1, updated_at = $3
		WHERE id = $1
	`
	result, err := s.pool.Exec(ctx, query, flowID, string(status), time.Now())
	if err != nil {
		return fmt.Errorf("failed to update flow status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActive returns non-terminal, non-deleted flows, newest first
func (s *PostgresFlowStore) ListActive(ctx context.Context, limit int) ([]*model.Flow, error) {
	query := `
		SELECT id, flow_type, name, status, current_phase,
		       configuration, state_blob, phase_durations,
		       tenant_id, user_id, pause_reason, last_error,
		       version, created_at, updated_at, deleted_at
		FROM flows
		WHERE status IN ('created', 'running', 'paused') AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $1
	`
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list active flows: %w", err)
	}
	defer rows.Close()

	var flows []*model.Flow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}
		flows = append(flows, flow)
	}
	return flows, rows.Err()
}

// Delete removes a flow record
func (s *PostgresFlowStore) Delete(ctx context.Context, flowID string) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM flows WHERE id = $1`, flowID)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks the database connection
func (s *PostgresFlowStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresFlowStore) Close() {
	s.pool.Close()
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (*model.Flow, error) {
	var (
		flow          model.Flow
		status        string
		currentPhase  *string
		configuration []byte
		durations     []byte
		userID        *string
		pauseReason   *string
		lastError     *string
	)

	err := row.Scan(
		&flow.ID,
		&flow.FlowType,
		&flow.Name,
		&status,
		&currentPhase,
		&configuration,
		&flow.StateBlob,
		&durations,
		&flow.TenantID,
		&userID,
		&pauseReason,
		&lastError,
		&flow.Version,
		&flow.CreatedAt,
		&flow.UpdatedAt,
		&flow.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	flow.Status = model.FlowStatus(status)
	flow.CurrentPhase = deref(currentPhase)
	flow.UserID = deref(userID)
	flow.PauseReason = deref(pauseReason)
	flow.LastError = deref(lastError)

	if len(configuration) > 0 {
		if err := json.Unmarshal(configuration, &flow.Configuration); err != nil {
			return nil, fmt.Errorf("failed to decode configuration: %w", err)
		}
	}
	if len(durations) > 0 {
		if err := json.Unmarshal(durations, &flow.PhaseDurations); err != nil {
			return nil, fmt.Errorf("failed to decode phase durations: %w", err)
		}
	}
	return &flow, nil
}

func encodeFlowDocs(flow *model.Flow) (configuration, durations []byte, err error) {
	if flow.Configuration != nil {
		if configuration, err = json.Marshal(flow.Configuration); err != nil {
			return nil, nil, fmt.Errorf("failed to encode configuration: %w", err)
		}
	}
	if flow.PhaseDurations != nil {
		if durations, err = json.Marshal(flow.PhaseDurations); err != nil {
			return nil, nil, fmt.Errorf("failed to encode phase durations: %w", err)
		}
	}
	return configuration, durations, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
