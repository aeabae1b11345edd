package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bastionsec/bastion/internal/database"
	"github.com/bastionsec/bastion/internal/models"
)

// SecurityEventRepository handles the long-retention security event store
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

// NewSecurityEventRepository creates a new SecurityEventRepository
func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

const securityEventColumns = `id, created_at, level, category, event_type, message,
	       subject_id, ip_address, session_id, user_agent, request_id,
	       threat_level, risk_score, compliance_tags, metadata`

// scanSecurityEventRow handles nullable fields and populates a SecurityEvent model from a database row
func scanSecurityEventRow(row rowScanner) (*models.SecurityEvent, error) {
	var event models.SecurityEvent
	var level, category string
	var threatLevel *string

	err := row.Scan(
		&event.ID, &event.Timestamp, &level, &category, &event.EventType, &event.Message,
		&event.SubjectID, &event.IPAddress, &event.SessionID, &event.UserAgent, &event.RequestID,
		&threatLevel, &event.RiskScore, &event.Compliance, &event.Metadata,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	event.Level = models.EventLevel(level)
	event.Category = models.EventCategory(category)
	if threatLevel != nil {
		tl := models.ThreatLevel(*threatLevel)
		event.ThreatLevel = &tl
	}

	return &event, nil
}

// scanSecurityEventRows iterates through rows and scans each into SecurityEvent models
func scanSecurityEventRows(rows pgx.Rows) ([]*models.SecurityEvent, error) {
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)

	for rows.Next() {
		event, err := scanSecurityEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}

	return events, nil
}

// Insert appends one event. Events are immutable; there is no update path.
func (r *SecurityEventRepository) Insert(ctx context.Context, event *models.SecurityEvent) error {
	query := `
		INSERT INTO security_events (
			id, created_at, level, category, event_type, message,
			subject_id, ip_address, session_id, user_agent, request_id,
			threat_level, risk_score, compliance_tags, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	var threatLevel *string
	if event.ThreatLevel != nil {
		tl := string(*event.ThreatLevel)
		threatLevel = &tl
	}

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.Timestamp, string(event.Level), string(event.Category), event.EventType, event.Message,
		event.SubjectID, event.IPAddress, event.SessionID, event.UserAgent, event.RequestID,
		threatLevel, event.RiskScore, event.Compliance, event.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", database.MapPostgresError(err))
	}

	return nil
}

// Query returns events matching the filter, newest first. Zero From/To
// bounds are open; the caller is responsible for clamping Limit.
func (r *SecurityEventRepository) Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	var (
		conditions []string
		args       []interface{}
	)

	addCondition := func(expr string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(expr, len(args)))
	}

	if !filter.From.IsZero() {
		addCondition("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		addCondition("created_at <= $%d", filter.To)
	}
	if filter.Level != "" {
		addCondition("level = $%d", string(filter.Level))
	}
	if filter.Category != "" {
		addCondition("category = $%d", string(filter.Category))
	}
	if filter.SubjectID != "" {
		addCondition("subject_id = $%d", filter.SubjectID)
	}
	if filter.IPAddress != "" {
		addCondition("ip_address = $%d", filter.IPAddress)
	}

	query := `SELECT ` + securityEventColumns + ` FROM security_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}

	return scanSecurityEventRows(rows)
}

// PurgeOlderThan deletes events past the retention horizon and reports how
// many were removed.
func (r *SecurityEventRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM security_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge security events: %w", database.MapPostgresError(err))
	}

	return tag.RowsAffected(), nil
}
