package repository

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ledgerguard/backend/internal/audit/domain"
)

// encryptedPrefix marks a metadata column sealed by a Cipher.
const encryptedPrefix = "enc:v1:"

const selectColumns = `id, user_id, action, resource, ip_address, user_agent, metadata, risk_level, created_at`

// PostgresRepository stores audit events in the audit_events table.
type PostgresRepository struct {
	db     *sql.DB
	cipher Cipher
}

// NewPostgresRepository returns an audit repository backed by db.
// cipher may be nil; then metadata is stored as plain JSON.
func NewPostgresRepository(db *sql.DB, cipher Cipher) *PostgresRepository {
	return &PostgresRepository{db: db, cipher: cipher}
}

// Append inserts e. Rows are never updated (the table has an append-only trigger).
func (r *PostgresRepository) Append(ctx context.Context, e *domain.AuditEvent) error {
	meta, err := r.encodeMetadata(e.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, user_id, action, resource, ip_address, user_agent, metadata, risk_level, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.UserID, string(e.Action), e.Resource, e.IPAddress, e.UserAgent, meta, string(e.RiskLevel), e.Timestamp.UTC(),
	)
	return err
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, since time.Time, limit int) ([]*domain.AuditEvent, error) {
	q := `SELECT ` + selectColumns + ` FROM audit_events WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at DESC`
	args := []any{userID, since.UTC()}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}
	return r.query(ctx, q, args...)
}

func (r *PostgresRepository) ListWindow(ctx context.Context, userID string, since time.Time) ([]*domain.AuditEvent, error) {
	return r.query(ctx,
		`SELECT `+selectColumns+` FROM audit_events WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at ASC`,
		userID, since.UTC())
}

func (r *PostgresRepository) CountByAction(ctx context.Context, identifier string, action domain.Action, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_events
		 WHERE action = $1 AND created_at >= $2 AND (user_id = $3 OR ip_address = $3)`,
		string(action), since.UTC(), identifier,
	).Scan(&n)
	return n, err
}

func (r *PostgresRepository) ListRange(ctx context.Context, start, end time.Time, userID string) ([]*domain.AuditEvent, error) {
	if userID == "" {
		return r.query(ctx,
			`SELECT `+selectColumns+` FROM audit_events WHERE created_at BETWEEN $1 AND $2 ORDER BY created_at ASC`,
			start.UTC(), end.UTC())
	}
	return r.query(ctx,
		`SELECT `+selectColumns+` FROM audit_events WHERE user_id = $1 AND created_at BETWEEN $2 AND $3 ORDER BY created_at ASC`,
		userID, start.UTC(), end.UTC())
}

func (r *PostgresRepository) query(ctx context.Context, q string, args ...any) ([]*domain.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.AuditEvent, 0)
	for rows.Next() {
		var (
			e            domain.AuditEvent
			action, risk string
			meta         string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &action, &e.Resource, &e.IPAddress, &e.UserAgent, &meta, &risk, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Action = domain.Action(action)
		e.RiskLevel = domain.RiskLevel(risk)
		e.Timestamp = e.Timestamp.UTC()
		if e.Metadata, err = r.decodeMetadata(meta); err != nil {
			return nil, fmt.Errorf("audit event %s: %w", e.ID, err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	if r.cipher == nil {
		return string(raw), nil
	}
	sealed, err := r.cipher.Encrypt(raw)
	if err != nil {
		return "", fmt.Errorf("encrypt metadata: %w", err)
	}
	return encryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (r *PostgresRepository) decodeMetadata(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	raw := []byte(s)
	if strings.HasPrefix(s, encryptedPrefix) {
		if r.cipher == nil {
			return nil, fmt.Errorf("metadata is encrypted but no cipher is configured")
		}
		sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, encryptedPrefix))
		if err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		if raw, err = r.cipher.Decrypt(sealed); err != nil {
			return nil, fmt.Errorf("decrypt metadata: %w", err)
		}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return m, nil
}
