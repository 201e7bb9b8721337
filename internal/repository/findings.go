package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stellarwatch/kestrel/internal/domain"
)

// CreateAlert stores an alert and returns its generated ID.
func (s *Store) CreateAlert(ctx context.Context, alert *domain.Alert) (string, error) {
	if alert.AlertType == "" {
		return "", fmt.Errorf("%w: alert_type is required", ErrInvalidInput)
	}
	if alert.DedupKey == "" {
		return "", fmt.Errorf("%w: dedup_key is required", ErrInvalidInput)
	}

	id := uuid.New().String()
	createdAt := alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	payload, _ := json.Marshal(alert.Payload)

	query := `
		INSERT INTO alerts (id, account, asset, alert_type, severity, dedup_key, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		id, alert.Account, alert.Asset, alert.AlertType,
		string(alert.Severity), alert.DedupKey, string(payload), createdAt,
	)
	if err != nil {
		return "", err
	}

	alert.CreatedAt = createdAt
	return id, nil
}

// CreateFlag stores a flag and returns its generated ID.
func (s *Store) CreateFlag(ctx context.Context, flag *domain.Flag) (string, error) {
	if flag.Account == "" {
		return "", fmt.Errorf("%w: account is required", ErrInvalidInput)
	}
	if flag.FlagType == "" {
		return "", fmt.Errorf("%w: flag_type is required", ErrInvalidInput)
	}
	if flag.DedupKey == "" {
		return "", fmt.Errorf("%w: dedup_key is required", ErrInvalidInput)
	}

	id := uuid.New().String()
	createdAt := flag.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	evidence, _ := json.Marshal(flag.Evidence)

	query := `
		INSERT INTO flags (id, account, flag_type, severity, reason, dedup_key, evidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		id, flag.Account, flag.FlagType,
		string(flag.Severity), flag.Reason, flag.DedupKey, string(evidence), createdAt,
	)
	if err != nil {
		return "", err
	}

	flag.CreatedAt = createdAt
	return id, nil
}

// ApplyRiskDelta raises the account's risk score by delta, capped at 100.
func (s *Store) ApplyRiskDelta(ctx context.Context, account string, delta float64) error {
	if account == "" {
		return fmt.Errorf("%w: account is required", ErrInvalidInput)
	}
	if delta <= 0 {
		return nil
	}

	query := `
		UPDATE accounts
		SET risk_score = CASE WHEN risk_score + ? > 100 THEN 100 ELSE risk_score + ? END
		WHERE address = ?
	`

	result, err := s.db.ExecContext(ctx, s.rebind(query), delta, delta, account)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// HasRecentAlert reports whether an alert with the dedup key was created at
// or after since.
func (s *Store) HasRecentAlert(ctx context.Context, dedupKey string, since time.Time) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM alerts WHERE dedup_key = ? AND created_at >= ?)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, s.rebind(query), dedupKey, since).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// HasRecentFlag reports whether a flag with the dedup key was created at or
// after since.
func (s *Store) HasRecentFlag(ctx context.Context, dedupKey string, since time.Time) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM flags WHERE dedup_key = ? AND created_at >= ?)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, s.rebind(query), dedupKey, since).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ListAlerts retrieves alerts newest first, optionally filtered by alert type.
func (s *Store) ListAlerts(ctx context.Context, alertType string, limit int) ([]*domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, account, asset, alert_type, severity, dedup_key, payload, created_at, acknowledged_at
		FROM alerts
	`
	args := []any{}
	if alertType != "" {
		query += ` WHERE alert_type = ?`
		args = append(args, alertType)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		var severity, payload string
		var acked sql.NullTime
		if err := rows.Scan(
			&a.ID, &a.Account, &a.Asset, &a.AlertType,
			&severity, &a.DedupKey, &payload, &a.CreatedAt, &acked,
		); err != nil {
			return nil, err
		}
		a.Severity = domain.Severity(severity)
		if payload != "" {
			json.Unmarshal([]byte(payload), &a.Payload)
		}
		if acked.Valid {
			a.AcknowledgedAt = &acked.Time
		}
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}

// AcknowledgeAlert marks an alert acknowledged. Acknowledging an already
// acknowledged alert is a no-op.
func (s *Store) AcknowledgeAlert(ctx context.Context, id string) error {
	query := `UPDATE alerts SET acknowledged_at = ? WHERE id = ? AND acknowledged_at IS NULL`

	result, err := s.db.ExecContext(ctx, s.rebind(query), time.Now().UTC(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		check := `SELECT EXISTS(SELECT 1 FROM alerts WHERE id = ?)`
		if err := s.db.QueryRowContext(ctx, s.rebind(check), id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}

	return nil
}

// ListFlags retrieves flags newest first, optionally filtered by account.
func (s *Store) ListFlags(ctx context.Context, account string, limit int) ([]*domain.Flag, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, account, flag_type, severity, reason, dedup_key, evidence, created_at, resolved_at
		FROM flags
	`
	args := []any{}
	if account != "" {
		query += ` WHERE account = ?`
		args = append(args, account)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []*domain.Flag
	for rows.Next() {
		var f domain.Flag
		var severity, evidence string
		var reason sql.NullString
		var resolved sql.NullTime
		if err := rows.Scan(
			&f.ID, &f.Account, &f.FlagType,
			&severity, &reason, &f.DedupKey, &evidence, &f.CreatedAt, &resolved,
		); err != nil {
			return nil, err
		}
		f.Severity = domain.Severity(severity)
		f.Reason = reason.String
		if evidence != "" {
			json.Unmarshal([]byte(evidence), &f.Evidence)
		}
		if resolved.Valid {
			f.ResolvedAt = &resolved.Time
		}
		flags = append(flags, &f)
	}

	return flags, rows.Err()
}

// ResolveFlag marks a flag resolved. Resolving an already resolved flag is a
// no-op.
func (s *Store) ResolveFlag(ctx context.Context, id string) error {
	query := `UPDATE flags SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`

	result, err := s.db.ExecContext(ctx, s.rebind(query), time.Now().UTC(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		check := `SELECT EXISTS(SELECT 1 FROM flags WHERE id = ?)`
		if err := s.db.QueryRowContext(ctx, s.rebind(check), id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}

	return nil
}

var (
	_ domain.DataPort = (*Store)(nil)
	_ domain.SinkPort = (*Store)(nil)
)
