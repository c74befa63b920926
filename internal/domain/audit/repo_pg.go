package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates the Postgres-backed audit repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const auditColumns = `id, request_id, actor, action, resource_type,
	COALESCE(resource_id,''), method, path, status_code, outcome,
	COALESCE(ip_address,''), COALESCE(user_agent,''), duration_ms, created_at`

func (r *repoPG) Insert(ctx context.Context, rec *Record) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs
			(request_id, actor, action, resource_type, resource_id,
			 method, path, status_code, outcome, ip_address, user_agent, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.RequestID, rec.Actor, rec.Action, rec.ResourceType, rec.ResourceID,
		rec.Method, rec.Path, rec.StatusCode, rec.Outcome,
		rec.IPAddress, rec.UserAgent, rec.DurationMS)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Record, int, error) {
	f.Normalize()

	where := []string{"1=1"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Actor != "" {
		where = append(where, "actor = "+arg(f.Actor))
	}
	if f.Action != "" {
		where = append(where, "action = "+arg(f.Action))
	}
	if f.ResourceType != "" {
		where = append(where, "resource_type = "+arg(f.ResourceType))
	}
	if f.Outcome != "" {
		where = append(where, "outcome = "+arg(f.Outcome))
	}
	if f.Since != nil {
		where = append(where, "created_at >= "+arg(*f.Since))
	}
	if f.Until != nil {
		where = append(where, "created_at <= "+arg(*f.Until))
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM audit_logs WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit records: %w", err)
	}

	listSQL := fmt.Sprintf(`
		SELECT `+auditColumns+`
		FROM audit_logs
		WHERE %s
		ORDER BY created_at DESC, id ASC
		LIMIT %s OFFSET %s`,
		whereSQL, arg(f.Limit), arg((f.Page-1)*f.Limit))

	rows, err := r.pool.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.Actor, &rec.Action,
			&rec.ResourceType, &rec.ResourceID, &rec.Method, &rec.Path,
			&rec.StatusCode, &rec.Outcome, &rec.IPAddress, &rec.UserAgent,
			&rec.DurationMS, &rec.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
