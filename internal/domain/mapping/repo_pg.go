package mapping

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates the Postgres-backed mapping repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const mappingColumns = `m.id, m.source_code_id, m.target_code_id, m.equivalence,
	m.confidence, m.mapping_source, m.validation_status,
	COALESCE(m.validator,''), m.validated_at, COALESCE(m.reasoning,''),
	m.created_at, m.updated_at`

func scanMapping(row pgx.Row) (*Mapping, error) {
	var m Mapping
	err := row.Scan(&m.ID, &m.SourceCodeID, &m.TargetCodeID, &m.Equivalence,
		&m.Confidence, &m.MappingSource, &m.ValidationStatus,
		&m.Validator, &m.ValidatedAt, &m.Reasoning, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repoPG) Upsert(ctx context.Context, p UpsertParams) (*Mapping, error) {
	// Human-validated rows keep their adjudication; only updated_at moves.
	m, err := scanMapping(r.pool.QueryRow(ctx, `
		INSERT INTO mappings
			(source_code_id, target_code_id, equivalence, confidence, mapping_source, reasoning)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_code_id, target_code_id) DO UPDATE SET
			equivalence = CASE WHEN mappings.mapping_source = 'HUMAN_VALIDATED'
				THEN mappings.equivalence ELSE EXCLUDED.equivalence END,
			confidence = CASE WHEN mappings.mapping_source = 'HUMAN_VALIDATED'
				THEN mappings.confidence ELSE EXCLUDED.confidence END,
			reasoning = CASE WHEN mappings.mapping_source = 'HUMAN_VALIDATED'
				THEN mappings.reasoning ELSE EXCLUDED.reasoning END,
			mapping_source = CASE WHEN mappings.mapping_source = 'HUMAN_VALIDATED'
				THEN mappings.mapping_source ELSE EXCLUDED.mapping_source END,
			updated_at = now()
		RETURNING `+strings.ReplaceAll(mappingColumns, "m.", "mappings."),
		p.SourceCodeID, p.TargetCodeID, p.Equivalence, p.Confidence,
		p.MappingSource, p.Reasoning))
	if err != nil {
		return nil, fmt.Errorf("upsert mapping: %w", err)
	}
	return m, nil
}

func (r *repoPG) FindBySourceCode(ctx context.Context, sourceCodeID uuid.UUID) ([]*Mapping, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+mappingColumns+`, t.code, t.title
		FROM mappings m
		JOIN target_codes t ON t.id = m.target_code_id
		WHERE m.source_code_id = $1
		ORDER BY m.created_at DESC`, sourceCodeID)
	if err != nil {
		return nil, fmt.Errorf("find mappings by source: %w", err)
	}
	defer rows.Close()
	return scanMappingListRows(rows, false)
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Mapping, int, error) {
	f.Normalize()

	where := []string{"1=1"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.System != "" {
		where = append(where, "s.system = "+arg(f.System))
	}
	if f.MinConfidence > 0 {
		where = append(where, "m.confidence >= "+arg(f.MinConfidence))
	}
	if f.Status != "" {
		where = append(where, "m.validation_status = "+arg(f.Status))
	}
	if f.Search != "" {
		p := arg("%" + f.Search + "%")
		where = append(where, fmt.Sprintf(
			"(s.term ILIKE %s OR s.english_name ILIKE %s OR s.code ILIKE %s OR t.title ILIKE %s OR t.code ILIKE %s)",
			p, p, p, p, p))
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	countSQL := `SELECT count(*) FROM mappings m
		JOIN source_codes s ON s.id = m.source_code_id
		JOIN target_codes t ON t.id = m.target_code_id
		WHERE ` + whereSQL
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count mappings: %w", err)
	}

	// SortBy is constrained to a fixed set by Normalize; safe to splice.
	listSQL := fmt.Sprintf(`
		SELECT `+mappingColumns+`, s.code, s.system, s.term, t.code, t.title
		FROM mappings m
		JOIN source_codes s ON s.id = m.source_code_id
		JOIN target_codes t ON t.id = m.target_code_id
		WHERE %s
		ORDER BY m.%s DESC, m.id ASC
		LIMIT %s OFFSET %s`,
		whereSQL, f.SortBy, arg(f.Limit), arg((f.Page-1)*f.Limit))

	rows, err := r.pool.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	list, err := scanMappingListRows(rows, true)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func scanMappingListRows(rows pgx.Rows, withSource bool) ([]*Mapping, error) {
	var out []*Mapping
	for rows.Next() {
		var m Mapping
		dest := []interface{}{
			&m.ID, &m.SourceCodeID, &m.TargetCodeID, &m.Equivalence,
			&m.Confidence, &m.MappingSource, &m.ValidationStatus,
			&m.Validator, &m.ValidatedAt, &m.Reasoning, &m.CreatedAt, &m.UpdatedAt,
		}
		if withSource {
			dest = append(dest, &m.SourceCode, &m.SourceSystem, &m.SourceTerm)
		}
		dest = append(dest, &m.TargetCode, &m.TargetTitle)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *repoPG) AggregateStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByMappingSource:    make(map[string]int),
		ByValidationStatus: make(map[string]int),
		ByEquivalence:      make(map[string]int),
	}

	err := r.pool.QueryRow(ctx,
		`SELECT count(*), COALESCE(avg(confidence), 0) FROM mappings`).
		Scan(&stats.Total, &stats.AverageConfidence)
	if err != nil {
		return nil, fmt.Errorf("mapping stats: %w", err)
	}

	for _, g := range []struct {
		column string
		into   map[string]int
	}{
		{"mapping_source", stats.ByMappingSource},
		{"validation_status", stats.ByValidationStatus},
		{"equivalence", stats.ByEquivalence},
	} {
		rows, err := r.pool.Query(ctx,
			`SELECT `+g.column+`, count(*) FROM mappings GROUP BY `+g.column)
		if err != nil {
			return nil, fmt.Errorf("mapping stats by %s: %w", g.column, err)
		}
		for rows.Next() {
			var key string
			var n int
			if err := rows.Scan(&key, &n); err != nil {
				rows.Close()
				return nil, err
			}
			g.into[key] = n
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return stats, nil
}
