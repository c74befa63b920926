package terminology

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const sourceColumns = `id, code, system, term, COALESCE(term_normalized,''),
	COALESCE(native_script,''), COALESCE(english_name,''),
	COALESCE(short_definition,''), COALESCE(long_definition,''),
	COALESCE(searchable_text,''), embedding, created_at, updated_at`

const targetColumns = `id, code, title, COALESCE(definition,''),
	COALESCE(category,''), COALESCE(parent_code,''), synonyms, inclusions,
	exclusions, traditional_systems, embedding, created_at, updated_at`

func scanSource(row pgx.Row) (*SourceCode, error) {
	var s SourceCode
	err := row.Scan(&s.ID, &s.Code, &s.System, &s.Term, &s.TermNormalized,
		&s.NativeScript, &s.EnglishName, &s.ShortDefinition, &s.LongDefinition,
		&s.SearchableText, &s.Embedding, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanTarget(row pgx.Row) (*TargetCode, error) {
	var t TargetCode
	err := row.Scan(&t.ID, &t.Code, &t.Title, &t.Definition, &t.Category,
		&t.ParentCode, &t.Synonyms, &t.Inclusions, &t.Exclusions,
		&t.TraditionalSystems, &t.Embedding, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// =========== Source codes ===========

type sourceRepoPG struct{ pool *pgxpool.Pool }

// NewSourceRepoPG creates the Postgres-backed source catalog repository.
func NewSourceRepoPG(pool *pgxpool.Pool) SourceRepository { return &sourceRepoPG{pool: pool} }

func (r *sourceRepoPG) FindByCode(ctx context.Context, code string, system System) (*SourceCode, error) {
	s, err := scanSource(r.pool.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM source_codes WHERE code = $1 AND system = $2`,
		code, system))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find source code: %w", err)
	}
	return s, nil
}

func (r *sourceRepoPG) Autocomplete(ctx context.Context, q string, system System, limit int) ([]*SourceCode, error) {
	pattern := "%" + q + "%"
	sql := `SELECT ` + sourceColumns + ` FROM source_codes
		WHERE (term ILIKE $1 OR english_name ILIKE $1 OR searchable_text ILIKE $1 OR code ILIKE $1)`
	args := []interface{}{pattern}
	if system != "" {
		sql += ` AND system = $2`
		args = append(args, system)
	}
	sql += fmt.Sprintf(` ORDER BY term, code LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("source autocomplete: %w", err)
	}
	defer rows.Close()

	var out []*SourceCode
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *sourceRepoPG) Expand(ctx context.Context, filter string, count, offset int) ([]*SourceCode, int, error) {
	where := ""
	args := []interface{}{}
	if filter != "" {
		where = ` WHERE term ILIKE $1 OR english_name ILIKE $1 OR searchable_text ILIKE $1`
		args = append(args, "%"+filter+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM source_codes`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("expand count: %w", err)
	}

	sql := fmt.Sprintf(`SELECT `+sourceColumns+` FROM source_codes`+where+
		` ORDER BY system, code LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, count, offset)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("expand: %w", err)
	}
	defer rows.Close()

	var out []*SourceCode
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *sourceRepoPG) EmbeddingCoverage(ctx context.Context) (*Coverage, error) {
	return embeddingCoverage(ctx, r.pool, "source", "source_codes")
}

func (r *sourceRepoPG) ListMissingEmbeddings(ctx context.Context, limit int) ([]*SourceCode, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM source_codes WHERE embedding IS NULL ORDER BY system, code LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("list missing source embeddings: %w", err)
	}
	defer rows.Close()

	var out []*SourceCode
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *sourceRepoPG) SetEmbedding(ctx context.Context, id uuid.UUID, vec pgvector.Vector) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE source_codes SET embedding = $1, updated_at = now() WHERE id = $2`, vec, id)
	if err != nil {
		return fmt.Errorf("set source embedding: %w", err)
	}
	return nil
}

// =========== Target codes ===========

type targetRepoPG struct{ pool *pgxpool.Pool }

// NewTargetRepoPG creates the Postgres-backed ICD-11 TM2 repository.
func NewTargetRepoPG(pool *pgxpool.Pool) TargetRepository { return &targetRepoPG{pool: pool} }

func (r *targetRepoPG) FindByCode(ctx context.Context, code string) (*TargetCode, error) {
	t, err := scanTarget(r.pool.QueryRow(ctx,
		`SELECT `+targetColumns+` FROM target_codes WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find target code: %w", err)
	}
	return t, nil
}

func (r *targetRepoPG) Autocomplete(ctx context.Context, q string, limit int) ([]*TargetCode, error) {
	pattern := "%" + q + "%"
	rows, err := r.pool.Query(ctx,
		`SELECT `+targetColumns+` FROM target_codes
		 WHERE title ILIKE $1 OR code ILIKE $1
		 ORDER BY title, code LIMIT $2`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("target autocomplete: %w", err)
	}
	defer rows.Close()

	var out []*TargetCode
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *targetRepoPG) SearchFullText(ctx context.Context, query string, k int) ([]*ScoredTarget, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+targetColumns+`,
		        ts_rank(to_tsvector('english', title || ' ' || COALESCE(definition,'')),
		                plainto_tsquery('english', $1)) AS score
		 FROM target_codes
		 WHERE to_tsvector('english', title || ' ' || COALESCE(definition,'')) @@ plainto_tsquery('english', $1)
		 ORDER BY score DESC, code ASC
		 LIMIT $2`, query, k)
	if err != nil {
		return nil, fmt.Errorf("target fulltext search: %w", err)
	}
	defer rows.Close()

	var out []*ScoredTarget
	for rows.Next() {
		var t TargetCode
		var score float64
		if err := rows.Scan(&t.ID, &t.Code, &t.Title, &t.Definition, &t.Category,
			&t.ParentCode, &t.Synonyms, &t.Inclusions, &t.Exclusions,
			&t.TraditionalSystems, &t.Embedding, &t.CreatedAt, &t.UpdatedAt, &score); err != nil {
			return nil, err
		}
		out = append(out, &ScoredTarget{Target: &t, Score: score})
	}
	return out, rows.Err()
}

func (r *targetRepoPG) SearchByKeywords(ctx context.Context, keywords []string, k int) ([]*ScoredTarget, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	// Fetch every row matching at least one keyword, then score in process:
	// the fraction of keywords present in title or definition.
	conds := make([]string, 0, len(keywords))
	args := make([]interface{}, 0, len(keywords))
	for i, kw := range keywords {
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR definition ILIKE $%d)", i+1, i+1))
		args = append(args, "%"+kw+"%")
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+targetColumns+` FROM target_codes WHERE `+strings.Join(conds, " OR "), args...)
	if err != nil {
		return nil, fmt.Errorf("target keyword search: %w", err)
	}
	defer rows.Close()

	var out []*ScoredTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		score := KeywordScore(keywords, t.Title, t.Definition)
		if score > 0 {
			out = append(out, &ScoredTarget{Target: t, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	SortScored(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (r *targetRepoPG) SearchByVector(ctx context.Context, vec pgvector.Vector, k int, minSimilarity float64) ([]*ScoredTarget, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+targetColumns+`, (1 - (embedding <=> $1)) AS similarity
		 FROM target_codes
		 WHERE embedding IS NOT NULL AND (1 - (embedding <=> $1)) >= $2
		 ORDER BY embedding <=> $1 ASC, code ASC
		 LIMIT $3`, vec, minSimilarity, k)
	if err != nil {
		return nil, fmt.Errorf("target vector search: %w", err)
	}
	defer rows.Close()

	var out []*ScoredTarget
	for rows.Next() {
		var t TargetCode
		var similarity float64
		if err := rows.Scan(&t.ID, &t.Code, &t.Title, &t.Definition, &t.Category,
			&t.ParentCode, &t.Synonyms, &t.Inclusions, &t.Exclusions,
			&t.TraditionalSystems, &t.Embedding, &t.CreatedAt, &t.UpdatedAt, &similarity); err != nil {
			return nil, err
		}
		out = append(out, &ScoredTarget{Target: &t, Score: similarity})
	}
	return out, rows.Err()
}

func (r *targetRepoPG) EmbeddingCoverage(ctx context.Context) (*Coverage, error) {
	return embeddingCoverage(ctx, r.pool, "target", "target_codes")
}

func (r *targetRepoPG) ListMissingEmbeddings(ctx context.Context, limit int) ([]*TargetCode, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+targetColumns+` FROM target_codes WHERE embedding IS NULL ORDER BY code LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("list missing target embeddings: %w", err)
	}
	defer rows.Close()

	var out []*TargetCode
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *targetRepoPG) SetEmbedding(ctx context.Context, id uuid.UUID, vec pgvector.Vector) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE target_codes SET embedding = $1, updated_at = now() WHERE id = $2`, vec, id)
	if err != nil {
		return fmt.Errorf("set target embedding: %w", err)
	}
	return nil
}

// =========== Shared helpers ===========

func embeddingCoverage(ctx context.Context, pool *pgxpool.Pool, catalog, table string) (*Coverage, error) {
	var total, withVec int
	err := pool.QueryRow(ctx,
		`SELECT count(*), count(embedding) FROM `+table).Scan(&total, &withVec)
	if err != nil {
		return nil, fmt.Errorf("embedding coverage for %s: %w", catalog, err)
	}
	cov := &Coverage{Catalog: catalog, Total: total, WithVectors: withVec}
	if total > 0 {
		cov.Percentage = 100 * float64(withVec) / float64(total)
	}
	return cov, nil
}

// KeywordScore computes the fraction of keywords appearing case-insensitively
// in the title or definition.
func KeywordScore(keywords []string, title, definition string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	haystack := strings.ToLower(title + " " + definition)
	matched := 0
	for _, kw := range keywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			matched++
		}
	}
	return float64(matched) / float64(len(keywords))
}

// SortScored orders candidates score descending with ties broken by target
// code ascending, the deterministic ordering every retrieval strategy
// guarantees.
func SortScored(list []*ScoredTarget) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Score != list[j].Score {
			return list[i].Score > list[j].Score
		}
		return list[i].Target.Code < list[j].Target.Code
	})
}
