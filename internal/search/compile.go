package search

import (
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/tamakara/bakabooru/internal/repository"
)

const imageColumns = `i.id, i.title, i.file_name, i.extension, i.size, i.width, i.height, i.hash, i.view_count, i.created_at, i.updated_at`

// Query is SQL text with its positional arguments.
type Query struct {
	SQL  string
	Args []any
}

type builder struct {
	where  []string
	args   []any
	vector string
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// vectorArg binds the query embedding once and reuses the placeholder.
func (b *builder) vectorArg(v []float32) string {
	if b.vector == "" {
		b.vector = b.arg(pgvector.NewVector(v))
	}
	return b.vector
}

func (b *builder) rangeFilter(column string, r Range) {
	if r.Min != nil {
		b.where = append(b.where, fmt.Sprintf("%s >= %s", column, b.arg(*r.Min)))
	}
	if r.Max != nil {
		b.where = append(b.where, fmt.Sprintf("%s <= %s", column, b.arg(*r.Max)))
	}
}

func (b *builder) filters(spec Spec) {
	for _, tag := range spec.Positive {
		b.where = append(b.where, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM image_tag_relation r JOIN tags t ON t.id = r.tag_id
			WHERE r.image_id = i.id AND t.name = %s)`, b.arg(tag)))
	}
	if len(spec.Negative) > 0 {
		b.where = append(b.where, fmt.Sprintf(`NOT EXISTS (
			SELECT 1 FROM image_tag_relation r JOIN tags t ON t.id = r.tag_id
			WHERE r.image_id = i.id AND t.name = ANY(%s))`, b.arg(spec.Negative)))
	}
	if kw := strings.ToLower(strings.TrimSpace(spec.Keyword)); kw != "" {
		p := b.arg("%" + repository.EscapeLike(kw) + "%")
		b.where = append(b.where, fmt.Sprintf(`(LOWER(i.title) LIKE %s ESCAPE '\' OR LOWER(i.file_name) LIKE %s ESCAPE '\')`, p, p))
	}
	b.rangeFilter("i.width", spec.Width)
	b.rangeFilter("i.height", spec.Height)
	b.rangeFilter("i.size", spec.FileSize)

	if spec.MaxDistance != nil && len(spec.Embedding) > 0 {
		b.where = append(b.where, fmt.Sprintf("(i.embedding <=> %s) <= %s", b.vectorArg(spec.Embedding), b.arg(*spec.MaxDistance)))
	}
}

func (b *builder) whereClause() string {
	if len(b.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.where, " AND ")
}

// CompileCount builds the total-count query. It shares the filters of the
// page query but skips ordering.
func CompileCount(spec Spec) Query {
	b := &builder{}
	b.filters(spec)
	return Query{SQL: "SELECT COUNT(*) FROM images i" + b.whereClause(), Args: b.args}
}

// Compile builds the page query. The ordering is computed in the same
// statement as LIMIT/OFFSET so pages of a random order never overlap.
func Compile(spec Spec) (Query, error) {
	b := &builder{}
	b.filters(spec)

	distance := "NULL::float8"
	var order string
	switch s := spec.Sort.(type) {
	case FieldSort:
		order = fmt.Sprintf("%s %s, i.id %s", s.Column, s.Dir, s.Dir)
	case RandomSort:
		order = fmt.Sprintf("MOD(i.id * %s, %d) ASC, i.id ASC", b.arg(s.Multiplier), randomModulus)
	case SimilaritySort:
		distance = fmt.Sprintf("(i.embedding <=> %s)", b.vectorArg(s.Vector))
		order = fmt.Sprintf("distance %s NULLS LAST, i.id ASC", s.Dir)
	default:
		return Query{}, fmt.Errorf("unsupported sort %T", spec.Sort)
	}

	sql := fmt.Sprintf("SELECT %s, %s AS distance FROM images i%s ORDER BY %s LIMIT %s OFFSET %s",
		imageColumns, distance, b.whereClause(), order,
		b.arg(spec.PageSize), b.arg(int64(spec.Page)*int64(spec.PageSize)))
	return Query{SQL: sql, Args: b.args}, nil
}
