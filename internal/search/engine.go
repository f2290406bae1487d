package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/tamakara/bakabooru/internal/ai"
	"github.com/tamakara/bakabooru/internal/models"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QueryParser turns a natural-language query into tags and an optional embedding.
type QueryParser interface {
	ParseQuery(ctx context.Context, text string, wantEmbedding bool) (ai.ParsedQuery, error)
}

type Recorder interface {
	ObserveSearch(sort string, d time.Duration, err error)
}

// Item is a catalogue entry; Distance is set when ranked by similarity.
type Item struct {
	models.Image
	Distance *float64
}

type Page struct {
	Items         []Item
	Page          int
	Size          int
	TotalElements int64
	TotalPages    int
	// Seed is the random seed in effect, including a generated one.
	Seed string
}

type Engine struct {
	db          Querier
	parser      QueryParser
	maxPageSize int
	recorder    Recorder
	logger      zerolog.Logger
}

func NewEngine(db Querier, parser QueryParser, maxPageSize int, recorder Recorder, logger zerolog.Logger) *Engine {
	return &Engine{
		db:          db,
		parser:      parser,
		maxPageSize: maxPageSize,
		recorder:    recorder,
		logger:      logger.With().Str("component", "search").Logger(),
	}
}

// Resolve validates req and turns it into a Spec. Validation happens before
// the query parser is consulted.
func (e *Engine) Resolve(ctx context.Context, req Request) (Spec, error) {
	desc, err := req.validate(e.maxPageSize)
	if err != nil {
		return Spec{}, err
	}

	positive, negative := ParseTags(req.Tags)
	embedding := req.Embedding

	if q := strings.TrimSpace(req.SemanticQuery); q != "" && e.parser != nil {
		wantEmbedding := desc.similarity() && len(embedding) == 0
		parsed, err := e.parser.ParseQuery(ctx, q, wantEmbedding)
		if err != nil {
			return Spec{}, fmt.Errorf("semantic query: %w", err)
		}
		positive = appendUnique(positive, parsed.Positive...)
		negative = appendUnique(negative, parsed.Negative...)
		if wantEmbedding {
			embedding = parsed.Embedding
		}
	}

	sort, err := desc.resolve(req.RandomSeed, embedding)
	if err != nil {
		return Spec{}, err
	}
	if desc.similarity() && sort.Kind() != "similarity" {
		e.logger.Debug().Msg("similarity sort without embedding, using random order")
	}

	return Spec{
		Positive:    positive,
		Negative:    negative,
		Keyword:     req.Keyword,
		Width:       req.Width,
		Height:      req.Height,
		FileSize:    req.FileSize,
		Page:        req.Page,
		PageSize:    req.Size,
		Sort:        sort,
		Embedding:   embedding,
		MaxDistance: req.MaxDistance,
	}, nil
}

func (e *Engine) Search(ctx context.Context, req Request) (Page, error) {
	spec, err := e.Resolve(ctx, req)
	if err != nil {
		return Page{}, err
	}
	return e.Run(ctx, spec)
}

// Run executes a resolved spec: a count query, then the page query.
func (e *Engine) Run(ctx context.Context, spec Spec) (page Page, err error) {
	start := time.Now()
	defer func() {
		if e.recorder != nil && spec.Sort != nil {
			e.recorder.ObserveSearch(spec.Sort.Kind(), time.Since(start), err)
		}
	}()

	pageQuery, err := Compile(spec)
	if err != nil {
		return Page{}, err
	}
	countQuery := CompileCount(spec)

	var total int64
	if err := e.db.QueryRow(ctx, countQuery.SQL, countQuery.Args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("count images: %w", describe(err))
	}

	page = Page{
		Items:         []Item{},
		Page:          spec.Page,
		Size:          spec.PageSize,
		TotalElements: total,
		TotalPages:    int((total + int64(spec.PageSize) - 1) / int64(spec.PageSize)),
	}
	if rs, ok := spec.Sort.(RandomSort); ok {
		page.Seed = rs.Seed
	}
	if int64(spec.Page)*int64(spec.PageSize) >= total {
		return page, nil
	}

	rows, err := e.db.Query(ctx, pageQuery.SQL, pageQuery.Args...)
	if err != nil {
		return Page{}, fmt.Errorf("query images: %w", describe(err))
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(
			&it.ID,
			&it.Title,
			&it.FileName,
			&it.Extension,
			&it.Size,
			&it.Width,
			&it.Height,
			&it.Hash,
			&it.ViewCount,
			&it.CreatedAt,
			&it.UpdatedAt,
			&it.Distance,
		); err != nil {
			return Page{}, fmt.Errorf("scan image: %w", err)
		}
		page.Items = append(page.Items, it)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("iterate images: %w", err)
	}
	return page, nil
}

// describe maps vector dimension mismatches to a validation error.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22000" {
		return fmt.Errorf("%w: %s", models.ErrValidation, pgErr.Message)
	}
	return err
}
