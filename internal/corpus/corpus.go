// Package corpus supplies the documents the static index is bulk-built from.
package corpus

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/postgres"
)

// Source returns the bulk corpus in document id order.
type Source interface {
	Documents(ctx context.Context) ([]string, error)
}

// Static is an in-memory corpus.
type Static []string

func (s Static) Documents(context.Context) ([]string, error) {
	return []string(s), nil
}

// File reads a corpus with one document per line. Blank lines are skipped.
// A missing file is an empty corpus.
type File struct {
	Path string
}

func (f File) Documents(ctx context.Context) ([]string, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, apperrors.IOf(err, "opening corpus %s", f.Path)
	}
	defer file.Close()

	var docs []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		docs = append(docs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.IOf(err, "reading corpus %s", f.Path)
	}
	return docs, nil
}

// Postgres reads the corpus with a query returning one text column, one row
// per document. The query should order rows deterministically; row order
// becomes doc id order.
type Postgres struct {
	DB    *sql.DB
	Query string
}

func (p Postgres) Documents(ctx context.Context) ([]string, error) {
	if p.Query == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, "corpus query is empty")
	}
	rows, err := p.DB.QueryContext(ctx, p.Query)
	if err != nil {
		return nil, fmt.Errorf("querying corpus: %w", err)
	}
	defer rows.Close()

	var docs []string
	for rows.Next() {
		var text sql.NullString
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scanning corpus row: %w", err)
		}
		if !text.Valid || strings.TrimSpace(text.String) == "" {
			continue
		}
		docs = append(docs, text.String)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating corpus rows: %w", err)
	}
	return docs, nil
}

// FromConfig returns the configured bulk corpus. A PostgreSQL corpus connects
// only when Documents is called, which Open does only when no snapshot
// exists yet.
func FromConfig(cfg *config.Config) Source {
	if cfg.Corpus.Query == "" {
		return File{Path: cfg.Corpus.Path}
	}
	return dialPostgres{cfg: cfg.Postgres, query: cfg.Corpus.Query}
}

type dialPostgres struct {
	cfg   config.PostgresConfig
	query string
}

func (d dialPostgres) Documents(ctx context.Context) ([]string, error) {
	client, err := postgres.New(ctx, d.cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to corpus database: %w", err)
	}
	defer client.Close()
	return Postgres{DB: client.DB, Query: d.query}.Documents(ctx)
}
