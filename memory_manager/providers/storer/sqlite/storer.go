package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	memorymanager "github.com/w-h-a/workmem/memory_manager"
	"github.com/w-h-a/workmem/memory_manager/providers/storer"
	_ "modernc.org/sqlite"
)

type sqliteStorer struct {
	options storer.Options
	conn    *sql.DB
}

func (s *sqliteStorer) Insert(ctx context.Context, rec storer.Record) (storer.Record, error) {
	if err := storer.CheckDimensions(s.options.Dimensions, rec.Embedding); err != nil {
		return storer.Record{}, err
	}

	rec = storer.Stamp(rec, "", time.Now())

	vec, err := encodeVector(rec.Embedding)
	if err != nil {
		return storer.Record{}, err
	}

	meta, err := storer.EncodeMetadata(rec)
	if err != nil {
		return storer.Record{}, fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO memories (
			summary,
			embedding,
			session_key,
			origin,
			created_at,
			has_action,
			has_decision,
			metadata
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.conn.ExecContext(
		ctx,
		query,
		rec.Summary,
		vec,
		rec.SessionKey,
		string(rec.Origin),
		rec.CreatedAt.UnixMilli(),
		rec.HasAction,
		rec.HasDecision,
		string(meta),
	)
	if err != nil {
		return storer.Record{}, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return storer.Record{}, err
	}

	rec.Id = strconv.FormatInt(id, 10)

	return rec, nil
}

func (s *sqliteStorer) Delete(ctx context.Context, id string) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		// not an id this store could have assigned
		return nil
	}

	_, err = s.conn.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, n)

	return err
}

func (s *sqliteStorer) Scan(ctx context.Context) ([]storer.Record, error) {
	return s.query(ctx, `SELECT `+columns+` FROM memories ORDER BY id`)
}

func (s *sqliteStorer) Search(ctx context.Context, vector []float32, limit int) ([]storer.Record, error) {
	if limit < 1 {
		return nil, nil
	}

	if err := storer.CheckDimensions(s.options.Dimensions, vector); err != nil {
		return nil, err
	}

	// brute force: fine for a rolling window of summaries
	candidates, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		candidates[i].Score = float32(memorymanager.CosineSimilarity(vector, candidates[i].Embedding))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	return candidates, nil
}

func (s *sqliteStorer) Recent(ctx context.Context, limit int, window time.Duration) ([]storer.Record, error) {
	if limit < 1 {
		return nil, nil
	}

	var cutoff int64
	if window > 0 {
		cutoff = time.Now().UTC().Add(-window).UnixMilli()
	}

	return s.query(
		ctx,
		`SELECT `+columns+` FROM memories WHERE created_at >= ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		cutoff,
		limit,
	)
}

func (s *sqliteStorer) Close() error {
	return s.conn.Close()
}

const columns = `id, summary, embedding, session_key, origin, created_at, has_action, has_decision, metadata`

func (s *sqliteStorer) query(ctx context.Context, query string, args ...any) ([]storer.Record, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storer.Record

	for rows.Next() {
		var id int64
		var rec storer.Record
		var vecBlob []byte
		var origin string
		var createdAt int64
		var meta string

		if err := rows.Scan(
			&id,
			&rec.Summary,
			&vecBlob,
			&rec.SessionKey,
			&origin,
			&createdAt,
			&rec.HasAction,
			&rec.HasDecision,
			&meta,
		); err != nil {
			return nil, err
		}

		vec, err := decodeVector(vecBlob)
		if err != nil {
			slog.WarnContext(ctx, "skipping sqlite memory with unreadable vector", "id", id, "error", err)
			continue
		}

		rec.Id = strconv.FormatInt(id, 10)
		rec.Embedding = vec
		rec.Origin = storer.ParseOrigin(origin)
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		storer.DecodeMetadata([]byte(meta), &rec)

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func (s *sqliteStorer) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			summary TEXT NOT NULL,
			embedding BLOB NOT NULL,
			session_key TEXT NOT NULL DEFAULT '',
			origin TEXT NOT NULL DEFAULT 'unknown',
			created_at INTEGER NOT NULL,
			has_action INTEGER NOT NULL DEFAULT 0,
			has_decision INTEGER NOT NULL DEFAULT 0,
			metadata TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE INDEX IF NOT EXISTS memories_created_at ON memories (created_at);`,
		`CREATE TABLE IF NOT EXISTS store_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
	}

	for _, query := range queries {
		if _, err := s.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}

	return s.lockDimensions(ctx)
}

// lockDimensions records the vector length on first use and refuses to
// open a store created for a different one.
func (s *sqliteStorer) lockDimensions(ctx context.Context) error {
	if s.options.Dimensions <= 0 {
		return nil
	}

	var stored string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'dimensions'`).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.conn.ExecContext(
			ctx,
			`INSERT INTO store_meta (key, value) VALUES ('dimensions', ?)`,
			strconv.Itoa(s.options.Dimensions),
		)
		return err
	}
	if err != nil {
		return err
	}

	if stored != strconv.Itoa(s.options.Dimensions) {
		return fmt.Errorf("%w: store holds %s-dimensional vectors, configured %d", storer.ErrDimensionMismatch, stored, s.options.Dimensions)
	}

	return nil
}

func encodeVector(vector []float32) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, vector); err != nil {
		return nil, fmt.Errorf("failed to encode vector: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob of %d bytes", len(blob))
	}
	vector := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, &vector); err != nil {
		return nil, err
	}
	return vector, nil
}

func NewStorer(opts ...storer.Option) storer.Storer {
	options := storer.NewOptions(opts...)

	s := &sqliteStorer{
		options: options,
	}

	ctx := context.Background()

	if dir := filepath.Dir(options.Location); len(dir) > 0 {
		if err := os.MkdirAll(dir, 0750); err != nil {
			detail := "failed to create directory for sqlite storer"
			slog.ErrorContext(ctx, detail, "error", err)
			panic(detail)
		}
	}

	conn, err := sql.Open("sqlite", options.Location)
	if err != nil {
		detail := "failed to open sqlite storer"
		slog.ErrorContext(ctx, detail, "error", err)
		panic(detail)
	}

	// one writer keeps delete-then-insert sequences ordered
	conn.SetMaxOpenConns(1)

	s.conn = conn

	if err := s.initSchema(ctx); err != nil {
		conn.Close()
		detail := "failed to initialize sqlite storer"
		slog.ErrorContext(ctx, detail, "error", err)
		panic(fmt.Sprintf("%s: %v", detail, err))
	}

	return s
}
