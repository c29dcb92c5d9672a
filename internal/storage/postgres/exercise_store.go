// Package postgres provides the Postgres-backed exercise catalog.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/exercise-crawler/internal/crawler"
	"github.com/JakeFAU/exercise-crawler/internal/store"
)

// Schema creates the catalog tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS exercises (
	id          BIGSERIAL PRIMARY KEY,
	name        VARCHAR(255) NOT NULL,
	force       VARCHAR(50)  NOT NULL DEFAULT '',
	level       VARCHAR(50)  NOT NULL,
	mechanic    VARCHAR(50)  NOT NULL DEFAULT '',
	equipment   VARCHAR(100) NOT NULL DEFAULT '',
	category    VARCHAR(100) NOT NULL,
	description TEXT         NOT NULL DEFAULT '',
	source_url  TEXT UNIQUE,
	created_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS exercise_muscles (
	exercise_id BIGINT NOT NULL REFERENCES exercises(id) ON DELETE CASCADE,
	name        VARCHAR(100) NOT NULL,
	type        VARCHAR(50)  NOT NULL,
	PRIMARY KEY (exercise_id, name)
);
CREATE TABLE IF NOT EXISTS exercise_instructions (
	id          BIGSERIAL PRIMARY KEY,
	exercise_id BIGINT NOT NULL REFERENCES exercises(id) ON DELETE CASCADE,
	instruction TEXT    NOT NULL,
	order_index INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS exercise_images (
	id          BIGSERIAL PRIMARY KEY,
	exercise_id BIGINT NOT NULL REFERENCES exercises(id) ON DELETE CASCADE,
	image_url   TEXT    NOT NULL,
	order_index INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS exercises_category_level_idx ON exercises (category, level);
`

// Crawled exercises carry no level or category on the page; these stand in.
const (
	CrawledLevel    = "unknown"
	CrawledCategory = "uncategorized"
)

const exerciseColumns = `id, name, force, level, mechanic, equipment, category, description,
	COALESCE(source_url, ''), created_at, updated_at`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// ExerciseStore implements store.Repository on Postgres.
type ExerciseStore struct {
	pool dbPool
}

var _ store.Repository = (*ExerciseStore)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*ExerciseStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ExerciseStore{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool) (*ExerciseStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ExerciseStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ExerciseStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates missing tables.
func (s *ExerciseStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *ExerciseStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// List returns a page of exercises ordered by id.
func (s *ExerciseStore) List(ctx context.Context, limit, offset int) ([]store.Exercise, error) {
	limit, offset = store.SearchFilter{Limit: limit, Offset: offset}.Page()
	query := `SELECT ` + exerciseColumns + ` FROM exercises ORDER BY id LIMIT $1 OFFSET $2`
	return s.queryExercises(ctx, "list exercises", query, limit, offset)
}

// Search filters exercises by name substring, category and level.
func (s *ExerciseStore) Search(ctx context.Context, filter store.SearchFilter) ([]store.Exercise, error) {
	limit, offset := filter.Page()
	query := `SELECT ` + exerciseColumns + ` FROM exercises
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%')
		AND ($2 = '' OR category = $2)
		AND ($3 = '' OR level = $3)
		ORDER BY id LIMIT $4 OFFSET $5`
	return s.queryExercises(ctx, "search exercises", query,
		strings.TrimSpace(filter.Query), filter.Category, filter.Level, limit, offset)
}

// Get loads one exercise with its child rows.
func (s *ExerciseStore) Get(ctx context.Context, id int64) (store.Exercise, error) {
	query := `SELECT ` + exerciseColumns + ` FROM exercises WHERE id = $1`
	ex, err := scanExercise(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Exercise{}, store.ErrNotFound
		}
		return store.Exercise{}, fmt.Errorf("get exercise: %w", err)
	}
	exercises := []store.Exercise{ex}
	if err := s.loadChildren(ctx, exercises); err != nil {
		return store.Exercise{}, err
	}
	return exercises[0], nil
}

// Create inserts a manually curated exercise.
func (s *ExerciseStore) Create(ctx context.Context, in store.ExerciseInput) (store.Exercise, error) {
	if err := in.Validate(); err != nil {
		return store.Exercise{}, err
	}
	query := `INSERT INTO exercises (name, force, level, mechanic, equipment, category)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + exerciseColumns
	ex, err := scanExercise(s.pool.QueryRow(ctx, query,
		in.Name, in.Force, in.Level, in.Mechanic, in.Equipment, in.Category))
	if err != nil {
		return store.Exercise{}, fmt.Errorf("create exercise: %w", err)
	}
	return withEmptyChildren(ex), nil
}

// Update overwrites the writable fields of an exercise.
func (s *ExerciseStore) Update(ctx context.Context, id int64, in store.ExerciseInput) (store.Exercise, error) {
	if err := in.Validate(); err != nil {
		return store.Exercise{}, err
	}
	query := `UPDATE exercises
		SET name = $1, force = $2, level = $3, mechanic = $4, equipment = $5, category = $6, updated_at = NOW()
		WHERE id = $7
		RETURNING ` + exerciseColumns
	ex, err := scanExercise(s.pool.QueryRow(ctx, query,
		in.Name, in.Force, in.Level, in.Mechanic, in.Equipment, in.Category, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Exercise{}, store.ErrNotFound
		}
		return store.Exercise{}, fmt.Errorf("update exercise: %w", err)
	}
	exercises := []store.Exercise{ex}
	if err := s.loadChildren(ctx, exercises); err != nil {
		return store.Exercise{}, err
	}
	return exercises[0], nil
}

// Delete removes an exercise and, through cascades, its child rows.
func (s *ExerciseStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM exercises WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete exercise: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpsertCrawled stores a crawled exercise in one transaction keyed by
// sourceURL. Child rows are replaced wholesale.
func (s *ExerciseStore) UpsertCrawled(ctx context.Context, sourceURL string, detail crawler.ExerciseDetail) (int64, error) {
	if sourceURL == "" || strings.TrimSpace(detail.Name) == "" {
		return 0, fmt.Errorf("%w: crawled exercise needs a source url and a name", store.ErrInvalidExercise)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	id, err := upsertCrawledTx(ctx, tx, sourceURL, detail)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return id, nil
}

func upsertCrawledTx(ctx context.Context, tx pgx.Tx, sourceURL string, detail crawler.ExerciseDetail) (int64, error) {
	level := detail.Difficulty
	if level == "" {
		level = CrawledLevel
	}
	var id int64
	err := tx.QueryRow(ctx,
		`INSERT INTO exercises (name, level, equipment, category, description, source_url)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (source_url) DO UPDATE SET
		   name = EXCLUDED.name, level = EXCLUDED.level, equipment = EXCLUDED.equipment,
		   description = EXCLUDED.description, updated_at = NOW()
		 RETURNING id`,
		detail.Name, level, detail.Equipment, CrawledCategory, detail.Description, sourceURL,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert exercise: %w", err)
	}

	for _, table := range []string{"exercise_muscles", "exercise_instructions", "exercise_images"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE exercise_id = $1`, id); err != nil {
			return 0, fmt.Errorf("clear %s: %w", table, err)
		}
	}
	seen := make(map[string]struct{}, len(detail.MusclesWorked))
	for _, muscle := range detail.MusclesWorked {
		if _, dup := seen[muscle]; dup || muscle == "" {
			continue
		}
		seen[muscle] = struct{}{}
		if _, err := tx.Exec(ctx,
			`INSERT INTO exercise_muscles (exercise_id, name, type) VALUES ($1, $2, $3)`,
			id, muscle, store.MusclePrimary); err != nil {
			return 0, fmt.Errorf("insert muscle: %w", err)
		}
	}
	for i, step := range detail.Instructions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO exercise_instructions (exercise_id, instruction, order_index) VALUES ($1, $2, $3)`,
			id, step, i); err != nil {
			return 0, fmt.Errorf("insert instruction: %w", err)
		}
	}
	for i, img := range detail.Images {
		if _, err := tx.Exec(ctx,
			`INSERT INTO exercise_images (exercise_id, image_url, order_index) VALUES ($1, $2, $3)`,
			id, img, i); err != nil {
			return 0, fmt.Errorf("insert image: %w", err)
		}
	}
	return id, nil
}

func (s *ExerciseStore) queryExercises(ctx context.Context, op, query string, args ...any) ([]store.Exercise, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	exercises := []store.Exercise{}
	for rows.Next() {
		ex, err := scanExercise(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		exercises = append(exercises, ex)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	if err := s.loadChildren(ctx, exercises); err != nil {
		return nil, err
	}
	return exercises, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExercise(row scanner) (store.Exercise, error) {
	var ex store.Exercise
	err := row.Scan(
		&ex.ID,
		&ex.Name,
		&ex.Force,
		&ex.Level,
		&ex.Mechanic,
		&ex.Equipment,
		&ex.Category,
		&ex.Description,
		&ex.SourceURL,
		&ex.CreatedAt,
		&ex.UpdatedAt,
	)
	if err != nil {
		return store.Exercise{}, err
	}
	return ex, nil
}

func withEmptyChildren(ex store.Exercise) store.Exercise {
	if ex.Muscles == nil {
		ex.Muscles = []store.Muscle{}
	}
	if ex.Instructions == nil {
		ex.Instructions = []store.Instruction{}
	}
	if ex.Images == nil {
		ex.Images = []store.Image{}
	}
	return ex
}

// loadChildren fills muscles, instructions and images for every exercise
// with one query per child table.
func (s *ExerciseStore) loadChildren(ctx context.Context, exercises []store.Exercise) error {
	if len(exercises) == 0 {
		return nil
	}
	ids := make([]int64, len(exercises))
	index := make(map[int64]int, len(exercises))
	for i := range exercises {
		exercises[i] = withEmptyChildren(exercises[i])
		ids[i] = exercises[i].ID
		index[exercises[i].ID] = i
	}

	err := s.eachChild(ctx, "load muscles",
		`SELECT exercise_id, name, type FROM exercise_muscles WHERE exercise_id = ANY($1) ORDER BY exercise_id, name`,
		ids, func(rows pgx.Rows) error {
			var (
				exerciseID int64
				m          store.Muscle
			)
			if err := rows.Scan(&exerciseID, &m.Name, &m.Type); err != nil {
				return err
			}
			if i, ok := index[exerciseID]; ok {
				exercises[i].Muscles = append(exercises[i].Muscles, m)
			}
			return nil
		})
	if err != nil {
		return err
	}

	err = s.eachChild(ctx, "load instructions",
		`SELECT exercise_id, instruction, order_index FROM exercise_instructions WHERE exercise_id = ANY($1) ORDER BY exercise_id, order_index`,
		ids, func(rows pgx.Rows) error {
			var (
				exerciseID int64
				in         store.Instruction
			)
			if err := rows.Scan(&exerciseID, &in.Text, &in.OrderIndex); err != nil {
				return err
			}
			if i, ok := index[exerciseID]; ok {
				exercises[i].Instructions = append(exercises[i].Instructions, in)
			}
			return nil
		})
	if err != nil {
		return err
	}

	return s.eachChild(ctx, "load images",
		`SELECT exercise_id, image_url, order_index FROM exercise_images WHERE exercise_id = ANY($1) ORDER BY exercise_id, order_index`,
		ids, func(rows pgx.Rows) error {
			var (
				exerciseID int64
				img        store.Image
			)
			if err := rows.Scan(&exerciseID, &img.URL, &img.OrderIndex); err != nil {
				return err
			}
			if i, ok := index[exerciseID]; ok {
				exercises[i].Images = append(exercises[i].Images, img)
			}
			return nil
		})
}

func (s *ExerciseStore) eachChild(ctx context.Context, op, query string, ids []int64, fn func(pgx.Rows) error) error {
	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return fmt.Errorf("%s: scan: %w", op, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%s: rows: %w", op, err)
	}
	return nil
}
