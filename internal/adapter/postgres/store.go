package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/couchcryptid/locations/internal/domain"
)

// Store implements the topic and category store over PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertTopic inserts or updates a topic row. A carried location is saved
// in the same transaction; without one the stored location is left untouched.
func (s *Store) UpsertTopic(ctx context.Context, t domain.Topic) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO topics (id, title, category_id, closed, bumped_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		    title = EXCLUDED.title, category_id = EXCLUDED.category_id,
		    closed = EXCLUDED.closed, bumped_at = EXCLUDED.bumped_at`,
		t.ID, t.Title, t.CategoryID, t.Closed, t.BumpedAt,
	); err != nil {
		return fmt.Errorf("upsert topic %d: %w", t.ID, err)
	}
	if t.Location != nil {
		if err := writeTopicLocation(ctx, tx, t.ID, t.Location); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpsertCategory inserts or updates a category row and its settings. A
// carried location is saved in the same transaction.
func (s *Store) UpsertCategory(ctx context.Context, c domain.Category) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO categories (id, name, location_enabled, location_topic_status, location_map_filter_closed)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		    name = EXCLUDED.name, location_enabled = EXCLUDED.location_enabled,
		    location_topic_status = EXCLUDED.location_topic_status,
		    location_map_filter_closed = EXCLUDED.location_map_filter_closed`,
		c.ID, c.Name, c.LocationEnabled, c.LocationTopicStatus, c.MapFilterClosed,
	); err != nil {
		return fmt.Errorf("upsert category %d: %w", c.ID, err)
	}
	if c.Location != nil {
		payload, err := encodeLocation(c.Location)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE categories SET location = $2 WHERE id = $1`, c.ID, payload); err != nil {
			return fmt.Errorf("save category %d location: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ListTopics executes a map list query.
func (s *Store) ListTopics(ctx context.Context, q domain.TopicQuery) ([]domain.Topic, error) {
	query, args := renderTopicQuery(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	topics := []domain.Topic{}
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return topics, nil
}

// GetTopic returns a topic with its location, or domain.ErrNotFound.
func (s *Store) GetTopic(ctx context.Context, id int64) (domain.Topic, error) {
	row := s.db.QueryRowContext(ctx, selectTopics+"\nWHERE t.id = $1", id)
	t, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Topic{}, fmt.Errorf("topic %d: %w", id, domain.ErrNotFound)
	}
	return t, err
}

// SaveTopicLocation replaces a topic's location atomically. A nil record clears it.
func (s *Store) SaveTopicLocation(ctx context.Context, id int64, rec *domain.LocationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM topics WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("lookup topic %d: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("topic %d: %w", id, domain.ErrNotFound)
	}

	if rec == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM topic_locations WHERE topic_id = $1`, id); err != nil {
			return fmt.Errorf("clear topic %d location: %w", id, err)
		}
		return tx.Commit()
	}
	if err := writeTopicLocation(ctx, tx, id, rec); err != nil {
		return err
	}
	return tx.Commit()
}

// writeTopicLocation upserts the location row inside the caller's transaction.
func writeTopicLocation(ctx context.Context, tx *sql.Tx, id int64, rec *domain.LocationRecord) error {
	payload, err := encodeLocation(rec)
	if err != nil {
		return err
	}
	var lat, lon sql.NullFloat64
	if rec.GeoLocation != nil {
		lat = sql.NullFloat64{Float64: rec.GeoLocation.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: rec.GeoLocation.Lon, Valid: true}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO topic_locations (topic_id, location, has_geo_location, lat, lon, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (topic_id) DO UPDATE SET
		    location = EXCLUDED.location, has_geo_location = EXCLUDED.has_geo_location,
		    lat = EXCLUDED.lat, lon = EXCLUDED.lon, updated_at = EXCLUDED.updated_at`,
		id, payload, rec.HasGeoLocation(), lat, lon,
	); err != nil {
		return fmt.Errorf("save topic %d location: %w", id, err)
	}
	return nil
}

// encodeLocation renders the persisted JSON form. A nil record encodes as SQL NULL.
func encodeLocation(rec *domain.LocationRecord) (sql.NullString, error) {
	if rec == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode location: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// GetCategory returns a category with its settings and location.
func (s *Store) GetCategory(ctx context.Context, id int64) (domain.Category, error) {
	var c domain.Category
	var location []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, location, location_enabled, location_topic_status, location_map_filter_closed
		 FROM categories WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &location, &c.LocationEnabled, &c.LocationTopicStatus, &c.MapFilterClosed)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Category{}, fmt.Errorf("category %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Category{}, fmt.Errorf("get category %d: %w", id, err)
	}

	if location != nil {
		rec, err := domain.ParseLocationRecord(location)
		if err != nil {
			return domain.Category{}, fmt.Errorf("category %d location: %w", id, err)
		}
		c.Location = &rec
	}
	return c, nil
}

// SaveCategoryLocation replaces a category's location. A nil record clears it.
func (s *Store) SaveCategoryLocation(ctx context.Context, id int64, rec *domain.LocationRecord) error {
	payload, err := encodeLocation(rec)
	if err != nil {
		return err
	}
	return s.execCategory(ctx, id, `UPDATE categories SET location = $2 WHERE id = $1`, payload)
}

// SaveCategorySettings replaces a category's location settings.
func (s *Store) SaveCategorySettings(ctx context.Context, id int64, settings domain.CategorySettings) error {
	return s.execCategory(ctx, id,
		`UPDATE categories SET location_enabled = $2, location_topic_status = $3,
		    location_map_filter_closed = $4 WHERE id = $1`,
		settings.LocationEnabled, settings.LocationTopicStatus, settings.MapFilterClosed)
}

func (s *Store) execCategory(ctx context.Context, id int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update category %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update category %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("category %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTopic(row scanner) (domain.Topic, error) {
	var t domain.Topic
	var location []byte
	if err := row.Scan(&t.ID, &t.Title, &t.CategoryID, &t.Closed, &t.BumpedAt, &location, &t.HasGeoLocation); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Topic{}, err
		}
		return domain.Topic{}, fmt.Errorf("scan topic: %w", err)
	}
	t.BumpedAt = t.BumpedAt.UTC()

	if location != nil {
		rec, err := domain.ParseLocationRecord(location)
		if err != nil {
			return domain.Topic{}, fmt.Errorf("topic %d location: %w", t.ID, err)
		}
		t.Location = &rec
	}
	return t, nil
}
