package postgres

import (
	"context"
	"database/sql"
	"errors"

	"sceneplane/internal/store"
)

// UpsertScene refreshes the cached copy of a broker scene.
func (s *Store) UpsertScene(ctx context.Context, tx store.DBTransaction, scene *store.Scene) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		INSERT INTO scenes (id, captured_on, cloud_cover, resolution, sensor_name, status, geometry, tide, tide_min_24h, tide_max_24h, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			captured_on = EXCLUDED.captured_on,
			cloud_cover = EXCLUDED.cloud_cover,
			resolution = EXCLUDED.resolution,
			sensor_name = EXCLUDED.sensor_name,
			status = EXCLUDED.status,
			geometry = EXCLUDED.geometry,
			tide = EXCLUDED.tide,
			tide_min_24h = EXCLUDED.tide_min_24h,
			tide_max_24h = EXCLUDED.tide_max_24h,
			fetched_at = EXCLUDED.fetched_at
	`,
		scene.ID,
		scene.CapturedOn,
		scene.CloudCover,
		scene.Resolution,
		scene.SensorName,
		scene.Status,
		nullableJSON(scene.Geometry),
		scene.Tide,
		scene.TideMin24h,
		scene.TideMax24h,
		scene.FetchedAt,
	)
	return err
}

func (s *Store) GetSceneByID(ctx context.Context, id string) (*store.Scene, error) {
	query := `
		SELECT id, captured_on, cloud_cover, resolution, sensor_name, status, geometry, tide, tide_min_24h, tide_max_24h, fetched_at
		FROM scenes WHERE id = $1
	`

	var scene store.Scene
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&scene.ID, &scene.CapturedOn, &scene.CloudCover, &scene.Resolution,
		&scene.SensorName, &scene.Status, &scene.Geometry,
		&scene.Tide, &scene.TideMin24h, &scene.TideMax24h, &scene.FetchedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &scene, nil
}

// nullableJSON keeps empty payloads out of JSONB columns.
func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
