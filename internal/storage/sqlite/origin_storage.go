package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/models"
)

// OriginStorage provides insert/query helpers for Origin rows.
type OriginStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

func NewOriginStorage(db *sql.DB, logger arbor.ILogger) *OriginStorage {
	return &OriginStorage{db: db, logger: logger}
}

// InsertBatch inserts origins for already-inserted beans within the
// caller's transaction.
func (o *OriginStorage) InsertBatch(ctx context.Context, tx *sql.Tx, origins []models.Origin) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO origins (
			bean_id, country, region, region_normalized, producer, farm, farm_normalized,
			elevation_min, elevation_max, lat, lon, process, process_common_name,
			variety, variety_canonical, harvest_date
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`)
	if err != nil {
		return fmt.Errorf("preparing origin insert: %w", err)
	}
	defer stmt.Close()

	for _, origin := range origins {
		varietyJSON, err := json.Marshal(origin.VarietyCanonical)
		if err != nil {
			return fmt.Errorf("marshaling variety_canonical: %w", err)
		}
		var harvest interface{}
		if origin.HarvestDate != nil {
			harvest = origin.HarvestDate.Unix()
		}
		_, err = stmt.ExecContext(ctx,
			origin.BeanID, nullStr(origin.Country), nullStr(origin.Region), nullStr(origin.RegionNormalized),
			nullStr(origin.Producer), nullStr(origin.Farm), nullStr(origin.FarmNormalized),
			origin.ElevationMin, origin.ElevationMax, origin.Lat, origin.Lon,
			nullStr(origin.Process), nullStr(origin.ProcessCommonName),
			nullStr(origin.Variety), string(varietyJSON), harvest,
		)
		if err != nil {
			return fmt.Errorf("inserting origin for bean %d: %w", origin.BeanID, err)
		}
	}
	return nil
}

// ByBeanID returns every origin for a bean.
func (o *OriginStorage) ByBeanID(ctx context.Context, beanID int64) ([]models.Origin, error) {
	rows, err := o.db.QueryContext(ctx, originSelectSQL+" WHERE bean_id = ?", beanID)
	if err != nil {
		return nil, fmt.Errorf("querying origins for bean %d: %w", beanID, err)
	}
	defer rows.Close()
	return scanOrigins(rows)
}

const originSelectSQL = `
SELECT id, bean_id, country, region, region_normalized, producer, farm, farm_normalized,
	elevation_min, elevation_max, lat, lon, process, process_common_name,
	variety, variety_canonical, harvest_date
FROM origins`

func scanOrigins(rows *sql.Rows) ([]models.Origin, error) {
	var origins []models.Origin
	for rows.Next() {
		var origin models.Origin
		var country, region, regionNorm, producer, farm, farmNorm, process, processCommon, variety sql.NullString
		var varietyJSON sql.NullString
		var harvest sql.NullInt64

		err := rows.Scan(
			&origin.ID, &origin.BeanID, &country, &region, &regionNorm, &producer, &farm, &farmNorm,
			&origin.ElevationMin, &origin.ElevationMax, &origin.Lat, &origin.Lon,
			&process, &processCommon, &variety, &varietyJSON, &harvest,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning origin row: %w", err)
		}

		origin.Country = country.String
		origin.Region = region.String
		origin.RegionNormalized = regionNorm.String
		origin.Producer = producer.String
		origin.Farm = farm.String
		origin.FarmNormalized = farmNorm.String
		origin.Process = process.String
		origin.ProcessCommonName = processCommon.String
		origin.Variety = variety.String
		if varietyJSON.Valid && varietyJSON.String != "" {
			_ = json.Unmarshal([]byte(varietyJSON.String), &origin.VarietyCanonical)
		}
		if harvest.Valid {
			t := time.Unix(harvest.Int64, 0).UTC()
			origin.HarvestDate = &t
		}

		origins = append(origins, origin)
	}
	return origins, rows.Err()
}
