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

// RoasterStorage upserts and queries the roaster registry.
type RoasterStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

func NewRoasterStorage(db *sql.DB, logger arbor.ILogger) *RoasterStorage {
	return &RoasterStorage{db: db, logger: logger}
}

// Upsert inserts or updates a roaster's registry row, applying the
// registry's display-name override over whatever was scraped (§4.3 step 10).
func (r *RoasterStorage) Upsert(ctx context.Context, roaster models.Roaster) error {
	social, err := json.Marshal(roaster.SocialMedia)
	if err != nil {
		return fmt.Errorf("marshaling social_media for %s: %w", roaster.Slug, err)
	}
	var lastScraped interface{}
	if roaster.LastScraped != nil {
		lastScraped = roaster.LastScraped.Unix()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO roasters (slug, display_name, website, location, location_code, active, last_scraped, total_beans_scraped, email, social_media)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(slug) DO UPDATE SET
			display_name = excluded.display_name,
			website = excluded.website,
			location = excluded.location,
			location_code = excluded.location_code,
			active = excluded.active,
			last_scraped = excluded.last_scraped,
			total_beans_scraped = excluded.total_beans_scraped,
			email = excluded.email,
			social_media = excluded.social_media
	`, roaster.Slug, roaster.DisplayName, nullStr(roaster.Website), nullStr(roaster.Location), nullStr(roaster.LocationCode),
		boolInt(roaster.Active), lastScraped, roaster.TotalBeansScraped, nullStr(roaster.Email), string(social))
	if err != nil {
		return fmt.Errorf("upserting roaster %s: %w", roaster.Slug, err)
	}
	return nil
}

// ByDirectory returns the registry's display name for a roaster slug, or
// ok=false when the roaster is not in the registry (scraped name is kept).
func (r *RoasterStorage) DisplayName(ctx context.Context, slug string) (string, bool, error) {
	var name string
	err := r.db.QueryRowContext(ctx, "SELECT display_name FROM roasters WHERE slug = ?", slug).Scan(&name)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

// List returns every roaster in the registry.
func (r *RoasterStorage) List(ctx context.Context) ([]models.Roaster, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT slug, display_name, website, location, location_code, active, last_scraped, total_beans_scraped, email, social_media
		FROM roasters ORDER BY display_name
	`)
	if err != nil {
		return nil, fmt.Errorf("listing roasters: %w", err)
	}
	defer rows.Close()

	var out []models.Roaster
	for rows.Next() {
		var m models.Roaster
		var website, location, locationCode, email sql.NullString
		var lastScraped sql.NullInt64
		var active int
		var social sql.NullString
		if err := rows.Scan(&m.Slug, &m.DisplayName, &website, &location, &locationCode, &active, &lastScraped, &m.TotalBeansScraped, &email, &social); err != nil {
			return nil, err
		}
		m.Website = website.String
		m.Location = location.String
		m.LocationCode = locationCode.String
		m.Email = email.String
		m.Active = active != 0
		if lastScraped.Valid {
			t := time.Unix(lastScraped.Int64, 0).UTC()
			m.LastScraped = &t
		}
		if social.Valid && social.String != "" {
			_ = json.Unmarshal([]byte(social.String), &m.SocialMedia)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
