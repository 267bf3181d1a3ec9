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

// BeanStorage provides CRUD and scan helpers for the core beans table,
// grounded on the teacher's scanDocument/null-handling idiom.
type BeanStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

func NewBeanStorage(db *sql.DB, logger arbor.ILogger) *BeanStorage {
	return &BeanStorage{db: db, logger: logger}
}

// NextID returns the next sequential id to assign, one more than the
// current max (§4.3 step 8: "assigning ids sequentially starting after
// the current max").
func (b *BeanStorage) NextID(ctx context.Context) (int64, error) {
	var maxID sql.NullInt64
	if err := b.db.QueryRowContext(ctx, "SELECT MAX(id) FROM beans").Scan(&maxID); err != nil {
		return 0, fmt.Errorf("querying max bean id: %w", err)
	}
	return maxID.Int64 + 1, nil
}

// InsertBatch inserts beans within the caller-supplied transaction, one
// prepared statement reused across rows.
func (b *BeanStorage) InsertBatch(ctx context.Context, tx *sql.Tx, beans []models.Bean) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO beans (
			id, name, roaster, roaster_directory, url, image_url, is_single_origin,
			price_paid_for_green, price_paid_currency, roast_level, roast_profile,
			weight_grams, price, currency, price_usd, is_decaf, cupping_score,
			tasting_notes, description, in_stock, scraped_at, scraper_version,
			source_filename, clean_url_slug, bean_url_path, date_added, roaster_location
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`)
	if err != nil {
		return fmt.Errorf("preparing bean insert: %w", err)
	}
	defer stmt.Close()

	for _, bean := range beans {
		notesJSON, err := json.Marshal(bean.TastingNotes)
		if err != nil {
			return fmt.Errorf("marshaling tasting notes for %s: %w", bean.URL, err)
		}
		_, err = stmt.ExecContext(ctx,
			bean.ID, bean.Name, bean.Roaster, bean.RoasterDirectory, bean.URL, nullStr(bean.ImageURL), boolInt(bean.IsSingleOrigin),
			bean.PricePaidForGreen, nullStr(bean.PricePaidCurrency), nullStr(bean.RoastLevel), nullStr(bean.RoastProfile),
			bean.WeightGrams, bean.Price, nullStr(bean.Currency), bean.PriceUSD, boolInt(bean.IsDecaf), bean.CuppingScore,
			string(notesJSON), nullStr(bean.Description), boolInt(bean.InStock), bean.ScrapedAt.Unix(), nullStr(bean.ScraperVersion),
			nullStr(bean.SourceFilename), bean.CleanURLSlug, bean.BeanURLPath, bean.DateAdded.Unix(), nullStr(bean.RoasterLocation),
		)
		if err != nil {
			return fmt.Errorf("inserting bean %s: %w", bean.URL, err)
		}
	}
	return nil
}

// ByRoasterAndURL looks up a bean by its natural key for diff application.
func (b *BeanStorage) ByRoasterAndURL(ctx context.Context, roasterDirectory, url string) (*models.Bean, error) {
	row := b.db.QueryRowContext(ctx, beanSelectSQL+" WHERE roaster_directory = ? AND url = ?", roasterDirectory, url)
	return scanBean(row)
}

// ByURL looks up a bean by url alone, newest first, for diff application
// (a diff file names the url but not the roaster).
func (b *BeanStorage) ByURL(ctx context.Context, url string) (*models.Bean, error) {
	row := b.db.QueryRowContext(ctx, beanSelectSQL+" WHERE url = ? ORDER BY scraped_at DESC LIMIT 1", url)
	return scanBean(row)
}

// ByID looks up a bean by surrogate id.
func (b *BeanStorage) ByID(ctx context.Context, id int64) (*models.Bean, error) {
	row := b.db.QueryRowContext(ctx, beanSelectSQL+" WHERE id = ?", id)
	return scanBean(row)
}

// Search runs an arbitrary caller-built predicate against the beans table,
// the entry point the search/browse engines use instead of duplicating
// beanSelectSQL's column list.
func (b *BeanStorage) Search(ctx context.Context, where string, args []any) ([]models.Bean, error) {
	rows, err := b.db.QueryContext(ctx, beanSelectSQL+" WHERE "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("searching beans: %w", err)
	}
	defer rows.Close()

	var out []models.Bean
	for rows.Next() {
		bean, err := scanBean(rows)
		if err != nil {
			return nil, err
		}
		if bean != nil {
			out = append(out, *bean)
		}
	}
	return out, rows.Err()
}

// ApplyDiff updates only the non-nil fields of a partial update onto the
// stored bean (§4.3.1: "update only the fields present in the partial").
func (b *BeanStorage) ApplyDiff(ctx context.Context, id int64, set map[string]interface{}) error {
	if len(set) == 0 {
		return nil
	}
	cols := make([]string, 0, len(set))
	args := make([]interface{}, 0, len(set)+1)
	for col, val := range set {
		cols = append(cols, col+" = ?")
		args = append(args, val)
	}
	args = append(args, id)
	query := "UPDATE beans SET "
	for i, c := range cols {
		if i > 0 {
			query += ", "
		}
		query += c
	}
	query += " WHERE id = ?"
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("applying diff to bean %d: %w", id, err)
	}
	return nil
}

// SetPriceUSD recomputes price_usd for every bean with a known price
// (§4.3 step 14). rate is USD->currency, so price_usd = price / rate.
func (b *BeanStorage) SetPriceUSD(ctx context.Context, currency string, rate float64) error {
	if rate == 0 {
		return nil
	}
	_, err := b.db.ExecContext(ctx, `
		UPDATE beans SET price_usd = price / ? WHERE currency = ? AND price IS NOT NULL
	`, rate, currency)
	if err != nil {
		return fmt.Errorf("recomputing price_usd for %s: %w", currency, err)
	}
	return nil
}

// ClearPriceUSDWhereUnknownRate nulls price_usd for currencies with no
// known rate, so stale values never linger across a rate-table change.
func (b *BeanStorage) ClearPriceUSDWhereUnknownRate(ctx context.Context, knownCurrencies []string) error {
	if len(knownCurrencies) == 0 {
		_, err := b.db.ExecContext(ctx, `UPDATE beans SET price_usd = NULL`)
		return err
	}
	placeholders := ""
	args := make([]interface{}, len(knownCurrencies))
	for i, c := range knownCurrencies {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = c
	}
	query := fmt.Sprintf(`UPDATE beans SET price_usd = NULL WHERE currency NOT IN (%s) OR currency IS NULL`, placeholders)
	_, err := b.db.ExecContext(ctx, query, args...)
	return err
}

// SetInStock reconciles in_stock for every bean in a roaster directory
// against the desired per-url map: urls absent from the map flip to
// out-of-stock (rows stay, for history), present urls take the mapped
// value.
func (b *BeanStorage) SetInStock(ctx context.Context, tx *sql.Tx, roasterDirectory string, inStockURLs map[string]bool) error {
	rows, err := tx.QueryContext(ctx, "SELECT id, url FROM beans WHERE roaster_directory = ?", roasterDirectory)
	if err != nil {
		return fmt.Errorf("listing beans for %s: %w", roasterDirectory, err)
	}
	type idURL struct {
		id  int64
		url string
	}
	var all []idURL
	for rows.Next() {
		var iu idURL
		if err := rows.Scan(&iu.id, &iu.url); err != nil {
			rows.Close()
			return err
		}
		all = append(all, iu)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, "UPDATE beans SET in_stock = ? WHERE id = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, iu := range all {
		inStock := inStockURLs[iu.url]
		if _, err := stmt.ExecContext(ctx, boolInt(inStock), iu.id); err != nil {
			return fmt.Errorf("setting in_stock for bean %d: %w", iu.id, err)
		}
	}
	return nil
}

// DeleteByIDs removes beans (and cascading origins) being replaced by a
// re-scraped snapshot of the same (roaster_directory, url).
func (b *BeanStorage) DeleteByIDs(ctx context.Context, tx *sql.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, "DELETE FROM beans WHERE id = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("deleting replaced bean %d: %w", id, err)
		}
	}
	return nil
}

// DeleteBySourceFilenames removes beans (and cascading origins) whose
// source_filename matches any of the given names — the deletion-sweep
// cascade of §4.1/§4.3 step 5.
func (b *BeanStorage) DeleteBySourceFilenames(ctx context.Context, tx *sql.Tx, filenames []string) (int64, error) {
	if len(filenames) == 0 {
		return 0, nil
	}
	placeholders := ""
	args := make([]interface{}, len(filenames))
	for i, f := range filenames {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = f
	}
	res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM beans WHERE source_filename IN (%s)", placeholders), args...)
	if err != nil {
		return 0, fmt.Errorf("deleting beans for removed files: %w", err)
	}
	return res.RowsAffected()
}

const beanSelectSQL = `
SELECT id, name, roaster, roaster_directory, url, image_url, is_single_origin,
	price_paid_for_green, price_paid_currency, roast_level, roast_profile,
	weight_grams, price, currency, price_usd, is_decaf, cupping_score,
	tasting_notes, description, in_stock, scraped_at, scraper_version,
	source_filename, clean_url_slug, bean_url_path, date_added, roaster_location
FROM beans`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBean(row scanner) (*models.Bean, error) {
	var bean models.Bean
	var imageURL, priceCurrency, priceCurrency2, roastLevel, roastProfile, description, scraperVersion, sourceFilename, roasterLocation sql.NullString
	var notesJSON sql.NullString
	var scrapedAt, dateAdded int64
	var isSingleOrigin, isDecaf, inStock int

	err := row.Scan(
		&bean.ID, &bean.Name, &bean.Roaster, &bean.RoasterDirectory, &bean.URL, &imageURL, &isSingleOrigin,
		&bean.PricePaidForGreen, &priceCurrency, &roastLevel, &roastProfile,
		&bean.WeightGrams, &bean.Price, &priceCurrency2, &bean.PriceUSD, &isDecaf, &bean.CuppingScore,
		&notesJSON, &description, &inStock, &scrapedAt, &scraperVersion,
		&sourceFilename, &bean.CleanURLSlug, &bean.BeanURLPath, &dateAdded, &roasterLocation,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning bean row: %w", err)
	}

	bean.ImageURL = imageURL.String
	bean.PricePaidCurrency = priceCurrency.String
	bean.RoastLevel = roastLevel.String
	bean.RoastProfile = roastProfile.String
	bean.Currency = priceCurrency2.String
	bean.Description = description.String
	bean.ScraperVersion = scraperVersion.String
	bean.SourceFilename = sourceFilename.String
	bean.RoasterLocation = roasterLocation.String
	bean.IsSingleOrigin = isSingleOrigin != 0
	bean.IsDecaf = isDecaf != 0
	bean.InStock = inStock != 0
	bean.ScrapedAt = time.Unix(scrapedAt, 0).UTC()
	bean.DateAdded = time.Unix(dateAdded, 0).UTC()

	if notesJSON.Valid && notesJSON.String != "" {
		_ = json.Unmarshal([]byte(notesJSON.String), &bean.TastingNotes)
	}

	return &bean, nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
