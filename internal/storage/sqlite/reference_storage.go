package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/models"
)

// ReferenceStorage loads the static reference tables recovered from
// original_source (country codes, roaster location codes, tasting note
// categories, WCR varietal metadata) and the varietal/processing
// canonicalization join tables (§4.2).
type ReferenceStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

func NewReferenceStorage(db *sql.DB, logger arbor.ILogger) *ReferenceStorage {
	return &ReferenceStorage{db: db, logger: logger}
}

func (r *ReferenceStorage) ReplaceCountryCodes(ctx context.Context, codes []models.CountryCode) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM country_codes"); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO country_codes (name, alpha_2, alpha_3, numeric_code, region, sub_region) VALUES (?,?,?,?,?,?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range codes {
		if _, err := stmt.ExecContext(ctx, c.Name, c.Alpha2, c.Alpha3, c.NumericCode, c.Region, c.SubRegion); err != nil {
			return fmt.Errorf("inserting country code %s: %w", c.Alpha2, err)
		}
	}
	return tx.Commit()
}

// CountryFullName resolves an alpha-2 code to its display name, used by
// the country_full_name free-text search branch of §4.6.
func (r *ReferenceStorage) CountryFullName(ctx context.Context, alpha2 string) (string, bool, error) {
	var name string
	err := r.db.QueryRowContext(ctx, "SELECT name FROM country_codes WHERE alpha_2 = ?", alpha2).Scan(&name)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

func (r *ReferenceStorage) ReplaceVarietalMap(ctx context.Context, mappings []models.VarietalMapping) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM varietal_map"); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO varietal_map (original_name_lower, canonical_names, confidence, is_compound, separator) VALUES (?,?,?,?,?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, m := range mappings {
		namesJSON, err := json.Marshal(m.CanonicalNames)
		if err != nil {
			return err
		}
		key := lower(m.OriginalName)
		if _, err := stmt.ExecContext(ctx, key, string(namesJSON), m.Confidence, boolInt(m.IsCompound), m.Separator); err != nil {
			return fmt.Errorf("inserting varietal mapping %s: %w", m.OriginalName, err)
		}
	}
	return tx.Commit()
}

// CanonicalVarieties resolves an original variety string (case-insensitive
// exact match, per §4.2) to its exploded canonical names.
func (r *ReferenceStorage) CanonicalVarieties(ctx context.Context, original string) ([]string, bool, error) {
	var namesJSON string
	err := r.db.QueryRowContext(ctx, "SELECT canonical_names FROM varietal_map WHERE original_name_lower = ?", lower(original)).Scan(&namesJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var names []string
	if err := json.Unmarshal([]byte(namesJSON), &names); err != nil {
		return nil, false, err
	}
	return names, true, nil
}

func (r *ReferenceStorage) ReplaceProcessingMap(ctx context.Context, mappings []models.ProcessingMapping) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM processing_map"); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO processing_map (original_name_lower, common_name) VALUES (?,?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, m := range mappings {
		if _, err := stmt.ExecContext(ctx, lower(m.OriginalName), m.CommonName); err != nil {
			return fmt.Errorf("inserting processing mapping %s: %w", m.OriginalName, err)
		}
	}
	return tx.Commit()
}

// CommonProcessName resolves an original processing method to its
// canonical common name, falling back to the original when absent
// (§4.3 step 9: "else copy process").
func (r *ReferenceStorage) CommonProcessName(ctx context.Context, original string) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx, "SELECT common_name FROM processing_map WHERE original_name_lower = ?", lower(original)).Scan(&name)
	if err == sql.ErrNoRows {
		return original, nil
	}
	if err != nil {
		return original, err
	}
	return name, nil
}

func (r *ReferenceStorage) ReplaceTastingNoteCategories(ctx context.Context, cats []models.TastingNoteCategory) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM tasting_notes_categories"); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO tasting_notes_categories (tasting_note, primary_category, secondary_category, tertiary_category, confidence) VALUES (?,?,?,?,?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range cats {
		if _, err := stmt.ExecContext(ctx, lower(c.TastingNote), c.PrimaryCategory, c.SecondaryCategory, c.TertiaryCategory, c.Confidence); err != nil {
			return fmt.Errorf("inserting tasting note category %s: %w", c.TastingNote, err)
		}
	}
	return tx.Commit()
}

func (r *ReferenceStorage) ReplaceVarietals(ctx context.Context, varietals []models.Varietal) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM coffee_varietals"); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO coffee_varietals (name, description, link, species) VALUES (?,?,?,?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, v := range varietals {
		if _, err := stmt.ExecContext(ctx, v.Name, v.Description, v.Link, v.Species); err != nil {
			return fmt.Errorf("inserting varietal %s: %w", v.Name, err)
		}
	}
	return tx.Commit()
}

// VarietalMetadata looks up World Coffee Research descriptive metadata for
// a canonical varietal name (case-insensitive); absent names simply omit
// the fields per SPEC_FULL.md.
func (r *ReferenceStorage) VarietalMetadata(ctx context.Context, name string) (*models.Varietal, error) {
	row := r.db.QueryRowContext(ctx, "SELECT name, description, link, species FROM coffee_varietals WHERE LOWER(name) = LOWER(?)", name)
	var v models.Varietal
	err := row.Scan(&v.Name, &v.Description, &v.Link, &v.Species)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *ReferenceStorage) ReplaceRoasterLocationCodes(ctx context.Context, codes map[string]string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM roaster_location_codes"); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO roaster_location_codes (location_text, code) VALUES (?,?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for loc, code := range codes {
		if _, err := stmt.ExecContext(ctx, loc, code); err != nil {
			return fmt.Errorf("inserting roaster location code %s: %w", loc, err)
		}
	}
	return tx.Commit()
}

func lower(s string) string {
	return strings.ToLower(s)
}
