package repository

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tmxbot/envimix/internal/models"
)

// Repository provides data access methods
type Repository struct {
	db *sql.DB
}

// New creates a new Repository
func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign key constraints
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &Repository{db: db}

	if err := repo.migrate(); err != nil {
		return nil, err
	}

	return repo, nil
}

// DB returns the underlying database connection (for transactions)
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Close closes the database connection
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks if the database connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate runs database migrations
func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS campaigns (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			club_id TEXT,
			submitter TEXT,
			status_channel_id TEXT,
			status_message_id TEXT,
			news_channel_id TEXT,
			news_message_id TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS cars (
			id TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS claimants (
			id TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS combinations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			campaign_id TEXT NOT NULL,
			car_id TEXT NOT NULL,
			name TEXT UNIQUE NOT NULL,
			original_map_uid TEXT NOT NULL,
			original_map_name TEXT NOT NULL,
			map_uid TEXT NOT NULL,
			map_name TEXT NOT NULL,
			payload BLOB,
			ord INTEGER NOT NULL DEFAULT 0,
			validated BOOLEAN NOT NULL DEFAULT 0,
			impossible BOOLEAN NOT NULL DEFAULT 0,
			claimant_id TEXT,
			claimed_at DATETIME,
			upstream_updated_at DATETIME,
			updated_at DATETIME,
			FOREIGN KEY (campaign_id) REFERENCES campaigns(id),
			FOREIGN KEY (car_id) REFERENCES cars(id),
			FOREIGN KEY (claimant_id) REFERENCES claimants(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_combinations_campaign ON combinations(campaign_id)`,
		`CREATE INDEX IF NOT EXISTS idx_combinations_original ON combinations(original_map_uid, car_id)`,
		`CREATE INDEX IF NOT EXISTS idx_combinations_claimant ON combinations(claimant_id)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}

// ==================== Campaign Methods ====================

const campaignColumns = `id, name, COALESCE(club_id, ''), COALESCE(submitter, ''),
	COALESCE(status_channel_id, ''), COALESCE(status_message_id, ''),
	COALESCE(news_channel_id, ''), COALESCE(news_message_id, '')`

func scanCampaign(row interface{ Scan(...interface{}) error }) (*models.Campaign, error) {
	var c models.Campaign
	err := row.Scan(&c.ID, &c.Name, &c.ClubID, &c.Submitter,
		&c.StatusChannelID, &c.StatusMessageID, &c.NewsChannelID, &c.NewsMessageID)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCampaign retrieves a campaign by its upstream id
func (r *Repository) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

// ListCampaigns returns all campaigns, newest first
func (r *Repository) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// CreateCampaign persists a campaign with its combinations in one transaction
func (r *Repository) CreateCampaign(ctx context.Context, campaign models.Campaign, combos []models.Combination) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO campaigns (id, name, club_id, submitter) VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''))`,
		campaign.ID, campaign.Name, campaign.ClubID, campaign.Submitter)
	if err != nil {
		return err
	}

	for _, combo := range combos {
		if err := insertCombination(ctx, tx, combo); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SetCampaignStatusRef records the tracking ids of the posted status message
func (r *Repository) SetCampaignStatusRef(ctx context.Context, id, channelID, messageID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET status_channel_id = ?, status_message_id = ? WHERE id = ?`,
		channelID, messageID, id)
	return err
}

// SetCampaignNewsRef records the tracking ids of the posted news message
func (r *Repository) SetCampaignNewsRef(ctx context.Context, id, channelID, messageID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET news_channel_id = ?, news_message_id = ? WHERE id = ?`,
		channelID, messageID, id)
	return err
}

// ==================== Car / Claimant Methods ====================

// EnsureCar creates a car if it does not exist yet
func (r *Repository) EnsureCar(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO cars (id) VALUES (?)`, id)
	return err
}

// ListCars returns all known cars in id order
func (r *Repository) ListCars(ctx context.Context) ([]models.Car, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM cars ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cars []models.Car
	for rows.Next() {
		var c models.Car
		if err := rows.Scan(&c.ID); err != nil {
			return nil, err
		}
		cars = append(cars, c)
	}
	return cars, rows.Err()
}

// EnsureClaimant creates a claimant if it does not exist yet
func (r *Repository) EnsureClaimant(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO claimants (id) VALUES (?)`, id)
	return err
}

// ==================== Combination Methods ====================

const combinationColumns = `id, campaign_id, car_id, name, original_map_uid, original_map_name,
	map_uid, map_name, payload, ord, validated, impossible,
	COALESCE(claimant_id, ''), claimed_at, upstream_updated_at, updated_at`

func scanCombination(row interface{ Scan(...interface{}) error }) (*models.Combination, error) {
	var c models.Combination
	var claimedAt, upstreamUpdated, updatedAt sql.NullTime
	err := row.Scan(&c.ID, &c.CampaignID, &c.CarID, &c.Name,
		&c.OriginalMapUID, &c.OriginalMapName, &c.MapUID, &c.MapName,
		&c.Payload, &c.Order, &c.Validated, &c.Impossible,
		&c.ClaimantID, &claimedAt, &upstreamUpdated, &updatedAt)
	if err != nil {
		return nil, err
	}
	if claimedAt.Valid {
		c.ClaimedAt = &claimedAt.Time
	}
	if upstreamUpdated.Valid {
		c.UpstreamUpdated = &upstreamUpdated.Time
	}
	if updatedAt.Valid {
		c.UpdatedAt = &updatedAt.Time
	}
	return &c, nil
}

func insertCombination(ctx context.Context, tx *sql.Tx, combo models.Combination) error {
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO cars (id) VALUES (?)`, combo.CarID); err != nil {
		return err
	}
	var upstreamUpdated interface{}
	if combo.UpstreamUpdated != nil {
		upstreamUpdated = combo.UpstreamUpdated.UTC()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO combinations (campaign_id, car_id, name, original_map_uid, original_map_name,
			map_uid, map_name, payload, ord, validated, impossible, upstream_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)`,
		combo.CampaignID, combo.CarID, combo.Name, combo.OriginalMapUID, combo.OriginalMapName,
		combo.MapUID, combo.MapName, combo.Payload, combo.Order, upstreamUpdated)
	return err
}

// GetCombinationByName retrieves a combination by its unique display name
func (r *Repository) GetCombinationByName(ctx context.Context, name string) (*models.Combination, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+combinationColumns+` FROM combinations WHERE name = ?`, name)
	c, err := scanCombination(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

// GetCombinationByOriginal retrieves a combination by (original uid, car)
func (r *Repository) GetCombinationByOriginal(ctx context.Context, originalUID, carID string) (*models.Combination, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+combinationColumns+` FROM combinations WHERE original_map_uid = ? AND car_id = ?
		ORDER BY validated DESC, id LIMIT 1`, originalUID, carID)
	c, err := scanCombination(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

// ListCombinations returns a campaign's combinations in display order
func (r *Repository) ListCombinations(ctx context.Context, campaignID string) ([]models.Combination, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+combinationColumns+` FROM combinations WHERE campaign_id = ? ORDER BY ord, car_id, id`,
		campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var combos []models.Combination
	for rows.Next() {
		c, err := scanCombination(rows)
		if err != nil {
			return nil, err
		}
		combos = append(combos, *c)
	}
	return combos, rows.Err()
}

// CreateCombinations inserts combinations in one transaction
func (r *Repository) CreateCombinations(ctx context.Context, combos []models.Combination) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, combo := range combos {
		if err := insertCombination(ctx, tx, combo); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteCombination removes a combination (duplicate pruning only)
func (r *Repository) DeleteCombination(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM combinations WHERE id = ?`, id)
	return err
}

// RebuildCombination replaces the generated identity and payload of an
// existing combination and resets its claim/validation state.
func (r *Repository) RebuildCombination(ctx context.Context, combo models.Combination) error {
	var upstreamUpdated interface{}
	if combo.UpstreamUpdated != nil {
		upstreamUpdated = combo.UpstreamUpdated.UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE combinations SET map_uid = ?, map_name = ?, payload = ?,
			validated = 0, impossible = 0, claimant_id = NULL, claimed_at = NULL,
			upstream_updated_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		combo.MapUID, combo.MapName, combo.Payload, upstreamUpdated, combo.ID)
	return err
}

// ClaimCombination attaches a claimant if the combination is still free.
// The conditional WHERE serializes concurrent claims: only one caller
// observes a row change, every loser sees false.
func (r *Repository) ClaimCombination(ctx context.Context, id int64, claimantID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE combinations SET claimant_id = ?, claimed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND claimant_id IS NULL AND validated = 0`,
		claimantID, at.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UnclaimCombination clears the claimant and claim timestamp
func (r *Repository) UnclaimCombination(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE combinations SET claimant_id = NULL, claimed_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, id)
	return err
}

// SetImpossible flips the impossible flag, retaining the claimant
func (r *Repository) SetImpossible(ctx context.Context, id int64, impossible bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE combinations SET impossible = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		impossible, id)
	return err
}

// InvalidateCombination clears validated, impossible, claimant and timestamp
func (r *Repository) InvalidateCombination(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE combinations SET validated = 0, impossible = 0, claimant_id = NULL, claimed_at = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, id)
	return err
}

// ApplyValidations commits a batch of accepted submissions in one transaction
func (r *Repository) ApplyValidations(ctx context.Context, updates []ValidationUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO claimants (id) VALUES (?)`, u.ClaimantID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE combinations SET validated = 1, impossible = 0, claimant_id = ?, payload = ?,
				claimed_at = COALESCE(claimed_at, ?), updated_at = ?
			WHERE id = ?`,
			u.ClaimantID, u.Payload, u.At.UTC(), u.At.UTC(), u.CombinationID)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CountValidationsByClaimant tallies validated combinations per claimant,
// highest count first
func (r *Repository) CountValidationsByClaimant(ctx context.Context, campaignID string) ([]ClaimantCount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT claimant_id, COUNT(*) FROM combinations
		WHERE campaign_id = ? AND validated = 1 AND claimant_id IS NOT NULL
		GROUP BY claimant_id ORDER BY COUNT(*) DESC, claimant_id`,
		campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []ClaimantCount
	for rows.Next() {
		var c ClaimantCount
		if err := rows.Scan(&c.ClaimantID, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
