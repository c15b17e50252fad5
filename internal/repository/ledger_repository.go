package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/scholarflow-api/internal/ledger"
	"github.com/noah-isme/scholarflow-api/internal/models"
)

const (
	grantColumns = `id, grant_owner, title, description, total_funding, remaining_funding, target_demographic,
       target_education_level, max_grant_per_student, application_deadline, is_active, approved_students, created_at`
	applicationColumns = `id, grant_id, student_address, application_text, requested_amount, application_timestamp,
       status, reviewed_by, reviewed_at, review_note`
	profileColumns = `id, student_address, name, age, demographic, education_level, documents_verified,
       verification_timestamp, total_grants_received, updated_at`
)

// grantRow carries the Postgres array column that models.Grant keeps as a plain slice.
type grantRow struct {
	models.Grant
	Approved pq.StringArray `db:"approved_students"`
}

func (r grantRow) toModel() models.Grant {
	g := r.Grant
	g.ApprovedStudents = append([]string{}, r.Approved...)
	return g
}

type storeItemRow struct {
	StoreID string `db:"store_id"`
	models.StoreItem
}

// LedgerRepository persists ledger state in PostgreSQL and satisfies ledger.Store.
type LedgerRepository struct {
	db *sqlx.DB
}

var _ ledger.Store = (*LedgerRepository)(nil)

// NewLedgerRepository constructs the repository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrRecordNotFound
	}
	return err
}

// GetProfile fetches a student profile by wallet address.
func (r *LedgerRepository) GetProfile(ctx context.Context, address string) (*models.StudentProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM student_profiles WHERE student_address = $1`
	var profile models.StudentProfile
	if err := r.db.GetContext(ctx, &profile, query, address); err != nil {
		return nil, notFound(err)
	}
	return &profile, nil
}

const upsertProfileQuery = `INSERT INTO student_profiles
	(id, student_address, name, age, demographic, education_level, documents_verified, verification_timestamp, total_grants_received, updated_at)
	VALUES (:id, :student_address, :name, :age, :demographic, :education_level, :documents_verified, :verification_timestamp, :total_grants_received, :updated_at)
	ON CONFLICT (student_address) DO UPDATE SET
	name = EXCLUDED.name,
	age = EXCLUDED.age,
	demographic = EXCLUDED.demographic,
	education_level = EXCLUDED.education_level,
	documents_verified = EXCLUDED.documents_verified,
	verification_timestamp = EXCLUDED.verification_timestamp,
	total_grants_received = EXCLUDED.total_grants_received,
	updated_at = EXCLUDED.updated_at`

// SaveProfile inserts or replaces a profile.
func (r *LedgerRepository) SaveProfile(ctx context.Context, profile *models.StudentProfile) error {
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now().UTC()
	}
	if _, err := r.db.NamedExecContext(ctx, upsertProfileQuery, profile); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// GetGrant fetches a grant by id.
func (r *LedgerRepository) GetGrant(ctx context.Context, id string) (*models.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM grants WHERE id = $1`
	var row grantRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, notFound(err)
	}
	grant := row.toModel()
	return &grant, nil
}

// ListGrants returns every grant, oldest first.
func (r *LedgerRepository) ListGrants(ctx context.Context) ([]models.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM grants ORDER BY created_at ASC, id ASC`
	var rows []grantRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	grants := make([]models.Grant, 0, len(rows))
	for _, row := range rows {
		grants = append(grants, row.toModel())
	}
	return grants, nil
}

// InsertGrant stores a new grant.
func (r *LedgerRepository) InsertGrant(ctx context.Context, grant *models.Grant) error {
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now().UTC()
	}
	row := grantRow{Grant: *grant, Approved: pq.StringArray(append([]string{}, grant.ApprovedStudents...))}
	const query = `INSERT INTO grants
	(id, grant_owner, title, description, total_funding, remaining_funding, target_demographic, target_education_level,
	 max_grant_per_student, application_deadline, is_active, approved_students, created_at)
	VALUES (:id, :grant_owner, :title, :description, :total_funding, :remaining_funding, :target_demographic, :target_education_level,
	 :max_grant_per_student, :application_deadline, :is_active, :approved_students, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

// CloseExpiredGrants deactivates grants whose deadline has passed and returns their ids.
func (r *LedgerRepository) CloseExpiredGrants(ctx context.Context, now time.Time) ([]string, error) {
	const query = `UPDATE grants SET is_active = FALSE
	WHERE is_active = TRUE AND application_deadline <= $1
	RETURNING id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, now); err != nil {
		return nil, fmt.Errorf("close expired grants: %w", err)
	}
	return ids, nil
}

// GetApplication fetches an application by id.
func (r *LedgerRepository) GetApplication(ctx context.Context, id string) (*models.GrantApplication, error) {
	query := `SELECT ` + applicationColumns + ` FROM grant_applications WHERE id = $1`
	var app models.GrantApplication
	if err := r.db.GetContext(ctx, &app, query, id); err != nil {
		return nil, notFound(err)
	}
	return &app, nil
}

// ListApplications returns applications matching the filter, oldest first.
func (r *LedgerRepository) ListApplications(ctx context.Context, filter models.ApplicationFilter) ([]models.GrantApplication, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT a.id, a.grant_id, a.student_address, a.application_text, a.requested_amount,
       a.application_timestamp, a.status, a.reviewed_by, a.reviewed_at, a.review_note
	FROM grant_applications a`)

	conditions := make([]string, 0, 4)
	if filter.GrantOwner != "" {
		builder.WriteString(" JOIN grants g ON g.id = a.grant_id")
		args = append(args, filter.GrantOwner)
		conditions = append(conditions, fmt.Sprintf("LOWER(g.grant_owner) = LOWER($%d)", len(args)))
	}
	if filter.ID != "" {
		args = append(args, filter.ID)
		conditions = append(conditions, fmt.Sprintf("a.id = $%d", len(args)))
	}
	if filter.GrantID != "" {
		args = append(args, filter.GrantID)
		conditions = append(conditions, fmt.Sprintf("a.grant_id = $%d", len(args)))
	}
	if filter.StudentAddress != "" {
		args = append(args, filter.StudentAddress)
		conditions = append(conditions, fmt.Sprintf("a.student_address = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY a.application_timestamp ASC, a.id ASC")

	apps := make([]models.GrantApplication, 0)
	if err := r.db.SelectContext(ctx, &apps, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return apps, nil
}

// InsertApplication stores a new application.
func (r *LedgerRepository) InsertApplication(ctx context.Context, app *models.GrantApplication) error {
	const query = `INSERT INTO grant_applications
	(id, grant_id, student_address, application_text, requested_amount, application_timestamp, status, reviewed_by, reviewed_at, review_note)
	VALUES (:id, :grant_id, :student_address, :application_text, :requested_amount, :application_timestamp, :status, :reviewed_by, :reviewed_at, :review_note)`
	if _, err := r.db.NamedExecContext(ctx, query, app); err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

// GetWallet fetches a wallet and its spending history.
func (r *LedgerRepository) GetWallet(ctx context.Context, address string) (*models.StudentWallet, error) {
	const query = `SELECT id, student_address, available_balance, total_received FROM student_wallets WHERE student_address = $1`
	var wallet models.StudentWallet
	if err := r.db.GetContext(ctx, &wallet, query, address); err != nil {
		return nil, notFound(err)
	}

	const historyQuery = `SELECT amount, merchant_address, merchant_type, item_description, "timestamp"
	FROM spending_records WHERE student_address = $1 ORDER BY "timestamp" ASC, id ASC`
	wallet.SpendingHistory = make([]models.SpendingRecord, 0)
	if err := r.db.SelectContext(ctx, &wallet.SpendingHistory, historyQuery, address); err != nil {
		return nil, fmt.Errorf("load spending history: %w", err)
	}
	return &wallet, nil
}

const upsertWalletQuery = `INSERT INTO student_wallets (id, student_address, available_balance, total_received)
	VALUES (:id, :student_address, :available_balance, :total_received)
	ON CONFLICT (student_address) DO UPDATE SET
	available_balance = EXCLUDED.available_balance,
	total_received = EXCLUDED.total_received`

// SaveWallet inserts or replaces the wallet balances. Spending history is append-only via CommitPurchase.
func (r *LedgerRepository) SaveWallet(ctx context.Context, wallet *models.StudentWallet) error {
	if _, err := r.db.NamedExecContext(ctx, upsertWalletQuery, wallet); err != nil {
		return fmt.Errorf("save wallet: %w", err)
	}
	return nil
}

// GetStore fetches a store with its catalog.
func (r *LedgerRepository) GetStore(ctx context.Context, id string) (*models.EducationalStore, error) {
	const query = `SELECT id, owner, name, store_type, is_verified_educational FROM stores WHERE id = $1`
	var store models.EducationalStore
	if err := r.db.GetContext(ctx, &store, query, id); err != nil {
		return nil, notFound(err)
	}
	items, err := r.storeItems(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	store.Items = items[id]
	if store.Items == nil {
		store.Items = []models.StoreItem{}
	}
	return &store, nil
}

// ListStores returns every store with its catalog.
func (r *LedgerRepository) ListStores(ctx context.Context) ([]models.EducationalStore, error) {
	const query = `SELECT id, owner, name, store_type, is_verified_educational FROM stores ORDER BY id ASC`
	stores := make([]models.EducationalStore, 0)
	if err := r.db.SelectContext(ctx, &stores, query); err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	if len(stores) == 0 {
		return stores, nil
	}
	ids := make([]string, len(stores))
	for i, s := range stores {
		ids[i] = s.ID
	}
	items, err := r.storeItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range stores {
		stores[i].Items = items[stores[i].ID]
		if stores[i].Items == nil {
			stores[i].Items = []models.StoreItem{}
		}
	}
	return stores, nil
}

func (r *LedgerRepository) storeItems(ctx context.Context, storeIDs []string) (map[string][]models.StoreItem, error) {
	const query = `SELECT store_id, item_id, name, description, price, is_available
	FROM store_items WHERE store_id = ANY($1) ORDER BY store_id ASC, item_id ASC`
	var rows []storeItemRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(storeIDs)); err != nil {
		return nil, fmt.Errorf("list store items: %w", err)
	}
	out := make(map[string][]models.StoreItem, len(storeIDs))
	for _, row := range rows {
		out[row.StoreID] = append(out[row.StoreID], row.StoreItem)
	}
	return out, nil
}

// InsertStore stores a merchant and its catalog in one transaction.
func (r *LedgerRepository) InsertStore(ctx context.Context, store *models.EducationalStore) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert store: %w", err)
	}
	defer finishTx(tx, &err)

	const storeQuery = `INSERT INTO stores (id, owner, name, store_type, is_verified_educational)
	VALUES (:id, :owner, :name, :store_type, :is_verified_educational)`
	if _, err = tx.NamedExecContext(ctx, storeQuery, store); err != nil {
		return fmt.Errorf("insert store: %w", err)
	}
	const itemQuery = `INSERT INTO store_items (store_id, item_id, name, description, price, is_available)
	VALUES (:store_id, :item_id, :name, :description, :price, :is_available)`
	for _, item := range store.Items {
		if _, err = tx.NamedExecContext(ctx, itemQuery, storeItemRow{StoreID: store.ID, StoreItem: item}); err != nil {
			return fmt.Errorf("insert store item %s: %w", item.ItemID, err)
		}
	}
	return nil
}

// CommitReview writes every effect of a review atomically. The application row is
// only updated while still pending; otherwise ledger.ErrStaleState is returned.
func (r *LedgerRepository) CommitReview(ctx context.Context, effects ledger.ReviewEffects) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin review: %w", err)
	}
	defer finishTx(tx, &err)

	app := effects.Application
	const reviewQuery = `UPDATE grant_applications SET
	status = $1, reviewed_by = $2, reviewed_at = $3, review_note = $4
	WHERE id = $5 AND status = 'pending'`
	result, err := tx.ExecContext(ctx, reviewQuery, app.Status, app.ReviewedBy, app.ReviewedAt, app.ReviewNote, app.ID)
	if err != nil {
		return fmt.Errorf("update application status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check application update rows: %w", err)
	}
	if rows == 0 {
		return ledger.ErrStaleState
	}

	if g := effects.Grant; g != nil {
		const grantQuery = `UPDATE grants SET remaining_funding = $1, approved_students = $2 WHERE id = $3`
		if _, err = tx.ExecContext(ctx, grantQuery, g.RemainingFunding, pq.StringArray(g.ApprovedStudents), g.ID); err != nil {
			return fmt.Errorf("update grant funding: %w", err)
		}
	}
	if w := effects.Wallet; w != nil {
		if _, err = tx.NamedExecContext(ctx, upsertWalletQuery, w); err != nil {
			return fmt.Errorf("credit wallet: %w", err)
		}
	}
	if p := effects.Profile; p != nil {
		const profileQuery = `UPDATE student_profiles SET total_grants_received = $1, updated_at = $2 WHERE student_address = $3`
		if _, err = tx.ExecContext(ctx, profileQuery, p.TotalGrantsReceived, p.UpdatedAt, p.StudentAddress); err != nil {
			return fmt.Errorf("update profile grant count: %w", err)
		}
	}
	return nil
}

// CommitPurchase debits the wallet and appends the spending record atomically.
func (r *LedgerRepository) CommitPurchase(ctx context.Context, wallet *models.StudentWallet, record models.SpendingRecord) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin purchase: %w", err)
	}
	defer finishTx(tx, &err)

	const debitQuery = `UPDATE student_wallets SET available_balance = $1 WHERE student_address = $2`
	result, err := tx.ExecContext(ctx, debitQuery, wallet.AvailableBalance, wallet.StudentAddress)
	if err != nil {
		return fmt.Errorf("debit wallet: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check wallet update rows: %w", err)
	}
	if rows == 0 {
		return ledger.ErrStaleState
	}

	const recordQuery = `INSERT INTO spending_records
	(student_address, amount, merchant_address, merchant_type, item_description, "timestamp")
	VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err = tx.ExecContext(ctx, recordQuery, wallet.StudentAddress, record.Amount, record.MerchantAddress,
		record.MerchantType, record.ItemDescription, record.Timestamp); err != nil {
		return fmt.Errorf("insert spending record: %w", err)
	}
	return nil
}

// Stats aggregates the registry counters.
func (r *LedgerRepository) Stats(ctx context.Context) (*models.SystemRegistry, error) {
	const query = `SELECT
	(SELECT COUNT(*) FROM student_profiles) AS total_students,
	(SELECT COUNT(*) FROM grants) AS total_grants,
	(SELECT COUNT(*) FROM stores) AS total_stores,
	(SELECT COALESCE(SUM(total_funding - remaining_funding), 0) FROM grants) AS total_funding_distributed`
	var row struct {
		Students    int    `db:"total_students"`
		Grants      int    `db:"total_grants"`
		Stores      int    `db:"total_stores"`
		Distributed string `db:"total_funding_distributed"`
	}
	if err := r.db.GetContext(ctx, &row, query); err != nil {
		return nil, fmt.Errorf("registry stats: %w", err)
	}
	stats := &models.SystemRegistry{
		TotalStudents: row.Students,
		TotalGrants:   row.Grants,
		TotalStores:   row.Stores,
	}
	if err := stats.TotalFundingDistributed.Scan(row.Distributed); err != nil {
		return nil, fmt.Errorf("parse distributed funding: %w", err)
	}
	return stats, nil
}

func finishTx(tx *sqlx.Tx, errp *error) {
	if *errp != nil {
		_ = tx.Rollback()
		return
	}
	if err := tx.Commit(); err != nil {
		*errp = fmt.Errorf("commit: %w", err)
	}
}
