package seller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"artpay/internal/common/database"
)

// Store provides seller data access
type Store struct {
	db *database.DB
}

// NewStore creates a new seller store
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// UpsertKYC creates or replaces a seller's KYC record, resetting it to
// PENDING for re-review.
func (s *Store) UpsertKYC(ctx context.Context, kyc *KYC) error {
	query := `
		INSERT INTO seller_kyc (
			seller_id, status, legal_name, pan, gstin, reject_reason,
			submitted_at, verified_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (seller_id) DO UPDATE SET
			status = EXCLUDED.status,
			legal_name = EXCLUDED.legal_name,
			pan = EXCLUDED.pan,
			gstin = EXCLUDED.gstin,
			reject_reason = '',
			verified_at = NULL,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.Exec(ctx, query,
		kyc.SellerID, kyc.Status, kyc.LegalName, kyc.PAN, kyc.GSTIN,
		kyc.RejectReason, kyc.SubmittedAt, kyc.VerifiedAt, kyc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting kyc: %w", err)
	}
	return nil
}

// GetKYC retrieves a seller's KYC record
func (s *Store) GetKYC(ctx context.Context, sellerID string) (*KYC, error) {
	query := `
		SELECT seller_id, status, legal_name, pan, gstin, reject_reason,
			   submitted_at, verified_at, updated_at
		FROM seller_kyc
		WHERE seller_id = $1
	`

	var k KYC
	err := s.db.QueryRow(ctx, query, sellerID).Scan(
		&k.SellerID, &k.Status, &k.LegalName, &k.PAN, &k.GSTIN,
		&k.RejectReason, &k.SubmittedAt, &k.VerifiedAt, &k.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning kyc: %w", err)
	}
	return &k, nil
}

// SetKYCStatus updates the verification outcome for a seller.
func (s *Store) SetKYCStatus(ctx context.Context, sellerID string, status KYCStatus, rejectReason string) error {
	var verifiedAt *time.Time
	if status == KYCVerified {
		now := time.Now().UTC()
		verifiedAt = &now
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE seller_kyc
		SET status = $1, reject_reason = $2, verified_at = $3, updated_at = $4
		WHERE seller_id = $5
	`, status, rejectReason, verifiedAt, time.Now().UTC(), sellerID)
	if err != nil {
		return fmt.Errorf("updating kyc status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

// CreateBankAccount inserts a bank account. When the new account is primary
// the previous primary is demoted within the same transaction.
func (s *Store) CreateBankAccount(ctx context.Context, account *BankAccount) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if account.IsPrimary {
			_, err := tx.Exec(ctx, `
				UPDATE seller_bank_accounts
				SET is_primary = FALSE, updated_at = $1
				WHERE seller_id = $2 AND is_primary = TRUE
			`, time.Now().UTC(), account.SellerID)
			if err != nil {
				return fmt.Errorf("demoting primary account: %w", err)
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO seller_bank_accounts (
				id, seller_id, account_number, ifsc, holder_name, status,
				is_primary, is_active, fail_reason, verified_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			account.ID, account.SellerID, account.AccountNumber, account.IFSC,
			account.HolderName, account.Status, account.IsPrimary, account.IsActive,
			account.FailReason, account.VerifiedAt, account.CreatedAt, account.UpdatedAt,
		)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return fmt.Errorf("bank account already exists: %w", database.ErrAlreadyExists)
			}
			return fmt.Errorf("inserting bank account: %w", err)
		}
		return nil
	})
}

// GetBankAccount retrieves a bank account by ID
func (s *Store) GetBankAccount(ctx context.Context, id string) (*BankAccount, error) {
	query := `
		SELECT id, seller_id, account_number, ifsc, holder_name, status,
			   is_primary, is_active, fail_reason, verified_at, created_at, updated_at
		FROM seller_bank_accounts
		WHERE id = $1
	`
	return scanBankAccount(s.db.QueryRow(ctx, query, id))
}

// ListBankAccounts lists a seller's bank accounts
func (s *Store) ListBankAccounts(ctx context.Context, sellerID string) ([]*BankAccount, error) {
	query := `
		SELECT id, seller_id, account_number, ifsc, holder_name, status,
			   is_primary, is_active, fail_reason, verified_at, created_at, updated_at
		FROM seller_bank_accounts
		WHERE seller_id = $1
		ORDER BY created_at
	`

	rows, err := s.db.Query(ctx, query, sellerID)
	if err != nil {
		return nil, fmt.Errorf("listing bank accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*BankAccount
	for rows.Next() {
		account, err := scanBankAccountRows(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// GetPayoutAccount retrieves the seller's primary verified active account.
func (s *Store) GetPayoutAccount(ctx context.Context, sellerID string) (*BankAccount, error) {
	query := `
		SELECT id, seller_id, account_number, ifsc, holder_name, status,
			   is_primary, is_active, fail_reason, verified_at, created_at, updated_at
		FROM seller_bank_accounts
		WHERE seller_id = $1 AND is_primary = TRUE AND is_active = TRUE AND status = $2
	`
	return scanBankAccount(s.db.QueryRow(ctx, query, sellerID, BankVerified))
}

// SetBankAccountStatus records the penny-drop verification outcome.
func (s *Store) SetBankAccountStatus(ctx context.Context, id string, status BankAccountStatus, failReason string) error {
	var verifiedAt *time.Time
	if status == BankVerified {
		now := time.Now().UTC()
		verifiedAt = &now
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE seller_bank_accounts
		SET status = $1, fail_reason = $2, verified_at = $3, updated_at = $4
		WHERE id = $5 AND status = $6
	`, status, failReason, verifiedAt, time.Now().UTC(), id, BankPending)
	if err != nil {
		return fmt.Errorf("updating bank account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return database.ErrConflict
	}
	return nil
}

// CreateLinkedAccount inserts a gateway linked account record
func (s *Store) CreateLinkedAccount(ctx context.Context, account *LinkedAccount) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO seller_linked_accounts (
			id, seller_id, gateway_account_id, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`,
		account.ID, account.SellerID, account.GatewayAccountID,
		account.Status, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("linked account already exists for seller %s: %w", account.SellerID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting linked account: %w", err)
	}
	return nil
}

// GetLinkedAccount retrieves the linked account for a seller
func (s *Store) GetLinkedAccount(ctx context.Context, sellerID string) (*LinkedAccount, error) {
	query := `
		SELECT id, seller_id, gateway_account_id, status, created_at, updated_at
		FROM seller_linked_accounts
		WHERE seller_id = $1
	`

	var la LinkedAccount
	err := s.db.QueryRow(ctx, query, sellerID).Scan(
		&la.ID, &la.SellerID, &la.GatewayAccountID, &la.Status, &la.CreatedAt, &la.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning linked account: %w", err)
	}
	return &la, nil
}

// UpdateLinkedAccountStatus persists a linked account lifecycle change.
func (s *Store) UpdateLinkedAccountStatus(ctx context.Context, id string, status LinkedAccountStatus) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE seller_linked_accounts
		SET status = $1, updated_at = $2
		WHERE id = $3
	`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating linked account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

// GetRates returns the seller's rate override, or the platform defaults when
// none is set.
func (s *Store) GetRates(ctx context.Context, sellerID string) (Rates, error) {
	query := `
		SELECT commission_bps, gst_bps, tds_bps, tds_exempt
		FROM seller_rate_overrides
		WHERE seller_id = $1
	`

	var r Rates
	err := s.db.QueryRow(ctx, query, sellerID).Scan(
		&r.CommissionBps, &r.GSTBps, &r.TDSBps, &r.TDSExempt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DefaultRates(), nil
		}
		return Rates{}, fmt.Errorf("scanning rates: %w", err)
	}
	return r, nil
}

// SetRates upserts a per-seller rate override
func (s *Store) SetRates(ctx context.Context, sellerID string, rates Rates) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO seller_rate_overrides (seller_id, commission_bps, gst_bps, tds_bps, tds_exempt, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (seller_id) DO UPDATE SET
			commission_bps = EXCLUDED.commission_bps,
			gst_bps = EXCLUDED.gst_bps,
			tds_bps = EXCLUDED.tds_bps,
			tds_exempt = EXCLUDED.tds_exempt,
			updated_at = EXCLUDED.updated_at
	`, sellerID, rates.CommissionBps, rates.GSTBps, rates.TDSBps, rates.TDSExempt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upserting rates: %w", err)
	}
	return nil
}

func scanBankAccount(row pgx.Row) (*BankAccount, error) {
	var a BankAccount
	err := row.Scan(
		&a.ID, &a.SellerID, &a.AccountNumber, &a.IFSC, &a.HolderName, &a.Status,
		&a.IsPrimary, &a.IsActive, &a.FailReason, &a.VerifiedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning bank account: %w", err)
	}
	return &a, nil
}

func scanBankAccountRows(rows pgx.Rows) (*BankAccount, error) {
	var a BankAccount
	err := rows.Scan(
		&a.ID, &a.SellerID, &a.AccountNumber, &a.IFSC, &a.HolderName, &a.Status,
		&a.IsPrimary, &a.IsActive, &a.FailReason, &a.VerifiedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning bank account: %w", err)
	}
	return &a, nil
}
