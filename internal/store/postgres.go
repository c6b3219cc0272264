package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetUserByPhone(ctx context.Context, phone string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, phone, registered, created_at FROM users WHERE phone=$1
	`, phone).Scan(&user.ID, &user.Phone, &user.Registered, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, phone, registered, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Phone, &user.Registered, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, phone)
		VALUES ($1, $2)
		ON CONFLICT (phone) DO NOTHING
	`, user.ID, user.Phone)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkUserRegistered(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET registered=TRUE WHERE id=$1`, userID)
	if err != nil {
		return fmt.Errorf("mark user registered: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertDevice(ctx context.Context, device Device) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, user_id, device_id, pubkey_pem)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, device_id) DO UPDATE SET pubkey_pem=EXCLUDED.pubkey_pem
	`, device.ID, device.UserID, device.DeviceID, device.PubkeyPEM)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertEncryptedProfile(ctx context.Context, profile EncryptedProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO encrypted_profiles (id, user_id, ciphertext_b64, iv_b64, tag_b64)
		VALUES ($1, $2, $3, $4, $5)
	`, profile.ID, profile.UserID, profile.CiphertextB64, profile.IVB64, profile.TagB64)
	if err != nil {
		return fmt.Errorf("insert encrypted profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestEncryptedProfile(ctx context.Context, userID string) (EncryptedProfile, error) {
	var profile EncryptedProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, ciphertext_b64, iv_b64, tag_b64, updated_at
		FROM encrypted_profiles
		WHERE user_id=$1
		ORDER BY updated_at DESC
		LIMIT 1
	`, userID).Scan(&profile.ID, &profile.UserID, &profile.CiphertextB64, &profile.IVB64, &profile.TagB64, &profile.UpdatedAt)
	if err != nil {
		return EncryptedProfile{}, err
	}
	return profile, nil
}

func (s *PostgresStore) SaveOTPCode(ctx context.Context, phone, codeHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO otp_codes (phone, code_hash, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (phone) DO UPDATE SET code_hash=EXCLUDED.code_hash, expires_at=EXCLUDED.expires_at
	`, phone, codeHash, expiresAt)
	if err != nil {
		return fmt.Errorf("save otp code: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupOTPCode(ctx context.Context, phone string) (string, time.Time, error) {
	var codeHash string
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT code_hash, expires_at FROM otp_codes WHERE phone=$1
	`, phone).Scan(&codeHash, &expiresAt)
	if err != nil {
		return "", time.Time{}, err
	}
	return codeHash, expiresAt, nil
}

func (s *PostgresStore) DeleteOTPCodes(ctx context.Context, phone string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE phone=$1`, phone)
	if err != nil {
		return fmt.Errorf("delete otp codes: %w", err)
	}
	return nil
}

// RecordTx is the per-transaction view of the transaction record store. The
// caller owns conflict resolution; PutRecord is an unconditional overwrite.
type RecordTx interface {
	GetRecord(ctx context.Context, ownerID, clientRecordID string) (TransactionRecord, bool, error)
	PutRecord(ctx context.Context, record TransactionRecord) error
	ListRecordsSince(ctx context.Context, ownerID string, since *time.Time) ([]TransactionRecord, error)
}

// InTransaction runs fn inside one database transaction. Either every write
// fn performed commits, or none do.
func (s *PostgresStore) InTransaction(ctx context.Context, fn func(RecordTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&recordTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type recordTx struct {
	tx *sql.Tx
}

func (t *recordTx) GetRecord(ctx context.Context, ownerID, clientRecordID string) (TransactionRecord, bool, error) {
	var record TransactionRecord
	err := t.tx.QueryRowContext(ctx, `
		SELECT owner_id, client_record_id, amount, merchant, category, occurred_at, updated_at, deleted
		FROM transaction_records
		WHERE owner_id=$1 AND client_record_id=$2
	`, ownerID, clientRecordID).Scan(
		&record.OwnerID,
		&record.ClientRecordID,
		&record.Amount,
		&record.Merchant,
		&record.Category,
		&record.OccurredAt,
		&record.UpdatedAt,
		&record.Deleted,
	)
	if err == sql.ErrNoRows {
		return TransactionRecord{}, false, nil
	}
	if err != nil {
		return TransactionRecord{}, false, fmt.Errorf("get record: %w", err)
	}
	return record, true, nil
}

func (t *recordTx) PutRecord(ctx context.Context, record TransactionRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transaction_records (owner_id, client_record_id, amount, merchant, category, occurred_at, updated_at, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (owner_id, client_record_id) DO UPDATE SET
			amount=EXCLUDED.amount,
			merchant=EXCLUDED.merchant,
			category=EXCLUDED.category,
			occurred_at=EXCLUDED.occurred_at,
			updated_at=EXCLUDED.updated_at,
			deleted=EXCLUDED.deleted
	`, record.OwnerID, record.ClientRecordID, record.Amount, record.Merchant, record.Category, record.OccurredAt, record.UpdatedAt, record.Deleted)
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

func (t *recordTx) ListRecordsSince(ctx context.Context, ownerID string, since *time.Time) ([]TransactionRecord, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT owner_id, client_record_id, amount, merchant, category, occurred_at, updated_at, deleted
		FROM transaction_records
		WHERE owner_id=$1 AND ($2::timestamptz IS NULL OR updated_at > $2)
		ORDER BY client_record_id ASC
	`, ownerID, since)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	items := make([]TransactionRecord, 0)
	for rows.Next() {
		var record TransactionRecord
		if err := rows.Scan(
			&record.OwnerID,
			&record.ClientRecordID,
			&record.Amount,
			&record.Merchant,
			&record.Category,
			&record.OccurredAt,
			&record.UpdatedAt,
			&record.Deleted,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
