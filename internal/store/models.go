package store

import "time"

type User struct {
	ID         string
	Phone      string
	Registered bool
	CreatedAt  time.Time
}

type Device struct {
	ID        string
	UserID    string
	DeviceID  string
	PubkeyPEM string
	CreatedAt time.Time
}

type EncryptedProfile struct {
	ID            string
	UserID        string
	CiphertextB64 string
	IVB64         string
	TagB64        string
	UpdatedAt     time.Time
}

// TransactionRecord is the current state of one client-assigned record.
// Exactly one row exists per (OwnerID, ClientRecordID); deletes are
// tombstones, never row removals, so they propagate to late-syncing devices.
type TransactionRecord struct {
	OwnerID        string
	ClientRecordID string
	Amount         float64
	Merchant       string
	Category       string
	OccurredAt     time.Time
	UpdatedAt      time.Time
	Deleted        bool
}
