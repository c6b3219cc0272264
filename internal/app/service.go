package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"finsense/api/internal/auth"
	"finsense/api/internal/config"
	"finsense/api/internal/otp"
	"finsense/api/internal/store"
	"finsense/api/internal/sync"
	"finsense/api/internal/util"
)

type Session struct {
	Token     string
	UserID    string
	Phone     string
	JTI       string
	ExpiresAt time.Time
}

type dataStore interface {
	GetUserByPhone(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) error
	MarkUserRegistered(context.Context, string) error
	InsertDevice(context.Context, store.Device) error
	InsertEncryptedProfile(context.Context, store.EncryptedProfile) error
	LatestEncryptedProfile(context.Context, string) (store.EncryptedProfile, error)
	Ping(ctx context.Context) error
}

type otpService interface {
	Issue(ctx context.Context, phone string) (string, bool, error)
	Verify(ctx context.Context, phone, code string) error
}

type Service struct {
	cfg    config.Config
	store  dataStore
	engine *sync.Engine
	otp    otpService
	now    func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, engine *sync.Engine, otpSvc *otp.Service) *Service {
	return &Service{
		cfg:    cfg,
		store:  dataStore,
		engine: engine,
		otp:    otpSvc,
		now:    time.Now,
	}
}

// Register upserts the account for the phone number and issues a one-time
// code. The code is returned only when no SMS sender is configured, so the
// API can expose it as a dev bypass.
func (s *Service) Register(ctx context.Context, phone string) (devCode string, delivered bool, err error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", false, validationError("phone is required")
	}

	_, err = s.store.GetUserByPhone(ctx, phone)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.store.CreateUser(ctx, store.User{ID: util.NewID("usr"), Phone: phone}); err != nil {
			return "", false, err
		}
	} else if err != nil {
		return "", false, err
	}

	code, delivered, err := s.otp.Issue(ctx, phone)
	if err != nil {
		return "", false, err
	}
	if delivered {
		return "", true, nil
	}
	return code, false, nil
}

// VerifyOTP consumes the code, marks the user registered, optionally
// registers the submitting device key, and returns an authenticated session.
func (s *Service) VerifyOTP(ctx context.Context, phone, code, deviceID, devicePubkeyPEM string) (Session, error) {
	phone = strings.TrimSpace(phone)
	if err := s.otp.Verify(ctx, phone, strings.TrimSpace(code)); err != nil {
		if errors.Is(err, otp.ErrCodeInvalid) || errors.Is(err, otp.ErrCodeExpired) {
			return Session{}, invalidOTPError()
		}
		return Session{}, err
	}

	user, err := s.store.GetUserByPhone(ctx, phone)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, invalidOTPError()
	}
	if err != nil {
		return Session{}, err
	}

	if err := s.store.MarkUserRegistered(ctx, user.ID); err != nil {
		return Session{}, err
	}

	if deviceID != "" && devicePubkeyPEM != "" {
		if err := s.store.InsertDevice(ctx, store.Device{
			ID:        util.NewID("dev"),
			UserID:    user.ID,
			DeviceID:  deviceID,
			PubkeyPEM: devicePubkeyPEM,
		}); err != nil {
			return Session{}, err
		}
	}

	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	expiresAt := s.now().Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   user.ID,
		Phone: user.Phone,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		Phone:     user.Phone,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		Phone:     user.Phone,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) RegisterDevice(ctx context.Context, session Session, deviceID, devicePubkeyPEM string) error {
	if strings.TrimSpace(deviceID) == "" || strings.TrimSpace(devicePubkeyPEM) == "" {
		return validationError("deviceId and devicePubkeyPem are required")
	}
	return s.store.InsertDevice(ctx, store.Device{
		ID:        util.NewID("dev"),
		UserID:    session.UserID,
		DeviceID:  strings.TrimSpace(deviceID),
		PubkeyPEM: devicePubkeyPEM,
	})
}

func (s *Service) SaveEncryptedProfile(ctx context.Context, session Session, ciphertextB64, ivB64, tagB64 string) (string, error) {
	if strings.TrimSpace(ciphertextB64) == "" {
		return "", validationError("ciphertextB64 is required")
	}
	profileID := util.NewID("prof")
	if err := s.store.InsertEncryptedProfile(ctx, store.EncryptedProfile{
		ID:            profileID,
		UserID:        session.UserID,
		CiphertextB64: ciphertextB64,
		IVB64:         ivB64,
		TagB64:        tagB64,
	}); err != nil {
		return "", err
	}
	return profileID, nil
}

func (s *Service) LatestEncryptedProfile(ctx context.Context, session Session) (store.EncryptedProfile, error) {
	return s.store.LatestEncryptedProfile(ctx, session.UserID)
}

// SyncTransactions runs one reconciliation round for the authenticated owner
// and shapes the delta for the wire. The returned "now" is the timestamp the
// client should store as its next lastSync cursor.
func (s *Service) SyncTransactions(ctx context.Context, session Session, lastSync *time.Time, changes []sync.Change) (map[string]any, error) {
	now := s.now().UTC()
	records, err := s.engine.Sync(ctx, session.UserID, lastSync, changes, now)
	if err != nil {
		return nil, err
	}

	serverChanges := make([]map[string]any, 0, len(records))
	for _, record := range records {
		serverChanges = append(serverChanges, map[string]any{
			"clientRecordId": record.ClientRecordID,
			"amount":         record.Amount,
			"merchant":       record.Merchant,
			"category":       record.Category,
			"occurredAt":     record.OccurredAt.UTC(),
			"updatedAt":      record.UpdatedAt.UTC(),
			"deleted":        record.Deleted,
		})
	}

	return map[string]any{
		"serverChanges": serverChanges,
		"now":           now,
	}, nil
}

func (s *Service) SMSConfigured() bool {
	return s.cfg.SMSGatewayURL != ""
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
