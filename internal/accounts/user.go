// Package accounts persists users and their uniqueness indexes in a
// store.Store.
//
// A user is one record in partition "users". Email and username
// uniqueness is enforced by conditional inserts of index records in
// "user_emails" and "user_names", keyed by the lower-cased value; a
// duplicate surfaces as ErrEmailTaken or ErrUsernameTaken rather than a
// second user. Role and permission names are converted to typed values
// here and nowhere deeper.
package accounts

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/linkAuth/entitlement"
	"github.com/MrEthical07/linkAuth/permission"
)

const (
	PartitionUsers     = "users"
	PartitionEmails    = "user_emails"
	PartitionUsernames = "user_names"
)

// TwoFactor is the per-user second-factor credential.
type TwoFactor struct {
	TOTPEnabled  bool
	EmailEnabled bool
	// TOTPSecret and PendingSecret are sealed ciphertexts, never plaintext.
	TOTPSecret    string
	PendingSecret string
	// BackupCodes holds hex SHA-256 hashes of unused codes.
	BackupCodes  []string
	LastTOTPStep int64
}

// Enabled reports whether any second factor is active.
func (t TwoFactor) Enabled() bool {
	return t.TOTPEnabled || t.EmailEnabled
}

type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	PasswordSalt string
	Role         permission.Role
	Permissions  permission.Set
	Companies    []string
	Subscription entitlement.RawSubscription
	TwoFactor    TwoFactor
	CreatedAt    time.Time
	UpdatedAt    time.Time

	version int64
}

// NormalizeEmail lower-cases and trims an address for index lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername lower-cases and trims a username for index lookups.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

type twoFactorDoc struct {
	TOTPEnabled   bool     `json:"totp_enabled"`
	EmailEnabled  bool     `json:"email_enabled"`
	TOTPSecret    string   `json:"totp_secret,omitempty"`
	PendingSecret string   `json:"pending_secret,omitempty"`
	BackupCodes   []string `json:"backup_codes,omitempty"`
	LastTOTPStep  int64    `json:"last_totp_step,omitempty"`
}

type userDoc struct {
	ID           string                      `json:"id"`
	Email        string                      `json:"email"`
	Username     string                      `json:"username"`
	PasswordHash string                      `json:"password_hash"`
	PasswordSalt string                      `json:"password_salt,omitempty"`
	Role         string                      `json:"role"`
	Permissions  []string                    `json:"permissions,omitempty"`
	Companies    []string                    `json:"companies,omitempty"`
	Subscription entitlement.RawSubscription `json:"subscription"`
	TwoFactor    twoFactorDoc                `json:"two_factor"`
	CreatedAt    time.Time                   `json:"created_at"`
}

type indexDoc struct {
	UserID string `json:"user_id"`
}

func encodeUser(u *User) (json.RawMessage, error) {
	doc := userDoc{
		ID:           u.ID,
		Email:        u.Email,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		PasswordSalt: u.PasswordSalt,
		Role:         string(u.Role),
		Permissions:  u.Permissions.Names(),
		Companies:    u.Companies,
		Subscription: u.Subscription,
		TwoFactor: twoFactorDoc{
			TOTPEnabled:   u.TwoFactor.TOTPEnabled,
			EmailEnabled:  u.TwoFactor.EmailEnabled,
			TOTPSecret:    u.TwoFactor.TOTPSecret,
			PendingSecret: u.TwoFactor.PendingSecret,
			BackupCodes:   u.TwoFactor.BackupCodes,
			LastTOTPStep:  u.TwoFactor.LastTOTPStep,
		},
		CreatedAt: u.CreatedAt.UTC(),
	}
	return json.Marshal(doc)
}

func decodeUser(data []byte, reg *permission.Registry) (*User, error) {
	var doc userDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	role, err := permission.ParseRole(doc.Role)
	if err != nil {
		return nil, fmt.Errorf("decode user %s: %w", doc.ID, err)
	}
	perms, err := permission.NewSet(reg, doc.Permissions...)
	if err != nil {
		return nil, fmt.Errorf("decode user %s: %w", doc.ID, err)
	}

	return &User{
		ID:           doc.ID,
		Email:        doc.Email,
		Username:     doc.Username,
		PasswordHash: doc.PasswordHash,
		PasswordSalt: doc.PasswordSalt,
		Role:         role,
		Permissions:  perms,
		Companies:    doc.Companies,
		Subscription: doc.Subscription,
		TwoFactor: TwoFactor{
			TOTPEnabled:   doc.TwoFactor.TOTPEnabled,
			EmailEnabled:  doc.TwoFactor.EmailEnabled,
			TOTPSecret:    doc.TwoFactor.TOTPSecret,
			PendingSecret: doc.TwoFactor.PendingSecret,
			BackupCodes:   doc.TwoFactor.BackupCodes,
			LastTOTPStep:  doc.TwoFactor.LastTOTPStep,
		},
		CreatedAt: doc.CreatedAt,
	}, nil
}
