package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/linkAuth/permission"
	"github.com/MrEthical07/linkAuth/store"
)

const maxMutateRetries = 5

var (
	ErrNotFound      = errors.New("user not found")
	ErrEmailTaken    = errors.New("email already registered")
	ErrUsernameTaken = errors.New("username already taken")
	ErrStale         = errors.New("user changed concurrently")
	ErrUnavailable   = errors.New("user store unavailable")
)

// Repository reads and writes users. Safe for concurrent use.
type Repository struct {
	store    store.Store
	registry *permission.Registry
	now      func() time.Time
}

func NewRepository(s store.Store, reg *permission.Registry, now func() time.Time) *Repository {
	if now == nil {
		now = time.Now
	}
	if reg == nil {
		reg = permission.DefaultRegistry()
	}
	return &Repository{store: s, registry: reg, now: now}
}

// Create stores u, assigning an id when empty. Email and username must be
// unused; on a duplicate nothing is left behind.
func (r *Repository) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = NormalizeEmail(u.Email)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = r.now().UTC()
	}

	emailKey := u.Email
	nameKey := NormalizeUsername(u.Username)

	if err := r.claim(ctx, PartitionEmails, emailKey, u.ID, ErrEmailTaken); err != nil {
		return err
	}
	if err := r.claim(ctx, PartitionUsernames, nameKey, u.ID, ErrUsernameTaken); err != nil {
		r.release(ctx, PartitionEmails, emailKey)
		return err
	}

	data, err := encodeUser(u)
	if err != nil {
		r.release(ctx, PartitionEmails, emailKey)
		r.release(ctx, PartitionUsernames, nameKey)
		return err
	}
	rec, err := r.store.Insert(ctx, store.Record{Partition: PartitionUsers, Row: u.ID, Data: data})
	if err != nil {
		r.release(ctx, PartitionEmails, emailKey)
		r.release(ctx, PartitionUsernames, nameKey)
		return mapStoreErr(err)
	}
	u.version = rec.Version
	u.UpdatedAt = rec.UpdatedAt
	return nil
}

func (r *Repository) ByID(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	rec, err := r.store.Get(ctx, PartitionUsers, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	u, err := decodeUser(rec.Data, r.registry)
	if err != nil {
		return nil, err
	}
	u.version = rec.Version
	u.UpdatedAt = rec.UpdatedAt
	return u, nil
}

func (r *Repository) ByEmail(ctx context.Context, email string) (*User, error) {
	return r.byIndex(ctx, PartitionEmails, NormalizeEmail(email))
}

func (r *Repository) ByUsername(ctx context.Context, username string) (*User, error) {
	return r.byIndex(ctx, PartitionUsernames, NormalizeUsername(username))
}

// ByLogin resolves an identifier that is either an email or a username.
func (r *Repository) ByLogin(ctx context.Context, identifier string) (*User, error) {
	if strings.Contains(identifier, "@") {
		return r.ByEmail(ctx, identifier)
	}
	return r.ByUsername(ctx, identifier)
}

// Mutate loads the user, applies fn and writes it back with a version
// check, retrying fn on concurrent modification. fn must be idempotent
// with respect to re-application on a fresh copy.
func (r *Repository) Mutate(ctx context.Context, id string, fn func(*User) error) (*User, error) {
	for i := 0; i < maxMutateRetries; i++ {
		u, err := r.ByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(u); err != nil {
			return nil, err
		}
		err = r.replace(ctx, u)
		if errors.Is(err, ErrStale) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return u, nil
	}
	return nil, ErrStale
}

// ConsumeBackupCode removes codeHash from the user's unused backup codes.
// It reports false when the code is not (or no longer) present, so two
// concurrent uses of one code yield exactly one true.
func (r *Repository) ConsumeBackupCode(ctx context.Context, id, codeHash string) (bool, error) {
	errNoMatch := errors.New("no match")
	_, err := r.Mutate(ctx, id, func(u *User) error {
		codes := u.TwoFactor.BackupCodes
		for i, h := range codes {
			if h == codeHash {
				rest := make([]string, 0, len(codes)-1)
				rest = append(rest, codes[:i]...)
				rest = append(rest, codes[i+1:]...)
				u.TwoFactor.BackupCodes = rest
				return nil
			}
		}
		return errNoMatch
	})
	if errors.Is(err, errNoMatch) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ChangeEmail moves the user to a new, unused address.
func (r *Repository) ChangeEmail(ctx context.Context, id, email string) (*User, error) {
	return r.changeIndexed(ctx, id, PartitionEmails, NormalizeEmail(email), ErrEmailTaken,
		func(u *User) string { return NormalizeEmail(u.Email) },
		func(u *User, v string) { u.Email = v },
		NormalizeEmail(email))
}

// ChangeUsername moves the user to a new, unused username. The display
// casing of the new name is kept.
func (r *Repository) ChangeUsername(ctx context.Context, id, username string) (*User, error) {
	display := strings.TrimSpace(username)
	return r.changeIndexed(ctx, id, PartitionUsernames, NormalizeUsername(username), ErrUsernameTaken,
		func(u *User) string { return NormalizeUsername(u.Username) },
		func(u *User, v string) { u.Username = v },
		display)
}

func (r *Repository) changeIndexed(
	ctx context.Context,
	id, partition, newKey string,
	taken error,
	currentKey func(*User) string,
	set func(*User, string),
	value string,
) (*User, error) {
	u, err := r.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	oldKey := currentKey(u)
	if oldKey == newKey {
		// same index entry; only the display form may change
		return r.Mutate(ctx, id, func(u *User) error {
			set(u, value)
			return nil
		})
	}

	if err := r.claim(ctx, partition, newKey, id, taken); err != nil {
		return nil, err
	}
	updated, err := r.Mutate(ctx, id, func(u *User) error {
		set(u, value)
		return nil
	})
	if err != nil {
		r.release(ctx, partition, newKey)
		return nil, err
	}
	r.release(ctx, partition, oldKey)
	return updated, nil
}

func (r *Repository) byIndex(ctx context.Context, partition, key string) (*User, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	rec, err := r.store.Get(ctx, partition, key)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	var idx indexDoc
	if err := json.Unmarshal(rec.Data, &idx); err != nil || idx.UserID == "" {
		return nil, ErrNotFound
	}
	return r.ByID(ctx, idx.UserID)
}

func (r *Repository) replace(ctx context.Context, u *User) error {
	data, err := encodeUser(u)
	if err != nil {
		return err
	}
	rec, err := r.store.Replace(ctx, store.Record{Partition: PartitionUsers, Row: u.ID, Data: data, Version: u.version})
	if err != nil {
		return mapStoreErr(err)
	}
	u.version = rec.Version
	u.UpdatedAt = rec.UpdatedAt
	return nil
}

func (r *Repository) claim(ctx context.Context, partition, key, userID string, taken error) error {
	if key == "" {
		return fmt.Errorf("%w: empty %s key", store.ErrInvalidKey, partition)
	}
	data, _ := json.Marshal(indexDoc{UserID: userID})
	_, err := r.store.Insert(ctx, store.Record{Partition: partition, Row: key, Data: data})
	if errors.Is(err, store.ErrConflict) {
		return taken
	}
	return mapStoreErr(err)
}

// release drops an index entry; failures leave an orphan that only
// blocks reuse of that value.
func (r *Repository) release(ctx context.Context, partition, key string) {
	_ = r.store.Delete(ctx, partition, key, 0)
}

func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrPreconditionFailed):
		return ErrStale
	case errors.Is(err, store.ErrConflict):
		return err
	case errors.Is(err, store.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}
