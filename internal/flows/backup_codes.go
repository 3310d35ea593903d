package flows

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/MrEthical07/linkAuth/internal/accounts"
)

// BackupCodeAlphabet omits 0/O and 1/I to keep codes readable.
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

type BackupCodeMetrics struct {
	BackupCodeUsed        int
	BackupCodeRegenerated int
}

type BackupCodeEvents struct {
	BackupCodesGenerated string
	BackupCodeUsed       string
}

type BackupCodeErrors struct {
	EngineNotReady error
	UserNotFound   error
	NotEnabled     error
	Unavailable    error
}

// BackupCodeDeps captures backup code dependencies.
type BackupCodeDeps struct {
	BackupCodeCount  int
	BackupCodeLength int

	GetUser           func(context.Context, string) (*accounts.User, error)
	MutateUser        func(context.Context, string, func(*accounts.User) error) (*accounts.User, error)
	ConsumeStored     func(context.Context, string, string) (bool, error)
	VerifyTOTPForUser func(context.Context, *accounts.User, string) error

	RandomIndex func(int) (int, error)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics BackupCodeMetrics
	Events  BackupCodeEvents
	Errors  BackupCodeErrors
}

// RunGenerateBackupCodes replaces the user's backup codes with a fresh set
// and returns the plaintext codes. Only hashes are stored.
func RunGenerateBackupCodes(ctx context.Context, userID string, deps BackupCodeDeps) ([]string, error) {
	normalizeBackupCodeDeps(&deps)
	if deps.MutateUser == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if userID == "" {
		return nil, deps.Errors.UserNotFound
	}
	return runGenerateAndReplaceBackupCodes(ctx, userID, deps)
}

// RunRegenerateBackupCodes requires a current TOTP code before replacing
// the codes, so a stolen access token alone cannot mint new ones.
func RunRegenerateBackupCodes(ctx context.Context, userID, totpCode string, deps BackupCodeDeps) ([]string, error) {
	normalizeBackupCodeDeps(&deps)
	if deps.GetUser == nil || deps.VerifyTOTPForUser == nil || deps.MutateUser == nil {
		return nil, deps.Errors.EngineNotReady
	}

	user, err := deps.GetUser(ctx, userID)
	if err != nil {
		return nil, deps.Errors.UserNotFound
	}
	if !user.TwoFactor.TOTPEnabled {
		return nil, deps.Errors.NotEnabled
	}
	if err := deps.VerifyTOTPForUser(ctx, user, totpCode); err != nil {
		return nil, err
	}

	return runGenerateAndReplaceBackupCodes(ctx, user.ID, deps)
}

// RunConsumeBackupCode removes code from userID's unused codes. It reports
// false for an unknown or already used code.
func RunConsumeBackupCode(ctx context.Context, userID, code string, deps BackupCodeDeps) (bool, error) {
	normalizeBackupCodeDeps(&deps)
	if deps.ConsumeStored == nil {
		return false, deps.Errors.EngineNotReady
	}

	canonical := CanonicalizeBackupCode(code)
	if len(canonical) != deps.BackupCodeLength || !inAlphabet(canonical) {
		return false, nil
	}

	ok, err := deps.ConsumeStored(ctx, userID, BackupCodeHash(userID, canonical))
	if err != nil {
		return false, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
	}
	if !ok {
		return false, nil
	}

	deps.MetricInc(deps.Metrics.BackupCodeUsed)
	deps.EmitAudit(ctx, deps.Events.BackupCodeUsed, true, userID, "", nil, nil)
	return true, nil
}

func runGenerateAndReplaceBackupCodes(ctx context.Context, userID string, deps BackupCodeDeps) ([]string, error) {
	count := deps.BackupCodeCount
	length := deps.BackupCodeLength
	if count <= 0 || length <= 0 {
		return nil, deps.Errors.Unavailable
	}

	hashes := make([]string, 0, count)
	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		raw, err := NewBackupCode(length, deps.RandomIndex)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
		}
		hashes = append(hashes, BackupCodeHash(userID, raw))
		codes = append(codes, FormatBackupCode(raw))
	}

	if _, err := deps.MutateUser(ctx, userID, func(u *accounts.User) error {
		u.TwoFactor.BackupCodes = append([]string(nil), hashes...)
		return nil
	}); err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return nil, deps.Errors.UserNotFound
		}
		return nil, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
	}

	deps.MetricInc(deps.Metrics.BackupCodeRegenerated)
	deps.EmitAudit(ctx, deps.Events.BackupCodesGenerated, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"count": fmt.Sprint(count),
		}
	})
	return codes, nil
}

func NewBackupCode(length int, randomIndex func(int) (int, error)) (string, error) {
	if randomIndex == nil {
		randomIndex = cryptoRandomIndex
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(BackupCodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n])
	}
	return b.String(), nil
}

// FormatBackupCode splits a code in two halves, e.g. XXXXX-XXXXX.
func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// BackupCodeHash is the stored form of a canonical backup code.
func BackupCodeHash(userID, canonicalCode string) string {
	data := make([]byte, 0, len("backup-code")+len(userID)+len(canonicalCode)+2)
	data = append(data, "backup-code"...)
	data = append(data, 0)
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func inAlphabet(code string) bool {
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(BackupCodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

func cryptoRandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

func normalizeBackupCodeDeps(deps *BackupCodeDeps) {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.RandomIndex == nil {
		deps.RandomIndex = cryptoRandomIndex
	}
}
