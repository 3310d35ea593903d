package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/linkAuth/internal/accounts"
	"github.com/MrEthical07/linkAuth/jwt"
)

// TokenPair is an access token plus its rotating refresh token.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// IssueDeps captures token issuance dependencies.
type IssueDeps struct {
	// Tier resolves the user's effective tier at issuance time.
	Tier         func(*accounts.User) string
	Permissions  func(*accounts.User) []string
	CreateAccess func(jwt.AccessInput) (string, time.Time, error)
	IssueRefresh func(context.Context, string) (string, time.Time, error)

	EngineNotReady error
	Unavailable    error
}

// RunIssueTokens mints an access token with the user's current claims and a
// fresh refresh token.
func RunIssueTokens(ctx context.Context, user *accounts.User, deps IssueDeps) (*TokenPair, error) {
	if deps.Tier == nil || deps.Permissions == nil || deps.CreateAccess == nil || deps.IssueRefresh == nil {
		return nil, deps.EngineNotReady
	}

	access, accessExp, err := deps.CreateAccess(jwt.AccessInput{
		UserID:      user.ID,
		Role:        string(user.Role),
		Permissions: deps.Permissions(user),
		Companies:   user.Companies,
		Tier:        deps.Tier(user),
	})
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	refresh, refreshExp, err := deps.IssueRefresh(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Unavailable, err)
	}

	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}
