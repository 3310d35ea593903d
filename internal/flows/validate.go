package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrEthical07/linkAuth/jwt"
)

// ValidateDeps captures access-token validation dependencies. Validation is
// stateless: every claim was fixed at issuance.
type ValidateDeps struct {
	ParseAccess func(string) (*jwt.AccessClaims, error)

	EngineNotReady error
	TokenInvalid   error
}

// RunValidate verifies tokenStr, accepting an optional "Bearer " prefix.
func RunValidate(ctx context.Context, tokenStr string, deps ValidateDeps) (*jwt.AccessClaims, error) {
	if deps.ParseAccess == nil {
		return nil, deps.EngineNotReady
	}

	tokenStr = strings.TrimSpace(tokenStr)
	if len(tokenStr) > 7 && strings.EqualFold(tokenStr[:7], "bearer ") {
		tokenStr = strings.TrimSpace(tokenStr[7:])
	}
	if tokenStr == "" {
		return nil, deps.TokenInvalid
	}

	claims, err := deps.ParseAccess(tokenStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.TokenInvalid, err)
	}
	return claims, nil
}
