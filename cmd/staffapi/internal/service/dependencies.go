package service

import (
	"github.com/uptrace/bun"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/auth"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/repository"
)

// NewBunDependencies wires the Bun repositories and a grant enforcer loaded
// from db.
func NewBunDependencies(db *bun.DB, tokens *auth.TokenIssuer, otp *auth.OTPIssuer) (Dependencies, error) {
	roles := repository.NewBunRoleRepository(db)
	enforcer, err := auth.NewGrantEnforcer(roles)
	if err != nil {
		return Dependencies{}, err
	}
	return Dependencies{
		Users:         repository.NewBunUserRepository(db),
		Roles:         roles,
		UserRoles:     repository.NewBunUserRoleRepository(db),
		Devices:       repository.NewBunDeviceRepository(db),
		OTPs:          repository.NewBunOTPChallengeRepository(db),
		RefreshTokens: repository.NewBunRefreshTokenRepository(db),
		Tokens:        tokens,
		OTP:           otp,
		Enforcer:      enforcer,
	}, nil
}
