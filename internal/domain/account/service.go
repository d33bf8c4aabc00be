package account

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/auth"
)

const (
	maxNameLen     = 150
	maxEmailLen    = 254
	minPasswordLen = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordLen = 72
)

var usernamePattern = regexp.MustCompile(`^[\w.@+-]+$`)

const badCredentials = "no active account found with the given credentials"

type Service struct {
	users       UserRepository
	issuer      *auth.TokenIssuer
	revocations auth.RevocationStore
	bcryptCost  int
	logger      zerolog.Logger
}

func NewService(users UserRepository, issuer *auth.TokenIssuer, revocations auth.RevocationStore, bcryptCost int, logger zerolog.Logger) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		users:       users,
		issuer:      issuer,
		revocations: revocations,
		bcryptCost:  bcryptCost,
		logger:      logger.With().Str("component", "account").Logger(),
	}
}

// Register creates an active account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, in *RegisterInput) (*User, error) {
	u := &User{
		Username:  strings.TrimSpace(in.Username),
		Email:     strings.TrimSpace(in.Email),
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
	}

	fe := apperr.FieldErrors{}
	switch {
	case u.Username == "":
		fe.Add("username", "this field is required")
	case len(u.Username) > maxNameLen:
		fe.Add("username", "ensure this field has no more than 150 characters")
	case !usernamePattern.MatchString(u.Username):
		fe.Add("username", "username may contain only letters, numbers and @/./+/-/_ characters")
	}
	switch {
	case len(in.Password) < minPasswordLen:
		fe.Add("password", "ensure this field has at least 8 characters")
	case len(in.Password) > maxPasswordLen:
		fe.Add("password", "ensure this field has no more than 72 bytes")
	}
	validateProfile(u, fe)
	if err := fe.Err(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "hash password")
	}
	u.PasswordHash = string(hash)

	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("username", u.Username).Msg("user registered")
	return u, nil
}

// Me returns the account of the authenticated caller. A token whose user no
// longer exists is treated as unauthenticated.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.Unauthenticated("user not found")
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, apperr.Unauthenticated("user is inactive")
	}
	return u, nil
}

// UpdateMe changes the caller's email and names. Username and password are
// not editable here.
func (s *Service) UpdateMe(ctx context.Context, userID uuid.UUID, in *UpdateInput) (*User, error) {
	u, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	if in.Email != nil {
		u.Email = strings.TrimSpace(*in.Email)
	}
	if in.FirstName != nil {
		u.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		u.LastName = strings.TrimSpace(*in.LastName)
	}

	fe := apperr.FieldErrors{}
	validateProfile(u, fe)
	if err := fe.Err(); err != nil {
		return nil, err
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login exchanges credentials for a token pair bound to tenantID.
func (s *Service) Login(ctx context.Context, tenantID string, in *LoginInput) (auth.TokenPair, error) {
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(in.Username))
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return auth.TokenPair{}, apperr.Unauthenticated(badCredentials)
		}
		return auth.TokenPair{}, err
	}
	if !u.IsActive {
		return auth.TokenPair{}, apperr.Unauthenticated(badCredentials)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return auth.TokenPair{}, apperr.Unauthenticated(badCredentials)
		}
		return auth.TokenPair{}, apperr.Wrap(apperr.KindInternal, err, "verify password")
	}

	pair, err := s.issuer.Issue(u.ID.String(), tenantID)
	if err != nil {
		return auth.TokenPair{}, apperr.Wrap(apperr.KindInternal, err, "issue tokens")
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("tenant_id", tenantID).Msg("tokens issued")
	return pair, nil
}

// Refresh issues a new access token from a valid, unrevoked refresh token.
// When tenantID is set the refresh token must belong to that tenant. The
// token's user must still exist and be active.
func (s *Service) Refresh(ctx context.Context, tenantID, refresh string) (AccessResponse, error) {
	claims, err := s.parseRefresh(ctx, refresh)
	if err != nil {
		return AccessResponse{}, err
	}
	if tenantID != "" && claims.TenantID != tenantID {
		return AccessResponse{}, apperr.Unauthenticated("token is invalid or expired")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return AccessResponse{}, apperr.Unauthenticated("token is invalid or expired")
	}
	if _, err := s.Me(ctx, userID); err != nil {
		return AccessResponse{}, err
	}
	access, err := s.issuer.IssueAccess(claims)
	if err != nil {
		return AccessResponse{}, apperr.Wrap(apperr.KindInternal, err, "issue access token")
	}
	return AccessResponse{
		Access:    access,
		TokenType: "Bearer",
		ExpiresIn: int(s.issuer.AccessTTL().Seconds()),
	}, nil
}

// Logout revokes the access token that authenticated ctx and, when given,
// a refresh token belonging to the same user.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID, refresh string) error {
	jti, exp := auth.TokenFromContext(ctx)
	if jti == "" {
		return apperr.Unauthenticated("authentication credentials were not provided")
	}

	var refreshClaims *auth.Claims
	if refresh != "" {
		claims, err := s.parseRefresh(ctx, refresh)
		if err != nil {
			return err
		}
		if claims.Subject != userID.String() {
			return apperr.PermissionDenied("refresh token belongs to another user")
		}
		refreshClaims = claims
	}

	if err := s.revocations.Revoke(ctx, jti, exp); err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "revoke access token")
	}
	if refreshClaims != nil {
		if err := s.revocations.Revoke(ctx, refreshClaims.ID, refreshClaims.ExpiresAt.Time); err != nil {
			return apperr.Wrap(apperr.KindInternal, err, "revoke refresh token")
		}
	}
	s.logger.Info().Str("user_id", userID.String()).Str("jti", jti).Bool("refresh_revoked", refreshClaims != nil).Msg("logged out")
	return nil
}

func (s *Service) parseRefresh(ctx context.Context, refresh string) (*auth.Claims, error) {
	if strings.TrimSpace(refresh) == "" {
		return nil, apperr.FieldErrors{"refresh": "this field is required"}.Err()
	}
	claims, err := s.issuer.Parse(refresh, auth.TokenRefresh)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthenticated, err, "token is invalid or expired")
	}
	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "check revocation")
	}
	if revoked {
		return nil, apperr.Unauthenticated("token has been revoked")
	}
	return claims, nil
}

func validateProfile(u *User, fe apperr.FieldErrors) {
	if u.Email != "" {
		if len(u.Email) > maxEmailLen {
			fe.Add("email", "ensure this field has no more than 254 characters")
		} else if addr, err := mail.ParseAddress(u.Email); err != nil || addr.Address != u.Email {
			fe.Add("email", "enter a valid email address")
		}
	}
	if len(u.FirstName) > maxNameLen {
		fe.Add("first_name", "ensure this field has no more than 150 characters")
	}
	if len(u.LastName) > maxNameLen {
		fe.Add("last_name", "ensure this field has no more than 150 characters")
	}
}
