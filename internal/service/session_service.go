package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"gamepulse/internal/metrics"
	"gamepulse/internal/model"
)

// UserStore is the slice of user persistence the session lifecycle needs.
type UserStore interface {
	FindByID(ctx context.Context, id string) (model.User, error)
	FindByUsername(ctx context.Context, username string) (model.User, error)
	FindByNormalizedUsername(ctx context.Context, username string) ([]model.User, error)
	StoreLoginRefresh(ctx context.Context, userID string, hash string, at time.Time) error
	SwapRefreshHash(ctx context.Context, userID string, expected string, next string) (bool, error)
	ClearRefreshHash(ctx context.Context, userID string) error
}

// ApprovalStore is the append-only consent log.
type ApprovalStore interface {
	Insert(ctx context.Context, userID string, consent bool) (model.Approval, error)
	Latest(ctx context.Context, userID string) (model.Approval, bool, error)
}

// SessionService runs the per-user session state machine: login starts a
// session, each rotation replaces the single stored refresh hash, and any
// mismatch or logout clears it.
type SessionService struct {
	users      UserStore
	approvals  ApprovalStore
	tokens     *TokenService
	bcryptCost int
	locks      *keyedMutex
	metrics    *metrics.Metrics
	dummyHash  []byte
	now        func() time.Time
}

func NewSessionService(users UserStore, approvals ApprovalStore, tokens *TokenService, bcryptCost int, m *metrics.Metrics) *SessionService {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}

	// Compared against when the username is unknown so both failure paths
	// cost one bcrypt verification.
	dummy, _ := bcrypt.GenerateFromPassword([]byte("gamepulse-unknown-user"), bcryptCost)

	return &SessionService{
		users:      users,
		approvals:  approvals,
		tokens:     tokens,
		bcryptCost: bcryptCost,
		locks:      newKeyedMutex(),
		metrics:    m,
		dummyHash:  dummy,
		now:        time.Now,
	}
}

func (s *SessionService) Tokens() *TokenService {
	return s.tokens
}

// Login verifies the password for the normalized username and starts a new
// session, overwriting any previous refresh hash for that user.
func (s *SessionService) Login(ctx context.Context, username string, password string) (model.TokenPair, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return model.TokenPair{}, model.ErrInvalidRequest
	}

	matches, err := s.users.FindByNormalizedUsername(ctx, username)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("lookup user: %w", err)
	}

	switch len(matches) {
	case 0:
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		s.metrics.SessionEvent("login_failed")
		return model.TokenPair{}, model.ErrInvalidCredentials
	case 1:
	default:
		slog.Warn("ambiguous username on login", "matches", len(matches))
		s.metrics.SessionEvent("login_ambiguous")
		return model.TokenPair{}, model.ErrAmbiguousCredentials
	}

	user := matches[0]
	if user.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.metrics.SessionEvent("login_failed")
		return model.TokenPair{}, model.ErrInvalidCredentials
	}

	unlock := s.locks.Lock(user.ID)
	defer unlock()

	pair, hash, err := s.issue(user)
	if err != nil {
		return model.TokenPair{}, err
	}

	if err := s.users.StoreLoginRefresh(ctx, user.ID, hash, s.now().UTC()); err != nil {
		return model.TokenPair{}, fmt.Errorf("store refresh hash: %w", err)
	}

	s.metrics.SessionEvent("login")
	slog.Info("user logged in", "user_id", user.ID)
	return pair, nil
}

// Rotate exchanges a refresh token for a new pair. The presented token must
// match the stored hash; anything else revokes the session.
func (s *SessionService) Rotate(ctx context.Context, presented string) (model.TokenPair, error) {
	if strings.TrimSpace(presented) == "" {
		return model.TokenPair{}, model.ErrInvalidRequest
	}

	claims, err := s.tokens.VerifyRefresh(presented)
	if err != nil {
		s.metrics.SessionEvent("refresh_rejected")
		return model.TokenPair{}, model.ErrInvalidRefresh
	}

	resolved, err := s.resolve(ctx, claims)
	if err != nil {
		return model.TokenPair{}, err
	}

	unlock := s.locks.Lock(resolved.ID)
	defer unlock()

	// Re-read under the lock so a rotation that just finished is visible.
	user, err := s.users.FindByID(ctx, resolved.ID)
	if err != nil {
		return model.TokenPair{}, storeErr("reload user", err)
	}

	stored := user.RefreshHash
	if stored == "" {
		s.metrics.SessionEvent("refresh_no_session")
		return model.TokenPair{}, model.ErrNoStoredToken
	}

	if !strings.HasPrefix(stored, "$2") {
		s.revoke(ctx, user.ID, "stored refresh hash has unexpected format")
		return model.TokenPair{}, model.ErrInvalidRefresh
	}

	if !compareRefresh(stored, presented) {
		s.revoke(ctx, user.ID, "refresh token reuse detected")
		return model.TokenPair{}, model.ErrInvalidRefresh
	}

	pair, hash, err := s.issue(user)
	if err != nil {
		return model.TokenPair{}, err
	}

	swapped, err := s.users.SwapRefreshHash(ctx, user.ID, stored, hash)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("store rotated refresh hash: %w", err)
	}
	if !swapped {
		// Another process rotated or revoked between our read and write.
		s.revoke(ctx, user.ID, "concurrent refresh rotation")
		return model.TokenPair{}, model.ErrInvalidRefresh
	}

	s.metrics.SessionEvent("rotated")
	return pair, nil
}

// Logout ends the session the presented token belongs to. An empty token is
// a no-op. Tokens that fail signature checks return ErrInvalidRefresh and
// touch nothing. Expired but authentic tokens still clear the stored hash
// and revoke consent, then return ErrInvalidRefresh.
func (s *SessionService) Logout(ctx context.Context, presented string) error {
	if strings.TrimSpace(presented) == "" {
		return nil
	}

	claims, err := s.tokens.ParseRefreshIgnoringExpiry(presented)
	if err != nil {
		s.metrics.SessionEvent("logout_rejected")
		return model.ErrInvalidRefresh
	}

	var result error
	if _, err := s.tokens.VerifyRefresh(presented); errors.Is(err, model.ErrTokenExpired) {
		result = model.ErrInvalidRefresh
	}

	user, err := s.resolve(ctx, claims)
	if errors.Is(err, model.ErrUserNotFound) {
		slog.Warn("logout for unknown user", "subject", claims.Subject)
		return result
	}
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(user.ID)
	defer unlock()

	if err := s.users.ClearRefreshHash(ctx, user.ID); err != nil {
		return fmt.Errorf("clear refresh hash: %w", err)
	}

	// The next login must ask for consent again.
	if _, err := s.approvals.Insert(ctx, user.ID, false); err != nil {
		slog.Error("failed to revoke consent on logout", "user_id", user.ID, "error", err)
	}

	s.metrics.SessionEvent("logout")
	slog.Info("user logged out", "user_id", user.ID, "expired", result != nil)
	return result
}

// VerifySessionCookie accepts a refresh token as a stream credential only
// while it is the token the user's live session was last issued. Rotated,
// revoked and logged-out tokens return ErrInvalidRefresh.
func (s *SessionService) VerifySessionCookie(ctx context.Context, presented string) (*model.AuthClaims, error) {
	claims, err := s.tokens.VerifyRefresh(presented)
	if err != nil {
		return nil, err
	}

	user, err := s.resolve(ctx, claims)
	if err != nil {
		return nil, err
	}

	stored := user.RefreshHash
	if stored == "" || !strings.HasPrefix(stored, "$2") || !compareRefresh(stored, presented) {
		return nil, model.ErrInvalidRefresh
	}

	// Pin the guard's lookup to the user the hash was checked against.
	return &model.AuthClaims{
		Subject:  user.ID,
		Username: user.Username,
		Type:     claims.Type,
		TokenID:  claims.TokenID,
		Expires:  claims.Expires,
	}, nil
}

// CurrentIdentity resolves an authenticated subject to its user and latest
// consent answer.
func (s *SessionService) CurrentIdentity(ctx context.Context, userID string) (model.Identity, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.Identity{}, storeErr("find user", err)
	}

	approval, ok, err := s.approvals.Latest(ctx, user.ID)
	if err != nil {
		return model.Identity{}, fmt.Errorf("latest approval: %w", err)
	}

	return model.Identity{
		ID:       user.ID,
		Username: user.Username,
		Approved: ok && approval.ConsentGiven,
	}, nil
}

// resolve finds the token's user by subject, falling back to the username
// claim for tokens issued before subjects were stored.
func (s *SessionService) resolve(ctx context.Context, claims *model.AuthClaims) (model.User, error) {
	if claims.Subject != "" {
		user, err := s.users.FindByID(ctx, claims.Subject)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, model.ErrUserNotFound) {
			return model.User{}, fmt.Errorf("find user by id: %w", err)
		}
	}

	if claims.Username != "" {
		user, err := s.users.FindByUsername(ctx, claims.Username)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, model.ErrUserNotFound) {
			return model.User{}, fmt.Errorf("find user by username: %w", err)
		}
	}

	return model.User{}, model.ErrUserNotFound
}

func (s *SessionService) revoke(ctx context.Context, userID string, reason string) {
	slog.Warn("revoking session", "user_id", userID, "reason", reason)
	s.metrics.SessionEvent("revoked")
	if err := s.users.ClearRefreshHash(ctx, userID); err != nil {
		slog.Error("failed to clear refresh hash", "user_id", userID, "error", err)
	}
}

func (s *SessionService) issue(user model.User) (model.TokenPair, string, error) {
	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return model.TokenPair{}, "", err
	}

	hash, err := hashRefresh(pair.RefreshToken, s.bcryptCost)
	if err != nil {
		return model.TokenPair{}, "", err
	}
	return pair, hash, nil
}

// bcrypt only reads 72 bytes, less than a signed JWT, so the token is
// digested first.
func refreshDigest(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return []byte(hex.EncodeToString(sum[:]))
}

func hashRefresh(token string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(refreshDigest(token), cost)
	if err != nil {
		return "", fmt.Errorf("hash refresh token: %w", err)
	}
	return string(hash), nil
}

func compareRefresh(stored string, presented string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), refreshDigest(presented)) == nil
}

func storeErr(op string, err error) error {
	if errors.Is(err, model.ErrUserNotFound) {
		return model.ErrUserNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
