package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"github.com/MrEthical07/portalAuth/internal"
	"github.com/MrEthical07/portalAuth/internal/rate"
	"github.com/MrEthical07/portalAuth/jwt"
	"github.com/MrEthical07/portalAuth/password"
	"github.com/MrEthical07/portalAuth/profile"
	"github.com/MrEthical07/portalAuth/session"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	fieldEmail     = "email"
	fieldHash      = "hash"
	fieldMetadata  = "metadata"
	fieldCreatedAt = "created_at"
)

// Service is the identity authority. It is safe for concurrent use.
type Service struct {
	redis    redis.UniversalClient
	config   Config
	hasher   *password.Hasher
	tokens   *jwt.Manager
	sessions *session.Store
	limiter  *rate.Limiter
	logger   *slog.Logger
	now      func() time.Time
}

// NewService validates cfg and wires the hasher, token manager, session store and
// sign-in throttle onto client.
func NewService(client redis.UniversalClient, cfg Config, logger *slog.Logger) (*Service, error) {
	if client == nil {
		return nil, errors.New("gateway requires a redis client")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}
	tokens, err := jwt.NewManager(cfg.JWT)
	if err != nil {
		return nil, err
	}

	return &Service{
		redis:    client,
		config:   cfg,
		hasher:   hasher,
		tokens:   tokens,
		sessions: session.NewStore(client, cfg.SessionPrefix, cfg.SlidingSessions),
		limiter: rate.New(client, rate.Config{
			EnableIPThrottle: cfg.SignInThrottle.EnableIPThrottle,
			MaxAttempts:      cfg.SignInThrottle.MaxAttempts,
			Cooldown:         cfg.SignInThrottle.Cooldown,
		}),
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *Service) identityKey(id string) string {
	return s.config.KeyPrefix + "i:" + id
}

func (s *Service) emailKey(email string) string {
	return s.config.KeyPrefix + "e:" + email
}

// SignUp creates an identity. It never creates a session. An email that already has
// an identity yields ErrDuplicateAccount; a password outside policy yields
// password.ErrPolicy.
func (s *Service) SignUp(ctx context.Context, email, pwd string, metadata map[string]string) (*Identity, error) {
	email = profile.NormalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(pwd)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	claimed, err := s.redis.SetNX(ctx, s.emailKey(email), id, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !claimed {
		return nil, ErrDuplicateAccount
	}

	meta, err := json.Marshal(metadata)
	if err != nil {
		_ = s.redis.Del(ctx, s.emailKey(email)).Err()
		return nil, err
	}

	created := s.now().UTC()
	err = s.redis.HSet(ctx, s.identityKey(id),
		fieldEmail, email,
		fieldHash, hash,
		fieldMetadata, string(meta),
		fieldCreatedAt, strconv.FormatInt(created.Unix(), 10),
	).Err()
	if err != nil {
		if delErr := s.redis.Del(ctx, s.emailKey(email)).Err(); delErr != nil {
			s.logger.Warn("gateway: release email claim failed", "email", email, "err", delErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &Identity{
		ID:        id,
		Email:     email,
		Metadata:  maps.Clone(metadata),
		CreatedAt: time.Unix(created.Unix(), 0).UTC(),
	}, nil
}

// SignIn checks the email and password pair and opens a session.
func (s *Service) SignIn(ctx context.Context, email, pwd string) (*Session, error) {
	email = profile.NormalizeEmail(email)
	ip := clientIPFromContext(ctx)

	if err := s.limiter.Check(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			return nil, ErrRateLimited
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	identity, hash, err := s.identityByEmail(ctx, email)
	if errors.Is(err, ErrInvalidCredentials) {
		s.recordFailure(ctx, email, ip)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := s.hasher.Verify(pwd, hash)
	if err != nil || !ok {
		s.recordFailure(ctx, email, ip)
		return nil, ErrInvalidCredentials
	}

	if err := s.limiter.Reset(ctx, email, ip); err != nil {
		s.logger.Warn("gateway: reset sign-in throttle failed", "email", email, "err", err)
	}
	s.maybeRehash(ctx, identity.ID, pwd, hash)

	return s.openSession(ctx, identity)
}

// Refresh rotates refreshToken and returns the session with a new access token and
// a new refresh token. Presenting an already-rotated token revokes the session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	sid, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrRefreshInvalid
	}

	next, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	stored, err := s.sessions.Rotate(ctx, sid, internal.HashRefreshSecret(secret), internal.HashRefreshSecret(next))
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrRefreshHashMismatch),
		errors.Is(err, session.ErrCorrupt):
		return nil, ErrRefreshInvalid
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	identity, err := s.Identity(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			_ = s.sessions.Delete(ctx, sid)
			return nil, ErrRefreshInvalid
		}
		return nil, err
	}

	return s.mint(identity, stored, next)
}

// SignOut deletes the session. Unknown sessions are not an error.
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// SignOutAll deletes every session of userID.
func (s *Service) SignOutAll(ctx context.Context, userID string) error {
	if err := s.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Verify checks an access token and that its session is still live.
func (s *Service) Verify(ctx context.Context, accessToken string) (*Identity, string, error) {
	claims, err := s.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, "", ErrSessionNotFound
	}

	if _, err := s.sessions.Get(ctx, claims.SID); err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrCorrupt) {
			return nil, "", ErrSessionNotFound
		}
		return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	identity, err := s.Identity(ctx, claims.UID)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, "", ErrSessionNotFound
		}
		return nil, "", err
	}
	return identity, claims.SID, nil
}

// Identity loads an identity by id. A missing identity reports ErrInvalidCredentials.
func (s *Service) Identity(ctx context.Context, id string) (*Identity, error) {
	identity, _, err := s.loadIdentity(ctx, id)
	return identity, err
}

func (s *Service) identityByEmail(ctx context.Context, email string) (*Identity, string, error) {
	id, err := s.redis.Get(ctx, s.emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s.loadIdentity(ctx, id)
}

func (s *Service) loadIdentity(ctx context.Context, id string) (*Identity, string, error) {
	fields, err := s.redis.HGetAll(ctx, s.identityKey(id)).Result()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, "", ErrInvalidCredentials
	}

	identity := &Identity{ID: id, Email: fields[fieldEmail]}
	if raw := fields[fieldMetadata]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &identity.Metadata); err != nil {
			return nil, "", fmt.Errorf("decode identity metadata: %w", err)
		}
	}
	if unix, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64); err == nil {
		identity.CreatedAt = time.Unix(unix, 0).UTC()
	}
	return identity, fields[fieldHash], nil
}

func (s *Service) openSession(ctx context.Context, identity *Identity) (*Session, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	now := s.now()
	stored := &session.Session{
		SessionID:   sid.String(),
		UserID:      identity.ID,
		Email:       identity.Email,
		RefreshHash: internal.HashRefreshSecret(secret),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(s.config.SessionTTL).Unix(),
	}
	if err := s.sessions.Save(ctx, stored, s.config.SessionTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return s.mint(identity, stored, secret)
}

func (s *Service) mint(identity *Identity, stored *session.Session, secret internal.RefreshSecret) (*Session, error) {
	access, expires, err := s.tokens.CreateAccess(identity.ID, stored.SessionID, identity.Email)
	if err != nil {
		return nil, err
	}
	refresh, err := internal.EncodeRefreshToken(stored.SessionID, secret)
	if err != nil {
		return nil, err
	}

	return &Session{
		ID:           stored.SessionID,
		Subject:      identity.ID,
		Identity:     identity,
		AccessToken:  access,
		RefreshToken: refresh,
		IssuedAt:     s.now(),
		ExpiresAt:    expires,
	}, nil
}

func (s *Service) recordFailure(ctx context.Context, email, ip string) {
	if err := s.limiter.Fail(ctx, email, ip); err != nil {
		s.logger.Warn("gateway: record sign-in failure failed", "email", email, "err", err)
	}
}

func (s *Service) maybeRehash(ctx context.Context, id, pwd, hash string) {
	upgrade, err := s.hasher.NeedsUpgrade(hash)
	if err != nil || !upgrade {
		return
	}
	next, err := s.hasher.Hash(pwd)
	if err != nil {
		return
	}
	if err := s.redis.HSet(ctx, s.identityKey(id), fieldHash, next).Err(); err != nil {
		s.logger.Warn("gateway: password rehash failed", "user_id", id, "err", err)
	}
}

var _ Provider = (*Service)(nil)
