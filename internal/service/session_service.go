package service

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gigbridge/trustcore/internal/domain"
	"github.com/gigbridge/trustcore/internal/repository"
	"github.com/gigbridge/trustcore/internal/security"

	"github.com/google/uuid"
)

type SessionInfo struct {
	SessionID    uint      `json:"session_id"`
	UserID       string    `json:"user_id"`
	IsTrusted    bool      `json:"is_trusted"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type BiometricChallenge struct {
	ChallengeID string `json:"challenge_id"`
	Nonce       string `json:"nonce"`
	ExpiresAt   time.Time
}

type SessionService struct {
	sessions   repository.SessionRepository
	audit      *AuditService
	tokens     *security.TokenManager
	challenges ChallengeStore
	sessionTTL time.Duration
	challTTL   time.Duration
}

func NewSessionService(sessions repository.SessionRepository, audit *AuditService, tokens *security.TokenManager, challenges ChallengeStore, sessionTTL, challengeTTL time.Duration) *SessionService {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	if challengeTTL <= 0 {
		challengeTTL = 5 * time.Minute
	}
	return &SessionService{
		sessions:   sessions,
		audit:      audit,
		tokens:     tokens,
		challenges: challenges,
		sessionTTL: sessionTTL,
		challTTL:   challengeTTL,
	}
}

// CreateSession establishes a session after authentication. Expired sessions
// for the user are purged first; if the live count is still at the cap the
// least-recently-active session is evicted before the insert.
func (s *SessionService) CreateSession(ctx context.Context, userID, ip, userAgent string, trusted bool) (string, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(ip) == "" {
		return "", fmt.Errorf("%w: user id and ip are required", ErrValidation)
	}
	now := time.Now().UTC()
	if _, err := s.sessions.PurgeExpiredForUser(userID, now); err != nil {
		return "", fmt.Errorf("purge expired sessions: %w", err)
	}
	live, err := s.sessions.ListLiveByUserID(userID, now)
	if err != nil {
		return "", fmt.Errorf("list live sessions: %w", err)
	}
	for i := 0; len(live)-i >= domain.MaxLiveSessionsPerUser; i++ {
		if _, err := s.sessions.Deactivate(live[i].ID); err != nil {
			return "", fmt.Errorf("evict session: %w", err)
		}
	}

	token, tokenHash, err := s.tokens.MintSessionToken(userID, s.sessionTTL)
	if err != nil {
		return "", fmt.Errorf("mint session token: %w", err)
	}
	session := &domain.Session{
		UserID:            userID,
		TokenHash:         tokenHash,
		DeviceFingerprint: security.Fingerprint(userAgent, ip),
		IP:                ip,
		UserAgent:         userAgent,
		IsTrusted:         trusted,
		IsActive:          true,
		LastActivity:      now,
		ExpiresAt:         now.Add(s.sessionTTL),
	}
	if err := s.sessions.Create(session); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	s.audit.TryLog(ctx, LogEntry{
		UserID:    userID,
		EventType: domain.EventSessionCreated,
		Resource:  "session",
		Action:    "create",
		IP:        ip,
		UserAgent: userAgent,
		Metadata:  domain.JSONMap{"trusted": trusted},
	})
	return token, nil
}

// ValidateSession resolves a token to a live session. A missing or expired
// record yields nil (and the expired record is destroyed); a device
// fingerprint mismatch on an untrusted session is treated as hijacking:
// the session is destroyed, the event audited, and the caller must force
// re-authentication. Valid access refreshes last activity.
func (s *SessionService) ValidateSession(ctx context.Context, token, ip, userAgent string) (*SessionInfo, error) {
	session, err := s.lookup(token)
	if err != nil {
		return nil, err
	}
	if session == nil || !session.IsActive {
		return nil, nil
	}
	now := time.Now().UTC()
	if session.Expired(now) {
		// Destroy on read; repeat validations stay idempotent no-ops.
		if _, err := s.sessions.Deactivate(session.ID); err != nil {
			return nil, fmt.Errorf("deactivate expired session: %w", err)
		}
		return nil, nil
	}
	if fp := security.Fingerprint(userAgent, ip); fp != session.DeviceFingerprint && !session.IsTrusted {
		if _, err := s.sessions.Deactivate(session.ID); err != nil {
			return nil, fmt.Errorf("deactivate hijacked session: %w", err)
		}
		s.audit.TryLog(ctx, LogEntry{
			UserID:    session.UserID,
			EventType: domain.EventSuspiciousActivity,
			Resource:  "session",
			Action:    "fingerprint_mismatch",
			IP:        ip,
			UserAgent: userAgent,
			Metadata: domain.JSONMap{
				"session_id": session.ID,
				"stored_ip":  session.IP,
			},
		})
		return nil, nil
	}
	if err := s.sessions.Touch(session.ID, now); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	return &SessionInfo{
		SessionID:    session.ID,
		UserID:       session.UserID,
		IsTrusted:    session.IsTrusted,
		LastActivity: now,
		ExpiresAt:    session.ExpiresAt,
	}, nil
}

// DestroySession logs a session out. Missing sessions are a no-op false.
func (s *SessionService) DestroySession(ctx context.Context, token string) (bool, error) {
	session, err := s.lookup(token)
	if err != nil {
		return false, err
	}
	if session == nil {
		return false, nil
	}
	changed, err := s.sessions.Deactivate(session.ID)
	if err != nil {
		return false, err
	}
	if changed {
		s.audit.TryLog(ctx, LogEntry{
			UserID:    session.UserID,
			EventType: domain.EventSessionDestroyed,
			Resource:  "session",
			Action:    "logout",
			IP:        session.IP,
		})
	}
	return changed, nil
}

// DestroyAllUserSessions revokes every live session for a user, optionally
// sparing the session behind exceptToken.
func (s *SessionService) DestroyAllUserSessions(ctx context.Context, userID, exceptToken string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	var exceptID uint
	if exceptToken != "" {
		session, err := s.lookup(exceptToken)
		if err != nil {
			return 0, err
		}
		if session != nil && session.UserID == userID {
			exceptID = session.ID
		}
	}
	count, err := s.sessions.DeactivateAllForUser(userID, exceptID)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.audit.TryLog(ctx, LogEntry{
			UserID:    userID,
			EventType: domain.EventSessionDestroyed,
			Resource:  "session",
			Action:    "destroy_all",
			Metadata:  domain.JSONMap{"destroyed": count},
		})
	}
	return count, nil
}

// TrustDevice exempts the session from future fingerprint mismatch checks.
func (s *SessionService) TrustDevice(ctx context.Context, token string) (bool, error) {
	session, err := s.lookup(token)
	if err != nil {
		return false, err
	}
	if session == nil || !session.Live(time.Now().UTC()) {
		return false, nil
	}
	if err := s.sessions.MarkTrusted(session.ID); err != nil {
		return false, err
	}
	return true, nil
}

// lookup resolves a token to its stored session. Invalid tokens and missing
// records both read as nil, nil: state-mutating callers treat them as no-ops.
func (s *SessionService) lookup(token string) (*domain.Session, error) {
	claims, err := s.tokens.ParseSessionToken(token)
	if err != nil {
		return nil, nil
	}
	session, err := s.sessions.FindByTokenHash(s.tokens.HashTokenID(claims.ID))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// GenerateBiometricChallenge issues a random nonce the client must sign.
// The challenge expires after five minutes and is single use.
func (s *SessionService) GenerateBiometricChallenge(ctx context.Context, userID string) (*BiometricChallenge, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	nonce, err := security.RandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("generate challenge nonce: %w", err)
	}
	challenge := &BiometricChallenge{
		ChallengeID: uuid.NewString(),
		Nonce:       hex.EncodeToString(nonce),
		ExpiresAt:   time.Now().Add(s.challTTL),
	}
	payload := userID + "|" + challenge.Nonce
	if err := s.challenges.Put(ctx, "biometric:"+challenge.ChallengeID, payload, s.challTTL); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}
	return challenge, nil
}

// VerifyBiometricAuth checks the Ed25519 signature over the challenge nonce.
// The challenge is consumed on the first verification attempt regardless of
// outcome, so a failed check burns it.
func (s *SessionService) VerifyBiometricAuth(ctx context.Context, userID, challengeID string, signature []byte, publicKey ed25519.PublicKey) (bool, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(challengeID) == "" {
		return false, fmt.Errorf("%w: user id and challenge id are required", ErrValidation)
	}
	payload, ok, err := s.challenges.Take(ctx, "biometric:"+challengeID)
	if err != nil {
		return false, fmt.Errorf("take challenge: %w", err)
	}
	verified := false
	if ok {
		expectedPrefix := userID + "|"
		if strings.HasPrefix(payload, expectedPrefix) && len(publicKey) == ed25519.PublicKeySize {
			nonce := strings.TrimPrefix(payload, expectedPrefix)
			verified = ed25519.Verify(publicKey, []byte(nonce), signature)
		}
	}
	eventType := domain.EventAuthFailure
	action := "biometric_failed"
	if verified {
		eventType = domain.EventAuthSuccess
		action = "biometric_verified"
	}
	s.audit.TryLog(ctx, LogEntry{
		UserID:    userID,
		EventType: eventType,
		Resource:  "biometric_auth",
		Action:    action,
		Metadata:  domain.JSONMap{"challenge_id": challengeID},
	})
	return verified, nil
}
