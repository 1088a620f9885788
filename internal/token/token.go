// Package token issues and validates report-access tokens.
//
// A token is a bearer capability: 32 random bytes, base64url encoded,
// granting read access to one report kind of one student until it expires.
// Only a BLAKE3 hash of the token is persisted, so a leaked table does not
// leak usable links. Tokens are reusable until expiry; Revoke ends a token's
// life early by moving its expiry to the revocation time.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/LeventeLantos/kindergarten-notify/internal/cache"
	"github.com/LeventeLantos/kindergarten-notify/internal/metrics"
	"github.com/LeventeLantos/kindergarten-notify/internal/model"
	"github.com/LeventeLantos/kindergarten-notify/internal/repo"
)

// TTL is fixed; callers cannot choose a token lifetime.
const TTL = 72 * time.Hour

const entropyBytes = 32

var ErrInvalidRequest = fmt.Errorf("%w: invalid token request", model.ErrValidation)

type Outcome string

const (
	OK       Outcome = "ok"
	Expired  Outcome = "expired"
	Mismatch Outcome = "mismatch"
	NotFound Outcome = "not_found"
)

type Minted struct {
	Token     string    `json:"token"`
	ReportURL string    `json:"reportUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Check is a presented token plus the scope the caller wants to access.
// GuardianAccess is compared only when set.
type Check struct {
	Token          string
	StudentID      string
	ReportType     model.ReportType
	GuardianAccess *bool
}

type Result struct {
	Outcome        Outcome `json:"status"`
	GuardianAccess bool    `json:"guardianAccess"`
}

type Service struct {
	repo    repo.TokenRepository
	cache   cache.TokenCache
	baseURL *url.URL
	entropy io.Reader
	now     func() time.Time
}

func NewService(r repo.TokenRepository, reportBaseURL string) (*Service, error) {
	u, err := url.Parse(reportBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse report base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("report base url must be absolute, got %q", reportBaseURL)
	}
	return &Service{
		repo:    r,
		baseURL: u,
		entropy: rand.Reader,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Service) WithCache(c cache.TokenCache) *Service {
	s.cache = c
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithEntropy(r io.Reader) *Service {
	s.entropy = r
	return s
}

// Hash is the storage key for a token value.
func Hash(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *Service) newValue() (string, error) {
	buf := make([]byte, entropyBytes)
	if _, err := io.ReadFull(s.entropy, buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Mint persists a new token for the given scope. Repeated calls for the same
// scope yield independent tokens.
func (s *Service) Mint(ctx context.Context, studentID string, reportType model.ReportType, guardianAccess bool) (Minted, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return Minted{}, fmt.Errorf("%w: studentId is required", ErrInvalidRequest)
	}
	if reportType == "" {
		return Minted{}, fmt.Errorf("%w: reportType is required", ErrInvalidRequest)
	}
	if !reportType.Valid() {
		return Minted{}, fmt.Errorf("%w: unknown reportType %q", ErrInvalidRequest, reportType)
	}

	value, err := s.newValue()
	if err != nil {
		return Minted{}, err
	}

	issuedAt := s.now()
	rec := model.ReportToken{
		Hash:           Hash(value),
		StudentID:      studentID,
		ReportType:     reportType,
		GuardianAccess: guardianAccess,
		IssuedAt:       issuedAt,
		ExpiresAt:      issuedAt.Add(TTL),
	}
	if err := s.repo.CreateToken(ctx, rec); err != nil {
		return Minted{}, err
	}
	s.cacheAdd(ctx, rec)

	metrics.TokensMinted.WithLabelValues(string(reportType)).Inc()
	slog.Info("report token minted",
		"student_id", studentID,
		"report_type", reportType,
		"guardian_access", guardianAccess,
		"expires_at", rec.ExpiresAt,
	)

	return Minted{
		Token:     value,
		ReportURL: s.reportURL(value, rec),
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *Service) reportURL(value string, rec model.ReportToken) string {
	u := s.baseURL.JoinPath("reports", string(rec.ReportType))
	q := u.Query()
	q.Set("studentId", rec.StudentID)
	q.Set("token", value)
	q.Set("guardianAccess", strconv.FormatBool(rec.GuardianAccess))
	u.RawQuery = q.Encode()
	return u.String()
}

// Validate reports whether c grants access. Only storage failures are
// returned as errors; rejections are outcomes.
func (s *Service) Validate(ctx context.Context, c Check) (Result, error) {
	res, err := s.validate(ctx, c)
	if err != nil {
		return Result{}, err
	}
	metrics.TokenValidations.WithLabelValues(string(res.Outcome)).Inc()
	return res, nil
}

func (s *Service) validate(ctx context.Context, c Check) (Result, error) {
	if c.Token == "" {
		return Result{Outcome: NotFound}, nil
	}

	rec, found, err := s.lookup(ctx, Hash(c.Token))
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{Outcome: NotFound}, nil
	}
	if rec.ExpiredAt(s.now()) {
		return Result{Outcome: Expired}, nil
	}
	if rec.StudentID != c.StudentID || rec.ReportType != c.ReportType {
		return Result{Outcome: Mismatch}, nil
	}
	if c.GuardianAccess != nil && *c.GuardianAccess != rec.GuardianAccess {
		return Result{Outcome: Mismatch}, nil
	}
	return Result{Outcome: OK, GuardianAccess: rec.GuardianAccess}, nil
}

func (s *Service) lookup(ctx context.Context, hash string) (model.ReportToken, bool, error) {
	if s.cache != nil {
		rec, ok, err := s.cache.GetToken(ctx, hash)
		if err != nil {
			slog.Warn("report token cache read failed", "err", err)
		} else if ok {
			return rec, true, nil
		}
	}

	rec, err := s.repo.GetToken(ctx, hash)
	if errors.Is(err, model.ErrNotFound) {
		return model.ReportToken{}, false, nil
	}
	if err != nil {
		return model.ReportToken{}, false, err
	}
	s.cacheAdd(ctx, rec)
	return rec, true, nil
}

// Revoke expires the token immediately. Later validations report Expired.
// The expired record overwrites the cache entry for a full TTL, outliving any
// fill. A failed cache write is returned; Revoke can be retried.
func (s *Service) Revoke(ctx context.Context, value string) error {
	if value == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidRequest)
	}
	hash := Hash(value)
	if err := s.repo.ExpireToken(ctx, hash, s.now()); err != nil {
		return err
	}
	if s.cache != nil {
		rec, err := s.repo.GetToken(ctx, hash)
		if err != nil {
			return err
		}
		if err := s.cache.PutToken(ctx, rec, TTL); err != nil {
			return fmt.Errorf("cache revoked report token: %w", err)
		}
	}
	slog.Info("report token revoked")
	return nil
}

func (s *Service) cacheAdd(ctx context.Context, rec model.ReportToken) {
	if s.cache == nil {
		return
	}
	if err := s.cache.AddToken(ctx, rec, rec.ExpiresAt.Sub(s.now())); err != nil {
		slog.Warn("report token cache write failed", "err", err)
	}
}
