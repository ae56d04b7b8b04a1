package apikeys

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Itqan-community/cms-backend-sub002/pkg/identity"
	"github.com/Itqan-community/cms-backend-sub002/pkg/observability"
)

// PrincipalSource resolves credential owners
type PrincipalSource interface {
	GetPrincipal(ctx context.Context, id int64) (*identity.Principal, error)
}

// Service implements the credential lifecycle: issuance, authentication,
// revocation, and usage touch.
type Service struct {
	store      *Store
	principals PrincipalSource
	generator  *SecretGenerator
	logger     *observability.Logger
}

// NewService creates a credential service
func NewService(store *Store, principals PrincipalSource, generator *SecretGenerator, logger *observability.Logger) *Service {
	return &Service{
		store:      store,
		principals: principals,
		generator:  generator,
		logger:     logger,
	}
}

// IssueRequest carries the caller-supplied fields of a new credential
type IssueRequest struct {
	Name         string
	QuotaPerHour int
	AllowedIPs   []string
	ExpiresAt    *time.Time
}

// Issue creates a credential for the owner and returns it together with
// the one-time secret. The secret is never persisted or logged.
func (s *Service) Issue(ctx context.Context, owner *identity.Principal, req IssueRequest) (*Credential, string, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, "", ErrEmptyName
	}

	ceiling := QuotaCeiling(owner.RoleName)
	if ceiling != QuotaUnbounded {
		if req.QuotaPerHour > ceiling {
			return nil, "", ErrQuotaTooHigh
		}
		if req.QuotaPerHour <= 0 {
			req.QuotaPerHour = ceiling
		}
	}

	if err := validateAllowList(req.AllowedIPs); err != nil {
		return nil, "", err
	}

	secret, secretHash, prefix, err := s.generator.Generate()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate secret: %w", err)
	}

	cred := &Credential{
		OwnerID:      owner.ID,
		Name:         name,
		Prefix:       prefix,
		SecretHash:   secretHash,
		AllowedIPs:   normalizeAllowList(req.AllowedIPs),
		QuotaPerHour: req.QuotaPerHour,
		ExpiresAt:    req.ExpiresAt,
	}
	if err := s.store.Insert(ctx, cred); err != nil {
		return nil, "", err
	}

	s.logger.WithFields(map[string]interface{}{
		"credential_id": cred.ID,
		"owner_id":      owner.ID,
		"prefix":        cred.Prefix,
	}).Info("credential issued")

	return cred, secret, nil
}

// Authenticate validates a presented secret and the client IP. Every
// failure mode returns the same ErrAuthenticationFailed so callers
// cannot distinguish unknown, expired, revoked, or IP-blocked.
func (s *Service) Authenticate(ctx context.Context, presented, clientIP string) (*identity.Principal, *Credential, error) {
	if err := s.generator.ValidateFormat(presented); err != nil {
		return nil, nil, ErrAuthenticationFailed
	}

	prefix := s.generator.ExtractPrefix(presented)
	candidates, err := s.store.FindByPrefix(ctx, prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("credential lookup failed: %w", err)
	}

	now := time.Now()
	for _, cred := range candidates {
		if !s.generator.Verify(presented, cred.SecretHash) {
			continue
		}
		if !cred.Valid(now) {
			return nil, nil, ErrAuthenticationFailed
		}
		if !ipAllowed(cred.AllowedIPs, clientIP) {
			return nil, nil, ErrAuthenticationFailed
		}

		owner, err := s.principals.GetPrincipal(ctx, cred.OwnerID)
		if err == identity.ErrNotFound {
			return nil, nil, ErrAuthenticationFailed
		}
		if err != nil {
			return nil, nil, fmt.Errorf("owner lookup failed: %w", err)
		}
		if !owner.Active {
			return nil, nil, ErrAuthenticationFailed
		}
		return owner, cred, nil
	}

	return nil, nil, ErrAuthenticationFailed
}

// Revoke transitions a credential to revoked, recording actor and reason
func (s *Service) Revoke(ctx context.Context, credentialID int64, actor *identity.Principal, reason string) error {
	if err := s.store.Revoke(ctx, credentialID, actor.ID, reason); err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"credential_id": credentialID,
		"actor_id":      actor.ID,
	}).Info("credential revoked")
	return nil
}

// Touch updates last-used metadata and increments the request counter
func (s *Service) Touch(ctx context.Context, credentialID int64, ip string) error {
	return s.store.Touch(ctx, credentialID, ip)
}

func validateAllowList(entries []string) error {
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return fmt.Errorf("%w: %q", ErrInvalidAllowList, entry)
			}
			continue
		}
		if net.ParseIP(entry) == nil {
			return fmt.Errorf("%w: %q", ErrInvalidAllowList, entry)
		}
	}
	return nil
}

func normalizeAllowList(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if trimmed := strings.TrimSpace(entry); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// ipAllowed checks a client IP against the allow-list. An empty list
// means unrestricted; entries are literal addresses or CIDR blocks.
func ipAllowed(allowList []string, clientIP string) bool {
	if len(allowList) == 0 {
		return true
	}

	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}

	for _, entry := range allowList {
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err == nil && network.Contains(ip) {
				return true
			}
			continue
		}
		if allowed := net.ParseIP(entry); allowed != nil && allowed.Equal(ip) {
			return true
		}
	}
	return false
}
