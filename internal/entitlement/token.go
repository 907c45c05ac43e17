// Package entitlement mints and verifies the signed tokens that authorize a
// point-of-sale device to issue invoices while disconnected from the server.
// A token is bounded in time and in how many offline invoices it may cover;
// the server can also revoke one before expiry by token ID.
package entitlement

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"medipos/backend/internal/domain"
	"medipos/backend/internal/xid"
)

var (
	ErrInvalidToken = errors.New("invalid or expired entitlement token")
	ErrNotYetValid  = errors.New("entitlement token not yet valid")
)

type entitlementClaims struct {
	jwtlib.RegisteredClaims
	DeviceID           string   `json:"deviceId"`
	TenantID           string   `json:"tenantId"`
	MaxOfflineInvoices int      `json:"maxOfflineInvoices"`
	Permissions        []string `json:"permissions,omitempty"`
}

type Signer struct {
	secret     []byte
	issuer     string
	defaultTTL time.Duration
	defaultMax int
	now        func() time.Time
}

func NewSigner(secret string, defaultTTL time.Duration, defaultMax int) *Signer {
	if secret == "" {
		secret = "dev-change-me"
	}
	if defaultTTL <= 0 {
		defaultTTL = 72 * time.Hour
	}
	if defaultMax <= 0 {
		defaultMax = 50
	}
	return &Signer{
		secret:     []byte(secret),
		issuer:     "medipos",
		defaultTTL: defaultTTL,
		defaultMax: defaultMax,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Mint issues a new entitlement for the given device. TTL and invoice caps
// fall back to the signer defaults when the request leaves them zero.
func (s *Signer) Mint(req domain.EntitlementIssueRequest) (string, domain.Entitlement, error) {
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return "", domain.Entitlement{}, errors.New("device_id is required")
	}

	ttl := s.defaultTTL
	if req.TTLHours > 0 {
		ttl = time.Duration(req.TTLHours) * time.Hour
	}
	maxInvoices := s.defaultMax
	if req.MaxOfflineInvoices > 0 {
		maxInvoices = req.MaxOfflineInvoices
	}

	issuedAt := s.now()
	ent := domain.Entitlement{
		TokenID:            xid.New("ent"),
		DeviceID:           deviceID,
		TenantID:           strings.TrimSpace(req.TenantID),
		IssuedAt:           issuedAt,
		ExpiresAt:          issuedAt.Add(ttl),
		MaxOfflineInvoices: maxInvoices,
		Permissions:        req.Permissions,
	}

	claims := entitlementClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        ent.TokenID,
			Subject:   ent.DeviceID,
			Issuer:    s.issuer,
			IssuedAt:  jwtlib.NewNumericDate(ent.IssuedAt),
			NotBefore: jwtlib.NewNumericDate(ent.IssuedAt),
			ExpiresAt: jwtlib.NewNumericDate(ent.ExpiresAt),
		},
		DeviceID:           ent.DeviceID,
		TenantID:           ent.TenantID,
		MaxOfflineInvoices: ent.MaxOfflineInvoices,
		Permissions:        ent.Permissions,
	}

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", domain.Entitlement{}, err
	}
	return signed, ent, nil
}

// Verify checks the signature and time bounds and returns the embedded
// entitlement. Revocation is a store concern and is checked by the caller.
func (s *Signer) Verify(tokenStr string) (domain.Entitlement, error) {
	claims := &entitlementClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return domain.Entitlement{}, ErrInvalidToken
	}
	return claimsToEntitlement(claims)
}

// Inspect decodes the claims without checking the signature. The client
// device cannot hold the HMAC secret, so it uses Inspect to read its own
// expiry and invoice cap; the server always settles authenticity at sync.
func Inspect(tokenStr string) (domain.Entitlement, error) {
	claims := &entitlementClaims{}
	parser := jwtlib.NewParser(jwtlib.WithValidMethods([]string{"HS256"}))
	if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
		return domain.Entitlement{}, ErrInvalidToken
	}
	return claimsToEntitlement(claims)
}

func claimsToEntitlement(claims *entitlementClaims) (domain.Entitlement, error) {
	if claims.ID == "" || claims.DeviceID == "" {
		return domain.Entitlement{}, ErrInvalidToken
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return domain.Entitlement{}, ErrInvalidToken
	}
	return domain.Entitlement{
		TokenID:            claims.ID,
		DeviceID:           claims.DeviceID,
		TenantID:           claims.TenantID,
		IssuedAt:           claims.IssuedAt.Time.UTC(),
		ExpiresAt:          claims.ExpiresAt.Time.UTC(),
		MaxOfflineInvoices: claims.MaxOfflineInvoices,
		Permissions:        claims.Permissions,
	}, nil
}
