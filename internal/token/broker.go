// Package token mints and validates the short-lived connection tokens that
// gate websocket upgrades. Tokens are HS256 JWTs whose subject is the
// connection record id; every issued token is mirrored by a token record in
// the store so cleanup can revoke it before its expiry.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/morrigan-server/morrigan/internal/models"
	"github.com/morrigan-server/morrigan/internal/storage"
)

// Issued describes one minted connection token.
type Issued struct {
	Token   string
	TokenID string
	Expires time.Time
}

// Verified is the outcome of checking a presented token. When OK is false,
// Reason explains the rejection in the wording handed to logs.
type Verified struct {
	OK      bool
	Subject string
	Reason  string
}

type Broker struct {
	key   []byte
	ttl   time.Duration
	store storage.Store
}

func NewBroker(key []byte, ttl time.Duration, store storage.Store) *Broker {
	return &Broker{key: key, ttl: ttl, store: store}
}

// Issue mints a token for the given subject. Payload entries become
// top-level JWT claims; the connection provider uses this to embed the
// report URL the client dials back to.
func (b *Broker) Issue(ctx context.Context, subject string, payload map[string]any) (*Issued, error) {
	tokenID := uuid.New().String()
	now := time.Now()
	expires := now.Add(b.ttl)

	claims := jwt.MapClaims{
		"sub": subject,
		"jti": tokenID,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(expires),
	}
	for k, v := range payload {
		claims[k] = v
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign connection token: %w", err)
	}

	record := models.TokenRecord{
		ID:      tokenID,
		Subject: subject,
		Expires: models.NewISOTime(expires),
	}
	if err := b.store.PutToken(ctx, &record); err != nil {
		return nil, fmt.Errorf("failed to store token record: %w", err)
	}

	return &Issued{Token: signed, TokenID: tokenID, Expires: expires}, nil
}

// Verify checks signature, expiry and revocation. A token whose record was
// deleted by cleanup is rejected even inside its validity window.
func (b *Broker) Verify(ctx context.Context, tokenString string) (*Verified, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return b.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return &Verified{Reason: "Connection token expired."}, nil
		}
		log.WithField("prefix", "Broker.Verify").Debugf("token rejected: %v", err)
		return &Verified{Reason: "Invalid connection token."}, nil
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return &Verified{Reason: "Connection token has no subject."}, nil
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return &Verified{Reason: "Invalid connection token."}, nil
	}
	tokenID, _ := claims["jti"].(string)
	if tokenID == "" {
		return &Verified{Reason: "Connection token has no id."}, nil
	}

	record, err := b.store.GetToken(ctx, tokenID)
	if errors.Is(err, storage.ErrNotFound) {
		return &Verified{Reason: "Connection token revoked."}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token record: %w", err)
	}
	if record.Subject != subject {
		return &Verified{Reason: "Connection token revoked."}, nil
	}

	return &Verified{OK: true, Subject: subject}, nil
}
