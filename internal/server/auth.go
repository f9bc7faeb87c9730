package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/afterdark/memoryhunt/internal/game"
)

// DeviceClaims is the signed identity a station presents on every
// connection and request.
type DeviceClaims struct {
	DeviceID   string `json:"deviceId"`
	DeviceKind string `json:"deviceKind"`
	jwt.RegisteredClaims
}

var (
	errNoToken          = errors.New("no-token")
	errInvalidToken     = errors.New("invalid-token")
	errUnauthorizedRole = errors.New("unauthorized-role")
)

// TokenIssuer signs and verifies device bearer tokens (HS256).
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (i *TokenIssuer) Issue(deviceID string, kind game.DeviceKind) (string, error) {
	now := i.now()
	claims := DeviceClaims{
		DeviceID:   deviceID,
		DeviceKind: string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify checks signature and expiry and validates the declared role. The
// three failure modes stay distinguishable so the connection handshake can
// report them separately.
func (i *TokenIssuer) Verify(raw string) (DeviceClaims, error) {
	if raw == "" {
		return DeviceClaims{}, errNoToken
	}
	var claims DeviceClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return DeviceClaims{}, errInvalidToken
	}
	if claims.DeviceID == "" {
		return DeviceClaims{}, errInvalidToken
	}
	switch game.DeviceKind(claims.DeviceKind) {
	case game.DeviceFacilitator, game.DeviceParticipant:
	default:
		return DeviceClaims{}, errUnauthorizedRole
	}
	return claims, nil
}

func (c DeviceClaims) Kind() game.DeviceKind {
	return game.DeviceKind(c.DeviceKind)
}
