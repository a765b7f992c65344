// Package auth issues and validates the staff bearer tokens used on
// the protected queue endpoints.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jwalitptl/queue-api/internal/model"
	apperrors "github.com/jwalitptl/queue-api/pkg/errors"
)

// Claims carries the actor identity inside the signed token.
type Claims struct {
	ActorType string `json:"actor_type"`
	ActorName string `json:"actor_name"`
	ClinicID  string `json:"clinic_id"`
	jwt.RegisteredClaims
}

type JWTService struct {
	secret []byte
	expiry time.Duration
}

func NewJWTService(secret string, expiry time.Duration) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		expiry: expiry,
	}
}

// GenerateToken signs a token for a staff member.
func (s *JWTService) GenerateToken(actor *model.Actor) (string, error) {
	now := time.Now()
	claims := Claims{
		ActorType: string(actor.Type),
		ActorName: actor.Name,
		ClinicID:  actor.ClinicID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses a bearer token and reconstructs the actor.
func (s *JWTService) ValidateToken(tokenString string) (*model.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, apperrors.NewUnauthorized(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.NewUnauthorized(fmt.Errorf("invalid token claims"))
	}

	actorID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, apperrors.NewUnauthorized(fmt.Errorf("invalid actor id in token: %w", err))
	}
	clinicID, err := uuid.Parse(claims.ClinicID)
	if err != nil {
		return nil, apperrors.NewUnauthorized(fmt.Errorf("invalid clinic id in token: %w", err))
	}

	actorType := model.ActorType(claims.ActorType)
	switch actorType {
	case model.ActorAssistant, model.ActorDoctor:
	default:
		return nil, apperrors.NewUnauthorized(fmt.Errorf("unknown actor type %q", claims.ActorType))
	}

	return &model.Actor{
		ID:       actorID,
		Type:     actorType,
		Name:     claims.ActorName,
		ClinicID: clinicID,
	}, nil
}
