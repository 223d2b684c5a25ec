package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	idClaims   = []string{"id", "_id", "user_id", "userId", "sub"}
	nameClaims = []string{"name", "displayName", "display_name", "username", "companyName", "email"}
	roleClaims = []string{"role", "userType", "user_type", "type"}
)

// Resolver derives an Identity from the bearer token issued by the session subsystem.
type Resolver struct {
	secret []byte
	logger *slog.Logger
}

// NewResolver creates a resolver. With an empty secret the token signature is not verified;
// the token is trusted because it came from the local session store, not from the wire.
func NewResolver(log *slog.Logger, secret string) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	r := &Resolver{
		logger: log.With(slog.String("component", "identity")),
	}
	if s := strings.TrimSpace(secret); s != "" {
		r.secret = []byte(s)
	}
	return r
}

// Resolve parses token (with or without the "Bearer " prefix) and extracts the identity claims.
func (r *Resolver) Resolve(token string) (Identity, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if raw == "" {
		return Identity{}, errors.New("identity: token is required")
	}
	claims := jwt.MapClaims{}
	if len(r.secret) > 0 {
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return r.secret, nil
		})
		if err != nil {
			return Identity{}, fmt.Errorf("identity: parse token: %w", err)
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			return Identity{}, fmt.Errorf("identity: parse token: %w", err)
		}
	}
	id := FromClaims(claims)
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	r.logger.Debug("identity resolved", slog.String("user_id", id.ID), slog.String("role", id.Role.String()))
	return id, nil
}

// FromClaims builds an Identity from a claim map, trying several claim names per field.
func FromClaims(claims map[string]any) Identity {
	id := Identity{
		ID:          claimString(claims, idClaims...),
		DisplayName: claimString(claims, nameClaims...),
		Role:        ParseRole(claimString(claims, roleClaims...)),
	}
	if id.Role == RoleUnknown {
		// Tokens minted for the carrier app carry no role claim.
		id.Role = RoleCarrier
	}
	return id
}

func claimString(claims map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := claims[key]
		if !ok || value == nil {
			continue
		}
		var s string
		switch v := value.(type) {
		case string:
			s = v
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			s = fmt.Sprint(v)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
