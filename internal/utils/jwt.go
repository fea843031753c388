package utils // package utils provides helper functions for token creation and hashing

import (
    "errors"
    "strconv"
    "time"

    "github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// Token type claim values.  A refresh token presented where an access token
// is expected (and vice versa) is rejected on this claim alone.
const (
    TokenTypeAccess  = "access"
    TokenTypeRefresh = "refresh"
)

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
    Token string    // the serialized JWT string
    Exp   time.Time // the UTC expiration time
}

// RefreshToken is a signed refresh JWT.  JTI identifies the device session
// the token belongs to.
type RefreshToken struct {
    Token string
    JTI   string
    Exp   time.Time
}

// AccessClaims is the payload of an access token.
type AccessClaims struct {
    Email string `json:"email"`
    Role  string `json:"role"`
    Type  string `json:"type"`
    jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token.  Version carries the
// user's login count at issue time.
type RefreshClaims struct {
    Type    string `json:"type"`
    Role    string `json:"role"`
    Version int64  `json:"version"`
    jwt.RegisteredClaims
}

// UserID parses the numeric subject claim.
func (c *RefreshClaims) UserID() (uint64, error) { return strconv.ParseUint(c.Subject, 10, 64) }

// UserID parses the numeric subject claim.
func (c *AccessClaims) UserID() (uint64, error) { return strconv.ParseUint(c.Subject, 10, 64) }

// NewAccessToken builds and signs an HS256 access JWT for a user.
func NewAccessToken(secret string, userID uint64, email, role string, ttl time.Duration) (AccessToken, error) {
    now := time.Now().UTC()
    exp := now.Add(ttl)
    claims := AccessClaims{
        Email: email,
        Role:  role,
        Type:  TokenTypeAccess,
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   strconv.FormatUint(userID, 10),
            ExpiresAt: jwt.NewNumericDate(exp),
            IssuedAt:  jwt.NewNumericDate(now),
        },
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}

// NewRefreshToken signs an HS256 refresh JWT with the given jti and version.
func NewRefreshToken(secret string, userID uint64, role, jti string, version int64, ttl time.Duration) (RefreshToken, error) {
    now := time.Now().UTC()
    exp := now.Add(ttl)
    claims := RefreshClaims{
        Type:    TokenTypeRefresh,
        Role:    role,
        Version: version,
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   strconv.FormatUint(userID, 10),
            ID:        jti,
            ExpiresAt: jwt.NewNumericDate(exp),
            IssuedAt:  jwt.NewNumericDate(now),
        },
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
    if err != nil {
        return RefreshToken{}, err
    }
    return RefreshToken{Token: signed, JTI: jti, Exp: exp}, nil
}

// ErrTokenExpired is returned by the parse helpers for well-formed tokens
// whose exp claim has passed.
var ErrTokenExpired = errors.New("token expired")

// ErrTokenInvalid covers every other parse or signature failure.
var ErrTokenInvalid = errors.New("token invalid")

// ParseRefreshToken verifies signature and expiry of a refresh JWT.
func ParseRefreshToken(secret, raw string) (*RefreshClaims, error) {
    claims := &RefreshClaims{}
    if err := parse(secret, raw, claims); err != nil {
        return nil, err
    }
    return claims, nil
}

// ParseAccessToken verifies signature and expiry of an access JWT.
func ParseAccessToken(secret, raw string) (*AccessClaims, error) {
    claims := &AccessClaims{}
    if err := parse(secret, raw, claims); err != nil {
        return nil, err
    }
    return claims, nil
}

func parse(secret, raw string, claims jwt.Claims) error {
    tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
        return []byte(secret), nil
    }, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
    if err != nil {
        if errors.Is(err, jwt.ErrTokenExpired) {
            return ErrTokenExpired
        }
        return ErrTokenInvalid
    }
    if !tok.Valid {
        return ErrTokenInvalid
    }
    return nil
}
