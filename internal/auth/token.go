package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/feereminder/internal/model"
)

const tokenIssuer = "feereminder"

// ErrInvalidToken はトークンが不正・期限切れ・署名不一致であることを表す。
var ErrInvalidToken = errors.New("invalid token")

// Claims はアクセストークンのクレーム。SubjectにユーザーIDを格納する。
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// TokenIssuer はHS256で署名したアクセストークンを発行・検証する。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue はユーザーのアクセストークンを発行する。
func (i *TokenIssuer) Issue(identity model.UserIdentity) (string, time.Time, error) {
	now := i.now().UTC()
	expiresAt := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:   identity.ID,
		Username: identity.Handle,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify はトークンを検証し、ユーザーの識別情報を返す。
// 検証に失敗した場合は理由を問わずErrInvalidTokenを返す。
func (i *TokenIssuer) Verify(tokenString string) (model.UserIdentity, error) {
	if tokenString == "" {
		return model.UserIdentity{}, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return model.UserIdentity{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" || claims.UserID != claims.Subject {
		return model.UserIdentity{}, ErrInvalidToken
	}
	return model.UserIdentity{ID: claims.UserID, Handle: claims.Username}, nil
}
