package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

var jwtSecret []byte

// AppClaims identifies an editor on the collaboration and REST surfaces.
type AppClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Init reads COLLAB_JWT_SECRET. When unset, the service trusts the identity
// parameters on the connection instead of requiring tokens.
func Init() {
	secret := os.Getenv("COLLAB_JWT_SECRET")
	if secret == "" {
		logrus.Info("COLLAB_JWT_SECRET not set, JWT auth disabled")
		return
	}
	jwtSecret = []byte(secret)
	logrus.Info("JWT auth enabled")
}

func Enabled() bool {
	return len(jwtSecret) > 0
}

// GenerateToken mints a signed token for an editor.
func GenerateToken(email, name string, ttl time.Duration) (string, error) {
	if !Enabled() {
		return "", errors.New("jwt auth is not configured")
	}

	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Email: email,
		Name:  name,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ParseToken validates a token and returns its claims.
func ParseToken(tokenString string) (*AppClaims, error) {
	if tokenString == "" {
		return nil, errors.New("token is required")
	}

	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AppClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Email == "" {
		return nil, errors.New("token has no email claim")
	}
	return claims, nil
}

// HandleMintToken issues a short-lived token for a given identity. Intended
// for operators and integration tests, not as a login flow.
func HandleMintToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := render.DecodeJSON(r.Body, &req); err != nil || req.Email == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "email is required"})
			return
		}

		token, err := GenerateToken(req.Email, req.Name, 24*time.Hour)
		if err != nil {
			logrus.WithError(err).Error("failed to mint token")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "failed to mint token"})
			return
		}
		render.JSON(w, r, map[string]string{"token": token})
	}
}
