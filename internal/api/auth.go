package api

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"mt5relay/pkg/db"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	userContextKey = "UserID"
	tokenLifetime  = 72 * time.Hour
)

type relayClaims struct {
	jwt.RegisteredClaims
}

func issueToken(userID, secret string, expires time.Time) (string, error) {
	claims := relayClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func verifyToken(raw, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &relayClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*relayClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}

// AuthMiddleware guards the configuration API with a bearer token. The
// polling surface stays open because the local UI calls it unauthed.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, raw, found := strings.Cut(header, " ")
		if header == "" || !found || !strings.EqualFold(scheme, "Bearer") {
			ko(c, http.StatusUnauthorized, "missing or malformed bearer token")
			c.Abort()
			return
		}
		userID, err := verifyToken(raw, secret)
		if err != nil {
			ko(c, http.StatusUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(userContextKey, userID)
		c.Next()
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *credentials) validate() error {
	r.Email = strings.TrimSpace(r.Email)
	if r.Email == "" || r.Password == "" {
		return errors.New("email and password are required")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return errors.New("invalid email address")
	}
	return nil
}

func (s *Server) registerUser(c *gin.Context) {
	var req credentials
	if err := c.BindJSON(&req); err != nil {
		ko(c, http.StatusBadRequest, "invalid request payload")
		return
	}
	if err := req.validate(); err != nil {
		ko(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	existing, err := s.DB.GetUserByEmail(ctx, req.Email)
	if err != nil {
		ko(c, http.StatusInternalServerError, "user lookup failed")
		return
	}
	if existing != nil {
		ko(c, http.StatusConflict, "email already registered")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		ko(c, http.StatusInternalServerError, "password hashing failed")
		return
	}

	now := time.Now()
	user := db.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.DB.CreateUser(ctx, user); err != nil {
		ko(c, http.StatusInternalServerError, "user creation failed")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user_id": user.ID, "email": user.Email})
}

func (s *Server) loginUser(c *gin.Context) {
	var req credentials
	if err := c.BindJSON(&req); err != nil {
		ko(c, http.StatusBadRequest, "invalid request payload")
		return
	}
	if err := req.validate(); err != nil {
		ko(c, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.DB.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		ko(c, http.StatusInternalServerError, "user lookup failed")
		return
	}
	// Same answer for unknown email and wrong password.
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		ko(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	expires := time.Now().Add(tokenLifetime)
	token, err := issueToken(user.ID, s.JWTSecret, expires)
	if err != nil {
		ko(c, http.StatusInternalServerError, "token generation failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expires.UTC().Format(time.RFC3339),
		"user_id":    user.ID,
	})
}
