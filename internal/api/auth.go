package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"tradehook/pkg/db"
)

const accountContextKey = "AccountID"

// AccountClaims represents JWT claims for authenticated accounts.
type AccountClaims struct {
	AccountID string `json:"aid"`
	jwt.RegisteredClaims
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func checkPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func generateToken(accountID, secret string, expiresAt time.Time) (string, error) {
	claims := AccountClaims{
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AccountClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*AccountClaims); ok && token.Valid {
		return claims.AccountID, nil
	}
	return "", errors.New("invalid token claims")
}

// AuthMiddleware enforces JWT auth for management routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "MISSING_TOKEN",
				"error": "missing Authorization header",
			})
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_AUTH_HEADER",
				"error": "invalid Authorization header",
			})
			return
		}

		accountID, err := parseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(accountContextKey, accountID)
		c.Next()
	}
}

// CurrentAccountID returns the authenticated account ID from context.
func CurrentAccountID(c *gin.Context) string {
	if v, ok := c.Get(accountContextKey); ok {
		if id, okCast := v.(string); okCast {
			return id
		}
	}
	return ""
}

// registerAccount creates an account with a fresh webhook secret.
func (s *Server) registerAccount(c *gin.Context) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	if req.Name == "" || len(req.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "name and a password of 8+ chars required"})
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": "could not hash password"})
		return
	}
	account := db.Account{
		ID:            uuid.NewString(),
		Name:          req.Name,
		WebhookSecret: uuid.NewString(),
		PasswordHash:  hash,
	}
	if err := s.DB.CreateAccount(c.Request.Context(), account); err != nil {
		c.JSON(http.StatusConflict, gin.H{"code": "ACCOUNT_EXISTS", "error": "account could not be created"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"account_id":     account.ID,
		"webhook_secret": account.WebhookSecret,
	})
}

// loginAccount exchanges credentials for a JWT.
func (s *Server) loginAccount(c *gin.Context) {
	var req struct {
		AccountID string `json:"account_id"`
		Password  string `json:"password"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}

	account, err := s.DB.GetAccount(c.Request.Context(), req.AccountID)
	if err != nil || account == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "INVALID_CREDENTIALS", "error": "invalid account or password"})
		return
	}
	if err := checkPassword(account.PasswordHash, req.Password); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "INVALID_CREDENTIALS", "error": "invalid account or password"})
		return
	}

	token, err := generateToken(account.ID, s.JWTSecret, time.Now().Add(24*time.Hour))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": "could not issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
