// Package auth owns identity: account registration, credential login and
// bearer-token validation for the in-band auth frame.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/segmentio/ksuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/manhdua1/chat-box-v2/internal/store"
)

var (
	// ErrInvalidCredentials covers unknown username and wrong password
	// alike, so login failures never reveal which half was wrong.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrUsernameTaken is returned when registering an existing username.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrInvalidToken is returned for malformed, expired or mis-signed
	// tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the authenticated principal attached to a connection.
type Identity struct {
	UserID   string
	Username string
}

// AppClaims defines our custom JWT claims structure.
type AppClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Manager struct {
	store     store.Store
	jwtSecret []byte
	tokenTTL  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewManager(st store.Store, jwtSecret string, tokenTTL time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		store:     st,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		logger:    logger.With(slog.String("component", "auth")),
		now:       time.Now,
	}
}

// Register creates an account with a bcrypt password hash and returns the
// new user id.
func (m *Manager) Register(username, password, email string) (string, error) {
	if username == "" || password == "" {
		return "", errors.New("username and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	user := &store.User{
		UserID:       "user-" + ksuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  username,
	}
	if err := m.store.CreateUser(user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return "", ErrUsernameTaken
		}
		return "", fmt.Errorf("creating user: %w", err)
	}

	m.logger.Info("User registered",
		slog.String("userID", user.UserID),
		slog.String("username", username),
	)
	return user.UserID, nil
}

// Login checks credentials and issues a signed session token.
func (m *Manager) Login(username, password string) (Identity, string, error) {
	user, err := m.store.UserByUsername(username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Identity{}, "", ErrInvalidCredentials
		}
		return Identity{}, "", fmt.Errorf("looking up user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return Identity{}, "", ErrInvalidCredentials
	}

	token, err := m.issueToken(user)
	if err != nil {
		return Identity{}, "", err
	}

	m.logger.Info("User logged in", slog.String("userID", user.UserID))
	return Identity{UserID: user.UserID, Username: user.Username}, token, nil
}

// ValidateToken parses an HMAC-signed token and resolves the identity it
// carries.
func (m *Manager) ValidateToken(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.jwtSecret, nil
	}, jwt.WithTimeFunc(func() time.Time { return m.now() }))
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*AppClaims)
	if !ok || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.Subject, Username: claims.Username}, nil
}

func (m *Manager) issueToken(user *store.User) (string, error) {
	now := m.now()
	claims := AppClaims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
