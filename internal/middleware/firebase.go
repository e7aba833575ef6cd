package middleware

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"

	"github.com/mmeshcher/donations-system/internal/model"
)

// RoleClaim имя пользовательского claim Firebase с ролью пользователя.
const RoleClaim = "role"

// IDTokenVerifier проверяет ID-токены Firebase.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseVerifier проверяет ID-токены Firebase Authentication.
// Роль берётся из claim "role", при его отсутствии пользователь получает роль USER.
type FirebaseVerifier struct {
	client IDTokenVerifier
}

// NewFirebaseVerifier инициализирует Firebase и возвращает проверку токенов для проекта.
func NewFirebaseVerifier(ctx context.Context, projectID string) (*FirebaseVerifier, error) {
	var cfg *firebase.Config
	if projectID != "" {
		cfg = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init firebase: %w", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase auth: %w", err)
	}

	return NewFirebaseVerifierFromClient(client), nil
}

// NewFirebaseVerifierFromClient оборачивает готовый клиент проверки токенов.
func NewFirebaseVerifierFromClient(client IDTokenVerifier) *FirebaseVerifier {
	return &FirebaseVerifier{client: client}
}

// Verify проверяет ID-токен.
func (f *FirebaseVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	t, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	role := model.RoleUser
	if v, ok := t.Claims[RoleClaim].(string); ok && model.Role(v) == model.RoleAdmin {
		role = model.RoleAdmin
	}

	return Principal{UserID: t.UID, Role: role}, nil
}
