package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"chat-client/internal/models"
)

// DefaultPanelWidth is used when no layout preference is stored.
const DefaultPanelWidth = 360

var ErrNoUser = errors.New("no user in session")

// Tokens is the credential pair issued at login.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Manager exposes typed accessors over a Store.
type Manager struct {
	store Store
}

// NewManager constructs a Manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// AccessToken reads the current access token. It is never cached.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	val, _, err := m.store.Get(ctx, KeyAccessToken)
	return val, err
}

func (m *Manager) RefreshToken(ctx context.Context) (string, error) {
	val, _, err := m.store.Get(ctx, KeyRefreshToken)
	return val, err
}

func (m *Manager) SetAccessToken(ctx context.Context, token string) error {
	return m.store.Set(ctx, KeyAccessToken, token)
}

// CurrentUser returns the stored user or ErrNoUser.
func (m *Manager) CurrentUser(ctx context.Context) (models.User, error) {
	raw, ok, err := m.store.Get(ctx, KeyUser)
	if err != nil {
		return models.User{}, err
	}
	if !ok || raw == "" {
		return models.User{}, ErrNoUser
	}
	var user models.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return models.User{}, fmt.Errorf("decode stored user: %w", err)
	}
	return user, nil
}

// Login stores the credentials and serialized user.
func (m *Manager) Login(ctx context.Context, tokens Tokens, user models.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, KeyAccessToken, tokens.AccessToken); err != nil {
		return err
	}
	if err := m.store.Set(ctx, KeyRefreshToken, tokens.RefreshToken); err != nil {
		return err
	}
	return m.store.Set(ctx, KeyUser, string(raw))
}

// Logout removes credentials and the user but keeps layout preferences.
func (m *Manager) Logout(ctx context.Context) error {
	return m.store.Delete(ctx, KeyAccessToken, KeyRefreshToken, KeyUser)
}

func (m *Manager) PanelWidth(ctx context.Context) int {
	raw, ok, err := m.store.Get(ctx, KeyPanelWidth)
	if err != nil || !ok {
		return DefaultPanelWidth
	}
	width, err := strconv.Atoi(raw)
	if err != nil || width <= 0 {
		return DefaultPanelWidth
	}
	return width
}

func (m *Manager) SetPanelWidth(ctx context.Context, width int) error {
	if width <= 0 {
		return fmt.Errorf("invalid panel width %d", width)
	}
	return m.store.Set(ctx, KeyPanelWidth, strconv.Itoa(width))
}
