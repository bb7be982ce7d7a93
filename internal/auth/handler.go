// Package auth はサインアップ・ログイン・ログアウトとセッション確認を提供します。
package auth

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/yourusername/recipe-box/internal/api"
	"github.com/yourusername/recipe-box/internal/models"
	"github.com/yourusername/recipe-box/internal/session"
	"github.com/yourusername/recipe-box/internal/store"
)

const (
	msgMissingCredentials = "Missing username or password field"
	msgDuplicateUsername  = "Username already exists"
	msgInvalidCredentials = "Invalid username or password"
	msgTooManyAttempts    = "Too many login attempts"
)

type signupRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
	ImageURL *string `json:"image_url"`
	Bio      *string `json:"bio"`
}

type loginRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}

// UserStore はユーザーの永続化を担うストアです。
type UserStore interface {
	CreateUser(ctx context.Context, in store.NewUser) (*models.User, error)
	GetUserByID(ctx context.Context, id uint) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Handler は認証系エンドポイントのハンドラー本体です。
type Handler struct {
	users   UserStore
	limiter Limiter
}

// NewHandler は Handler を作成します。limiter が nil の場合は試行制限を行いません。
func NewHandler(users UserStore, limiter Limiter) *Handler {
	if limiter == nil {
		limiter = NewMemoryLimiter(LimiterOptions{})
	}
	return &Handler{users: users, limiter: limiter}
}

// Signup は POST /signup のハンドラーです。
func (h *Handler) Signup(ctx context.Context, req api.Request) api.Response {
	var in signupRequest
	if err := req.Bind(&in); err != nil {
		return api.BindError(err)
	}
	username, password, ok := credentials(in.Username, in.Password)
	if !ok {
		return api.Error(http.StatusUnprocessableEntity, msgMissingCredentials)
	}

	user, err := h.users.CreateUser(ctx, store.NewUser{
		Username: username,
		Password: password,
		ImageURL: in.ImageURL,
		Bio:      in.Bio,
	})
	if err != nil {
		var vErr *store.ValidationError
		switch {
		case errors.Is(err, store.ErrDuplicateUsername):
			return api.Error(http.StatusUnprocessableEntity, msgDuplicateUsername)
		case errors.As(err, &vErr):
			return api.FromValidation(vErr)
		default:
			return api.Internal(err)
		}
	}

	return api.JSON(http.StatusCreated, user.ToPublic()).WithSession(session.Bind(user.ID))
}

// CheckSession は GET /check_session のハンドラーです。
func (h *Handler) CheckSession(ctx context.Context, req api.Request) api.Response {
	userID, ok := req.Identity.UserID()
	if !ok {
		return api.Unauthorized()
	}

	user, err := h.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return api.Unauthorized()
		}
		return api.Internal(err)
	}
	return api.JSON(http.StatusOK, user.ToPublic())
}

// Login は POST /login のハンドラーです。
func (h *Handler) Login(ctx context.Context, req api.Request) api.Response {
	var in loginRequest
	if err := req.Bind(&in); err != nil {
		return api.BindError(err)
	}
	username, password, ok := credentials(in.Username, in.Password)
	if !ok {
		return api.Error(http.StatusUnprocessableEntity, msgMissingCredentials)
	}

	retryAfter, err := h.limiter.Check(ctx, req.ClientIP)
	if err != nil {
		return api.Internal(err)
	}
	if retryAfter > 0 {
		// Retry-After は秒数またはHTTP-Date形式が推奨されているため秒数で返す
		seconds := int64(math.Ceil(retryAfter.Seconds()))
		return api.Error(http.StatusTooManyRequests, msgTooManyAttempts).
			WithHeader("Retry-After", strconv.FormatInt(seconds, 10))
	}

	user, err := h.users.FindUserByUsername(ctx, username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return api.Internal(err)
	}
	if user == nil || !user.VerifyPassword(password) {
		if _, err := h.limiter.RecordFailure(ctx, req.ClientIP); err != nil {
			return api.Internal(err)
		}
		return api.Error(http.StatusUnauthorized, msgInvalidCredentials)
	}

	if err := h.limiter.Reset(ctx, req.ClientIP); err != nil {
		return api.Internal(err)
	}
	return api.JSON(http.StatusOK, user.ToPublic()).WithSession(session.Bind(user.ID))
}

// Logout は DELETE /logout のハンドラーです。
func (h *Handler) Logout(_ context.Context, req api.Request) api.Response {
	if _, ok := req.Identity.UserID(); !ok {
		return api.Unauthorized()
	}
	return api.NoContent().WithSession(session.Drop())
}

// credentials は username と password を取り出します。null と空文字は欠落として扱います。
func credentials(username, password *string) (string, string, bool) {
	if username == nil || password == nil || *username == "" || *password == "" {
		return "", "", false
	}
	return *username, *password, true
}
