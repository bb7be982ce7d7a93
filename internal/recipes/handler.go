// Package recipes はレシピの一覧取得と作成を提供します。
package recipes

import (
	"context"
	"errors"
	"net/http"

	"github.com/yourusername/recipe-box/internal/api"
	"github.com/yourusername/recipe-box/internal/models"
	"github.com/yourusername/recipe-box/internal/store"
)

// Store はレシピの永続化を担うストアです。
type Store interface {
	CreateRecipe(ctx context.Context, ownerID uint, in store.NewRecipe) (*models.Recipe, error)
	ListRecipes(ctx context.Context) ([]models.Recipe, error)
}

type recipeRequest struct {
	Title             *string `json:"title"`
	Instructions      *string `json:"instructions"`
	MinutesToComplete *int    `json:"minutes_to_complete"`
}

// Handler はレシピ系エンドポイントのハンドラー本体です。
type Handler struct {
	recipes Store
}

// NewHandler は Handler を作成します。
func NewHandler(recipes Store) *Handler {
	return &Handler{recipes: recipes}
}

// List は GET /recipes のハンドラーです。
func (h *Handler) List(ctx context.Context, req api.Request) api.Response {
	if _, ok := req.Identity.UserID(); !ok {
		return api.Unauthorized()
	}

	recipes, err := h.recipes.ListRecipes(ctx)
	if err != nil {
		return api.Internal(err)
	}

	out := make([]models.PublicRecipe, 0, len(recipes))
	for i := range recipes {
		out = append(out, recipes[i].ToPublic())
	}
	return api.JSON(http.StatusOK, out)
}

// Create は POST /recipes のハンドラーです。
// 型の誤りを先に検出し、必須項目は title, instructions, minutes_to_complete の順に検証して最初の欠落を返します。
func (h *Handler) Create(ctx context.Context, req api.Request) api.Response {
	userID, ok := req.Identity.UserID()
	if !ok {
		return api.Unauthorized()
	}

	var in recipeRequest
	if err := req.Bind(&in); err != nil {
		return api.BindError(err)
	}
	switch {
	case in.Title == nil || *in.Title == "":
		return api.Missing("title")
	case in.Instructions == nil || *in.Instructions == "":
		return api.Missing("instructions")
	case in.MinutesToComplete == nil:
		return api.Missing("minutes_to_complete")
	}

	recipe, err := h.recipes.CreateRecipe(ctx, userID, store.NewRecipe{
		Title:             *in.Title,
		Instructions:      *in.Instructions,
		MinutesToComplete: *in.MinutesToComplete,
	})
	if err != nil {
		var vErr *store.ValidationError
		switch {
		case errors.As(err, &vErr):
			return api.FromValidation(vErr)
		case errors.Is(err, store.ErrNotFound):
			// セッションのユーザーが既に存在しない
			return api.Unauthorized()
		default:
			return api.Internal(err)
		}
	}
	return api.JSON(http.StatusCreated, recipe.ToPublic())
}
