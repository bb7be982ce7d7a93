package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{
		DatabaseURL: "sqlite://" + filepath.Join(t.TempDir(), "test.db"),
		BcryptCost:  bcrypt.MinCost,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestOpenRejectsUnknownScheme(t *testing.T) {
	_, err := Open(Options{DatabaseURL: "mysql://localhost/db"})
	require.Error(t, err)

	_, err = Open(Options{DatabaseURL: "sqlite://"})
	require.Error(t, err)
}

func TestCreateUserHashesPassword(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, NewUser{Username: "ana", Password: "pw1", Bio: strPtr("hello")})
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.NotEqual(t, "pw1", user.PasswordHash)

	loaded, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "ana", loaded.Username)
	require.NotNil(t, loaded.Bio)
	assert.Equal(t, "hello", *loaded.Bio)
	assert.Nil(t, loaded.ImageURL)
	assert.True(t, loaded.VerifyPassword("pw1"))
	assert.False(t, loaded.VerifyPassword("pw2"))
}

func TestCreateUserDuplicateKeepsOriginalHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateUser(ctx, NewUser{Username: "ana", Password: "pw1"})
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, NewUser{Username: "ana", Password: "other"})
	require.ErrorIs(t, err, ErrDuplicateUsername)

	loaded, err := s.FindUserByUsername(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, first.ID, loaded.ID)
	assert.Equal(t, first.PasswordHash, loaded.PasswordHash)
	assert.True(t, loaded.VerifyPassword("pw1"))

	var count int64
	require.NoError(t, s.db.Table("users").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestCreateUserConcurrentDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		dupes     int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateUser(ctx, NewUser{Username: "race", Password: "pw"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrDuplicateUsername):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, dupes)
}

func TestCreateUserValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    NewUser
		field string
	}{
		{"missing username", NewUser{Password: "pw"}, "username"},
		{"missing password", NewUser{Username: "ana"}, "password"},
		{"long username", NewUser{Username: strings.Repeat("a", 81), Password: "pw"}, "username"},
		{"long image url", NewUser{Username: "ana", Password: "pw", ImageURL: strPtr(strings.Repeat("u", 256))}, "image_url"},
		{"long bio", NewUser{Username: "ana", Password: "pw", Bio: strPtr(strings.Repeat("b", 501))}, "bio"},
		{"long password", NewUser{Username: "ana", Password: strings.Repeat("p", 73)}, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateUser(ctx, tt.in)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}

	_, err := s.FindUserByUsername(ctx, "ana")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetUserByID(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.FindUserByUsername(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateAndListRecipes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ana, err := s.CreateUser(ctx, NewUser{Username: "ana", Password: "pw1"})
	require.NoError(t, err)
	bo, err := s.CreateUser(ctx, NewUser{Username: "bo", Password: "pw2"})
	require.NoError(t, err)

	recipes, err := s.ListRecipes(ctx)
	require.NoError(t, err)
	assert.Empty(t, recipes)
	assert.NotNil(t, recipes)

	soup, err := s.CreateRecipe(ctx, ana.ID, NewRecipe{Title: "Soup", Instructions: "Boil", MinutesToComplete: 10})
	require.NoError(t, err)
	require.NotNil(t, soup.User)
	assert.Equal(t, "ana", soup.User.Username)

	_, err = s.CreateRecipe(ctx, bo.ID, NewRecipe{Title: "Toast", Instructions: "Heat", MinutesToComplete: 2})
	require.NoError(t, err)

	recipes, err = s.ListRecipes(ctx)
	require.NoError(t, err)
	require.Len(t, recipes, 2)
	assert.Equal(t, soup.ID, recipes[0].ID)
	assert.Equal(t, "Soup", recipes[0].Title)
	require.NotNil(t, recipes[0].User)
	assert.Equal(t, "ana", recipes[0].User.Username)
	require.NotNil(t, recipes[1].User)
	assert.Equal(t, "bo", recipes[1].User.Username)
}

func TestCreateRecipeUnknownOwner(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateRecipe(context.Background(), 99, NewRecipe{Title: "Soup", Instructions: "Boil", MinutesToComplete: 10})
	require.ErrorIs(t, err, ErrNotFound)

	recipes, err := s.ListRecipes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recipes)
}

func TestCreateRecipeValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner, err := s.CreateUser(ctx, NewUser{Username: "ana", Password: "pw1"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		in    NewRecipe
		field string
	}{
		{"missing title", NewRecipe{Instructions: "Boil"}, "title"},
		{"missing instructions", NewRecipe{Title: "Soup"}, "instructions"},
		{"long title", NewRecipe{Title: strings.Repeat("t", 256), Instructions: "Boil"}, "title"},
		{"negative minutes", NewRecipe{Title: "Soup", Instructions: "Boil", MinutesToComplete: -1}, "minutes_to_complete"},
		{"long instructions", NewRecipe{Title: "Soup", Instructions: strings.Repeat("i", 501)}, "instructions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateRecipe(ctx, owner.ID, tt.in)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}
