// Package store はユーザーとレシピの永続化を担います。
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yourusername/recipe-box/internal/models"
)

// Options は Store の初期化パラメータです。
type Options struct {
	DatabaseURL string
	BcryptCost  int
	Logger      *slog.Logger
}

// Store は gorm 経由でユーザーとレシピを保存します。
type Store struct {
	db     *gorm.DB
	cost   int
	logger *slog.Logger
}

// NewUser はユーザー作成時の入力です。
type NewUser struct {
	Username string
	Password string
	ImageURL *string
	Bio      *string
}

// NewRecipe はレシピ作成時の入力です。
type NewRecipe struct {
	Title             string
	Instructions      string
	MinutesToComplete int
}

// Open はデータベースへ接続し、スキーマを最新化した Store を返します。
func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialector, isSQLite, err := dialectorFor(opts.DatabaseURL)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(
			slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
			gormlogger.Config{
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if isSQLite {
		// SQLite は単一ライターのため接続を1本に絞る
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&models.User{}, &models.Recipe{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	logger.Info("database ready", "driver", dialector.Name())
	return &Store{db: db, cost: cost, logger: logger}, nil
}

func dialectorFor(databaseURL string) (gorm.Dialector, bool, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgres.Open(databaseURL), false, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if path == "" {
			return nil, false, fmt.Errorf("sqlite path is empty")
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return sqlite.Open(path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), true, nil
	default:
		return nil, false, fmt.Errorf("unsupported database url: %q", databaseURL)
	}
}

// Close はコネクションプールを閉じます。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser はパスワードをハッシュ化してユーザーを作成します。
// ユーザー名が既に存在する場合は ErrDuplicateUsername を返し、行は作成されません。
func (s *Store) CreateUser(ctx context.Context, in NewUser) (*models.User, error) {
	if err := validateNewUser(in); err != nil {
		return nil, err
	}

	user := &models.User{
		Username: in.Username,
		ImageURL: in.ImageURL,
		Bio:      in.Bio,
	}
	if err := user.SetPassword(in.Password, s.cost); err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, &ValidationError{Field: "password", Reason: "must be at most 72 bytes"}
		}
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.InfoContext(ctx, "user created", "user_id", user.ID)
	return user, nil
}

// GetUserByID は ID でユーザーを取得します。
func (s *Store) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return &user, nil
}

// FindUserByUsername はユーザー名でユーザーを取得します。
func (s *Store) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user by username: %w", err)
	}
	return &user, nil
}

// CreateRecipe は ownerID のユーザーを所有者としてレシピを作成します。
func (s *Store) CreateRecipe(ctx context.Context, ownerID uint, in NewRecipe) (*models.Recipe, error) {
	if err := validateNewRecipe(in); err != nil {
		return nil, err
	}

	recipe := &models.Recipe{
		Title:             in.Title,
		Instructions:      in.Instructions,
		MinutesToComplete: in.MinutesToComplete,
		UserID:            ownerID,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner models.User
		if err := tx.First(&owner, ownerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Create(recipe).Error; err != nil {
			if errors.Is(err, gorm.ErrForeignKeyViolated) {
				return ErrNotFound
			}
			return err
		}
		recipe.User = &owner
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create recipe: %w", err)
	}

	s.logger.InfoContext(ctx, "recipe created", "recipe_id", recipe.ID, "user_id", ownerID)
	return recipe, nil
}

// ListRecipes は全ユーザーのレシピを登録順に返します。
func (s *Store) ListRecipes(ctx context.Context) ([]models.Recipe, error) {
	recipes := []models.Recipe{}
	if err := s.db.WithContext(ctx).Preload("User").Order("id").Find(&recipes).Error; err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	return recipes, nil
}

func validateNewUser(in NewUser) error {
	if in.Username == "" {
		return missing("username")
	}
	if in.Password == "" {
		return missing("password")
	}
	if utf8.RuneCountInString(in.Username) > models.MaxUsernameLength {
		return tooLong("username", models.MaxUsernameLength)
	}
	if in.ImageURL != nil && utf8.RuneCountInString(*in.ImageURL) > models.MaxImageURLLength {
		return tooLong("image_url", models.MaxImageURLLength)
	}
	if in.Bio != nil && utf8.RuneCountInString(*in.Bio) > models.MaxBioLength {
		return tooLong("bio", models.MaxBioLength)
	}
	return nil
}

func validateNewRecipe(in NewRecipe) error {
	if in.Title == "" {
		return missing("title")
	}
	if in.Instructions == "" {
		return missing("instructions")
	}
	if in.MinutesToComplete < 0 {
		return &ValidationError{Field: "minutes_to_complete", Reason: "must not be negative"}
	}
	if utf8.RuneCountInString(in.Title) > models.MaxTitleLength {
		return tooLong("title", models.MaxTitleLength)
	}
	if utf8.RuneCountInString(in.Instructions) > models.MaxInstructionsLength {
		return tooLong("instructions", models.MaxInstructionsLength)
	}
	return nil
}
