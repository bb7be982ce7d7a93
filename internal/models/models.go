// Package models はユーザーとレシピのエンティティを定義します。
package models

import (
	"golang.org/x/crypto/bcrypt"
)

// 各カラムの最大文字数です。
const (
	MaxUsernameLength     = 80
	MaxImageURLLength     = 255
	MaxBioLength          = 500
	MaxTitleLength        = 255
	MaxInstructionsLength = 500
)

// User はアプリケーションの利用者です。
// 平文のパスワードは保持せず、SetPassword / VerifyPassword 経由でのみ扱います。
type User struct {
	ID           uint    `gorm:"primaryKey"`
	Username     string  `gorm:"size:80;not null;uniqueIndex"`
	PasswordHash string  `gorm:"column:password_hash;size:128;not null" json:"-"`
	ImageURL     *string `gorm:"size:255"`
	Bio          *string `gorm:"size:500"`
}

// SetPassword は平文パスワードを bcrypt でハッシュ化して保持します。
func (u *User) SetPassword(raw string, cost int) error {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), cost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// VerifyPassword は平文パスワードが保存済みハッシュと一致するかを返します。
func (u *User) VerifyPassword(raw string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(raw)) == nil
}

// PublicUser はクライアントへ返すユーザー表現です。
type PublicUser struct {
	ID       uint    `json:"id"`
	Username string  `json:"username"`
	ImageURL *string `json:"image_url"`
	Bio      *string `json:"bio"`
}

// ToPublic はパスワードハッシュを含まない表現に変換します。
func (u *User) ToPublic() PublicUser {
	return PublicUser{
		ID:       u.ID,
		Username: u.Username,
		ImageURL: u.ImageURL,
		Bio:      u.Bio,
	}
}

// Recipe はユーザーが登録したレシピです。
type Recipe struct {
	ID                uint   `gorm:"primaryKey"`
	Title             string `gorm:"size:255;not null"`
	Instructions      string `gorm:"size:500;not null"`
	MinutesToComplete int    `gorm:"not null"`
	UserID            uint   `gorm:"not null;index"`
	User              *User  `gorm:"foreignKey:UserID;constraint:OnDelete:RESTRICT"`
}

// PublicRecipe はクライアントへ返すレシピ表現です。
type PublicRecipe struct {
	ID                uint        `json:"id"`
	Title             string      `json:"title"`
	Instructions      string      `json:"instructions"`
	MinutesToComplete int         `json:"minutes_to_complete"`
	User              *PublicUser `json:"user"`
}

// ToPublic はレシピを公開用の表現に変換します。所有者が解決できない場合 user は null です。
func (r *Recipe) ToPublic() PublicRecipe {
	out := PublicRecipe{
		ID:                r.ID,
		Title:             r.Title,
		Instructions:      r.Instructions,
		MinutesToComplete: r.MinutesToComplete,
	}
	if r.User != nil {
		owner := r.User.ToPublic()
		out.User = &owner
	}
	return out
}
