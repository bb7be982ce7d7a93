// Package session は署名付きクッキーに保持するログイン状態を管理します。
package session

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

const (
	CookieName       = "rb_session"
	keyUserID        = "user_id"
	keyIssuedAt      = "issued_at"
	keyLastActivity  = "last_activity"
	defaultIdleLimit = 30 * time.Minute

	// contextPendingKey は未保存のセッション変更があることを示す gin.Context のキーです。
	contextPendingKey = "session.pending"
)

// Identity はリクエスト時点のセッション状態（Anonymous または Authenticated）です。
type Identity struct {
	userID        uint
	authenticated bool
}

// Anonymous は未ログイン状態を返します。
func Anonymous() Identity { return Identity{} }

// Authenticated は userID でログイン済みの状態を返します。
func Authenticated(userID uint) Identity {
	return Identity{userID: userID, authenticated: true}
}

// UserID はログイン中のユーザーIDを返します。
func (i Identity) UserID() (uint, bool) {
	return i.userID, i.authenticated
}

type mutationKind int

const (
	mutationKeep mutationKind = iota
	mutationBind
	mutationDrop
)

// Mutation はハンドラーが要求するセッションの変更です。
type Mutation struct {
	kind   mutationKind
	userID uint
}

// Keep はセッションを変更しません。
func Keep() Mutation { return Mutation{kind: mutationKeep} }

// Bind はセッションを userID に紐付けます（既存の値は上書き）。
func Bind(userID uint) Mutation { return Mutation{kind: mutationBind, userID: userID} }

// Drop はセッションを破棄します。
func Drop() Mutation { return Mutation{kind: mutationDrop} }

// Manager はセッションの読み書きと有効期限の判定を行います。
type Manager struct {
	maxLifetime time.Duration
	idleTimeout time.Duration
	now         func() time.Time
}

// NewManager は Manager を作成します。idleTimeout が 0 以下の場合は既定値を使います。
func NewManager(maxLifetime, idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleLimit
	}
	return &Manager{
		maxLifetime: maxLifetime,
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// NewCookieStore は署名鍵付きのクッキーストアを作成します。
func NewCookieStore(key []byte, maxAge time.Duration, secure bool) sessions.Store {
	store := cookie.NewStore(key)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return store
}

// Middleware はリクエストごとにセッションを読み込む gin ミドルウェアです。
func Middleware(store sessions.Store) gin.HandlerFunc {
	return sessions.Sessions(CookieName, store)
}

// Set はセッションに userID を設定します。
func (m *Manager) Set(c *gin.Context, userID uint) error {
	s := sessions.Default(c)
	now := m.now().Unix()
	s.Set(keyUserID, userID)
	s.Set(keyIssuedAt, now)
	s.Set(keyLastActivity, now)
	return s.Save()
}

// Get はログイン中のユーザーIDを返します。
// 期限切れのセッションの破棄と最終操作時刻の更新は保留し、Apply でまとめて保存します。
func (m *Manager) Get(c *gin.Context) (uint, bool) {
	s := sessions.Default(c)
	userID, ok := m.current(s)
	if !ok {
		if s.Get(keyUserID) != nil {
			s.Clear()
			c.Set(contextPendingKey, true)
		}
		return 0, false
	}

	s.Set(keyLastActivity, m.now().Unix())
	c.Set(contextPendingKey, true)
	return userID, true
}

// Clear はセッションを破棄し、破棄前のユーザーIDを返します。
func (m *Manager) Clear(c *gin.Context) (uint, bool, error) {
	s := sessions.Default(c)
	userID, ok := m.current(s)
	if s.Get(keyUserID) == nil {
		return 0, false, nil
	}
	s.Clear()
	if err := s.Save(); err != nil {
		return 0, false, err
	}
	return userID, ok, nil
}

// Identity は現在のセッション状態を返します。
func (m *Manager) Identity(c *gin.Context) Identity {
	if userID, ok := m.Get(c); ok {
		return Authenticated(userID)
	}
	return Anonymous()
}

// Apply はハンドラーが返した Mutation をセッションへ反映します。
// クッキーの書き込みは1リクエストにつき1回です。
func (m *Manager) Apply(c *gin.Context, mut Mutation) error {
	switch mut.kind {
	case mutationBind:
		return m.Set(c, mut.userID)
	case mutationDrop:
		s := sessions.Default(c)
		if s.Get(keyUserID) == nil && !c.GetBool(contextPendingKey) {
			return nil
		}
		s.Clear()
		return s.Save()
	default:
		if !c.GetBool(contextPendingKey) {
			return nil
		}
		return sessions.Default(c).Save()
	}
}

func (m *Manager) current(s sessions.Session) (uint, bool) {
	userID, ok := readUint(s.Get(keyUserID))
	if !ok || userID == 0 {
		return 0, false
	}

	now := m.now()
	issuedAt := readUnix(s.Get(keyIssuedAt))
	lastActivity := readUnix(s.Get(keyLastActivity))

	if issuedAt.IsZero() || (m.maxLifetime > 0 && now.Sub(issuedAt) > m.maxLifetime) {
		return 0, false
	}
	if lastActivity.IsZero() || now.Sub(lastActivity) > m.idleTimeout {
		return 0, false
	}
	return userID, true
}

func readUint(v interface{}) (uint, bool) {
	switch n := v.(type) {
	case uint:
		return n, true
	case uint64:
		return uint(n), true
	case int:
		if n >= 0 {
			return uint(n), true
		}
	case int64:
		if n >= 0 {
			return uint(n), true
		}
	case float64:
		if n >= 0 {
			return uint(n), true
		}
	}
	return 0, false
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
