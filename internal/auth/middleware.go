package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/blogme/internal/users"
)

const (
	// ContextRequestKey は RequestContext を gin.Context に保存するキーです。
	ContextRequestKey = "auth.request"

	csrfHeader    = "X-CSRF-Token"
	csrfFormField = "csrf_token"
)

// RequestContext はリクエスト単位で導出される認証情報です。永続化されません。
type RequestContext struct {
	User *users.User
}

// CurrentUser はログイン中のユーザーを返します。未ログインなら nil です。
func CurrentUser(c *gin.Context) *users.User {
	v, ok := c.Get(ContextRequestKey)
	if !ok {
		return nil
	}
	rc, ok := v.(*RequestContext)
	if !ok || rc == nil {
		return nil
	}
	return rc.User
}

// LoadUser はセッションの user_id からユーザーを読み込むミドルウェアです。
// すべてのルートより前に登録します。
func (m *Manager) LoadUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := &RequestContext{}
		c.Set(ContextRequestKey, rc)

		session := sessions.Default(c)
		state := decodeSession(session)
		if state.UserID == 0 {
			c.Next()
			return
		}

		now := m.now()
		if state.expired(now, m.maxSessionLifetime, m.idleTimeout) {
			session.Clear()
			if err := session.Save(); err != nil {
				m.fail(c, err)
				return
			}
			c.Next()
			return
		}

		user, err := m.users.GetByID(c.Request.Context(), state.UserID)
		if err != nil {
			m.fail(c, err)
			return
		}
		// 外部で削除されたユーザーのセッションは未ログイン扱い
		rc.User = user

		if user != nil && now.Sub(state.LastActivity) >= activityRefreshInterval {
			session.Set(sessionKeyLastActivity, now.Unix())
			if err := session.Save(); err != nil {
				m.fail(c, err)
				return
			}
		}
		c.Next()
	}
}

// RequireLogin は未ログインのリクエストをログイン画面へリダイレクトするミドルウェアです。
// LoadUser の後に実行される必要があります。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUser(c) == nil {
			c.Redirect(http.StatusFound, LoginPath)
			c.Abort()
			return
		}
		c.Next()
	}
}

// Protected はハンドラーの前に RequireLogin を連結したチェーンを返します。
// ルート情報のハンドラー名は元のハンドラーのまま保たれます。
func (m *Manager) Protected(handler gin.HandlerFunc) gin.HandlersChain {
	return gin.HandlersChain{m.RequireLogin(), handler}
}

// VerifyCSRF はフォームの csrf_token または X-CSRF-Token ヘッダーを検証するミドルウェアです。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.csrfProtection || isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			m.renderError(c, http.StatusForbidden, "the form has expired, please reload the page")
			return
		}

		received := c.GetHeader(csrfHeader)
		if received == "" {
			received = c.PostForm(csrfFormField)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			m.renderError(c, http.StatusForbidden, "the form has expired, please reload the page")
			return
		}

		c.Next()
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
