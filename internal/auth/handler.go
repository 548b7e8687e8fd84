package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/blogme/internal/jobs"
)

const (
	IndexPath    = "/"
	RegisterPath = "/auth/Register"
	LoginPath    = "/auth/login"
	LogoutPath   = "/auth/logout"
	ActivityPath = "/auth/activity"

	activityLimit = 20
)

// ShowRegister は登録フォームを表示します。
func (m *Manager) ShowRegister(c *gin.Context) {
	m.render(c, http.StatusOK, "auth/register.html", nil)
}

// Register は POST /auth/Register のハンドラーです。
func (m *Manager) Register(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")

	user, err := m.CreateUser(c.Request.Context(), username, password)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			m.flashAndRender(c, http.StatusOK, "auth/register.html", validationErr.Message, gin.H{"username": username})
			return
		}
		m.fail(c, err)
		return
	}

	m.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	m.recordEvent(c.Request.Context(), jobs.EventRegistered, user.ID, user.Username, c.ClientIP())
	c.Redirect(http.StatusFound, LoginPath)
}

// ShowLogin はログインフォームを表示します。
func (m *Manager) ShowLogin(c *gin.Context) {
	m.render(c, http.StatusOK, "auth/login.html", nil)
}

// Login は POST /auth/login のハンドラーです。
func (m *Manager) Login(c *gin.Context) {
	ctx := c.Request.Context()
	username := c.PostForm("username")
	password := c.PostForm("password")
	ip := c.ClientIP()

	retryAfter, err := m.limiter.Check(ctx, ip)
	if err != nil {
		// レート制限の障害ではログインを止めない
		m.logger.Warn("login limiter check failed", "ip", ip, "error", err)
		retryAfter = 0
	}
	if retryAfter > 0 {
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds())+1, 10))
		m.flashAndRender(c, http.StatusTooManyRequests, "auth/login.html", msgTooManyAttempts, gin.H{"username": username})
		return
	}

	user, err := m.Authenticate(ctx, username, password)
	if err != nil {
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			m.fail(c, err)
			return
		}
		remaining, limErr := m.limiter.RecordFailure(ctx, ip)
		if limErr != nil {
			m.logger.Warn("failed to record login failure", "ip", ip, "error", limErr)
		}
		m.logger.Info("login failed", "username", username, "ip", ip, "reason", authErr.Message, "remaining_attempts", remaining)
		m.recordEvent(ctx, jobs.EventLoginFailed, authErr.UserID, username, ip)
		m.flashAndRender(c, http.StatusOK, "auth/login.html", authErr.Message, gin.H{"username": username})
		return
	}

	if err := m.limiter.Reset(ctx, ip); err != nil {
		m.logger.Warn("failed to reset login attempts", "ip", ip, "error", err)
	}

	token, err := generateToken()
	if err != nil {
		m.fail(c, fmt.Errorf("generate csrf token: %w", err))
		return
	}

	// セッション固定化対策として既存の内容をすべて破棄してから1回で保存する
	now := m.now()
	session := sessions.Default(c)
	session.Clear()
	sessionState{
		UserID:       user.ID,
		IssuedAt:     now,
		LastActivity: now,
		CSRFToken:    token,
	}.encode(session)
	if err := session.Save(); err != nil {
		m.fail(c, fmt.Errorf("save session: %w", err))
		return
	}

	m.logger.Info("user logged in", "user_id", user.ID, "ip", ip)
	m.recordEvent(ctx, jobs.EventLogin, user.ID, user.Username, ip)
	c.Redirect(http.StatusFound, IndexPath)
}

// Logout は GET /auth/logout のハンドラーです。未ログインでもエラーにしません。
func (m *Manager) Logout(c *gin.Context) {
	user := CurrentUser(c)

	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		m.fail(c, fmt.Errorf("save session: %w", err))
		return
	}

	if user != nil {
		m.recordEvent(c.Request.Context(), jobs.EventLogout, user.ID, user.Username, c.ClientIP())
	}
	c.Redirect(http.StatusFound, IndexPath)
}

// Index はトップページのハンドラーです。
func (m *Manager) Index(c *gin.Context) {
	m.render(c, http.StatusOK, "index.html", nil)
}

// Activity はログイン中のユーザーの最近の認証イベントを表示します。
func (m *Manager) Activity(c *gin.Context) {
	user := CurrentUser(c)
	var events []jobs.Event
	if m.activity != nil && user != nil {
		var err error
		events, err = m.activity.Recent(c.Request.Context(), user.ID, activityLimit)
		if err != nil {
			m.fail(c, fmt.Errorf("load activity: %w", err))
			return
		}
	}
	m.render(c, http.StatusOK, "auth/activity.html", gin.H{"events": events})
}

func (m *Manager) flashAndRender(c *gin.Context, status int, name, message string, data gin.H) {
	sessions.Default(c).AddFlash(message)
	m.render(c, status, name, data)
}

// render は共通データ（フラッシュ、ログインユーザー、CSRFトークン）を付けてテンプレートを描画します。
func (m *Manager) render(c *gin.Context, status int, name string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}

	session := sessions.Default(c)
	var flashes []string
	for _, f := range session.Flashes() {
		if s, ok := f.(string); ok {
			flashes = append(flashes, s)
		}
	}

	token, _ := session.Get(sessionKeyCSRF).(string)
	if token == "" {
		var err error
		if token, err = generateToken(); err != nil {
			m.fail(c, fmt.Errorf("generate csrf token: %w", err))
			return
		}
		session.Set(sessionKeyCSRF, token)
	}
	if err := session.Save(); err != nil {
		m.fail(c, fmt.Errorf("save session: %w", err))
		return
	}

	if _, ok := data["username"]; !ok {
		data["username"] = ""
	}
	data["flashes"] = flashes
	data["user"] = CurrentUser(c)
	data["csrfToken"] = token
	c.HTML(status, name, data)
}

func (m *Manager) renderError(c *gin.Context, status int, message string) {
	c.HTML(status, "error.html", gin.H{
		"status":  status,
		"message": message,
	})
	c.Abort()
}

// fail は想定外のエラーを記録し、詳細を含まない 500 ページを返します。
func (m *Manager) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	m.logger.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	m.renderError(c, http.StatusInternalServerError, "internal server error")
}
