package auth

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/gin-contrib/sessions"
)

const (
	// SessionCookieName はセッションCookieの名前です。
	SessionCookieName = "blogme_session"

	sessionKeyUser         = "user_id"
	sessionKeyIssuedAt     = "issued_at"
	sessionKeyLastActivity = "last_activity"
	sessionKeyCSRF         = "csrf_token"

	// last_activity の更新は Cookie の再発行を伴うため間引く
	activityRefreshInterval = time.Minute
)

// sessionState はリクエスト開始時に Cookie から復元したセッションの内容です。
type sessionState struct {
	UserID       int64 // 0 は未ログイン
	IssuedAt     time.Time
	LastActivity time.Time
	CSRFToken    string
}

func decodeSession(s sessions.Session) sessionState {
	token, _ := s.Get(sessionKeyCSRF).(string)
	userID, _ := readInt64(s.Get(sessionKeyUser))
	return sessionState{
		UserID:       userID,
		IssuedAt:     readUnix(s.Get(sessionKeyIssuedAt)),
		LastActivity: readUnix(s.Get(sessionKeyLastActivity)),
		CSRFToken:    token,
	}
}

// encode は状態をセッションへ書き戻します。保存は呼び出し側で行います。
func (st sessionState) encode(s sessions.Session) {
	if st.UserID != 0 {
		s.Set(sessionKeyUser, st.UserID)
		s.Set(sessionKeyIssuedAt, st.IssuedAt.Unix())
		s.Set(sessionKeyLastActivity, st.LastActivity.Unix())
	} else {
		s.Delete(sessionKeyUser)
		s.Delete(sessionKeyIssuedAt)
		s.Delete(sessionKeyLastActivity)
	}
	if st.CSRFToken != "" {
		s.Set(sessionKeyCSRF, st.CSRFToken)
	}
}

// expired はセッションが最大有効期間または無操作タイムアウトを超えたかを返します。
func (st sessionState) expired(now time.Time, maxLifetime, idleTimeout time.Duration) bool {
	if maxLifetime > 0 && (st.IssuedAt.IsZero() || now.Sub(st.IssuedAt) > maxLifetime) {
		return true
	}
	if idleTimeout > 0 && (st.LastActivity.IsZero() || now.Sub(st.LastActivity) > idleTimeout) {
		return true
	}
	return false
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func readUnix(v interface{}) time.Time {
	sec, ok := readInt64(v)
	if !ok {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
