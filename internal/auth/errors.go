package auth

// ValidationError は登録フォームの入力不備を表します。フォームに再表示されます。
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// AuthError はログイン失敗を表します。フォームに再表示されます。
type AuthError struct {
	Message string
	// UserID はユーザーが存在した場合（パスワード不一致）のみ設定されます。
	UserID int64
}

func (e *AuthError) Error() string {
	return e.Message
}

const (
	msgUsernameRequired  = "username required"
	msgPasswordRequired  = "password required"
	msgUnknownUser       = "unknown user"
	msgIncorrectPassword = "incorrect password"
	msgTooManyAttempts   = "too many attempts, try again later"
)
