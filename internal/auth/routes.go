package auth

import "github.com/gin-gonic/gin"

// Mount は認証関連のミドルウェアとルートを登録します。
// sessions.Sessions ミドルウェアと HTML テンプレートは呼び出し側で設定済みである必要があります。
func (m *Manager) Mount(router *gin.Engine) {
	router.Use(m.LoadUser(), m.VerifyCSRF())

	router.GET(IndexPath, m.Index)

	authRoutes := router.Group("/auth")
	{
		authRoutes.GET("/Register", m.ShowRegister)
		authRoutes.POST("/Register", m.Register)
		authRoutes.GET("/register", m.ShowRegister)
		authRoutes.POST("/register", m.Register)

		authRoutes.GET("/login", m.ShowLogin)
		authRoutes.POST("/login", m.Login)
		authRoutes.GET("/logout", m.Logout)

		authRoutes.GET("/activity", m.Protected(m.Activity)...)
	}
}
