// Package web はサーバーサイドで描画する HTML テンプレートを提供します。
package web

import (
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html templates/auth/*.html
var templateFS embed.FS

// Templates は埋め込みテンプレートをパースして返します。
// 各テンプレートは "auth/login.html" のようなパス名で define されています。
func Templates() (*template.Template, error) {
	return template.New("").Funcs(template.FuncMap{
		"formatTime": formatTime,
	}).ParseFS(templateFS, "templates/*.html", "templates/auth/*.html")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
