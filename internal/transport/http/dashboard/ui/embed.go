package ui

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var staticFiles embed.FS

// StaticFS 返回前端静态资源（/static 下挂载）。
func StaticFS() (http.FileSystem, error) {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, err
	}
	return http.FS(sub), nil
}

// Index 返回首页 HTML。
func Index() ([]byte, error) {
	return staticFiles.ReadFile("static/index.html")
}
