package routes

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/closingdesk/internal/utils"
)

// Frontend serves the built single-page app from dir. Unknown page paths get
// index.html so client-side routing works; unknown /api paths stay JSON 404s.
// The route guard runs before this handler like for any other route.
func Frontend(dir string) gin.HandlerFunc {
	index := filepath.Join(dir, "index.html")
	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if strings.HasPrefix(p, "/api/") || (c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead) {
			c.JSON(http.StatusNotFound, gin.H{"code": utils.CodeNotFound, "message": "not found"})
			return
		}

		file := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+p)))
		if fi, err := os.Stat(file); err == nil && !fi.IsDir() {
			c.File(file)
			return
		}
		if _, err := os.Stat(index); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"code": utils.CodeNotFound, "message": "not found"})
			return
		}
		c.File(index)
	}
}
