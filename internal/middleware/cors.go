package middleware

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSMiddleware returns a CORS middleware configured for the given origins
func CORSMiddleware(origins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// TapCORS is the permissive policy of the tap endpoint, which is opened from
// arbitrary pages and phone browsers. Preflights are answered with 204.
func TapCORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"authorization", "x-client-info", "apikey", "content-type"},
		MaxAge:          12 * time.Hour,
	})
}

// CORS applies TapCORS to openPaths and the origin-restricted policy to
// everything else. It must be global so preflights reach it before routing.
func CORS(origins []string, openPaths ...string) gin.HandlerFunc {
	restricted := CORSMiddleware(origins)
	open := TapCORS()
	return func(c *gin.Context) {
		if slices.Contains(openPaths, c.Request.URL.Path) {
			open(c)
			return
		}
		restricted(c)
	}
}
