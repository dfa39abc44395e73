package middleware

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// SessionLoggedInKey is the session flag set after a successful admin login.
const SessionLoggedInKey = "logged_in"

// RequireLoginPage protects HTML pages: unauthenticated requests are
// redirected to the login form.
func RequireLoginPage() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		if loggedIn, ok := session.Get(SessionLoggedInKey).(bool); !ok || !loggedIn {
			c.Redirect(http.StatusFound, "/admin")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireLoginAPI protects JSON endpoints: unauthenticated requests get 401.
func RequireLoginAPI() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		if loggedIn, ok := session.Get(SessionLoggedInKey).(bool); !ok || !loggedIn {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "login required"})
			c.Abort()
			return
		}
		c.Next()
	}
}
