package fixtureapp

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	logEventHTTP          = "http"
	logEventLoadSession   = "load_session"
	logFieldMethod        = "method"
	logFieldPath          = "path"
	logFieldStatus        = "status"
	logFieldDuration      = "dur"
	logFieldClientIP      = "ip"
	logFieldUserAgent     = "ua"
	contextKeyUsername    = "fixture_username"
	loginNextParameterKey = "next"
)

// RequestLogger logs one entry per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(context *gin.Context) {
		start := time.Now()
		context.Next()
		logger.Info(logEventHTTP,
			zap.String(logFieldMethod, context.Request.Method),
			zap.String(logFieldPath, context.Request.URL.Path),
			zap.Int(logFieldStatus, context.Writer.Status()),
			zap.Duration(logFieldDuration, time.Since(start)),
			zap.String(logFieldClientIP, context.ClientIP()),
			zap.String(logFieldUserAgent, context.Request.UserAgent()),
		)
	}
}

// requireLogin redirects anonymous page requests to the login form and rejects anonymous API calls.
func (server *Server) requireLogin(context *gin.Context) {
	username, authenticated := server.currentUsername(context)
	if !authenticated {
		if context.Request.Method == http.MethodGet && context.FullPath() != routeDashboardAPI {
			loginURL := routeLogin + "?" + url.Values{loginNextParameterKey: {context.Request.URL.RequestURI()}}.Encode()
			context.Redirect(http.StatusFound, loginURL)
			context.Abort()
			return
		}
		context.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Not authorized"})
		return
	}
	context.Set(contextKeyUsername, username)
	context.Next()
}

func (server *Server) currentUsername(context *gin.Context) (string, bool) {
	sessionInstance, sessionErr := server.sessionStore.Get(context.Request, sessionName)
	if sessionErr != nil {
		server.logger.Warn(logEventLoadSession, zap.Error(sessionErr))
		return "", false
	}
	username, ok := sessionInstance.Values[sessionKeyUsername].(string)
	if !ok || username == "" {
		return "", false
	}
	return username, true
}
