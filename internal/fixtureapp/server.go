// Package fixtureapp serves a small imitation of the dashboard application: form login, a
// paginated dashboard list, and dashboards with interactive map charts.
package fixtureapp

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/model"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/storage"
)

const (
	DefaultUsername      = "admin"
	DefaultPassword      = "admin"
	DefaultPageSize      = 5
	DefaultSessionSecret = "dashprobe-fixture-session-secret"

	routeRoot          = "/"
	routeLogin         = "/login/"
	routeLogout        = "/logout/"
	routeWelcome       = "/superset/welcome/"
	routeDashboardList = "/dashboard/list/"
	routeDashboard     = "/superset/dashboard/:slug/"
	routeDashboardAPI  = "/api/v1/dashboard/"

	sessionName           = "session"
	sessionKeyUsername    = "username"
	sessionMaxAgeSeconds  = 12 * 60 * 60
	corsOriginWildcard    = "*"
	corsHeaderContentType = "Content-Type"

	errorMessageMissingCredentials = "fixtureapp: username and password are required"
	errorMessageInvalidPageSize    = "fixtureapp: page size must be positive"
	errorMessageMissingSecret      = "fixtureapp: session secret is required"
)

var (
	// ErrMissingCredentials indicates options without login credentials.
	ErrMissingCredentials = errors.New(errorMessageMissingCredentials)
	// ErrInvalidPageSize indicates a page size below one.
	ErrInvalidPageSize = errors.New(errorMessageInvalidPageSize)
	// ErrMissingSessionSecret indicates options without a cookie signing secret.
	ErrMissingSessionSecret = errors.New(errorMessageMissingSecret)
)

// Options configure the fixture server.
type Options struct {
	Username      string
	Password      string
	SessionSecret string
	PageSize      int
	Database      storage.Config
	Dashboards    []model.Dashboard
}

// DefaultOptions returns options backed by a private in-memory database and the default dashboards.
func DefaultOptions() Options {
	return Options{
		Username:      DefaultUsername,
		Password:      DefaultPassword,
		SessionSecret: DefaultSessionSecret,
		PageSize:      DefaultPageSize,
		Database:      storage.InMemoryConfig(),
		Dashboards:    DefaultDashboards(),
	}
}

func (options Options) validate() error {
	switch {
	case strings.TrimSpace(options.Username) == "" || options.Password == "":
		return ErrMissingCredentials
	case options.PageSize < 1:
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, options.PageSize)
	case options.SessionSecret == "":
		return ErrMissingSessionSecret
	}
	return nil
}

// Server owns the fixture database and router.
type Server struct {
	options      Options
	database     *gorm.DB
	logger       *zap.Logger
	sessionStore *sessions.CookieStore
	templates    *template.Template
	router       *gin.Engine
}

// New opens and seeds the fixture database and builds the router.
func New(options Options, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validationErr := options.validate(); validationErr != nil {
		return nil, validationErr
	}

	database, openErr := storage.OpenDatabase(options.Database)
	if openErr != nil {
		return nil, openErr
	}
	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		return nil, errors.Join(migrateErr, closeDatabase(database))
	}
	if seedErr := storage.SeedDashboards(database, options.Dashboards); seedErr != nil {
		return nil, errors.Join(seedErr, closeDatabase(database))
	}

	sessionStore := sessions.NewCookieStore([]byte(options.SessionSecret))
	sessionStore.Options = &sessions.Options{
		Path:     routeRoot,
		MaxAge:   sessionMaxAgeSeconds,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	server := &Server{
		options:      options,
		database:     database,
		logger:       logger,
		sessionStore: sessionStore,
		templates:    parseTemplates(),
	}
	server.router = server.buildRouter()
	return server, nil
}

func (server *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(server.logger))

	router.GET(routeRoot, server.renderLogin)
	router.GET(routeLogin, server.renderLogin)
	router.POST(routeLogin, server.submitLogin)
	router.GET(routeLogout, server.logout)

	authenticated := router.Group(routeRoot)
	authenticated.Use(server.requireLogin)
	authenticated.GET(routeWelcome, server.renderWelcome)
	authenticated.GET(routeDashboardList, server.renderDashboardList)
	authenticated.GET(routeDashboard, server.renderDashboard)

	api := router.Group(routeDashboardAPI)
	api.Use(cors.New(cors.Config{
		AllowOrigins:  []string{corsOriginWildcard},
		AllowMethods:  []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:  []string{corsHeaderContentType},
		ExposeHeaders: []string{corsHeaderContentType},
		MaxAge:        12 * time.Hour,
	}))
	api.Use(server.requireLogin)
	api.GET("", server.listDashboardsJSON)

	return router
}

// Handler returns the HTTP handler of the fixture application.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Close releases the fixture database.
func (server *Server) Close() error {
	return closeDatabase(server.database)
}

func closeDatabase(database *gorm.DB) error {
	sqlDatabase, sqlErr := database.DB()
	if sqlErr != nil {
		return sqlErr
	}
	return sqlDatabase.Close()
}
