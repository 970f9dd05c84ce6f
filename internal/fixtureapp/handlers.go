package fixtureapp

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/model"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/storage"
)

const (
	htmlContentType          = "text/html; charset=utf-8"
	templateLogin            = "login.tmpl"
	templateWelcome          = "welcome.tmpl"
	templateDashboardList    = "dashboard_list.tmpl"
	templateDashboard        = "dashboard.tmpl"
	formFieldUsername        = "username"
	formFieldPassword        = "password"
	queryParameterPage       = "page"
	loginFailedMessage       = "Invalid login. Please try again."
	logEventRenderPage       = "render_page"
	logEventLoginSucceeded   = "fixture_login_succeeded"
	logEventLoginRejected    = "fixture_login_rejected"
	logEventSaveSession      = "save_session"
	logEventListDashboards   = "list_dashboards"
	logEventLoadDashboard    = "load_dashboard"
	logFieldTemplate         = "template"
	logFieldUsername         = "username"
	logFieldSlug             = "slug"
	errorCodeRenderFailed    = "render_failed"
	errorCodeStorageFailed   = "storage_failed"
	errorCodeSessionFailed   = "session_failed"
	errorCodeInvalidPage     = "invalid_page"
	errorCodeDashboardAbsent = "dashboard_not_found"
)

type loginPageData struct {
	Next         string
	ErrorMessage string
}

type welcomePageData struct {
	Username string
}

type dashboardListPageData struct {
	Dashboards   []model.Dashboard
	Page         int
	NextPage     int
	PreviousPage int
	HasNext      bool
	HasPrevious  bool
	Total        int64
}

type dashboardPageData struct {
	Title  string
	Charts []chartView
}

type chartView struct {
	ElementID int
	Name      string
	IsMap     bool
	Features  string
}

type featureView struct {
	Label  string  `json:"label"`
	Column string  `json:"column"`
	Value  string  `json:"value"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
}

type dashboardResource struct {
	ID       string `json:"id"`
	Title    string `json:"dashboard_title"`
	Slug     string `json:"slug"`
	URL      string `json:"url"`
	Position int    `json:"position"`
}

type dashboardListResponse struct {
	Count  int64               `json:"count"`
	Page   int                 `json:"page"`
	Result []dashboardResource `json:"result"`
}

func (server *Server) render(context *gin.Context, status int, templateName string, data any) {
	var buffer bytes.Buffer
	if executeErr := server.templates.ExecuteTemplate(&buffer, templateName, data); executeErr != nil {
		server.logger.Error(logEventRenderPage, zap.String(logFieldTemplate, templateName), zap.Error(executeErr))
		context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errorCodeRenderFailed})
		return
	}
	context.Data(status, htmlContentType, buffer.Bytes())
}

func (server *Server) renderLogin(context *gin.Context) {
	if _, authenticated := server.currentUsername(context); authenticated {
		context.Redirect(http.StatusFound, routeWelcome)
		return
	}
	server.render(context, http.StatusOK, templateLogin, loginPageData{Next: context.Query(loginNextParameterKey)})
}

func (server *Server) submitLogin(context *gin.Context) {
	username := strings.TrimSpace(context.PostForm(formFieldUsername))
	password := context.PostForm(formFieldPassword)
	next := context.PostForm(loginNextParameterKey)

	if username != server.options.Username || password != server.options.Password {
		server.logger.Info(logEventLoginRejected, zap.String(logFieldUsername, username))
		server.render(context, http.StatusUnauthorized, templateLogin, loginPageData{Next: next, ErrorMessage: loginFailedMessage})
		return
	}

	sessionInstance, _ := server.sessionStore.Get(context.Request, sessionName)
	sessionInstance.Values[sessionKeyUsername] = username
	if saveErr := sessionInstance.Save(context.Request, context.Writer); saveErr != nil {
		server.logger.Error(logEventSaveSession, zap.Error(saveErr))
		context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errorCodeSessionFailed})
		return
	}
	server.logger.Info(logEventLoginSucceeded, zap.String(logFieldUsername, username))
	context.Redirect(http.StatusFound, safeRedirectTarget(next))
}

// safeRedirectTarget keeps redirects on this host. Browsers read a backslash like a slash, so
// "/\host" is as external as "//host".
func safeRedirectTarget(next string) string {
	if !strings.HasPrefix(next, routeRoot) || strings.ContainsRune(next, '\\') || strings.HasPrefix(next, "//") {
		return routeWelcome
	}
	target, parseErr := url.Parse(next)
	if parseErr != nil || target.Scheme != "" || target.Host != "" || target.User != nil {
		return routeWelcome
	}
	return next
}

func (server *Server) logout(context *gin.Context) {
	sessionInstance, _ := server.sessionStore.Get(context.Request, sessionName)
	sessionInstance.Options.MaxAge = -1
	if saveErr := sessionInstance.Save(context.Request, context.Writer); saveErr != nil {
		server.logger.Warn(logEventSaveSession, zap.Error(saveErr))
	}
	context.Redirect(http.StatusFound, routeLogin)
}

func (server *Server) renderWelcome(context *gin.Context) {
	server.render(context, http.StatusOK, templateWelcome, welcomePageData{Username: context.GetString(contextKeyUsername)})
}

func (server *Server) renderDashboardList(context *gin.Context) {
	pageNumber, pageErr := requestedPage(context)
	if pageErr != nil {
		context.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errorCodeInvalidPage})
		return
	}
	page, listErr := storage.ListDashboards(server.database, pageNumber, server.options.PageSize)
	if listErr != nil {
		server.logger.Error(logEventListDashboards, zap.Error(listErr))
		context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errorCodeStorageFailed})
		return
	}
	server.render(context, http.StatusOK, templateDashboardList, dashboardListPageData{
		Dashboards:   page.Dashboards,
		Page:         page.Page,
		NextPage:     page.Page + 1,
		PreviousPage: page.Page - 1,
		HasNext:      page.HasNext(),
		HasPrevious:  page.HasPrevious(),
		Total:        page.Total,
	})
}

func (server *Server) renderDashboard(context *gin.Context) {
	slug := context.Param("slug")
	dashboard, findErr := storage.FindDashboardBySlug(server.database, slug)
	if errors.Is(findErr, storage.ErrDashboardNotFound) {
		context.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": errorCodeDashboardAbsent})
		return
	}
	if findErr != nil {
		server.logger.Error(logEventLoadDashboard, zap.String(logFieldSlug, slug), zap.Error(findErr))
		context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errorCodeStorageFailed})
		return
	}

	charts := make([]chartView, 0, len(dashboard.Charts))
	for _, chart := range dashboard.Charts {
		view, viewErr := newChartView(chart)
		if viewErr != nil {
			server.logger.Error(logEventLoadDashboard, zap.String(logFieldSlug, slug), zap.Error(viewErr))
			context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errorCodeRenderFailed})
			return
		}
		charts = append(charts, view)
	}
	server.render(context, http.StatusOK, templateDashboard, dashboardPageData{Title: dashboard.Title, Charts: charts})
}

func newChartView(chart model.Chart) (chartView, error) {
	features := make([]featureView, 0, len(chart.Features))
	for _, feature := range chart.Features {
		features = append(features, featureView{
			Label:  feature.Label,
			Column: feature.Column,
			Value:  feature.Value,
			X:      feature.X,
			Y:      feature.Y,
			Radius: feature.Radius,
		})
	}
	encoded, encodeErr := json.Marshal(features)
	if encodeErr != nil {
		return chartView{}, encodeErr
	}
	return chartView{ElementID: chart.ElementID, Name: chart.Name, IsMap: chart.IsMap(), Features: string(encoded)}, nil
}

func (server *Server) listDashboardsJSON(context *gin.Context) {
	pageNumber, pageErr := requestedPage(context)
	if pageErr != nil {
		context.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errorCodeInvalidPage})
		return
	}
	page, listErr := storage.ListDashboards(server.database, pageNumber, server.options.PageSize)
	if listErr != nil {
		server.logger.Error(logEventListDashboards, zap.Error(listErr))
		context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errorCodeStorageFailed})
		return
	}
	resources := make([]dashboardResource, 0, len(page.Dashboards))
	for _, dashboard := range page.Dashboards {
		resources = append(resources, dashboardResource{
			ID:       dashboard.ID,
			Title:    dashboard.Title,
			Slug:     dashboard.Slug,
			URL:      strings.Replace(routeDashboard, ":slug", dashboard.Slug, 1),
			Position: dashboard.Position,
		})
	}
	context.JSON(http.StatusOK, dashboardListResponse{Count: page.Total, Page: page.Page, Result: resources})
}

func requestedPage(context *gin.Context) (int, error) {
	rawPage := strings.TrimSpace(context.Query(queryParameterPage))
	if rawPage == "" {
		return 1, nil
	}
	pageNumber, parseErr := strconv.Atoi(rawPage)
	if parseErr != nil {
		return 0, parseErr
	}
	if pageNumber < 1 {
		return 0, storage.ErrInvalidPage
	}
	return pageNumber, nil
}
