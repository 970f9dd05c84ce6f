// Package session opens authenticated browser sessions against the application under test.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/browser"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/config"
)

const (
	// ExpectedTitle is the document title of the application login page.
	ExpectedTitle = "Superset"
	// LandingMarker appears in the URL after a successful login.
	LandingMarker = "welcome"

	errorMessageTitleMismatch      = "session: unexpected page title"
	errorMessageLandingNotReached  = "session: landing page not reached"
	errorMessageMissingBrowser     = "session: browser is required"
	logEventSessionLoginStarted    = "session_login_started"
	logEventSessionLoginComplete   = "session_login_complete"
	logEventSessionLoginFailed     = "session_login_failed"
	logEventSessionClosed          = "session_closed"
	logEventSessionCloseFailed     = "session_close_failed"
	logFieldSessionID              = "session_id"
	logFieldApplicationURL         = "application_url"
	logFieldLandingURL             = "landing_url"
	logFieldUsername               = "username"
	landingURLMismatchFormat       = "%w: expected %q in %s"
	titleMismatchFormat            = "%w: expected %q, got %q"
	wrappedOperationErrorFormat    = "%s: %w"
	operationNavigate              = "navigate to application"
	operationReadTitle             = "read page title"
	operationFillUsername          = "fill username"
	operationFillPassword          = "fill password"
	operationSubmitLogin           = "submit login"
	operationWaitNetworkIdle       = "wait for network idle"
	operationReadLandingURL        = "read landing url"
	operationOpenPage              = "open page"
	loginSubmitButtonCSS           = "input.btn.btn-primary.btn-block"
	loginUsernameFieldCSS          = "#username"
	loginPasswordFieldCSS          = "#password"
	cleanupCloseFailureMessage     = "close session %s: %v"
	sessionTestHelperFailureFormat = "open session: %v"
)

var (
	// ErrTitleMismatch indicates the application did not identify itself by title.
	ErrTitleMismatch = errors.New(errorMessageTitleMismatch)
	// ErrLandingNotReached indicates the login did not reach the landing page.
	ErrLandingNotReached = errors.New(errorMessageLandingNotReached)
	// ErrMissingBrowser indicates Open was called without a browser.
	ErrMissingBrowser = errors.New(errorMessageMissingBrowser)
)

var (
	// UsernameField is the login form user name input.
	UsernameField = browser.CSS(loginUsernameFieldCSS)
	// PasswordField is the login form password input.
	PasswordField = browser.CSS(loginPasswordFieldCSS)
	// SubmitButton is the login form primary action.
	SubmitButton = browser.CSS(loginSubmitButtonCSS)
)

// Session is an authenticated page owned by exactly one test.
type Session struct {
	identifier    uuid.UUID
	page          browser.Page
	configuration config.Config
	logger        *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open logs into the application on a fresh isolated page. The page is closed on every failure path.
func Open(ctx context.Context, launchedBrowser browser.Browser, configuration config.Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if launchedBrowser == nil {
		return nil, ErrMissingBrowser
	}
	if validationErr := configuration.Validate(); validationErr != nil {
		return nil, validationErr
	}

	identifier := uuid.New()
	sessionLogger := logger.With(zap.String(logFieldSessionID, identifier.String()))

	page, pageErr := launchedBrowser.NewPage(ctx)
	if pageErr != nil {
		return nil, fmt.Errorf(wrappedOperationErrorFormat, operationOpenPage, pageErr)
	}

	session := &Session{
		identifier:    identifier,
		page:          page,
		configuration: configuration,
		logger:        sessionLogger,
	}

	sessionLogger.Debug(logEventSessionLoginStarted,
		zap.String(logFieldApplicationURL, configuration.ApplicationURL),
		zap.String(logFieldUsername, configuration.Username),
	)
	if loginErr := session.login(ctx); loginErr != nil {
		sessionLogger.Warn(logEventSessionLoginFailed, zap.Error(loginErr))
		if closeErr := session.Close(); closeErr != nil {
			return nil, errors.Join(loginErr, closeErr)
		}
		return nil, loginErr
	}
	return session, nil
}

func (session *Session) login(ctx context.Context) error {
	page := session.page
	if navigateErr := page.Navigate(ctx, session.configuration.ApplicationURL); navigateErr != nil {
		return fmt.Errorf(wrappedOperationErrorFormat, operationNavigate, navigateErr)
	}

	title, titleErr := page.Title(ctx)
	if titleErr != nil {
		return fmt.Errorf(wrappedOperationErrorFormat, operationReadTitle, titleErr)
	}
	if title != ExpectedTitle {
		return fmt.Errorf(titleMismatchFormat, ErrTitleMismatch, ExpectedTitle, title)
	}

	if fillErr := page.Fill(ctx, UsernameField, session.configuration.Username); fillErr != nil {
		return fmt.Errorf(wrappedOperationErrorFormat, operationFillUsername, fillErr)
	}
	if fillErr := page.Fill(ctx, PasswordField, session.configuration.Password); fillErr != nil {
		return fmt.Errorf(wrappedOperationErrorFormat, operationFillPassword, fillErr)
	}
	if clickErr := page.Click(ctx, SubmitButton, browser.ClickOptions{}); clickErr != nil {
		return fmt.Errorf(wrappedOperationErrorFormat, operationSubmitLogin, clickErr)
	}
	if idleErr := page.WaitNetworkIdle(ctx); idleErr != nil {
		return fmt.Errorf(wrappedOperationErrorFormat, operationWaitNetworkIdle, idleErr)
	}

	landingURL, urlErr := page.URL(ctx)
	if urlErr != nil {
		return fmt.Errorf(wrappedOperationErrorFormat, operationReadLandingURL, urlErr)
	}
	if !strings.Contains(landingURL, LandingMarker) {
		return fmt.Errorf(landingURLMismatchFormat, ErrLandingNotReached, LandingMarker, landingURL)
	}

	session.logger.Info(logEventSessionLoginComplete, zap.String(logFieldLandingURL, landingURL))
	return nil
}

// ID correlates log lines of one session.
func (session *Session) ID() uuid.UUID {
	return session.identifier
}

// Page is the authenticated page.
func (session *Session) Page() browser.Page {
	return session.page
}

// Config is the configuration the session logged in with.
func (session *Session) Config() config.Config {
	return session.configuration
}

// Close releases the page. Subsequent calls return the first result.
func (session *Session) Close() error {
	session.closeOnce.Do(func() {
		session.closeErr = session.page.Close()
		if session.closeErr != nil {
			session.logger.Warn(logEventSessionCloseFailed, zap.Error(session.closeErr))
			return
		}
		session.logger.Debug(logEventSessionClosed)
	})
	return session.closeErr
}

// OpenForTest opens a session and ties its lifetime to the test. Login failures fail the test
// before its body runs.
func OpenForTest(testingT testing.TB, ctx context.Context, launchedBrowser browser.Browser, configuration config.Config, logger *zap.Logger) *Session {
	testingT.Helper()
	session, openErr := Open(ctx, launchedBrowser, configuration, logger)
	if openErr != nil {
		testingT.Fatalf(sessionTestHelperFailureFormat, openErr)
	}
	testingT.Cleanup(func() {
		if closeErr := session.Close(); closeErr != nil {
			testingT.Logf(cleanupCloseFailureMessage, session.ID(), closeErr)
		}
	})
	return session
}
