package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/browser"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/browser/browsertest"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/config"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/session"
)

const (
	testApplicationURL = "http://superset.test:8088/"
	testUsername       = "admin"
	testPassword       = "admin"
	landingURL         = "http://superset.test:8088/superset/welcome/"
	loginFailureURL    = "http://superset.test:8088/login/"
)

func testConfiguration() config.Config {
	return config.Config{
		ApplicationURL:     testApplicationURL,
		Username:           testUsername,
		Password:           testPassword,
		WFSEndpoint:        config.DefaultWFSEndpoint,
		DriverName:         config.DefaultDriverName,
		Headless:           true,
		ActionTimeout:      config.DefaultActionTimeout,
		NetworkIdleTimeout: config.DefaultNetworkIdleTimeout,
		MaxDashboardPages:  config.DefaultMaxDashboardPages,
	}
}

// scriptedLoginPage serves a login form that redirects to the landing page when the filled
// credentials match.
func scriptedLoginPage(title string) *browsertest.Page {
	page := browsertest.NewPage()
	page.OnNavigate = func(scripted *browsertest.Page, targetURL string) error {
		scripted.SetTitle(title)
		scripted.SetVisible(session.UsernameField, true)
		scripted.SetVisible(session.PasswordField, true)
		scripted.SetVisible(session.SubmitButton, true)
		return nil
	}
	page.OnClick = func(scripted *browsertest.Page, selector browser.Selector, _ browser.ClickOptions) error {
		if selector != session.SubmitButton {
			return nil
		}
		username, _ := scripted.Filled(session.UsernameField)
		password, _ := scripted.Filled(session.PasswordField)
		if username == testUsername && password == testPassword {
			scripted.SetURL(landingURL)
			return nil
		}
		scripted.SetURL(loginFailureURL)
		return nil
	}
	return page
}

func TestOpenLogsInWithValidCredentials(testingT *testing.T) {
	page := scriptedLoginPage(session.ExpectedTitle)
	fakeBrowser := browsertest.NewBrowser(page)

	openedSession, openErr := session.Open(context.Background(), fakeBrowser, testConfiguration(), zaptest.NewLogger(testingT))
	require.NoError(testingT, openErr)
	testingT.Cleanup(func() {
		require.NoError(testingT, openedSession.Close())
	})

	require.Equal(testingT, []string{testApplicationURL}, page.Navigations())
	filledUsername, usernameFilled := page.Filled(session.UsernameField)
	require.True(testingT, usernameFilled)
	require.Equal(testingT, testUsername, filledUsername)
	require.Len(testingT, page.Clicks(), 1)
	require.Equal(testingT, session.SubmitButton, page.Clicks()[0].Selector)
	require.Equal(testingT, 1, page.NetworkIdleWaits())

	currentURL, urlErr := openedSession.Page().URL(context.Background())
	require.NoError(testingT, urlErr)
	require.Contains(testingT, currentURL, session.LandingMarker)
	require.NotEqual(testingT, openedSession.ID().String(), "")
	require.Equal(testingT, testApplicationURL, openedSession.Config().ApplicationURL)
	require.Zero(testingT, page.CloseCount())
}

func TestOpenFailsWithInvalidCredentialsAndClosesPage(testingT *testing.T) {
	page := scriptedLoginPage(session.ExpectedTitle)
	configuration := testConfiguration()
	configuration.Password = "wrong"

	openedSession, openErr := session.Open(context.Background(), browsertest.NewBrowser(page), configuration, zaptest.NewLogger(testingT))

	require.Nil(testingT, openedSession)
	require.ErrorIs(testingT, openErr, session.ErrLandingNotReached)
	require.Equal(testingT, 1, page.CloseCount())
}

func TestOpenFailsOnTitleMismatchBeforeSubmittingCredentials(testingT *testing.T) {
	page := scriptedLoginPage("Grafana")

	_, openErr := session.Open(context.Background(), browsertest.NewBrowser(page), testConfiguration(), zaptest.NewLogger(testingT))

	require.ErrorIs(testingT, openErr, session.ErrTitleMismatch)
	require.Contains(testingT, openErr.Error(), `"Grafana"`)
	require.Empty(testingT, page.Clicks())
	require.Equal(testingT, 1, page.CloseCount())
}

func TestOpenWrapsDriverFailuresAndClosesPage(testingT *testing.T) {
	testCases := []struct {
		name          string
		mutate        func(page *browsertest.Page)
		expectedError error
	}{
		{
			name: "missing password field",
			mutate: func(page *browsertest.Page) {
				previous := page.OnNavigate
				page.OnNavigate = func(scripted *browsertest.Page, targetURL string) error {
					if hookErr := previous(scripted, targetURL); hookErr != nil {
						return hookErr
					}
					scripted.RemoveElement(session.PasswordField)
					return nil
				}
			},
			expectedError: browser.ErrTimeout,
		},
		{
			name: "network never idle",
			mutate: func(page *browsertest.Page) {
				page.NetworkIdleErr = browser.ErrTimeout
			},
			expectedError: browser.ErrTimeout,
		},
	}

	for _, testCase := range testCases {
		testingT.Run(testCase.name, func(testingT *testing.T) {
			page := scriptedLoginPage(session.ExpectedTitle)
			testCase.mutate(page)

			_, openErr := session.Open(context.Background(), browsertest.NewBrowser(page), testConfiguration(), zaptest.NewLogger(testingT))

			require.ErrorIs(testingT, openErr, testCase.expectedError)
			require.Equal(testingT, 1, page.CloseCount())
		})
	}
}

func TestOpenRejectsMissingBrowserAndInvalidConfiguration(testingT *testing.T) {
	_, missingBrowserErr := session.Open(context.Background(), nil, testConfiguration(), nil)
	require.ErrorIs(testingT, missingBrowserErr, session.ErrMissingBrowser)

	configuration := testConfiguration()
	configuration.Username = ""
	fakeBrowser := browsertest.NewBrowser(browsertest.NewPage())
	_, invalidErr := session.Open(context.Background(), fakeBrowser, configuration, nil)
	require.ErrorIs(testingT, invalidErr, config.ErrMissingCredentials)
	require.Zero(testingT, fakeBrowser.OpenedPages())
}

func TestOpenPropagatesPageCreationFailure(testingT *testing.T) {
	fakeBrowser := browsertest.NewBrowser()
	fakeBrowser.NewPageErr = errors.New("target crashed")

	_, openErr := session.Open(context.Background(), fakeBrowser, testConfiguration(), nil)

	require.ErrorIs(testingT, openErr, fakeBrowser.NewPageErr)
}

func TestCloseIsIdempotent(testingT *testing.T) {
	page := scriptedLoginPage(session.ExpectedTitle)
	openedSession, openErr := session.Open(context.Background(), browsertest.NewBrowser(page), testConfiguration(), nil)
	require.NoError(testingT, openErr)

	require.NoError(testingT, openedSession.Close())
	require.NoError(testingT, openedSession.Close())
	require.Equal(testingT, 1, page.CloseCount())
}

func TestOpenForTestClosesSessionOnCleanup(testingT *testing.T) {
	page := scriptedLoginPage(session.ExpectedTitle)

	testingT.Run("body", func(testingT *testing.T) {
		openedSession := session.OpenForTest(testingT, context.Background(), browsertest.NewBrowser(page), testConfiguration(), zaptest.NewLogger(testingT))
		require.NotNil(testingT, openedSession.Page())
		require.Zero(testingT, page.CloseCount())
	})

	require.Equal(testingT, 1, page.CloseCount())
}
