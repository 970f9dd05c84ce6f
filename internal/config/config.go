package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvironmentKeyApplicationURL names the application root URL variable.
	EnvironmentKeyApplicationURL = "TEST_URL"
	// EnvironmentKeyUsername names the login username variable.
	EnvironmentKeyUsername = "TEST_USERNAME"
	// EnvironmentKeyPassword names the login password variable.
	EnvironmentKeyPassword = "TEST_PASSWORD"
	// EnvironmentKeyWFSEndpoint names the external OGC WFS endpoint variable.
	EnvironmentKeyWFSEndpoint = "TEST_WFS"
	// EnvironmentKeyDriverName selects the browser automation driver.
	EnvironmentKeyDriverName = "TEST_DRIVER"
	// EnvironmentKeyHeadless toggles headless browser mode.
	EnvironmentKeyHeadless = "TEST_HEADLESS"
	// EnvironmentKeyBrowserExecutable overrides the browser binary.
	EnvironmentKeyBrowserExecutable = "CHROME_PATH"
	// EnvironmentKeyActionTimeout bounds element waits.
	EnvironmentKeyActionTimeout = "TEST_ACTION_TIMEOUT"
	// EnvironmentKeyNetworkIdleTimeout bounds network-idle waits.
	EnvironmentKeyNetworkIdleTimeout = "TEST_NETWORK_IDLE_TIMEOUT"
	// EnvironmentKeyMaxDashboardPages caps the dashboard list pagination search.
	EnvironmentKeyMaxDashboardPages = "TEST_MAX_PAGES"

	DefaultApplicationURL     = "http://localhost:8088/"
	DefaultUsername           = "admin"
	DefaultPassword           = "admin"
	DefaultWFSEndpoint        = "wfs://geodienste.leipzig.de/l3/OpenData/wfs?REQUEST=GetCapabilities&SERVICE=WFS"
	DefaultDriverName         = "chromedp"
	DefaultHeadless           = true
	DefaultActionTimeout      = 10 * time.Second
	DefaultNetworkIdleTimeout = 30 * time.Second
	DefaultMaxDashboardPages  = 50

	errorMessageInvalidApplicationURL = "config: invalid application url"
	errorMessageMissingCredentials    = "config: missing credentials"
	errorMessageInvalidTimeout        = "config: timeout must be positive"
	errorMessageInvalidPageLimit      = "config: dashboard page limit must be positive"
	errorMessageMissingDriverName     = "config: missing driver name"
)

var (
	// ErrInvalidApplicationURL indicates the application URL is not an absolute http(s) URL.
	ErrInvalidApplicationURL = errors.New(errorMessageInvalidApplicationURL)
	// ErrMissingCredentials indicates the username or password is empty.
	ErrMissingCredentials = errors.New(errorMessageMissingCredentials)
	// ErrInvalidTimeout indicates a non-positive timeout.
	ErrInvalidTimeout = errors.New(errorMessageInvalidTimeout)
	// ErrInvalidPageLimit indicates a non-positive pagination cap.
	ErrInvalidPageLimit = errors.New(errorMessageInvalidPageLimit)
	// ErrMissingDriverName indicates the driver name was blanked out.
	ErrMissingDriverName = errors.New(errorMessageMissingDriverName)
)

// Config is the process-wide harness configuration. It is built once and passed by value.
type Config struct {
	ApplicationURL     string
	Username           string
	Password           string
	WFSEndpoint        string
	DriverName         string
	Headless           bool
	BrowserExecutable  string
	ActionTimeout      time.Duration
	NetworkIdleTimeout time.Duration
	MaxDashboardPages  int
}

// ApplyDefaults registers the default value of every configuration key on the loader.
func ApplyDefaults(configurationLoader *viper.Viper) {
	configurationLoader.SetDefault(EnvironmentKeyApplicationURL, DefaultApplicationURL)
	configurationLoader.SetDefault(EnvironmentKeyUsername, DefaultUsername)
	configurationLoader.SetDefault(EnvironmentKeyPassword, DefaultPassword)
	configurationLoader.SetDefault(EnvironmentKeyWFSEndpoint, DefaultWFSEndpoint)
	configurationLoader.SetDefault(EnvironmentKeyDriverName, DefaultDriverName)
	configurationLoader.SetDefault(EnvironmentKeyHeadless, DefaultHeadless)
	configurationLoader.SetDefault(EnvironmentKeyBrowserExecutable, "")
	configurationLoader.SetDefault(EnvironmentKeyActionTimeout, DefaultActionTimeout)
	configurationLoader.SetDefault(EnvironmentKeyNetworkIdleTimeout, DefaultNetworkIdleTimeout)
	configurationLoader.SetDefault(EnvironmentKeyMaxDashboardPages, DefaultMaxDashboardPages)
}

// FromEnvironment builds a Config from process environment variables and defaults.
func FromEnvironment() (Config, error) {
	configurationLoader := viper.New()
	ApplyDefaults(configurationLoader)
	configurationLoader.AutomaticEnv()
	return Load(configurationLoader)
}

// Load reads, normalizes, and validates the configuration held by the loader.
func Load(configurationLoader *viper.Viper) (Config, error) {
	configuration := Config{
		ApplicationURL:     normalizeApplicationURL(configurationLoader.GetString(EnvironmentKeyApplicationURL)),
		Username:           strings.TrimSpace(configurationLoader.GetString(EnvironmentKeyUsername)),
		Password:           configurationLoader.GetString(EnvironmentKeyPassword),
		WFSEndpoint:        strings.TrimSpace(configurationLoader.GetString(EnvironmentKeyWFSEndpoint)),
		DriverName:         strings.ToLower(strings.TrimSpace(configurationLoader.GetString(EnvironmentKeyDriverName))),
		Headless:           configurationLoader.GetBool(EnvironmentKeyHeadless),
		BrowserExecutable:  strings.TrimSpace(configurationLoader.GetString(EnvironmentKeyBrowserExecutable)),
		ActionTimeout:      configurationLoader.GetDuration(EnvironmentKeyActionTimeout),
		NetworkIdleTimeout: configurationLoader.GetDuration(EnvironmentKeyNetworkIdleTimeout),
		MaxDashboardPages:  configurationLoader.GetInt(EnvironmentKeyMaxDashboardPages),
	}

	if validationErr := configuration.Validate(); validationErr != nil {
		return Config{}, validationErr
	}

	return configuration, nil
}

// Validate reports the first configuration problem found.
func (configuration Config) Validate() error {
	parsedURL, parseErr := url.Parse(configuration.ApplicationURL)
	if parseErr != nil {
		return fmt.Errorf("%w: %v", ErrInvalidApplicationURL, parseErr)
	}
	if (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidApplicationURL, configuration.ApplicationURL)
	}

	if configuration.Username == "" || configuration.Password == "" {
		return ErrMissingCredentials
	}

	if configuration.DriverName == "" {
		return ErrMissingDriverName
	}

	if configuration.ActionTimeout <= 0 || configuration.NetworkIdleTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if configuration.MaxDashboardPages <= 0 {
		return ErrInvalidPageLimit
	}

	return nil
}

// ResolveURL joins a path relative to the application root.
func (configuration Config) ResolveURL(relativePath string) string {
	return configuration.ApplicationURL + strings.TrimLeft(relativePath, "/")
}

func normalizeApplicationURL(rawURL string) string {
	trimmedURL := strings.TrimSpace(rawURL)
	if trimmedURL == "" {
		return ""
	}
	return strings.TrimRight(trimmedURL, "/") + "/"
}
