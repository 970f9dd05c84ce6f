package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/browser"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/config"
)

const (
	commandUseName                 = "dashprobe"
	commandShortDescription        = "Drive a dashboard deployment from a headless browser"
	commandLongDescription         = "Log into a dashboard deployment, open dashboards, and probe map canvases for interactive features"
	loggerCreationErrorMessage     = "logger"
	flagNameApplicationURL         = "url"
	flagNameUsername               = "username"
	flagNamePassword               = "password"
	flagNameWFSEndpoint            = "wfs"
	flagNameDriver                 = "driver"
	flagNameHeadless               = "headless"
	flagNameBrowserExecutable      = "chrome-path"
	flagNameActionTimeout          = "action-timeout"
	flagNameNetworkIdleTimeout     = "network-idle-timeout"
	flagNameMaxDashboardPages      = "max-pages"
	flagNameVerbose                = "verbose"
	flagUsageApplicationURL        = "root URL of the dashboard application"
	flagUsageUsername              = "login user name"
	flagUsagePassword              = "login password"
	flagUsageWFSEndpoint           = "WFS endpoint used for database connections"
	flagUsageDriver                = "browser driver: chromedp, playwright or rod"
	flagUsageHeadless              = "run the browser without a window"
	flagUsageBrowserExecutable     = "browser binary to launch"
	flagUsageActionTimeout         = "how long to wait for an element"
	flagUsageNetworkIdleTimeout    = "how long to wait for the network to settle"
	flagUsageMaxDashboardPages     = "dashboard list pages searched before giving up"
	flagUsageVerbose               = "log at debug level"
	environmentKeyVerbose          = "DASHPROBE_VERBOSE"
	unexpectedArgumentsMessage     = "unexpected command arguments"
	missingConfigurationMessage    = "missing required configuration"
	commandInitializationFailure   = "failed to configure command"
	flagNotDefinedMessage          = "flag %s not defined"
	environmentConfigurationError  = "failed to apply environment configuration"
	wrappedCommandErrorFormat      = "%s: %w"
	logEventBrowserCloseFailed     = "browser_close_failed"
	logEventSessionCloseFailed     = "session_close_failed"
	logFieldDriver                 = "driver"
	commandOperationLoadConfig     = "load configuration"
	commandOperationLaunchBrowser  = "launch browser"
	commandOperationOpenSession    = "open session"
	commandOperationReadLandingURL = "read landing url"
)

// BrowserLauncher starts a browser for the configured driver.
type BrowserLauncher func(context.Context, browser.LaunchOptions, *zap.Logger) (browser.Browser, error)

// LoggerFactory builds the process logger.
type LoggerFactory func(verbose bool) (*zap.Logger, error)

type configurationFlag struct {
	environmentKey string
	flagName       string
}

var configurationFlags = []configurationFlag{
	{environmentKey: config.EnvironmentKeyApplicationURL, flagName: flagNameApplicationURL},
	{environmentKey: config.EnvironmentKeyUsername, flagName: flagNameUsername},
	{environmentKey: config.EnvironmentKeyPassword, flagName: flagNamePassword},
	{environmentKey: config.EnvironmentKeyWFSEndpoint, flagName: flagNameWFSEndpoint},
	{environmentKey: config.EnvironmentKeyDriverName, flagName: flagNameDriver},
	{environmentKey: config.EnvironmentKeyHeadless, flagName: flagNameHeadless},
	{environmentKey: config.EnvironmentKeyBrowserExecutable, flagName: flagNameBrowserExecutable},
	{environmentKey: config.EnvironmentKeyActionTimeout, flagName: flagNameActionTimeout},
	{environmentKey: config.EnvironmentKeyNetworkIdleTimeout, flagName: flagNameNetworkIdleTimeout},
	{environmentKey: config.EnvironmentKeyMaxDashboardPages, flagName: flagNameMaxDashboardPages},
	{environmentKey: environmentKeyVerbose, flagName: flagNameVerbose},
}

// DashprobeApplication constructs and executes the dashprobe commands.
type DashprobeApplication struct {
	configurationLoader *viper.Viper
	browserLauncher     BrowserLauncher
	loggerFactory       LoggerFactory
	rerunRequests       <-chan os.Signal
}

// NewDashprobeApplication creates a DashprobeApplication with default dependencies.
func NewDashprobeApplication() *DashprobeApplication {
	return &DashprobeApplication{
		configurationLoader: viper.New(),
		browserLauncher:     browser.Launch,
		loggerFactory:       newLogger,
	}
}

// WithBrowserLauncher overrides the browser launcher dependency.
func (application *DashprobeApplication) WithBrowserLauncher(browserLauncher BrowserLauncher) *DashprobeApplication {
	application.browserLauncher = browserLauncher
	return application
}

// WithLoggerFactory overrides the logger factory dependency.
func (application *DashprobeApplication) WithLoggerFactory(loggerFactory LoggerFactory) *DashprobeApplication {
	application.loggerFactory = loggerFactory
	return application
}

// WithRerunSignals replaces the process signals that make watch mode probe immediately.
func (application *DashprobeApplication) WithRerunSignals(rerunRequests <-chan os.Signal) *DashprobeApplication {
	application.rerunRequests = rerunRequests
	return application
}

// Command builds the Cobra command tree.
func (application *DashprobeApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:           commandUseName,
		Short:         commandShortDescription,
		Long:          commandLongDescription,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	rootCommand.AddCommand(
		application.loginCommand(),
		application.probeCommand(),
		application.fixtureCommand(),
	)
	return rootCommand, nil
}

func (application *DashprobeApplication) configureCommand(command *cobra.Command) error {
	config.ApplyDefaults(application.configurationLoader)
	application.configurationLoader.SetDefault(environmentKeyVerbose, false)
	application.configurationLoader.AutomaticEnv()

	persistentFlags := command.PersistentFlags()
	persistentFlags.String(flagNameApplicationURL, config.DefaultApplicationURL, flagUsageApplicationURL)
	persistentFlags.String(flagNameUsername, config.DefaultUsername, flagUsageUsername)
	persistentFlags.String(flagNamePassword, config.DefaultPassword, flagUsagePassword)
	persistentFlags.String(flagNameWFSEndpoint, config.DefaultWFSEndpoint, flagUsageWFSEndpoint)
	persistentFlags.String(flagNameDriver, config.DefaultDriverName, flagUsageDriver)
	persistentFlags.Bool(flagNameHeadless, config.DefaultHeadless, flagUsageHeadless)
	persistentFlags.String(flagNameBrowserExecutable, "", flagUsageBrowserExecutable)
	persistentFlags.Duration(flagNameActionTimeout, config.DefaultActionTimeout, flagUsageActionTimeout)
	persistentFlags.Duration(flagNameNetworkIdleTimeout, config.DefaultNetworkIdleTimeout, flagUsageNetworkIdleTimeout)
	persistentFlags.Int(flagNameMaxDashboardPages, config.DefaultMaxDashboardPages, flagUsageMaxDashboardPages)
	persistentFlags.BoolP(flagNameVerbose, "v", false, flagUsageVerbose)

	for _, binding := range configurationFlags {
		if bindErr := application.bindFlag(persistentFlags, binding.environmentKey, binding.flagName); bindErr != nil {
			return bindErr
		}
	}

	for _, binding := range configurationFlags {
		if environmentErr := application.applyEnvironmentConfiguration(persistentFlags, binding.environmentKey, binding.flagName); environmentErr != nil {
			return environmentErr
		}
	}

	return nil
}

func (application *DashprobeApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}

	if bindErr := application.configurationLoader.BindPFlag(environmentKey, flag); bindErr != nil {
		return bindErr
	}

	return nil
}

func (application *DashprobeApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}

	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}

	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	application := NewDashprobeApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		fmt.Fprintln(os.Stderr, executeErr)
		os.Exit(1)
	}
}
