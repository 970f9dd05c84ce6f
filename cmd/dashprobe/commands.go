package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/browser"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/config"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/fixtureapp"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/probe"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/session"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/superset"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/task"
)

const (
	loginCommandUse            = "login"
	loginCommandShort          = "Log in and print the landing page URL"
	probeCommandUse            = "probe"
	probeCommandShort          = "Open a dashboard and hover a map canvas until its tooltip shows"
	fixtureCommandUse          = "fixture"
	fixtureCommandShort        = "Serve the fixture dashboard application"
	flagNameDashboard          = "dashboard"
	flagNameContainer          = "container"
	flagNameStep               = "step"
	flagNameZoomClicks         = "zoom-clicks"
	flagNameAddress            = "addr"
	flagNameEvery              = "every"
	flagUsageDashboard         = "dashboard title as shown in the dashboard list"
	flagUsageContainer         = "CSS selector of the chart container, for example #chart-id-1314"
	flagUsageStep              = "grid step in pixels"
	flagUsageZoomClicks        = "zoom-in clicks before sweeping"
	flagUsageAddress           = "address for the fixture server to listen on"
	flagUsageEvery             = "repeat the probe on this interval until interrupted"
	probeFailureOutputFormat   = "probe failed: %v\n"
	watchSummaryOutputFormat   = "%d probes, %d failed\n"
	defaultFixtureAddress      = ":8088"
	readHeaderTimeoutSeconds   = 5
	shutdownTimeout            = 10 * time.Second
	loginOutputFormat          = "logged in: %s\n"
	probeOutputFormat          = "tooltip at (%.0f, %.0f) of %.0fx%.0f canvas after %d positions\n"
	fixtureOutputFormat        = "fixture listening on http://%s/\n"
	logEventFixtureListening   = "fixture_listening"
	logEventFixtureStopped     = "fixture_stopped"
	logFieldAddress            = "addr"
	commandOperationOpenDash   = "open dashboard"
	commandOperationProbe      = "probe canvas"
	commandOperationNewProber  = "configure probe"
	commandOperationFixture    = "start fixture"
	commandOperationListen     = "listen"
	commandOperationServe      = "serve"
	commandOperationShutdown   = "shutdown"
	commandOperationCloseStore = "close fixture"
)

// commandRuntime holds the resources a browser-backed command owns.
type commandRuntime struct {
	configuration config.Config
	logger        *zap.Logger
	browser       browser.Browser
	session       *session.Session
}

func (current *commandRuntime) close() {
	if current.session != nil {
		if closeErr := current.session.Close(); closeErr != nil {
			current.logger.Warn(logEventSessionCloseFailed, zap.Error(closeErr))
		}
	}
	if current.browser != nil {
		if closeErr := current.browser.Close(); closeErr != nil {
			current.logger.Warn(logEventBrowserCloseFailed, zap.Error(closeErr))
		}
	}
	_ = current.logger.Sync()
}

func (application *DashprobeApplication) logger() (*zap.Logger, error) {
	logger, loggerErr := application.loggerFactory(application.configurationLoader.GetBool(environmentKeyVerbose))
	if loggerErr != nil {
		return nil, fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	return logger, nil
}

// openSession loads the configuration, launches the browser and logs in. The caller closes the
// returned runtime.
func (application *DashprobeApplication) openSession(ctx context.Context) (*commandRuntime, error) {
	configuration, configurationErr := config.Load(application.configurationLoader)
	if configurationErr != nil {
		return nil, fmt.Errorf(wrappedCommandErrorFormat, commandOperationLoadConfig, configurationErr)
	}
	logger, loggerErr := application.logger()
	if loggerErr != nil {
		return nil, loggerErr
	}
	current := &commandRuntime{configuration: configuration, logger: logger}

	launchedBrowser, launchErr := application.browserLauncher(ctx, browser.LaunchOptionsFromConfig(configuration), logger)
	if launchErr != nil {
		current.close()
		return nil, fmt.Errorf(wrappedCommandErrorFormat, commandOperationLaunchBrowser, launchErr)
	}
	current.browser = launchedBrowser
	logger.Debug(commandOperationLaunchBrowser, zap.String(logFieldDriver, configuration.DriverName))

	openedSession, sessionErr := session.Open(ctx, launchedBrowser, configuration, logger)
	if sessionErr != nil {
		current.close()
		return nil, fmt.Errorf(wrappedCommandErrorFormat, commandOperationOpenSession, sessionErr)
	}
	current.session = openedSession
	return current, nil
}

func rejectArguments(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}
	return nil
}

func (application *DashprobeApplication) loginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   loginCommandUse,
		Short: loginCommandShort,
		Args:  rejectArguments,
		RunE: func(command *cobra.Command, _ []string) error {
			current, openErr := application.openSession(command.Context())
			if openErr != nil {
				return openErr
			}
			defer current.close()

			landingURL, urlErr := current.session.Page().URL(command.Context())
			if urlErr != nil {
				return fmt.Errorf(wrappedCommandErrorFormat, commandOperationReadLandingURL, urlErr)
			}
			_, writeErr := fmt.Fprintf(command.OutOrStdout(), loginOutputFormat, landingURL)
			return writeErr
		},
	}
}

func (application *DashprobeApplication) probeCommand() *cobra.Command {
	probeOptions := probe.DefaultOptions()
	var dashboardName string
	var container string
	var every time.Duration

	probeCommand := &cobra.Command{
		Use:   probeCommandUse,
		Short: probeCommandShort,
		Args:  rejectArguments,
		RunE: func(command *cobra.Command, _ []string) error {
			if missing := missingProbeFlags(dashboardName, container); len(missing) > 0 {
				_ = command.Usage()
				return fmt.Errorf("%s: %s", missingConfigurationMessage, strings.Join(missing, ", "))
			}
			if optionsErr := probeOptions.Validate(); optionsErr != nil {
				return fmt.Errorf(wrappedCommandErrorFormat, commandOperationNewProber, optionsErr)
			}

			if every <= 0 {
				return application.runProbe(command.Context(), command, dashboardName, container, probeOptions)
			}
			return application.watchProbe(command, every, func(ctx context.Context) error {
				return application.runProbe(ctx, command, dashboardName, container, probeOptions)
			})
		},
	}

	probeFlags := probeCommand.Flags()
	probeFlags.StringVar(&dashboardName, flagNameDashboard, "", flagUsageDashboard)
	probeFlags.StringVar(&container, flagNameContainer, "", flagUsageContainer)
	probeFlags.Float64Var(&probeOptions.Step, flagNameStep, probe.DefaultStep, flagUsageStep)
	probeFlags.IntVar(&probeOptions.ZoomClicks, flagNameZoomClicks, probe.DefaultZoomClicks, flagUsageZoomClicks)
	probeFlags.DurationVar(&every, flagNameEvery, 0, flagUsageEvery)
	return probeCommand
}

// runProbe opens a fresh session, navigates to the dashboard and sweeps the container canvas once.
func (application *DashprobeApplication) runProbe(ctx context.Context, command *cobra.Command, dashboardName string, container string, probeOptions probe.Options) error {
	current, openErr := application.openSession(ctx)
	if openErr != nil {
		return openErr
	}
	defer current.close()

	prober, proberErr := probe.NewProber(probeOptions, current.logger)
	if proberErr != nil {
		return fmt.Errorf(wrappedCommandErrorFormat, commandOperationNewProber, proberErr)
	}

	page := current.session.Page()
	workflows := superset.New(current.configuration, current.logger)
	if openErr := workflows.OpenDashboard(ctx, page, dashboardName); openErr != nil {
		return fmt.Errorf(wrappedCommandErrorFormat, commandOperationOpenDash, openErr)
	}

	result, probeErr := prober.HoverCanvasUntilTooltip(ctx, page, container)
	if probeErr != nil {
		return fmt.Errorf(wrappedCommandErrorFormat, commandOperationProbe, probeErr)
	}
	_, writeErr := fmt.Fprintf(command.OutOrStdout(), probeOutputFormat,
		result.Position.X, result.Position.Y, result.Box.Width, result.Box.Height, result.Attempts)
	return writeErr
}

// watchRerunRequests returns the injected rerun channel or subscribes to the rerun signals until
// the returned stop runs. A nil channel never delivers.
func (application *DashprobeApplication) watchRerunRequests() (<-chan os.Signal, func()) {
	if application.rerunRequests != nil {
		return application.rerunRequests, func() {}
	}
	if len(rerunSignals) == 0 {
		return nil, func() {}
	}
	requests := make(chan os.Signal, 1)
	signal.Notify(requests, rerunSignals...)
	return requests, func() {
		signal.Stop(requests)
	}
}

func forwardRerunRequests(ctx context.Context, requests <-chan os.Signal, scheduler *task.Scheduler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-requests:
			scheduler.Trigger()
		}
	}
}

// watchProbe repeats the probe until the command context ends or the process is interrupted.
// A rerun signal probes immediately. Failed runs are reported and do not stop the loop.
func (application *DashprobeApplication) watchProbe(command *cobra.Command, every time.Duration, probeOnce task.RunnerFunc) error {
	if _, configurationErr := config.Load(application.configurationLoader); configurationErr != nil {
		return fmt.Errorf(wrappedCommandErrorFormat, commandOperationLoadConfig, configurationErr)
	}
	logger, loggerErr := application.logger()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(command.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := task.NewScheduler(every, func(runCtx context.Context) error {
		runErr := probeOnce(runCtx)
		if runErr != nil {
			_, _ = fmt.Fprintf(command.ErrOrStderr(), probeFailureOutputFormat, runErr)
		}
		return runErr
	}, logger)
	rerunRequests, stopRerunRequests := application.watchRerunRequests()
	defer stopRerunRequests()

	scheduler.Start(ctx)
	go forwardRerunRequests(ctx, rerunRequests, scheduler)
	scheduler.Wait()
	scheduler.Stop()

	stats := scheduler.Stats()
	_, writeErr := fmt.Fprintf(command.OutOrStdout(), watchSummaryOutputFormat, stats.Runs, stats.Failures)
	return writeErr
}

func missingProbeFlags(dashboardName string, container string) []string {
	var missing []string
	if strings.TrimSpace(dashboardName) == "" {
		missing = append(missing, flagNameDashboard)
	}
	if strings.TrimSpace(container) == "" {
		missing = append(missing, flagNameContainer)
	}
	return missing
}

func (application *DashprobeApplication) fixtureCommand() *cobra.Command {
	var address string

	fixtureCommand := &cobra.Command{
		Use:   fixtureCommandUse,
		Short: fixtureCommandShort,
		Args:  rejectArguments,
		RunE: func(command *cobra.Command, _ []string) error {
			logger, loggerErr := application.logger()
			if loggerErr != nil {
				return loggerErr
			}
			defer func() {
				_ = logger.Sync()
			}()

			ctx, stop := signal.NotifyContext(command.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serveFixture(ctx, command, address, logger)
		},
	}
	fixtureCommand.Flags().StringVar(&address, flagNameAddress, defaultFixtureAddress, flagUsageAddress)
	return fixtureCommand
}

// serveFixture serves the fixture application until the context ends.
func serveFixture(ctx context.Context, command *cobra.Command, address string, logger *zap.Logger) error {
	server, serverErr := fixtureapp.New(fixtureapp.DefaultOptions(), logger)
	if serverErr != nil {
		return fmt.Errorf(wrappedCommandErrorFormat, commandOperationFixture, serverErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			logger.Warn(commandOperationCloseStore, zap.Error(closeErr))
		}
	}()

	listener, listenErr := net.Listen("tcp", address)
	if listenErr != nil {
		return fmt.Errorf(wrappedCommandErrorFormat, commandOperationListen, listenErr)
	}

	httpServer := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}

	listeningAddress := listener.Addr().String()
	logger.Info(logEventFixtureListening, zap.String(logFieldAddress, listeningAddress))
	if _, writeErr := fmt.Fprintf(command.OutOrStdout(), fixtureOutputFormat, listeningAddress); writeErr != nil {
		_ = listener.Close()
		return writeErr
	}

	serveErrors := make(chan error, 1)
	go func() {
		serveErrors <- httpServer.Serve(listener)
	}()

	select {
	case serveErr := <-serveErrors:
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf(wrappedCommandErrorFormat, commandOperationServe, serveErr)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownContext, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelShutdown()
	if shutdownErr := httpServer.Shutdown(shutdownContext); shutdownErr != nil {
		return fmt.Errorf(wrappedCommandErrorFormat, commandOperationShutdown, shutdownErr)
	}
	logger.Info(logEventFixtureStopped, zap.String(logFieldAddress, listeningAddress))
	return nil
}
