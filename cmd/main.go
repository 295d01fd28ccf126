package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/deepgram/agentdeck/internal/agents"
	"github.com/deepgram/agentdeck/internal/api/v1/handlers"
	v1mware "github.com/deepgram/agentdeck/internal/api/v1/middleware"
	"github.com/deepgram/agentdeck/internal/config"
	"github.com/deepgram/agentdeck/internal/services"
	"github.com/deepgram/agentdeck/pkg/logger"
)

type options struct {
	agentsFile    string
	addr          string
	dashboardFile string
	logLevel      string
	watch         bool
}

func main() {
	// .env is optional; real environment variables win
	envErr := godotenv.Load()

	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger.Setup(opts.logLevel, config.GetLogPretty())
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		log.Warn().Err(envErr).Msg("Failed to load .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatal().Err(err).Msg("Server stopped with an error")
	}
}

func parseFlags(args []string) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("agentdeck", pflag.ContinueOnError)
	fs.StringVar(&opts.agentsFile, "agents", config.GetAgentsFile(), "agent registry file (.json, .yaml, .yml or .toml)")
	fs.StringVar(&opts.addr, "addr", config.GetHTTPAddr(), "listen address (default :<registry port or 3000>)")
	fs.StringVar(&opts.dashboardFile, "dashboard", config.GetDashboardFile(), "dashboard HTML page")
	fs.StringVar(&opts.logLevel, "log-level", config.GetLogLevel(), "log level: trace, debug, info, warn, error")
	fs.BoolVar(&opts.watch, "watch", config.GetWatchAgents(), "reload the registry file when it changes")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

// listenAddr prefers an explicit address, then the port recorded in the
// registry file, then the default port.
func listenAddr(explicit string, registryPort int) string {
	if explicit != "" {
		return explicit
	}
	if registryPort > 0 {
		return ":" + strconv.Itoa(registryPort)
	}
	return ":" + strconv.Itoa(config.DefaultServerPort)
}

func setupRouter(svc *services.Services, dashboardFile string) http.Handler {
	r := mux.NewRouter()
	handlers.RegisterRoutes(r, svc, dashboardFile)

	// CORS sits outside the router so preflight works for every path
	return v1mware.RequestLogging(log.Logger)(v1mware.CORS(r))
}

func run(ctx context.Context, opts options) error {
	registry, err := agents.Load(opts.agentsFile, agents.Defaults{
		Port:  config.GetDefaultAgentPort(),
		Color: config.DefaultAgentColor,
	})
	if err != nil {
		return fmt.Errorf("load agent registry: %w", err)
	}

	svc, err := services.InitializeServices(ctx, registry)
	if err != nil {
		return err
	}

	if opts.watch {
		go func() {
			if err := registry.Watch(ctx); err != nil {
				log.Warn().Err(err).Msg("Agent registry watch stopped")
			}
		}()
	}

	server := &http.Server{
		Addr:              listenAddr(opts.addr, registry.Port()),
		Handler:           setupRouter(svc, opts.dashboardFile),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	printBanner(server.Addr, registry.List())

	select {
	case err := <-errCh:
		svc.Close(context.Background())
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", config.ShutdownTimeout).Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	// streams are cancelled first, otherwise Shutdown waits on them;
	// buffered chats drain and still reach the store
	svc.CancelStreams()
	err = server.Shutdown(shutdownCtx)
	svc.Close(shutdownCtx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}

func printBanner(addr string, list []agents.Agent) {
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}

	names := make([]string, len(list))
	for i, a := range list {
		names[i] = fmt.Sprintf("%s (%s)", a.DisplayName(), a.Addr())
	}

	l := logger.For(logger.APP)
	l.Info().Str("url", "http://"+host).Msg("Agent dashboard running")
	l.Info().Int("count", len(list)).Str("agents", strings.Join(names, ", ")).Msg("Agents")
}
