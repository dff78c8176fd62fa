package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/presence-relay/internal/broadcast"
	"github.com/Tyrowin/presence-relay/internal/logging"
	"github.com/Tyrowin/presence-relay/internal/server"
	"github.com/Tyrowin/presence-relay/internal/socketio"
)

func main() {
	host := flag.String("host", "", "Override the listen host (HOST)")
	port := flag.Int("port", 0, "Override the listen port (PORT)")
	origins := flag.String("origins", "", "Override the comma-separated allowed origins (ALLOWED_ORIGINS)")
	logLevel := flag.String("loglevel", "", "Set the logging level: trace, debug, info, warn, error (LOG_LEVEL)")
	flag.Parse()

	cfg, err := server.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = *host
		case "port":
			cfg.Port = *port
		case "origins":
			cfg.AllowedOrigins = strings.Split(*origins, ",")
		case "loglevel":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "logging setup error: %v\n", err)
		os.Exit(1)
	}

	engine := broadcast.NewEngine(logrus.StandardLogger())
	hub := server.NewHub(engine, *cfg)
	server.StartHub(hub)

	var (
		adapter       *socketio.Adapter
		socketHandler http.Handler
	)
	if cfg.SocketIO.Enabled {
		adapter = socketio.New(engine, socketio.Options{
			Path:           cfg.SocketIO.Path,
			MaxMessageSize: cfg.MaxMessageSize,
			AllowedOrigins: cfg.AllowedOrigins,
		})
		socketHandler = adapter.Handler()
		logrus.WithField("path", cfg.SocketIO.Path).Info("socket.io endpoint enabled")
	}

	router := server.SetupRoutes(hub, socketHandler)
	httpServer := server.CreateServer(cfg, router)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case err := <-serverErr:
		if err != nil {
			logrus.WithError(err).Error("server stopped")
		}
	case sig := <-quit:
		logrus.WithField("signal", sig.String()).Info("shutting down")
	}

	exitCode := 0
	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout); err != nil {
		exitCode = 1
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		logrus.WithError(err).Warn("hub shutdown incomplete")
		exitCode = 1
	}
	if adapter != nil {
		adapter.Close()
	}
	os.Exit(exitCode)
}
