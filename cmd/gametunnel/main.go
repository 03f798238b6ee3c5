package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gametunnel/gametunnel-go/jsoncfg"
	"github.com/gametunnel/gametunnel-go/service"
	"github.com/gametunnel/gametunnel-go/tslog"
)

var (
	testConf   bool
	confPath   string
	logNoColor bool
	logNoTime  bool
	logKind    string
	zapConf    string
	logLevel   slog.Level
)

func init() {
	flag.BoolVar(&testConf, "testConf", false, "Test the configuration file without starting the services")
	flag.StringVar(&confPath, "confPath", "", "Path to JSON configuration file")
	flag.BoolVar(&logNoColor, "logNoColor", false, "Disable color output")
	flag.BoolVar(&logNoTime, "logNoTime", false, "Disable timestamps")
	flag.StringVar(&logKind, "logKind", "tint", "Log output format.\nAvailable kinds: tint, text, json, zap")
	flag.StringVar(&zapConf, "zapConf", "", "Preset name or path to JSON configuration file for building the zap logger. Only used with -logKind zap.\nAvailable presets: console (default), console-nocolor, console-notime, systemd, production, development")
	flag.TextVar(&logLevel, "logLevel", slog.LevelInfo, "Log level.\nAvailable levels: debug, info, warn, error")
}

func main() {
	flag.Parse()

	if confPath == "" {
		fmt.Fprintln(os.Stderr, "Missing -confPath <path>.")
		flag.Usage()
		os.Exit(1)
	}

	logCfg := tslog.Config{
		Level:     logLevel,
		Kind:      logKind,
		NoColor:   logNoColor,
		NoTime:    logNoTime,
		ZapPreset: zapConf,
	}

	logger, err := logCfg.NewLogger(os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to create logger:", err)
		os.Exit(1)
	}

	var sc service.Config
	if err = jsoncfg.Open(confPath, &sc); err != nil {
		logger.Error("Failed to load config",
			slog.String("confPath", confPath),
			tslog.Err(err),
		)
		os.Exit(1)
	}

	m, err := sc.Manager(logger)
	if err != nil {
		logger.Error("Failed to create service manager",
			slog.String("confPath", confPath),
			tslog.Err(err),
		)
		os.Exit(1)
	}

	if testConf {
		logger.Info("Config test OK", slog.String("confPath", confPath))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = m.Start(ctx); err != nil {
		logger.Error("Failed to start services",
			slog.String("confPath", confPath),
			tslog.Err(err),
		)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Received exit signal")
	m.Stop()
}
