package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"skiff/internal/agent"
	"skiff/internal/chatapi"
	"skiff/internal/config"
	"skiff/internal/session"
)

func newLogger(dataDir, level string) (zerolog.Logger, io.Closer, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return zerolog.Nop(), nil, err
	}
	f, err := os.OpenFile(filepath.Join(dataDir, "skiff.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(f).Level(lvl).With().Timestamp().Logger()
	return logger, f, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "skiff: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory for the session store and log file")
	flag.StringVar(&cfg.AgentBinary, "agent-binary", cfg.AgentBinary, "Helper binary to supervise")
	flag.IntVar(&cfg.GatewayPort, "gateway-port", cfg.GatewayPort, "Loopback port for the helper gateway")
	flag.BoolVar(&cfg.AgentAutoStart, "agent-autostart", cfg.AgentAutoStart, "Start the helper on launch")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	altScreen := flag.Bool("alt-screen", true, "Use the terminal alternate screen")
	flag.Parse()

	logger, closeLog, err := newLogger(cfg.DataDir, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skiff: open log: %v\n", err)
		os.Exit(1)
	}
	defer closeLog.Close()

	api := chatapi.NewClient(cfg.APIBaseURL, logger)
	store := session.NewStore(cfg.DataDir)
	runner := agent.NewRunner(cfg.AgentBinary, logger)

	m := newModel(cfg, api, store, runner, logger)
	p := tea.NewProgram(m, tea.WithMouseCellMotion())
	if *altScreen {
		p = tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	}
	if _, err := p.Run(); err != nil {
		runner.Shutdown()
		fmt.Fprintf(os.Stderr, "skiff fatal error: %v\n", err)
		os.Exit(1)
	}
	runner.Shutdown()
}
