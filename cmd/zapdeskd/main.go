package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/zapdesk/zapdesk/internal/config"
	"github.com/zapdesk/zapdesk/internal/daemon"
	"github.com/zapdesk/zapdesk/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	cfg := config.LoadOrDefault(session.ConfigPath())

	sessionName := *sessionFlag
	if sessionName == "" {
		sessionName = cfg.Session
	}
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName, Config: cfg}),
	)

	app.Run()
}
