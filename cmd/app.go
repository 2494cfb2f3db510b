package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/Tiliavir/work-hours-tracker/internal/config"
	"github.com/Tiliavir/work-hours-tracker/internal/reconcile"
	"github.com/Tiliavir/work-hours-tracker/internal/remote"
	"github.com/Tiliavir/work-hours-tracker/internal/session"
	"github.com/Tiliavir/work-hours-tracker/internal/status"
	"github.com/Tiliavir/work-hours-tracker/internal/storage"
)

// app bundles everything a command needs: config, the local store, the
// engine on top of it and the cloud session.
type app struct {
	base     string
	cfg      config.Config
	local    *storage.Local
	engine   *reconcile.Engine
	notifier *status.Notifier
	client   *remote.Client
	session  *session.Session
}

// openApp loads config and local data. Infrastructure failures print and exit
// with code 2.
func openApp() *app {
	base, err := storage.BaseDir()
	if err != nil {
		fail(err)
	}
	cfg, err := config.Load(base)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	slot, err := storage.OpenSlot(cfg.Storage.Backend, base, cfg.Storage.QuotaBytes)
	if err != nil {
		fail(err)
	}
	local := storage.NewLocal(slot, storage.Options{
		Key:           cfg.Storage.Slot,
		FallbackLimit: cfg.Storage.FallbackLimit,
		Logger:        slog.Default(),
	})

	notifier := status.NewNotifier(cfg.Status.ClearAfter(), printStatus)
	engine := reconcile.NewEngine(local, reconcile.Options{Status: notifier, Logger: slog.Default()})
	engine.Load()

	client := remote.NewClient(cfg.Remote.URL, cfg.Remote.Collection)
	sess := session.New(client, engine, session.Options{
		Credentials: session.NewCredentialStore(base),
		Status:      notifier,
		Logger:      slog.Default(),
		OnTransition: func(from, to session.State) {
			slog.Debug("session", "from", from.String(), "to", to.String())
		},
	})

	return &app{
		base:     base,
		cfg:      cfg,
		local:    local,
		engine:   engine,
		notifier: notifier,
		client:   client,
		session:  sess,
	}
}

// resume restores the saved login so mutations are mirrored while sync is
// enabled. Failing to reach the cloud only warns.
func (a *app) resume(ctx context.Context) {
	ctx, cancel := a.remoteContext(ctx)
	defer cancel()
	if err := a.session.Resume(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cloud sync unavailable: %v\n", err)
	}
}

// remoteContext bounds a command's network calls by the configured timeout.
func (a *app) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.cfg.Remote.Timeout())
}

func (a *app) close() {
	a.session.Close()
	a.notifier.Stop()
	if err := a.local.Close(); err != nil {
		slog.Warn("closing local store", "error", err)
	}
}

var (
	styleInfo    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	styleSyncing = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleWarning = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// printStatus renders a notification on stderr.
func printStatus(st status.Status) {
	style := styleInfo
	switch st.Severity {
	case status.Syncing:
		style = styleSyncing
	case status.Success:
		style = styleSuccess
	case status.Warning:
		style = styleWarning
	case status.Error:
		style = styleError
	}
	fmt.Fprintln(os.Stderr, style.Render(st.Message))
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(2)
}
