package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/work-hours-tracker/internal/session"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Control cloud sync",
}

var syncEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Reconcile with the cloud and mirror every change from now on",
	Args:  cobra.NoArgs,
	RunE:  runSyncEnable,
}

var syncDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Stop mirroring changes to the cloud",
	Args:  cobra.NoArgs,
	RunE:  runSyncDisable,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show login and sync state",
	Args:  cobra.NoArgs,
	RunE:  runSyncStatus,
}

var syncWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the live subscription open and re-render the table on every change",
	Args:  cobra.NoArgs,
	RunE:  runSyncWatch,
}

func init() {
	syncCmd.AddCommand(syncEnableCmd)
	syncCmd.AddCommand(syncDisableCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncWatchCmd)
}

func runSyncEnable(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.close()
	a.resume(cmd.Context())

	ctx, cancel := a.remoteContext(cmd.Context())
	defer cancel()
	if err := a.session.EnableSync(ctx); err != nil {
		return err
	}
	fmt.Printf("Cloud sync enabled (%d entries).\n", len(a.engine.Entries()))
	return nil
}

func runSyncDisable(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.close()

	// Only the saved preference changes; no subscription is opened.
	creds := session.NewCredentialStore(a.base)
	saved, err := creds.Load()
	if err != nil {
		return err
	}
	if saved == nil {
		return session.ErrNotLoggedIn
	}
	if saved.SyncEnabled {
		saved.SyncEnabled = false
		saved.SavedAt = time.Now()
		if err := creds.Save(*saved); err != nil {
			return err
		}
	}
	fmt.Println("Cloud sync disabled.")
	return nil
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.close()

	saved, err := session.NewCredentialStore(a.base).Load()
	if err != nil {
		return err
	}
	if saved == nil {
		fmt.Println("Logged out.")
		return nil
	}
	state := "disabled"
	if saved.SyncEnabled {
		state = "enabled"
	}
	fmt.Printf("Logged in as %s (user %s)\n", saved.Email, saved.UserID)
	fmt.Printf("  Sync: %s\n", state)
	fmt.Printf("  Server: %s\n", a.cfg.Remote.URL)
	fmt.Printf("  Local entries: %d\n", len(a.engine.Entries()))
	return nil
}

func runSyncWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := openApp()
	defer a.close()
	a.resume(ctx)
	if a.session.State() != session.LoggedInSyncEnabled {
		fmt.Fprintln(os.Stderr, "Warning: cloud sync is not enabled; watching local changes only")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(a.base); err != nil {
		return fmt.Errorf("watching %s: %w", a.base, err)
	}

	render := func() {
		fmt.Print("\033[H\033[2J")
		fmt.Printf("wht – %s – %s (Ctrl-C to stop)\n\n", a.session.State(), time.Now().Format("15:04:05"))
		printList(os.Stdout, a.engine.Entries(), a.cfg.Defaults.Currency)
	}
	render()

	// Debounce bursts of writes (temp file + rename) into one render.
	var pending <-chan time.Time
	feedDone := a.session.FeedDone()
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case <-feedDone:
			feedDone = nil
			render()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isDataFile(ev.Name) || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(100 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "Warning: watch error: %v\n", err)
		case <-pending:
			pending = nil
			a.engine.Load()
			render()
		}
	}
}

// isDataFile reports whether a change to name can affect the entry collection.
func isDataFile(name string) bool {
	switch filepath.Ext(name) {
	case ".json", ".db", ".db-wal":
		return filepath.Base(name) != "config.json"
	}
	return false
}
