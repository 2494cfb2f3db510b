package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Tiliavir/work-hours-tracker/internal/model"
	"github.com/Tiliavir/work-hours-tracker/internal/remote"
	"github.com/Tiliavir/work-hours-tracker/internal/timecalc"
)

// entryFlags are shared by add and edit.
type entryFlags struct {
	date      string
	start     string
	end       string
	rate      float64
	withdrawn float64
	notes     string
}

func (f *entryFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.date, "date", "", `Work date (YYYY-MM-DD, "today", "yesterday", "last friday"...)`)
	fs.StringVar(&f.start, "start", "", "Start time (HH:MM)")
	fs.StringVar(&f.end, "end", "", "End time (HH:MM); earlier than start means the next day")
	fs.Float64Var(&f.rate, "rate", 0, "Hourly rate")
	fs.Float64Var(&f.withdrawn, "withdrawn", 0, "Amount already withdrawn")
	fs.StringVar(&f.notes, "notes", "", "Free-form notes")
}

// apply overwrites the fields of in whose flags were set on the command line.
func (f *entryFlags) apply(fs *pflag.FlagSet, in *model.EntryInput, now time.Time) error {
	if fs.Changed("date") {
		d, err := timecalc.ParseDate(f.date, now)
		if err != nil {
			return err
		}
		in.Date = d
	}
	if fs.Changed("start") {
		in.StartTime = f.start
	}
	if fs.Changed("end") {
		in.EndTime = f.end
	}
	if fs.Changed("rate") {
		in.HourlyRate = f.rate
	}
	if fs.Changed("withdrawn") {
		in.WithdrawnAmount = f.withdrawn
	}
	if fs.Changed("notes") {
		in.Notes = f.notes
	}
	return nil
}

var (
	addFlags  entryFlags
	editFlags entryFlags
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Log a work session",
	Args:  cobra.NoArgs,
	RunE:  runAdd,
}

var editCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change a logged work session; omitted flags keep their values",
	Args:  cobra.ExactArgs(1),
	RunE:  runEdit,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a logged work session",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	addFlags.register(addCmd.Flags())
	_ = addCmd.MarkFlagRequired("start")
	_ = addCmd.MarkFlagRequired("end")
	editFlags.register(editCmd.Flags())
}

func runAdd(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.close()
	a.resume(cmd.Context())

	now := time.Now()
	in := model.EntryInput{
		Date:       now.Format(timecalc.DateLayout),
		HourlyRate: a.cfg.Defaults.HourlyRate,
	}
	if err := addFlags.apply(cmd.Flags(), &in, now); err != nil {
		return err
	}

	ctx, cancel := a.remoteContext(cmd.Context())
	defer cancel()
	e, err := a.engine.Add(ctx, in)
	if err != nil {
		return err
	}
	fmt.Printf("Logged %s h on %s (%s–%s), earned %s  [%s]\n",
		timecalc.FormatHours(e.Hours), e.Date, e.StartTime, e.EndTime,
		timecalc.FormatMoney(a.cfg.Defaults.Currency, e.TotalEarnings), e.ID)
	return nil
}

func runEdit(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.close()
	a.resume(cmd.Context())

	id := args[0]
	current, ok := a.engine.Get(id)
	if !ok {
		return fmt.Errorf("no entry with id %q", id)
	}
	in := current.Input()
	if err := editFlags.apply(cmd.Flags(), &in, time.Now()); err != nil {
		return err
	}

	ctx, cancel := a.remoteContext(cmd.Context())
	defer cancel()
	e, err := a.engine.Edit(ctx, id, in)
	if errors.Is(err, remote.ErrNotFound) {
		// The local change is kept even when the cloud copy is gone.
		fmt.Printf("Updated %s locally; it no longer exists in the cloud.\n", e.ID)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Updated %s: %s h, earned %s, remaining %s\n", e.ID,
		timecalc.FormatHours(e.Hours),
		timecalc.FormatMoney(a.cfg.Defaults.Currency, e.TotalEarnings),
		timecalc.FormatMoney(a.cfg.Defaults.Currency, e.RemainingAmount))
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.close()
	a.resume(cmd.Context())

	ctx, cancel := a.remoteContext(cmd.Context())
	defer cancel()
	err := a.engine.Delete(ctx, args[0])
	if errors.Is(err, remote.ErrNotFound) {
		fmt.Printf("Deleted %s locally; it was already gone from the cloud.\n", args[0])
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}
