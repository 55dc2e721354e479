package db

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// TailCLI prints the newest journal entries for the debug CLI.
func TailCLI(dbPath string, limit int, w io.Writer) error {
	j, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer j.Close()

	readings, err := j.RecentReadings(limit)
	if err != nil {
		return err
	}
	events, err := j.RecentEvents(limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "READINGS")
	fmt.Fprintln(tw, "TIME\tREADING\tDELIVERED")
	for _, r := range readings {
		fmt.Fprintf(tw, "%s\t%s\t%t\n", r.Time.Local().Format(time.DateTime), r.Reading, r.Delivered)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "DEVICE EVENTS")
	fmt.Fprintln(tw, "TIME\tDEVICE\tEVENT\tID")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Time.Local().Format(time.DateTime), e.Name, e.Event, e.ID)
	}
	return tw.Flush()
}
