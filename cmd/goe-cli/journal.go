package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joshp123/goe-bridge/internal/journal"
)

func journalCmd(args []string) {
	flags := flag.NewFlagSet("journal", flag.ExitOnError)
	jsonOut := flags.Bool("json", false, "output JSON")
	tail := flags.Int("tail", 0, "only show the last N entries")
	_ = flags.Parse(args)
	out := outputMode{json: *jsonOut}

	if flags.NArg() < 1 {
		fatal("journal", fmt.Errorf("missing journal file"))
	}
	f, err := os.Open(flags.Arg(0))
	if err != nil {
		fatal("open journal", err)
	}
	defer f.Close()

	entries, err := journal.ReadAll(f)
	if err != nil {
		fatal("read journal", err)
	}
	entries = lastEntries(entries, *tail)

	if out.json {
		out.printJSON(entries)
		return
	}
	out.table(journalRows(entries))
}

func lastEntries(entries []journal.Entry, n int) []journal.Entry {
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[len(entries)-n:]
}

func journalRows(entries []journal.Entry) [][]string {
	rows := [][]string{{"TIME", "OUTCOME", "INDEX", "POWER", "STATUS", "DURATION", "ERROR"}}
	for _, e := range entries {
		rows = append(rows, []string{
			e.Time.Local().Format(time.DateTime),
			e.Outcome,
			strconv.Itoa(e.UpdateIndex),
			strconv.Itoa(e.PowerW),
			strconv.Itoa(e.Status),
			(time.Duration(e.DurationUS) * time.Microsecond).String(),
			e.Error,
		})
	}
	return rows
}
