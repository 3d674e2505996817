package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/SteelMorgan/cutthelog/internal/domain"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const shortHashLen = 12

// ListCmd lists cached positions
type ListCmd struct {
	Plain bool `help:"Print one tab separated record per line instead of a table"`
}

// Run executes the list command
func (l *ListCmd) Run(ctx context.Context, globals *Globals) error {
	svc, closeStore, err := globals.openService()
	if err != nil {
		return err
	}
	defer closeStore()

	entries, err := svc.Entries(ctx)
	if err != nil {
		return err
	}

	ids := make([]domain.FileIdentity, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		record := entries[id]
		rows = append(rows, []string{
			id.String(),
			strconv.FormatInt(record.Offset, 10),
			strconv.FormatInt(record.Fingerprint.Length, 10),
			shortHash(record.Fingerprint.Hash, l.Plain),
		})
	}

	if l.Plain {
		for _, row := range rows {
			fmt.Fprintf(globals.Stdout, "%s\t%s\t%s\t%s\n", row[0], row[1], row[2], row[3])
		}
		return nil
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintf(globals.Stdout, "No cached positions in %s\n", globals.Config.CacheFile)
		return err
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(globals.Stdout)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"File", "Offset", "Line bytes", "Line hash"})
	for _, row := range rows {
		tw.AppendRow(table.Row{row[0], row[1], row[2], row[3]})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	tw.Render()
	return nil
}

func shortHash(hash string, full bool) string {
	switch {
	case hash == "":
		return "-"
	case full || len(hash) <= shortHashLen:
		return hash
	default:
		return hash[:shortHashLen]
	}
}
