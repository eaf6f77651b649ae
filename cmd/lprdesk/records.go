package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/verte-zerg/lprdesk/internal/model"
	"github.com/verte-zerg/lprdesk/internal/store"
)

const maxListText = 24

var recordsExportOut string

func newRecordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect and edit saved recognition records",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved records",
		Args:  cobra.NoArgs,
		RunE:  runRecordsListCmd,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "move <n> <up|down>",
		Short: "Swap a record with its neighbour",
		Args:  cobra.ExactArgs(2),
		RunE:  runRecordsMoveCmd,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <n>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(1),
		RunE:  runRecordsDeleteCmd,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "edit <n> <text>",
		Short: "Replace the plate text of a record",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runRecordsEditCmd,
	})
	export := &cobra.Command{
		Use:   "export",
		Short: "Write records as JSON",
		Args:  cobra.NoArgs,
		RunE:  runRecordsExportCmd,
	}
	export.Flags().StringVarP(&recordsExportOut, "out", "o", "", "output file (default: stdout)")
	cmd.AddCommand(export)
	return cmd
}

// withRecords opens the record store for the duration of fn.
func withRecords(cmd *cobra.Command, fn func(context.Context, *store.RecordStore) error) error {
	settings, err := setupCLI(cmd)
	if err != nil {
		return err
	}
	slot, err := openSlot(settings)
	if err != nil {
		return err
	}
	defer closeSlot(slot)
	return fn(cmd.Context(), store.NewRecordStore(slot))
}

func runRecordsListCmd(cmd *cobra.Command, _ []string) error {
	return withRecords(cmd, func(ctx context.Context, rs *store.RecordStore) error {
		records, err := rs.Load(ctx)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			logErrln("No records saved yet.")
			return nil
		}
		return writeRecordList(cmd.OutOrStdout(), records)
	})
}

func writeRecordList(w io.Writer, records []model.Record) error {
	textWidth := runewidth.StringWidth("plate")
	for _, rec := range records {
		textWidth = max(textWidth, runewidth.StringWidth(runewidth.Truncate(rec.Text, maxListText, "…")))
	}
	indexWidth := len(strconv.Itoa(len(records)))

	bw := bufio.NewWriter(w)
	header := fmt.Sprintf("%*s  %s  %s  %s", indexWidth, "#", runewidth.FillRight("plate", textWidth),
		runewidth.FillRight("time", len(records[0].Time)), "image")
	if _, err := fmt.Fprintln(bw, strings.TrimRight(header, " ")); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	for i, rec := range records {
		text := runewidth.FillRight(runewidth.Truncate(rec.Text, maxListText, "…"), textWidth)
		image := "none"
		if rec.DisplayImage() != "" {
			image = "yes"
		}
		if _, err := fmt.Fprintf(bw, "%*d  %s  %s  %s\n", indexWidth, i+1, text, rec.Time, image); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func runRecordsMoveCmd(cmd *cobra.Command, args []string) error {
	index, err := parseRecordIndex(args[0])
	if err != nil {
		return err
	}
	direction, err := parseDirection(args[1])
	if err != nil {
		return err
	}
	return withRecords(cmd, func(ctx context.Context, rs *store.RecordStore) error {
		moved, err := rs.Move(ctx, index, direction)
		if err != nil {
			return err
		}
		if !moved {
			logErrf("Record %d is already at the edge; nothing moved.\n", index+1)
		}
		return nil
	})
}

func runRecordsDeleteCmd(cmd *cobra.Command, args []string) error {
	index, err := parseRecordIndex(args[0])
	if err != nil {
		return err
	}
	return withRecords(cmd, func(ctx context.Context, rs *store.RecordStore) error {
		return rs.Delete(ctx, index)
	})
}

func runRecordsEditCmd(cmd *cobra.Command, args []string) error {
	index, err := parseRecordIndex(args[0])
	if err != nil {
		return err
	}
	text := strings.Join(args[1:], " ")
	return withRecords(cmd, func(ctx context.Context, rs *store.RecordStore) error {
		return rs.Edit(ctx, index, text)
	})
}

func runRecordsExportCmd(cmd *cobra.Command, _ []string) error {
	return withRecords(cmd, func(ctx context.Context, rs *store.RecordStore) error {
		if recordsExportOut == "" {
			return rs.Export(ctx, cmd.OutOrStdout())
		}
		if err := os.MkdirAll(filepath.Dir(recordsExportOut), 0o755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
		f, err := os.Create(recordsExportOut)
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		if err := rs.Export(ctx, f); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write export file: %w", err)
		}
		logErrf("Wrote %s\n", recordsExportOut)
		return nil
	})
}

// parseRecordIndex converts a 1-based CLI position to a store index.
func parseRecordIndex(arg string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("record number must be a positive integer, got %q", arg)
	}
	return n - 1, nil
}

func parseDirection(arg string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "up", "-1":
		return -1, nil
	case "down", "+1", "1":
		return 1, nil
	default:
		return 0, fmt.Errorf("direction must be up or down, got %q", arg)
	}
}
