package main

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/scrapflow/internal/config"
	"github.com/hpungsan/scrapflow/internal/errors"
	"github.com/hpungsan/scrapflow/internal/ocr"
	"github.com/hpungsan/scrapflow/internal/ops"
	"github.com/hpungsan/scrapflow/internal/scrap"
	"github.com/hpungsan/scrapflow/internal/web"
)

// maxStdinBytes caps text piped into set-text.
const maxStdinBytes = 1 << 20

// recognizer is the part of *ocr.Worker the commands use.
type recognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
	Status() ocr.Status
}

// opsRecognizer converts the optional worker to the ops interface, keeping nil nil.
func opsRecognizer(r recognizer) ops.Recognizer {
	if r == nil {
		return nil
	}
	return r
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(db *sql.DB, cfg *config.Config, worker recognizer) *cli.App {
	app := &cli.App{
		Name:    "scrapflow",
		Usage:   "Local scrap store with text recognition",
		Version: Version,
		Commands: []*cli.Command{
			listCmd(db),
			getCmd(db),
			saveCmd(db, worker),
			deleteCmd(db),
			categoriesCmd(db),
			categoryCmd(db),
			setTextCmd(db),
			missingCmd(db),
			recognizeCmd(worker),
			extractCmd(db, worker),
			backfillCmd(db, worker),
			statsCmd(db),
			refreshCountsCmd(db),
			exportCmd(db, cfg),
			importCmd(db, cfg),
			ocrStatusCmd(worker),
			uiCmd(db, cfg, worker),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// listCmd creates the list command.
func listCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List scraps, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Usage: `Category name ("All" for every category)`},
			&cli.StringFlag{Name: "range", Aliases: []string{"r"}, Usage: "Date range: today|week|month"},
			&cli.StringFlag{Name: "search", Aliases: []string{"s"}, Usage: "Match comment or extracted text"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum items to return (0 = all)"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "Output format: json|text"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.List(c.Context, db, ops.ListInput{
				Category:  c.String("category"),
				DateRange: c.String("range"),
				Search:    c.String("search"),
				Limit:     c.Int("limit"),
				Offset:    c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}

			switch c.String("format") {
			case "json":
				return outputJSON(c.App.Writer, output)
			case "text":
				return outputScrapTable(c.App.Writer, output.Items, time.Now())
			default:
				return outputError(errors.NewInvalidRequest("format must be json or text"))
			}
		},
	}
}

// getCmd creates the get command.
func getCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one scrap",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			output, err := ops.Get(c.Context, db, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// saveCmd creates the save command.
func saveCmd(db *sql.DB, worker recognizer) *cli.Command {
	return &cli.Command{
		Name:  "save",
		Usage: "Save a captured image as a scrap, recognizing its text",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "image", Aliases: []string{"i"}, Required: true, Usage: "Path of the captured image"},
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Required: true, Usage: "Category name"},
			&cli.StringFlag{Name: "comment", Usage: "Optional note"},
			&cli.StringFlag{Name: "source-url", Usage: "Where the capture came from"},
			&cli.StringFlag{Name: "text", Usage: "Extracted text, skips recognition"},
			&cli.BoolFlag{Name: "no-recognize", Usage: "Save without running recognition"},
		},
		Action: func(c *cli.Context) error {
			input := ops.SaveInput{
				ImagePath: c.String("image"),
				Category:  c.String("category"),
			}
			if c.IsSet("comment") {
				comment := c.String("comment")
				input.Comment = &comment
			}
			if c.IsSet("source-url") {
				source := c.String("source-url")
				input.SourceURL = &source
			}
			if c.IsSet("text") {
				text := c.String("text")
				input.ExtractedText = &text
			}

			var (
				output *scrap.Scrap
				err    error
			)
			if c.Bool("no-recognize") || worker == nil {
				output, err = ops.Save(c.Context, db, input)
			} else {
				output, err = ops.Capture(c.Context, db, worker, input)
			}
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a scrap (the image file is kept)",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			output, err := ops.Delete(c.Context, db, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// categoriesCmd creates the categories command.
func categoriesCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "categories",
		Usage: "List categories with live counts",
		Action: func(c *cli.Context) error {
			output, err := ops.ListCategories(c.Context, db)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// categoryCmd creates the category command.
func categoryCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "category",
		Usage: "Create a category or change its color",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Category name"},
			&cli.StringFlag{Name: "color", Required: true, Usage: `Display color, e.g. "#3B82F6"`},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.UpsertCategory(c.Context, db, ops.CategoryInput{
				Name:  c.String("name"),
				Color: c.String("color"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// setTextCmd creates the set-text command.
func setTextCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "set-text",
		Usage:     "Replace the extracted text of a scrap (--text or stdin; empty clears)",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "text", Aliases: []string{"t"}, Usage: "New text"},
		},
		Action: func(c *cli.Context) error {
			text := c.String("text")
			if !c.IsSet("text") {
				if !stdinHasData() {
					return outputError(errors.NewInvalidRequest("pass --text or pipe the text via stdin"))
				}
				var err error
				text, err = readStdin()
				if err != nil {
					return outputError(err)
				}
			}

			output, err := ops.SetText(c.Context, db, c.Args().First(), text)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// missingCmd creates the missing command.
func missingCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "missing",
		Usage: "List scraps without extracted text",
		Action: func(c *cli.Context) error {
			output, err := ops.ListMissingText(c.Context, db)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// recognizeCmd creates the recognize command.
func recognizeCmd(worker recognizer) *cli.Command {
	return &cli.Command{
		Name:      "recognize",
		Usage:     "Recognize the text in an image file without saving anything",
		ArgsUsage: "<image-path>",
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return outputError(errors.NewInvalidRequest("image path is required"))
			}
			if worker == nil {
				return outputError(errors.NewRecognitionUnavailable(nil))
			}
			if _, err := os.Stat(path); err != nil {
				return outputError(errors.NewFileNotFound(path))
			}

			text, err := worker.Recognize(c.Context, path)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, map[string]any{
				"image_path": path,
				"text":       text,
			})
		},
	}
}

// extractCmd creates the extract command.
func extractCmd(db *sql.DB, worker recognizer) *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "Recognize and store the text of one saved scrap",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			output, err := ops.Extract(c.Context, db, opsRecognizer(worker), c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// backfillCmd creates the backfill command.
func backfillCmd(db *sql.DB, worker recognizer) *cli.Command {
	return &cli.Command{
		Name:  "backfill",
		Usage: "Recognize text for every scrap that has none (progress on stderr)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Do not print progress"},
		},
		Action: func(c *cli.Context) error {
			var progress ops.ProgressFunc
			if !c.Bool("quiet") {
				progress = func(p ops.BackfillProgress) {
					fmt.Fprintf(c.App.ErrWriter, "[%d/%d] %s\n", p.Processed, p.Total, p.CurrentID)
				}
			}

			output, err := ops.Backfill(c.Context, db, opsRecognizer(worker), progress)
			if err != nil {
				if stderrors.Is(err, context.Canceled) && output != nil {
					_ = outputJSON(c.App.Writer, output)
					return outputError(errors.NewCancelled("backfill"))
				}
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// statsCmd creates the stats command.
func statsCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Totals, period counts, a per-day histogram and the newest scraps",
		Action: func(c *cli.Context) error {
			output, err := ops.Stats(c.Context, db)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// refreshCountsCmd creates the refresh-counts command.
func refreshCountsCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "refresh-counts",
		Usage: "Re-derive every stored category count from the scraps",
		Action: func(c *cli.Context) error {
			output, err := ops.RefreshCounts(c.Context, db)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export categories and scraps to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.scrapflow/exports/scraps-<timestamp>.jsonl)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, db, cfg, ops.ExportInput{Path: c.String("path")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// importCmd creates the import command.
func importCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import categories and scraps from a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Import file path"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "error", Usage: "Collision mode: error|skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Import(c.Context, db, cfg, ops.ImportInput{
				Path: c.String("path"),
				Mode: ops.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}
			if err := outputJSON(c.App.Writer, output); err != nil {
				return err
			}
			if len(output.Errors) > 0 && output.Imported == 0 && output.Skipped == 0 {
				return cli.Exit("import aborted, nothing was written", 1)
			}
			return nil
		},
	}
}

// ocrStatusCmd creates the ocr-status command.
func ocrStatusCmd(worker recognizer) *cli.Command {
	return &cli.Command{
		Name:  "ocr-status",
		Usage: "Show the text recognition worker state",
		Action: func(c *cli.Context) error {
			if worker == nil {
				return outputError(errors.NewRecognitionUnavailable(nil))
			}
			return outputJSON(c.App.Writer, worker.Status())
		},
	}
}

// uiCmd creates the ui command.
func uiCmd(db *sql.DB, cfg *config.Config, worker recognizer) *cli.Command {
	return &cli.Command{
		Name:  "ui",
		Usage: "Serve the local scrap viewer",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Address to bind (default from config, 127.0.0.1)"},
			&cli.IntFlag{Name: "port", Usage: "Port to listen on (default from config)"},
		},
		Action: func(c *cli.Context) error {
			webCfg := *cfg
			if c.IsSet("bind") {
				webCfg.WebBind = c.String("bind")
			}
			if c.IsSet("port") {
				webCfg.WebPort = c.Int("port")
			}

			srv, err := web.NewServer(db, &webCfg, opsRecognizer(worker), slog.Default(), Version)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return web.Run(srv, slog.Default())
		},
	}
}

// Helper functions

// outputJSON marshals result to w as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// outputScrapTable prints one line per scrap with a relative time.
func outputScrapTable(w io.Writer, items []scrap.Scrap, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tSAVED\tTEXT\tCOMMENT")
	for _, s := range items {
		text := "-"
		if s.HasExtractedText() {
			text = "yes"
		}
		comment := ""
		if s.Comment != nil {
			comment = firstLine(*s.Comment, 50)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Category, humanize.RelTime(time.Unix(s.CreatedAt, 0), now, "ago", "from now"), text, comment)
	}
	return tw.Flush()
}

// firstLine returns the first line of s, cut to n runes.
func firstLine(s string, n int) string {
	line, _, _ := strings.Cut(s, "\n")
	runes := []rune(strings.TrimSpace(line))
	if len(runes) > n {
		return string(runes[:n]) + "…"
	}
	return string(runes)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var sErr *errors.ScrapError
	if stderrors.As(err, &sErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads piped text, refusing more than maxStdinBytes.
func readStdin() (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, maxStdinBytes+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if len(data) > maxStdinBytes {
		return "", errors.NewInvalidRequest(fmt.Sprintf("stdin exceeds %d bytes", maxStdinBytes))
	}
	return strings.TrimSpace(string(data)), nil
}
