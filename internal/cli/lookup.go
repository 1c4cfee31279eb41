package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/helixir/unpaywall-client/internal/domain"
	"github.com/helixir/unpaywall-client/internal/table"
)

// View modes.
const (
	ModeViewer  = "viewer"
	ModeBrowser = "browser"
)

// Messages printed by the download command.
const (
	DownloadOKMessage     = "File was successfully downloaded."
	DownloadFailedMessage = "Could not download file."
)

func (a *App) newLinkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "link <doi>",
		Short: "Print the URL of the best open-access PDF",
		Args:  withUsage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			link, err := a.client.PDFLink(cmd.Context(), args[0], a.lookupOptions())
			if err != nil {
				return err
			}
			if link == "" {
				fmt.Fprintf(a.Stderr, "No PDF link found for %s.\n", args[0])
				return nil
			}
			fmt.Fprintln(a.Stdout, link)
			return nil
		},
	}
}

func (a *App) newLinksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "links <doi>",
		Short: "Print the landing page and PDF URLs of the best open-access location",
		Args:  withUsage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			links, err := a.client.AllLinks(cmd.Context(), args[0], a.lookupOptions())
			if err != nil {
				return err
			}
			for _, l := range links {
				fmt.Fprintln(a.Stdout, l)
			}
			return nil
		},
	}
}

func (a *App) newDownloadCommand() *cobra.Command {
	var (
		filename string
		dir      string
		progress bool
	)
	cmd := &cobra.Command{
		Use:   "download <doi>",
		Short: "Download the best open-access PDF",
		Args:  withUsage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			var w io.Writer
			if progress {
				bar := newByteBar(a.Stderr, "downloading")
				defer bar.Finish()
				w = bar
			}

			path, err := a.client.DownloadPDFFile(cmd.Context(), args[0], filename, dir, w, a.lookupOptions())
			if err != nil {
				if ctxErr := cmd.Context().Err(); ctxErr != nil {
					return ctxErr
				}
				a.logger.Debug().Err(err).Str("doi", args[0]).Msg("download failed")
				fmt.Fprintln(a.Stdout, DownloadFailedMessage)
				return nil
			}
			a.logger.Info().Str("doi", args[0]).Str("path", path).Msg("pdf saved")
			fmt.Fprintln(a.Stdout, DownloadOKMessage)
			return nil
		},
	}
	cmd.Flags().StringVarP(&filename, "filename", "f", "", "file name (default derived from the DOI)")
	cmd.Flags().StringVarP(&dir, "path", "p", "", "target directory (default the working directory)")
	cmd.Flags().BoolVar(&progress, "progress", false, "show a progress bar")
	return cmd
}

func (a *App) newViewCommand() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "view <doi>",
		Short: "Open the best open-access PDF in a PDF viewer or the browser",
		Args:  withUsage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			doi := args[0]

			switch mode {
			case ModeBrowser:
				link, err := a.client.PDFLink(ctx, doi, a.lookupOptions())
				if err != nil {
					return err
				}
				if link == "" {
					return domain.NewNotFoundError("pdf link", doi)
				}
				return a.OpenURL(link)

			case ModeViewer:
				dir, err := os.MkdirTemp("", "unpaywall-")
				if err != nil {
					return fmt.Errorf("creating temp directory: %w", err)
				}
				path, err := a.client.DownloadPDFFile(ctx, doi, "", dir, nil, a.lookupOptions())
				if err != nil {
					os.RemoveAll(dir)
					return err
				}
				return a.OpenFile(path)

			default:
				return usagef("the argument mode only accepts the values %q and %q, got %q", ModeViewer, ModeBrowser, mode)
			}
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", ModeViewer, "viewer or browser")
	return cmd
}

func (a *App) newRecordsCommand() *cobra.Command {
	var (
		format   string
		output   string
		input    string
		outFile  string
		progress bool
	)
	cmd := &cobra.Command{
		Use:   "records [doi...]",
		Short: "Print the records of one or more DOIs as a table",
		Long: "Print the records of one or more DOIs as CSV or JSON. DOIs are read from the\n" +
			"arguments and from --input, one per line (\"-\" reads standard input).",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			dois := append([]string(nil), args...)
			if input != "" {
				more, err := a.readIdentifiers(input)
				if err != nil {
					return err
				}
				dois = append(dois, more...)
			}

			opts := a.lookupOptions()
			opts.Format = domain.Format(format)
			if progress {
				bar := newCountBar(a.Stderr, "records")
				defer bar.Finish()
				opts.Progress = bar.update
			}

			tbl, err := a.client.Records(cmd.Context(), dois, opts)
			if err != nil {
				return err
			}
			return a.writeTable(tbl, output, outFile)
		},
	}
	cmd.Flags().StringVar(&format, "format", string(domain.FormatRaw), "raw or extended")
	cmd.Flags().StringVarP(&output, "output", "o", "csv", "csv or json")
	cmd.Flags().StringVarP(&input, "input", "i", "", "file with one DOI per line")
	cmd.Flags().StringVar(&outFile, "out", "", "write the table to a file instead of standard output")
	cmd.Flags().BoolVar(&progress, "progress", false, "show a progress bar")
	return cmd
}

func (a *App) newQueryCommand() *cobra.Command {
	var (
		isOA   string
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search titles and print the matching records as a table",
		Args:  withUsage(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			var filter *bool
			if isOA != "" {
				b, err := strconv.ParseBool(isOA)
				if err != nil {
					return usagef("--is-oa must be true or false, got %q", isOA)
				}
				filter = &b
			}

			opts := a.lookupOptions()
			opts.Format = domain.Format(format)
			tbl, err := a.client.Query(cmd.Context(), strings.Join(args, " "), filter, opts)
			if err != nil {
				return err
			}
			return a.writeTable(tbl, output, "")
		},
	}
	cmd.Flags().StringVar(&isOA, "is-oa", "", "only open-access (true) or closed (false) records")
	cmd.Flags().StringVar(&format, "format", string(domain.FormatRaw), "raw or extended")
	cmd.Flags().StringVarP(&output, "output", "o", "csv", "csv or json")
	return cmd
}

// readIdentifiers reads one identifier per line, skipping blank lines.
func (a *App) readIdentifiers(path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = a.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, usage(fmt.Errorf("opening input: %w", err))
		}
		defer f.Close()
		r = f
	}

	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return out, nil
}

func checkOutput(output string) error {
	if output != "csv" && output != "json" {
		return usagef("the argument output only accepts the values \"csv\" and \"json\", got %q", output)
	}
	return nil
}

// writeTable writes tbl as csv or json to path, or to standard output when
// path is empty. A nil table writes nothing.
func (a *App) writeTable(tbl *table.Table, output, path string) error {
	if tbl == nil {
		fmt.Fprintln(a.Stderr, "No records found.")
		return nil
	}

	w := a.Stdout
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if output == "json" {
		return tbl.WriteJSON(w)
	}
	return tbl.WriteCSV(w)
}
