// Command docfill fills a DOCX template from PDF reports on the command
// line.
//
//	docfill -template T.docx [-out file.docx] [-text] a.pdf b.pdf ...
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"docfill/internal/config"
	"docfill/internal/docwriter"
	"docfill/internal/metrics"
	"docfill/internal/pipeline"
)

type options struct {
	template   string
	out        string
	configPath string
	printText  bool
	reports    []string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("docfill", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.template, "template", "", "DOCX template to fill (required)")
	fs.StringVar(&opts.out, "out", docwriter.DefaultFilename, "output DOCX path")
	fs.StringVar(&opts.configPath, "config", "", "YAML config file (default $DOCFILL_CONFIG)")
	fs.BoolVar(&opts.printText, "text", false, "also print the generated text to stdout")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: docfill -template T.docx [-out file.docx] [-text] report.pdf ...")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	opts.reports = fs.Args()
	if opts.template == "" {
		return opts, errors.New("-template is required")
	}
	if len(opts.reports) == 0 {
		return opts, errors.New("at least one report PDF is required")
	}
	return opts, nil
}

func loadInput(opts options) (pipeline.Input, error) {
	var in pipeline.Input
	data, err := os.ReadFile(opts.template)
	if err != nil {
		return in, fmt.Errorf("failed to read template: %w", err)
	}
	in.Template = pipeline.Document{Name: filepath.Base(opts.template), Data: data}

	for _, path := range opts.reports {
		if !strings.EqualFold(filepath.Ext(path), ".pdf") {
			return in, fmt.Errorf("%s: not a PDF", path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return in, fmt.Errorf("failed to read report: %w", err)
		}
		in.Reports = append(in.Reports, pipeline.Document{Name: filepath.Base(path), Data: data})
	}
	return in, nil
}

func getProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// reporter renders pipeline events on a terminal: stage messages as
// colored lines and chunk summarization as a progress bar.
type reporter struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func (r *reporter) handle(ev pipeline.Event) {
	if ev.Stage == pipeline.StageSummarizing && ev.Total > 0 && ev.Level == pipeline.LevelInfo {
		if r.bar == nil {
			r.bar = getProgressBar(r.w, ev.Total, "Summarizing")
		}
		_ = r.bar.Set(ev.Done)
		return
	}
	if r.bar != nil && ev.Stage != pipeline.StageSummarizing {
		_ = r.bar.Finish()
		fmt.Fprintln(r.w)
		r.bar = nil
	}

	switch ev.Level {
	case pipeline.LevelWarn:
		color.New(color.FgYellow).Fprintf(r.w, "! %s\n", ev.Message)
	case pipeline.LevelError:
		color.New(color.FgRed).Fprintf(r.w, "✗ %s\n", ev.Message)
	default:
		if ev.Stage == pipeline.StageDone {
			color.New(color.FgGreen).Fprintf(r.w, "✓ %s\n", ev.Message)
			return
		}
		color.New(color.FgCyan).Fprintf(r.w, "%s\n", ev.Message)
	}
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	p, err := cfg.Open()
	if err != nil {
		return err
	}

	in, err := loadInput(opts)
	if err != nil {
		return err
	}

	rep := &reporter{w: stderr}
	p.Progress = rep.handle
	p.Metrics = metrics.Recorder{}

	res, err := p.Run(ctx, in)
	if err != nil {
		return err
	}

	if err := os.WriteFile(opts.out, res.Document, 0644); err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrWrite, err)
	}
	color.New(color.FgGreen).Fprintf(stderr, "Wrote %s (%d tokens, summarized=%v)\n", opts.out, res.TotalTokens, res.Summarized)

	if opts.printText {
		fmt.Fprintln(stdout, res.Text)
	}
	return nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		color.New(color.FgRed).Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, os.Stdout, os.Stderr); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
