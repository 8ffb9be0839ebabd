// Command cardscan scans one business card image from the command line.
//
//	cardscan [-config f] [-format pretty|json|csv|vcard|xlsx] [-out dir] [-sink file|minio] [-v] <image>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/surajmurari02/ocr-card/config"
	"github.com/surajmurari02/ocr-card/model"
	"github.com/surajmurari02/ocr-card/pkg/logger"
	"github.com/surajmurari02/ocr-card/service"
)

const banner = "=================================================="

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configFile string
	format     string
	outDir     string
	sink       string
	verbose    bool
	image      string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("cardscan", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var o options
	fs.StringVar(&o.configFile, "config", "", "YAML config file (environment overrides it)")
	fs.StringVar(&o.format, "format", "pretty", "output format: pretty, json, csv, vcard or xlsx")
	fs.StringVar(&o.outDir, "out", "", "directory for exported files (default: stdout for pretty/json, . otherwise)")
	fs.StringVar(&o.sink, "sink", "file", "export destination: file or minio")
	fs.BoolVar(&o.verbose, "v", false, "enable debug logging")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: cardscan [flags] <image>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, errors.New("exactly one image path is required")
	}
	o.image = fs.Arg(0)
	o.format = strings.ToLower(o.format)

	if o.format != "pretty" {
		if _, err := service.ParseFormat(o.format); err != nil {
			return nil, fmt.Errorf("invalid -format %q", o.format)
		}
	}
	if o.sink != "file" && o.sink != "minio" {
		return nil, fmt.Errorf("invalid -sink %q: must be file or minio", o.sink)
	}
	return &o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to load config: %v\n", err)
		return 1
	}

	level := cfg.Log.Level
	if opts.verbose {
		level = "debug"
	}
	slog.SetDefault(logger.New(stderr, &logger.Config{Level: level, Format: cfg.Log.Format}))

	ctx = context.WithValue(ctx, logger.RequestIDKey, uuid.New().String())

	rec, err := scan(ctx, cfg, opts.image)
	if err != nil {
		logger.Error(ctx, "scan failed", "category", model.CategoryOf(err), "error", err)
		fmt.Fprintf(stderr, "Error: %s\n", model.UserMessage(err))
		return 1
	}

	if err := emit(ctx, cfg, opts, rec, stdout); err != nil {
		logger.Error(ctx, "export failed", "error", err)
		fmt.Fprintf(stderr, "Error: %s\n", exportMessage(err))
		return 1
	}

	logger.Info(ctx, "processing completed", "processing_time", rec.ProcessingTime)
	return 0
}

// scan drives one upload controller through a full scan of path.
func scan(ctx context.Context, cfg *config.Config, path string) (*model.ContactRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	client, err := service.NewOCRClient(&cfg.OCR)
	if err != nil {
		return nil, err
	}

	ctrl := service.NewUploadController("cli", service.ControllerDeps{
		Validator: service.NewFileValidator(&cfg.Upload),
		Preparer:  service.NewImageProcessor(cfg.PreprocessImages()),
		Scanner:   client,
		Exporter:  service.NewResultFormatter(),
		Deadline:  cfg.ScanDeadline(),
	})

	name := filepath.Base(path)
	logger.Info(ctx, "processing image", "path", path, "bytes", len(data))
	snap, err := ctrl.Process(ctx, &model.UploadCandidate{
		Data:        data,
		ContentType: service.DetectContentType("", name, data),
		Size:        int64(len(data)),
		Filename:    service.SanitizeFilename(name),
	})
	if err != nil {
		return nil, err
	}
	return snap.Record, nil
}

func emit(ctx context.Context, cfg *config.Config, opts *options, rec *model.ContactRecord, stdout io.Writer) error {
	if opts.format == "pretty" {
		printPretty(stdout, rec)
		return nil
	}

	art, err := service.NewResultFormatter().Export(rec, opts.format)
	if err != nil {
		return err
	}

	if opts.sink == "file" && opts.outDir == "" && opts.format == service.FormatJSON {
		_, err := stdout.Write(art.Data)
		return err
	}

	sink, err := newSink(cfg, opts)
	if err != nil {
		return err
	}
	location, err := sink.Put(ctx, art)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Exported %s to %s\n", art.Filename, location)
	return nil
}

func newSink(cfg *config.Config, opts *options) (service.ArtifactSink, error) {
	if opts.sink == "file" {
		return service.NewFileSink(opts.outDir), nil
	}
	sink, err := service.NewMinioSink(&cfg.Minio)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

func printPretty(w io.Writer, rec *model.ContactRecord) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, banner)
	fmt.Fprintln(w, "BUSINESS CARD ANALYSIS RESULTS")
	fmt.Fprintln(w, banner)
	for _, field := range model.ContactFields {
		v := rec.Get(field)
		if !rec.Available(field) {
			v = "Not found"
		}
		fmt.Fprintf(w, "%s: %s\n", model.FieldLabel(field), v)
	}
	fmt.Fprintf(w, "Processing Time: %.2fs\n", rec.ProcessingTime)
	fmt.Fprintln(w, banner)
}

func exportMessage(err error) string {
	if model.CategoryOf(err) != "" {
		return model.UserMessage(err)
	}
	return err.Error()
}
