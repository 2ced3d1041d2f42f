// Package main implements postgate-generate, a one-shot command that turns a
// PDF or text file into a social media post.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/postgate/postgate/internal/app"
	"github.com/postgate/postgate/internal/config"
	"github.com/postgate/postgate/internal/extract"
	"github.com/postgate/postgate/internal/logging"
	"github.com/postgate/postgate/internal/pipeline"
)

var version = "dev"

// Exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitRejected = 2
)

type options struct {
	configFile string
	envFile    string
	pdfPath    string
	textPath   string
	tone       string
	label      string
	provider   string
	doExport   bool
	asJSON     bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&opts.envFile, "env-file", ".env", "Dotenv file to load before reading the environment")
	flag.StringVar(&opts.pdfPath, "pdf", "", "PDF document to read")
	flag.StringVar(&opts.textPath, "text", "", "Plain text document to read; - for stdin")
	flag.StringVar(&opts.tone, "tone", "professional", "Tone of the post")
	flag.StringVar(&opts.label, "label", "", "Version label recorded in analytics")
	flag.StringVar(&opts.provider, "provider", "", "Backend provider: openai_compatible, gemini, mock")
	flag.BoolVar(&opts.doExport, "export", false, "Write the accepted post to the export directory")
	flag.BoolVar(&opts.asJSON, "json", false, "Print the full result as JSON")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: postgate-generate (-pdf FILE | -text FILE) [options]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	os.Exit(run(opts, os.Stdout, os.Stderr))
}

func run(opts options, stdout, stderr io.Writer) int {
	if (opts.pdfPath == "") == (opts.textPath == "") {
		fmt.Fprintln(stderr, "exactly one of -pdf or -text is required")
		return exitFailure
	}

	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(stderr, "failed to load %s: %v\n", opts.envFile, err)
			return exitFailure
		}
	}
	cfg := config.DefaultConfig()
	if opts.configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(opts.configFile); err != nil {
			fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
			return exitFailure
		}
	}
	config.LoadFromEnv(cfg)
	if opts.provider != "" {
		cfg.Backend.Provider = opts.provider
	}

	logger := logging.New(cfg.Logging, stderr).With().Str("service", "postgate-generate").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, app.Options{Version: version}, logger)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitFailure
	}

	text, err := readDocument(opts, application.Extractor())
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitFailure
	}

	res := application.Pipeline().Process(ctx, pipeline.Request{
		Text:    text,
		Tone:    opts.tone,
		Version: opts.label,
	})

	var exportPath string
	if opts.doExport && res.Status == pipeline.StatusAccepted {
		if exportPath, err = application.Exporter().Export(res.Text); err != nil {
			fmt.Fprintf(stderr, "export failed: %v\n", err)
			return exitFailure
		}
	}

	if opts.asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(struct {
			pipeline.Result
			ExportPath string `json:"export_path,omitempty"`
		}{res, exportPath})
	} else {
		fmt.Fprintln(stdout, res.Text)
		if exportPath != "" {
			fmt.Fprintf(stderr, "saved to %s\n", exportPath)
		}
	}

	if res.Status != pipeline.StatusAccepted {
		return exitRejected
	}
	return exitOK
}

// readDocument returns the document text. PDF extraction failures come back
// as sentinel text for the pipeline to report.
func readDocument(opts options, extractor *extract.PDFExtractor) (string, error) {
	if opts.pdfPath != "" {
		text, err := extractor.ExtractFile(opts.pdfPath)
		if err != nil {
			return extract.SentinelText(err), nil
		}
		return text, nil
	}

	var (
		data []byte
		err  error
	)
	if opts.textPath == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(opts.textPath)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", opts.textPath, err)
	}
	return string(data), nil
}
