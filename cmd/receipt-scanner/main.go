package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/time/rate"

	"github.com/zombor/receipt-scanner/internal/document"
	"github.com/zombor/receipt-scanner/internal/ocr"
	"github.com/zombor/receipt-scanner/internal/pipeline"
	"github.com/zombor/receipt-scanner/internal/server"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// engineConfig selects and configures the OCR engine
type engineConfig struct {
	kind        string
	tesseract   string
	enhance     bool
	geminiKey   string
	geminiModel string
	ollamaURL   string
	ollamaModel string
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// run parses args, wires the pipeline and either scans one file or serves HTTP until ctx
// is done. Every resource it opens is closed before it returns.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := ff.NewFlagSet("receipt-scanner")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		engineType  = fs.StringLong("engine", "tesseract", "OCR engine: 'tesseract', 'gemini' or 'ollama'")
		tesseract   = fs.StringLong("tesseract", "tesseract", "Path to the tesseract binary")
		enhance     = fs.BoolLong("enhance", "Convert to grayscale and sharpen before tesseract runs")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama vision model name (e.g., llava, qwen2.5vl)")
		language    = fs.StringLong("language", ocr.DefaultLanguage, "Default recognition language, e.g. 'eng' or 'eng+deu'")
		poolSize    = fs.IntLong("pool-size", 2, "Maximum number of live OCR workers")
		cachePath   = fs.StringLong("cache", "", "Recognition cache database path (disabled when empty)")
		rateLimit   = fs.Float64Long("rate", 0, "Maximum recognitions per second (unlimited when 0)")
		burst       = fs.IntLong("burst", 1, "Recognitions allowed in a burst when --rate is set")
		sessionTTL  = fs.DurationLong("session-ttl", 30*time.Minute, "How long idle scan sessions are kept")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		scanPath    = fs.StringLong("scan", "", "Scan this file, print the result as JSON and exit")
		page        = fs.IntLong("page", 0, "1-indexed PDF page to scan with --scan (defaults to the first)")
		debug       = fs.BoolLong("debug", "Enable debug logging")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("RECEIPT_SCANNER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Fprintln(stdout, version)
		return nil
	}

	if *debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	// Initialize OCR engine
	engine, err := newEngine(engineConfig{
		kind:        *engineType,
		tesseract:   *tesseract,
		enhance:     *enhance,
		geminiKey:   *geminiKey,
		geminiModel: *geminiModel,
		ollamaURL:   *ollamaURL,
		ollamaModel: *ollamaModel,
	})
	if err != nil {
		slog.Error("Failed to initialize OCR engine", "engine", *engineType, "error", err)
		return err
	}

	pool := ocr.NewPool(engine, *poolSize)
	defer closeWith("OCR worker pool", pool.Close)

	var limiter *rate.Limiter
	if *rateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(*rateLimit), *burst)
		slog.Info("Rate limiting recognitions", "rate", *rateLimit, "burst", *burst)
	}
	var recognizer ocr.Recognizer = ocr.NewLimited(limiter, pool)

	if *cachePath != "" {
		slog.Info("Initializing recognition cache...", "path", *cachePath)
		cache, err := ocr.NewCache(*cachePath, recognizer)
		if err != nil {
			slog.Error("Failed to initialize recognition cache", "error", err)
			return err
		}
		defer closeWith("recognition cache", cache.Close)
		recognizer = cache
	}

	normalizer := document.NewNormalizer(document.NewFitzRenderer())
	p := pipeline.New(normalizer, recognizer, pipeline.WithDefaultLanguage(*language))

	if *scanPath != "" {
		if err := scanFile(ctx, normalizer, p, *scanPath, *page, stdout); err != nil {
			slog.Error("Scan failed", "file", *scanPath, "error", err)
			return err
		}
		return nil
	}

	basicAuth := server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	srv := server.NewServer(normalizer, pipeline.NewSessions(p, *sessionTTL), basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "engine", *engineType)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	if err := srv.Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		return err
	}
	slog.Info("Shutting down...")
	return nil
}

// newEngine builds the configured OCR engine
func newEngine(cfg engineConfig) (ocr.Engine, error) {
	switch cfg.kind {
	case "tesseract":
		slog.Info("Initializing Tesseract engine...", "binary", cfg.tesseract, "enhance", cfg.enhance)
		return ocr.NewTesseract(cfg.tesseract, cfg.enhance), nil
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
		}
		slog.Info("Initializing Gemini engine...", "model", cfg.geminiModel)
		return ocr.NewGemini(apiKey, cfg.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama engine...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		return ocr.NewOllama(cfg.ollamaURL, cfg.ollamaModel)
	default:
		return nil, fmt.Errorf("invalid engine %q, valid engines are tesseract, gemini or ollama", cfg.kind)
	}
}

// scanFile runs the pipeline once on a local file and prints the result
func scanFile(ctx context.Context, normalizer *document.Normalizer, p *pipeline.Pipeline, path string, page int, stdout io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	// An empty MIME type makes the normalizer sniff the content
	in, err := normalizer.Classify(ctx, data, "")
	if err != nil {
		return fmt.Errorf("classifying %s: %w", path, err)
	}

	result, err := p.Process(ctx, in, page, "")
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func closeWith(name string, close func() error) {
	if err := close(); err != nil {
		slog.Warn("Failed to close "+name, "error", err)
	}
}
