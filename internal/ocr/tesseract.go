package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/zombor/receipt-scanner/internal/document"
)

// Tesseract implements Engine by running the tesseract CLI
type Tesseract struct {
	binary  string
	enhance bool
}

// NewTesseract creates a new Tesseract engine. When enhance is set, rasters are converted
// to high-contrast grayscale before recognition.
func NewTesseract(binary string, enhance bool) *Tesseract {
	if binary == "" {
		binary = "tesseract"
	}
	return &Tesseract{
		binary:  binary,
		enhance: enhance,
	}
}

// Init checks that every "+"-joined language is installed and prepares a scratch directory
func (t *Tesseract) Init(ctx context.Context, language string) (Worker, error) {
	installed, err := t.languages(ctx)
	if err != nil {
		return nil, err
	}
	for _, lang := range strings.Split(language, "+") {
		if !installed[lang] {
			return nil, fmt.Errorf("language %q is not installed", lang)
		}
	}

	dir, err := os.MkdirTemp("", "receipt-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}

	return &tesseractWorker{
		binary:   t.binary,
		language: language,
		enhance:  t.enhance,
		dir:      dir,
	}, nil
}

// languages lists the installed traineddata. Old releases print the list on stderr.
func (t *Tesseract) languages(ctx context.Context) (map[string]bool, error) {
	out, err := exec.CommandContext(ctx, t.binary, "--list-langs").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("listing tesseract languages: %w: %s", err, strings.TrimSpace(string(out)))
	}

	langs := make(map[string]bool)
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of available languages") {
			continue
		}
		langs[line] = true
	}
	return langs, nil
}

type tesseractWorker struct {
	binary   string
	language string
	enhance  bool
	dir      string
	pages    int
}

func (w *tesseractWorker) Recognize(ctx context.Context, raster *document.Raster) (string, error) {
	w.pages++
	path := filepath.Join(w.dir, fmt.Sprintf("page-%d.png", w.pages))
	if err := w.writeImage(path, raster); err != nil {
		return "", err
	}
	defer os.Remove(path)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, w.binary, path, "stdout", "-l", w.language)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("running tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

func (w *tesseractWorker) writeImage(path string, raster *document.Raster) error {
	if w.enhance {
		img := imaging.Grayscale(raster.Image)
		img = imaging.AdjustContrast(img, 30)
		img = imaging.Sharpen(img, 1.5)
		if err := imaging.Save(img, path); err != nil {
			return fmt.Errorf("writing enhanced image: %w", err)
		}
		return nil
	}

	data, err := raster.PNG()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}
	return nil
}

func (w *tesseractWorker) Release() error {
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("removing scratch directory: %w", err)
	}
	return nil
}
