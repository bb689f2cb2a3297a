package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/zombor/receipt-scanner/internal/document"
)

// Gemini implements Engine using a Google Gemini vision model
type Gemini struct {
	apiKey    string
	modelName string
	timeout   time.Duration
}

// NewGemini creates a new Gemini engine
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	return &Gemini{
		apiKey:    apiKey,
		modelName: modelName,
		timeout:   30 * time.Second,
	}, nil
}

// Init creates a client dedicated to one worker
func (g *Gemini) Init(ctx context.Context, language string) (Worker, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(g.modelName)
	model.SetTemperature(0)

	return &geminiWorker{
		client:   client,
		model:    model,
		language: language,
		timeout:  g.timeout,
	}, nil
}

type geminiWorker struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	language string
	timeout  time.Duration
}

func (w *geminiWorker) Recognize(ctx context.Context, raster *document.Raster) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	data, err := raster.PNG()
	if err != nil {
		return "", err
	}

	// genai.ImageData expects just the format suffix, not the full MIME type
	parts := []genai.Part{
		genai.ImageData("png", data),
		genai.Text(transcriptionPrompt(w.language)),
	}

	resp, err := w.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response from gemini")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return text.String(), nil
}

func (w *geminiWorker) Release() error {
	return w.client.Close()
}
