package ocr

import "fmt"

// transcriptionPrompt asks a vision model to behave like a plain OCR engine
func transcriptionPrompt(language string) string {
	return fmt.Sprintf(`You are an OCR engine. Transcribe every piece of text visible in the image exactly as printed.

Rules:
- The document language is %q (Tesseract language code).
- Keep the original line breaks: one printed line per output line, top to bottom.
- Keep prices, dates and punctuation exactly as printed. Do not correct, translate or summarize.
- Do not add commentary, markdown or code blocks. Output only the transcribed text.`, language)
}
