package receipt

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const monthNames = `(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

var (
	// currencyPattern matches an optional currency symbol, digits with optional thousands
	// separators, a decimal point and exactly two fraction digits
	currencyPattern = regexp.MustCompile(`-?(?:[$€£¥₹]\s?)?-?(?:\d{1,3}(?:,\d{3})+|\d+)\.\d{2}`)

	// datePattern captures the date in group 1. OCR output often glues labels to dates
	// ("DATE04/12/2023"), so only a digit may not precede it.
	datePattern = regexp.MustCompile(`(?i)(?:^|[^0-9])(` +
		`\d{4}[/.-]\d{1,2}[/.-]\d{1,2}` +
		`|\d{1,2}[/.-]\d{1,2}[/.-](?:\d{4}|\d{2})` +
		`|` + monthNames + `\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}` +
		`|\d{1,2}(?:st|nd|rd|th)?\s+` + monthNames + `\.?,?\s+\d{4}` +
		`)\b`)

	totalKeywordPattern = regexp.MustCompile(`(?i)total|amount\s+due|balance\s+due`)

	dateSeparators = regexp.MustCompile(`[/.-]`)
)

// maxItemSuffix is how many trailing characters (tax flags like "A" or "T F") may follow
// an item price
const maxItemSuffix = 3

// span is a matched substring of a line
type span struct {
	start, end int
	text       string
}

// Extract parses raw OCR text into a Record. It never fails: fields that cannot be found
// stay empty.
func Extract(text string) Record {
	record := Record{Items: []LineItem{}}
	lines := splitLines(text)

	dateLines := make(map[int]bool)
	for i, line := range lines {
		if d, ok := findDate(line); ok {
			dateLines[i] = true
			if record.Date == "" {
				record.Date = d.text
			}
		}
	}

	// The last total line wins: receipts print Subtotal before Total
	totalLines := make(map[int]bool)
	for i, line := range lines {
		if t, ok := findTotal(line); ok {
			totalLines[i] = true
			record.Total = t.text
		}
	}

	merchantLine := -1
	for i, line := range lines {
		if !dateLines[i] && hasLetter(line) {
			merchantLine = i
			record.MerchantName = line
			break
		}
	}

	for i, line := range lines {
		if i == merchantLine || dateLines[i] || totalLines[i] {
			continue
		}
		if item, ok := parseItem(line); ok {
			record.Items = append(record.Items, item)
		}
	}

	return record
}

// splitLines returns the trimmed, non-empty lines of text in order
func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// currencyTokens returns the currency-like tokens of a line that are not part of a longer
// number
func currencyTokens(line string) []span {
	var tokens []span
	for _, loc := range currencyPattern.FindAllStringIndex(line, -1) {
		start, end := loc[0], loc[1]
		if end < len(line) {
			next := line[end]
			if isDigit(next) {
				continue
			}
			if (next == '.' || next == ',') && end+1 < len(line) && isDigit(line[end+1]) {
				continue
			}
		}
		if start > 0 {
			prev := line[start-1]
			if isDigit(prev) || prev == '.' || prev == ',' {
				continue
			}
		}
		// A hyphen glued to the preceding word joins the name, not the amount
		if line[start] == '-' && !signPosition(line[:start]) {
			start++
		}
		tokens = append(tokens, span{start: start, end: end, text: line[start:end]})
	}
	return tokens
}

// findDate returns the first plausible date in a line
func findDate(line string) (span, bool) {
	for _, loc := range datePattern.FindAllStringSubmatchIndex(line, -1) {
		start, end := loc[2], loc[3]
		text := line[start:end]
		if plausibleDate(text) {
			return span{start: start, end: end, text: text}, true
		}
	}
	return span{}, false
}

// plausibleDate rejects numeric matches whose day and month parts cannot be a date
func plausibleDate(text string) bool {
	if hasLetter(text) {
		return true
	}

	parts := dateSeparators.Split(text, -1)
	if len(parts) != 3 {
		return false
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return false
		}
		nums[i] = n
	}

	if len(parts[0]) == 4 {
		return inRange(nums[1], 1, 12) && inRange(nums[2], 1, 31)
	}
	a, b := nums[0], nums[1]
	return inRange(a, 1, 31) && inRange(b, 1, 31) && (a <= 12 || b <= 12)
}

// findTotal returns the amount following a total keyword
func findTotal(line string) (span, bool) {
	kw := totalKeywordPattern.FindStringIndex(line)
	if kw == nil {
		return span{}, false
	}
	for _, t := range currencyTokens(line) {
		if t.start >= kw[1] {
			return t, true
		}
	}
	return span{}, false
}

// parseItem splits a line holding exactly one trailing price into a LineItem
func parseItem(line string) (LineItem, bool) {
	tokens := currencyTokens(line)
	if len(tokens) != 1 {
		return LineItem{}, false
	}
	price := tokens[0]

	suffix := strings.TrimSpace(line[price.end:])
	if utf8.RuneCountInString(suffix) > maxItemSuffix || strings.IndexFunc(suffix, unicode.IsDigit) >= 0 {
		return LineItem{}, false
	}

	name := strings.TrimRight(strings.TrimSpace(line[:price.start]), " \t.:-*@")
	if name == "" {
		return LineItem{}, false
	}

	return LineItem{Name: name, Price: price.text}, true
}

// signPosition reports whether a minus following prefix is a sign rather than a hyphen
// glued to the preceding word
func signPosition(prefix string) bool {
	if prefix == "" {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(prefix)
	return unicode.IsSpace(r) || r == ':'
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func inRange(n, lo, hi int) bool {
	return n >= lo && n <= hi
}
