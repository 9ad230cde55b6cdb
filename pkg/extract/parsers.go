package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// pdfText concatenates the plain text of every page. Pages that fail to
// extract are skipped.
func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("extract: parse pdf: %w", err)
	}

	var sb strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

var (
	docxParagraph = regexp.MustCompile(`</w:p>`)
	xmlTag        = regexp.MustCompile(`<[^>]+>`)
	xmlEntities   = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&apos;", "'",
	)
)

// docxText reads the word document body and flattens it to paragraph text.
func docxText(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("extract: parse docx: %w", err)
	}
	defer doc.Close()

	content := doc.Editable().GetContent()
	content = docxParagraph.ReplaceAllString(content, "\n")
	content = xmlTag.ReplaceAllString(content, "")
	return xmlEntities.Replace(content), nil
}

// xlsxText renders non-empty cells as "A1: value" lines grouped per sheet.
// Output per sheet is capped so a huge workbook cannot flood the context.
const maxCellsPerSheet = 1000

func xlsxText(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("extract: parse xlsx: %w", err)
	}
	defer f.Close()

	var parts []string
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}

		var sheet strings.Builder
		sheet.WriteString(fmt.Sprintf("--- Sheet: %s ---\n", sheetName))

		cellCount := 0
		for rowIndex, row := range rows {
			if cellCount >= maxCellsPerSheet {
				sheet.WriteString("... (truncated)\n")
				break
			}
			for colIndex, cell := range row {
				if cellCount >= maxCellsPerSheet {
					break
				}
				if text := strings.TrimSpace(cell); text != "" {
					sheet.WriteString(fmt.Sprintf("%s%d: %s\n", columnLetter(colIndex), rowIndex+1, text))
					cellCount++
				}
			}
		}

		if cellCount > 0 {
			parts = append(parts, strings.TrimSpace(sheet.String()))
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// columnLetter converts a 0-based column index to its spreadsheet letter
// (A, B, ..., Z, AA, AB, ...).
func columnLetter(index int) string {
	result := ""
	for {
		result = string(rune('A'+index%26)) + result
		index = index/26 - 1
		if index < 0 {
			break
		}
	}
	return result
}

// jsonText flattens a JSON document into readable lines. Objects become
// "key: value" lines in key order, arrays become "Item N: value" lines and
// scalars are rendered as-is.
func jsonText(data []byte) (string, error) {
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("extract: parse json: %w", err)
	}

	var sb strings.Builder
	switch v := parsed.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("%s: %v\n", k, v[k]))
		}
	case []any:
		for i, item := range v {
			sb.WriteString(fmt.Sprintf("Item %d: %v\n", i+1, item))
		}
	default:
		sb.WriteString(fmt.Sprintf("%v", v))
	}
	return sb.String(), nil
}

func txtText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("extract: content is not valid UTF-8 text")
	}
	return string(data), nil
}
