package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Parse decodes feed bytes in the given format.
func Parse(data []byte, format Format) ([]Row, error) {
	switch format {
	case FormatCells, FormatAuto:
		return ParseCells(data)
	case FormatCSV:
		return ParseCSV(data)
	case FormatJSONL:
		return ParseJSONL(data)
	default:
		return nil, fmt.Errorf("unsupported feed format %q", format)
	}
}

// Spreadsheet columns: text, category, keywords.
const (
	colText     = "1"
	colCategory = "2"
	colKeywords = "3"
)

type cellsFeed struct {
	Feed *struct {
		Entry []struct {
			Cell struct {
				Row string `json:"row"`
				Col string `json:"col"`
			} `json:"gs$cell"`
			Content struct {
				T string `json:"$t"`
			} `json:"content"`
		} `json:"entry"`
	} `json:"feed"`
}

// ParseCells decodes a Google Sheets cells feed. Cells are joined per row;
// a row exists only if it has a text cell. Rows come out in the order their
// text cell appears in the feed.
func ParseCells(data []byte) ([]Row, error) {
	var feed cellsFeed
	if err := json.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("decode cells feed: %w", err)
	}
	if feed.Feed == nil {
		return nil, errors.New("decode cells feed: missing feed")
	}

	var order []string
	texts := make(map[string]string)
	categories := make(map[string]string)
	keywords := make(map[string]string)

	for _, e := range feed.Feed.Entry {
		key := "row-" + e.Cell.Row
		switch e.Cell.Col {
		case colText:
			if _, seen := texts[key]; !seen {
				order = append(order, key)
			}
			texts[key] = cleanCell(e.Content.T)
		case colCategory:
			categories[key] = cleanCell(e.Content.T)
		case colKeywords:
			keywords[key] = cleanCell(e.Content.T)
		}
	}

	rows := make([]Row, 0, len(order))
	for _, key := range order {
		rows = append(rows, Row{
			Key:      key,
			Text:     texts[key],
			Category: categories[key],
			Keywords: SplitKeywords(keywords[key]),
		})
	}
	return rows, nil
}

// ParseCSV decodes a CSV export. A first record whose first field is
// "text" is treated as a header naming the text/category/keywords columns;
// otherwise columns are positional.
func ParseCSV(data []byte) ([]Row, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	textIdx, catIdx, kwIdx := 0, 1, 2
	var rows []Row
	line := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode csv feed: %w", err)
		}
		line++

		if line == 1 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "text") {
			textIdx, catIdx, kwIdx = -1, -1, -1
			for i, name := range rec {
				switch strings.ToLower(strings.TrimSpace(name)) {
				case "text":
					textIdx = i
				case "category", "label":
					catIdx = i
				case "keywords":
					kwIdx = i
				}
			}
			continue
		}

		text := cleanCell(field(rec, textIdx))
		if text == "" {
			continue
		}
		rows = append(rows, Row{
			Key:      "row-" + strconv.Itoa(line),
			Text:     text,
			Category: cleanCell(field(rec, catIdx)),
			Keywords: SplitKeywords(field(rec, kwIdx)),
		})
	}
	return rows, nil
}

func field(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return rec[idx]
}

type jsonlRow struct {
	Key      string   `json:"key"`
	Text     string   `json:"text"`
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
}

// ParseJSONL decodes one JSON object per line. Malformed lines are skipped;
// a feed with lines but no valid row is an error.
func ParseJSONL(data []byte) ([]Row, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var rows []Row
	lineNo, malformed := 0, 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var jr jsonlRow
		if err := json.Unmarshal([]byte(line), &jr); err != nil {
			malformed++
			continue
		}
		text := cleanCell(jr.Text)
		if text == "" {
			continue
		}
		key := jr.Key
		if key == "" {
			key = "row-" + strconv.Itoa(lineNo)
		}
		rows = append(rows, Row{
			Key:      key,
			Text:     text,
			Category: strings.TrimSpace(jr.Category),
			Keywords: trimAll(jr.Keywords),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("decode jsonl feed: %w", err)
	}
	if len(rows) == 0 && malformed > 0 {
		return nil, fmt.Errorf("decode jsonl feed: no valid rows (%d malformed lines)", malformed)
	}
	return rows, nil
}

// SplitKeywords splits a keyword cell on commas and semicolons.
func SplitKeywords(cell string) []string {
	if strings.TrimSpace(cell) == "" {
		return nil
	}
	parts := strings.FieldsFunc(cell, func(r rune) bool { return r == ',' || r == ';' })
	return trimAll(parts)
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
