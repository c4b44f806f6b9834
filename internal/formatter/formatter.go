// package formatter renders library listings as CSV, Markdown or plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/desertthunder/stemx/internal/catalog"
	"github.com/desertthunder/stemx/internal/shared"
)

// Format names an export format.
type Format string

const (
	CSV      Format = "csv"
	Markdown Format = "md"
	Text     Format = "text"
	JSON     Format = "json"
)

// ParseFormat accepts the format names used on the command line.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return Text, nil
	case "csv":
		return CSV, nil
	case "md", "markdown":
		return Markdown, nil
	case "json":
		return JSON, nil
	}
	return "", fmt.Errorf("%w: format %q", shared.ErrInvalidArgument, s)
}

// Listing is one collection and its items.
type Listing struct {
	Collection string                `json:"channel"`
	Items      []catalog.ItemSummary `json:"items"`
}

// ExportToCSV converts a Listing to CSV with columns: Collection, Item, Primary, Stems, Covers, Remote
func ExportToCSV(l Listing) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Collection", "Item", "Primary", "Stems", "Covers", "Remote"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, it := range l.Items {
		record := []string{
			l.Collection,
			it.Name,
			it.Primary,
			strconv.Itoa(it.Stems),
			strconv.Itoa(it.Covers),
			strconv.FormatBool(it.Remote),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts a Listing to a Markdown document with one table row per item
func ExportToMarkdown(l Listing) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", l.Collection)
	fmt.Fprintf(&buf, "**Items**: %d\n\n", len(l.Items))

	buf.WriteString("| Item | Primary | Stems | Covers |\n")
	buf.WriteString("| --- | --- | ---: | ---: |\n")
	for _, it := range l.Items {
		primary := it.Primary
		if it.Remote {
			primary += " (remote)"
		}
		fmt.Fprintf(&buf, "| %s | %s | %d | %d |\n", escapeCell(it.Name), escapeCell(primary), it.Stems, it.Covers)
	}

	return buf.Bytes(), nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// ExportToText converts a Listing to plain text
func ExportToText(l Listing) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Collection: %s\n", l.Collection)
	fmt.Fprintf(&buf, "Items: %d\n\n", len(l.Items))

	for i, it := range l.Items {
		fmt.Fprintf(&buf, "%d. %s", i+1, it.Name)
		if it.Stems > 0 || it.Covers > 0 {
			fmt.Fprintf(&buf, " [%d stems, %d covers]", it.Stems, it.Covers)
		}
		if it.Remote {
			buf.WriteString(" (remote)")
		}
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// Export renders l in format f.
func Export(l Listing, f Format) ([]byte, error) {
	switch f {
	case CSV:
		return ExportToCSV(l)
	case Markdown:
		return ExportToMarkdown(l)
	case JSON:
		data, err := json.MarshalIndent(l, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return append(data, '\n'), nil
	default:
		return ExportToText(l)
	}
}

// WriteExport renders l and writes it to path.
//
// Defaults to {collection}.{ext} as the filename.
func WriteExport(l Listing, f Format, path string) (string, error) {
	if path == "" {
		ext := string(f)
		if f == Text {
			ext = "txt"
		}
		path = fmt.Sprintf("%s.%s", l.Collection, ext)
	}

	data, err := Export(l, f)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	return path, nil
}
