// Package export writes scraping results and link lists as CSV files.
package export

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/maltedev/places-scraper/internal/models"
)

// LinkHeader is the column name of a links file.
const LinkHeader = "href"

var (
	ErrNoHeader = errors.New("links file has no href column")
	ErrNoFields = errors.New("no fields to export")
)

// WriteRecords writes records as CSV with one column per field. Every value
// is quoted. Fields missing from a record are written empty.
func WriteRecords(path string, records []models.Record, fields []string) error {
	if len(fields) == 0 {
		return ErrNoFields
	}
	return writeFile(path, func(w io.Writer) error {
		return EncodeRecords(w, records, fields)
	})
}

// EncodeRecords is WriteRecords for an arbitrary writer.
func EncodeRecords(w io.Writer, records []models.Record, fields []string) error {
	if len(fields) == 0 {
		return ErrNoFields
	}
	bw := bufio.NewWriter(w)
	if err := writeQuotedRow(bw, fields); err != nil {
		return err
	}
	row := make([]string, len(fields))
	for _, rec := range records {
		for i, f := range fields {
			row[i] = rec[f]
		}
		if err := writeQuotedRow(bw, row); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeQuotedRow(w *bufio.Writer, values []string) error {
	for i, v := range values {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := w.WriteString(quote(v)); err != nil {
			return err
		}
	}
	_, err := w.WriteString("\n")
	return err
}

func quote(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

// WriteLinks writes one link per row under an href header.
func WriteLinks(path string, links []string) error {
	return writeFile(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{LinkHeader}); err != nil {
			return err
		}
		for _, link := range links {
			if err := cw.Write([]string{link}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// ReadLinks reads the href column of a links file, skipping empty rows.
func ReadLinks(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open links file: %w", err)
	}
	defer f.Close()
	return DecodeLinks(f)
}

func DecodeLinks(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	col := -1
	for i, name := range header {
		if strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) == LinkHeader {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, ErrNoHeader
	}

	var links []string
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		if col >= len(row) {
			continue
		}
		if link := strings.TrimSpace(row[col]); link != "" {
			links = append(links, link)
		}
	}
	return links, nil
}

// writeFile writes through a temp file in the same directory and renames it
// into place.
func writeFile(path string, encode func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := encode(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
