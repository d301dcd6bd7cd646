package datasets

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// readSplitCSV parses a split listing: a header row naming the columns and
// one row per record with file paths. Every configured column must be
// present; relative paths are resolved against dataDir.
func readSplitCSV(path string, cols []string, dataDir string) ([]map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open split %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read split header %s: %w", path, err)
	}

	colIndex := map[string]int{}
	for i, col := range header {
		colIndex[strings.TrimSpace(col)] = i
	}
	for _, col := range cols {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("split %s: required column %q not found", path, col)
		}
	}

	var rows []map[string]string
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read split %s: %w", path, err)
		}
		line++

		row := make(map[string]string, len(cols))
		for _, col := range cols {
			idx := colIndex[col]
			if idx >= len(record) || strings.TrimSpace(record[idx]) == "" {
				return nil, fmt.Errorf("split %s line %d: empty path for column %q", path, line, col)
			}
			p := strings.TrimSpace(record[idx])
			if !filepath.IsAbs(p) {
				p = filepath.Join(dataDir, p)
			}
			row[col] = p
		}
		rows = append(rows, row)
	}
	return rows, nil
}
