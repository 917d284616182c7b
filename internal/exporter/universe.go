package exporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// UniverseStats counts the filter funnel outcome.
type UniverseStats struct {
	Total    int `json:"total"`
	Kept     int `json:"kept"`
	Rejected int `json:"rejected"`
}

// UniverseReject records one excluded symbol and the first filter that
// rejected it.
type UniverseReject struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// UniverseResult is the universe stage output: the tradable symbol
// list plus the rejection audit trail.
type UniverseResult struct {
	Symbols     []string         `json:"symbols"`
	Stats       UniverseStats    `json:"stats"`
	SourceFlags map[string]bool  `json:"source_flags"`
	Rejects     []UniverseReject `json:"-"`
}

// WriteUniverse writes universe.json and universe_rejects.csv.
func WriteUniverse(runDir string, result UniverseResult) error {
	if err := writeJSONAtomic(filepath.Join(runDir, "universe.json"), result); err != nil {
		return err
	}

	rejectsPath := filepath.Join(runDir, "universe_rejects.csv")
	file, err := os.Create(rejectsPath)
	if err != nil {
		return fmt.Errorf("create universe rejects: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"symbol", "reason"}); err != nil {
		return fmt.Errorf("write rejects header: %w", err)
	}
	for _, reject := range result.Rejects {
		if err := writer.Write([]string{reject.Symbol, reject.Reason}); err != nil {
			return fmt.Errorf("write reject row %s: %w", reject.Symbol, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadUniverseSymbols loads the symbol list from universe.json.
func ReadUniverseSymbols(runDir string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(runDir, "universe.json"))
	if err != nil {
		return nil, fmt.Errorf("read universe: %w", err)
	}
	var payload struct {
		Symbols []string `json:"symbols"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse universe: %w", err)
	}
	return payload.Symbols, nil
}
