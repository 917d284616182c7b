package exporter

import (
	"encoding/json"
	"fmt"
	"os"
)

// UpdateMetrics applies counter increments and gauge overwrites to the
// run's metrics.json. The file is read-modify-written whole; stages
// run sequentially so no cross-process locking is needed.
func UpdateMetrics(path string, increments map[string]int64, gauges map[string]float64) error {
	payload := map[string]any{}
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("parse metrics file: %w", err)
		}
	} else if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read metrics file: %w", err)
	}

	for key, delta := range increments {
		current := int64(0)
		if v, ok := payload[key]; ok {
			if f, ok := v.(float64); ok {
				current = int64(f)
			}
		}
		payload[key] = current + delta
	}
	for key, value := range gauges {
		payload[key] = value
	}

	return writeJSONAtomic(path, payload)
}

// ReadMetrics loads metrics.json; a missing file yields an empty map.
func ReadMetrics(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metrics file: %w", err)
	}
	payload := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("parse metrics file: %w", err)
		}
	}
	return payload, nil
}

// MetricInt reads an integer-valued metric, zero when absent.
func MetricInt(payload map[string]any, key string) int64 {
	if v, ok := payload[key]; ok {
		if f, ok := v.(float64); ok {
			return int64(f)
		}
	}
	return 0
}
