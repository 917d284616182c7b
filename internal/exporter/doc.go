// Package exporter writes and reads the run directory artifacts:
// universe.json, the raw book ticker JSONL stream, summary.csv/json,
// depth_metrics.csv, summary_enriched.csv, summary.xlsx, run_meta.json
// and metrics.json. It also validates artifacts for resume decisions.
package exporter
