package exporter

import "strconv"

// formatFloat renders a float for CSV output without trailing noise.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// formatOptFloat renders an optional float, empty cell when absent.
func formatOptFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return formatFloat(*f)
}

func formatOptInt(i *int64) string {
	if i == nil {
		return ""
	}
	return strconv.FormatInt(*i, 10)
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func formatOptBool(b *bool) string {
	if b == nil {
		return ""
	}
	return formatBool(*b)
}

// parseOptFloat is the inverse of formatOptFloat for artifact readers.
func parseOptFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseOptInt(s string) *int64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	i := int64(v)
	return &i
}

func parseBool(s string) bool {
	switch s {
	case "true", "True", "1", "yes":
		return true
	}
	return false
}
