package tool

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := optionalString(args, key)
	if !ok || v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func optionalString(args map[string]any, key string) (string, bool) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v), true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return fmt.Sprint(v), true
	}
}

func numberArg(args map[string]any, key string) (float64, bool, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, true, nil
	case float32:
		return float64(v), true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, true, fmt.Errorf("%s must be a number", key)
		}
		return f, true, nil
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(v)), "kg"))
		s = strings.ReplaceAll(s, ",", "")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, true, fmt.Errorf("%s must be a number", key)
		}
		return f, true, nil
	default:
		return 0, true, fmt.Errorf("%s must be a number", key)
	}
}

func dateArg(args map[string]any, key string, today time.Time) (string, error) {
	raw, err := stringArg(args, key)
	if err != nil {
		return "", err
	}
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		return "", fmt.Errorf("%s must use the format YYYY-MM-DD", key)
	}
	y, m, day := today.Date()
	if d.Before(time.Date(y, m, day, 0, 0, 0, 0, time.UTC)) {
		return "", fmt.Errorf("%s %s is in the past", key, raw)
	}
	return d.Format(dateLayout), nil
}
