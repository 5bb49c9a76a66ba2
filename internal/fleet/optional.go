package fleet

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
)

// OptFloat is a numeric reading that may be absent. Absent is never zero.
type OptFloat struct {
	V     float64
	Valid bool
}

// Some wraps a known value
func Some(v float64) OptFloat {
	return OptFloat{V: v, Valid: true}
}

// None is the absent value
var None = OptFloat{}

// Get returns the value and whether it is known
func (o OptFloat) Get() (float64, bool) {
	return o.V, o.Valid
}

// Or returns the value, or def when absent
func (o OptFloat) Or(def float64) float64 {
	if !o.Valid {
		return def
	}
	return o.V
}

// Map applies f to a known value and keeps absence
func (o OptFloat) Map(f func(float64) float64) OptFloat {
	if !o.Valid {
		return o
	}
	return Some(f(o.V))
}

func (o OptFloat) String() string {
	if !o.Valid {
		return "N/A"
	}
	return strconv.FormatFloat(o.V, 'f', -1, 64)
}

func (o OptFloat) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.V)
}

func (o *OptFloat) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = None
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// Scan implements sql.Scanner
func (o *OptFloat) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*o = None
	case float64:
		*o = Some(v)
	case float32:
		*o = Some(float64(v))
	case int64:
		*o = Some(float64(v))
	case []byte:
		f, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return fmt.Errorf("cannot scan %q into OptFloat: %w", v, err)
		}
		*o = Some(f)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("cannot scan %q into OptFloat: %w", v, err)
		}
		*o = Some(f)
	default:
		return fmt.Errorf("cannot scan %T into OptFloat", src)
	}
	return nil
}

// Value implements driver.Valuer
func (o OptFloat) Value() (driver.Value, error) {
	if !o.Valid {
		return nil, nil
	}
	return o.V, nil
}

// OptBool is a flag that may be unknown
type OptBool struct {
	V     bool
	Valid bool
}

// KnownBool wraps a known flag
func KnownBool(v bool) OptBool {
	return OptBool{V: v, Valid: true}
}

func (o OptBool) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.V)
}

func (o *OptBool) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = OptBool{}
		return nil
	}
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = KnownBool(v)
	return nil
}

// Scan implements sql.Scanner
func (o *OptBool) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*o = OptBool{}
	case bool:
		*o = KnownBool(v)
	case int64:
		*o = KnownBool(v != 0)
	default:
		return fmt.Errorf("cannot scan %T into OptBool", src)
	}
	return nil
}

// Value implements driver.Valuer
func (o OptBool) Value() (driver.Value, error) {
	if !o.Valid {
		return nil, nil
	}
	return o.V, nil
}
