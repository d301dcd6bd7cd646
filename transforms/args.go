package transforms

import "fmt"

// Args holds keyword arguments for one transform, as decoded from YAML.
// YAML decoding yields int, float64, bool, string and []any values, so the
// accessors coerce between the numeric kinds.
type Args map[string]any

// Has reports whether key was supplied.
func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Float returns the value under key, or def when absent.
func (a Args) Float(key string, def float64) (float64, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("argument %q: expected number, got %T", key, v)
	}
	return f, nil
}

// Int returns the value under key, or def when absent.
func (a Args) Int(key string, def int) (int, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		return int(x), nil
	default:
		return 0, fmt.Errorf("argument %q: expected integer, got %T", key, v)
	}
}

// Bool returns the value under key, or def when absent.
func (a Args) Bool(key string, def bool) (bool, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("argument %q: expected bool, got %T", key, v)
	}
	return b, nil
}

// Strings returns a string list under key. A scalar string is promoted to a
// one-element list.
func (a Args) Strings(key string) ([]string, error) {
	v, ok := a[key]
	if !ok {
		return nil, nil
	}
	switch x := v.(type) {
	case string:
		return []string{x}, nil
	case []string:
		return x, nil
	case []any:
		out := make([]string, len(x))
		for i, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("argument %q: expected strings, got %T", key, e)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("argument %q: expected string list, got %T", key, v)
	}
}

// Floats returns a float list under key. A scalar number is promoted to a
// one-element list.
func (a Args) Floats(key string) ([]float64, error) {
	v, ok := a[key]
	if !ok {
		return nil, nil
	}
	switch x := v.(type) {
	case []float64:
		return append([]float64(nil), x...), nil
	case []any:
		out := make([]float64, len(x))
		for i, e := range x {
			f, ok := toFloat(e)
			if !ok {
				return nil, fmt.Errorf("argument %q: expected numbers, got %T", key, e)
			}
			out[i] = f
		}
		return out, nil
	default:
		if f, ok := toFloat(v); ok {
			return []float64{f}, nil
		}
		return nil, fmt.Errorf("argument %q: expected number list, got %T", key, v)
	}
}

// Ints returns an int list under key. A scalar is promoted to a one-element
// list.
func (a Args) Ints(key string) ([]int, error) {
	fs, err := a.Floats(key)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(fs))
	for i, f := range fs {
		out[i] = int(f)
	}
	return out, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}
