// Package metric provides the named-metric registry and the coercion
// function that normalizes whatever a metric callable returns into the
// item.Score sum type.
package metric

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/qym-go/qym/item"
)

// Func is the uniform shape every registered metric is invoked through:
// each call receives output, expected and input, and a metric that needs
// fewer of them ignores the rest.
type Func func(output, expected, input any) (item.Score, error)

// Registry resolves named scoring functions and supports custom-function
// registration. The zero value is not usable; construct with NewRegistry.
type Registry struct {
	mu      sync.RWMutex
	custom  map[string]Func
	builtin map[string]Func
}

// NewRegistry constructs a Registry seeded with the built-in metrics
// (exact_match, contains, numeric_diff).
func NewRegistry() *Registry {
	r := &Registry{
		custom:  make(map[string]Func),
		builtin: builtinMetrics(),
	}
	return r
}

// Register adds or replaces a custom metric under name. Custom metrics take
// priority over built-ins of the same name.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[name] = fn
}

// Lookup resolves name to a Func, preferring custom registrations over
// built-ins. It returns an error listing available metrics when name is
// unknown.
func (r *Registry) Lookup(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fn, ok := r.custom[name]; ok {
		return fn, nil
	}
	if fn, ok := r.builtin[name]; ok {
		return fn, nil
	}
	available := make([]string, 0, len(r.custom)+len(r.builtin))
	for n := range r.custom {
		available = append(available, n)
	}
	for n := range r.builtin {
		available = append(available, n)
	}
	sort.Strings(available)
	return nil, fmt.Errorf("metric %q not found; available metrics: %s", name, strings.Join(available, ", "))
}

// builtinMetrics returns the small set of metrics qym ships out of the box.
// Real deployments register far more through an external metric library
// (explicitly out of scope per spec.md §1); these exist to make the
// registry self-sufficient for tests and examples.
func builtinMetrics() map[string]Func {
	return map[string]Func{
		"exact_match": func(output, expected, _ any) (item.Score, error) {
			return item.BoolScore(fmt.Sprint(output) == fmt.Sprint(expected)), nil
		},
		"contains": func(output, expected, _ any) (item.Score, error) {
			return item.BoolScore(strings.Contains(fmt.Sprint(output), fmt.Sprint(expected))), nil
		},
		"numeric_diff": func(output, expected, _ any) (item.Score, error) {
			o, oerr := toFloat(output)
			e, eerr := toFloat(expected)
			if oerr != nil || eerr != nil {
				return item.Score{}, fmt.Errorf("numeric_diff: non-numeric output or expected value")
			}
			diff := o - e
			if diff < 0 {
				diff = -diff
			}
			return item.NumberScore(diff), nil
		},
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return float64(rv.Int()), nil
		case reflect.Float32, reflect.Float64:
			return rv.Float(), nil
		}
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
}

// Coerce normalizes the dynamic return value of a raw metric callable (a
// number, bool, string, map, or error) into item.Score. It is the boundary
// function referenced by the "Dynamic score shapes" design note: downstream
// code (statistics, serialization, resume parsing) only ever sees the
// normalized sum type.
func Coerce(raw any, callErr error) item.Score {
	if callErr != nil {
		return item.ErrorScore(callErr.Error())
	}
	switch v := raw.(type) {
	case item.Score:
		return v
	case bool:
		return item.BoolScore(v)
	case string:
		return item.StringScore(v)
	case float64:
		return item.NumberScore(v)
	case float32:
		return item.NumberScore(float64(v))
	case int:
		return item.NumberScore(float64(v))
	case int64:
		return item.NumberScore(float64(v))
	case map[string]any:
		return coerceObject(v)
	case nil:
		return item.ErrorScore("metric returned nil")
	default:
		f, err := toFloat(raw)
		if err == nil {
			return item.NumberScore(f)
		}
		return item.StringScore(fmt.Sprint(raw))
	}
}

func coerceObject(m map[string]any) item.Score {
	if errVal, ok := m["error"]; ok && errVal != nil {
		if s := fmt.Sprint(errVal); s != "" {
			return item.ErrorScore(s)
		}
	}
	s := item.Score{Kind: item.ScoreKindObject}
	if meta, ok := m["metadata"].(map[string]any); ok {
		s.Metadata = meta
	}
	scoreVal, ok := m["score"]
	if !ok {
		return item.ErrorScore("structured score missing 'score' field")
	}
	f, err := toFloat(scoreVal)
	if err != nil {
		// Non-numeric structured score (categorical); keep as string but
		// preserve metadata/object kind for round-tripping.
		s.Kind = item.ScoreKindString
		s.Str = fmt.Sprint(scoreVal)
		return s
	}
	s.Value = f
	return s
}
