package adapter

import (
	"reflect"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ParamSpec is the normalized description of a Function task's sole input
// argument type, analogous to the reflected formal-parameter list of
// spec.md §4.1's FunctionAdapter. Field classification mirrors the original
// reserved/catch-all/ordinary split, walked over Go struct fields instead of
// Python parameter names (see package doc).
type ParamSpec struct {
	// Kind discriminates how the argument type should be populated.
	Kind paramKind
	// StructType is the reflect.Type of the struct argument when Kind is
	// paramKindStruct.
	StructType reflect.Type
	// ModelField is the struct field index bound to Call.Model, or -1.
	ModelField int
	// TraceIDField is the struct field index bound to Call.TraceID, or -1.
	TraceIDField int
	// CatchAllField is the index of a map[string]any field tagged
	// `qym:"catchall"` that receives unmatched mapping keys, or -1.
	CatchAllField int
	// Ordinary lists the struct field indices that are neither reserved nor
	// catch-all, in declaration order (Go's reflect guarantees declaration
	// order, unlike Python's historically unordered kwargs prior to 3.7).
	Ordinary []int
}

type paramKind int

const (
	// paramKindStruct: the sole argument is a defined struct type; fields
	// are classified as reserved/catch-all/ordinary.
	paramKindStruct paramKind = iota
	// paramKindMap: the sole argument is exactly map[string]any; the whole
	// input map is passed through verbatim.
	paramKindMap
	// paramKindScalar: the sole argument is any other type (string, int,
	// interface{}, ...); the whole input value is passed through verbatim.
	paramKindScalar
)

var mapStringAnyType = reflect.TypeOf(map[string]any{})

// deriveParamSpec inspects argType (the function's last, or only non-context,
// formal parameter type) and classifies its fields per spec.md §4.1 step 1.
func deriveParamSpec(argType reflect.Type) ParamSpec {
	spec := ParamSpec{ModelField: -1, TraceIDField: -1, CatchAllField: -1}

	if argType == mapStringAnyType {
		spec.Kind = paramKindMap
		return spec
	}
	if argType.Kind() != reflect.Struct {
		spec.Kind = paramKindScalar
		return spec
	}

	spec.Kind = paramKindStruct
	spec.StructType = argType
	for i := 0; i < argType.NumField(); i++ {
		f := argType.Field(i)
		if !f.IsExported() {
			continue
		}
		switch {
		case f.Name == "Model" || f.Name == "ModelName":
			spec.ModelField = i
		case f.Name == "TraceID":
			spec.TraceIDField = i
		case f.Tag.Get("qym") == "catchall" && f.Type == mapStringAnyType:
			spec.CatchAllField = i
		default:
			spec.Ordinary = append(spec.Ordinary, i)
		}
	}
	return spec
}

// specCache memoizes ParamSpec derivation per argument type so repeated
// adapter construction for the same task function signature does not re-run
// reflection (grounded on the estuary-flow example's use of
// hashicorp/golang-lru for hot-path type metadata caching).
type specCache struct {
	mu    sync.Mutex
	cache *lru.Cache[reflect.Type, ParamSpec]
}

func newSpecCache(size int) *specCache {
	c, _ := lru.New[reflect.Type, ParamSpec](size)
	return &specCache{cache: c}
}

func (c *specCache) get(argType reflect.Type) ParamSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	if spec, ok := c.cache.Get(argType); ok {
		return spec
	}
	spec := deriveParamSpec(argType)
	c.cache.Add(argType, spec)
	return spec
}

var globalSpecCache = newSpecCache(256)

// resolveArgs implements spec.md §4.1's argument-resolution algorithm as a
// pure function over (spec, input, model, traceID), returning a populated
// reflect.Value of the argument type ready to pass to the callable. It is
// unit-testable independent of reflection over the callable itself.
func resolveArgs(spec ParamSpec, input any, model, traceID string) reflect.Value {
	switch spec.Kind {
	case paramKindMap:
		if m, ok := input.(map[string]any); ok {
			return reflect.ValueOf(m)
		}
		return reflect.ValueOf(map[string]any{"input": input})
	case paramKindScalar:
		if input == nil {
			return reflect.Zero(spec.StructType)
		}
		return reflect.ValueOf(input)
	}

	argPtr := reflect.New(spec.StructType)
	arg := argPtr.Elem()

	// 1 & 2: bind reserved fields.
	if spec.ModelField >= 0 {
		arg.Field(spec.ModelField).SetString(model)
	}
	if spec.TraceIDField >= 0 {
		arg.Field(spec.TraceIDField).SetString(traceID)
	}

	catchAll := map[string]any{}
	if spec.ModelField < 0 && spec.CatchAllField >= 0 && model != "" {
		catchAll["model"] = model
	}
	if spec.TraceIDField < 0 && spec.CatchAllField >= 0 && traceID != "" {
		catchAll["trace_id"] = traceID
	}

	if m, ok := input.(map[string]any); ok {
		// 4. Input is a mapping.
		ordinaryNames := make(map[string]int, len(spec.Ordinary))
		for _, idx := range spec.Ordinary {
			ordinaryNames[fieldInputKey(spec.StructType.Field(idx))] = idx
		}
		matched := false
		for key, val := range m {
			if idx, ok := ordinaryNames[key]; ok {
				setField(arg.Field(idx), val)
				matched = true
			} else if spec.CatchAllField >= 0 {
				catchAll[key] = val
			}
		}
		if !matched && len(spec.Ordinary) == 1 {
			setField(arg.Field(spec.Ordinary[0]), m)
		}
	} else {
		// 5. Input is not a mapping.
		switch len(spec.Ordinary) {
		case 1:
			setField(arg.Field(spec.Ordinary[0]), input)
		case 0:
			// No ordinary parameters: nothing to bind.
		default:
			// Ambiguous (mirrors the original's own acknowledged best-effort
			// fallback): bind to the first ordinary field.
			setField(arg.Field(spec.Ordinary[0]), input)
		}
	}

	if spec.CatchAllField >= 0 && len(catchAll) > 0 {
		arg.Field(spec.CatchAllField).Set(reflect.ValueOf(catchAll))
	}

	return arg
}

// fieldInputKey returns the mapping key a struct field binds to: the
// field name with its first letter lowercased, unless a `qym:"<key>"` tag
// (any value other than "catchall") overrides it with that value.
func fieldInputKey(f reflect.StructField) string {
	if tag := f.Tag.Get("qym"); tag != "" && tag != "catchall" {
		return tag
	}
	return lowerFirst(f.Name)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}

func setField(field reflect.Value, value any) {
	if value == nil {
		return
	}
	v := reflect.ValueOf(value)
	if field.Type() == v.Type() {
		field.Set(v)
		return
	}
	if v.Type().ConvertibleTo(field.Type()) {
		field.Set(v.Convert(field.Type()))
		return
	}
	if field.Kind() == reflect.Interface {
		field.Set(v)
	}
}
