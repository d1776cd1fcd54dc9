package adapter

import (
	"context"
)

// chainAdapter wraps a Chain/ChainContext task (spec.md §4.1 shape (b)).
// Matches the original's LangChain adapter: the input is coerced to a
// mapping (synthesizing an {"input": ...} key when the caller passed a bare
// value), model/trace hints are merged in as default keys, and the result's
// "output" key (when present) is unwrapped.
type chainAdapter struct {
	impl    Chain
	ctxImpl ChainContext
}

func (a *chainAdapter) Invoke(ctx context.Context, call Call) (any, error) {
	payload := toMapping(call.Input)
	if call.Model != "" {
		setDefault(payload, "model", call.Model)
		setDefault(payload, "model_name", call.Model)
	}
	if call.TraceID != "" {
		setDefault(payload, "trace_id", call.TraceID)
	}

	var (
		out map[string]any
		err error
	)
	if a.ctxImpl != nil {
		out, err = a.ctxImpl.Invoke(ctx, payload)
	} else {
		out, err = a.impl.Invoke(payload)
	}
	if err != nil {
		return nil, err
	}
	if v, ok := out["output"]; ok {
		return v, nil
	}
	return out, nil
}

func toMapping(input any) map[string]any {
	if m, ok := input.(map[string]any); ok {
		cp := make(map[string]any, len(m))
		for k, v := range m {
			cp[k] = v
		}
		return cp
	}
	return map[string]any{"input": input}
}

func setDefault(m map[string]any, key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

// clientAdapter wraps a Client/ClientContext task (spec.md §4.1 shape (c)).
type clientAdapter struct {
	impl    Client
	ctxImpl ClientContext
}

func (a *clientAdapter) Invoke(ctx context.Context, call Call) (any, error) {
	payload := call.Input
	if call.Model != "" {
		if m, ok := call.Input.(map[string]any); ok {
			cp := make(map[string]any, len(m)+1)
			for k, v := range m {
				cp[k] = v
			}
			setDefault(cp, "model", call.Model)
			payload = cp
		}
	}
	if a.ctxImpl != nil {
		return a.ctxImpl.Create(ctx, payload)
	}
	return a.impl.Create(payload)
}
