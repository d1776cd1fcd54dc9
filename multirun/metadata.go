package multirun

import (
	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/goccy/go-json"
)

// marshalSnapshot encodes an AggregateSnapshot the same way the rest of the
// repo encodes JSON payloads (checkpoint/result/platform all use
// goccy/go-json rather than encoding/json).
func marshalSnapshot(snapshot AggregateSnapshot) ([]byte, error) {
	return json.Marshal(snapshot)
}

// BuildMetadataPatch computes a JSON merge patch (RFC 7396, via
// evanphx/json-patch/v5) between two AggregateSnapshot encodings, so an
// AggregateObserver watching the multi-run dashboard can apply an
// incremental diff instead of re-reading the full snapshot on every sub-run
// transition. When before is nil (first update), the patch is simply the
// full after document.
func BuildMetadataPatch(before, after []byte) ([]byte, error) {
	if before == nil {
		return after, nil
	}
	return jsonpatch.CreateMergePatch(before, after)
}
