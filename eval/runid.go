package eval

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

var timestampPattern = regexp.MustCompile(`-\d{6}-\d{4}`)

// runIDCounters disambiguates run ids produced within the same process when
// the same base name/model/timestamp-minute collide (spec.md §4.3, grounded
// on the original's class-level `_run_id_counter`).
var (
	runIDCountersMu sync.Mutex
	runIDCounters   = map[string]int{}
)

// BuildRunIdentifiers derives (runID, displayName) for a new run. If
// baseName already embeds a "-YYMMDD-HHMM" timestamp, it is used as-is
// (the caller explicitly supplied a fully-formed run id); otherwise a
// fresh timestamp is appended and a process-wide counter disambiguates
// collisions within the same clock minute.
func BuildRunIdentifiers(baseName, modelName string, now time.Time) (runID, display string) {
	if timestampPattern.MatchString(baseName) {
		return baseName, timestampPattern.ReplaceAllString(baseName, "")
	}

	timestamp := now.Format("060102-1504")
	base := baseName
	if modelName != "" {
		base = base + "-" + modelName
	}
	base = base + "-" + timestamp

	runIDCountersMu.Lock()
	defer runIDCountersMu.Unlock()
	if count, ok := runIDCounters[base]; ok {
		count++
		runIDCounters[base] = count
		return base + "-" + strconv.Itoa(count), baseName
	}
	runIDCounters[base] = 0
	return base, baseName
}

// StripModelProvider removes a "provider/" prefix from a model string
// ("anthropic/claude-opus-4" -> "claude-opus-4"), used for run ids and
// display while the unstripped string is preserved for the task-facing
// Call.Model field (spec.md §6.6).
func StripModelProvider(model string) string {
	if model == "" {
		return ""
	}
	if idx := strings.Index(model, "/"); idx > 0 {
		return model[idx+1:]
	}
	return model
}

// ephemeralConfigKeys are excluded when computing ComputeRunConfigID, since
// they vary per-invocation without representing a semantically different
// run configuration (spec.md: "used by platform to group runs with
// identical configurations").
var ephemeralConfigKeys = map[string]bool{
	"run_name":       true,
	"resume_from":    true,
	"cli_invocation": true,
	"run_metadata":   true,
}

// ComputeRunConfigID computes a stable hash over config, excluding
// ephemeral fields, used by the platform to group runs sharing an
// identical configuration.
func ComputeRunConfigID(config map[string]any) (string, error) {
	stable := make(map[string]any, len(config))
	for k, v := range config {
		if !ephemeralConfigKeys[k] {
			stable[k] = v
		}
	}

	keys := make([]string, 0, len(stable))
	for k := range stable {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, stable[k])
	}
	raw, err := json.Marshal(ordered)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16], nil
}
