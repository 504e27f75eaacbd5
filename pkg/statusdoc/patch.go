package statusdoc

import (
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/pkg/errors"
)

// ApplyConfigDelta merges an adhoc provisioning delta into the resolved
// config snapshot embedded in the status document (spec.md §6: fields
// "may be added, never removed or renamed"). RFC 7386 merge patch is the
// right shape for an additive delta — a field present in delta overwrites
// or adds the same field in current — but merge patch also lets a null
// value delete a key, which would violate that invariant, so any
// top-level null in delta is rejected before merging rather than silently
// honored.
func ApplyConfigDelta(current, delta json.RawMessage) (json.RawMessage, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(delta, &probe); err != nil {
		return nil, errors.Wrap(err, "parse config delta")
	}
	for field, v := range probe {
		if string(v) == "null" {
			return nil, errors.Errorf("config delta: refusing to remove field %q via null merge", field)
		}
	}

	merged, err := jsonpatch.MergePatch(current, delta)
	if err != nil {
		return nil, errors.Wrap(err, "apply config delta")
	}
	return merged, nil
}
