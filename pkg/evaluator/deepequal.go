// Copyright 2026 AgentV Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package evaluator

import (
	"encoding/json"
	"strconv"
	"strings"
)

// deepEqual compares two decoded YAML/JSON values structurally. Numeric
// values compare by magnitude so that 10 (int from YAML) equals 10.0
// (float64 from JSON).
func deepEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if na, ok := asNumber(a); ok {
		nb, ok := asNumber(b)
		return ok && na == nb
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case map[string]any:
		bv, ok := toStringMap(b)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bval, present := bv[k]
			if !present || !deepEqual(v, bval) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		if av2, ok := toStringMap(a); ok {
			return deepEqual(av2, b)
		}
		return a == b
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// resolvePath walks a value along a dot-bracket path like "a.b[0].c".
// The second return is false when any segment is missing.
func resolvePath(value any, path string) (any, bool) {
	current := value
	for _, segment := range splitPath(path) {
		if segment.index >= 0 {
			list, ok := current.([]any)
			if !ok || segment.index >= len(list) {
				return nil, false
			}
			current = list[segment.index]
			continue
		}
		m, ok := toStringMap(current)
		if !ok {
			return nil, false
		}
		next, present := m[segment.key]
		if !present {
			return nil, false
		}
		current = next
	}
	return current, true
}

type pathSegment struct {
	key   string
	index int // -1 for map keys
}

// splitPath parses "a.b[0].c" into segments a, b, [0], c.
func splitPath(path string) []pathSegment {
	var segments []pathSegment
	for _, part := range strings.Split(path, ".") {
		for {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				if part != "" {
					segments = append(segments, pathSegment{key: part, index: -1})
				}
				break
			}
			if open > 0 {
				segments = append(segments, pathSegment{key: part[:open], index: -1})
			}
			close := strings.IndexByte(part, ']')
			if close <= open {
				// Malformed bracket; treat the remainder as a literal key.
				segments = append(segments, pathSegment{key: part[open:], index: -1})
				break
			}
			idx, err := strconv.Atoi(part[open+1 : close])
			if err != nil {
				segments = append(segments, pathSegment{key: part[open+1 : close], index: -1})
			} else {
				segments = append(segments, pathSegment{index: idx})
			}
			part = part[close+1:]
			if part == "" {
				break
			}
		}
	}
	return segments
}
