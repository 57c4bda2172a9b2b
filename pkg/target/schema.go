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

package target

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// targetsSchema is the JSON schema a targets document must satisfy. It
// guards the shape before the stricter semantic checks in NewResolver run.
const targetsSchema = `{
  "type": "object",
  "required": ["targets"],
  "properties": {
    "targets": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "required": ["kind"],
        "properties": {
          "kind": {"type": "string", "minLength": 1},
          "workers": {"type": "integer", "minimum": 0},
          "judge_target": {"type": "string"},
          "workspace_template": {"type": "string"},
          "cwd": {"type": "string"},
          "provider_batching": {
            "type": "object",
            "properties": {
              "enabled": {"type": "boolean"},
              "size": {"type": "integer", "minimum": 1}
            }
          },
          "config": {
            "type": "object",
            "additionalProperties": {"type": "string"}
          }
        }
      }
    }
  }
}`

// validateTargetsDoc checks an interpolated targets document against the
// embedded schema.
func validateTargetsDoc(content []byte) error {
	var doc any
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(targetsSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("schema violations: %s", strings.Join(problems, "; "))
	}
	return nil
}
