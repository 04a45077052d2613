package ramify

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/ramify/pkg/api"
)

// LoadDefinitionYAML parses a workflow definition from YAML:
//
//	id: doc-approval
//	name: Document approval
//	version: 1
//	enabled: true
//	activities:
//	  - id: start
//	    type: Start
//	    start: true
//	  - id: wait
//	    type: Signal
//	    properties:
//	      signal: manager-approved
//	transitions:
//	  - {from: start, outcome: Done, to: wait}
//
// The definition is validated structurally; activity types resolve at
// registration time against the engine's catalog.
func LoadDefinitionYAML(data []byte) (WorkflowDefinition, error) {
	var def api.WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return WorkflowDefinition{}, fmt.Errorf("parse workflow definition: %w", err)
	}
	if def.Version == 0 {
		def.Version = 1
	}
	if err := def.Validate(); err != nil {
		return WorkflowDefinition{}, err
	}
	return def, nil
}

// LoadDefinitionFile is LoadDefinitionYAML over a file path.
func LoadDefinitionFile(path string) (WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WorkflowDefinition{}, fmt.Errorf("read workflow definition %s: %w", path, err)
	}
	return LoadDefinitionYAML(data)
}
