package graph

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/leadflow/engine/pkg/schema"
)

// Per-node-type config schemas, JSON Schema Draft 2020-12. Embedded as
// constants to avoid filesystem dependencies.
var configSchemas = map[schema.NodeType]string{
	schema.NodeTriggerStageEntry: `{
		"type": "object",
		"required": ["stage_id"],
		"properties": {"stage_id": {"type": "string", "minLength": 1}},
		"additionalProperties": false
	}`,
	schema.NodeTriggerScoreChange: `{
		"type": "object",
		"required": ["threshold", "direction"],
		"properties": {
			"threshold": {"type": "number"},
			"direction": {"type": "string", "enum": ["up", "down"]}
		},
		"additionalProperties": false
	}`,
	schema.NodeTriggerFieldChange: `{
		"type": "object",
		"required": ["field"],
		"properties": {
			"field": {"type": "string", "minLength": 1},
			"value": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	schema.NodeTriggerTimeReached: `{
		"type": "object",
		"required": ["cron"],
		"properties": {"cron": {"type": "string", "minLength": 1}},
		"additionalProperties": false
	}`,
	schema.NodeTriggerWebhook: `{
		"type": "object",
		"properties": {
			"filter": {"type": "string"},
			"lead_id_path": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	schema.NodeTriggerManual: `{
		"type": "object",
		"additionalProperties": false
	}`,
	schema.NodeCondition: `{
		"type": "object",
		"properties": {
			"field": {"type": "string"},
			"operator": {"type": "string", "enum": ["eq","ne","gt","gte","lt","lte","contains","not_contains","is_empty","is_not_empty"]},
			"operand": {},
			"expression": {"type": "string"}
		},
		"anyOf": [
			{"required": ["expression"]},
			{"required": ["field", "operator"]}
		],
		"additionalProperties": false
	}`,
	schema.NodeDelay: `{
		"type": "object",
		"properties": {
			"delay_seconds": {"type": "integer", "minimum": 1},
			"delay_until": {"type": "string", "format": "date-time"}
		},
		"anyOf": [
			{"required": ["delay_seconds"]},
			{"required": ["delay_until"]}
		],
		"additionalProperties": false
	}`,
	schema.NodeLoop: `{
		"type": "object",
		"required": ["source"],
		"properties": {
			"source": {"type": "string", "enum": ["list", "audience", "custom"]},
			"items": {"type": "array", "items": {"type": "string"}},
			"max_iterations": {"type": "integer"}
		},
		"additionalProperties": false
	}`,
	schema.NodeEnd: `{
		"type": "object",
		"additionalProperties": false
	}`,
	schema.NodeActionSendMessage: `{
		"type": "object",
		"required": ["platform", "template_id"],
		"properties": {
			"platform": {"type": "string", "minLength": 1},
			"template_id": {"type": "string", "minLength": 1},
			"message_type": {"type": "string"},
			"priority": {"type": "string", "enum": ["low", "normal", "high"]},
			"scheduled_at": {"type": "string", "format": "date-time"}
		},
		"additionalProperties": false
	}`,
	schema.NodeActionAddTag: tagConfigSchema,
	schema.NodeActionRemoveTag: tagConfigSchema,
	schema.NodeActionAssignUser: `{
		"type": "object",
		"required": ["user_id"],
		"properties": {"user_id": {"type": "string", "minLength": 1}},
		"additionalProperties": false
	}`,
	schema.NodeActionChangeStage: `{
		"type": "object",
		"required": ["stage_id"],
		"properties": {"stage_id": {"type": "string", "minLength": 1}},
		"additionalProperties": false
	}`,
	schema.NodeActionUpdateField: `{
		"type": "object",
		"required": ["field"],
		"properties": {
			"field": {"type": "string", "minLength": 1},
			"value": {}
		},
		"additionalProperties": false
	}`,
	schema.NodeActionAgentTask: `{
		"type": "object",
		"required": ["task_type"],
		"properties": {
			"task_type": {"type": "string", "minLength": 1},
			"note": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	schema.NodeActionSendWebhook: `{
		"type": "object",
		"required": ["url"],
		"properties": {
			"url": {"type": "string", "pattern": "^https?://"},
			"secret": {"type": "string"},
			"timeout_seconds": {"type": "integer", "minimum": 1}
		},
		"additionalProperties": false
	}`,
	schema.NodeActionAddAudience:    audienceConfigSchema,
	schema.NodeActionRemoveAudience: audienceConfigSchema,
	schema.NodeActionWaitUntil: `{
		"type": "object",
		"required": ["until"],
		"properties": {"until": {"type": "string", "format": "date-time"}},
		"additionalProperties": false
	}`,
	schema.NodeActionIncrementScore: scoreConfigSchema,
	schema.NodeActionDecrementScore: scoreConfigSchema,
}

const tagConfigSchema = `{
	"type": "object",
	"required": ["tag_id"],
	"properties": {"tag_id": {"type": "string", "minLength": 1}},
	"additionalProperties": false
}`

const audienceConfigSchema = `{
	"type": "object",
	"required": ["audience_id"],
	"properties": {"audience_id": {"type": "string", "minLength": 1}},
	"additionalProperties": false
}`

const scoreConfigSchema = `{
	"type": "object",
	"required": ["delta"],
	"properties": {"delta": {"type": "number", "exclusiveMinimum": 0}},
	"additionalProperties": false
}`

var (
	compileOnce     sync.Once
	compiledSchemas map[schema.NodeType]*jsonschema.Schema
	compileErr      error
)

// compileConfigSchemas compiles all node config schemas once per process.
func compileConfigSchemas() (map[schema.NodeType]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled := make(map[schema.NodeType]*jsonschema.Schema, len(configSchemas))
		for nodeType, raw := range configSchemas {
			c := jsonschema.NewCompiler()
			c.AssertFormat()
			url := fmt.Sprintf("https://leadflow.dev/schemas/config/%s.json", nodeType)
			doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
			if err != nil {
				compileErr = fmt.Errorf("unmarshal %s config schema: %w", nodeType, err)
				return
			}
			if err := c.AddResource(url, doc); err != nil {
				compileErr = fmt.Errorf("add %s config schema: %w", nodeType, err)
				return
			}
			s, err := c.Compile(url)
			if err != nil {
				compileErr = fmt.Errorf("compile %s config schema: %w", nodeType, err)
				return
			}
			compiled[nodeType] = s
		}
		compiledSchemas = compiled
	})
	return compiledSchemas, compileErr
}

// checkConfigs validates each node's config payload against its per-type
// JSON Schema, plus the semantic checks JSON Schema cannot express.
func (g *Graph) checkConfigs(result *schema.ValidationResult) {
	compiled, err := compileConfigSchemas()
	if err != nil {
		result.AddError("/", schema.ErrCodeStructural, err.Error())
		return
	}

	for _, n := range g.Workflow.Nodes {
		s, ok := compiled[n.Type]
		if !ok {
			continue // unknown type already reported
		}
		path := fmt.Sprintf("nodes[%s]", n.ID)

		raw := n.Config
		if len(raw) == 0 {
			raw = []byte(`{}`)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			result.AddError(path, schema.ErrCodeStructural,
				fmt.Sprintf("config is not valid JSON: %s", err.Error()))
			continue
		}
		if err := s.Validate(doc); err != nil {
			result.AddError(path, schema.ErrCodeStructural,
				fmt.Sprintf("invalid %s config: %s", n.Type, err.Error()))
			continue
		}

		if n.Type == schema.NodeLoop {
			var cfg schema.LoopConfig
			if err := n.DecodeConfig(&cfg); err == nil && cfg.MaxIterations <= 0 {
				result.AddWarning(path, schema.ErrCodeStructural,
					"loop has no positive max_iterations; the engine caps it to its default bound")
			}
		}
	}
}
