package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Event payload keys read by the trigger-config matchers.
const (
	EventKeyFromStageID   = "from_stage_id"
	EventKeyToStageID     = "to_stage_id"
	EventKeyFromStatus    = "from_status"
	EventKeyToStatus      = "to_status"
	EventKeyNewOwnerID    = "new_owner_id"
	EventKeyChangedFields = "changed_fields"
)

// TriggerConfig is the typed form of a definition's trigger_config.
type TriggerConfig interface {
	TriggerType() TriggerType
}

// StatusChangedConfig narrows status_changed triggers. A nil field means "don't care".
type StatusChangedConfig struct {
	FromStageID *string `json:"from_stage_id,omitempty"`
	ToStageID   *string `json:"to_stage_id,omitempty"`
	FromStatus  *string `json:"from_status,omitempty"`
	ToStatus    *string `json:"to_status,omitempty"`
}

func (StatusChangedConfig) TriggerType() TriggerType { return TriggerStatusChanged }

// AssignedConfig narrows entity_assigned triggers to a specific new owner.
type AssignedConfig struct {
	ToUserID *string `json:"to_user_id,omitempty"`
}

func (AssignedConfig) TriggerType() TriggerType { return TriggerEntityAssigned }

// UpdatedConfig lists the fields whose change fires an entity_updated trigger.
type UpdatedConfig struct {
	Fields []string `json:"fields"`
}

func (UpdatedConfig) TriggerType() TriggerType { return TriggerEntityUpdated }

// OpenConfig is used by trigger types that always structurally match. Its parameters are
// consumed by the external scheduler (sweep window, inactivity days, ...).
type OpenConfig struct {
	Type   TriggerType    `json:"-"`
	Values map[string]any `json:"-"`
}

func (c OpenConfig) TriggerType() TriggerType { return c.Type }

var nullableString = map[string]any{"type": []string{"string", "null"}}

var triggerConfigSchemas = map[TriggerType]map[string]any{
	TriggerStatusChanged: {
		"type": "object",
		"properties": map[string]any{
			"from_stage_id": nullableString,
			"to_stage_id":   nullableString,
			"from_status":   nullableString,
			"to_status":     nullableString,
		},
		"additionalProperties": false,
	},
	TriggerEntityAssigned: {
		"type": "object",
		"properties": map[string]any{
			"to_user_id": nullableString,
		},
		"additionalProperties": false,
	},
	TriggerEntityUpdated: {
		"type": "object",
		"properties": map[string]any{
			"fields": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string", "minLength": 1},
				"minItems": 1,
			},
		},
		"required":             []string{"fields"},
		"additionalProperties": false,
	},
}

// ParseTriggerConfig validates raw against the schema of the trigger type and decodes it.
func ParseTriggerConfig(triggerType TriggerType, raw map[string]any) (TriggerConfig, error) {
	if !triggerType.Valid() {
		return nil, newConfigurationError("trigger_type", fmt.Sprintf("unknown trigger type %q", triggerType))
	}

	if raw == nil {
		raw = map[string]any{}
	}

	schema, ok := triggerConfigSchemas[triggerType]
	if !ok {
		return OpenConfig{Type: triggerType, Values: raw}, nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, newConfigurationError("trigger_config", fmt.Sprintf("schema validation failed: %v", err))
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return nil, newConfigurationError("trigger_config", strings.Join(details, "; "))
	}

	var config TriggerConfig

	switch triggerType {
	case TriggerStatusChanged:
		config = &StatusChangedConfig{}
	case TriggerEntityAssigned:
		config = &AssignedConfig{}
	case TriggerEntityUpdated:
		config = &UpdatedConfig{}
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, newConfigurationError("trigger_config", err.Error())
	}

	if err := json.Unmarshal(encoded, config); err != nil {
		return nil, newConfigurationError("trigger_config", err.Error())
	}

	return config, nil
}
