// Package matcher selects the enabled workflow definitions that apply to a domain event.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
)

// Matcher narrows the enabled definitions of an organization down to the ones whose scope and
// trigger_config are compatible with an event.
type Matcher struct {
	workflows persistence.WorkflowRepository
	logger    *slog.Logger
}

func New(logger *slog.Logger, workflows persistence.WorkflowRepository) *Matcher {
	return &Matcher{
		workflows: workflows,
		logger:    logger.With("module", "matcher"),
	}
}

// FindMatching returns enabled definitions of orgID for triggerType that are in scope for an
// entity owned by entityOwnerID and whose trigger_config accepts eventData.
func (m *Matcher) FindMatching(
	ctx context.Context,
	orgID string,
	triggerType models.TriggerType,
	eventData map[string]any,
	entityOwnerID string,
) ([]*models.WorkflowDefinition, error) {
	candidates, err := m.workflows.ListEnabled(ctx, orgID, triggerType)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled workflows: %w", err)
	}

	matched := make([]*models.WorkflowDefinition, 0, len(candidates))

	for _, workflow := range candidates {
		if !workflow.IsEnabled || workflow.TriggerType != triggerType {
			continue
		}

		if !workflow.AppliesToOwner(entityOwnerID) {
			continue
		}

		config, err := models.ParseTriggerConfig(workflow.TriggerType, workflow.TriggerConfig)
		if err != nil {
			m.logger.WarnContext(ctx, "skipping workflow with invalid trigger config",
				"workflow_id", workflow.ID, "error", err)

			continue
		}

		if !Matches(config, eventData) {
			continue
		}

		matched = append(matched, workflow)
	}

	m.logger.DebugContext(ctx, "Completed workflow matching",
		"organization_id", orgID,
		"trigger_type", triggerType,
		"candidates", len(candidates),
		"matches_found", len(matched))

	return matched, nil
}

// Matches applies the trigger-type specific rule of config to the event payload.
func Matches(config models.TriggerConfig, eventData map[string]any) bool {
	switch c := config.(type) {
	case *models.StatusChangedConfig:
		return matchStatusChanged(c, eventData)
	case *models.AssignedConfig:
		return expectEqual(c.ToUserID, eventData, models.EventKeyNewOwnerID)
	case *models.UpdatedConfig:
		return matchUpdated(c, eventData)
	default:
		return true
	}
}

func matchStatusChanged(config *models.StatusChangedConfig, eventData map[string]any) bool {
	return expectEqual(config.ToStageID, eventData, models.EventKeyToStageID) &&
		expectEqual(config.FromStageID, eventData, models.EventKeyFromStageID) &&
		expectEqual(config.ToStatus, eventData, models.EventKeyToStatus) &&
		expectEqual(config.FromStatus, eventData, models.EventKeyFromStatus)
}

func matchUpdated(config *models.UpdatedConfig, eventData map[string]any) bool {
	changed := stringSet(eventData[models.EventKeyChangedFields])

	for _, field := range config.Fields {
		if _, ok := changed[field]; ok {
			return true
		}
	}

	return false
}

// expectEqual is true when the config does not constrain the key or the event carries the
// same value.
func expectEqual(expected *string, eventData map[string]any, key string) bool {
	if expected == nil {
		return true
	}

	actual, ok := eventData[key]
	if !ok || actual == nil {
		return false
	}

	return fmt.Sprint(actual) == *expected
}

func stringSet(value any) map[string]struct{} {
	set := make(map[string]struct{})

	switch v := value.(type) {
	case []string:
		for _, s := range v {
			set[s] = struct{}{}
		}
	case []any:
		for _, item := range v {
			set[fmt.Sprint(item)] = struct{}{}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				set[s] = struct{}{}
			}
		}
	}

	return set
}
