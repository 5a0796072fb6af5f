package chain

import (
	"strings"
)

// Relations detected between consecutive steps.
const (
	RelationEntityTransfer   = "entity_transfer"
	RelationLocationTransfer = "location_transfer"
)

// Detector recognizes one kind of dependency between a step and the step
// before it.
type Detector struct {
	Relation string
	Match    func(prev, cur *Step) bool
}

// DefaultDetectors returns the built-in detectors in evaluation order. The
// first match wins.
func DefaultDetectors() []Detector {
	return []Detector{
		{Relation: RelationEntityTransfer, Match: entityTransfer},
		{Relation: RelationLocationTransfer, Match: locationTransfer},
	}
}

// resultIDKeys name the fields a tool result carries its entity id in.
var resultIDKeys = []string{"id", "_id", "entityId"}

// targetIDKeys name the parameters a tool takes its target entity id from.
var targetIDKeys = []string{"id", "entityId", "targetId", "itemId", "item_id", "contactId", "contact_id", "taskId", "task_id", "locationId", "location_id"}

// entityTransfer matches when the current call targets the entity the
// previous call returned.
func entityTransfer(prev, cur *Step) bool {
	produced := resultEntityIDs(prev.Result)
	if len(produced) == 0 {
		return false
	}
	for _, k := range targetIDKeys {
		if id, ok := cur.Params[k].(string); ok && id != "" {
			if _, hit := produced[id]; hit {
				return true
			}
		}
	}
	return false
}

// locationTransfer matches when a location lookup's result name feeds the
// origin of a following time estimate.
func locationTransfer(prev, cur *Step) bool {
	if !strings.Contains(strings.ToLower(prev.ToolName), "location") {
		return false
	}
	if !strings.Contains(strings.ToLower(cur.ToolName), "estimate") {
		return false
	}

	origin, ok := cur.Params["origin"].(string)
	if !ok || strings.TrimSpace(origin) == "" {
		return false
	}

	name := locationName(prev.Result)
	return name != "" && strings.EqualFold(strings.TrimSpace(name), strings.TrimSpace(origin))
}

// resultEntityIDs collects ids from the top level of a result and from its
// direct child objects, e.g. {"item": {"id": "x"}}.
func resultEntityIDs(result any) map[string]struct{} {
	ids := make(map[string]struct{})
	collect := func(m map[string]any) {
		for _, k := range resultIDKeys {
			if id, ok := m[k].(string); ok && id != "" {
				ids[id] = struct{}{}
			}
		}
	}

	m, ok := result.(map[string]any)
	if !ok {
		return ids
	}
	collect(m)
	for _, v := range m {
		if child, ok := v.(map[string]any); ok {
			collect(child)
		}
	}
	return ids
}

func locationName(result any) string {
	m, ok := result.(map[string]any)
	if !ok {
		return ""
	}
	if loc, ok := m["location"].(map[string]any); ok {
		if name, ok := loc["name"].(string); ok {
			return name
		}
	}
	if name, ok := m["name"].(string); ok {
		return name
	}
	return ""
}
