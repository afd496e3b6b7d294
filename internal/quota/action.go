package quota

import "limitgate/internal/storage"

// Action is a metered product operation
type Action int

const (
	ActionScan Action = iota
	ActionPrompt
	ActionCompetitorAdd
	ActionReportGenerate
)

// String returns the action's wire name
func (a Action) String() string {
	switch a {
	case ActionScan:
		return "scan"
	case ActionPrompt:
		return "prompt"
	case ActionCompetitorAdd:
		return "competitor_add"
	case ActionReportGenerate:
		return "report_generate"
	default:
		return "unknown"
	}
}

// LimitType returns the counter and ceiling an action consumes. The mapping
// is fixed at compile time so a new action cannot silently go unmetered.
func (a Action) LimitType() (storage.LimitType, bool) {
	switch a {
	case ActionScan:
		return storage.LimitScans, true
	case ActionPrompt:
		return storage.LimitPrompts, true
	case ActionCompetitorAdd:
		return storage.LimitCompetitors, true
	case ActionReportGenerate:
		return storage.LimitReports, true
	default:
		return 0, false
	}
}
