package dto

import "time"

// ThreatVerdict is the result of one detection pass over a set of request
// fields. Produced per call, never persisted beyond logging.
type ThreatVerdict struct {
	Matched  bool     `json:"matched"`
	RuleIDs  []string `json:"rule_ids,omitempty"`
	Severity string   `json:"severity,omitempty"`
}

type RateLimitInfo struct {
	Allowed    bool       `json:"allowed"`
	Remaining  int        `json:"remaining"`
	RetryAfter int64      `json:"retry_after,omitempty"`
	ResetTime  *time.Time `json:"reset_time,omitempty"`
}

// SecurityReportRequest selects the trailing window the report covers.
type SecurityReportRequest struct {
	WindowSeconds int `json:"window_seconds" validate:"omitempty,min=1,max=604800"`
}

type SecurityReport struct {
	Window     string                    `json:"window"`
	Total      int                       `json:"total"`
	ByKind     map[string]int            `json:"by_kind"`
	BySeverity map[string]int            `json:"by_severity"`
	Generated  time.Time                 `json:"generated"`
	KindDetail map[string]map[string]int `json:"kind_detail,omitempty"`
}
