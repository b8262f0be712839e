package services

import (
	"github.com/alphabatem/common/context"
	"github.com/rkr-ui/BOQMate/dto"
	"github.com/rkr-ui/BOQMate/shared"
	log "github.com/sirupsen/logrus"
)

// ThreatDetectorService scans structured request data against the pattern
// library. Stateless apart from the rule table; one verdict per call.
type ThreatDetectorService struct {
	context.DefaultService

	patternSvc *PatternLibraryService

	// Strings longer than this are rejected outright, matching the policy
	// of the upstream input validator.
	maxFieldLength int
}

const (
	THREAT_DETECTOR_SVC = "threat_detector_svc"

	defaultMaxFieldLength = 10000

	ruleOversizeField = "input.oversize_field"
	ruleControlBytes  = "input.control_bytes"
)

func (svc ThreatDetectorService) Id() string {
	return THREAT_DETECTOR_SVC
}

func (svc *ThreatDetectorService) Configure(ctx *context.Context) error {
	svc.maxFieldLength = defaultMaxFieldLength
	return svc.DefaultService.Configure(ctx)
}

func (svc *ThreatDetectorService) Start() error {
	svc.patternSvc = svc.Service(PATTERN_LIBRARY_SVC).(*PatternLibraryService)
	return nil
}

// Scan evaluates every field against all rules and aggregates the verdict:
// all matching rule ids, maximum severity observed.
func (svc *ThreatDetectorService) Scan(fields map[string]string) dto.ThreatVerdict {
	verdict := dto.ThreatVerdict{}
	seen := make(map[string]bool)

	for _, value := range fields {
		svc.scanValue(value, seen, &verdict)
	}

	if verdict.Matched {
		log.WithFields(log.Fields{
			"rules":    verdict.RuleIDs,
			"severity": verdict.Severity,
		}).Warn("Threat detector matched request fields")
	}
	return verdict
}

// ScanValue evaluates a single value, for callers that scan content outside
// a field map (e.g. upload bodies).
func (svc *ThreatDetectorService) ScanValue(value string) dto.ThreatVerdict {
	verdict := dto.ThreatVerdict{}
	svc.scanValue(value, make(map[string]bool), &verdict)
	return verdict
}

// ScanContent runs only the pattern rules, skipping the length and
// control-byte checks. Binary upload bodies legitimately contain control
// bytes and exceed the field length cap.
func (svc *ThreatDetectorService) ScanContent(content string) dto.ThreatVerdict {
	verdict := dto.ThreatVerdict{}
	seen := make(map[string]bool)
	for i := range svc.patternSvc.Rules() {
		rule := &svc.patternSvc.Rules()[i]
		if rule.Match(content) {
			svc.addMatch(&verdict, seen, rule.ID, rule.Severity)
		}
	}
	return verdict
}

func (svc *ThreatDetectorService) scanValue(value string, seen map[string]bool, verdict *dto.ThreatVerdict) {
	if len(value) > svc.maxFieldLength {
		svc.addMatch(verdict, seen, ruleOversizeField, shared.SeverityMedium)
		return
	}

	if hasControlBytes(value) {
		svc.addMatch(verdict, seen, ruleControlBytes, shared.SeverityMedium)
	}

	for i := range svc.patternSvc.Rules() {
		rule := &svc.patternSvc.Rules()[i]
		if rule.Match(value) {
			svc.addMatch(verdict, seen, rule.ID, rule.Severity)
		}
	}
}

func (svc *ThreatDetectorService) addMatch(verdict *dto.ThreatVerdict, seen map[string]bool, ruleID, severity string) {
	verdict.Matched = true
	if !seen[ruleID] {
		seen[ruleID] = true
		verdict.RuleIDs = append(verdict.RuleIDs, ruleID)
	}
	if shared.SeverityRank(severity) > shared.SeverityRank(verdict.Severity) {
		verdict.Severity = severity
	}
}

// Blocking reports whether a verdict denies the request. Low-severity matches
// are logged but not blocking, to avoid over-blocking legitimate technical
// vocabulary.
func (svc *ThreatDetectorService) Blocking(verdict dto.ThreatVerdict) bool {
	return verdict.Matched && shared.SeverityRank(verdict.Severity) >= shared.SeverityRank(shared.SeverityMedium)
}

func hasControlBytes(value string) bool {
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' {
			return true
		}
	}
	return false
}
