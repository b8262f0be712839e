package services

import (
	"fmt"
	"regexp"

	"github.com/alphabatem/common/context"
	"github.com/rkr-ui/BOQMate/shared"
	log "github.com/sirupsen/logrus"
)

// PatternLibraryService holds the versioned table of malicious-input
// signatures. Rules are data, not control flow: the detector iterates the
// table, so the set can grow without touching any call site.
type PatternLibraryService struct {
	context.DefaultService

	rules []ThreatRule
}

type ThreatRule struct {
	ID       string
	Category string
	Severity string
	Expr     string
	regex    *regexp.Regexp
}

const (
	PATTERN_LIBRARY_SVC = "pattern_library_svc"

	// PatternLibraryVersion identifies the signature set; bump on any rule change.
	PatternLibraryVersion = "2025.08"

	CategorySQLInjection     = "sql_injection"
	CategoryScriptInjection  = "script_injection"
	CategoryPathTraversal    = "path_traversal"
	CategoryCommandInjection = "command_injection"
)

func (svc PatternLibraryService) Id() string {
	return PATTERN_LIBRARY_SVC
}

func (svc *PatternLibraryService) Configure(ctx *context.Context) error {
	if err := svc.loadRules(defaultRuleTable); err != nil {
		return err
	}
	return svc.DefaultService.Configure(ctx)
}

func (svc *PatternLibraryService) Start() error {
	log.WithFields(log.Fields{
		"version": PatternLibraryVersion,
		"rules":   len(svc.rules),
	}).Info("Pattern library loaded")
	return nil
}

// loadRules compiles the rule table. A malformed pattern is a configuration
// error and aborts startup.
func (svc *PatternLibraryService) loadRules(table []ThreatRule) error {
	compiled := make([]ThreatRule, 0, len(table))
	for _, rule := range table {
		re, err := regexp.Compile(rule.Expr)
		if err != nil {
			return fmt.Errorf("pattern library: rule %s: %w", rule.ID, err)
		}
		rule.regex = re
		compiled = append(compiled, rule)
	}
	svc.rules = compiled
	return nil
}

// Rules returns the compiled rule set. The slice is shared and must be
// treated as read-only; rules never change after startup.
func (svc *PatternLibraryService) Rules() []ThreatRule {
	return svc.rules
}

func (r *ThreatRule) Match(value string) bool {
	return r.regex.MatchString(value)
}

var defaultRuleTable = []ThreatRule{
	// SQL injection
	{ID: "sqli.union_select", Category: CategorySQLInjection, Severity: shared.SeverityHigh, Expr: `(?i)union[\s/*]+select`},
	{ID: "sqli.or_true", Category: CategorySQLInjection, Severity: shared.SeverityMedium, Expr: `(?i)('|")\s*or\s+('|")?\s*(1\s*=\s*1|true)`},
	{ID: "sqli.and_true", Category: CategorySQLInjection, Severity: shared.SeverityMedium, Expr: `(?i)\band\s+(1\s*=\s*1|true)\b`},
	{ID: "sqli.quote_or_quote", Category: CategorySQLInjection, Severity: shared.SeverityMedium, Expr: `(?i)'\s*or\s*'[^']*'\s*=\s*'`},
	{ID: "sqli.comment_terminator", Category: CategorySQLInjection, Severity: shared.SeverityMedium, Expr: `(?i)';\s*(--|#|/\*)`},
	{ID: "sqli.drop_table", Category: CategorySQLInjection, Severity: shared.SeverityHigh, Expr: `(?i)\bdrop\s+table\b`},
	{ID: "sqli.delete_from", Category: CategorySQLInjection, Severity: shared.SeverityHigh, Expr: `(?i)\bdelete\s+from\b`},
	{ID: "sqli.insert_into", Category: CategorySQLInjection, Severity: shared.SeverityMedium, Expr: `(?i)\binsert\s+into\b`},
	{ID: "sqli.update_set", Category: CategorySQLInjection, Severity: shared.SeverityMedium, Expr: `(?i)\bupdate\s+\w+\s+set\b`},
	{ID: "sqli.truncate", Category: CategorySQLInjection, Severity: shared.SeverityHigh, Expr: `(?i)\btruncate\s+table\b`},
	{ID: "sqli.exec", Category: CategorySQLInjection, Severity: shared.SeverityHigh, Expr: `(?i)\bexec(ute)?\s*\(`},
	{ID: "sqli.sleep", Category: CategorySQLInjection, Severity: shared.SeverityMedium, Expr: `(?i)\b(sleep|benchmark|waitfor\s+delay)\s*\(?`},
	{ID: "sqli.information_schema", Category: CategorySQLInjection, Severity: shared.SeverityMedium, Expr: `(?i)\binformation_schema\b`},
	{ID: "sqli.stacked_query", Category: CategorySQLInjection, Severity: shared.SeverityLow, Expr: `(?i);\s*(select|insert|update|delete)\b`},
	{ID: "sqli.hex_literal", Category: CategorySQLInjection, Severity: shared.SeverityLow, Expr: `(?i)\b0x[0-9a-f]{8,}\b`},

	// Script / markup injection
	{ID: "xss.script_tag", Category: CategoryScriptInjection, Severity: shared.SeverityHigh, Expr: `(?i)<script[^>]*>`},
	{ID: "xss.script_close", Category: CategoryScriptInjection, Severity: shared.SeverityMedium, Expr: `(?i)</script\s*>`},
	{ID: "xss.javascript_uri", Category: CategoryScriptInjection, Severity: shared.SeverityHigh, Expr: `(?i)javascript\s*:`},
	{ID: "xss.event_handler", Category: CategoryScriptInjection, Severity: shared.SeverityMedium, Expr: `(?i)\bon\w+\s*=\s*["']?`},
	{ID: "xss.eval", Category: CategoryScriptInjection, Severity: shared.SeverityMedium, Expr: `(?i)\beval\s*\(`},
	{ID: "xss.document_cookie", Category: CategoryScriptInjection, Severity: shared.SeverityMedium, Expr: `(?i)document\s*\.\s*cookie`},
	{ID: "xss.dom_storage", Category: CategoryScriptInjection, Severity: shared.SeverityLow, Expr: `(?i)\b(localStorage|sessionStorage)\b`},
	{ID: "xss.iframe", Category: CategoryScriptInjection, Severity: shared.SeverityMedium, Expr: `(?i)<iframe[^>]*>`},
	{ID: "xss.img_onerror", Category: CategoryScriptInjection, Severity: shared.SeverityHigh, Expr: `(?i)<img[^>]+onerror`},
	{ID: "xss.base64_data_uri", Category: CategoryScriptInjection, Severity: shared.SeverityLow, Expr: `(?i)data:text/html;base64,`},
	{ID: "xss.svg_onload", Category: CategoryScriptInjection, Severity: shared.SeverityHigh, Expr: `(?i)<svg[^>]+onload`},

	// Path traversal
	{ID: "path.dotdot_slash", Category: CategoryPathTraversal, Severity: shared.SeverityHigh, Expr: `\.\./|\.\.\\`},
	{ID: "path.encoded_dotdot", Category: CategoryPathTraversal, Severity: shared.SeverityHigh, Expr: `(?i)(%2e%2e|\.%2e|%2e\.)(%2f|%5c|/|\\)`},
	{ID: "path.etc_passwd", Category: CategoryPathTraversal, Severity: shared.SeverityHigh, Expr: `(?i)/etc/(passwd|shadow|hosts)`},
	{ID: "path.proc", Category: CategoryPathTraversal, Severity: shared.SeverityMedium, Expr: `(?i)/proc/(self|\d+)/`},
	{ID: "path.sys_dev", Category: CategoryPathTraversal, Severity: shared.SeverityLow, Expr: `(?i)^/(sys|dev)/`},
	{ID: "path.windows_system", Category: CategoryPathTraversal, Severity: shared.SeverityMedium, Expr: `(?i)\\windows\\(system32|win\.ini)`},
	{ID: "path.null_byte", Category: CategoryPathTraversal, Severity: shared.SeverityHigh, Expr: `%00|\x00`},

	// Command / shell injection
	{ID: "cmd.shell_chain", Category: CategoryCommandInjection, Severity: shared.SeverityMedium, Expr: "(?i)[;&|`]\\s*(cat|ls|id|whoami|curl|wget|nc|bash|sh|powershell)\\b"},
	{ID: "cmd.subshell", Category: CategoryCommandInjection, Severity: shared.SeverityHigh, Expr: `\$\([^)]*\)|` + "`[^`]+`"},
	{ID: "cmd.pipe_to_shell", Category: CategoryCommandInjection, Severity: shared.SeverityHigh, Expr: `(?i)\|\s*(ba)?sh\b`},
	{ID: "cmd.rm_rf", Category: CategoryCommandInjection, Severity: shared.SeverityHigh, Expr: `(?i)\brm\s+-rf?\b`},
	{ID: "cmd.redirect_devtcp", Category: CategoryCommandInjection, Severity: shared.SeverityHigh, Expr: `(?i)/dev/tcp/`},
	{ID: "cmd.env_expansion", Category: CategoryCommandInjection, Severity: shared.SeverityLow, Expr: `\$\{[A-Za-z_]+\}`},
}
