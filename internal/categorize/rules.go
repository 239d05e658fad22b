// Package categorize assigns rule-based delay categories to remarks and
// groups workflow steps into the department / service hierarchy.
package categorize

import (
	"fmt"
	"os"
	"strings"

	"workflowaudit/internal/domain"

	"gopkg.in/yaml.v3"
)

type Rule struct {
	Category domain.Category `yaml:"category"`
	Keywords []string        `yaml:"keywords"`
}

// RuleSet is evaluated in order; the first rule with a matching keyword wins.
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultRules covers the seven fixed categories. Applicant and external
// rules sit ahead of the generic process rule so "awaiting applicant" does
// not fall into Process Delay.
var DefaultRules = RuleSet{Rules: []Rule{
	{Category: domain.CategoryDocumentation, Keywords: []string{
		"document", "documents", "certificate", "affidavit", "proof", "attachment", "deed", "missing paper",
		"incomplete form", "signature", "photocopy", "not attached", "upload",
	}},
	{Category: domain.CategoryCommunication, Keywords: []string{
		"not reachable", "no response", "not responding", "phone", "contact", "informed", "intimation",
		"sms", "email", "call", "notice sent", "unreachable",
	}},
	{Category: domain.CategoryApplicant, Keywords: []string{
		"applicant", "citizen", "owner absent", "resubmit", "re-submit", "clarification from", "fee not paid",
		"payment pending", "not present", "did not appear",
	}},
	{Category: domain.CategoryExternal, Keywords: []string{
		"noc", "other department", "court", "legal", "bank", "third party", "external", "utility",
		"police", "collector", "awaiting report from",
	}},
	{Category: domain.CategoryEmployee, Keywords: []string{
		"server", "system down", "software", "portal", "technical", "login", "staff shortage", "on leave",
		"officer absent", "workload", "transferred", "not logged",
	}},
	{Category: domain.CategoryComplexity, Keywords: []string{
		"complex", "dispute", "multiple owners", "survey", "measurement", "site inspection", "field verification",
		"boundary", "encroachment", "mutation",
	}},
	{Category: domain.CategoryProcess, Keywords: []string{
		"pending", "forwarded", "approval", "verification", "queue", "backlog", "awaiting", "under process",
		"sent to", "returned", "recheck",
	}},
}}

// LoadRules reads a YAML rule file. Every rule must name one of the fixed
// categories so rule-based classification never emits a free-form label.
func LoadRules(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read category rules: %w", err)
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("parse category rules yaml: %w", err)
	}
	for i, rule := range rs.Rules {
		normalized := Normalize(string(rule.Category))
		if normalized == domain.CategoryUncategorized {
			return RuleSet{}, fmt.Errorf("rule %d: unknown category %q", i, rule.Category)
		}
		rs.Rules[i].Category = normalized
	}
	if len(rs.Rules) == 0 {
		return RuleSet{}, fmt.Errorf("category rules file %s has no rules", path)
	}
	return rs, nil
}

// Classify returns the category of the first rule matching remark,
// case-insensitively, or Uncategorized.
func (rs RuleSet) Classify(remark string) domain.Category {
	text := strings.ToLower(strings.TrimSpace(remark))
	if text == "" {
		return domain.CategoryUncategorized
	}
	for _, rule := range rs.Rules {
		for _, kw := range rule.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(text, kw) {
				return rule.Category
			}
		}
	}
	return domain.CategoryUncategorized
}

// categoryAliases maps loose labels, typically from model output, onto the
// fixed set. Keys are compared after lower-casing and trimming.
var categoryAliases = map[string]domain.Category{
	"documentation":              domain.CategoryDocumentation,
	"documentation issue":        domain.CategoryDocumentation,
	"document":                   domain.CategoryDocumentation,
	"communication":              domain.CategoryCommunication,
	"communication gap":          domain.CategoryCommunication,
	"process":                    domain.CategoryProcess,
	"process delay":              domain.CategoryProcess,
	"procedural":                 domain.CategoryProcess,
	"applicant":                  domain.CategoryApplicant,
	"applicant-side":             domain.CategoryApplicant,
	"applicant-side delay":       domain.CategoryApplicant,
	"applicant side delay":       domain.CategoryApplicant,
	"citizen":                    domain.CategoryApplicant,
	"employee":                   domain.CategoryEmployee,
	"employee-side":              domain.CategoryEmployee,
	"system":                     domain.CategoryEmployee,
	"employee/system-side":       domain.CategoryEmployee,
	"employee/system-side delay": domain.CategoryEmployee,
	"employee side delay":        domain.CategoryEmployee,
	"external":                   domain.CategoryExternal,
	"external dependency":        domain.CategoryExternal,
	"complexity":                 domain.CategoryComplexity,
	"complex case":               domain.CategoryComplexity,
	"uncategorized":              domain.CategoryUncategorized,
}

// Normalize maps a free-text label onto the fixed category set. Anything it
// cannot place becomes Uncategorized.
func Normalize(label string) domain.Category {
	key := strings.ToLower(strings.TrimSpace(label))
	key = strings.Trim(key, ".*_\"'` ")
	if key == "" {
		return domain.CategoryUncategorized
	}
	for _, c := range domain.Categories {
		if strings.EqualFold(key, string(c)) {
			return c
		}
	}
	if c, ok := categoryAliases[key]; ok {
		return c
	}
	for alias, c := range categoryAliases {
		if strings.HasPrefix(key, alias+" ") {
			return c
		}
	}
	return domain.CategoryUncategorized
}
