package config

import (
	"errors"
	"fmt"

	"firestige.xyz/frameguard/internal/classifier"
	"firestige.xyz/frameguard/internal/core"
)

// RulesConfig describes the rule table.
type RulesConfig struct {
	// Watch reloads the table when the config file changes.
	Watch       bool         `mapstructure:"watch" yaml:"watch"`
	IPv4Options bool         `mapstructure:"ipv4_options" yaml:"ipv4_options"`
	Unmatched   core.Verdict `mapstructure:"unmatched" yaml:"unmatched"`
	Truncated   core.Verdict `mapstructure:"truncated" yaml:"truncated"`
	// Table is evaluated in order, first match wins. When absent the
	// built-in table is used.
	Table []RuleConfig `mapstructure:"table" yaml:"table"`
}

// RuleConfig is one table entry. EtherType and Protocol accept names or
// numbers, see classifier.ParseEtherType and classifier.ParseProtocol.
type RuleConfig struct {
	Name      string       `mapstructure:"name" yaml:"name,omitempty"`
	EtherType string       `mapstructure:"ether_type" yaml:"ether_type"`
	Protocol  string       `mapstructure:"protocol" yaml:"protocol"`
	Verdict   core.Verdict `mapstructure:"verdict" yaml:"verdict"`
}

// BuildTable parses and validates the rules. Every invalid entry is
// reported.
func (rc RulesConfig) BuildTable() (*classifier.Table, error) {
	opts := []classifier.TableOption{
		classifier.WithPolicy(classifier.Policy{Unmatched: rc.Unmatched, Truncated: rc.Truncated}),
		classifier.WithIPv4Options(rc.IPv4Options),
	}
	if rc.Table == nil {
		return classifier.NewTable(classifier.DefaultTable().Rules(), opts...)
	}

	rules := make([]classifier.Rule, 0, len(rc.Table))
	var errs []error
	for i, entry := range rc.Table {
		r, err := entry.rule()
		if err != nil {
			errs = append(errs, fmt.Errorf("rules.table[%d]: %w", i, err))
			continue
		}
		rules = append(rules, r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	table, err := classifier.NewTable(rules, opts...)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	return table, nil
}

func (entry RuleConfig) rule() (classifier.Rule, error) {
	et, err := classifier.ParseEtherType(entry.EtherType)
	if err != nil {
		return classifier.Rule{}, err
	}
	proto, err := classifier.ParseProtocol(entry.Protocol)
	if err != nil {
		return classifier.Rule{}, err
	}
	return classifier.Rule{Name: entry.Name, EtherType: et, Protocol: proto, Verdict: entry.Verdict}, nil
}

// RulesFromTable renders t back into its configuration form.
func RulesFromTable(t *classifier.Table) RulesConfig {
	rc := RulesConfig{
		IPv4Options: t.IPv4Options(),
		Unmatched:   t.Policy().Unmatched,
		Truncated:   t.Policy().Truncated,
		Table:       make([]RuleConfig, 0, t.Len()),
	}
	for _, r := range t.Rules() {
		rc.Table = append(rc.Table, RuleConfig{
			Name:      r.Name,
			EtherType: classifier.EtherTypeName(r.EtherType),
			Protocol:  r.Protocol.String(),
			Verdict:   r.Verdict,
		})
	}
	return rc
}
