package rules

import (
	"errors"
	"sort"
	"time"

	apperrors "github.com/frostdev-ops/pma-alerting-go/pkg/errors"
)

// Registry is the read-only rule catalogue. It needs no locking because
// nothing mutates it after NewRegistry returns.
type Registry struct {
	rules []AlarmRule
	byID  map[string]int
}

// NewRegistry validates every rule and builds the registry. All violations
// are reported together; any violation makes the set unusable.
func NewRegistry(list []AlarmRule) (*Registry, error) {
	reg := &Registry{
		rules: make([]AlarmRule, 0, len(list)),
		byID:  make(map[string]int, len(list)),
	}

	var errs []error
	for _, r := range list {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := reg.byID[r.ID]; dup {
			errs = append(errs, apperrors.InvalidRule(r.ID, "duplicate rule id"))
			continue
		}
		reg.byID[r.ID] = len(reg.rules)
		reg.rules = append(reg.rules, r)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return reg, nil
}

// AllRules returns the rules in catalogue order.
func (r *Registry) AllRules() []AlarmRule {
	out := make([]AlarmRule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Rule looks a rule up by id.
func (r *Registry) Rule(id string) (AlarmRule, bool) {
	i, ok := r.byID[id]
	if !ok {
		return AlarmRule{}, false
	}
	return r.rules[i], true
}

// Len returns the number of rules.
func (r *Registry) Len() int {
	return len(r.rules)
}

// Periods returns the distinct periods in ascending order.
func (r *Registry) Periods() []time.Duration {
	seen := make(map[time.Duration]struct{})
	var out []time.Duration
	for _, rule := range r.rules {
		if _, ok := seen[rule.Period]; ok {
			continue
		}
		seen[rule.Period] = struct{}{}
		out = append(out, rule.Period)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RulesForPeriod returns the rules sharing period, in catalogue order.
func (r *Registry) RulesForPeriod(period time.Duration) []AlarmRule {
	var out []AlarmRule
	for _, rule := range r.rules {
		if rule.Period == period {
			out = append(out, rule)
		}
	}
	return out
}

// Retention is the widest evaluation window across the rule set.
func (r *Registry) Retention() time.Duration {
	var max time.Duration
	for _, rule := range r.rules {
		if w := rule.Window(); w > max {
			max = w
		}
	}
	return max
}
