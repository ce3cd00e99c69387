// Package classify maps raw device responses to attempt outcomes.
//
// All knowledge about what the bootloader answers lives in a single ordered
// Table. Rules are checked in order and the first matching marker decides;
// a response matching no rule is Unknown, never dropped.
package classify

import (
	"errors"
	"strings"

	"github.com/bootforce/bootforce/pkg/devices"
)

type Outcome int

const (
	Unknown Outcome = iota
	Success
	KnownFailure
	ProtectionTriggered
	Timeout
)

func (o Outcome) String() string {
	switch o {
	case Unknown:
		return "unknown"
	case Success:
		return "success"
	case KnownFailure:
		return "known-failure"
	case ProtectionTriggered:
		return "protection-triggered"
	case Timeout:
		return "timeout"
	}
	return "INVALID"
}

// Rule matches any of its markers, case-insensitively, as a substring of the
// response.
type Rule struct {
	Outcome Outcome
	Markers []string
}

// Markers is the externally configurable response vocabulary. Empty lists
// keep the defaults.
type Markers struct {
	Success    []string `toml:"success"`
	Failure    []string `toml:"failure"`
	Protection []string `toml:"protection"`
}

type Table struct {
	rules []Rule
}

// Failure markers come first: a rejected password must never be mistaken for
// a success just because the answer also mentions unlocking. Any other
// refusal is Unknown.
var defaultRules = []Rule{
	{Outcome: KnownFailure, Markers: []string{"check password failed"}},
	{Outcome: ProtectionTriggered, Markers: []string{"reboot"}},
	{Outcome: Unknown, Markers: []string{"failed", "not allowed", "denied"}},
	{Outcome: Success, Markers: []string{"success", "unlocked"}},
}

func New(rules ...Rule) *Table {
	t := &Table{}
	for _, r := range rules {
		var ms []string
		for _, m := range r.Markers {
			m = strings.ToLower(strings.TrimSpace(m))
			if m != "" {
				ms = append(ms, m)
			}
		}
		t.rules = append(t.rules, Rule{Outcome: r.Outcome, Markers: ms})
	}
	return t
}

func Default() *Table {
	return New(defaultRules...)
}

// WithOverrides returns a copy of t where every non-empty marker list in m
// replaces the markers of the rule with the matching outcome.
func (t *Table) WithOverrides(m Markers) *Table {
	over := map[Outcome][]string{
		Success:             m.Success,
		KnownFailure:        m.Failure,
		ProtectionTriggered: m.Protection,
	}
	var rules []Rule
	for _, r := range t.rules {
		if o := over[r.Outcome]; len(o) > 0 {
			r = Rule{Outcome: r.Outcome, Markers: o}
		}
		rules = append(rules, r)
	}
	return New(rules...)
}

// Rules returns the table in evaluation order.
func (t *Table) Rules() []Rule {
	res := make([]Rule, len(t.rules))
	copy(res, t.rules)
	return res
}

func (t *Table) Classify(resp string) Outcome {
	resp = strings.ToLower(resp)
	if strings.TrimSpace(resp) == "" {
		return Unknown
	}
	for _, r := range t.rules {
		for _, m := range r.Markers {
			if strings.Contains(resp, m) {
				return r.Outcome
			}
		}
	}
	return Unknown
}

// Result classifies the return values of devices.Channel.Submit. A command
// that got no answer counts as a timeout.
func (t *Table) Result(resp string, err error) Outcome {
	if errors.Is(err, devices.ErrTimeout) || errors.Is(err, devices.ErrNoAnswer) {
		return Timeout
	}
	if err != nil {
		return Unknown
	}
	return t.Classify(resp)
}
