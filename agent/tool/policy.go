package tool

import (
	_ "embed"
	"fmt"
	"sort"

	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var defaultPolicyYAML []byte

// Policy is the Tool Classification Registry: a per-assistant, read-only map
// from tool name to safe/sensitive, fixed at startup.
type Policy struct {
	byAgent map[contractx.AgentType]map[string]statex.Classification
}

// DefaultPolicy parses the embedded policy.yaml.
func DefaultPolicy() (*Policy, error) {
	return ParsePolicy(defaultPolicyYAML)
}

func ParsePolicy(data []byte) (*Policy, error) {
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse tool policy: %w", err)
	}

	known := make(map[contractx.AgentType]bool, len(contractx.Assistants))
	for _, a := range contractx.Assistants {
		known[a] = true
	}

	p := &Policy{byAgent: make(map[contractx.AgentType]map[string]statex.Classification, len(raw))}
	for agent, tools := range raw {
		agentType := contractx.AgentType(agent)
		if !known[agentType] {
			return nil, fmt.Errorf("%w: tool policy names unknown assistant %q", contractx.ErrValidation, agent)
		}
		m := make(map[string]statex.Classification, len(tools))
		for name, cls := range tools {
			c := statex.Classification(cls)
			if name == "" || !c.Valid() {
				return nil, fmt.Errorf("%w: tool policy %s.%s has classification %q", contractx.ErrValidation, agent, name, cls)
			}
			m[name] = c
		}
		p.byAgent[agentType] = m
	}
	return p, nil
}

func (p *Policy) Classify(agentType contractx.AgentType, tool string) (statex.Classification, bool) {
	if p == nil {
		return "", false
	}
	c, ok := p.byAgent[agentType][tool]
	return c, ok
}

// Tools returns the registered tool names of an assistant in sorted order.
func (p *Policy) Tools(agentType contractx.AgentType) []string {
	if p == nil {
		return nil
	}
	names := make([]string, 0, len(p.byAgent[agentType]))
	for name := range p.byAgent[agentType] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
