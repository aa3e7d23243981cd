// Package org consumes the precomputed agent/organization graph. Expanding
// roles and groups into flat agent sets happens upstream; this package only
// loads and indexes the result.
package org

import (
	"os"

	"github.com/goccy/go-yaml"
	"github.com/habiliai/parley/entity"
	"github.com/habiliai/parley/errors"
)

// Roster indexes the agents participating in a deployment by id.
type Roster struct {
	agents map[string]entity.Agent
	order  []string
}

func NewRoster(agents []entity.Agent) *Roster {
	r := &Roster{agents: make(map[string]entity.Agent, len(agents))}
	for _, agent := range agents {
		if _, ok := r.agents[agent.ID]; ok {
			continue
		}
		r.agents[agent.ID] = agent
		r.order = append(r.order, agent.ID)
	}
	return r
}

// Get returns the agent with the given id.
func (r *Roster) Get(id string) (entity.Agent, bool) {
	agent, ok := r.agents[id]
	return agent, ok
}

// Agents returns all agents in their declared order.
func (r *Roster) Agents() []entity.Agent {
	agents := make([]entity.Agent, 0, len(r.order))
	for _, id := range r.order {
		agents = append(agents, r.agents[id])
	}
	return agents
}

// Subset returns the agents for the given ids, skipping unknown ids.
func (r *Roster) Subset(ids []string) []entity.Agent {
	agents := make([]entity.Agent, 0, len(ids))
	for _, id := range ids {
		if agent, ok := r.agents[id]; ok {
			agents = append(agents, agent)
		}
	}
	return agents
}

type rosterFile struct {
	Agents []entity.Agent `yaml:"agents"`
}

// LoadRosterFromFile reads a YAML roster of precomputed agent descriptions.
func LoadRosterFromFile(file string) (*Roster, error) {
	yamlBytes, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read file %s", file)
	}

	var rf rosterFile
	if err := yaml.Unmarshal(yamlBytes, &rf); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal file %s", file)
	}

	return NewRoster(rf.Agents), nil
}
