package session

import (
	"fmt"

	"github.com/habiliai/parley/entity"
)

// PeerLookup is the result of resolving a collaborator by id. Lookup
// failures are ordinary data, not errors: the reader is the model itself,
// which must be able to recover conversationally.
type PeerLookup struct {
	Agent *entity.Agent `json:"agent,omitempty"`
	Error string        `json:"error,omitempty"`
}

// LookupPeer resolves one of the agent's directly-referenced collaborators.
func (s *Session) LookupPeer(id string) PeerLookup {
	referenced := false
	for _, peer := range s.agent.Collaborators {
		if peer == id {
			referenced = true
			break
		}
	}
	if !referenced {
		return PeerLookup{Error: fmt.Sprintf("agent %q is not a collaborator of %q", id, s.agent.ID)}
	}

	if s.opts.Roster == nil {
		return PeerLookup{Error: fmt.Sprintf("agent %q is not available", id)}
	}
	peer, ok := s.opts.Roster.Get(id)
	if !ok {
		return PeerLookup{Error: fmt.Sprintf("agent %q is not available", id)}
	}

	return PeerLookup{Agent: &peer}
}
