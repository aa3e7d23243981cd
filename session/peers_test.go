package session_test

import (
	"github.com/habiliai/parley/entity"
	"github.com/habiliai/parley/org"
	"github.com/habiliai/parley/session"
)

func (s *SessionTestSuite) TestLookupPeer() {
	s.agent.Collaborators = []string{"qa"}
	roster := org.NewRoster([]entity.Agent{
		s.agent,
		{ID: "qa", Name: "QA", Description: "Tests code."},
		{ID: "ops", Name: "Ops", Description: "Runs infra."},
	})

	sess := s.spawn(session.WithRoster(roster))

	lookup := sess.LookupPeer("qa")
	s.Require().NotNil(lookup.Agent)
	s.Equal("QA", lookup.Agent.Name)
	s.Empty(lookup.Error)

	// Known to the roster but not a declared collaborator.
	lookup = sess.LookupPeer("ops")
	s.Nil(lookup.Agent)
	s.NotEmpty(lookup.Error)

	lookup = sess.LookupPeer("nobody")
	s.Nil(lookup.Agent)
	s.NotEmpty(lookup.Error)
}

func (s *SessionTestSuite) TestLookupPeerWithoutRoster() {
	s.agent.Collaborators = []string{"qa"}

	sess := s.spawn()

	lookup := sess.LookupPeer("qa")
	s.Nil(lookup.Agent)
	s.NotEmpty(lookup.Error)
}
