package entity

// Agent is the read-only description of one participating agent, supplied by
// the external org resolver as precomputed data. The core never computes this
// graph; it only reads it.
type Agent struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	System      string `json:"system,omitempty" yaml:"system"`

	// Collaborators holds the ids of directly-referenced peer agents,
	// already expanded by the org resolver.
	Collaborators []string `json:"collaborators,omitempty" yaml:"collaborators"`

	// ContextBlock is a human-readable preamble (collaborator descriptions,
	// embedded file and tool content) primed into the system prompt exactly
	// once per thread.
	ContextBlock string `json:"contextBlock,omitempty" yaml:"contextBlock"`
}
