package routing

import "errors"

var (
	// ErrNoGeneralist is returned when a registry has no generalist agent.
	ErrNoGeneralist = errors.New("registry needs exactly one generalist agent")

	// ErrInvalidAgent is returned for malformed agent declarations.
	ErrInvalidAgent = errors.New("invalid agent")

	// ErrUnknownTool is returned when an agent references an undeclared tool.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrRegistryRequired is returned when a router is built without a registry.
	ErrRegistryRequired = errors.New("agent registry required")
)
