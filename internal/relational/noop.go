package relational

import "context"

// Noop serves empty blocks when no relational database is configured.
type Noop struct{}

// SearchMemory implements the recall interface with an empty block.
func (Noop) SearchMemory(context.Context, string) (string, error) { return "", nil }

// SearchInformation implements the recall interface with an empty block.
func (Noop) SearchInformation(context.Context, string) (string, error) {
	return FormatInformation(nil, nil), nil
}

// SearchTasks implements the recall interface with an empty block.
func (Noop) SearchTasks(context.Context, string) (string, error) { return FormatTasks(nil), nil }

// SearchCareer implements the recall interface with an empty block.
func (Noop) SearchCareer(context.Context, string) (string, error) { return "", nil }
