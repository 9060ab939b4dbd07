package cloudgpt

import "context"

// Memory is the per-end-user memory service. The gateway only retrieves
// context before a chat and reports finished exchanges after it.
type Memory interface {
	Retrieve(ctx context.Context, userID, query string) (string, error)
	Remember(ctx context.Context, userID, prompt, reply string) error
}

// NoopMemory remembers nothing.
type NoopMemory struct{}

var _ Memory = NoopMemory{}

func (NoopMemory) Retrieve(context.Context, string, string) (string, error) { return "", nil }
func (NoopMemory) Remember(context.Context, string, string, string) error   { return nil }
