package auth

import "context"

// SetAgentIDForTest injects an agent ID into the context for testing purposes.
func SetAgentIDForTest(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}
