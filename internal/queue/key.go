package queue

import (
	"fmt"
	"strings"

	"github.com/turnpikehq/turnpike/internal/store"
)

// Session keys partition queue ordering and dedup scope. Canonical format:
//
//	agent:{agentId}:{channel}:{chatKind}:{chatId}
//
// Scheduled jobs get their own namespace so they never collide with live
// conversations:
//
//	agent:{agentId}:cron:{jobId}

// BuildSessionKey builds the canonical session key for a conversation.
func BuildSessionKey(agentID, channel string, kind store.ChatKind, chatID string) string {
	return fmt.Sprintf("agent:%s:%s:%s:%s", agentID, channel, kind, chatID)
}

// BuildCronSessionKey builds the session key for a scheduled job.
// Guards against double-prefixing when jobID is already a canonical key.
func BuildCronSessionKey(agentID, jobID string) string {
	if _, rest := ParseSessionKey(jobID); rest != "" {
		jobID = strings.TrimPrefix(rest, "cron:")
	}
	return fmt.Sprintf("agent:%s:cron:%s", agentID, jobID)
}

// ParseSessionKey extracts the agentID and rest from a canonical session
// key. Returns ("", "") if the key is not in the expected format.
func ParseSessionKey(key string) (agentID, rest string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "agent" {
		return "", ""
	}
	return parts[1], parts[2]
}
