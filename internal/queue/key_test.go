package queue

import (
	"testing"

	"github.com/turnpikehq/turnpike/internal/store"
)

func TestBuildSessionKey(t *testing.T) {
	got := BuildSessionKey("general", "telegram", store.ChatGroup, "-100123")
	want := "agent:general:telegram:group:-100123"
	if got != want {
		t.Errorf("BuildSessionKey = %q, want %q", got, want)
	}
}

func TestBuildCronSessionKey(t *testing.T) {
	tests := []struct {
		name  string
		jobID string
		want  string
	}{
		{"plain id", "daily-report", "agent:ops:cron:daily-report"},
		{"already canonical", "agent:ops:cron:daily-report", "agent:ops:cron:daily-report"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildCronSessionKey("ops", tt.jobID); got != tt.want {
				t.Errorf("BuildCronSessionKey = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseSessionKey(t *testing.T) {
	tests := []struct {
		key   string
		agent string
		rest  string
	}{
		{"agent:general:telegram:private:42", "general", "telegram:private:42"},
		{"agent:ops:cron:job1", "ops", "cron:job1"},
		{"bogus", "", ""},
		{"agent:only", "", ""},
	}
	for _, tt := range tests {
		agent, rest := ParseSessionKey(tt.key)
		if agent != tt.agent || rest != tt.rest {
			t.Errorf("ParseSessionKey(%q) = (%q, %q), want (%q, %q)", tt.key, agent, rest, tt.agent, tt.rest)
		}
	}
}
