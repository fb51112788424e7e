package domain

import (
	"fmt"
	"strings"
)

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	StatusDraft     CampaignStatus = "draft"
	StatusScheduled CampaignStatus = "scheduled"
	StatusSending   CampaignStatus = "sending"
	StatusPaused    CampaignStatus = "paused"
	StatusCompleted CampaignStatus = "completed"
	StatusCancelled CampaignStatus = "cancelled"
	StatusFailed    CampaignStatus = "failed"
	StatusError     CampaignStatus = "error"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusSending, StatusPaused,
		StatusCompleted, StatusCancelled, StatusFailed, StatusError:
		return true
	}
	return false
}

// IsTerminal reports whether no transition may leave s.
func (s CampaignStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed, StatusError:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (CampaignStatus, error) {
	st := CampaignStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// NonTerminalStatuses lists every status a campaign can still leave.
func NonTerminalStatuses() []CampaignStatus {
	return []CampaignStatus{StatusDraft, StatusScheduled, StatusSending, StatusPaused}
}

var transitions = map[CampaignStatus][]CampaignStatus{
	StatusDraft:     {StatusScheduled, StatusSending, StatusError},
	StatusScheduled: {StatusSending, StatusCancelled, StatusError},
	StatusSending:   {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled, StatusError},
	StatusPaused:    {StatusSending, StatusCancelled, StatusError},
}

// CanTransition reports whether a campaign may move from one status to another.
func CanTransition(from, to CampaignStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status that may transition into to.
func SourcesFor(to CampaignStatus) []CampaignStatus {
	sources := make([]CampaignStatus, 0, 4)
	for _, from := range []CampaignStatus{StatusDraft, StatusScheduled, StatusSending, StatusPaused} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// LogEvent names an execution log entry.
type LogEvent string

const (
	EventCreated   LogEvent = "created"
	EventScheduled LogEvent = "scheduled"
	EventStarted   LogEvent = "started"
	EventPaused    LogEvent = "paused"
	EventResumed   LogEvent = "resumed"
	EventCompleted LogEvent = "completed"
	EventCancelled LogEvent = "cancelled"
	EventFailed    LogEvent = "failed"
	EventError     LogEvent = "error"
)

func (e LogEvent) String() string { return string(e) }
