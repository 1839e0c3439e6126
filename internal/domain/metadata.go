package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EngagementReport is the monitor-observed portion of session metadata,
// common to every challenge type. Values originate in an environment the
// server does not control and are advisory, not authoritative.
type EngagementReport struct {
	DurationSeconds int       `json:"duration_seconds"`
	Interruptions   int       `json:"interruptions"`
	StartTime       time.Time `json:"start_time,omitzero"`
	EndTime         time.Time `json:"end_time,omitzero"`
}

// SessionMetadata is a tagged variant carried by a session, one concrete
// type per challenge type so required fields stay type-checked.
type SessionMetadata interface {
	// MetadataKind returns the challenge type that owns this variant.
	MetadataKind() ChallengeType

	// Report returns the monitor-observed engagement data.
	Report() EngagementReport
}

// DailyMetadata is the metadata variant for daily challenges.
type DailyMetadata struct {
	Kind ChallengeType `json:"kind"`
	EngagementReport
}

func (m *DailyMetadata) MetadataKind() ChallengeType { return ChallengeDaily }
func (m *DailyMetadata) Report() EngagementReport    { return m.EngagementReport }

// FocusMetadata is the metadata variant for focus challenges. TargetSeconds
// records the (possibly custom) duration the timer counted against.
type FocusMetadata struct {
	Kind ChallengeType `json:"kind"`
	EngagementReport
	TargetSeconds int `json:"target_seconds"`
}

func (m *FocusMetadata) MetadataKind() ChallengeType { return ChallengeFocus }
func (m *FocusMetadata) Report() EngagementReport    { return m.EngagementReport }

// SocialMetadata is the metadata variant for social challenges.
type SocialMetadata struct {
	Kind ChallengeType `json:"kind"`
	EngagementReport
	Participants int `json:"participants,omitempty"`
}

func (m *SocialMetadata) MetadataKind() ChallengeType { return ChallengeSocial }
func (m *SocialMetadata) Report() EngagementReport    { return m.EngagementReport }

// NewMetadata builds the metadata variant matching a challenge type from a
// monitor report.
func NewMetadata(t ChallengeType, report EngagementReport) (SessionMetadata, error) {
	switch t {
	case ChallengeDaily:
		return &DailyMetadata{Kind: t, EngagementReport: report}, nil
	case ChallengeFocus:
		return &FocusMetadata{Kind: t, EngagementReport: report}, nil
	case ChallengeSocial:
		return &SocialMetadata{Kind: t, EngagementReport: report}, nil
	}
	return nil, fmt.Errorf("unknown challenge type %q", t)
}

// EncodeMetadata serializes a metadata variant for storage.
func EncodeMetadata(m SessionMetadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode session metadata: %w", err)
	}
	return data, nil
}

// DecodeMetadata deserializes a stored metadata variant by its kind tag.
func DecodeMetadata(data []byte) (SessionMetadata, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var tag struct {
		Kind ChallengeType `json:"kind"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("decode metadata kind: %w", err)
	}

	var m SessionMetadata
	switch tag.Kind {
	case ChallengeDaily:
		m = &DailyMetadata{}
	case ChallengeFocus:
		m = &FocusMetadata{}
	case ChallengeSocial:
		m = &SocialMetadata{}
	default:
		return nil, fmt.Errorf("unknown metadata kind %q", tag.Kind)
	}

	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode %s metadata: %w", tag.Kind, err)
	}
	return m, nil
}
