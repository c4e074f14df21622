package session

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gamesession/models"
)

func absent(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// DecodeRecord parses a sessionCodes/{code} value. An absent value, or a
// fragment left behind by a late sub-path write after the session was
// removed, decodes to nil with no error.
func DecodeRecord(raw []byte) (*models.SessionRecord, error) {
	if absent(raw) {
		return nil, nil
	}
	var rec models.SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: session record: %v", ErrParseFailure, err)
	}
	if rec.HostID == "" && rec.ExpiresAt == 0 {
		return nil, nil
	}
	if rec.ExpiresAt <= rec.CreatedAt {
		return nil, fmt.Errorf("%w: session record expires at %d before creation at %d",
			ErrParseFailure, rec.ExpiresAt, rec.CreatedAt)
	}
	if rec.Players == nil {
		rec.Players = models.Roster{}
	}
	return &rec, nil
}

// DecodeRoster parses a players subtree. Absent means no players.
func DecodeRoster(raw []byte) (models.Roster, error) {
	if absent(raw) {
		return models.Roster{}, nil
	}
	var roster models.Roster
	if err := json.Unmarshal(raw, &roster); err != nil {
		return nil, fmt.Errorf("%w: roster: %v", ErrParseFailure, err)
	}
	return roster, nil
}

// DecodeString parses a quoted string field such as sessionStatus. ok is
// false when the value is absent.
func DecodeString(raw []byte) (value string, ok bool, err error) {
	if absent(raw) {
		return "", false, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false, fmt.Errorf("%w: expected a string, got %s", ErrParseFailure, bytes.TrimSpace(raw))
	}
	return value, true, nil
}

// DecodeStatus parses a sessionStatus value and rejects unknown statuses.
func DecodeStatus(raw []byte) (status models.SessionStatus, ok bool, err error) {
	s, ok, err := DecodeString(raw)
	if err != nil || !ok {
		return "", ok, err
	}
	status = models.SessionStatus(s)
	if !status.Known() {
		return "", false, fmt.Errorf("%w: unknown session status %q", ErrParseFailure, s)
	}
	return status, true, nil
}
