package session

import (
	"fmt"

	"gamesession/models"
)

type Verdict int

const (
	Valid Verdict = iota
	Missing
	Expired
	// NotWaiting is the strict join rule's rejection: the session exists and
	// is live but no longer accepts players.
	NotWaiting
	// Finished and UnknownStatus are the existence rule's rejections.
	Finished
	UnknownStatus
)

func (v Verdict) String() string {
	switch v {
	case Valid:
		return "valid"
	case Missing:
		return "missing"
	case Expired:
		return "expired"
	case NotWaiting:
		return "not_waiting"
	case Finished:
		return "finished"
	case UnknownStatus:
		return "unknown_status"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Result carries the verdict and, for status rejections, the observed status.
type Result struct {
	Verdict Verdict
	Status  models.SessionStatus
}

func (r Result) OK() bool { return r.Verdict == Valid }

// Err maps the verdict onto the error taxonomy. It is nil for Valid.
func (r Result) Err() error {
	switch r.Verdict {
	case Valid:
		return nil
	case Missing:
		return ErrNotFound
	case Expired:
		return ErrExpired
	case NotWaiting:
		return fmt.Errorf("%w: session is %s, joining needs %s", ErrInvalidState, r.Status, models.StatusWaiting)
	case Finished:
		return fmt.Errorf("%w: session already finished", ErrInvalidState)
	default:
		return fmt.Errorf("%w: unknown session status %q", ErrInvalidState, r.Status)
	}
}

// Check is the join rule: the record must exist, be unexpired at nowMillis
// and be waiting.
func Check(rec *models.SessionRecord, nowMillis int64) Result {
	if rec == nil {
		return Result{Verdict: Missing}
	}
	if rec.ExpiredAt(nowMillis) {
		return Result{Verdict: Expired, Status: rec.SessionStatus}
	}
	if rec.SessionStatus != models.StatusWaiting {
		return Result{Verdict: NotWaiting, Status: rec.SessionStatus}
	}
	return Result{Verdict: Valid, Status: rec.SessionStatus}
}

// CheckExists is the permissive "does this session exist and run" rule. It
// accepts waiting and playing sessions.
func CheckExists(rec *models.SessionRecord, nowMillis int64) Result {
	if rec == nil {
		return Result{Verdict: Missing}
	}
	if rec.ExpiredAt(nowMillis) {
		return Result{Verdict: Expired, Status: rec.SessionStatus}
	}
	switch rec.SessionStatus {
	case models.StatusWaiting, models.StatusPlaying:
		return Result{Verdict: Valid, Status: rec.SessionStatus}
	case models.StatusFinished:
		return Result{Verdict: Finished, Status: rec.SessionStatus}
	}
	return Result{Verdict: UnknownStatus, Status: rec.SessionStatus}
}
