package session

import "gamesession/models"

// Diff is the result of reconciling a roster snapshot against the previous
// one.
type Diff struct {
	// Roster is the new snapshot. It replaces the previous roster wholesale.
	Roster models.Roster
	// AddedOrUpdated holds every entry of the new snapshot, ordered by id.
	AddedOrUpdated []models.PlayerRecord
	// JoinedIDs are ids present now that were absent before.
	JoinedIDs []string
	// RemovedIDs are ids present before that are absent now.
	RemovedIDs []string
	// SelfWasKicked is set when the caller was joined and its own id is gone.
	SelfWasKicked bool
}

// Reconcile diffs raw against previous. The change feed delivers whole roster
// snapshots, so the diff is a full replace rather than a patch. A nil or empty
// raw roster is a valid empty roster. The host is never filtered here.
func Reconcile(previous, raw models.Roster, selfID string, wasJoined bool) Diff {
	next := raw.Clone()

	d := Diff{
		Roster:         next,
		AddedOrUpdated: next.Players(),
		SelfWasKicked:  wasJoined && selfID != "" && !next.Has(selfID),
	}
	for _, id := range next.IDs() {
		if !previous.Has(id) {
			d.JoinedIDs = append(d.JoinedIDs, id)
		}
	}
	for _, id := range previous.IDs() {
		if !next.Has(id) {
			d.RemovedIDs = append(d.RemovedIDs, id)
		}
	}
	return d
}

// Changed reports whether membership changed. Field updates to existing
// players do not count.
func (d Diff) Changed() bool {
	return len(d.JoinedIDs) > 0 || len(d.RemovedIDs) > 0
}
