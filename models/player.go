package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

type PlayerRecord struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	IsReady  bool              `json:"isReady"`
	Score    int               `json:"score"`
	GameData map[string]string `json:"gameData,omitempty"`
}

func NewPlayerRecord(id, name string) PlayerRecord {
	return PlayerRecord{
		ID:       id,
		Name:     name,
		GameData: map[string]string{},
	}
}

// Roster is the set of players in a session keyed by player id.
//
// The store keeps the roster as an object keyed by id. Older payloads (and
// the createSessionCode response for a fresh session) carry it as a list, so
// both forms decode into the same map.
type Roster map[string]PlayerRecord

func (r *Roster) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*r = Roster{}
		return nil
	}

	switch trimmed[0] {
	case '{':
		var byID map[string]PlayerRecord
		if err := json.Unmarshal(trimmed, &byID); err != nil {
			return err
		}
		out := make(Roster, len(byID))
		for key, p := range byID {
			if p.ID == "" {
				p.ID = key
			}
			out[key] = p
		}
		*r = out
		return nil
	case '[':
		var list []*PlayerRecord
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		out := make(Roster, len(list))
		for i, p := range list {
			// Sparse arrays come back with null holes.
			if p == nil {
				continue
			}
			if p.ID == "" {
				return fmt.Errorf("roster entry %d has no id", i)
			}
			out[p.ID] = *p
		}
		*r = out
		return nil
	default:
		return fmt.Errorf("roster must be an object or a list, got %q", trimmed[0])
	}
}

func (r Roster) Has(id string) bool {
	_, ok := r[id]
	return ok
}

// IDs returns the player ids in ascending order.
func (r Roster) IDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Players returns the roster ordered by id.
func (r Roster) Players() []PlayerRecord {
	players := make([]PlayerRecord, 0, len(r))
	for _, id := range r.IDs() {
		players = append(players, r[id])
	}
	return players
}

func (r Roster) Clone() Roster {
	out := make(Roster, len(r))
	for id, p := range r {
		if p.GameData != nil {
			data := make(map[string]string, len(p.GameData))
			for k, v := range p.GameData {
				data[k] = v
			}
			p.GameData = data
		}
		out[id] = p
	}
	return out
}
