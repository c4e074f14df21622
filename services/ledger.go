package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gamesession/models"

	"gorm.io/gorm"
)

// Ledger keeps a durable history of sessions next to the realtime store. The
// reaper uses it to find sessions that outlived their expiry.
type Ledger interface {
	RecordCreated(ctx context.Context, code string, rec models.SessionRecord) error
	RecordDeparture(ctx context.Context, code, playerID string, at time.Time) error
	// ExpiredSessions returns up to limit codes that expired before now and
	// are not yet marked ended.
	ExpiredSessions(ctx context.Context, now time.Time, limit int) ([]string, error)
	MarkEnded(ctx context.Context, code string, at time.Time) error
}

type GormLedger struct {
	db *gorm.DB
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

// Migrate creates the ledger tables.
func (l *GormLedger) Migrate() error {
	return l.db.AutoMigrate(&models.SessionEntry{}, &models.Departure{})
}

func (l *GormLedger) RecordCreated(ctx context.Context, code string, rec models.SessionRecord) error {
	entry := models.SessionEntry{
		Code:       code,
		HostID:     rec.HostID,
		GameMode:   string(rec.GameSetting.GameMode),
		TimeLimit:  rec.GameSetting.TimeLimit,
		ScoreLimit: rec.GameSetting.ScoreLimit,
		ExpiresAt:  rec.ExpiresTime(),
	}
	if err := l.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("record session %s: %w", code, err)
	}
	return nil
}

func (l *GormLedger) RecordDeparture(ctx context.Context, code, playerID string, at time.Time) error {
	var entry models.SessionEntry
	err := l.db.WithContext(ctx).Where("code = ? AND ended_at IS NULL", code).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Sessions created before the ledger existed have no entry.
		return nil
	}
	if err != nil {
		return fmt.Errorf("find session %s: %w", code, err)
	}
	departure := models.Departure{SessionID: entry.ID, PlayerID: playerID, LeftAt: at}
	if err := l.db.WithContext(ctx).Create(&departure).Error; err != nil {
		return fmt.Errorf("record departure %s/%s: %w", code, playerID, err)
	}
	return nil
}

func (l *GormLedger) ExpiredSessions(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var codes []string
	err := l.db.WithContext(ctx).
		Model(&models.SessionEntry{}).
		Where("expires_at < ? AND ended_at IS NULL", now).
		Order("expires_at").
		Limit(limit).
		Pluck("code", &codes).Error
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	return codes, nil
}

func (l *GormLedger) MarkEnded(ctx context.Context, code string, at time.Time) error {
	err := l.db.WithContext(ctx).
		Model(&models.SessionEntry{}).
		Where("code = ? AND ended_at IS NULL", code).
		Update("ended_at", at).Error
	if err != nil {
		return fmt.Errorf("mark session %s ended: %w", code, err)
	}
	return nil
}

// MemoryLedger is the in-process Ledger used when no database is configured.
// sessions holds the latest entry per code; ended entries are replaced when
// their code is allocated again.
type MemoryLedger struct {
	mu         sync.Mutex
	sessions   map[string]*models.SessionEntry
	departures []models.Departure
	nextID     uint
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{sessions: make(map[string]*models.SessionEntry)}
}

func (l *MemoryLedger) RecordCreated(_ context.Context, code string, rec models.SessionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.sessions[code]; ok && prev.EndedAt == nil {
		return fmt.Errorf("record session %s: duplicate code", code)
	}
	l.nextID++
	l.sessions[code] = &models.SessionEntry{
		ID:         l.nextID,
		Code:       code,
		HostID:     rec.HostID,
		GameMode:   string(rec.GameSetting.GameMode),
		TimeLimit:  rec.GameSetting.TimeLimit,
		ScoreLimit: rec.GameSetting.ScoreLimit,
		ExpiresAt:  rec.ExpiresTime(),
		CreatedAt:  time.UnixMilli(rec.CreatedAt),
	}
	return nil
}

func (l *MemoryLedger) RecordDeparture(_ context.Context, code, playerID string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.sessions[code]
	if !ok || entry.EndedAt != nil {
		return nil
	}
	l.departures = append(l.departures, models.Departure{SessionID: entry.ID, PlayerID: playerID, LeftAt: at})
	return nil
}

func (l *MemoryLedger) ExpiredSessions(_ context.Context, now time.Time, limit int) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var expired []*models.SessionEntry
	for _, e := range l.sessions {
		if e.EndedAt == nil && e.ExpiresAt.Before(now) {
			expired = append(expired, e)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	codes := make([]string, len(expired))
	for i, e := range expired {
		codes[i] = e.Code
	}
	return codes, nil
}

func (l *MemoryLedger) MarkEnded(_ context.Context, code string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.sessions[code]; ok && e.EndedAt == nil {
		e.EndedAt = &at
	}
	return nil
}

// Departures returns the departures recorded for code.
func (l *MemoryLedger) Departures(code string) []models.Departure {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.sessions[code]
	if !ok {
		return nil
	}
	var out []models.Departure
	for _, d := range l.departures {
		if d.SessionID == entry.ID {
			out = append(out, d)
		}
	}
	return out
}
