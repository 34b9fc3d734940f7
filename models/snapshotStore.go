package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"bitbucket.org/mmdatafocus/profitshare_backend/config"
	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSnapshotNotFound is a normal, expected outcome: the report was never
// archived for that key. Callers must not treat it as an infrastructure error.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// ErrDuplicateSnapshotId: the snapshot id is unique-indexed, so a client retry
// that reuses an id surfaces here instead of as a second archive row.
var ErrDuplicateSnapshotId = errors.New("snapshot id already archived")

func isMySQLDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// SnapshotStore is the archive boundary: append-only snapshot rows with
// latest-wins current-pointer retrieval. Two implementations: GORM/MySQL for
// production, in-memory for tests and the harness tool.
type SnapshotStore interface {
	// PutSnapshot appends a snapshot row and atomically repoints the current
	// pointer for its (reportType, profitYear). Writes for the same key are
	// serialized; no row is ever lost.
	PutSnapshot(ctx context.Context, snap *ArchivedSnapshot) error

	// GetCurrentSnapshot returns ErrSnapshotNotFound when no current snapshot
	// exists for the key.
	GetCurrentSnapshot(ctx context.Context, reportType string, profitYear int) (*ArchivedSnapshot, error)

	// GetSnapshotHistory returns snapshots for the key, newest first, capped
	// at limit (<=0 means the default page size).
	GetSnapshotHistory(ctx context.Context, reportType string, profitYear int, limit int) ([]*ArchivedSnapshot, error)

	// ListCurrentKeys returns every key with a current snapshot, optionally
	// filtered to one profit year.
	ListCurrentKeys(ctx context.Context, profitYear *int) ([]SnapshotKey, error)
}

// ---------------------------------------------------------------------------
// GORM implementation

type GormSnapshotStore struct {
	DB *gorm.DB
}

func NewGormSnapshotStore(db *gorm.DB) *GormSnapshotStore {
	return &GormSnapshotStore{DB: db}
}

// acquireArchiveLock serializes archival per (reportType, profitYear) across
// instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so it must run on the same *gorm.DB
// that performs the write transaction.
func acquireArchiveLock(tx *gorm.DB, reportType string, profitYear int) error {
	lockName := fmt.Sprintf("archive:%s:%d", reportType, profitYear)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire archive lock for %s/%d", reportType, profitYear)
	}
	return nil
}

func releaseArchiveLock(tx *gorm.DB, reportType string, profitYear int) {
	lockName := fmt.Sprintf("archive:%s:%d", reportType, profitYear)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}

func snapshotCacheKey(reportType string, profitYear int) string {
	return fmt.Sprintf("snapshot:current:%s:%d", reportType, profitYear)
}

func (s *GormSnapshotStore) PutSnapshot(ctx context.Context, snap *ArchivedSnapshot) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := acquireArchiveLock(tx, snap.ReportType, snap.ProfitYear); err != nil {
			return err
		}
		defer releaseArchiveLock(tx, snap.ReportType, snap.ProfitYear)

		if err := tx.Create(snap).Error; err != nil {
			if isMySQLDuplicateEntry(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateSnapshotId, snap.SnapshotId)
			}
			return err
		}
		ptr := SnapshotPointer{
			ReportType:    snap.ReportType,
			ProfitYear:    snap.ProfitYear,
			SnapshotRowId: snap.ID,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "report_type"}, {Name: "profit_year"}},
			DoUpdates: clause.AssignmentColumns([]string{"snapshot_row_id"}),
		}).Create(&ptr).Error
	})
	if err != nil {
		return err
	}
	// Cache is best-effort: a failed invalidation only extends staleness by the TTL.
	_ = config.RemoveRedisKey(snapshotCacheKey(snap.ReportType, snap.ProfitYear))
	return nil
}

func (s *GormSnapshotStore) GetCurrentSnapshot(ctx context.Context, reportType string, profitYear int) (*ArchivedSnapshot, error) {
	cacheKey := snapshotCacheKey(reportType, profitYear)
	if config.SnapshotCacheEnabled() {
		var cached ArchivedSnapshot
		if hit, err := config.GetRedisObject(cacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	var ptr SnapshotPointer
	err := s.DB.WithContext(ctx).
		Where("report_type = ? AND profit_year = ?", reportType, profitYear).
		First(&ptr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}

	var snap ArchivedSnapshot
	err = s.DB.WithContext(ctx).
		Preload("Entries").
		First(&snap, ptr.SnapshotRowId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}

	if config.SnapshotCacheEnabled() {
		_ = config.SetRedisObject(cacheKey, &snap, config.SnapshotCacheTTL())
	}
	return &snap, nil
}

func (s *GormSnapshotStore) GetSnapshotHistory(ctx context.Context, reportType string, profitYear int, limit int) ([]*ArchivedSnapshot, error) {
	if limit <= 0 {
		limit = config.HistorySearchLimit
	}
	var snaps []*ArchivedSnapshot
	err := s.DB.WithContext(ctx).
		Preload("Entries").
		Where("report_type = ? AND profit_year = ?", reportType, profitYear).
		Order("id DESC").
		Limit(limit).
		Find(&snaps).Error
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

func (s *GormSnapshotStore) ListCurrentKeys(ctx context.Context, profitYear *int) ([]SnapshotKey, error) {
	q := s.DB.WithContext(ctx).Model(&SnapshotPointer{})
	if profitYear != nil {
		q = q.Where("profit_year = ?", *profitYear)
	}
	var keys []SnapshotKey
	if err := q.Select("report_type, profit_year").Order("profit_year, report_type").Scan(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

// ---------------------------------------------------------------------------
// In-memory implementation

// MemorySnapshotStore keeps the same append-only/current-pointer semantics in
// process memory. Used by the DB-free tests and cmd/archive-harness.
type MemorySnapshotStore struct {
	mu      sync.Mutex
	muByKey map[SnapshotKey]*sync.Mutex
	rows    map[SnapshotKey][]*ArchivedSnapshot
	current map[SnapshotKey]int // index into rows
	nextID  int
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{
		muByKey: map[SnapshotKey]*sync.Mutex{},
		rows:    map[SnapshotKey][]*ArchivedSnapshot{},
		current: map[SnapshotKey]int{},
	}
}

func (s *MemorySnapshotStore) keyLock(key SnapshotKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.muByKey[key]
	if m == nil {
		m = &sync.Mutex{}
		s.muByKey[key] = m
	}
	return m
}

func (s *MemorySnapshotStore) PutSnapshot(ctx context.Context, snap *ArchivedSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := SnapshotKey{ReportType: snap.ReportType, ProfitYear: snap.ProfitYear}

	// Per-key serialization, mirroring the advisory lock in the GORM store.
	km := s.keyLock(key)
	km.Lock()
	defer km.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rows := range s.rows {
		for _, row := range rows {
			if row.SnapshotId == snap.SnapshotId {
				return fmt.Errorf("%w: %s", ErrDuplicateSnapshotId, snap.SnapshotId)
			}
		}
	}
	s.nextID++
	stored := cloneSnapshot(snap)
	stored.ID = s.nextID
	for i := range stored.Entries {
		stored.Entries[i].SnapshotRowId = stored.ID
	}
	s.rows[key] = append(s.rows[key], stored)
	s.current[key] = len(s.rows[key]) - 1
	snap.ID = stored.ID
	return nil
}

func (s *MemorySnapshotStore) GetCurrentSnapshot(ctx context.Context, reportType string, profitYear int) (*ArchivedSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := SnapshotKey{ReportType: reportType, ProfitYear: profitYear}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.current[key]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return cloneSnapshot(s.rows[key][idx]), nil
}

func (s *MemorySnapshotStore) GetSnapshotHistory(ctx context.Context, reportType string, profitYear int, limit int) ([]*ArchivedSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = config.HistorySearchLimit
	}
	key := SnapshotKey{ReportType: reportType, ProfitYear: profitYear}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.rows[key]
	out := make([]*ArchivedSnapshot, 0, len(rows))
	for i := len(rows) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneSnapshot(rows[i]))
	}
	return out, nil
}

func (s *MemorySnapshotStore) ListCurrentKeys(ctx context.Context, profitYear *int) ([]SnapshotKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]SnapshotKey, 0, len(s.current))
	for key := range s.current {
		if profitYear != nil && key.ProfitYear != *profitYear {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ProfitYear != keys[j].ProfitYear {
			return keys[i].ProfitYear < keys[j].ProfitYear
		}
		return keys[i].ReportType < keys[j].ReportType
	})
	return keys, nil
}

func cloneSnapshot(in *ArchivedSnapshot) *ArchivedSnapshot {
	out := *in
	out.Entries = make([]ChecksumEntry, len(in.Entries))
	copy(out.Entries, in.Entries)
	return &out
}
