package spacedrep

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/abhisek/studyloop/internal/chunks"
	"github.com/abhisek/studyloop/internal/lock"
	"github.com/abhisek/studyloop/internal/logging"
)

// Repository persists review items.
type Repository interface {
	Save(ctx context.Context, it *Item) error
	FindByID(ctx context.Context, id string) (*Item, error)
	// FindByStudent lists a student's items; an empty kbID means all.
	FindByStudent(ctx context.Context, studentID, kbID string) ([]*Item, error)
	// FindDue lists items of every student that are due at now.
	FindDue(ctx context.Context, now time.Time) ([]*Item, error)
	Delete(ctx context.Context, id string) error
}

// ChunkLister lists the chunks of a knowledge base.
type ChunkLister interface {
	List(ctx context.Context, kbID string) ([]*chunks.Chunk, error)
}

// Stats summarises a student's schedule.
type Stats struct {
	Total           int
	Due             int
	New             int
	Learning        int
	Mature          int
	AverageEasiness float64
}

// Service runs SM-2 reviews against persisted items.
type Service struct {
	repo   Repository
	chunks ChunkLister
	locker lock.Locker
	log    *logging.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *logging.Logger) Option { return func(s *Service) { s.log = logging.Or(l) } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithLocker replaces the in-process item lock, e.g. with Redis.
func WithLocker(l lock.Locker) Option { return func(s *Service) { s.locker = l } }

// NewService creates a Service.
func NewService(repo Repository, cl ChunkLister, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		chunks: cl,
		locker: lock.NewKeyedMutex(),
		log:    logging.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitializeForStudent creates an item for every chunk of kbID the student
// does not already have one for. Returns how many were created.
func (s *Service) InitializeForStudent(ctx context.Context, studentID, kbID string) (int, error) {
	if studentID == "" || kbID == "" {
		return 0, apperr.InvalidInput("spacedrep.Initialize", "student and knowledge base are required")
	}
	all, err := s.chunks.List(ctx, kbID)
	if err != nil {
		return 0, fmt.Errorf("list chunks: %w", err)
	}
	existing, err := s.repo.FindByStudent(ctx, studentID, kbID)
	if err != nil {
		return 0, fmt.Errorf("list items: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, it := range existing {
		have[it.ChunkID] = true
	}

	now := s.now()
	created := 0
	for _, c := range all {
		if have[c.ID] {
			continue
		}
		if err := s.repo.Save(ctx, NewItem(studentID, kbID, c.ID, now)); err != nil {
			return created, fmt.Errorf("save item for chunk %s: %w", c.ID, err)
		}
		created++
	}
	s.log.Info("spaced repetition initialized",
		"student_id", studentID, "knowledge_base_id", kbID, "created", created, "existing", len(existing))
	return created, nil
}

// DueItems returns the student's due items in kbID, most overdue first.
// limit <= 0 returns all of them.
func (s *Service) DueItems(ctx context.Context, studentID, kbID string, limit int) ([]*Item, error) {
	items, err := s.repo.FindByStudent(ctx, studentID, kbID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	due := SortDue(items, now)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// SortDue filters items to those due at now, most overdue first. Ties
// fall back to item id for a stable order.
func SortDue(items []*Item, now time.Time) []*Item {
	var due []*Item
	for _, it := range items {
		if it.IsDue(now) {
			due = append(due, it)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		oi, oj := due[i].OverdueDays(now), due[j].OverdueDays(now)
		if oi != oj {
			return oi > oj
		}
		return due[i].ID < due[j].ID
	})
	return due
}

// ReviewItem records a review. Reviews of the same item are serialized
// and always apply to the latest saved state.
func (s *Service) ReviewItem(ctx context.Context, itemID string, quality int) (*Item, error) {
	unlock, err := s.locker.Lock(ctx, "spacedrep:item:"+itemID)
	if err != nil {
		return nil, fmt.Errorf("lock item %s: %w", itemID, err)
	}
	defer unlock()

	it, err := s.repo.FindByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if err := it.Review(quality, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, it); err != nil {
		return nil, fmt.Errorf("save item: %w", err)
	}
	s.log.Debug("item reviewed", "item_id", it.ID, "quality", quality,
		"interval_days", it.IntervalDays, "easiness", it.EasinessFactor)
	return it, nil
}

// Stats summarises the student's items in kbID.
func (s *Service) Stats(ctx context.Context, studentID, kbID string) (Stats, error) {
	items, err := s.repo.FindByStudent(ctx, studentID, kbID)
	if err != nil {
		return Stats{}, err
	}
	now := s.now()
	var st Stats
	var ef float64
	for _, it := range items {
		st.Total++
		ef += it.EasinessFactor
		if it.IsDue(now) {
			st.Due++
		}
		switch it.Status() {
		case StatusNew:
			st.New++
		case StatusLearning:
			st.Learning++
		case StatusMature:
			st.Mature++
		}
	}
	if st.Total > 0 {
		st.AverageEasiness = math.Round(ef/float64(st.Total)*100) / 100
	}
	return st, nil
}
