package notifications

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"chat-client/internal/logging"
	"chat-client/internal/models"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultPageSize     = 20
	clearAllParallelism = 8
)

// API is the notification REST surface.
type API interface {
	Notifications(ctx context.Context, limit, offset int) ([]models.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkNotificationRead(ctx context.Context, notificationID int) error
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, notificationID int) error
}

// Service caches the user's notifications and unread count.
type Service struct {
	api      API
	interval time.Duration
	log      zerolog.Logger

	mu     sync.RWMutex
	items  []models.Notification
	unread int
}

func NewService(api API, pollInterval time.Duration, log zerolog.Logger) *Service {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Service{
		api:      api,
		interval: pollInterval,
		log:      logging.Component(log, "notifications"),
	}
}

// Fetch loads a page. Offset 0 replaces the cached list, later pages append.
func (s *Service) Fetch(ctx context.Context, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	page, err := s.api.Notifications(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if offset == 0 {
		s.items = append([]models.Notification(nil), page...)
	} else {
		s.items = append(s.items, page...)
	}
	s.mu.Unlock()
	return page, nil
}

// RefreshUnread reloads the unread counter.
func (s *Service) RefreshUnread(ctx context.Context) (int, error) {
	count, err := s.api.UnreadCount(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.unread = count
	s.mu.Unlock()
	return count, nil
}

func (s *Service) MarkRead(ctx context.Context, notificationID int) error {
	if err := s.api.MarkNotificationRead(ctx, notificationID); err != nil {
		return err
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == notificationID && !s.items[i].IsRead {
			s.items[i].IsRead = true
			s.items[i].ReadAt = &now
			if s.unread > 0 {
				s.unread--
			}
		}
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context) error {
	if err := s.api.MarkAllNotificationsRead(ctx); err != nil {
		return err
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if !s.items[i].IsRead {
			s.items[i].IsRead = true
			s.items[i].ReadAt = &now
		}
	}
	s.unread = 0
	return nil
}

func (s *Service) Delete(ctx context.Context, notificationID int) error {
	if err := s.api.DeleteNotification(ctx, notificationID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(notificationID)
	return nil
}

func (s *Service) removeLocked(notificationID int) {
	for i := range s.items {
		if s.items[i].ID == notificationID {
			if !s.items[i].IsRead && s.unread > 0 {
				s.unread--
			}
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

// ClearAll deletes every cached notification in parallel and reports how many
// deletions succeeded. Local state is cleared regardless of failures.
func (s *Service) ClearAll(ctx context.Context) (int, error) {
	s.mu.RLock()
	ids := make([]int, 0, len(s.items))
	for _, n := range s.items {
		ids = append(ids, n.ID)
	}
	s.mu.RUnlock()

	var deleted atomic.Int32
	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(clearAllParallelism)
	for _, id := range ids {
		g.Go(func() error {
			if err := s.api.DeleteNotification(gctx, id); err != nil {
				failed.Add(1)
				s.log.Warn().Err(err).Int("notification_id", id).Msg("delete notification failed")
				return nil
			}
			deleted.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	s.items = nil
	s.unread = 0
	s.mu.Unlock()

	s.log.Info().Int32("deleted", deleted.Load()).Int32("failed", failed.Load()).Msg("notifications cleared")
	return int(deleted.Load()), ctx.Err()
}

func (s *Service) Items() []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Notification(nil), s.items...)
}

func (s *Service) Unread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

// Run refreshes the unread count immediately and then every poll interval until
// ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RefreshUnread(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("unread count refresh failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
