package notify

import (
	"context"

	"DeepGround/module/chat/model"
	"DeepGround/tools/errs"
)

// Notifications returns the deduplicated list, newest first.
func (s *Service) Notifications() []model.Notification { return s.inbox.List() }

func (s *Service) UnreadCount() int { return s.inbox.Unread() }

// FetchNotifications backfills one page older than cursor. An empty cursor
// continues from the last page fetched.
func (s *Service) FetchNotifications(ctx context.Context, cursor string, limit int) (*model.NotificationPage, error) {
	if cursor == "" {
		cursor, _ = s.inbox.Cursor()
	}
	page, err := s.api.Notifications(ctx, cursor, limit)
	if err != nil {
		return nil, errs.As(errs.ErrUserAction, err)
	}
	s.inbox.AppendPage(*page)
	return page, nil
}

func (s *Service) RefreshUnreadCount(ctx context.Context) (int, error) {
	n, err := s.api.UnreadCount(ctx)
	if err != nil {
		return s.inbox.Unread(), errs.As(errs.ErrUserAction, err)
	}
	s.inbox.SetUnread(n)
	return n, nil
}

// MarkAsRead, MarkAllAsRead and DeleteNotification touch local state only
// after the server accepted the change.
func (s *Service) MarkAsRead(ctx context.Context, id string) error {
	if err := s.api.MarkRead(ctx, id); err != nil {
		return errs.As(errs.ErrUserAction, err)
	}
	s.inbox.MarkRead(id)
	return nil
}

func (s *Service) MarkAllAsRead(ctx context.Context) error {
	if err := s.api.MarkAllRead(ctx); err != nil {
		return errs.As(errs.ErrUserAction, err)
	}
	s.inbox.MarkAllRead()
	return nil
}

func (s *Service) DeleteNotification(ctx context.Context, id string) error {
	if err := s.api.DeleteNotification(ctx, id); err != nil {
		return errs.As(errs.ErrUserAction, err)
	}
	s.inbox.Remove(id)
	return nil
}
