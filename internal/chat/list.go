package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chat-client/internal/logging"
	"chat-client/internal/models"
	"chat-client/internal/realtime"
)

// ChatList keeps the sidebar of chat previews current.
type ChatList struct {
	api    ChatAPI
	userID int
	log    zerolog.Logger

	mu    sync.Mutex
	chats []models.Chat
	gen   uint64

	unsubs []func()
}

func NewChatList(session *realtime.Session, chats ChatAPI, userID int, log zerolog.Logger) *ChatList {
	l := &ChatList{
		api:    chats,
		userID: userID,
		log:    logging.Component(log, "chat_list"),
	}
	l.unsubs = append(l.unsubs,
		realtime.On(session, models.EventNewMessage, func(models.Message) {
			go l.refreshInBackground()
		}),
		realtime.On(session, models.EventUserOnline, func(ev models.UserOnlineEvent) {
			l.setPresence(ev.UserID, true, nil)
		}),
		realtime.On(session, models.EventUserOffline, func(ev models.UserOnlineEvent) {
			lastSeen := ev.LastSeen
			if lastSeen == nil {
				now := time.Now()
				lastSeen = &now
			}
			l.setPresence(ev.UserID, false, lastSeen)
		}),
	)
	return l
}

// Refresh reloads the previews. A result that was overtaken by a newer refresh
// is dropped.
func (l *ChatList) Refresh(ctx context.Context) error {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	chats, err := l.api.ChatPreviews(ctx, l.userID)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen == l.gen {
		l.chats = chats
	}
	return nil
}

func (l *ChatList) refreshInBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := l.Refresh(ctx); err != nil {
		l.log.Warn().Err(err).Msg("chat list refresh failed")
	}
}

func (l *ChatList) setPresence(userID int, online bool, lastSeen *time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.chats {
		members := l.chats[i].Members
		for j := range members {
			if members[j].UserID != userID {
				continue
			}
			members[j].IsOnline = online
			if lastSeen != nil {
				members[j].LastSeen = lastSeen
			}
			if members[j].User != nil {
				user := *members[j].User
				user.IsOnline = online
				if lastSeen != nil {
					user.LastSeen = lastSeen
				}
				members[j].User = &user
			}
		}
	}
}

// Chats returns a copy of the current previews.
func (l *ChatList) Chats() []models.Chat {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneChats(l.chats)
}

// Filter returns the chats whose display name contains query, ignoring case.
func (l *ChatList) Filter(query string) []models.Chat {
	query = strings.ToLower(strings.TrimSpace(query))
	l.mu.Lock()
	defer l.mu.Unlock()
	if query == "" {
		return cloneChats(l.chats)
	}
	var out []models.Chat
	for _, c := range l.chats {
		if strings.Contains(strings.ToLower(c.DisplayName(l.userID)), query) {
			out = append(out, c)
		}
	}
	return cloneChats(out)
}

func (l *ChatList) Close() {
	for _, unsubscribe := range l.unsubs {
		unsubscribe()
	}
	l.unsubs = nil
}

func cloneChats(chats []models.Chat) []models.Chat {
	out := make([]models.Chat, len(chats))
	for i, c := range chats {
		c.Members = append([]models.Member(nil), c.Members...)
		out[i] = c
	}
	return out
}
