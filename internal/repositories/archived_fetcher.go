package repositories

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"chat-client/internal/api"
	"chat-client/internal/logging"
	"chat-client/internal/models"
)

// MessageSource loads the authoritative history of a chat.
type MessageSource interface {
	ChatMessages(ctx context.Context, chatID int) ([]models.Message, error)
}

// ArchivedFetcher stores every fetched history in the archive and serves the
// archived copy when the source is unreachable.
type ArchivedFetcher struct {
	source  MessageSource
	archive MessageArchive
	log     zerolog.Logger
}

func NewArchivedFetcher(source MessageSource, archive MessageArchive, log zerolog.Logger) *ArchivedFetcher {
	return &ArchivedFetcher{
		source:  source,
		archive: archive,
		log:     logging.Component(log, "archive"),
	}
}

func (f *ArchivedFetcher) ChatMessages(ctx context.Context, chatID int) ([]models.Message, error) {
	msgs, err := f.source.ChatMessages(ctx, chatID)
	if err == nil {
		if saveErr := f.archive.SaveMessages(ctx, chatID, msgs); saveErr != nil {
			f.log.Warn().Err(saveErr).Int(logging.FieldChatID, chatID).Msg("archive snapshot failed")
		}
		return msgs, nil
	}
	if api.IsAuthError(err) || errors.Is(err, api.ErrNotFound) || ctx.Err() != nil {
		return nil, err
	}

	cached, cacheErr := f.archive.ListMessages(ctx, chatID)
	if cacheErr != nil {
		f.log.Warn().Err(cacheErr).Int(logging.FieldChatID, chatID).Msg("archive read failed")
		return nil, err
	}
	if len(cached) == 0 {
		return nil, err
	}
	f.log.Warn().Err(err).Int(logging.FieldChatID, chatID).Int("messages", len(cached)).Msg("serving archived history")
	return cached, nil
}

// Record archives a single confirmed message.
func (f *ArchivedFetcher) Record(ctx context.Context, msg models.Message) {
	if err := f.archive.SaveMessages(ctx, msg.ChatID, []models.Message{msg}); err != nil {
		f.log.Warn().Err(err).Int(logging.FieldMessageID, msg.ID).Msg("archive message failed")
	}
}
