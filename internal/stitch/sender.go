package stitch

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/ferndale-health/stitch/internal/core/chat"
	"github.com/ferndale-health/stitch/internal/core/validate"
	"github.com/ferndale-health/stitch/internal/notify"
	"github.com/ferndale-health/stitch/internal/sync/api"
	"github.com/ferndale-health/stitch/internal/sync/backoff"
)

// SendResult reports the outcome of one delivery attempt chain.
type SendResult struct {
	Message chat.Message
	Err     error
}

// Send validates and dispatches a message. The optimistic placeholder is
// returned immediately; the delivery outcome arrives on the result channel
// once the retry chain settles. The channel is buffered, so an uninterested
// caller may discard it.
func (s *Service) Send(ctx context.Context, chatID, content string) (chat.Message, <-chan SendResult, error) {
	if err := validate.MessageContent(content); err != nil {
		return chat.Message{}, nil, err
	}

	sess, err := s.Session(chatID)
	if err != nil {
		return chat.Message{}, nil, err
	}

	snap := sess.conv.Snapshot()
	msg := chat.NewOptimistic(chatID, content, chat.RoleUser, chat.TypeText, len(snap.Messages))
	sess.conv.Add(msg)

	results := make(chan SendResult, 1)
	go s.deliver(ctx, sess, msg, results)
	return msg, results, nil
}

// RetrySend re-dispatches a failed message. The id and temp id are reused;
// a retry is the same message trying again, not a new one.
func (s *Service) RetrySend(ctx context.Context, chatID, messageID string) (<-chan SendResult, error) {
	sess, err := s.Session(chatID)
	if err != nil {
		return nil, err
	}

	msg, err := sess.conv.Retry(messageID)
	if err != nil {
		return nil, err
	}

	results := make(chan SendResult, 1)
	go s.deliver(ctx, sess, msg, results)
	return results, nil
}

// deliver runs the send retry chain for one message. Transient failures
// back off and retry; permanent rejections and an exhausted budget mark the
// message failed with exactly one toast.
func (s *Service) deliver(ctx context.Context, sess *ChatSession, msg chat.Message, results chan<- SendResult) {
	log := s.log.With().Str("chat", sess.ChatID).Str("id", msg.ID).Logger()

	sess.conv.MarkSending(msg.ID)
	retry := backoff.NewManager(s.sendPolicy, log)

	req := api.InsertRequest{
		ChatID:   sess.ChatID,
		Content:  msg.Content,
		Role:     msg.Role,
		Type:     msg.Type,
		Sequence: msg.Sequence,
		TempID:   msg.Metadata.TempID,
	}

	var confirmed chat.Message
	err := retry.Retry(ctx, func(ctx context.Context) error {
		row, err := s.api.InsertMessage(ctx, req)
		if err != nil {
			if errors.Is(err, api.ErrPermanent) {
				log.Warn().Err(err).Msg("send rejected")
				return backoff.Permanent(err)
			}
			log.Debug().Err(err).Msg("send attempt failed")
			return err
		}
		confirmed = row
		return nil
	})
	if err != nil {
		s.failSend(sess, msg, err, log)
		results <- SendResult{Err: err}
		return
	}

	sess.conv.Confirm(msg.Metadata.TempID, confirmed)
	s.persist(sess)
	log.Debug().Str("confirmed_id", confirmed.ID).Msg("message delivered")
	results <- SendResult{Message: confirmed}
}

// failSend marks the message failed and notifies once per settled chain.
func (s *Service) failSend(sess *ChatSession, msg chat.Message, cause error, log zerolog.Logger) {
	if err := sess.conv.Fail(msg.ID, cause.Error()); err != nil {
		log.Debug().Err(err).Msg("failure for unknown message")
	}
	s.notifier.Toast(notify.Toast{
		Title:       "Message failed to send",
		Description: "Press retry to try again",
		Variant:     notify.VariantDestructive,
	})
}
