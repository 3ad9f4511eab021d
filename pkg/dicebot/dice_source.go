package dicebot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"dicebot/pkg/casino"
	"dicebot/pkg/embedlog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// diceSource rolls visible Telegram dice in one chat. Every new roll deletes
// the previous dice message of the same bet, so only the accepted roll stays.
type diceSource struct {
	embedlog.Logger
	b       *bot.Bot
	chatID  int64
	replyTo int

	lastMessageID int
}

func newDiceSource(b *bot.Bot, chatID int64, replyTo int, logger embedlog.Logger) *diceSource {
	return &diceSource{Logger: logger, b: b, chatID: chatID, replyTo: replyTo}
}

func (s *diceSource) Roll(ctx context.Context, game casino.GameKey) (int, error) {
	emoji, ok := gameEmoji[game]
	if !ok {
		return 0, fmt.Errorf("no dice for %s", game)
	}

	params := &bot.SendDiceParams{ChatID: s.chatID, Emoji: emoji}
	if s.replyTo != 0 {
		params.ReplyParameters = &models.ReplyParameters{MessageID: s.replyTo, AllowSendingWithoutReply: true}
	}
	msg, err := s.b.SendDice(ctx, params)
	if err != nil {
		if sendMayHaveSucceeded(err) {
			s.Errorf("send dice chat=%d err=%q, the dice may be shown without a bet", s.chatID, err)
			return 0, fmt.Errorf("%w: %v", casino.ErrOutcomeUncertain, err)
		}
		return 0, err
	}
	if msg.Dice == nil {
		return 0, fmt.Errorf("message %d has no dice", msg.ID)
	}

	if s.lastMessageID != 0 {
		if _, err := s.b.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: s.chatID, MessageID: s.lastMessageID}); err != nil {
			s.Errorf("delete rerolled dice chat=%d msg=%d err=%q", s.chatID, s.lastMessageID, err)
		}
	}
	s.lastMessageID = msg.ID

	return msg.Dice.Value, nil
}

// sendMayHaveSucceeded reports errors raised after the request could have
// reached Telegram, so the message may exist although no response was read.
func sendMayHaveSucceeded(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
