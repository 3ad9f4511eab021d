package dicebot

import (
	"context"
	"fmt"
	"time"

	"dicebot/pkg/casino"

	"github.com/go-telegram/bot"
)

type chatKey struct{}

// withChat routes notifications of the request into chatID.
func withChat(ctx context.Context, chatID int64) context.Context {
	return context.WithValue(ctx, chatKey{}, chatID)
}

func chatFromContext(ctx context.Context, fallback int64) int64 {
	if id, ok := ctx.Value(chatKey{}).(int64); ok {
		return id
	}
	return fallback
}

// Notifier sends settled bets to the chat the bet came from, or to the user
// privately when the bet was settled in background.
type Notifier struct {
	b *bot.Bot
	// delay lets the dice animation finish before the result shows up.
	delay time.Duration
}

func NewNotifier(b *bot.Bot, delay time.Duration) *Notifier {
	return &Notifier{b: b, delay: delay}
}

func (n *Notifier) Notify(ctx context.Context, rec *casino.BetRecord) error {
	if rec.Game != casino.GameMines && n.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.delay):
		}
	}

	_, err := n.b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatFromContext(ctx, rec.UserID),
		Text:   resultText(rec),
	})
	return err
}

func resultText(rec *casino.BetRecord) string {
	if rec.Game == casino.GameMines {
		if rec.Result == casino.ResultWin {
			return fmt.Sprintf("💎 Мины: открыто %d клеток, выигрыш %s (x%s). Баланс: %s",
				rec.ResultValue, money(rec.Stake.Add(rec.NetPayout)), rec.MultiplierUsed.StringFixed(2), money(rec.Balance))
		}
		return fmt.Sprintf("💣 Мина! Ставка %s сгорела. Баланс: %s", money(rec.Stake), money(rec.Balance))
	}

	if rec.Result == casino.ResultWin {
		return fmt.Sprintf("%s Выпало %d, победа! %s %s: +%s (x%s). Баланс: %s",
			gameEmoji[rec.Game], rec.ResultValue, rec.BetType, rec.Target, money(rec.NetPayout), rec.MultiplierUsed.StringFixed(2), money(rec.Balance))
	}
	return fmt.Sprintf("%s Выпало %d, неудача. %s %s: -%s. Баланс: %s",
		gameEmoji[rec.Game], rec.ResultValue, rec.BetType, rec.Target, money(rec.Stake), money(rec.Balance))
}
