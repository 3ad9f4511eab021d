package dicebot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"dicebot/pkg/casino"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const (
	patternMines     = "mines_"
	patternMinesOpen = "mines_open"
	patternMinesCash = "mines_cash"

	cellClosed = "⬜"
	cellSafe   = "💎"
	cellMine   = "💣"
	cellHit    = "💥"
)

// MinesStartHandler handles /mines <stake> <mines>.
func (bs *BotService) MinesStartHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	_, args := splitCommand(update.Message.Text)
	if len(args) != 2 {
		bs.reply(ctx, b, update, fmt.Sprintf("Формат: /mines <сумма> <мин 1-%d>", casino.GridSize-1))
		return
	}
	mineCount, err := strconv.Atoi(args[1])
	if err != nil {
		bs.reply(ctx, b, update, errorText(casino.ErrInvalidMineCount))
		return
	}

	userID := update.Message.From.ID
	sess, err := bs.svc.StartMines(ctx, userID, args[0], mineCount)
	if err != nil {
		if !isUserError(err) {
			bs.Errorf("mines start user=%d err=%q", userID, err)
		}
		bs.reply(ctx, b, update, errorText(err))
		return
	}

	_, err = b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      update.Message.Chat.ID,
		Text:        minesCaption(sess),
		ReplyMarkup: minesKeyboard(sess),
	})
	if err != nil {
		bs.Errorf("%v", err)
	}
}

// MinesCallbackHandler handles mines_open_<cell>_<userID> and mines_cash_<userID>.
func (bs *BotService) MinesCallbackHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	cq := update.CallbackQuery
	if cq == nil {
		return
	}
	action, cell, userID, err := parseMinesCallback(cq.Data)
	if err != nil {
		bs.Errorf("invalid mines data: %s", cq.Data)
		return
	}
	if cq.From.ID != userID {
		bs.respondToCallback(ctx, b, cq.ID, "Это не ваша игра! Начните свою: /mines")
		return
	}
	if cq.Message.Message != nil {
		ctx = withChat(ctx, cq.Message.Message.Chat.ID)
	}

	switch action {
	case patternMinesOpen:
		res, _, err := bs.svc.RevealMines(ctx, userID, cell)
		if err != nil {
			bs.minesError(ctx, b, cq, userID, err)
			return
		}
		switch res.Outcome {
		case casino.RevealInactive:
			bs.respondToCallback(ctx, b, cq.ID, "Игра уже закончилась.")
			return
		case casino.RevealRepeated:
			bs.respondToCallback(ctx, b, cq.ID, "Эта клетка уже открыта.")
			return
		}
		bs.editBoard(ctx, b, cq, res.Session)
	case patternMinesCash:
		sess, _, err := bs.svc.CashOutMines(ctx, userID)
		if err != nil {
			bs.minesError(ctx, b, cq, userID, err)
			return
		}
		bs.editBoard(ctx, b, cq, sess)
	}

	if _, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: cq.ID}); err != nil {
		bs.Errorf("failed to answer callback query: %v", err)
	}
}

func (bs *BotService) minesError(ctx context.Context, b *bot.Bot, cq *models.CallbackQuery, userID int64, err error) {
	if !isUserError(err) {
		bs.Errorf("mines user=%d data=%s err=%q", userID, cq.Data, err)
	}
	bs.respondToCallback(ctx, b, cq.ID, errorText(err))
}

func (bs *BotService) editBoard(ctx context.Context, b *bot.Bot, cq *models.CallbackQuery, sess *casino.MinesSession) {
	if cq.Message.Message == nil {
		return
	}
	params := &bot.EditMessageTextParams{
		ChatID:    cq.Message.Message.Chat.ID,
		MessageID: cq.Message.Message.ID,
		Text:      minesCaption(sess),
	}
	if kb := minesKeyboard(sess); kb != nil {
		params.ReplyMarkup = kb
	}
	if _, err := b.EditMessageText(ctx, params); err != nil {
		bs.Errorf("%v", err)
	}
}

func parseMinesCallback(data string) (action string, cell int, userID int64, err error) {
	parts := strings.Split(data, "_")
	switch {
	case strings.HasPrefix(data, patternMinesOpen+"_") && len(parts) == 4:
		if cell, err = strconv.Atoi(parts[2]); err != nil {
			return "", 0, 0, err
		}
		userID, err = strconv.ParseInt(parts[3], 10, 64)
		return patternMinesOpen, cell, userID, err
	case strings.HasPrefix(data, patternMinesCash+"_") && len(parts) == 3:
		userID, err = strconv.ParseInt(parts[2], 10, 64)
		return patternMinesCash, 0, userID, err
	}
	return "", 0, 0, fmt.Errorf("unknown mines callback %q", data)
}

func minesCaption(s *casino.MinesSession) string {
	switch s.State {
	case casino.MinesWon:
		return fmt.Sprintf("💎 Мины: победа! Открыто %d, множитель x%s, выигрыш %s",
			s.SafeSteps, s.CurrentMultiplier.StringFixed(2), money(s.CurrentPayout))
	case casino.MinesLost:
		return fmt.Sprintf("💥 Мины: подорвались на %d-м ходу. Ставка %s сгорела.", s.SafeSteps+1, money(s.Stake))
	}
	next := s.CurrentMultiplier.Mul(s.BaseMultiplier).RoundFloor(2)
	return fmt.Sprintf("Мины: %d 💣, ставка %s\nМножитель x%s, следующий x%s\nЗабрать сейчас: %s",
		s.MineCount, money(s.Stake), s.CurrentMultiplier.StringFixed(2), next.StringFixed(2), money(s.CurrentPayout))
}

// minesKeyboard renders the 5x5 board. Finished boards show every mine and
// have no buttons to press.
func minesKeyboard(s *casino.MinesSession) *models.InlineKeyboardMarkup {
	finished := !s.IsActive()
	rows := make([][]models.InlineKeyboardButton, 0, casino.GridSide+1)
	for r := 0; r < casino.GridSide; r++ {
		row := make([]models.InlineKeyboardButton, 0, casino.GridSide)
		for c := 0; c < casino.GridSide; c++ {
			cell := r*casino.GridSide + c
			text := cellClosed
			switch {
			case finished && cell == s.HitCell:
				text = cellHit
			case s.IsRevealed(cell):
				text = cellSafe
			case finished && s.IsMine(cell):
				text = cellMine
			}
			row = append(row, models.InlineKeyboardButton{
				Text:         text,
				CallbackData: fmt.Sprintf("%s_%d_%d", patternMinesOpen, cell, s.UserID),
			})
		}
		rows = append(rows, row)
	}
	if !finished {
		rows = append(rows, []models.InlineKeyboardButton{{
			Text:         fmt.Sprintf("Забрать %s", money(s.CurrentPayout)),
			CallbackData: fmt.Sprintf("%s_%d", patternMinesCash, s.UserID),
		}})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
