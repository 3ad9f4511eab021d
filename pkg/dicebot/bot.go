package dicebot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"dicebot/pkg/casino"
	"dicebot/pkg/db"
	"dicebot/pkg/embedlog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	cmdStart   = "/start"
	cmdHelp    = "/help"
	cmdBalance = "/balance"
	cmdHistory = "/history"
	cmdTop     = "/top"
	cmdMines   = "/mines"

	historySize = 10
)

var p = message.NewPrinter(language.German)

// gameEmoji maps games onto Telegram animated dice.
var gameEmoji = map[casino.GameKey]string{
	casino.GameDice:   "🎲",
	casino.GameDarts:  "🎯",
	casino.GameBall:   "⚽",
	casino.GameBasket: "🏀",
}

type Config struct {
	Token          string
	AdminIDs       []int64
	InitialBalance int64
	ResultDelay    time.Duration
}

type BotService struct {
	embedlog.Logger
	cfg Config

	svc      *casino.Service
	repo     *db.CasinoRepo
	cr       db.CommonRepo
	settings *casino.CachedSettings
}

func NewBotService(logger embedlog.Logger, cfg Config, dbo db.DB, svc *casino.Service, settings *casino.CachedSettings) *BotService {
	return &BotService{
		Logger:   logger,
		cfg:      cfg,
		svc:      svc,
		repo:     db.NewCasinoRepo(dbo),
		cr:       db.NewCommonRepo(dbo),
		settings: settings,
	}
}

func (bs *BotService) RegisterBotHandlers(b *bot.Bot) {
	b.RegisterHandler(bot.HandlerTypeMessageText, cmdStart, bot.MatchTypePrefix, bs.StartHandler)
	b.RegisterHandler(bot.HandlerTypeMessageText, cmdHelp, bot.MatchTypePrefix, bs.HelpHandler)
	b.RegisterHandler(bot.HandlerTypeMessageText, cmdBalance, bot.MatchTypePrefix, bs.BalanceHandler)
	b.RegisterHandler(bot.HandlerTypeMessageText, cmdHistory, bot.MatchTypePrefix, bs.HistoryHandler)
	b.RegisterHandler(bot.HandlerTypeMessageText, cmdTop, bot.MatchTypePrefix, bs.TopHandler)
	b.RegisterHandler(bot.HandlerTypeMessageText, cmdMines, bot.MatchTypePrefix, bs.MinesStartHandler)
	for game := range gameEmoji {
		b.RegisterHandler(bot.HandlerTypeMessageText, "/"+string(game), bot.MatchTypePrefix, bs.BetHandler)
	}
	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, patternMines, bot.MatchTypePrefix, bs.MinesCallbackHandler)

	b.RegisterHandler(bot.HandlerTypeMessageText, cmdSet, bot.MatchTypePrefix, bs.adminOnly(bs.SetSettingHandler))
	b.RegisterHandler(bot.HandlerTypeMessageText, cmdGet, bot.MatchTypePrefix, bs.adminOnly(bs.GetSettingHandler))
	b.RegisterHandler(bot.HandlerTypeMessageText, cmdDel, bot.MatchTypePrefix, bs.adminOnly(bs.DeleteSettingHandler))
	b.RegisterHandler(bot.HandlerTypeMessageText, cmdProfit, bot.MatchTypePrefix, bs.adminOnly(bs.ProfitHandler))
}

func (bs *BotService) DefaultHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	bs.Debugf("unhandled message chat=%d from=%d text=%q", update.Message.Chat.ID, update.Message.From.ID, update.Message.Text)
}

func (bs *BotService) StartHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	from := update.Message.From

	user, created, err := bs.repo.EnsureUser(ctx, from.ID, from.Username, decimal.NewFromInt(bs.cfg.InitialBalance))
	if err != nil {
		bs.Errorf("ensure user=%d err=%q", from.ID, err)
		bs.reply(ctx, b, update, errorText(err))
		return
	}

	text := fmt.Sprintf("С возвращением, %s!\nВаш баланс: %s", user.DisplayName(), money(user.Balance))
	if created {
		text = fmt.Sprintf("Добро пожаловать в казино, %s!\nВам начислено %s за первый визит.\n\n%s", user.DisplayName(), money(user.Balance), bs.helpText())
	}
	bs.reply(ctx, b, update, text)
}

func (bs *BotService) HelpHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	bs.reply(ctx, b, update, bs.helpText())
}

func (bs *BotService) helpText() string {
	var sb strings.Builder
	sb.WriteString("Ставки: /<игра> <сумма> <тип> <цель>\n")
	for _, rule := range bs.svc.Registry().Rules() {
		sb.WriteString(fmt.Sprintf("  /%s\n", casino.Describe(rule)))
	}
	sb.WriteString("Например: /dice 10 number 4 или /darts 5 hit\n\n")
	sb.WriteString(fmt.Sprintf("Мины: /mines <сумма> <мин 1-%d>\n", casino.GridSize-1))
	sb.WriteString("Баланс: /balance, история: /history, рейтинг: /top")
	return sb.String()
}

func (bs *BotService) BalanceHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	user, err := bs.cr.UserByID(ctx, update.Message.From.ID)
	if err != nil {
		bs.Errorf("%v", err)
		bs.reply(ctx, b, update, errorText(err))
		return
	} else if user == nil {
		bs.reply(ctx, b, update, errorText(casino.ErrUnknownUser))
		return
	}

	text := fmt.Sprintf("Баланс: %s\nВыиграно: %s\nПроиграно: %s\nСтавок: %d",
		money(user.Balance), money(user.TotalWon), money(user.TotalLost), user.BetsCount)
	if sess, err := bs.svc.ActiveMines(ctx, user.ID); err == nil && sess != nil {
		text += fmt.Sprintf("\nВ игре (мины): %s", money(sess.Stake))
	}
	bs.reply(ctx, b, update, text)
}

var historyTemplate = template.Must(template.New("history").Funcs(template.FuncMap{
	"add":   func(a, b int) int { return a + b },
	"money": money,
	"time":  func(t time.Time) string { return t.Format("02.01 15:04") },
}).Parse(`{{- range $index, $bet := . }}
{{- printf "\n%d. %s %s %s %s/%s: ставка %s, выпало %d, итог %s" (add $index 1) (time $bet.CreatedAt) $bet.Game $bet.BetType $bet.Target $bet.Result (money $bet.Stake) $bet.ResultValue (money $bet.NetPayout) }}
{{- end }}`))

func (bs *BotService) HistoryHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	bets, err := bs.repo.RecentBets(ctx, update.Message.From.ID, historySize)
	if err != nil {
		bs.Errorf("%v", err)
		bs.reply(ctx, b, update, errorText(err))
		return
	}
	if len(bets) == 0 {
		bs.reply(ctx, b, update, "Вы ещё не делали ставок.")
		return
	}

	var buf bytes.Buffer
	if err = historyTemplate.Execute(&buf, bets); err != nil {
		bs.Errorf("%v", err)
		return
	}
	bs.reply(ctx, b, update, "Последние ставки:"+buf.String())
}

var topTemplate = template.Must(template.New("top").Funcs(template.FuncMap{
	"add":   func(a, b int) int { return a + b },
	"money": money,
}).Parse(`{{- range $index, $user := . }}
{{- printf "\n%d. %s: выиграно %s, баланс %s" (add $index 1) $user.DisplayName (money $user.TotalWon) (money $user.Balance) }}
{{- end }}`))

func (bs *BotService) TopHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	top, err := bs.cr.UsersByFilters(ctx, &db.UserSearch{}, db.Pager{PageSize: 10},
		db.WithSort(db.NewSortField(db.Columns.User.TotalWon, true)))
	if err != nil {
		bs.Errorf("%v", err)
		bs.reply(ctx, b, update, errorText(err))
		return
	}

	var buf bytes.Buffer
	if err = topTemplate.Execute(&buf, top); err != nil {
		bs.Errorf("%v", err)
		return
	}
	bs.reply(ctx, b, update, "Топ игроков по выигрышам:"+buf.String())
}

// BetHandler handles /<game> <stake> [<bet_type>] <target>. The bet type
// may be omitted for games with a single bet type.
func (bs *BotService) BetHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	cmd, args := splitCommand(update.Message.Text)
	game, ok := casino.ParseGameKey(strings.TrimPrefix(cmd, "/"))
	if !ok || game == casino.GameMines {
		return
	}

	req, err := bs.parseBet(game, args)
	if err != nil {
		bs.reply(ctx, b, update, errorText(err))
		return
	}
	req.UserID = update.Message.From.ID

	chatID := update.Message.Chat.ID
	ctx = withChat(ctx, chatID)
	src := newDiceSource(b, chatID, update.Message.ID, bs.Logger)

	res, err := bs.svc.PlaceBet(ctx, src, req)
	if err != nil {
		if !isUserError(err) {
			bs.Errorf("bet user=%d game=%s err=%q", req.UserID, game, err)
		}
		bs.reply(ctx, b, update, errorText(err))
		return
	}
	if res.Draw.Exhausted {
		bs.Printf("bet user=%d game=%s kept value=%d after %d draws", req.UserID, game, res.Draw.Value, res.Draw.Attempts)
	}
}

func (bs *BotService) parseBet(game casino.GameKey, args []string) (casino.BetRequest, error) {
	req := casino.BetRequest{Game: game}
	switch len(args) {
	case 3:
		req.Stake, req.BetType, req.Target = args[0], args[1], args[2]
	case 2:
		types := bs.svc.Registry().BetTypes(game)
		if len(types) != 1 {
			return req, fmt.Errorf("%w: укажите тип ставки", casino.ErrUnresolvableBet)
		}
		req.Stake, req.BetType, req.Target = args[0], types[0], args[1]
	default:
		return req, fmt.Errorf("%w: формат /%s <сумма> <тип> <цель>", casino.ErrUnresolvableBet, game)
	}
	return req, nil
}

func (bs *BotService) reply(ctx context.Context, b *bot.Bot, update *models.Update, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   text,
		ReplyParameters: &models.ReplyParameters{
			MessageID: update.Message.ID,
		},
	})
	if err != nil {
		bs.Errorf("send message chat=%d err=%q", update.Message.Chat.ID, err)
	}
}

func (bs *BotService) respondToCallback(ctx context.Context, b *bot.Bot, callbackID, text string) {
	_, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       true,
	})
	if err != nil {
		bs.Errorf("failed to answer callback query: %v", err)
	}
}

// splitCommand returns command without @botname and its arguments.
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	cmd := strings.ToLower(fields[0])
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	return cmd, fields[1:]
}

func money(d decimal.Decimal) string {
	return p.Sprintf("%.2f", d.InexactFloat64())
}

func isUserError(err error) bool {
	for _, target := range []error{
		casino.ErrInvalidStake, casino.ErrUnresolvableBet, casino.ErrConflictingSession,
		casino.ErrInsufficientFunds, casino.ErrUnknownUser, casino.ErrNoActiveSession,
		casino.ErrNothingToCashOut, casino.ErrInvalidCell, casino.ErrInvalidMineCount,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// errorText maps engine errors onto user messages.
func errorText(err error) string {
	switch {
	case errors.Is(err, casino.ErrInvalidStake):
		return "Некорректная ставка: " + strings.TrimPrefix(err.Error(), casino.ErrInvalidStake.Error()+": ")
	case errors.Is(err, casino.ErrUnresolvableBet):
		return "Такой ставки нет: " + strings.TrimPrefix(err.Error(), casino.ErrUnresolvableBet.Error()+": ") + "\nСписок ставок: /help"
	case errors.Is(err, casino.ErrConflictingSession):
		return "У вас уже есть активная игра в мины. Доиграйте её или заберите выигрыш."
	case errors.Is(err, casino.ErrOutcomeUncertain):
		return "Связь с Telegram прервалась во время броска. Ставка не засчитана и не списана."
	case errors.Is(err, casino.ErrOutcomeSourceUnavailable):
		return "Не удалось бросить кубик, ставка не списана. Попробуйте ещё раз."
	case errors.Is(err, casino.ErrInsufficientFunds):
		return "Недостаточно средств :/"
	case errors.Is(err, casino.ErrUnknownUser):
		return "Сначала нажмите /start"
	case errors.Is(err, casino.ErrNoActiveSession):
		return "Нет активной игры."
	case errors.Is(err, casino.ErrNothingToCashOut):
		return "Откройте хотя бы одну клетку, чтобы забрать выигрыш."
	case errors.Is(err, casino.ErrInvalidMineCount):
		return fmt.Sprintf("Количество мин должно быть от 1 до %d.", casino.GridSize-1)
	case errors.Is(err, casino.ErrInvalidCell):
		return "Такой клетки нет."
	}
	return "Что-то пошло не так, попробуйте позже."
}
