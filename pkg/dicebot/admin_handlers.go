package dicebot

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"dicebot/pkg/casino"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const (
	cmdSet    = "/set"
	cmdGet    = "/get"
	cmdDel    = "/del"
	cmdProfit = "/profit"
)

func (bs *BotService) isAdmin(userID int64) bool {
	return slices.Contains(bs.cfg.AdminIDs, userID)
}

// adminOnly silently ignores commands of non admin users.
func (bs *BotService) adminOnly(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if update.Message == nil || update.Message.From == nil {
			return
		}
		if !bs.isAdmin(update.Message.From.ID) {
			bs.Printf("admin command denied user=%d text=%q", update.Message.From.ID, update.Message.Text)
			return
		}
		next(ctx, b, update)
	}
}

// SetSettingHandler handles /set <key> <value>.
func (bs *BotService) SetSettingHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	_, args := splitCommand(update.Message.Text)
	if len(args) < 2 {
		bs.reply(ctx, b, update, "Формат: /set <ключ> <значение>")
		return
	}
	key, value := strings.ToLower(args[0]), strings.Join(args[1:], " ")

	if err := bs.repo.SetSetting(ctx, key, value); err != nil {
		bs.Errorf("set setting key=%s err=%q", key, err)
		bs.reply(ctx, b, update, errorText(err))
		return
	}
	bs.settings.Invalidate()

	bs.Printf("setting updated key=%s value=%q by=%d", key, value, update.Message.From.ID)
	bs.reply(ctx, b, update, fmt.Sprintf("%s = %s", key, value))
}

// GetSettingHandler handles /get [key]. Without a key it lists every setting.
func (bs *BotService) GetSettingHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	_, args := splitCommand(update.Message.Text)
	if len(args) == 0 {
		settings, err := bs.repo.Settings(ctx)
		if err != nil {
			bs.Errorf("%v", err)
			bs.reply(ctx, b, update, errorText(err))
			return
		}
		if len(settings) == 0 {
			bs.reply(ctx, b, update, "Настроек нет, действуют значения по умолчанию.")
			return
		}
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		var sb strings.Builder
		sb.WriteString("Настройки:")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("\n%s = %s", k, settings[k]))
		}
		bs.reply(ctx, b, update, sb.String())
		return
	}

	key := strings.ToLower(args[0])
	value, ok, err := bs.repo.Setting(ctx, key)
	switch {
	case err != nil:
		bs.Errorf("%v", err)
		bs.reply(ctx, b, update, errorText(err))
	case !ok:
		bs.reply(ctx, b, update, fmt.Sprintf("%s не задан", key))
	default:
		bs.reply(ctx, b, update, fmt.Sprintf("%s = %s", key, value))
	}
}

// DeleteSettingHandler handles /del <key>.
func (bs *BotService) DeleteSettingHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	_, args := splitCommand(update.Message.Text)
	if len(args) != 1 {
		bs.reply(ctx, b, update, "Формат: /del <ключ>")
		return
	}
	key := strings.ToLower(args[0])

	deleted, err := bs.repo.DeleteSetting(ctx, key)
	if err != nil {
		bs.Errorf("delete setting key=%s err=%q", key, err)
		bs.reply(ctx, b, update, errorText(err))
		return
	}
	bs.settings.Invalidate()

	if !deleted {
		bs.reply(ctx, b, update, fmt.Sprintf("%s не задан", key))
		return
	}
	bs.Printf("setting deleted key=%s by=%d", key, update.Message.From.ID)
	bs.reply(ctx, b, update, fmt.Sprintf("%s удалён", key))
}

// ProfitHandler handles /profit.
func (bs *BotService) ProfitHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	profit, err := bs.svc.RefreshProfit(ctx)
	if err != nil {
		bs.Errorf("%v", err)
		bs.reply(ctx, b, update, errorText(err))
		return
	}

	text := fmt.Sprintf("Профит казино: %s", money(profit))
	settings, err := bs.settings.Settings(ctx)
	if err == nil {
		if target, ok := settings.Decimal(casino.KeyProfitGuardTarget); ok && target.IsPositive() {
			text += fmt.Sprintf("\nЦель: %s", money(target))
		}
	}
	bs.reply(ctx, b, update, text)
}
