// Package notify sends warehouse alerts to Telegram chats.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Iacob98/cometa-warehouse/internal/ledger"
)

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	api   Sender
	log   *slog.Logger
	chats []int64
}

// NewTelegram sends alerts through api (usually a *tgbotapi.BotAPI) to the
// admin chat and every extra chat.
func NewTelegram(api Sender, adminChatID int64, extra []int64, log *slog.Logger) *Telegram {
	return &Telegram{api: api, log: log, chats: Recipients(adminChatID, extra)}
}

// Recipients merges the admin chat with extra chats, dropping zeros and
// repeats. Order is preserved.
func Recipients(adminChatID int64, extra []int64) []int64 {
	seen := make(map[int64]struct{})
	var chats []int64
	for _, id := range append([]int64{adminChatID}, extra...) {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		chats = append(chats, id)
	}
	return chats
}

var _ ledger.LowStockNotifier = (*Telegram)(nil)

func (t *Telegram) NotifyLowStock(ctx context.Context, a ledger.LowStockAlert) error {
	text := FormatLowStock(a)
	var errs []error
	for _, chatID := range t.chats {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			t.log.Error("low stock alert send failed", "chat_id", chatID, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func FormatLowStock(a ledger.LowStockAlert) string {
	name := a.Material.Name
	if name == "" {
		name = a.Stock.MaterialID.String()
	}
	avail := a.Stock.AvailableQty()
	if !avail.IsPositive() {
		return fmt.Sprintf("⚠️ Склад:\n— %s\nсвободного остатка нет (на складе %s %s, в резерве %s).",
			name, a.Stock.TotalQty.String(), a.Material.Unit, a.Stock.ReservedQty.String())
	}
	return fmt.Sprintf("⚠️ Склад:\n— %s — свободно %s %s (минимум %s) заканчивается…",
		name, avail.String(), a.Material.Unit, a.Stock.MinStockLevel.String())
}
