package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Iacob98/cometa-warehouse/internal/domain/materials"
	"github.com/Iacob98/cometa-warehouse/internal/domain/stock"
	"github.com/Iacob98/cometa-warehouse/internal/ledger"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	fail map[int64]bool
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg := c.(tgbotapi.MessageConfig)
	f.sent = append(f.sent, msg)
	if f.fail[msg.ChatID] {
		return tgbotapi.Message{}, errors.New("chat not found")
	}
	return tgbotapi.Message{}, nil
}

func alert(total, reserved, min string) ledger.LowStockAlert {
	return ledger.LowStockAlert{
		Material: materials.Material{Name: "Арматура 12мм", Unit: materials.UnitMeter},
		Stock: stock.Stock{
			MaterialID:    uuid.New(),
			TotalQty:      decimal.RequireFromString(total),
			ReservedQty:   decimal.RequireFromString(reserved),
			MinStockLevel: decimal.RequireFromString(min),
		},
	}
}

func TestNotifyDeduplicatesChats(t *testing.T) {
	fs := &fakeSender{}
	tg := NewTelegram(fs, 100, []int64{200, 100, 0}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := tg.NotifyLowStock(context.Background(), alert("50", "35", "20")); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(fs.sent) != 2 || fs.sent[0].ChatID != 100 || fs.sent[1].ChatID != 200 {
		t.Fatalf("recipients: %+v", fs.sent)
	}
	if !strings.Contains(fs.sent[0].Text, "свободно 15 meter") {
		t.Fatalf("text: %q", fs.sent[0].Text)
	}
}

func TestNotifyReportsFailures(t *testing.T) {
	fs := &fakeSender{fail: map[int64]bool{200: true}}
	tg := NewTelegram(fs, 100, []int64{200}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := tg.NotifyLowStock(context.Background(), alert("10", "10", "5"))
	if err == nil {
		t.Fatalf("want error for failed chat")
	}
	if len(fs.sent) != 2 {
		t.Fatalf("one failed chat must not stop the others: sent=%d", len(fs.sent))
	}
	if !strings.Contains(fs.sent[0].Text, "свободного остатка нет") {
		t.Fatalf("text: %q", fs.sent[0].Text)
	}
}
