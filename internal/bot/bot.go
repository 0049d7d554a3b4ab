// Package bot is the warehouse admin chat: stock overview, low-stock list,
// xlsx export and stocktake upload.
package bot

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Iacob98/cometa-warehouse/internal/domain/materials"
	"github.com/Iacob98/cometa-warehouse/internal/domain/stock"
	"github.com/Iacob98/cometa-warehouse/internal/ledger"
)

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetFileDirectURL(fileID string) (string, error)
}

type Ledger interface {
	ListStock(ctx context.Context) ([]stock.Stock, error)
	ListLowStock(ctx context.Context) ([]stock.Stock, error)
	CountStocks(ctx context.Context, counts []ledger.CountInput) ([]ledger.CountResult, error)
}

type Materials interface {
	List(ctx context.Context, onlyActive bool) ([]materials.Material, error)
	SearchByName(ctx context.Context, q string) ([]materials.Material, error)
}

type Bot struct {
	api       API
	log       *slog.Logger
	ledger    Ledger
	materials Materials
	admins    map[int64]struct{}
	download  func(fileID string) ([]byte, error)
}

// New serves only the given chats; everyone else gets "доступ запрещён".
func New(api API, log *slog.Logger, l Ledger, m Materials, adminChats []int64) *Bot {
	b := &Bot{
		api:       api,
		log:       log,
		ledger:    l,
		materials: m,
		admins:    make(map[int64]struct{}, len(adminChats)),
	}
	for _, id := range adminChats {
		b.admins[id] = struct{}{}
	}
	b.download = b.downloadTelegramFile
	return b
}

func (b *Bot) Run(ctx context.Context, timeoutSec int) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSec
	updates := b.api.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd := <-updates:
			if upd.Message != nil {
				b.onMessage(ctx, upd)
			} else if upd.CallbackQuery != nil {
				b.onCallback(ctx, upd)
			}
		}
	}
}

func (b *Bot) allowed(chatID int64) bool {
	_, ok := b.admins[chatID]
	return ok
}

func (b *Bot) onMessage(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	if !b.allowed(chatID) {
		b.send(tgbotapi.NewMessage(chatID, "Доступ запрещён"))
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	if msg.Document != nil {
		b.handleDocument(ctx, chatID, msg.Document)
		return
	}

	switch msg.Text {
	case btnStock:
		b.sendStockList(ctx, chatID, false)
	case btnLow:
		b.sendStockList(ctx, chatID, true)
	case btnStocktake:
		b.showStocksMenu(chatID)
	default:
		b.sendMaterialSearch(ctx, chatID, msg.Text)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start":
		m := tgbotapi.NewMessage(chatID, "Склад на связи. Кнопки снизу, для поиска материала просто напишите часть названия.")
		m.ReplyMarkup = adminReplyKeyboard()
		b.send(m)
	case "help":
		b.send(tgbotapi.NewMessage(chatID,
			"Команды:\n/stock — остатки\n/low — заканчивается\n/export — выгрузить Excel\n"+
				"Чтобы провести инвентаризацию, заполните колонку «Факт» в выгрузке и пришлите файл сюда."))
	case "stock":
		b.sendStockList(ctx, chatID, false)
	case "low":
		b.sendStockList(ctx, chatID, true)
	case "export":
		b.sendExport(ctx, chatID)
	default:
		b.send(tgbotapi.NewMessage(chatID, "Не знаю такую команду. Наберите /help"))
	}
}

func (b *Bot) onCallback(ctx context.Context, upd tgbotapi.Update) {
	cb := upd.CallbackQuery
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	if !b.allowed(chatID) {
		_ = b.answerCallback(cb, "Доступ запрещён", true)
		return
	}
	_ = b.answerCallback(cb, "", false)

	switch cb.Data {
	case "stock:export":
		b.sendExport(ctx, chatID)
	case "stock:import":
		b.send(tgbotapi.NewMessage(chatID, "Пришлите заполненный .xlsx: колонка «Факт» — посчитанное количество, пустые строки пропускаются."))
	case "stock:low":
		b.sendStockList(ctx, chatID, true)
	case "nav:cancel":
		b.editTextAndClear(chatID, cb.Message.MessageID, "Отменено.")
	}
}
