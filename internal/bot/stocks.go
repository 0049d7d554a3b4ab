package bot

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/Iacob98/cometa-warehouse/internal/domain/materials"
	"github.com/Iacob98/cometa-warehouse/internal/domain/stock"
	"github.com/Iacob98/cometa-warehouse/internal/infra/excel"
)

const (
	maxSearchResults = 20
	maxImportBytes   = 10 << 20
)

func (b *Bot) showStocksMenu(chatID int64) {
	m := tgbotapi.NewMessage(chatID, "Остатки — выберите действие")
	m.ReplyMarkup = stocksMenuKeyboard()
	b.send(m)
}

func (b *Bot) materialIndex(ctx context.Context) (map[uuid.UUID]materials.Material, error) {
	mats, err := b.materials.List(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]materials.Material, len(mats))
	for _, m := range mats {
		out[m.ID] = m
	}
	return out, nil
}

func stockLine(m materials.Material, st stock.Stock) string {
	mark := "—"
	if st.IsLow() {
		mark = "⚠️"
	}
	return fmt.Sprintf("%s %s: свободно %s %s (всего %s, резерв %s)",
		mark, m.Name, st.AvailableQty().String(), m.Unit, st.TotalQty.String(), st.ReservedQty.String())
}

func (b *Bot) sendStockList(ctx context.Context, chatID int64, onlyLow bool) {
	var (
		list []stock.Stock
		err  error
	)
	if onlyLow {
		list, err = b.ledger.ListLowStock(ctx)
	} else {
		list, err = b.ledger.ListStock(ctx)
	}
	if err != nil {
		b.log.Error("bot: list stock failed", "low", onlyLow, "err", err)
		b.send(tgbotapi.NewMessage(chatID, "Не удалось получить остатки, попробуйте позже."))
		return
	}
	if len(list) == 0 {
		if onlyLow {
			b.send(tgbotapi.NewMessage(chatID, "Всё в порядке: ничего не заканчивается."))
		} else {
			b.send(tgbotapi.NewMessage(chatID, "Склад пуст."))
		}
		return
	}

	idx, err := b.materialIndex(ctx)
	if err != nil {
		b.log.Error("bot: list materials failed", "err", err)
		b.send(tgbotapi.NewMessage(chatID, "Не удалось загрузить справочник материалов."))
		return
	}
	lines := make([]string, 0, len(list))
	for _, st := range list {
		m, ok := idx[st.MaterialID]
		if !ok {
			m = materials.Material{ID: st.MaterialID, Name: st.MaterialID.String()}
		}
		lines = append(lines, stockLine(m, st))
	}
	sort.Strings(lines)

	title := "Остатки на складе:"
	if onlyLow {
		title = "Заканчивается:"
	}
	for _, chunk := range splitMessage(title, lines) {
		b.send(tgbotapi.NewMessage(chatID, chunk))
	}
}

func (b *Bot) sendMaterialSearch(ctx context.Context, chatID int64, text string) {
	q := strings.TrimSpace(text)
	if q == "" {
		return
	}
	found, err := b.materials.SearchByName(ctx, q)
	if err != nil {
		b.log.Error("bot: search materials failed", "q", q, "err", err)
		b.send(tgbotapi.NewMessage(chatID, "Ошибка поиска, попробуйте позже."))
		return
	}
	if len(found) == 0 {
		b.send(tgbotapi.NewMessage(chatID, fmt.Sprintf("По запросу «%s» ничего не найдено.", q)))
		return
	}
	if len(found) > maxSearchResults {
		found = found[:maxSearchResults]
	}

	all, err := b.ledger.ListStock(ctx)
	if err != nil {
		b.log.Error("bot: list stock failed", "err", err)
		b.send(tgbotapi.NewMessage(chatID, "Не удалось получить остатки, попробуйте позже."))
		return
	}
	lines := make([]string, 0, len(found))
	for _, row := range excel.Snapshot(found, all) {
		lines = append(lines, stockLine(row.Material, row.Stock))
	}
	for _, chunk := range splitMessage("Найдено:", lines) {
		b.send(tgbotapi.NewMessage(chatID, chunk))
	}
}

func (b *Bot) sendExport(ctx context.Context, chatID int64) {
	mats, err := b.materials.List(ctx, true)
	if err != nil {
		b.log.Error("bot: export list materials failed", "err", err)
		b.send(tgbotapi.NewMessage(chatID, "Не удалось выгрузить остатки."))
		return
	}
	all, err := b.ledger.ListStock(ctx)
	if err != nil {
		b.log.Error("bot: export list stock failed", "err", err)
		b.send(tgbotapi.NewMessage(chatID, "Не удалось выгрузить остатки."))
		return
	}

	var buf bytes.Buffer
	if err := excel.WriteStock(&buf, excel.Snapshot(mats, all)); err != nil {
		b.log.Error("bot: export write failed", "err", err)
		b.send(tgbotapi.NewMessage(chatID, "Не удалось сформировать файл."))
		return
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("stock_%s.xlsx", time.Now().Format("20060102_150405")),
		Bytes: buf.Bytes(),
	})
	doc.Caption = "Остатки склада. Для инвентаризации заполните колонку «Факт» и пришлите файл обратно."
	b.send(doc)
}

// handleDocument применяет присланный файл инвентаризации: фактическое
// количество из колонки «Факт» становится остатком, разница уходит в
// приход или списание.
func (b *Bot) handleDocument(ctx context.Context, chatID int64, d *tgbotapi.Document) {
	if !strings.HasSuffix(strings.ToLower(d.FileName), ".xlsx") {
		b.send(tgbotapi.NewMessage(chatID, "Нужен файл .xlsx (выгрузка остатков с заполненной колонкой «Факт»)."))
		return
	}
	if d.FileSize > maxImportBytes {
		b.send(tgbotapi.NewMessage(chatID, "Файл слишком большой."))
		return
	}
	data, err := b.download(d.FileID)
	if err != nil {
		b.log.Error("bot: download failed", "file_id", d.FileID, "err", err)
		b.send(tgbotapi.NewMessage(chatID, "Не удалось скачать файл из Telegram."))
		return
	}

	res, err := excel.ImportCounts(ctx, b.ledger, bytes.NewReader(data), nil)
	if err != nil {
		b.log.Warn("bot: stocktake rejected", "err", err)
		b.send(tgbotapi.NewMessage(chatID, "Ошибка: "+err.Error()+"\nОстатки не изменены."))
		return
	}
	b.log.Info("bot: stocktake applied", "rows", res.Rows, "changed", res.Changed)
	b.send(tgbotapi.NewMessage(chatID, fmt.Sprintf(
		"Инвентаризация применена.\nСтрок: %d, изменено: %d\nПриход: %s\nСписано: %s",
		res.Rows, res.Changed, res.Received.String(), res.WrittenOff.String(),
	)))
}
