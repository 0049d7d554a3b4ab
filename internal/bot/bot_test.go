package bot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/Iacob98/cometa-warehouse/internal/domain/materials"
	"github.com/Iacob98/cometa-warehouse/internal/infra/excel"
	"github.com/Iacob98/cometa-warehouse/internal/ledger"
	"github.com/Iacob98/cometa-warehouse/internal/store/memory"
)

const admin int64 = 100

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeAPI struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeAPI) GetFileDirectURL(string) (string, error) {
	return "", errors.New("no network in tests")
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeAPI) last() string {
	t := f.texts()
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1]
}

type catalog []materials.Material

func (c catalog) GetByID(_ context.Context, id uuid.UUID) (*materials.Material, error) {
	for _, m := range c {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, nil
}

func (c catalog) List(context.Context, bool) ([]materials.Material, error) { return c, nil }

func (c catalog) SearchByName(_ context.Context, q string) ([]materials.Material, error) {
	var out []materials.Material
	for _, m := range c {
		if strings.Contains(strings.ToLower(m.Name), strings.ToLower(q)) {
			out = append(out, m)
		}
	}
	return out, nil
}

type noConsumers struct{}

func (noConsumers) ProjectExists(context.Context, uuid.UUID) (bool, error) { return false, nil }
func (noConsumers) CrewExists(context.Context, uuid.UUID) (bool, error)    { return false, nil }

type env struct {
	bot     *Bot
	api     *fakeAPI
	svc     *ledger.Service
	cement  uuid.UUID
	rebar   uuid.UUID
	catalog catalog
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{api: &fakeAPI{}, cement: uuid.New(), rebar: uuid.New()}
	e.catalog = catalog{
		{ID: e.cement, Name: "Цемент М500", Unit: materials.UnitKg, Active: true},
		{ID: e.rebar, Name: "Арматура 12мм", Unit: materials.UnitMeter, Active: true},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.svc = ledger.New(ledger.Deps{Store: memory.New(), Materials: e.catalog, Consumers: noConsumers{}, Log: log})
	e.bot = New(e.api, log, e.svc, e.catalog, []int64{admin})

	ctx := context.Background()
	for id, qty := range map[uuid.UUID]string{e.cement: "100", e.rebar: "30"} {
		if _, err := e.svc.AdjustStock(ctx, ledger.AdjustInput{MaterialID: id, Delta: d(qty), Reason: "delivery"}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return e
}

func text(chatID int64, s string) tgbotapi.Update {
	msg := &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, Text: s}
	if strings.HasPrefix(s, "/") {
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(strings.Fields(s)[0])}}
	}
	return tgbotapi.Update{Message: msg}
}

func TestStrangersAreRejected(t *testing.T) {
	e := newEnv(t)
	e.bot.onMessage(context.Background(), text(555, "/stock"))
	if got := e.api.last(); got != "Доступ запрещён" {
		t.Fatalf("want access denied got=%q", got)
	}
}

func TestStockAndLowLists(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.bot.onMessage(ctx, text(admin, "/stock"))
	got := e.api.last()
	if !strings.Contains(got, "Цемент М500: свободно 100 kg") || !strings.Contains(got, "Арматура 12мм: свободно 30 meter") {
		t.Fatalf("stock list: %q", got)
	}

	e.bot.onMessage(ctx, text(admin, btnLow))
	if got := e.api.last(); !strings.Contains(got, "ничего не заканчивается") {
		t.Fatalf("empty low list: %q", got)
	}

	if _, err := e.svc.SetMinStockLevel(ctx, e.rebar, d("40")); err != nil {
		t.Fatalf("min level: %v", err)
	}
	e.bot.onMessage(ctx, text(admin, "/low"))
	got = e.api.last()
	if !strings.Contains(got, "⚠️ Арматура 12мм") || strings.Contains(got, "Цемент") {
		t.Fatalf("low list: %q", got)
	}
}

func TestSearchByText(t *testing.T) {
	e := newEnv(t)
	e.bot.onMessage(context.Background(), text(admin, "цемент"))
	if got := e.api.last(); !strings.HasPrefix(got, "Найдено:") || !strings.Contains(got, "Цемент М500") {
		t.Fatalf("search: %q", got)
	}
	e.bot.onMessage(context.Background(), text(admin, "кирпич"))
	if got := e.api.last(); !strings.Contains(got, "ничего не найдено") {
		t.Fatalf("search miss: %q", got)
	}
}

func TestExportSendsDocument(t *testing.T) {
	e := newEnv(t)
	e.bot.onMessage(context.Background(), text(admin, "/export"))

	e.api.mu.Lock()
	defer e.api.mu.Unlock()
	doc, ok := e.api.sent[len(e.api.sent)-1].(tgbotapi.DocumentConfig)
	if !ok {
		t.Fatalf("want document got %T", e.api.sent[len(e.api.sent)-1])
	}
	fb, ok := doc.File.(tgbotapi.FileBytes)
	if !ok || !strings.HasSuffix(fb.Name, ".xlsx") {
		t.Fatalf("file: %+v", doc.File)
	}
	if _, err := excel.ReadCounts(bytes.NewReader(fb.Bytes)); !errors.Is(err, excel.ErrEmptySheet) {
		t.Fatalf("fresh export has no counts: %v", err)
	}
}

func TestStocktakeUpload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var buf bytes.Buffer
	if err := excel.WriteStock(&buf, []excel.StockRow{{Material: e.catalog[0]}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	_ = f.SetCellValue(sheet, "I2", "92")
	var filled bytes.Buffer
	if err := f.Write(&filled); err != nil {
		t.Fatalf("write filled: %v", err)
	}
	_ = f.Close()

	e.bot.download = func(string) ([]byte, error) { return filled.Bytes(), nil }
	upd := tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: admin},
		Document: &tgbotapi.Document{FileID: "f1", FileName: "stock.XLSX"},
	}}
	e.bot.onMessage(ctx, upd)

	if got := e.api.last(); !strings.Contains(got, "Инвентаризация применена") || !strings.Contains(got, "Списано: 8") {
		t.Fatalf("reply: %q", got)
	}
	all, _ := e.svc.ListStock(ctx)
	for _, st := range all {
		if st.MaterialID == e.cement && !st.TotalQty.Equal(d("92")) {
			t.Fatalf("cement after stocktake: %s", st.TotalQty)
		}
	}

	upd.Message.Document = &tgbotapi.Document{FileID: "f2", FileName: "notes.pdf"}
	e.bot.onMessage(ctx, upd)
	if got := e.api.last(); !strings.Contains(got, "Нужен файл .xlsx") {
		t.Fatalf("wrong extension: %q", got)
	}
}

func TestSplitMessage(t *testing.T) {
	line := strings.Repeat("я", 1000)
	parts := splitMessage("title", []string{line, line, line, line, line})
	if len(parts) != 2 {
		t.Fatalf("want 2 parts got %d", len(parts))
	}
	for _, p := range parts {
		if n := len([]rune(p)); n > maxMessageRunes {
			t.Fatalf("part too long: %d", n)
		}
	}
}
