package telegram

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexYaroshenko/krasavchik/internal/clock"
	"github.com/AlexYaroshenko/krasavchik/internal/game"
	"github.com/AlexYaroshenko/krasavchik/internal/lock"
	"github.com/AlexYaroshenko/krasavchik/internal/members"
	"github.com/AlexYaroshenko/krasavchik/internal/store"
)

type apiCall struct {
	endpoint string
	params   tgbotapi.Params
}

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	calls    []apiCall
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, apiCall{endpoint: endpoint, params: params})
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []string
	for _, c := range f.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			res = append(res, m.Text)
		case tgbotapi.EditMessageTextConfig:
			res = append(res, m.Text)
		}
	}
	return res
}

func (f *fakeAPI) last() string {
	t := f.texts()
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1]
}

// rosterSelector picks the lowest user id the roster knows about.
type rosterSelector struct {
	roster members.Roster
}

func (s rosterSelector) Pick(ctx context.Context, chatID int64) (members.Member, error) {
	list, err := s.roster.List(ctx, chatID)
	if err != nil {
		return members.Member{}, err
	}
	if len(list) < members.MinMembers {
		return members.Member{}, members.ErrNotEnoughMembers
	}
	return list[0], nil
}

const chatID = -1001

type harness struct {
	bot    *Bot
	api    *fakeAPI
	roster *members.MemoryRoster
	clock  *clock.Fixed
	next   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := store.OpenBolt(filepath.Join(t.TempDir(), "bot.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	clk := &clock.Fixed{T: time.Date(2025, 5, 5, 12, 0, 0, 0, time.UTC)}
	roster := members.NewMemoryRoster()
	svc := game.New(game.Options{
		Store:          s,
		Clock:          clk,
		Locker:         lock.NewLocal(),
		Selector:       rosterSelector{roster: roster},
		Admin:          "boss",
		HourlyCooldown: time.Hour,
		SeasonLength:   90 * 24 * time.Hour,
		Log:            zerolog.Nop(),
	})
	api := &fakeAPI{}
	bot := New(api, svc, roster, Options{Name: "KrasavchikBot", Language: "ru", BuildUpDelay: time.Second, Log: zerolog.Nop()})
	bot.sleep = func(time.Duration) {}
	return &harness{bot: bot, api: api, roster: roster, clock: clk}
}

func (h *harness) say(from *tgbotapi.User, text string) {
	h.next++
	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{
		UpdateID: h.next,
		Message: &tgbotapi.Message{
			MessageID: h.next,
			From:      from,
			Chat:      &tgbotapi.Chat{ID: chatID, Type: "supergroup"},
			Text:      text,
		},
	})
}

func (h *harness) click(from *tgbotapi.User, data string) {
	h.next++
	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{
		UpdateID: h.next,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "q",
			From:    from,
			Message: &tgbotapi.Message{MessageID: 77, Chat: &tgbotapi.Chat{ID: chatID, Type: "supergroup"}},
			Data:    data,
		},
	})
}

var (
	vasya = &tgbotapi.User{ID: 10, UserName: "vasya", FirstName: "Вася"}
	petya = &tgbotapi.User{ID: 20, FirstName: "Петя", LastName: "Иванов"}
	boss  = &tgbotapi.User{ID: 30, UserName: "Boss"}
	robot = &tgbotapi.User{ID: 40, UserName: "helper_bot", IsBot: true}
)

func TestSosalAndNesosal(t *testing.T) {
	h := newHarness(t)

	h.say(petya, "/nesosal")
	assert.Equal(t, "Сначала нужно хотя бы раз сосать", h.api.last())

	h.say(petya, "/sosal")
	assert.Equal(t, "Уважаемый Петя Иванов сосал 1 раз(а)", h.api.last())

	h.say(petya, "/sosal@KrasavchikBot")
	assert.Equal(t, "Команду можно использовать только раз в час. Подожди ещё 1 ч 0 мин", h.api.last())

	h.say(vasya, "/sosal")
	assert.Equal(t, "Уважаемый @vasya сосал 1 раз(а)", h.api.last())

	h.say(petya, "/nesosal")
	assert.Equal(t, "Врешь, сосал 2 раз", h.api.last())
}

func TestRunAward(t *testing.T) {
	h := newHarness(t)

	h.say(vasya, "/run")
	assert.Equal(t, "Недостаточно участников в чате", h.api.last())

	h.say(petya, "hello")
	h.say(robot, "beep")
	before := len(h.api.texts())
	h.say(vasya, "/run")

	texts := h.api.texts()[before:]
	require.Len(t, texts, BuildUpSteps+1)
	assert.Equal(t, "Внимание, начинаю поиск красавчика дня...", texts[0])
	assert.Equal(t, "🎉Красавчик сегодня - @vasya🥳", texts[BuildUpSteps])

	h.say(petya, "/run")
	assert.Contains(t, h.api.last(), "только раз в день")

	h.say(petya, "/stats")
	assert.Equal(t, "Топ красавчиков:\n1. @vasya: 1\n", h.api.last())
}

func TestRosterFeeding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.say(robot, "beep")
	h.say(vasya, "hi")
	h.next++
	h.bot.HandleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID:      h.next,
		From:           vasya,
		Chat:           &tgbotapi.Chat{ID: chatID, Type: "group"},
		NewChatMembers: []tgbotapi.User{*petya},
	}})

	list, err := h.roster.List(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(10), list[0].ID)
	assert.Equal(t, store.Plain("Петя Иванов"), list[1].Name)

	h.bot.HandleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
		From:           vasya,
		Chat:           &tgbotapi.Chat{ID: chatID, Type: "group"},
		LeftChatMember: petya,
	}})
	list, err = h.roster.List(ctx, chatID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// private chats are not rosters
	h.bot.HandleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
		From: boss,
		Chat: &tgbotapi.Chat{ID: 30, Type: "private"},
		Text: "hi",
	}})
	list, err = h.roster.List(ctx, 30)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStatsEmpty(t *testing.T) {
	h := newHarness(t)
	h.say(vasya, "/stats")
	assert.Equal(t, "Статистика пуста", h.api.last())
	h.say(vasya, "/sostats")
	assert.Equal(t, "Статистика пуста", h.api.last())
}

func TestSeasonCommands(t *testing.T) {
	h := newHarness(t)

	h.say(vasya, "/clear")
	assert.Equal(t, "Сезон еще не начался", h.api.last())
	h.say(vasya, "/seasons")
	assert.Equal(t, "Нет завершенных сезонов", h.api.last())

	h.say(vasya, "/sosal")
	h.say(vasya, "/clear")
	assert.Equal(t, "Нужно подождать еще 90 дней", h.api.last())
	h.say(vasya, "/admclear")
	assert.Equal(t, "Команда доступна только администратору", h.api.last())
	h.say(vasya, "/season_start")
	assert.Equal(t, "Команда доступна только администратору", h.api.last())

	h.say(boss, "/admclear")
	assert.Equal(t, "Сезон 1 завершен", h.api.last())
	h.say(boss, "/season_start")
	assert.Equal(t, "Сезон №2 запущен!", h.api.last())
	h.say(boss, "/season_start")
	assert.Equal(t, "Сезон уже идёт", h.api.last())

	h.say(vasya, "/soseasons")
	h.api.mu.Lock()
	menu, ok := h.api.sent[len(h.api.sent)-1].(tgbotapi.MessageConfig)
	h.api.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, "Выберите сезон для просмотра статистики сосунов:", menu.Text)
	kb, ok := menu.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 2)
	assert.Equal(t, "season:sosal:1", *kb.InlineKeyboard[0][0].CallbackData)

	h.click(vasya, "season:sosal:1")
	assert.Equal(t, "Статистика сосунов сезона 1:\n1. @vasya: 1\n", h.api.last())
	h.click(vasya, "season:awards:1")
	assert.Equal(t, "Нет статистики для сезона 1", h.api.last())
	h.click(vasya, "cancel")
	assert.Equal(t, "Отменено", h.api.last())

	h.api.mu.Lock()
	assert.Len(t, h.api.requests, 3)
	h.api.mu.Unlock()
}

func TestHelpAndForeignCommands(t *testing.T) {
	h := newHarness(t)
	h.say(vasya, "/help")
	assert.Contains(t, h.api.last(), "/run")

	before := len(h.api.texts())
	h.say(vasya, "/run@SomeOtherBot")
	h.say(vasya, "/unknown")
	assert.Len(t, h.api.texts(), before)
}

func TestHandleUpdateRecoversPanics(t *testing.T) {
	h := newHarness(t)
	h.bot.roster = nil
	assert.NotPanics(t, func() { h.say(vasya, "hello") })
}

func TestSetWebhookSendsSecret(t *testing.T) {
	h := newHarness(t)

	require.Error(t, h.bot.SetWebhook("https://bot.example.org/telegram/webhook", ""))
	require.Error(t, h.bot.SetWebhook("://bad", "s3cret"))

	require.NoError(t, h.bot.SetWebhook("https://bot.example.org/telegram/webhook", "s3cret"))
	h.api.mu.Lock()
	defer h.api.mu.Unlock()
	require.Len(t, h.api.calls, 1)
	assert.Equal(t, "setWebhook", h.api.calls[0].endpoint)
	assert.Equal(t, "https://bot.example.org/telegram/webhook", h.api.calls[0].params["url"])
	assert.Equal(t, "s3cret", h.api.calls[0].params["secret_token"])
}
