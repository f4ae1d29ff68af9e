// Package telegram connects the game to the Telegram Bot API: it receives updates,
// dispatches commands and renders the replies.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/AlexYaroshenko/krasavchik/internal/game"
	"github.com/AlexYaroshenko/krasavchik/internal/i18n"
	"github.com/AlexYaroshenko/krasavchik/internal/members"
	"github.com/AlexYaroshenko/krasavchik/internal/parser"
)

// BuildUpSteps is the number of messages sent before an award is announced.
const BuildUpSteps = 5

// API is the sending part of *tgbotapi.BotAPI.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

type Options struct {
	// Name is the bot's username, used to accept "/cmd@name".
	Name         string
	Language     string
	BuildUpDelay time.Duration
	Log          zerolog.Logger
}

type Bot struct {
	api    API
	game   *game.Service
	roster members.Roster
	name   string
	lang   string
	delay  time.Duration
	sleep  func(time.Duration)
	log    zerolog.Logger
	wg     sync.WaitGroup
}

func New(api API, svc *game.Service, roster members.Roster, o Options) *Bot {
	return &Bot{
		api:    api,
		game:   svc,
		roster: roster,
		name:   o.Name,
		lang:   i18n.Lang(o.Language),
		delay:  o.BuildUpDelay,
		sleep:  time.Sleep,
		log:    o.Log,
	}
}

// Poll receives updates by long polling until ctx is done, then waits for running handlers.
func (b *Bot) Poll(ctx context.Context, api *tgbotapi.BotAPI) error {
	if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	b.log.Info().Str("bot", b.name).Msg("Polling for updates")

	for {
		select {
		case update := <-updates:
			b.Dispatch(ctx, update)
		case <-ctx.Done():
			api.StopReceivingUpdates()
			b.wg.Wait()
			b.log.Info().Msg("Bot stopped")
			return nil
		}
	}
}

// SetWebhook registers url with Telegram; updates then arrive through the web server
// carrying secret in the X-Telegram-Bot-Api-Secret-Token header.
func (b *Bot) SetWebhook(url, secret string) error {
	if _, err := tgbotapi.NewWebhook(url); err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if secret == "" {
		return errors.New("webhook secret is required")
	}
	// WebhookConfig has no secret_token field, so the call is made by hand
	params := tgbotapi.Params{"url": url, "secret_token": secret}
	if _, err := b.api.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	b.log.Info().Str("url", url).Msg("Webhook registered")
	return nil
}

// Dispatch handles the update in its own goroutine.
func (b *Bot) Dispatch(ctx context.Context, update tgbotapi.Update) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.HandleUpdate(ctx, update)
	}()
}

// Wait blocks until every dispatched update is handled.
func (b *Bot) Wait() { b.wg.Wait() }

func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Int("update_id", update.UpdateID).Msg("Recovered from panic in update handler")
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	b.remember(ctx, msg)

	cmd, ok := parser.ParseCommand(msg.Text, b.name)
	if !ok || msg.From == nil {
		return
	}
	actor := game.Actor{ID: msg.From.ID, Name: members.NameOf(msg.From.UserName, msg.From.FirstName, msg.From.LastName)}
	b.log.Debug().Int64("chat_id", msg.Chat.ID).Int64("user_id", actor.ID).Str("command", string(cmd)).Msg("Command received")

	switch cmd {
	case parser.CmdRun:
		b.handleAward(ctx, msg, game.AwardRun, "run")
	case parser.CmdPidor:
		b.handleAward(ctx, msg, game.AwardPidor, "pidor")
	case parser.CmdSosal:
		b.handleSosal(ctx, msg, actor)
	case parser.CmdNesosal:
		b.handleNesosal(ctx, msg, actor)
	case parser.CmdStats:
		b.handleStats(ctx, msg)
	case parser.CmdSostats:
		b.handleSostats(ctx, msg)
	case parser.CmdClear:
		b.handleClear(ctx, msg, actor, false)
	case parser.CmdAdmClear:
		b.handleClear(ctx, msg, actor, true)
	case parser.CmdSeasons:
		b.handleSeasons(ctx, msg, parser.BoardAwards)
	case parser.CmdSoseasons:
		b.handleSeasons(ctx, msg, parser.BoardSosal)
	case parser.CmdSeasonStart:
		b.handleSeasonStart(ctx, msg, actor)
	case parser.CmdHelp, parser.CmdStart:
		b.reply(msg, i18n.T(b.lang, "help"))
	}
}

// remember feeds the roster the member selector draws from.
func (b *Bot) remember(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.Chat.IsGroup() && !msg.Chat.IsSuperGroup() {
		return
	}
	chatID := msg.Chat.ID
	add := func(u *tgbotapi.User) {
		if u == nil || u.IsBot {
			return
		}
		if err := b.roster.Add(ctx, chatID, memberOf(u)); err != nil {
			b.log.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to update roster")
		}
	}
	add(msg.From)
	for i := range msg.NewChatMembers {
		add(&msg.NewChatMembers[i])
	}
	if left := msg.LeftChatMember; left != nil {
		if err := b.roster.Remove(ctx, chatID, left.ID); err != nil {
			b.log.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to update roster")
		}
	}
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	if _, err := b.api.Send(out); err != nil {
		b.log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("Failed to send message")
	}
}

func (b *Bot) replyError(msg *tgbotapi.Message, err error) {
	text := ErrorText(b.lang, err)
	if text == i18n.T(b.lang, "failure") {
		b.log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Str("text", msg.Text).Msg("Command failed")
	}
	b.reply(msg, text)
}
