package telegram

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/AlexYaroshenko/krasavchik/internal/game"
	"github.com/AlexYaroshenko/krasavchik/internal/i18n"
	"github.com/AlexYaroshenko/krasavchik/internal/members"
	"github.com/AlexYaroshenko/krasavchik/internal/parser"
	"github.com/AlexYaroshenko/krasavchik/internal/store"
)

func (b *Bot) handleAward(ctx context.Context, msg *tgbotapi.Message, award game.Award, prefix string) {
	buildUp := func(_ context.Context, _ members.Member) error {
		for i := 1; i <= BuildUpSteps; i++ {
			out := tgbotapi.NewMessage(msg.Chat.ID, i18n.T(b.lang, fmt.Sprintf("%s_buildup_%d", prefix, i)))
			if _, err := b.api.Send(out); err != nil {
				return err
			}
			b.sleep(b.delay)
		}
		return nil
	}

	res, err := b.game.Award(ctx, msg.Chat.ID, award, buildUp)
	if err != nil {
		b.replyError(msg, err)
		return
	}
	b.reply(msg, i18n.T(b.lang, prefix+"_winner", Mention(res.Winner.Name)))
}

func (b *Bot) handleSosal(ctx context.Context, msg *tgbotapi.Message, actor game.Actor) {
	total, err := b.game.Hourly(ctx, msg.Chat.ID, actor)
	if err != nil {
		b.replyError(msg, err)
		return
	}
	b.reply(msg, i18n.T(b.lang, "sosal", Mention(actor.Name), FormatCount(total)))
}

func (b *Bot) handleNesosal(ctx context.Context, msg *tgbotapi.Message, actor game.Actor) {
	total, err := b.game.Reverse(ctx, msg.Chat.ID, actor)
	if err != nil {
		b.replyError(msg, err)
		return
	}
	b.reply(msg, i18n.T(b.lang, "nesosal", FormatCount(total)))
}

func (b *Bot) handleStats(ctx context.Context, msg *tgbotapi.Message) {
	b.sendBoards(ctx, msg, store.CounterRun, store.CounterPidor)
}

func (b *Bot) handleSostats(ctx context.Context, msg *tgbotapi.Message) {
	b.sendBoards(ctx, msg, store.CounterSosal)
}

// sendBoards sends one message per non-empty board.
func (b *Bot) sendBoards(ctx context.Context, msg *tgbotapi.Message, ctrs ...store.Counter) {
	boards, err := b.game.Leaderboard(ctx, ctrs...)
	if err != nil {
		b.replyError(msg, err)
		return
	}
	if boardsEmpty(boards) {
		b.reply(msg, i18n.T(b.lang, "stats_empty"))
		return
	}
	for _, board := range boards {
		if text := RenderBoard(b.lang, board); text != "" {
			b.reply(msg, text)
		}
	}
}

func (b *Bot) handleClear(ctx context.Context, msg *tgbotapi.Message, actor game.Actor, force bool) {
	res, err := b.game.Rollover(ctx, actor, force)
	if err != nil {
		b.replyError(msg, err)
		return
	}
	b.reply(msg, i18n.T(b.lang, "season_closed", res.Closed))
}

func (b *Bot) handleSeasonStart(ctx context.Context, msg *tgbotapi.Message, actor game.Actor) {
	ctl, err := b.game.StartSeason(ctx, actor)
	if err != nil {
		b.replyError(msg, err)
		return
	}
	b.reply(msg, i18n.T(b.lang, "season_started", ctl.Current))
}

func (b *Bot) handleSeasons(ctx context.Context, msg *tgbotapi.Message, kind parser.Board) {
	menu, err := b.game.Seasons(ctx)
	if errors.Is(err, game.ErrNoSeason) {
		b.reply(msg, i18n.T(b.lang, "no_seasons"))
		return
	}
	if err != nil {
		b.replyError(msg, err)
		return
	}
	title := "choose_season"
	if kind == parser.BoardSosal {
		title = "choose_season_sosal"
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, i18n.T(b.lang, title))
	out.ReplyToMessageID = msg.MessageID
	out.ReplyMarkup = SeasonKeyboard(b.lang, kind, menu.Seasons)
	if _, err := b.api.Send(out); err != nil {
		b.log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("Failed to send season menu")
	}
}

func boardCounters(kind parser.Board) []store.Counter {
	if kind == parser.BoardSosal {
		return []store.Counter{store.CounterSosal}
	}
	return []store.Counter{store.CounterRun, store.CounterPidor}
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		b.log.Warn().Err(err).Str("callback_id", q.ID).Msg("Failed to answer callback")
	}
	if q.Message == nil || q.Message.Chat == nil {
		return
	}
	cb, ok := parser.ParseCallback(q.Data)
	if !ok {
		b.log.Debug().Str("data", q.Data).Msg("Unknown callback data")
		return
	}

	var text string
	if cb.Cancel {
		text = i18n.T(b.lang, "cancelled")
	} else {
		boards, err := b.game.SeasonBoard(ctx, cb.Season, boardCounters(cb.Board)...)
		if err != nil {
			b.log.Error().Err(err).Int("season", cb.Season).Msg("Failed to load season board")
			text = ErrorText(b.lang, err)
		} else {
			text = RenderSeason(b.lang, cb.Board, cb.Season, boards)
		}
	}

	edit := tgbotapi.NewEditMessageText(q.Message.Chat.ID, q.Message.MessageID, text)
	if _, err := b.api.Send(edit); err != nil {
		b.log.Error().Err(err).Int64("chat_id", q.Message.Chat.ID).Msg("Failed to edit message")
	}
}
