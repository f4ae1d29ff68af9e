package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/AlexYaroshenko/krasavchik/internal/cooldown"
	"github.com/AlexYaroshenko/krasavchik/internal/counters"
	"github.com/AlexYaroshenko/krasavchik/internal/game"
	"github.com/AlexYaroshenko/krasavchik/internal/i18n"
	"github.com/AlexYaroshenko/krasavchik/internal/parser"
	"github.com/AlexYaroshenko/krasavchik/internal/store"
)

// Mention renders a stored name: handles get an @, plain names are shown as is.
func Mention(n store.DisplayName) string {
	if n.Kind == store.NameHandle {
		return "@" + n.Value
	}
	if n.Value == "" {
		return "Unknown"
	}
	return n.Value
}

// FormatCount groups digits by three with spaces: 1234567 -> "1 234 567".
func FormatCount(n int64) string {
	s := strconv.FormatInt(n, 10)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return sign + b.String()
}

// FormatValue shows sosal counts with digit groups and award counts plainly.
func FormatValue(c store.Counter, v int64) string {
	if c == store.CounterSosal {
		return FormatCount(v)
	}
	return strconv.FormatInt(v, 10)
}

// FormatDuration rounds up to whole minutes.
func FormatDuration(lang string, d time.Duration) string {
	mins := int((d + time.Minute - 1) / time.Minute)
	return i18n.T(lang, "duration", mins/60, mins%60)
}

var boardTitles = map[store.Counter]string{
	store.CounterRun:   "top_run",
	store.CounterPidor: "top_pidor",
	store.CounterSosal: "top_sosal",
}

// BoardTitle is the localized heading of a counter's leaderboard.
func BoardTitle(lang string, c store.Counter) string {
	return i18n.T(lang, boardTitles[c])
}

// RenderBoard writes "title\n1. name: value\n..." or "" for an empty board.
func RenderBoard(lang string, b game.Board) string {
	if len(b.Entries) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(BoardTitle(lang, b.Counter))
	sb.WriteByte('\n')
	writeEntries(&sb, b.Counter, b.Entries)
	return sb.String()
}

func writeEntries(sb *strings.Builder, c store.Counter, entries []counters.Entry) {
	for i, e := range entries {
		fmt.Fprintf(sb, "%d. %s: %s\n", i+1, Mention(e.Name), FormatValue(c, e.Value))
	}
}

func boardsEmpty(boards []game.Board) bool {
	for _, b := range boards {
		if len(b.Entries) > 0 {
			return false
		}
	}
	return true
}

// RenderSeason renders the season statistics for the board kind chosen in the menu.
func RenderSeason(lang string, kind parser.Board, number int, boards []game.Board) string {
	if boardsEmpty(boards) {
		if kind == parser.BoardSosal {
			return i18n.T(lang, "season_sosal_empty", number)
		}
		return i18n.T(lang, "season_empty", number)
	}
	if kind == parser.BoardSosal {
		var sb strings.Builder
		sb.WriteString(i18n.T(lang, "season_sosal_stats", number))
		sb.WriteByte('\n')
		for _, b := range boards {
			writeEntries(&sb, b.Counter, b.Entries)
		}
		return sb.String()
	}
	parts := []string{i18n.T(lang, "season_stats", number) + "\n"}
	for _, b := range boards {
		if text := RenderBoard(lang, b); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// SeasonKeyboard lays the season buttons out two per row with a cancel row below.
func SeasonKeyboard(lang string, kind parser.Board, seasons []int) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, n := range seasons {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(i18n.T(lang, "season_button", n), parser.SeasonData(kind, n)))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(i18n.T(lang, "cancel_button"), parser.CancelData()),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// ErrorText maps a command failure onto the reply shown in the chat.
func ErrorText(lang string, err error) string {
	var cd *game.CooldownError
	var soon *game.RolloverTooSoonError
	switch {
	case errors.As(err, &cd):
		key := "cooldown_hourly"
		if cd.Command.Class == cooldown.DailyAtMidnight {
			key = "cooldown_daily"
		}
		return i18n.T(lang, key, FormatDuration(lang, cd.Remaining))
	case errors.As(err, &soon):
		return i18n.T(lang, "wait_days", soon.DaysRemaining)
	case errors.Is(err, game.ErrInsufficientMembers):
		return i18n.T(lang, "not_enough_members")
	case errors.Is(err, game.ErrNoPriorRecord):
		return i18n.T(lang, "no_prior_record")
	case errors.Is(err, game.ErrCounterOverflow):
		return i18n.T(lang, "counter_overflow")
	case errors.Is(err, game.ErrPermissionDenied):
		return i18n.T(lang, "admin_only")
	case errors.Is(err, game.ErrAlreadyActive):
		return i18n.T(lang, "season_active")
	case errors.Is(err, game.ErrNoSeason):
		return i18n.T(lang, "no_season")
	case errors.Is(err, game.ErrBusy):
		return i18n.T(lang, "busy")
	}
	return i18n.T(lang, "failure")
}
