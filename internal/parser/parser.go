// Package parser turns chat message text and inline button data into typed commands.
package parser

import (
	"fmt"
	"strconv"
	"strings"
)

type Command string

const (
	CmdRun         Command = "run"
	CmdPidor       Command = "pidor"
	CmdSosal       Command = "sosal"
	CmdNesosal     Command = "nesosal"
	CmdStats       Command = "stats"
	CmdSostats     Command = "sostats"
	CmdClear       Command = "clear"
	CmdAdmClear    Command = "admclear"
	CmdSeasons     Command = "seasons"
	CmdSoseasons   Command = "soseasons"
	CmdSeasonStart Command = "season_start"
	CmdHelp        Command = "help"
	CmdStart       Command = "start"
)

var known = map[Command]struct{}{
	CmdRun: {}, CmdPidor: {}, CmdSosal: {}, CmdNesosal: {}, CmdStats: {}, CmdSostats: {},
	CmdClear: {}, CmdAdmClear: {}, CmdSeasons: {}, CmdSoseasons: {}, CmdSeasonStart: {},
	CmdHelp: {}, CmdStart: {},
}

// ParseCommand extracts the command from "/name", "/name@bot args". A command addressed to
// another bot is ignored.
func ParseCommand(text, botName string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	word := strings.Fields(text[1:])
	if len(word) == 0 {
		return "", false
	}
	name, target, addressed := strings.Cut(word[0], "@")
	if addressed && !strings.EqualFold(target, botName) {
		return "", false
	}
	cmd := Command(strings.ToLower(name))
	if _, ok := known[cmd]; !ok {
		return "", false
	}
	return cmd, true
}

// Board selects which season statistics a menu button opens.
type Board string

const (
	BoardAwards Board = "awards"
	BoardSosal  Board = "sosal"
)

// Callback is decoded inline button data.
type Callback struct {
	Cancel bool
	Board  Board
	Season int
}

const (
	callbackCancel = "cancel"
	callbackSeason = "season"
)

// CancelData is the data of the menu's cancel button.
func CancelData() string { return callbackCancel }

// SeasonData encodes a season button as "season:<board>:<n>".
func SeasonData(b Board, n int) string {
	return fmt.Sprintf("%s:%s:%d", callbackSeason, b, n)
}

func ParseCallback(data string) (Callback, bool) {
	if data == callbackCancel {
		return Callback{Cancel: true}, true
	}
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != callbackSeason {
		return Callback{}, false
	}
	b := Board(parts[1])
	if b != BoardAwards && b != BoardSosal {
		return Callback{}, false
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil || n < 1 {
		return Callback{}, false
	}
	return Callback{Board: b, Season: n}, true
}
