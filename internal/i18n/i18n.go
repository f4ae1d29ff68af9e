package i18n

import (
	"fmt"
	"strings"
)

// Default is the bot's own language, used when a key or language is missing.
const Default = "ru"

// Supported languages: Russian (ru), English (en)
var supported = map[string]map[string]string{
	"ru": {
		"cooldown_daily":      "Команду можно использовать только раз в день. Следующая попытка через %s",
		"cooldown_hourly":     "Команду можно использовать только раз в час. Подожди ещё %s",
		"not_enough_members":  "Недостаточно участников в чате",
		"busy":                "Команда уже выполняется, подожди",
		"failure":             "Что-то пошло не так, попробуй позже",
		"run_buildup_1":       "Внимание, начинаю поиск красавчика дня...",
		"run_buildup_2":       "Сканирую лица участников...",
		"run_buildup_3":       "Сверяю с эталоном красоты...",
		"run_buildup_4":       "Кажется, есть кандидат!",
		"run_buildup_5":       "Барабанная дробь...",
		"pidor_buildup_1":     "Объявляю охоту на пидора дня...",
		"pidor_buildup_2":     "Проверяю историю браузера...",
		"pidor_buildup_3":     "Изучаю подписки в соцсетях...",
		"pidor_buildup_4":     "Сомнений почти не осталось...",
		"pidor_buildup_5":     "Итак...",
		"run_winner":          "🎉Красавчик сегодня - %s🥳",
		"pidor_winner":        "🏳‍🌈Сегодня ПИДОР ДНЯ - %s👬",
		"sosal":               "Уважаемый %s сосал %s раз(а)",
		"nesosal":             "Врешь, сосал %s раз",
		"no_prior_record":     "Сначала нужно хотя бы раз сосать",
		"counter_overflow":    "Больше уже некуда, счётчик на пределе",
		"stats_empty":         "Статистика пуста",
		"top_run":             "Топ красавчиков:",
		"top_pidor":           "Топ пидоров:",
		"top_sosal":           "Топ сосунов:",
		"no_season":           "Сезон еще не начался",
		"wait_days":           "Нужно подождать еще %d дней",
		"season_closed":       "Сезон %d завершен",
		"admin_only":          "Команда доступна только администратору",
		"no_seasons":          "Нет завершенных сезонов",
		"choose_season":       "Выберите сезон:",
		"choose_season_sosal": "Выберите сезон для просмотра статистики сосунов:",
		"season_button":       "Сезон %d",
		"cancel_button":       "Отмена",
		"cancelled":           "Отменено",
		"season_empty":        "Нет статистики для сезона %d",
		"season_sosal_empty":  "Нет статистики сосунов для сезона %d",
		"season_stats":        "Статистика сезона %d:",
		"season_sosal_stats":  "Статистика сосунов сезона %d:",
		"season_started":      "Сезон №%d запущен!",
		"season_active":       "Сезон уже идёт",
		"duration":            "%d ч %d мин",
		"help": "/run - красавчик дня\n/pidor - пидор дня\n/sosal - отметиться раз в час\n" +
			"/nesosal - удвоить счётчик раз в час\n/stats - общая статистика\n/sostats - топ сосунов\n" +
			"/clear - завершить сезон (раз в 90 дней)\n/seasons - статистика прошлых сезонов\n" +
			"/soseasons - сосуны прошлых сезонов",
	},
	"en": {
		"cooldown_daily":      "This command works once a day. Next try in %s",
		"cooldown_hourly":     "This command works once an hour. Wait another %s",
		"not_enough_members":  "Not enough members in this chat",
		"busy":                "The command is already running, hold on",
		"failure":             "Something went wrong, try again later",
		"run_buildup_1":       "Attention, searching for today's handsome one...",
		"run_buildup_2":       "Scanning faces...",
		"run_buildup_3":       "Comparing against the beauty standard...",
		"run_buildup_4":       "Looks like we have a candidate!",
		"run_buildup_5":       "Drum roll...",
		"pidor_buildup_1":     "The hunt for today's loser is on...",
		"pidor_buildup_2":     "Checking browser history...",
		"pidor_buildup_3":     "Reading social media subscriptions...",
		"pidor_buildup_4":     "Almost no doubt left...",
		"pidor_buildup_5":     "And so...",
		"run_winner":          "🎉Handsome of the day - %s🥳",
		"pidor_winner":        "🏳‍🌈Loser of the day - %s👬",
		"sosal":               "Dear %s, your count is %s",
		"nesosal":             "Liar, it is %s",
		"no_prior_record":     "Use /sosal at least once first",
		"counter_overflow":    "Can't go any higher, the counter is maxed out",
		"stats_empty":         "No statistics yet",
		"top_run":             "Top handsome:",
		"top_pidor":           "Top losers:",
		"top_sosal":           "Top sosal:",
		"no_season":           "The season has not started yet",
		"wait_days":           "Wait another %d days",
		"season_closed":       "Season %d is over",
		"admin_only":          "This command is for the administrator only",
		"no_seasons":          "No finished seasons",
		"choose_season":       "Choose a season:",
		"choose_season_sosal": "Choose a season to see the sosal board:",
		"season_button":       "Season %d",
		"cancel_button":       "Cancel",
		"cancelled":           "Cancelled",
		"season_empty":        "No statistics for season %d",
		"season_sosal_empty":  "No sosal statistics for season %d",
		"season_stats":        "Season %d statistics:",
		"season_sosal_stats":  "Season %d sosal statistics:",
		"season_started":      "Season #%d started!",
		"season_active":       "The season is already running",
		"duration":            "%dh %dm",
		"help": "/run - handsome of the day\n/pidor - loser of the day\n/sosal - check in once an hour\n" +
			"/nesosal - double your count once an hour\n/stats - overall statistics\n/sostats - sosal board\n" +
			"/clear - close the season (every 90 days)\n/seasons - past season statistics\n" +
			"/soseasons - past sosal boards",
	},
}

// T looks the key up in lang, then in Default, then returns the key itself.
// With args the text is used as a format string.
func T(lang, key string, args ...any) string {
	text := lookup(lang, key)
	if len(args) == 0 {
		return text
	}
	return fmt.Sprintf(text, args...)
}

func lookup(lang, key string) string {
	if m, ok := supported[lang]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if v, ok := supported[Default][key]; ok {
		return v
	}
	return key
}

// Lang maps a configured or client language code onto a supported language.
func Lang(code string) string {
	code = normalize(code)
	if _, ok := supported[code]; ok {
		return code
	}
	return Default
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) >= 2 {
		s = s[:2]
	}
	return s
}
