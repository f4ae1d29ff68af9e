// Package web serves the health probe, a public leaderboard page and the Telegram
// webhook endpoint.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/AlexYaroshenko/krasavchik/internal/game"
	"github.com/AlexYaroshenko/krasavchik/internal/i18n"
	"github.com/AlexYaroshenko/krasavchik/internal/store"
	"github.com/AlexYaroshenko/krasavchik/internal/telegram"
)

const WebhookPath = "/telegram/webhook"

// SecretHeader carries the secret_token registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Game is the read side of the game service the pages need.
type Game interface {
	Status(ctx context.Context) (store.SeasonControl, error)
	DaysUntilRollover(ctl store.SeasonControl) int
	Leaderboard(ctx context.Context, ctrs ...store.Counter) ([]game.Board, error)
}

// Dispatcher accepts updates pushed by Telegram.
type Dispatcher interface {
	Dispatch(ctx context.Context, update tgbotapi.Update)
}

type Server struct {
	game     Game
	bot      Dispatcher
	secret   string
	lang     string
	log      zerolog.Logger
	http     *http.Server
	shutdown time.Duration
	// base outlives a single request; handlers keep running after the webhook is answered
	base context.Context
}

// NewServer builds the server. bot may be nil when updates come by long polling;
// otherwise only webhook calls carrying secret are accepted.
func NewServer(port int, g Game, bot Dispatcher, secret, lang string, log zerolog.Logger) *Server {
	s := &Server{
		game:     g,
		bot:      bot,
		secret:   secret,
		lang:     i18n.Lang(lang),
		log:      log,
		shutdown: 5 * time.Second,
		base:     context.Background(),
	}
	s.http = &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if s.bot != nil {
		mux.HandleFunc(WebhookPath, s.handleWebhook)
	}
	return mux
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.base = ctx
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("Starting web server")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.log.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}
	s.log.Info().Msg("Web server stopped")
	return nil
}

type status struct {
	Status            string     `json:"status"`
	Season            int        `json:"season"`
	Active            bool       `json:"active"`
	LastRollover      *time.Time `json:"last_rollover,omitempty"`
	DaysUntilRollover int        `json:"days_until_rollover"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	res := status{Status: "ok"}
	ctl, err := s.game.Status(r.Context())
	switch {
	case errors.Is(err, game.ErrNoSeason):
	case err != nil:
		s.log.Error().Err(err).Msg("Failed to read season status")
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	default:
		res.Season = ctl.Current
		res.Active = ctl.Active
		res.LastRollover = ctl.LastRollover
		res.DaysUntilRollover = s.game.DaysUntilRollover(ctl)
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write status")
	}
}

var home = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Krasavchik</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; margin: 0; background: #f7f8fb; color: #111; }
        .container { max-width: 720px; margin: 0 auto; padding: 24px; }
        .card { background: #fff; border-radius: 12px; padding: 16px; margin-bottom: 16px; box-shadow: 0 2px 8px rgba(0,0,0,.06); }
        .muted { color: #666; font-size: 13px; }
    </style>
</head>
<body>
<div class="container">
    {{if .Season}}<p class="muted">Season {{.Season}}</p>{{end}}
    {{range .Boards}}
    <div class="card">
        <h2>{{.Title}}</h2>
        <ol>{{range .Rows}}<li>{{.Name}}: {{.Value}}</li>{{end}}</ol>
    </div>
    {{else}}
    <div class="card">{{.Empty}}</div>
    {{end}}
</div>
</body>
</html>`))

type homeRow struct {
	Name  string
	Value string
}

type homeBoard struct {
	Title string
	Rows  []homeRow
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	lang := s.lang
	if q := r.URL.Query().Get("lang"); q != "" {
		lang = i18n.Lang(q)
	}

	boards, err := s.game.Leaderboard(r.Context(), store.CounterRun, store.CounterPidor, store.CounterSosal)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load leaderboards")
		http.Error(w, "leaderboards unavailable", http.StatusServiceUnavailable)
		return
	}
	view := struct {
		Season int
		Boards []homeBoard
		Empty  string
	}{Empty: i18n.T(lang, "stats_empty")}
	if ctl, err := s.game.Status(r.Context()); err == nil {
		view.Season = ctl.Current
	}
	for _, b := range boards {
		if len(b.Entries) == 0 {
			continue
		}
		hb := homeBoard{Title: telegram.BoardTitle(lang, b.Counter)}
		for _, e := range b.Entries {
			hb.Rows = append(hb.Rows, homeRow{Name: telegram.Mention(e.Name), Value: telegram.FormatValue(b.Counter, e.Value)})
		}
		view.Boards = append(view.Boards, hb)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := home.Execute(w, view); err != nil {
		s.log.Error().Err(err).Msg("Failed to render home page")
	}
}

// handleWebhook acknowledges the update at once and handles it in the background.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	got := r.Header.Get(SecretHeader)
	if s.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("Rejected webhook call with bad secret")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var upd tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		s.log.Warn().Err(err).Msg("Bad webhook payload")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.bot.Dispatch(s.base, upd)
	w.WriteHeader(http.StatusOK)
}
