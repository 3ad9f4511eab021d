package app

import (
	"encoding/json"
	"net/http"
	"time"

	"dicebot/pkg/db"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-pg/urlstruct"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxPageSize = 500

func (a *App) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	r.Post(webhookPath, a.b.WebhookHandler())

	if a.cfg.Server.APIPassword == "" {
		a.Printf("operator routes are disabled, set Server.APIPassword to enable /metrics and /api")
		return r
	}
	r.Group(func(r chi.Router) {
		r.Use(middleware.BasicAuth(a.appName, map[string]string{
			a.cfg.Server.APIUser: a.cfg.Server.APIPassword,
		}))
		r.Handle("/metrics", promhttp.Handler())
		r.With(middleware.Timeout(30 * time.Second)).Get("/api/bets", a.handleBets)
	})

	return r
}

// betsQuery is the query string of /api/bets, zero values are not filtered.
type betsQuery struct {
	UserID   int64  `urlstruct:"userId"`
	BetID    string `urlstruct:"betId"`
	GameKey  string `urlstruct:"gameKey"`
	BetType  string `urlstruct:"betType"`
	Result   string `urlstruct:"result"`
	Page     int    `urlstruct:"page"`
	PageSize int    `urlstruct:"pageSize"`
}

func (q betsQuery) search() *db.BetRecordSearch {
	s := &db.BetRecordSearch{}
	if q.UserID != 0 {
		s.UserID = &q.UserID
	}
	if q.BetID != "" {
		s.BetID = &q.BetID
	}
	if q.GameKey != "" {
		s.GameKey = &q.GameKey
	}
	if q.BetType != "" {
		s.BetType = &q.BetType
	}
	if q.Result != "" {
		s.Result = &q.Result
	}
	return s
}

func (q betsQuery) pager() db.Pager {
	p := db.Pager{Page: q.Page, PageSize: q.PageSize}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 || p.PageSize > maxPageSize {
		p.PageSize = 50
	}
	return p
}

func (a *App) handleBets(w http.ResponseWriter, r *http.Request) {
	var q betsQuery
	if err := urlstruct.Unmarshal(r.Context(), r.URL.Query(), &q); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bets, err := a.repo.Bets(r.Context(), q.search(), q.pager())
	if err != nil {
		a.Errorf("api bets err=%q", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
