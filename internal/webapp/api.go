package webapp

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/phuslu/log"

	"nuha.dev/runtracker/internal/service"
)

type ApiConfig struct {
	ListenAddr string
	// Token, when set, must be sent as "Authorization: Bearer <token>".
	Token string
}

type Api struct {
	r      chi.Router
	s      *http.Server
	config *ApiConfig
	log    log.Logger
}

func NewApi(runs *service.RunService, config *ApiConfig) *Api {
	api := &Api{config: config}
	api.log = log.DefaultLogger
	api.log.Context = log.NewContext(nil).Str("module", "api-server").Value()
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestLogger(&requestLogger{log: api.log}))
	r.Use(middleware.Recoverer)

	disp := NewDispatcher()
	disp.Add("StartRun", runs.StartRun)
	disp.Add("StopRun", runs.StopRun)
	disp.Add("ResetRun", runs.ResetRun)
	disp.Add("GetRunStatus", runs.GetRunStatus)
	disp.Add("GetRuns", runs.GetRuns)
	disp.Add("GetRun", runs.GetRun)
	disp.Add("PushFix", runs.PushFix)
	disp.Add("DeleteRun", runs.DeleteRun)
	disp.Add("ClearRuns", runs.ClearRuns)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	var final_router chi.Router
	if config.Token != "" {
		final_router = r.With(api.token_verify)
	} else {
		final_router = r
	}
	final_router.Post("/func/{name}", func(w http.ResponseWriter, r *http.Request) {
		disp.Call(chi.URLParam(r, "name"), w, r)
	})

	api.r = r
	api.s = &http.Server{
		Addr:           api.config.ListenAddr,
		Handler:        api.r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return api
}

func (api *Api) Handler() http.Handler {
	return api.r
}

func (api *Api) Run() error {
	api.log.Info().Msgf("starting api-server on : %s", api.s.Addr)
	err := api.s.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		api.log.Error().Err(err).Msg("")
		return err
	}
	return nil
}

func (api *Api) Close() error {
	return api.s.Close()
}

func (api *Api) token_verify(next http.Handler) http.Handler {
	want := []byte("Bearer " + api.config.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			api.log.Debug().Str("remote", r.RemoteAddr).Msg("rejected api token")
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
