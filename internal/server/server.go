package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/boardroom-ai/boardroom/config"
	"github.com/boardroom-ai/boardroom/internal/apperr"
	"github.com/boardroom-ai/boardroom/internal/clarify"
	"github.com/boardroom-ai/boardroom/internal/dedup"
	"github.com/boardroom-ai/boardroom/internal/dispatch"
	"github.com/boardroom-ai/boardroom/internal/engine/httpengine"
	"github.com/boardroom-ai/boardroom/internal/runtime"
	"github.com/boardroom-ai/boardroom/internal/store"
)

// Run wires the whole service and blocks serving HTTP until the listener
// fails.
func Run(cfg *config.Config, addr string) error {
	e := newEcho()

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	dsn := cfg.Storage.Postgres.DSN()
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	eng := httpengine.New(cfg.Engine.BaseURL, cfg.Engine.APIKey,
		cfg.Engine.EvalTimeout, cfg.Engine.DispatchTimeout)

	var guard dedup.Guard
	if cfg.Dedup.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
		guard = dedup.NewRedisGuard(rdb, cfg.Dedup.Window)
	} else {
		guard = dedup.NewLocalGuard(cfg.Dedup.Window, cfg.Dedup.Eviction, nil)
	}

	orch := clarify.NewOrchestrator(st, eng, cfg.Clarify.MaxUserTurns, cfg.Engine.DefaultTurns)
	disp := dispatch.NewDispatcher(st, guard, eng, cfg.Engine.DefaultTurns, cfg.Engine.MaxTurns)
	followup := clarify.NewFollowupController(st, eng)

	api := e.Group("/api")

	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"), api.Group("/me"))

	sh := &SessionsHandler{Store: st, Orch: orch}
	sh.Register(api.Group("/sessions"), secret)

	mh := &MeetingsHandler{Store: st, Dispatcher: disp}
	mh.Register(api, secret)

	ch := &ChatHandler{Store: st, Followup: followup}
	ch.Register(api.Group("/chat"), secret)

	memh := &MemoriesHandler{Store: st}
	memh.Register(api.Group("/memories"), secret)

	ph := &PersonasHandler{}
	ph.Register(api.Group("/personas"))

	if addr == "" {
		addr = cfg.General.Listen
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":10010"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// newEcho builds the echo instance with the middleware and error handler
// shared by the real server and the handler tests.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var appErr *apperr.Error
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		} else if errors.As(err, &appErr) {
			code = apperr.HTTPStatus(appErr)
			msg = appErr.Msg
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))
	return e
}

// currentUser returns the authenticated subject set by the auth middleware.
func currentUser(c echo.Context) string {
	s, _ := c.Get("user_id").(string)
	return s
}

// uuidParam validates a path id before it reaches Postgres, which would
// otherwise reject a malformed uuid with a driver error.
func uuidParam(c echo.Context, name string) (string, error) {
	id := c.Param(name)
	if _, err := uuid.Parse(id); err != nil {
		return "", apperr.NotFound("unknown %s", name)
	}
	return id, nil
}
