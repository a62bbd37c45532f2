package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"dabubble/internal/metrics"
	"dabubble/internal/realtime"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Option interface {
	apply(*config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// config defines fields used for configuring Server instance
type config struct {
	httpServer    *http.Server
	api           map[string]http.Handler
	pages         map[string]http.Handler
	afterShutdown []func()
	shutdown      time.Duration

	timeout    time.Duration
	timeoutMsg string
	authRate   rate.Limit
	authBurst  int
	metrics    *metrics.Metrics
	hub        *realtime.Hub
}

// EnvConfig defines fields used for parsing from environment variables
type EnvConfig struct {
	Host           string        `env:"HOST" envDefault:"0.0.0.0"`
	Port           uint16        `env:"PORT" envDefault:"9000"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	AuthRate       float64       `env:"AUTH_RATE" envDefault:"5"`
	AuthBurst      int           `env:"AUTH_BURST" envDefault:"10"`
}

// WithEnvConfig enables processing exported EnvConfig struct to acts as a source of config parameters for http.Server
func WithEnvConfig(cfg EnvConfig) Option {
	return optionFunc(func(c *config) {
		c.httpServer.Addr = cfg.Host + ":" + strconv.FormatUint(uint64(cfg.Port), 10)
		if cfg.ReadTimeout > 0 {
			c.httpServer.ReadTimeout = cfg.ReadTimeout
		}
		if cfg.RequestTimeout > 0 {
			c.timeout = cfg.RequestTimeout
		}
		if cfg.AuthRate > 0 {
			c.authRate = rate.Limit(cfg.AuthRate)
			c.authBurst = cfg.AuthBurst
		}
	})
}

// ReadTimeout sets read timeout for http.Server
func ReadTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.httpServer.ReadTimeout = d
	})
}

// RegisterAfterShutdown registers a function to call after http.Server shutdown
// f will not be called in separated goroutine
func RegisterAfterShutdown(f func()) Option {
	return optionFunc(func(c *config) {
		c.afterShutdown = append(c.afterShutdown, f)
	})
}

// ShutdownTimeout bounds the graceful shutdown, zero waits for every connection
func ShutdownTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.shutdown = d
	})
}

// TimeoutHandler wraps each API handler in http.TimeoutHandler with provided duration and message
func TimeoutHandler(d time.Duration, msg string) Option {
	return optionFunc(func(c *config) {
		c.timeout = d
		c.timeoutMsg = msg
	})
}

// AuthRateLimit limits requests to the /api/auth/ routes per client address
func AuthRateLimit(r rate.Limit, burst int) Option {
	return optionFunc(func(c *config) {
		c.authRate = r
		c.authBurst = burst
	})
}

// WithMetrics counts responses per route and serves /metrics
func WithMetrics(m *metrics.Metrics) Option {
	return optionFunc(func(c *config) {
		c.metrics = m
	})
}

// WithHub serves the event stream of hub on /ws
func WithHub(hub *realtime.Hub) Option {
	return optionFunc(func(c *config) {
		c.hub = hub
	})
}

// applyEnforcePOSTJSON wraps each API handler with enforcePOSTJSON middleware
func applyEnforcePOSTJSON() Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.api {
			c.api[pattern] = enforcePOSTJSON(h)
		}
	})
}

// applyTimeout wraps each API handler in http.TimeoutHandler. Pages and /ws are left
// alone since the websocket upgrade needs the raw connection.
func applyTimeout() Option {
	return optionFunc(func(c *config) {
		if c.timeout <= 0 {
			return
		}
		for pattern, h := range c.api {
			c.api[pattern] = http.TimeoutHandler(h, c.timeout, c.timeoutMsg)
		}
	})
}

// applyAuthRateLimit puts the /api/auth/ handlers behind one shared per-address limiter
func applyAuthRateLimit() Option {
	return optionFunc(func(c *config) {
		if c.authRate <= 0 {
			return
		}
		limiter := newRateLimiter(c.authRate, c.authBurst)
		for pattern, h := range c.api {
			if strings.HasPrefix(pattern, "/api/auth/") {
				c.api[pattern] = limiter.handler(h)
			}
		}
	})
}

// applyInstrument counts responses of API and page handlers
func applyInstrument() Option {
	return optionFunc(func(c *config) {
		if c.metrics == nil {
			return
		}
		for _, handlers := range []map[string]http.Handler{c.api, c.pages} {
			for pattern, h := range handlers {
				handlers[pattern] = instrument(h, pattern, c.metrics)
			}
		}
	})
}

// applyLog wraps each http.Handler with log middleware
func applyLog(logger *zap.Logger) Option {
	return optionFunc(func(c *config) {
		for _, handlers := range []map[string]http.Handler{c.api, c.pages} {
			for pattern, h := range handlers {
				handlers[pattern] = log(h, logger)
			}
		}
	})
}

// registerHandlers registers every handler on a new http.ServeMux
// that http.ServeMux is used as a http.Handler for http.Server in config struct
func registerHandlers() Option {
	return optionFunc(func(c *config) {
		mux := http.NewServeMux()
		for _, handlers := range []map[string]http.Handler{c.api, c.pages} {
			for pattern, h := range handlers {
				mux.Handle(pattern, h)
			}
		}
		if c.hub != nil {
			mux.HandleFunc("/ws", c.hub.ServeWS)
		}
		if c.metrics != nil {
			mux.Handle("/metrics", c.metrics.Handler())
		}
		mux.HandleFunc("/health", health)
		c.httpServer.Handler = mux
	})
}
