// Command reportlens serves augmented campaign report views.
//
// Usage:
//
//	reportlens -config reportlens.yaml
//
// The config file selects the document source (file, http, or browser),
// the settings database, and the listen address. MCP_TRANSPORT=stdio
// additionally speaks MCP on stdin/stdout for agent clients while the
// HTTP API keeps running; logs always go to stderr so the protocol
// stream stays clean.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/reportlens/engine"
	"github.com/hazyhaar/reportlens/settings"
)

const version = "1.0.0"

// maxPDFBytes caps /api/ingest/pdf request bodies.
const maxPDFBytes = 32 << 20

func main() {
	configPath := flag.String("config", "", "path to reportlens.yaml config file")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath); err != nil {
		logger.Error("reportlens: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string) error {
	if configPath == "" {
		configPath = env("REPORTLENS_CONFIG", "")
	}
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: reportlens -config <file>")
		os.Exit(1)
	}

	cfg, err := engine.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := settings.Open(cfg.SettingsDB)
	if err != nil {
		return fmt.Errorf("settings db: %w", err)
	}
	defer store.Close()

	src, err := engine.NewSource(cfg.Source, logger)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}

	e := engine.New(*cfg, src,
		engine.WithLogger(logger),
		engine.WithStore(store),
		engine.WithVersion(version),
	)
	if err := e.ReloadSettings(ctx); err != nil {
		logger.Warn("reportlens: stored settings unavailable, using defaults", "error", err)
	}

	go func() {
		if err := e.Run(ctx); err != nil {
			logger.Error("reportlens: engine", "error", err)
		}
	}()

	// Optional MCP over stdio, alongside HTTP.
	if env("MCP_TRANSPORT", "") == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Product,
			Version: version,
		}, nil)
		e.RegisterMCP(mcpSrv)
		go func() {
			logger.Info("reportlens: MCP stdio running")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("reportlens: MCP stdio", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newRouter(e, cfg),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("reportlens: server starting", "addr", cfg.Listen, "source", src.Name())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("reportlens: server", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("reportlens: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("reportlens: stopped")
	return nil
}

func newRouter(e *engine.Engine, cfg *engine.Config) chi.Router {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if cfg.AuthTokenHash != "" {
			r.Use(requireToken(cfg.AuthTokenHash))
		}

		r.Get("/api/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, 200, e.Status())
		})

		r.Post("/api/refresh", func(w http.ResponseWriter, r *http.Request) {
			if err := e.ScanOnce(r.Context()); err != nil {
				writeError(w, 502, err)
				return
			}
			writeJSON(w, 200, e.Status())
		})

		r.Get("/api/view", func(w http.ResponseWriter, _ *http.Request) {
			doc := e.View()
			if len(doc) == 0 {
				writeError(w, 404, fmt.Errorf("no document scanned yet"))
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write(doc)
		})

		r.Get("/api/aggregate", func(w http.ResponseWriter, r *http.Request) {
			switch format := r.URL.Query().Get("format"); format {
			case "", "json":
				writeJSON(w, 200, e.Aggregate())
			case "html":
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				io.WriteString(w, e.AggregateHTML())
			case "markdown":
				w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
				io.WriteString(w, e.AggregateMarkdown())
			default:
				writeError(w, 400, fmt.Errorf("unknown format %q", format))
			}
		})

		r.Get("/api/export.csv", func(w http.ResponseWriter, _ *http.Request) {
			data, filename, err := e.ExportCSV()
			if err != nil {
				writeError(w, 500, err)
				return
			}
			w.Header().Set("Content-Type", "text/csv; charset=utf-8")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
			w.Write(data)
		})

		r.Post("/api/derived/{key}", func(w http.ResponseWriter, r *http.Request) {
			key := chi.URLParam(r, "key")
			var req struct {
				Enabled *bool `json:"enabled"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			if req.Enabled == nil {
				writeError(w, 400, fmt.Errorf("enabled required"))
				return
			}
			if err := e.Toggle(r.Context(), key, *req.Enabled); err != nil {
				writeError(w, 400, err)
				return
			}
			writeJSON(w, 200, e.Settings())
		})

		r.Post("/api/columns", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Header string `json:"header"`
				Hidden *bool  `json:"hidden"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			hidden := true
			if req.Hidden != nil {
				hidden = *req.Hidden
			}
			if err := e.SetColumnHidden(r.Context(), req.Header, hidden); err != nil {
				writeError(w, 400, err)
				return
			}
			writeJSON(w, 200, e.Settings())
		})

		r.Post("/api/ingest/pdf", func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxPDFBytes)
			data, err := readPDFBody(r)
			if err != nil {
				writeError(w, 400, err)
				return
			}
			agg, err := e.IngestPDF(data)
			if err != nil {
				writeError(w, 400, err)
				return
			}
			writeJSON(w, 200, agg)
		})

		r.Get("/api/settings", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, 200, e.Settings())
		})
	})

	return r
}

// readPDFBody accepts either a raw PDF body or a multipart form with a
// "file" part.
func readPDFBody(r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxPDFBytes); err != nil {
			return nil, err
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("multipart needs a \"file\" part: %w", err)
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	return data, nil
}

// --- Auth middleware ---

// requireToken guards API routes with a bearer token checked against the
// configured bcrypt hash.
func requireToken(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) != nil {
				writeJSON(w, 401, map[string]string{"error": "invalid token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
