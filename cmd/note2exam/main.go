package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TheInternetGod/note2exam/internal/handler"
	appI18n "github.com/TheInternetGod/note2exam/internal/i18n"
	"github.com/TheInternetGod/note2exam/internal/llm"
	"github.com/TheInternetGod/note2exam/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "note2exam",
		Short: "Turn study notes into timed mock exams with LLM-generated questions",
	}

	serve := serveCmd()
	root.AddCommand(serve, checkKeysCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `note2exam --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "note2exam.db", "SQLite database path")
	f.String("api-keys", "", "Comma-separated Gemini API keys (or set NOTE2EXAM_API_KEYS)")
	f.StringP("lang", "l", "en", "UI language (en, ru)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func checkKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-keys",
		Short: "Validate the configured Gemini API keys and exit",
		RunE:  runCheckKeys,
	}
	f := cmd.Flags()
	f.String("api-keys", "", "Comma-separated Gemini API keys (or set NOTE2EXAM_API_KEYS)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("NOTE2EXAM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("note2exam")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/note2exam")
	v.AddConfigPath("/etc/note2exam")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	systemKeys := v.GetString("api-keys")
	if len(llm.SplitCredentials(systemKeys)) == 0 {
		slog.Warn("no system API keys configured, users must bring their own")
	}

	h, err := handler.New(db, llm.NewDispatcher(), systemKeys)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}
	defer h.Close()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"db", v.GetString("db"),
		"system_keys", len(llm.SplitCredentials(systemKeys)),
		"models", llm.ModelCascade,
	)
	return http.ListenAndServe(addr, r)
}

func runCheckKeys(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	raw := v.GetString("api-keys")
	keys := llm.SplitCredentials(raw)
	if len(keys) == 0 {
		return fmt.Errorf("no API keys given: set --api-keys or NOTE2EXAM_API_KEYS")
	}

	for _, k := range keys {
		slog.Info("checking key", "key", llm.MaskCredential(k))
	}

	if !llm.NewDispatcher().ValidateCredentials(context.Background(), raw) {
		return fmt.Errorf("one or more keys were rejected by the provider")
	}

	fmt.Printf("all %d key(s) OK\n", len(keys))
	return nil
}
