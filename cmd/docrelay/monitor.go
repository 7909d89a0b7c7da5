package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/nikolay60109002/docrelay/internal/chat"
	"github.com/nikolay60109002/docrelay/internal/classify"
	"github.com/nikolay60109002/docrelay/internal/logutil"
	"github.com/nikolay60109002/docrelay/internal/pending"
	"github.com/nikolay60109002/docrelay/internal/relay"
	"github.com/nikolay60109002/docrelay/internal/report"
	"github.com/nikolay60109002/docrelay/internal/telegram"
)

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch both chat accounts and relay documents until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Local development keeps tokens in .env; absence is fine.
			_ = godotenv.Load()

			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}

			authorsURL := strings.TrimSpace(flagOrViperString(cmd, "authors-gateway", "gateway.authors_url"))
			editorURL := strings.TrimSpace(flagOrViperString(cmd, "editor-gateway", "gateway.editor_url"))
			if authorsURL == "" || editorURL == "" {
				return fmt.Errorf("both --authors-gateway and --editor-gateway are required")
			}
			authorsToken := strings.TrimSpace(viper.GetString("gateway.authors_token"))
			editorToken := strings.TrimSpace(viper.GetString("gateway.editor_token"))
			if authorsToken == "" || editorToken == "" {
				return fmt.Errorf("gateway.authors_token and gateway.editor_token must be set (env %s_GATEWAY_AUTHORS_TOKEN / %s_GATEWAY_EDITOR_TOKEN)", envPrefix, envPrefix)
			}

			editorName := strings.TrimSpace(flagOrViperString(cmd, "editor", "relay.editor"))
			checkerName := strings.TrimSpace(flagOrViperString(cmd, "checker", "relay.checker"))
			if editorName == "" || checkerName == "" {
				return fmt.Errorf("both --editor and --checker are required")
			}

			rules := classify.DefaultRules()
			if path := strings.TrimSpace(flagOrViperString(cmd, "rules", "relay.rules_file")); path != "" {
				rules, err = classify.LoadRules(path)
				if err != nil {
					return err
				}
			}

			dbPath := strings.TrimSpace(flagOrViperString(cmd, "db", "relay.db_path"))
			store, err := pending.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			downloadDir := strings.TrimSpace(flagOrViperString(cmd, "download-dir", "relay.download_dir"))
			if err := os.MkdirAll(downloadDir, 0o700); err != nil {
				return err
			}

			sendRate := flagOrViperFloat64(cmd, "send-rate", "transport.send_rate")
			var limiter *rate.Limiter
			if sendRate > 0 {
				limiter = rate.NewLimiter(rate.Limit(sendRate), 1)
			}

			authorsGW := telegram.New(nil, authorsURL, authorsToken)
			editorGW := telegram.New(nil, editorURL, editorToken)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			authorsIdentity, err := authorsGW.GetMe(ctx)
			if err != nil {
				return fmt.Errorf("authors gateway: %w", err)
			}
			editorIdentity, err := editorGW.GetMe(ctx)
			if err != nil {
				return fmt.Errorf("editor gateway: %w", err)
			}
			logger.Info("gateways_ready", "authors_account", authorsIdentity, "editor_account", editorIdentity)

			cfg := relay.Config{
				Authors:            flagOrViperStringArray(cmd, "author", "relay.authors"),
				Editor:             editorName,
				CheckerBot:         checkerName,
				Rules:              rules,
				DownloadDir:        downloadDir,
				StopWord:           flagOrViperString(cmd, "stop-word", "relay.stop_word"),
				MaxConcurrentSends: flagOrViperInt(cmd, "max-concurrent-sends", "transport.max_concurrent_sends"),
				MaxAttempts:        flagOrViperInt(cmd, "max-attempts", "transport.max_attempts"),
				InitialRetryDelay:  flagOrViperDuration(cmd, "retry-delay", "transport.retry_delay"),
				CheckerTimeout:     flagOrViperDuration(cmd, "checker-timeout", "relay.checker_timeout"),
				EditorReplyTimeout: flagOrViperDuration(cmd, "editor-reply-timeout", "relay.editor_reply_timeout"),
				PollInterval:       flagOrViperDuration(cmd, "poll-interval", "relay.poll_interval"),
				AwaitEditorReply:   flagOrViperBool(cmd, "await-editor-reply", "relay.await_editor_reply"),
				Limiter:            limiter,
			}
			session := relay.NewSession(cfg, logger, store, authorsGW, editorGW,
				report.NewHTTPResolver(nil, downloadDir))

			// The operator terminal doubles as a control channel.
			go watchStdin(logger, session, cfg.StopWord)

			go pollLoop(ctx, logger, "authors", authorsGW, session.HandleAuthorMessage)
			go pollLoop(ctx, logger, "editor", editorGW, session.HandleEditorMessage)

			select {
			case <-ctx.Done():
				session.Stop()
			case <-session.Done():
				cancel()
			}
			session.Wait()
			logger.Info("monitor_exited")
			return nil
		},
	}

	cmd.Flags().String("authors-gateway", "", "Base URL of the gateway session that talks to authors and the checker bot.")
	cmd.Flags().String("editor-gateway", "", "Base URL of the gateway session that talks to the editor.")
	cmd.Flags().StringArray("author", nil, "Allowed author username (repeatable; empty allows any non-bot sender).")
	cmd.Flags().String("editor", "", "Editor username.")
	cmd.Flags().String("checker", "", "Checker bot username.")
	cmd.Flags().String("rules", "", "Classification rules YAML (defaults are built in).")
	cmd.Flags().String("db", "files.db", "Correlation database path.")
	cmd.Flags().String("download-dir", "downloads", "Working directory for document batches.")
	cmd.Flags().String("stop-word", "stop", "Author message that shuts the session down.")
	cmd.Flags().Float64("send-rate", 0, "Outbound sends per second (0 disables client-side pacing).")
	cmd.Flags().Int("max-concurrent-sends", 2, "Concurrent outbound sends.")
	cmd.Flags().Int("max-attempts", 5, "Retry budget per send.")
	cmd.Flags().Duration("retry-delay", 5*time.Second, "First retry delay; doubles per timeout.")
	cmd.Flags().Duration("checker-timeout", 5*time.Minute, "How long to wait for the checker's verdict.")
	cmd.Flags().Duration("editor-reply-timeout", 10*time.Hour, "How long to wait for the editor's reply in await mode.")
	cmd.Flags().Duration("poll-interval", 5*time.Second, "History polling interval.")
	cmd.Flags().Bool("await-editor-reply", false, "Block each forward on the editor's follow-up document.")

	_ = viper.BindPFlag("relay.authors", cmd.Flags().Lookup("author"))
	_ = viper.BindPFlag("relay.editor", cmd.Flags().Lookup("editor"))
	_ = viper.BindPFlag("relay.checker", cmd.Flags().Lookup("checker"))

	return cmd
}

// pollLoop drains one gateway's update stream into the session until
// the context ends.
func pollLoop(ctx context.Context, logger *slog.Logger, side string, gw *telegram.Client, handle func(context.Context, chat.Message) error) {
	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, next, err := gw.GetUpdates(ctx, offset, 30*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("poll_error", "side", side, "error", err.Error())
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		offset = next
		for _, m := range msgs {
			if err := handle(ctx, m); err != nil {
				logger.Warn("handle_error", "side", side, "error", err.Error())
			}
		}
	}
}

// watchStdin stops the session when the operator types the stop word.
func watchStdin(logger *slog.Logger, session *relay.Session, stopWord string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if strings.EqualFold(strings.TrimSpace(scanner.Text()), stopWord) {
			logger.Info("stop_requested", "from", "stdin")
			session.Stop()
			return
		}
	}
}
