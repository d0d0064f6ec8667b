package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/moneta"
	"pkt.systems/moneta/core"
	"pkt.systems/moneta/httpapi"
	"pkt.systems/moneta/internal/appconfig"
	"pkt.systems/moneta/internal/chatrest"
	"pkt.systems/moneta/schema"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}

			serverCfg := moneta.ServerConfig{
				Service:    toServiceConfig(cfg),
				HTTP:       toHTTPConfig(cfg.HTTP),
				Chat:       toChatConfig(cfg.Chat),
				HubHistory: cfg.HTTP.EventBufferLines,
			}
			serverDeps := moneta.ServerDeps{
				ServiceDeps: core.ServiceDeps{Logger: logger},
			}
			server, err := moneta.New(serverCfg, serverDeps, moneta.WithHTTP(), moneta.WithEventBus())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("http server listening", "addr", serverCfg.HTTP.Addr)
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

func toServiceConfig(cfg appconfig.Config) schema.ServiceConfig {
	return schema.ServiceConfig{
		StateDir:         cfg.StateDir,
		DefaultTitle:     cfg.Assistant.DefaultTitle,
		TitleMax:         cfg.Assistant.TitleMax,
		WelcomeText:      cfg.Assistant.WelcomeText,
		StoppedText:      cfg.Assistant.StoppedText,
		AttachmentText:   cfg.Assistant.AttachmentText,
		CopyFlash:        time.Duration(cfg.Assistant.CopyFlashMillis) * time.Millisecond,
		HistoryPageLimit: cfg.Assistant.HistoryPageLimit,
	}
}

func toHTTPConfig(cfg appconfig.HTTPConfig) httpapi.Config {
	return httpapi.Config{
		Addr:             cfg.Addr,
		UploadDir:        cfg.UploadDir,
		UploadMaxBytes:   cfg.UploadMaxBytes,
		EventBufferLines: cfg.EventBufferLines,
	}
}

func toChatConfig(cfg appconfig.ChatConfig) chatrest.Config {
	return chatrest.Config{
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}
