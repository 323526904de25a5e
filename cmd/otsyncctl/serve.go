package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/otsync/otsync/pkg/database"
	"github.com/otsync/otsync/pkg/logger"
	"github.com/otsync/otsync/pkg/server"
)

var (
	servePort                int
	serveExpiryDays          int
	serveMaxDocumentSizeKB   int
	serveBroadcastBufferSize int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the otsync document-session server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Init()
		defer logger.Sync()

		var db *database.Database
		if uri := viper.GetString("sqlite_uri"); uri != "" {
			var err error
			db, err = database.New(uri)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			logger.Info("database: %s", uri)
		} else {
			logger.Info("database: disabled (in-memory only)")
		}

		srv := server.NewServer(db, serveMaxDocumentSizeKB*1024, serveBroadcastBufferSize, 30*time.Minute, 10*time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go srv.StartCleaner(ctx, serveExpiryDays, time.Hour)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigChan
			logger.Info("shutting down")
			cancel()
			srv.Shutdown(ctx)
			os.Exit(0)
		}()

		addr := fmt.Sprintf(":%d", servePort)
		return srv.ListenAndServe(addr)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 3030, "HTTP listen port")
	serveCmd.Flags().IntVar(&serveExpiryDays, "expiry-days", 7, "idle document eviction threshold")
	serveCmd.Flags().IntVar(&serveMaxDocumentSizeKB, "max-document-size-kb", 256, "maximum document size in KB")
	serveCmd.Flags().IntVar(&serveBroadcastBufferSize, "broadcast-buffer-size", 16, "per-connection update channel buffer size")
}
