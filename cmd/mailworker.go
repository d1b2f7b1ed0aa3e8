/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/quill-blog/apiserver/config"
	"github.com/quill-blog/apiserver/internal/mailer"
	"github.com/quill-blog/apiserver/internal/mq"
	"github.com/quill-blog/apiserver/internal/server"
	"github.com/spf13/cobra"
)

// mailWorkerCmd delivers queued mail over SMTP.
var mailWorkerCmd = &cobra.Command{
	Use:   "mail-worker",
	Short: "Deliver queued verification and reset emails",
	Long: `Consumes the mail queue and delivers each message over SMTP.
Only useful when MAIL_TRANSPORT is rabbitmq or pubsub.

	quill mail-worker
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := server.NewLogger(os.Stdout, cfg.Log)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sender, err := mailer.NewSMTPSender(cfg.Mail.SMTP)
		if err != nil {
			return fmt.Errorf("init smtp: %w", err)
		}

		queue, err := mq.Open(ctx, cfg.Mail)
		if err != nil {
			return err
		}
		defer func() {
			if err := queue.Close(); err != nil {
				logger.Error("failed to close mail queue", "error", err)
			}
		}()

		return mailer.NewWorker(queue, cfg.Mail.Queue, sender, logger).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mailWorkerCmd)
}
