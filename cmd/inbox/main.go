// Command inbox is a terminal inbox for shop staff. It keeps the conversation in
// sync with the API and accepts commands on stdin:
//
//	list                  show messages, newest first
//	reply <phone> <text>  send a reply
//	read <id>             mark a message as read
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Cypherspark/shopsense/internal/config"
	"github.com/Cypherspark/shopsense/internal/inbox"
	"github.com/Cypherspark/shopsense/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		exitCode = 1
		return
	}
	log, err := logging.New(cfg.Log.Level, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		exitCode = 1
		return
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := inbox.NewClient(cfg.Inbox.APIBaseURL, &http.Client{Timeout: cfg.Inbox.RequestTimeout})
	ctrl := inbox.NewController(client, inbox.Options{PollInterval: cfg.Inbox.PollInterval, Logger: log})
	if err := ctrl.Start(ctx); err != nil {
		log.Error("start inbox", zap.Error(err))
		exitCode = 1
		return
	}
	defer ctrl.Stop()

	go reportCounts(ctx, ctrl, cfg.Inbox.PollInterval, log)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := handle(ctx, ctrl, os.Stdout, line); err != nil {
				fmt.Fprintln(os.Stdout, "error:", err)
			}
		}
	}
}

func handle(ctx context.Context, ctrl *inbox.Controller, out io.Writer, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "list":
		for _, m := range ctrl.Messages() {
			mark := " "
			if !m.Read {
				mark = "*"
			}
			fmt.Fprintf(out, "%s %s %-8s %-14s %s  [%s]\n", mark, m.Timestamp.Local().Format("Jan 02 15:04"), m.Direction, m.PhoneNumber, m.Body, m.ID)
		}
		return nil
	case "reply":
		parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
		if len(parts) < 3 || strings.TrimSpace(parts[2]) == "" {
			return fmt.Errorf("usage: reply <phone> <text>")
		}
		return ctrl.SendMessage(ctx, parts[1], strings.TrimSpace(parts[2]))
	case "read":
		if len(fields) != 2 {
			return fmt.Errorf("usage: read <id>")
		}
		return ctrl.MarkAsRead(ctx, fields[1])
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func reportCounts(ctx context.Context, ctrl *inbox.Controller, every time.Duration, log *zap.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	lastUnread, lastEmergencies := -1, -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			unread := ctrl.UnreadCount()
			emergencies := len(ctrl.EmergencyMessages())
			if unread != lastUnread || emergencies != lastEmergencies {
				log.Info("inbox", zap.Int("unread", unread), zap.Int("emergencies", emergencies))
				lastUnread, lastEmergencies = unread, emergencies
			}
		}
	}
}
