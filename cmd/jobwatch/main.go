// Команда jobwatch ждёт, пока задание генерации счёта дойдёт до
// терминального состояния, и печатает результат.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/magabrotheeeer/autobill/internal/config"
	"github.com/magabrotheeeer/autobill/internal/lib/sl"
	"github.com/magabrotheeeer/autobill/internal/models"
	"github.com/magabrotheeeer/autobill/internal/poller"
)

type options struct {
	baseURL  string
	token    string
	jobID    string
	interval time.Duration
	timeout  time.Duration
	verbose  bool
}

// parseFlags читает флаги. Интервал и таймаут по умолчанию берутся из секции
// poller конфига, если задан CONFIG_PATH.
func parseFlags() options {
	interval, timeout := 3*time.Second, 2*time.Minute
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if cfg, err := config.Load(path); err == nil {
			interval, timeout = cfg.Poller.Interval, cfg.Poller.Timeout
		}
	}

	var o options
	flag.StringVar(&o.baseURL, "url", envOr("AUTOBILL_URL", "http://localhost:8080"), "autobill base url")
	flag.StringVar(&o.token, "token", os.Getenv("AUTOBILL_TOKEN"), "bearer token")
	flag.StringVar(&o.jobID, "job", "", "job id to watch")
	flag.DurationVar(&o.interval, "interval", interval, "poll interval")
	flag.DurationVar(&o.timeout, "timeout", timeout, "give up after this long")
	flag.BoolVar(&o.verbose, "v", false, "log every poll")
	flag.Parse()
	if o.jobID == "" && flag.NArg() > 0 {
		o.jobID = flag.Arg(0)
	}
	return o
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	o := parseFlags()

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if o.jobID == "" || o.token == "" {
		fmt.Fprintln(os.Stderr, "usage: jobwatch -token TOKEN [-url URL] [-interval 3s] [-timeout 2m] JOB_ID")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source := poller.NewHTTPSource(o.baseURL, o.token, 10*time.Second)
	p := poller.New(source, o.interval, o.timeout, logger)
	p.OnPoll = func(s poller.Snapshot) {
		logger.Debug("job polled", slog.String("job_id", o.jobID), slog.String("status", string(s.Status)))
	}

	snap, err := p.Wait(ctx, o.jobID)
	switch {
	case errors.Is(err, poller.ErrStillProcessing):
		fmt.Println("still processing, check back later")
		return
	case err != nil:
		logger.Error("watch failed", slog.String("job_id", o.jobID), sl.Err(err))
		os.Exit(1)
	}

	switch snap.Status {
	case models.JobSent:
		fmt.Printf("sent: %s\n", snap.PDFURL)
	default:
		fmt.Println(snap.Status)
		os.Exit(1)
	}
}
