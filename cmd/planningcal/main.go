package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/pflag"

	"planningcal/internal/cache"
	"planningcal/internal/config"
	"planningcal/internal/ics"
	appLog "planningcal/internal/log"
	"planningcal/internal/portal"
	"planningcal/internal/warm"
	"planningcal/internal/web"
)

const version = "1.0.0"

type flagConfig struct {
	configPath string
	listen     string
	initConfig bool
	once       bool
}

func main() {
	flags := parseFlags(os.Args[1:])

	if flags.initConfig {
		if err := config.Save(flags.configPath, config.DefaultConfig()); err != nil {
			appLog.Error("failed to write config", err, "config_path", flags.configPath)
			os.Exit(1)
		}
		appLog.Info("default config written", "config_path", flags.configPath)
		return
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		// Missing credentials are fatal at startup.
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("planningcal starting",
		"version", version,
		"listen", conf.Listen,
		"portal", conf.Portal.BaseURL,
		"timezone", conf.Timezone,
		"cache_ttl_seconds", conf.CacheTTLSeconds,
		"warm_cron", conf.WarmCron,
		"once", flags.once,
	)

	calendar, err := buildCache(conf)
	if err != nil {
		appLog.Error("failed to initialize pipeline", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flags.once {
		if err := runOnce(ctx, calendar, os.Stdout); err != nil {
			appLog.Error("refresh failed", err)
			os.Exit(1)
		}
		return
	}

	if conf.WarmCron != "" {
		w, err := warm.New(conf.WarmCron, calendar, conf.UpstreamTimeout()*3)
		if err != nil {
			appLog.Error("invalid warm_cron", err)
			os.Exit(1)
		}
		w.Start(ctx)
	}

	srv := web.NewServer(conf.APIToken, calendar)
	if err := srv.Run(ctx, conf.Listen); err != nil {
		appLog.Error("HTTP server stopped", err)
		os.Exit(1)
	}
	appLog.Info("planningcal exiting")
}

// buildCache wires session -> fetcher -> encoder -> cache.
func buildCache(conf *config.Config) (*cache.Cache, error) {
	loc, err := conf.Location()
	if err != nil {
		return nil, err
	}

	session, err := portal.NewSession(portal.SessionConfig{
		BaseURL:  conf.Portal.BaseURL,
		Email:    conf.Portal.Email,
		Password: conf.Portal.Password,
		Timeout:  conf.UpstreamTimeout(),
	})
	if err != nil {
		return nil, err
	}

	extractor := portal.NewExtractor(loc, portal.NewLocations(conf.Locations))
	fetcher := portal.NewFetcher(session, extractor)
	encoder := ics.NewEncoder(loc, conf.CalendarName)

	return cache.New(fetcher, encoder, conf.CacheTTL()), nil
}

// runOnce performs a single refresh and writes the calendar to out.
func runOnce(ctx context.Context, calendar *cache.Cache, out io.Writer) error {
	a, err := calendar.GetOrRefresh(ctx)
	if err != nil {
		return err
	}

	parsed, err := ics.ParseICS(a.Body)
	if err != nil {
		return fmt.Errorf("read back calendar: %w", err)
	}
	for _, ev := range parsed.Events {
		appLog.Info("event", "start", ev.Start.Format("2006-01-02T15:04Z"), "end", ev.End.Format("2006-01-02T15:04Z"), "summary", ev.Summary)
	}

	if len(parsed.Events) == 0 {
		appLog.Warn("calendar is empty")
	}
	_, err = out.Write(a.Body)
	return err
}

func parseFlags(args []string) flagConfig {
	var cfg flagConfig

	fs := pflag.NewFlagSet("planningcal", pflag.ExitOnError)
	fs.StringVarP(&cfg.configPath, "config", "c", "", "Path to optional YAML config file (environment variables override it)")
	fs.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	fs.BoolVar(&cfg.initConfig, "init-config", false, "Write a default config file to --config and exit")
	fs.BoolVar(&cfg.once, "once", false, "Run one refresh, print the calendar to stdout and exit")

	_ = fs.Parse(args)

	if cfg.initConfig && cfg.configPath == "" {
		cfg.configPath = "planningcal.yaml"
	}
	return cfg
}
