package app

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/exercise-crawler/internal/config"
	"github.com/JakeFAU/exercise-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/exercise-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/exercise-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/exercise-crawler/internal/fetcher/promote"
)

// fetcherProfile is the fetcher choice and browser switches, resolved once
// from config at startup.
type fetcherProfile struct {
	Mode          string
	UserAgent     string
	Timeout       time.Duration
	CacheDir      string
	RespectRobots bool
	MaxParallel   int
	NavTimeout    time.Duration
	SettleDelay   time.Duration
	BrowserFlags  map[string]any
	PromoteBytes  int
}

func resolveFetcherProfile(cfg config.Config) fetcherProfile {
	p := fetcherProfile{
		Mode:          cfg.Fetcher.Mode,
		UserAgent:     cfg.Crawler.UserAgent,
		Timeout:       cfg.FetchTimeout(),
		CacheDir:      cfg.Fetcher.CacheDir,
		RespectRobots: cfg.Fetcher.RespectRobots,
		MaxParallel:   cfg.Headless.MaxParallel,
		NavTimeout:    time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		SettleDelay:   time.Duration(cfg.Headless.SettleDelayMs) * time.Millisecond,
		BrowserFlags:  map[string]any{},
		PromoteBytes:  cfg.Headless.PromoteBodyBytes,
	}
	if p.Mode == "" {
		p.Mode = config.FetcherColly
	}
	if cfg.Headless.NoSandbox {
		p.BrowserFlags["no-sandbox"] = true
		p.BrowserFlags["disable-dev-shm-usage"] = true
	}
	return p
}

func (a *App) buildFetcher() (crawler.Fetcher, error) {
	profile := resolveFetcherProfile(a.cfg)
	switch profile.Mode {
	case config.FetcherChromedp:
		return a.buildHeadless(profile)
	case config.FetcherColly:
		return a.buildColly(profile), nil
	case config.FetcherAuto:
		browser, err := a.buildHeadless(profile)
		if err != nil {
			return nil, err
		}
		a.logger.Info("promoting script-rendered pages to headless", zap.Int("body_threshold", profile.PromoteBytes))
		return promote.New(
			a.buildColly(profile),
			browser,
			promote.NewDetector(profile.PromoteBytes),
			a.logger.Named("promote"),
		), nil
	default:
		return nil, fmt.Errorf("unknown fetcher mode: %s", profile.Mode)
	}
}

func (a *App) buildHeadless(profile fetcherProfile) (*headlessfetcher.Fetcher, error) {
	a.logger.Info("using headless chrome fetcher",
		zap.Int("max_parallel", profile.MaxParallel),
		zap.Any("flags", profile.BrowserFlags),
	)
	f, err := headlessfetcher.New(headlessfetcher.Config{
		MaxParallel:       profile.MaxParallel,
		UserAgent:         profile.UserAgent,
		NavigationTimeout: profile.NavTimeout,
		SettleDelay:       profile.SettleDelay,
		Flags:             profile.BrowserFlags,
	})
	if err != nil {
		return nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	a.onCloseIO("headless", f)
	return f, nil
}

func (a *App) buildColly(profile fetcherProfile) *collyfetcher.Fetcher {
	a.logger.Info("using colly fetcher", zap.Bool("respect_robots", profile.RespectRobots))
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:     profile.UserAgent,
		RespectRobots: profile.RespectRobots,
		Timeout:       profile.Timeout,
		CacheDir:      profile.CacheDir,
	})
}
