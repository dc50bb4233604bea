package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/phonotek/phonotek/internal/browse"
	"github.com/phonotek/phonotek/internal/catalogue"
	"github.com/phonotek/phonotek/internal/catalogues/archive"
	"github.com/phonotek/phonotek/internal/catalogues/localdir"
	"github.com/phonotek/phonotek/internal/config"
	"github.com/phonotek/phonotek/internal/listing"
	"github.com/phonotek/phonotek/internal/logging"
	"github.com/phonotek/phonotek/internal/media"
	"github.com/phonotek/phonotek/internal/player"
	"github.com/phonotek/phonotek/internal/preload"
	"github.com/phonotek/phonotek/internal/probe"
	"github.com/phonotek/phonotek/internal/resolve"
	"github.com/phonotek/phonotek/internal/telemetry"
	"github.com/phonotek/phonotek/internal/validity"
)

var version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Phonotek - audio archive playback client

Usage: phonotek [options] <command> [args]

Options:
  -config string
        Path to config file (default: ~/.config/phonotek/config.toml)
  -log string
        Override logging level (debug, info, warn, error)
  -version
        Print version and exit

Commands:
  probe <url-or-field>      Resolve an audio field and probe it for playable audio
  album <album-id>          Print an album's tracklist and its validity verdict
  play <target>             Play a listing with auto-advance until it ends
                            (target: album:ID, playlist:ID, search:QUERY, random)
  search [query]            Print matching tracks; no query falls back to a random draw
  session                   Print the telemetry session id
  scan                      Rebuild the localdir index
  doctor                    Check configuration and dependencies

Examples:
  phonotek probe trk-91f2.flac             # Is this field playable?
  phonotek album al-2241                   # Tracklist plus validity verdict
  phonotek play album:al-2241              # Play the album front to back
  phonotek play random                     # Shuffle through the archive
  phonotek search "miles davis"            # Find tracks

`)
	}

	cfgPath := flag.String("config", "", "")
	logLevel := flag.String("log", "", "")
	showVersion := flag.Bool("version", false, "")
	flag.Parse()

	if *showVersion {
		fmt.Println("phonotek", version)
		return
	}

	cfg, resolvedPath, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	logger, logFile, err := logging.Setup(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("setup logging: %v", err)
	}
	defer logFile.Close()
	logger.Info("starting phonotek", slog.String("config", resolvedPath))

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verb, rest := args[0], args[1:]
	switch verb {
	case "probe":
		err = runProbe(ctx, cfg, logger, rest)
	case "album":
		err = runAlbum(ctx, cfg, logger, rest)
	case "play":
		err = runPlay(ctx, cfg, logger, rest)
	case "search":
		err = runSearch(ctx, cfg, logger, rest)
	case "session":
		err = runSession(ctx, logger)
	case "scan":
		err = runScan(ctx, cfg)
	case "doctor":
		err = runDoctor(ctx, cfg, resolvedPath, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", verb)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", slog.String("command", verb), slog.Any("err", err))
		log.Fatalf("%s: %v", verb, err)
	}
}

func buildSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (catalogue.Source, error) {
	switch cfg.Source {
	case "archive":
		src, err := archive.New(archive.Config{
			BaseURL: cfg.Archive.BaseURL,
			Bearer:  cfg.Archive.BearerToken,
		}, logger)
		return src, err
	case "localdir":
		src, err := localdir.New(ctx, localdir.Config{Roots: cfg.LocalDir.Roots})
		return src, err
	default:
		return nil, fmt.Errorf("unknown source %s", cfg.Source)
	}
}

func closeSource(src catalogue.Source) {
	if c, ok := src.(interface{ Close() error }); ok {
		c.Close()
	}
}

func buildProber(cfg *config.Config, logger *slog.Logger) *probe.Prober {
	return probe.New(probe.Options{
		Bearer:     cfg.Archive.BearerToken,
		Base:       cfg.Archive.BaseURL,
		Timeout:    cfg.ProbeTimeout(),
		Retries:    cfg.Probe.Retries,
		Backoff:    cfg.ProbeBackoff(),
		SniffBytes: cfg.Probe.SniffBytes,
		Scheduler:  probe.NewScheduler(cfg.Probe.Ceiling),
		Cache:      probe.NewCache(cfg.ProbeCacheTTL()),
		Logger:     logger,
	})
}

func runProbe(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: phonotek probe <url-or-field>")
	}
	resolver := resolve.Resolver{ProxyBase: cfg.Archive.BaseURL}
	src, ok := resolver.Resolve(args[0])
	if !ok {
		fmt.Println("verdict: unplayable (field does not resolve to a source)")
		return nil
	}

	out := buildProber(cfg, logger).Probe(ctx, src.URL)
	fmt.Printf("url:     %s\n", src.URL)
	if out.OK {
		fmt.Printf("verdict: audio (%s)\n", out.Format)
	} else {
		fmt.Printf("verdict: not audio (%s)\n", out.Reason)
	}
	if out.StatusCode != 0 {
		fmt.Printf("status:  %d\n", out.StatusCode)
	}
	if out.ContentType != "" {
		fmt.Printf("type:    %s\n", out.ContentType)
	}
	if out.Length > 0 {
		fmt.Printf("length:  %d bytes\n", out.Length)
	}
	return nil
}

func runAlbum(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: phonotek album <album-id>")
	}
	src, err := buildSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource(src)

	album, err := src.GetAlbum(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get album: %w", err)
	}
	recs, err := src.AlbumTracks(ctx, args[0])
	if err != nil {
		return fmt.Errorf("album tracks: %w", err)
	}

	resolver := resolve.Resolver{ProxyBase: cfg.Archive.BaseURL}
	agg := validity.New(resolver, buildProber(cfg, logger), validity.Options{
		TTL:    cfg.ValidityTTL(),
		Sample: cfg.Validity.SampleTracks,
		Logger: logger,
	})
	key := agg.EnsureValidated(ctx, recs)
	agg.Wait(key)

	fmt.Printf("%s — %s\n", album.Title, album.ArtistName)
	fmt.Printf("validity: %s\n", agg.CurrentState(key))
	rows := listing.NewTracklist(album.ID, recs, resolver)
	for i, rec := range rows.Records() {
		note := ""
		if !resolver.Resolvable(rec.AudioField) {
			note = "  [no audio]"
		}
		fmt.Printf("%3d  %s%s\n", i+1, rec.Name, note)
	}
	return nil
}

func runSearch(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	src, err := buildSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource(src)

	resolver := resolve.Resolver{ProxyBase: cfg.Archive.BaseURL}
	b := browse.New(browse.Options{Source: src, Resolver: resolver, Logger: logger})
	l, err := b.Search(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	recs := l.Records()
	if len(recs) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for i, rec := range recs {
		note := ""
		if !resolver.Resolvable(rec.AudioField) {
			note = "  [no audio]"
		}
		fmt.Printf("%3d  %s — %s (%s)%s\n", i+1, rec.Name, rec.ArtistName, rec.AlbumTitle, note)
	}
	return nil
}

func runPlay(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: phonotek play <album:ID | playlist:ID | search:QUERY | random>")
	}
	if !cfg.EngineEnabled() {
		return errors.New("playback engine disabled (player.mpv_path is off)")
	}

	src, err := buildSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource(src)

	resolver := resolve.Resolver{ProxyBase: cfg.Archive.BaseURL}
	prober := buildProber(cfg, logger)

	var refresher *resolve.Refresher
	if minter, ok := src.(catalogue.ContainerMinter); ok {
		refresher = resolve.NewRefresher(minter, cfg.RefreshTTL(), logger)
	}

	prefetch := &preload.Prefetcher{
		Bearer: cfg.Archive.BearerToken,
		Bytes:  int64(cfg.Preload.PrefetchBytes),
	}
	pool, err := preload.NewPool(cfg.Preload.Limit, prefetch.Fetch, logger)
	if err != nil {
		return err
	}
	defer pool.Clear()

	sess := telemetry.EnsureSession(ctx, "", logger)
	reporter := telemetry.NewReporter(telemetry.Options{
		BaseURL:          cfg.Archive.BaseURL,
		Bearer:           cfg.Archive.BearerToken,
		Session:          sess,
		ProgressInterval: cfg.ProgressInterval(),
		QueueSize:        cfg.Telemetry.QueueSize,
		Logger:           logger,
		// Local files have no stream-events endpoint to talk to.
		Disabled: cfg.Telemetry.Disabled || cfg.Source != "archive",
	})
	defer reporter.Close()

	engine := media.NewMPV(media.Options{
		MPVPath: cfg.Player.MPVPath,
		IPCPath: cfg.Player.IPC,
		Logger:  logger,
	})
	defer engine.Close()

	var headers map[string]string
	if cfg.Archive.BearerToken != "" {
		headers = map[string]string{"Authorization": "Bearer " + cfg.Archive.BearerToken}
	}

	ctrl := player.New(player.Options{
		Engine:      engine,
		Prober:      prober,
		Resolver:    resolver,
		Refresher:   refresher,
		Preloader:   pool,
		Reporter:    reporter,
		Logger:      logger,
		LoadHeaders: headers,
	})
	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	b := browse.New(browse.Options{Source: src, Resolver: resolver, Logger: logger})
	l, err := openTarget(ctx, b, args[0])
	if err != nil {
		return err
	}
	h, ok := l.First()
	if !ok {
		return errors.New("nothing playable in that listing")
	}

	sub := ctrl.Subscribe()
	if err := ctrl.Request(l, h); err != nil {
		return err
	}

	var lastID string
	var lastState player.State
	started := false
	for {
		select {
		case <-ctx.Done():
			ctrl.ExternalStop()
			fmt.Println()
			return nil
		case info := <-sub:
			if !info.Active {
				if started {
					fmt.Println("finished")
					return nil
				}
				continue
			}
			if info.Playing && info.RecordID != lastID {
				lastID = info.RecordID
				lastState = info.State
				started = true
				fmt.Printf("playing  %s — %s (%s)\n", info.Title, info.Artist, info.Album)
				continue
			}
			if info.State != lastState {
				lastState = info.State
				switch info.State {
				case player.Paused:
					fmt.Println("paused")
				case player.Playing:
					fmt.Println("resumed")
				}
			}
		}
	}
}

func openTarget(ctx context.Context, b *browse.Browser, target string) (listing.Listing, error) {
	switch {
	case target == "random":
		return b.Search(ctx, "")
	case strings.HasPrefix(target, "album:"):
		return b.OpenAlbum(ctx, strings.TrimPrefix(target, "album:"))
	case strings.HasPrefix(target, "playlist:"):
		return b.OpenPlaylist(ctx, strings.TrimPrefix(target, "playlist:"), catalogue.KindPersonal)
	case strings.HasPrefix(target, "search:"):
		return b.Search(ctx, strings.TrimPrefix(target, "search:"))
	default:
		return nil, fmt.Errorf("unrecognized play target %q", target)
	}
}

func runSession(ctx context.Context, logger *slog.Logger) error {
	sess := telemetry.EnsureSession(ctx, "", logger)
	if sess.Ephemeral() {
		fmt.Printf("%s (ephemeral, session store unavailable)\n", sess.ID())
		return nil
	}
	fmt.Println(sess.ID())
	return nil
}

func runScan(ctx context.Context, cfg *config.Config) error {
	if cfg.Source != "localdir" {
		return errors.New("scan applies to the localdir source")
	}
	fmt.Printf("Scanning %s...\n", strings.Join(cfg.LocalDir.Roots, ", "))
	start := time.Now()
	src, err := localdir.New(ctx, localdir.Config{Roots: cfg.LocalDir.Roots, ScanOnStart: true})
	if err != nil {
		return err
	}
	defer src.Close()

	healthy, details := src.Health(ctx)
	if !healthy {
		return fmt.Errorf("post-scan health: %s", details)
	}
	fmt.Printf("Scan complete in %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("  %s\n", details)
	return nil
}

func runDoctor(ctx context.Context, cfg *config.Config, cfgPath string, logger *slog.Logger) error {
	fmt.Println("Phonotek doctor")
	fmt.Printf("Config file: OK (%s)\n", cfgPath)

	if cfg.EngineEnabled() {
		mpvPath, err := exec.LookPath(cfg.Player.MPVPath)
		if err != nil {
			fmt.Printf("mpv (%s): NOT FOUND\n", cfg.Player.MPVPath)
		} else {
			fmt.Printf("mpv: OK (%s)\n", mpvPath)
		}
	} else {
		fmt.Println("mpv: disabled")
	}

	src, err := buildSource(ctx, cfg, logger)
	if err != nil {
		fmt.Printf("Source: ERROR - %v\n", err)
		return nil
	}
	defer closeSource(src)
	healthy, details := src.Health(ctx)
	if healthy {
		fmt.Printf("Source (%s): OK - %s\n", src.Name(), details)
	} else {
		fmt.Printf("Source (%s): UNHEALTHY - %s\n", src.Name(), details)
	}

	store, err := telemetry.OpenSessionStore("")
	if err != nil {
		fmt.Println("Session store: unavailable (ephemeral ids will be used)")
	} else {
		store.Close()
		fmt.Println("Session store: OK")
	}

	logger.Info("doctor complete")
	return nil
}
