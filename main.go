package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"sort"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ti-tracker/internal/api"
	"ti-tracker/internal/cloud"
	"ti-tracker/internal/config"
	"ti-tracker/internal/db"
	"ti-tracker/internal/engine"
	"ti-tracker/internal/gamedata"
	"ti-tracker/internal/icons"
	"ti-tracker/internal/logger"
)

var version = "dev"

const usageText = `ti-tracker — passive loot tracking for Torchlight: Infinite

Usage:
  ti-tracker init      [--seed items.json] [--portable]
  ti-tracker serve     [--port N] [--log path] [--no-window] [--portable] [--overlay] [--overlay-only]
  ti-tracker tail      [--log path] [--portable]
  ti-tracker show-runs [--limit N] [--portable]
  ti-tracker show-state [--page N] [--portable]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = cmdInit(os.Args[2:])
	case "serve":
		err = cmdServe(os.Args[2:])
	case "tail":
		err = cmdTail(os.Args[2:])
	case "show-runs":
		err = cmdShowRuns(os.Args[2:])
	case "show-state":
		err = cmdShowState(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usageText)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usageText)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Main", "%v", err)
		os.Exit(1)
	}
}

// newFlagSet builds a flag set that exits 2 on bad flags, like the usage
// error above.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of ti-tracker %s:\n", name)
		fs.PrintDefaults()
		os.Exit(2)
	}
	return fs
}

// openStore resolves the config, imports a legacy database if one exists
// and opens the store.
func openStore(cfg *config.Config) (*db.DB, error) {
	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	if _, err := db.ImportLegacy(cfg.DBPath(), config.LegacyDBPath()); err != nil {
		logger.Warn("DB", "legacy import: %v", err)
	}
	return db.Open(cfg.DBPath())
}

// loadCatalog builds the item catalog from the store, seeding it from the
// embedded starter set on first run.
func loadCatalog(store *db.DB) (*gamedata.Catalog, error) {
	count, err := store.CountItems()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		seed, err := gamedata.SeedItems()
		if err != nil {
			return nil, err
		}
		if err := store.UpsertItems(toDBItems(seed)); err != nil {
			return nil, err
		}
	}
	rows, err := store.ListItems()
	if err != nil {
		return nil, err
	}
	items := make([]gamedata.Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, gamedata.Item{
			ConfigBaseID: r.ConfigBaseID,
			NameEN:       r.NameEN,
			NameCN:       r.NameCN,
			TypeCN:       r.TypeCN,
			IconURL:      r.IconURL,
		})
	}
	return gamedata.NewCatalog(items), nil
}

func toDBItems(items []gamedata.Item) []db.Item {
	out := make([]db.Item, 0, len(items))
	for _, it := range items {
		out = append(out, db.Item{
			ConfigBaseID: it.ConfigBaseID,
			NameEN:       it.NameEN,
			NameCN:       it.NameCN,
			TypeCN:       it.TypeCN,
			IconURL:      it.IconURL,
		})
	}
	return out
}

func cmdInit(args []string) error {
	fs := newFlagSet("init")
	seedPath := fs.String("seed", "", "items.json catalog file to load")
	portable := fs.Bool("portable", false, "keep data beside the executable")
	fs.Parse(args)

	cfg := config.Default()
	cfg.Portable = *portable
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	catalog, err := loadCatalog(store)
	if err != nil {
		return err
	}
	if *seedPath != "" {
		data, err := os.ReadFile(*seedPath)
		if err != nil {
			return fmt.Errorf("read seed file: %w", err)
		}
		var items []gamedata.Item
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("decode seed file: %w", err)
		}
		if err := store.UpsertItems(toDBItems(items)); err != nil {
			return err
		}
		if catalog, err = loadCatalog(store); err != nil {
			return err
		}
		logger.Success("Init", "Loaded %d items from %s", len(items), *seedPath)
	}

	logger.Section("Data Directory")
	fmt.Printf("  %-14s %s\n", "data dir", cfg.DataDir)
	fmt.Printf("  %-14s %s\n", "store", cfg.DBPath())
	logger.Stats("Items", catalog.Size())
	if cfg.LogPath != "" {
		fmt.Printf("  %-14s %s\n", "game log", cfg.LogPath)
	} else {
		logger.Warn("Init", "game log not found; set it via the log_directory setting or --log")
	}
	return nil
}

func cmdServe(args []string) error {
	fs := newFlagSet("serve")
	port := fs.Int("port", 8716, "HTTP server port")
	logPath := fs.String("log", "", "game log path (auto-detected when empty)")
	noWindow := fs.Bool("no-window", false, "do not open the dashboard in a browser")
	portable := fs.Bool("portable", false, "keep data beside the executable")
	overlay := fs.Bool("overlay", false, "record the overlay preference for the dashboard")
	overlayOnly := fs.Bool("overlay-only", false, "record the overlay-only preference for the dashboard")
	fs.Parse(args)

	cfg := config.Default()
	cfg.Port = *port
	cfg.LogPath = *logPath
	cfg.Portable = *portable
	cfg.NoWindow = *noWindow
	cfg.Overlay = *overlay
	cfg.OverlayOnly = *overlayOnly

	logger.Banner(version)

	// Single-instance guard: if the port already answers our status route,
	// another tracker owns this data dir.
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	if probeRunning(addr) {
		fmt.Fprintf(os.Stderr, "ti-tracker already running at http://%s\n", addr)
		os.Exit(1)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := logger.SetFile(cfg.LogFilePath()); err != nil {
		logger.Warn("Main", "log file: %v", err)
	}
	defer logger.CloseFile()

	catalog, err := loadCatalog(store)
	if err != nil {
		return err
	}
	if cfg.LogPath == "" {
		if dir, _ := store.GetSetting("log_directory"); dir != "" {
			cfg.LogPath = config.FindGameLog(dir)
		}
	}
	store.SetSetting("ui_overlay", strconv.FormatBool(cfg.Overlay || cfg.OverlayOnly))
	store.SetSetting("ui_overlay_only", strconv.FormatBool(cfg.OverlayOnly))

	// Cloud worker; nil client when the aggregation service is not
	// configured, which keeps every cloud route answering gracefully.
	var client *cloud.Client
	if cfg.CloudAvailable() {
		client = cloud.NewClient(cfg.CloudURL, cfg.CloudAnonKey)
	} else {
		logger.Info("Cloud", "aggregation service not configured; running offline")
	}
	worker := cloud.NewWorker(store, client)

	hub := api.NewHub()
	collector := engine.NewCollector(store, catalog, cfg.LogPath, hub.Broadcast, func(scope string, seasonID int) {
		worker.SetSeason(seasonID)
		worker.SetScope(scope)
	})
	if err := collector.Start(); err != nil {
		return err
	}
	worker.SetSeason(collector.SeasonID())
	worker.SetScope(collector.Scope())

	proxy := icons.NewProxy(cfg.IconCacheDir(), func(id int64) string {
		if it, ok := catalog.Item(id); ok {
			return it.IconURL
		}
		return ""
	})

	server := api.NewServer(cfg, store, catalog, collector, worker, proxy, hub)
	httpServer := &http.Server{Addr: addr, Handler: server.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return collector.Run(ctx) })
	g.Go(func() error { return worker.Run(ctx) })
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutCtx)
	})

	logger.Server(addr)
	if !cfg.NoWindow {
		openBrowser("http://" + addr)
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("Main", "Shut down")
	return err
}

func cmdTail(args []string) error {
	fs := newFlagSet("tail")
	logPath := fs.String("log", "", "game log path (auto-detected when empty)")
	portable := fs.Bool("portable", false, "keep data beside the executable")
	fs.Parse(args)

	cfg := config.Default()
	cfg.LogPath = *logPath
	cfg.Portable = *portable

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	catalog, err := loadCatalog(store)
	if err != nil {
		return err
	}
	if cfg.LogPath == "" {
		return errors.New("game log not found; pass --log")
	}

	collector := engine.NewCollector(store, catalog, cfg.LogPath, func(n engine.Note) {
		switch n.Kind {
		case engine.NoteRunOpen:
			if r, ok := n.Payload.(*db.Run); ok {
				logger.Info("Run", "Entered %s", r.ZoneName)
			}
		case engine.NoteRunClose:
			if r, ok := n.Payload.(*db.Run); ok {
				logger.Info("Run", "Left %s after %s", r.ZoneName, r.Duration(time.Now()).Round(time.Second))
			}
		case engine.NoteDelta:
			if m, ok := n.Payload.(map[string]interface{}); ok {
				logger.Info("Loot", "%+d x %s (%s)", m["delta"], catalog.Name(m["config_base_id"].(int64)), m["context"])
			}
		}
	}, nil)
	if err := collector.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Tail", "Following %s", cfg.LogPath)
	err = collector.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func cmdShowRuns(args []string) error {
	fs := newFlagSet("show-runs")
	limit := fs.Int("limit", 20, "number of runs to show")
	portable := fs.Bool("portable", false, "keep data beside the executable")
	fs.Parse(args)

	cfg := config.Default()
	cfg.Portable = *portable
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	scope := store.ActiveScope()
	if scope == nil {
		return errors.New("no player recorded yet; run the game with the tracker serving")
	}
	quotes, err := store.EffectivePrices(scope.Scope, scope.SeasonID)
	if err != nil {
		return err
	}
	v := engine.NewValuer(quotes,
		store.GetSettingBool("trade_tax_enabled", true),
		store.GetSettingBool("map_cost_enabled", true))

	runs, err := store.ListRuns(scope.Scope, time.Time{}, *limit, 0)
	if err != nil {
		return err
	}
	now := time.Now()
	fmt.Printf("%-6s %-28s %-10s %10s %10s\n", "ID", "ZONE", "DURATION", "NET", "GROSS")
	for _, r := range runs {
		children, err := store.ChildRuns(r.ID)
		if err != nil {
			return err
		}
		totals, err := store.RunDeltaTotals(r.ID, true)
		if err != nil {
			return err
		}
		rv := v.Value(totals)
		dur := engine.MapDuration(r, children, now).Round(time.Second)
		fmt.Printf("%-6d %-28s %-10s %10.2f %10.2f\n", r.ID, r.ZoneName, dur, rv.Net, rv.Gross)
	}
	return nil
}

func cmdShowState(args []string) error {
	fs := newFlagSet("show-state")
	page := fs.Int("page", 0, "restrict to one bag page")
	portable := fs.Bool("portable", false, "keep data beside the executable")
	fs.Parse(args)

	cfg := config.Default()
	cfg.Portable = *portable
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	scope := store.ActiveScope()
	if scope == nil {
		return errors.New("no player recorded yet")
	}
	catalog, err := loadCatalog(store)
	if err != nil {
		return err
	}
	slots, err := store.LoadSlots(scope.Scope)
	if err != nil {
		return err
	}

	keys := make([]db.SlotKey, 0, len(slots))
	for k := range slots {
		if *page != 0 && k.PageID != *page {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].PageID != keys[j].PageID {
			return keys[i].PageID < keys[j].PageID
		}
		return keys[i].SlotID < keys[j].SlotID
	})

	fmt.Printf("slot state for %s (%d slots)\n", scope.Scope, len(keys))
	fmt.Printf("%-5s %-5s %-10s %-30s %8s\n", "PAGE", "SLOT", "TYPE", "NAME", "NUM")
	for _, k := range keys {
		s := slots[k]
		fmt.Printf("%-5d %-5d %-10d %-30s %8d\n", k.PageID, k.SlotID, s.ConfigBaseID, catalog.Name(s.ConfigBaseID), s.Num)
	}
	return nil
}

// probeRunning checks whether another instance already serves the status
// route on addr.
func probeRunning(addr string) bool {
	client := &http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Get("http://" + addr + "/api/status")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		logger.Warn("Main", "open browser: %v", err)
	}
}
