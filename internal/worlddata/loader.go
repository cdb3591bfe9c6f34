// Package worlddata builds the world database from the daily dumps.
//
// Nations get their update index from dump order. Regions keep their first
// listed nation, which is the one the estimator times. Password and
// founderless tags are not in the dump and are fetched through the API
// scheduler.
package worlddata

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"tagtimer/internal/dispatch"
	"tagtimer/internal/eventbus"
	"tagtimer/internal/metrics"
	"tagtimer/internal/nsapi"
	"tagtimer/internal/storage"
	logx "tagtimer/pkg/logx"
)

type Config struct {
	// NationsDump and RegionsDump are local .xml/.xml.gz files or http(s)
	// URLs. Empty means the official daily dump.
	NationsDump string
	RegionsDump string
	// DownloadDir receives downloaded dumps. Default: os.TempDir()/tagtimer.
	DownloadDir string
	SkipTags    bool
	// AwaitTimeout bounds each tag lookup. Default: 2m.
	AwaitTimeout time.Duration
}

// Downloader fetches a dump to disk while holding the guard.
// *nsapi.Client implements it.
type Downloader interface {
	Download(ctx context.Context, target, dest string, guard *dispatch.Guard) error
}

type TicketQueue interface {
	Enqueue(target string) *dispatch.Ticket
}

type Loader struct {
	cfg   Config
	dl    Downloader
	api   TicketQueue
	guard *dispatch.Guard
	store storage.Store

	log  logx.Logger
	bus  eventbus.Bus
	sink metrics.Sink
}

// Stats summarizes one ingest.
type Stats struct {
	Nations     int
	Regions     int
	Passworded  int
	Founderless int
	Took        time.Duration
}

func NewLoader(cfg Config, dl Downloader, api TicketQueue, guard *dispatch.Guard, store storage.Store, log logx.Logger, bus eventbus.Bus, sink metrics.Sink) *Loader {
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = filepath.Join(os.TempDir(), "tagtimer")
	}
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = 2 * time.Minute
	}
	return &Loader{
		cfg:   cfg,
		dl:    dl,
		api:   api,
		guard: guard,
		store: store,
		log:   log.With(logx.String("comp", "worlddata")),
		bus:   bus,
		sink:  metrics.OrNoop(sink),
	}
}

// Ensure ingests only when the store holds no nations.
func (l *Loader) Ensure(ctx context.Context) (bool, error) {
	n, err := l.store.CountNations(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		l.log.Debug("world present", logx.Int("nations", n))
		return false, nil
	}
	l.log.Info("world empty, ingesting dumps")
	if _, err := l.Ingest(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Ingest reads both dumps, resolves region tags and replaces the stored
// world in one step. Nothing is written if any part fails.
func (l *Loader) Ingest(ctx context.Context) (Stats, error) {
	start := time.Now()

	nationsPath, err := l.fetch(ctx, nsapi.DumpNations, l.cfg.NationsDump)
	if err != nil {
		return Stats{}, err
	}
	regionsPath, err := l.fetch(ctx, nsapi.DumpRegions, l.cfg.RegionsDump)
	if err != nil {
		return Stats{}, err
	}

	nations, err := readNations(nationsPath)
	if err != nil {
		return Stats{}, err
	}
	regions, err := readRegions(regionsPath)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{Nations: len(nations), Regions: len(regions)}
	if !l.cfg.SkipTags {
		passworded, err := l.tagged(ctx, nsapi.TagPassword)
		if err != nil {
			return Stats{}, fmt.Errorf("worlddata: %s tag: %w", nsapi.TagPassword, err)
		}
		founderless, err := l.tagged(ctx, nsapi.TagFounderless)
		if err != nil {
			return Stats{}, fmt.Errorf("worlddata: %s tag: %w", nsapi.TagFounderless, err)
		}
		for i := range regions {
			key := storage.NormalizeName(regions[i].Name)
			if _, ok := passworded[key]; ok {
				regions[i].Passworded = true
				st.Passworded++
			}
			if _, ok := founderless[key]; ok {
				regions[i].Founderless = true
				st.Founderless++
			}
		}
	}

	now := time.Now()
	if err := l.store.ReplaceWorld(ctx, storage.World{Nations: nations, Regions: regions, IngestedAt: now}); err != nil {
		return Stats{}, fmt.Errorf("worlddata: replace world: %w", err)
	}
	st.Took = time.Since(start)

	l.sink.WorldIngested(st.Nations, st.Regions)
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: eventbus.WorldIngested, Time: now, Data: st})
	}
	l.log.Info("world ingested",
		logx.Int("nations", st.Nations),
		logx.Int("regions", st.Regions),
		logx.Int("passworded", st.Passworded),
		logx.Int("founderless", st.Founderless),
		logx.Duration("took", st.Took))
	return st, nil
}

// fetch returns a local path for the dump, downloading it when src is empty
// or a URL.
func (l *Loader) fetch(ctx context.Context, kind nsapi.DumpKind, src string) (string, error) {
	src = strings.TrimSpace(src)
	target := src
	name := string(kind) + ".xml.gz"
	switch {
	case src == "":
		target = nsapi.DumpTarget(kind)
	case isURL(src):
		u, _ := url.Parse(src)
		if base := path.Base(u.Path); base != "." && base != "/" {
			name = base
		}
	default:
		return src, nil
	}
	if l.dl == nil {
		return "", errors.New("worlddata: no downloader configured")
	}
	dest := filepath.Join(l.cfg.DownloadDir, name)
	if err := l.dl.Download(ctx, target, dest, l.guard); err != nil {
		return "", fmt.Errorf("worlddata: download %s: %w", kind, err)
	}
	return dest, nil
}

func (l *Loader) tagged(ctx context.Context, tag string) (map[string]struct{}, error) {
	if l.api == nil {
		return nil, errors.New("worlddata: no api scheduler configured")
	}
	w, err := nsapi.Await[nsapi.World](ctx, l.api.Enqueue(nsapi.RegionsByTagTarget(tag)), l.cfg.AwaitTimeout)
	if err != nil {
		return nil, err
	}
	names := w.RegionNames()
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	l.log.Debug("region tag resolved", logx.String("tag", tag), logx.Int("regions", len(out)))
	return out, nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
