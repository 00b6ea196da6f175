// Serves the peer wire protocol for a set of .torrent files.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/anacrolix/peerwire"
	"github.com/anacrolix/peerwire/storage"
)

var logger = log.Default.WithNames("main")

type args struct {
	Torrents []string `arg:"positional,required" help:".torrent files to serve"`

	Listen  string `default:":6881" help:"address to accept peer connections on"`
	Storage string `default:"file" help:"piece storage: file, mmap, memory or null"`
	DataDir string `default:"." help:"where file and mmap storage keep torrent data"`

	MaxPeers      int     `default:"4096"`
	MaxHandshakes int     `default:"128"`
	MaxFrame      string  `default:"64KiB" help:"largest peer message accepted"`
	ReadBuffer    string  `default:"128KiB" help:"per-peer read buffer"`
	WriteBuffer   string  `default:"128KiB" help:"per-peer write buffer"`
	AcceptRate    float64 `help:"accepted connections per second, 0 for no limit"`
	SendBitfield  bool    `help:"advertise completed pieces to new peers"`

	MetricsAddr string `help:"serve prometheus metrics on this address"`
	Debug       bool
}

func main() {
	defer envpprof.Stop()
	if err := mainErr(); err != nil {
		logger.Levelf(log.Error, "error in main: %v", err)
		os.Exit(1)
	}
}

func parseSize(s string) (int, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func newStorage(a *args) (storage.ClientImpl, error) {
	switch a.Storage {
	case "file":
		return storage.NewFile(a.DataDir), nil
	case "mmap":
		return storage.NewMMap(a.DataDir), nil
	case "memory":
		return storage.NewMemory(), nil
	case "null":
		return storage.NewNull(), nil
	default:
		return nil, fmt.Errorf("unknown storage %q", a.Storage)
	}
}

func newConfig(a *args) (*peerwire.Config, error) {
	cfg := peerwire.NewDefaultConfig()
	cfg.ListenAddr = a.Listen
	cfg.MaxPeers = a.MaxPeers
	cfg.MaxHandshakes = a.MaxHandshakes
	cfg.SendBitfieldOnPromotion = a.SendBitfield
	for _, f := range []struct {
		s   string
		dst *int
	}{
		{a.MaxFrame, &cfg.MaxFrameLength},
		{a.ReadBuffer, &cfg.PeerReadBufferSize},
		{a.WriteBuffer, &cfg.PeerWriteBufferSize},
	} {
		n, err := parseSize(f.s)
		if err != nil {
			return nil, err
		}
		*f.dst = n
	}
	if a.AcceptRate > 0 {
		cfg.AcceptRateLimiter = rate.NewLimiter(rate.Limit(a.AcceptRate), max(1, int(a.AcceptRate)))
	}
	cfg.Logger = logger
	if a.Debug {
		cfg.Logger = cfg.Logger.WithFilterLevel(log.Debug)
	}
	return cfg, nil
}

func mainErr() error {
	var a args
	arg.MustParse(&a)
	cfg, err := newConfig(&a)
	if err != nil {
		return fmt.Errorf("building config: %w", err)
	}
	reg := prometheus.NewRegistry()
	cfg.Metrics = peerwire.NewMetrics(reg)

	ci, err := newStorage(&a)
	if err != nil {
		return err
	}
	defer ci.Close()
	cl, err := peerwire.NewClient(cfg)
	if err != nil {
		return err
	}
	defer cl.Close()
	for _, name := range a.Torrents {
		t, err := cl.AddTorrentFromFile(name, ci)
		if err != nil {
			return fmt.Errorf("adding %q: %w", name, err)
		}
		logger.Levelf(log.Info, "serving %q with %v pieces of %s",
			t.Name(), t.NumPieces(), humanize.IBytes(uint64(t.Info().PieceLength)))
	}

	r, err := peerwire.Listen(cl)
	if err != nil {
		return fmt.Errorf("listening: %w", err)
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return r.Run(ctx)
	})
	if a.MetricsAddr != "" {
		srv := &http.Server{
			Addr:    a.MetricsAddr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		eg.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
		eg.Go(func() error {
			err := srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			return err
		})
	}
	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}
