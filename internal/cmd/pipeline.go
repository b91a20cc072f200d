package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/factline/cli/pkg/api"
	"github.com/factline/cli/pkg/client"
	"github.com/factline/cli/pkg/config"
	"github.com/factline/cli/pkg/events"
	"github.com/factline/cli/pkg/logger"
	"github.com/factline/cli/pkg/media"
	"github.com/factline/cli/pkg/metrics"
	"github.com/factline/cli/pkg/notify"
	"github.com/factline/cli/pkg/output"
	"github.com/factline/cli/pkg/pending"
	"github.com/factline/cli/pkg/poller"
	"github.com/factline/cli/pkg/registry"
	"github.com/factline/cli/pkg/stream"
	"github.com/factline/cli/pkg/upload"
)

// pipeline holds the processing components of one command run.
type pipeline struct {
	service   *api.Service
	registry  *registry.Registry
	presenter *output.Presenter
	queue     *notify.Queue
	store     pending.Store
	bus       *events.Bus
	orch      *upload.Orchestrator

	closeStore func() error
	stopFeed   func()
}

func newPipeline(ctx context.Context) (*pipeline, error) {
	svc := api.NewService(client.GetClient())

	transport, err := newTransport(svc, config.GetString("stream.transport"))
	if err != nil {
		return nil, err
	}

	store, closeStore, err := openPendingStore(ctx, config.GetString("pending.backend"))
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		service:    svc,
		registry:   registry.New(registry.StreamFactory(transport, stream.WithConfig(streamConfig()))),
		presenter:  output.NewTerminalPresenter(),
		store:      store,
		bus:        events.NewBus(),
		closeStore: closeStore,
	}
	p.queue = notify.NewQueue(p.presenter, notify.WithDefaultDuration(config.GetMillis("notify.snackbar_ms")))
	p.orch = upload.New(upload.Deps{
		API:      svc,
		Registry: p.registry,
		Queue:    p.queue,
		Store:    store,
		Bus:      p.bus,
	}, uploadConfig())

	p.stopFeed = p.watchFeed()

	if addr := config.GetString("metrics.addr"); addr != "" {
		go func() {
			logger.Info("Serving metrics", "addr", addr)
			if err := metrics.Serve(ctx, addr); err != nil {
				logger.Error("Metrics server failed", "addr", addr, "error", err)
			}
		}()
	}
	return p, nil
}

// watchFeed reports processing-complete events. In JSON mode they are part
// of the command's output.
func (p *pipeline) watchFeed() func() {
	ch := make(chan events.ProcessingComplete, 16)
	if err := p.bus.Subscribe("cli", ch); err != nil {
		logger.Warn("Feed events unavailable", "error", err)
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			if output.GetOutputFormat() != output.FormatJSON {
				logger.Debug("Processing complete", "content_id", ev.ContentID, "status", ev.Status)
				continue
			}
			line, err := output.FormatAsJSON(map[string]interface{}{"event": "processing_complete", "data": ev})
			if err != nil {
				logger.Warn("Could not encode event", "error", err)
				continue
			}
			fmt.Fprintln(output.Writer, line)
		}
	}()

	return func() {
		_ = p.bus.Unsubscribe("cli")
		close(ch)
		<-done
	}
}

// Close disconnects every stream and stops every timer.
func (p *pipeline) Close() {
	p.orch.Close()
	p.registry.Teardown()
	if n := p.queue.Drain(); n > 0 {
		logger.Debug("Presented queued notifications before exit", "count", n)
	}
	p.queue.Close()
	p.presenter.Flush()
	p.stopFeed()
	_ = p.bus.Close()
	if p.closeStore != nil {
		if err := p.closeStore(); err != nil {
			logger.Warn("Closing pending store", "error", err)
		}
	}
}

func newTransport(svc *api.Service, name string) (stream.Transport, error) {
	switch strings.ToLower(name) {
	case "", "sse":
		return stream.NewSSETransport(svc, client.NewStreaming()), nil
	case "websocket", "ws":
		return stream.NewWebSocketTransport(svc), nil
	default:
		return nil, fmt.Errorf("unknown stream transport %q (use sse or websocket)", name)
	}
}

func openPendingStore(ctx context.Context, backend string) (pending.Store, func() error, error) {
	switch strings.ToLower(backend) {
	case "", "file":
		return pending.NewFileStore(config.GetPendingPath()), nil, nil
	case "memory":
		return pending.NewMemoryStore(), nil, nil
	case "redis":
		rdb, err := pending.DialRedis(ctx,
			config.GetString("redis.addr"),
			config.GetString("redis.password"),
			config.GetInt("redis.db"))
		if err != nil {
			return nil, nil, err
		}
		store := pending.NewRedisStore(rdb, pending.DefaultTTL)
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown pending backend %q (use file, memory or redis)", backend)
	}
}

func streamConfig() stream.Config {
	return stream.Config{
		MaxReconnectAttempts: config.GetInt("stream.max_reconnect_attempts"),
		ReconnectStep:        config.GetMillis("stream.reconnect_step_ms"),
	}
}

func pollerConfig(m api.MediaKind) poller.Config {
	cfg := poller.Config{
		Interval:             config.GetMillis("poller.interval_ms"),
		MaxConsecutiveErrors: config.GetInt("poller.max_consecutive_errors"),
	}
	if m == api.MediaVideo {
		cfg.Timeout = config.GetMillis("poller.video_timeout_ms")
	}
	return cfg
}

func uploadConfig() upload.Config {
	return upload.Config{
		MaxImageBytes:   config.GetMegabytes("upload.max_image_mb"),
		MaxVideoBytes:   config.GetMegabytes("upload.max_video_mb"),
		ImageExtensions: normalizeExtensions(config.GetStringSlice("upload.image_extensions")),
		VideoExtensions: normalizeExtensions(config.GetStringSlice("upload.video_extensions")),
		CompressImages:  config.GetBool("upload.compress_images"),
		Compression: media.Options{
			MaxDimension: config.GetInt("upload.compress_max_dimension"),
			Quality:      config.GetInt("upload.compress_quality"),
		},
		ImagePoll:  pollerConfig(api.MediaImage),
		VideoPoll:  pollerConfig(api.MediaVideo),
		WebBaseURL: config.GetString("api.web_base_url"),
		Credential: authToken,
	}
}

// normalizeExtensions accepts "jpg" as well as ".JPG".
func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}
