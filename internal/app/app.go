package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"screentrail/internal/blacklist"
	"screentrail/internal/config"
	"screentrail/internal/grab"
	grabx11 "screentrail/internal/grab/x11"
	"screentrail/internal/ipc"
	"screentrail/internal/metrics"
	probex11 "screentrail/internal/probe/x11"
	"screentrail/internal/record"
	"screentrail/internal/sink/ffmpeg"
	"screentrail/internal/sink/jsonl"
	"screentrail/internal/storage"

	sqlitestore "screentrail/internal/storage/sqlite"
)

// recorder bundles one monitor's capture pipeline.
type recorder struct {
	monitor grab.Monitor
	sched   *record.Scheduler
	prober  *probex11.Prober
	grabber *grabx11.Grabber
	video   *ffmpeg.Sink
	logs    *jsonl.Sink
}

func (r *recorder) close() {
	if r.video != nil {
		if err := r.video.Close(); err != nil {
			slog.Error("failed to finalize video file", "monitor", r.monitor.ID, "err", err)
		}
	}
	if r.logs != nil {
		if err := r.logs.Close(); err != nil {
			slog.Error("failed to close activity log", "monitor", r.monitor.ID, "err", err)
		}
	}
	if r.grabber != nil {
		r.grabber.Close()
	}
	if r.prober != nil {
		r.prober.Close()
	}
}

type App struct {
	cfg     *config.Config
	storage storage.Storage
	matcher *blacklist.Matcher

	sessionStamp string
	recorders    []*recorder

	// --- Socket Handling ---
	socketPath string
	listener   *net.UnixListener

	metricsSrv *http.Server

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewApp(cfg *config.Config) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:          cfg,
		matcher:      blacklist.New(cfg.Blacklist.Apps, cfg.Blacklist.Titles),
		sessionStamp: time.Now().Format("2006-01-02_15-04-05"),
		socketPath:   ipc.SocketPath,
		ctx:          ctx,
		cancel:       cancel,
	}

	if err := os.MkdirAll(cfg.OutputDir, 0750); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create output directory %s: %w", cfg.OutputDir, err)
	}

	a.storage = sqlitestore.NewSQLiteStore(cfg.DatabasePath)
	if err := a.storage.Init(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	monitors, err := grabx11.ListMonitors()
	if err != nil {
		a.storage.Close()
		cancel()
		return nil, fmt.Errorf("failed to enumerate monitors: %w", err)
	}
	slog.Info("monitors detected", "count", len(monitors))

	for _, m := range monitors {
		r, err := a.newRecorder(m)
		if err != nil {
			for _, prev := range a.recorders {
				prev.close()
			}
			a.storage.Close()
			cancel()
			return nil, fmt.Errorf("failed to set up recorder for monitor %d: %w", m.ID, err)
		}
		a.recorders = append(a.recorders, r)
	}

	return a, nil
}

// newRecorder builds the full pipeline for one monitor. The video file and
// activity log share the monitor_{id}_{timestamp} stem, so the pair is
// correlated by filename alone.
func (a *App) newRecorder(m grab.Monitor) (*recorder, error) {
	stem := fmt.Sprintf("monitor_%d_%s", m.ID, a.sessionStamp)

	prober, err := probex11.NewProber()
	if err != nil {
		return nil, err
	}
	grabber, err := grabx11.NewGrabber(m)
	if err != nil {
		prober.Close()
		return nil, err
	}

	video, err := ffmpeg.New(
		filepath.Join(a.cfg.OutputDir, stem+".mp4"),
		ffmpeg.Options{
			FFmpegPath:   a.cfg.Encode.FFmpegPath,
			FPS:          1.0 / a.cfg.TickInterval().Seconds(),
			Codec:        a.cfg.Encode.Codec,
			Preset:       a.cfg.Encode.Preset,
			CRF:          a.cfg.Encode.CRF,
			WriteTimeout: a.cfg.EncodeWriteTimeout(),
		},
		slog.Default(),
	)
	if err != nil {
		grabber.Close()
		prober.Close()
		return nil, err
	}

	logs, err := jsonl.New(filepath.Join(a.cfg.OutputDir, stem+".jsonl"))
	if err != nil {
		video.Close()
		grabber.Close()
		prober.Close()
		return nil, err
	}

	sched := record.NewScheduler(record.Options{
		MonitorID:         m.ID,
		Probe:             prober,
		Frames:            grabber,
		Blacklist:         a.matcher,
		Video:             video,
		Log:               logs,
		Store:             a.storage,
		LogAppendRetries:  a.cfg.LogAppendRetries,
		MaxEncodeFailures: a.cfg.Encode.MaxConsecutiveFailures,
	})

	return &recorder{
		monitor: m,
		sched:   sched,
		prober:  prober,
		grabber: grabber,
		video:   video,
		logs:    logs,
	}, nil
}

// setupSocket checks for existing socket and creates the listener
func (a *App) setupSocket() error {
	if _, err := os.Stat(a.socketPath); err == nil {
		conn, err := net.DialTimeout("unix", a.socketPath, 1*time.Second)
		if err == nil {
			conn.Close()
			return fmt.Errorf("socket %s already active, another instance might be running", a.socketPath)
		}
		slog.Info("removing stale socket file", "path", a.socketPath)
		if err := os.Remove(a.socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket file %s: %w", a.socketPath, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("error checking socket file %s: %w", a.socketPath, err)
	}

	addr, err := net.ResolveUnixAddr("unix", a.socketPath)
	if err != nil {
		return fmt.Errorf("failed to resolve unix addr %s: %w", a.socketPath, err)
	}

	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", a.socketPath, err)
	}

	a.listener = listener
	slog.Info("listening for commands", "socket", a.socketPath)
	return nil
}

// listenForCommands accepts connections and handles them
func (a *App) listenForCommands() {
	defer a.wg.Done()

	for {
		conn, err := a.listener.AcceptUnix()
		if err != nil {
			select {
			case <-a.ctx.Done():
				return
			default:
				slog.Warn("failed to accept connection", "err", err)
				if ne, ok := err.(net.Error); ok && !ne.Temporary() {
					return
				}
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}
		a.wg.Add(1)
		go a.handleConnection(conn)
	}
}

// handleConnection reads command, processes it, and sends response
func (a *App) handleConnection(conn *net.UnixConn) {
	defer conn.Close()
	defer a.wg.Done()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var cmd ipc.Command
	if err := decoder.Decode(&cmd); err != nil {
		if err != io.EOF {
			slog.Warn("failed to decode command", "err", err)
		}
		_ = encoder.Encode(ipc.Response{Success: false, Message: "Failed to decode command: " + err.Error()})
		return
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	slog.Debug("received command", "name", cmd.Name)
	response := a.processCommand(cmd)

	if err := encoder.Encode(response); err != nil {
		slog.Warn("failed to send response", "err", err)
	}
}

// processCommand routes the command to the correct handler
func (a *App) processCommand(cmd ipc.Command) ipc.Response {
	switch cmd.Name {
	case ipc.CmdPing:
		return ipc.Response{Success: true, Message: "pong"}

	case ipc.CmdGetStatus:
		data := ipc.StatusData{Session: a.sessionStamp}
		for _, r := range a.recorders {
			st := r.sched.Status()
			data.Paused = data.Paused || st.Paused
			data.Monitors = append(data.Monitors, st)
		}
		return ipc.Response{Success: true, Data: data}

	case ipc.CmdPause:
		for _, r := range a.recorders {
			r.sched.SetPaused(true)
		}
		return ipc.Response{Success: true, Message: "Capture paused"}

	case ipc.CmdResume:
		for _, r := range a.recorders {
			r.sched.SetPaused(false)
		}
		return ipc.Response{Success: true, Message: "Capture resumed"}

	case ipc.CmdStop:
		a.cancel()
		return ipc.Response{Success: true, Message: "Shutting down"}

	default:
		return ipc.Response{Success: false, Message: fmt.Sprintf("Unknown command: %s", cmd.Name)}
	}
}

func (a *App) startMetrics() {
	if a.cfg.MetricsAddr == "" {
		return
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		slog.Warn("failed to register metrics", "err", err)
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.metricsSrv = &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		slog.Info("metrics endpoint listening", "addr", a.cfg.MetricsAddr)
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics server error", "err", err)
		}
	}()
}

func (a *App) Run() error {
	defer a.cleanup()

	slog.Info("starting screentrail session",
		"session", a.sessionStamp,
		"output_dir", a.cfg.OutputDir,
		"monitors", len(a.recorders),
		"interval", a.cfg.TickInterval())

	if err := a.setupSocket(); err != nil {
		return err
	}

	a.handleSignals()
	a.startMetrics()

	for _, r := range a.recorders {
		r := r
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			err := r.sched.Run(a.ctx, a.cfg.TickInterval())
			if err != nil && !errors.Is(err, context.Canceled) {
				// A fatal sink error on any monitor ends the whole session:
				// a partial pair is preferable to silently diverging ones.
				slog.Error("recorder stopped with error", "monitor", r.monitor.ID, "err", err)
				a.cancel()
			}
		}()
	}

	a.wg.Add(1)
	go a.listenForCommands()

	<-a.ctx.Done()
	slog.Info("shutdown signal received, waiting for components")

	// Close the listener before waiting so Accept returns.
	if a.listener != nil {
		if err := a.listener.Close(); err != nil {
			slog.Warn("error closing socket listener", "err", err)
		}
	}
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}

	waitChan := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waitChan)
	}()

	select {
	case <-waitChan:
		slog.Info("all recorder goroutines finished")
	case <-time.After(10 * time.Second):
		slog.Warn("timeout waiting for recorder goroutines to stop")
	}

	return nil
}

// handleSignals triggers the orderly finalize path on SIGINT/SIGTERM.
func (a *App) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		slog.Info("received signal, initiating shutdown", "signal", sig.String())
		a.cancel()
	}()
}

// cleanup finalizes sinks after the schedulers have flushed their last
// segments, then releases storage and the socket file.
func (a *App) cleanup() {
	for _, r := range a.recorders {
		r.close()
	}

	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			slog.Warn("error closing storage", "err", err)
		}
	}

	if _, err := os.Stat(a.socketPath); err == nil {
		if err := os.Remove(a.socketPath); err != nil {
			slog.Warn("failed to remove socket file", "path", a.socketPath, "err", err)
		}
	}

	slog.Info("session finished", "session", a.sessionStamp)
}
