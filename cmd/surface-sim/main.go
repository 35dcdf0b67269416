package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/samirrijal/flyover/internal/adapters/surface/remote"
	"github.com/samirrijal/flyover/internal/adapters/surface/sim"
	"github.com/samirrijal/flyover/internal/core/domain"
	"github.com/samirrijal/flyover/internal/pkg/logging"
)

// surfaceSim answers camera commands the way a browser map would, without
// drawing anything. Timing comes from the in-process simulated surfaces.
type surfaceSim struct {
	conn    *ws.Conn
	writeMu sync.Mutex

	camera    *sim.Capable
	poses     *sim.Poses
	tileDelay time.Duration
}

func (s *surfaceSim) send(env remote.Envelope) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(env); err != nil {
		slog.Warn("write failed", "type", env.Type, "error", err)
	}
}

// replyWhen sends reply once done is closed.
func (s *surfaceSim) replyWhen(done <-chan struct{}, reply remote.Envelope) {
	go func() {
		<-done
		s.send(reply)
	}()
}

func (s *surfaceSim) handle(ctx context.Context, env remote.Envelope) bool {
	d := time.Duration(env.DurationMS) * time.Millisecond
	switch env.Type {
	case remote.TypeAttached:
		slog.Info("attached", "backend", env.Backend)
	case remote.TypeProbe:
		reply := remote.Envelope{Type: remote.TypeAck, ID: env.ID}
		if err := s.camera.Probe(ctx); err != nil {
			reply.Error = err.Error()
		}
		s.send(reply)
	case remote.TypeFlyTo, remote.TypeFlyAround:
		if env.Target == nil {
			s.send(remote.Envelope{Type: remote.TypeAck, ID: env.ID, Error: "missing target"})
			return true
		}
		var done <-chan struct{}
		var err error
		if env.Type == remote.TypeFlyTo {
			done, err = s.camera.FlyTo(ctx, *env.Target, d)
		} else {
			done, err = s.camera.FlyAround(ctx, *env.Target, d, env.Revolutions)
		}
		if err != nil {
			s.send(remote.Envelope{Type: remote.TypeAck, ID: env.ID, Error: err.Error()})
			return true
		}
		slog.Info(env.Type, "target", env.Target, "duration_ms", env.DurationMS, "revolutions", env.Revolutions)
		pose := s.camera.Pose()
		s.replyWhen(done, remote.Envelope{Type: remote.TypeAck, ID: env.ID, Target: &pose})
	case remote.TypeSettle:
		s.replyWhen(tilesLoaded(s.poses.Idle(), s.tileDelay), remote.Envelope{Type: remote.TypeSteady, ID: env.ID})
	case remote.TypeSetPose:
		if env.Pose != nil {
			_ = s.poses.SetPose(ctx, *env.Pose)
			slog.Debug("set_pose", "pose", env.Pose)
		}
	case remote.TypeError:
		slog.Error("server error", "error", env.Error)
		return false
	}
	return true
}

// tilesLoaded closes after idle has closed and delay has passed.
func tilesLoaded(idle <-chan struct{}, delay time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		<-idle
		time.Sleep(delay)
		close(done)
	}()
	return done
}

// Usage: surface-sim -session <id> [-addr localhost:8080] [-capable=false]
func main() {
	addr := flag.String("addr", "localhost:8080", "API host:port")
	session := flag.String("session", "", "flyover session id")
	capable := flag.Bool("capable", true, "announce native interpolation")
	failProbe := flag.Bool("fail-probe", false, "reject the capability probe")
	timeScale := flag.Float64("time-scale", 1, "multiplier applied to flight durations")
	tileDelay := flag.Duration("tile-delay", 200*time.Millisecond, "delay before reporting steady")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	logging.Setup("flyover-surface-sim", *logLevel, "text")

	if *session == "" {
		log.Fatal("-session is required")
	}

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws/flyovers/" + url.PathEscape(*session) + "/surface"}
	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("dial %s: %v", u.String(), err)
	}
	defer conn.Close()

	camera := sim.NewCapable(domain.CameraTarget{Range: 2_000_000})
	camera.TimeScale = *timeScale
	if *failProbe {
		camera.ProbeErr = errors.New("native interpolation unavailable")
	}
	s := &surfaceSim{conn: conn, camera: camera, poses: sim.NewPoses(domain.MapPose{}), tileDelay: *tileDelay}

	initial := camera.Pose()
	s.send(remote.Envelope{Type: remote.TypeHello, Capable: *capable, Target: &initial})
	slog.Info("surface connected", "url", u.String(), "capable", *capable)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var env remote.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				if !ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
					slog.Warn("read failed", "error", err)
				}
				return
			}
			if !s.handle(ctx, env) {
				return
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-done:
	case <-quit:
		s.writeMu.Lock()
		_ = conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
	slog.Info("surface disconnected", "camera_calls", len(camera.Calls()), "pose_frames", len(s.poses.Frames()))
}
