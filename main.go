package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cloud.google.com/go/spanner"
	"github.com/alphauslabs/nfsgw/internal/api"
	"github.com/alphauslabs/nfsgw/internal/appdata"
	"github.com/alphauslabs/nfsgw/internal/bootstrap"
	"github.com/alphauslabs/nfsgw/internal/config"
	"github.com/alphauslabs/nfsgw/internal/controller"
	"github.com/alphauslabs/nfsgw/internal/flags"
	"github.com/alphauslabs/nfsgw/internal/fleet"
	"github.com/alphauslabs/nfsgw/internal/ganesha"
	"github.com/alphauslabs/nfsgw/internal/grace"
	"github.com/alphauslabs/nfsgw/internal/metrics"
	"github.com/alphauslabs/nfsgw/internal/peer"
	rl "github.com/alphauslabs/nfsgw/internal/ratelimit"
	"github.com/alphauslabs/nfsgw/internal/render"
	svcmgr "github.com/alphauslabs/nfsgw/internal/service"
	"github.com/alphauslabs/nfsgw/internal/state"
	"github.com/alphauslabs/nfsgw/internal/storage"
	"github.com/flowerinthenight/hedge"
	"github.com/flowerinthenight/timedoff"
	"github.com/golang/glog"
	"github.com/grpc-ecosystem/go-grpc-middleware/ratelimit"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// Set at build time: -ldflags "-X main.version=..."
var version = "dev"

func grpcServe(ctx context.Context, svc *service) error {
	l, err := net.Listen("tcp", ":"+*flags.GrpcPort)
	if err != nil {
		glog.Errorf("net.Listen failed: %v", err)
		return err
	}

	defer l.Close()
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			ratelimit.UnaryServerInterceptor(&rl.Limiter{}),
		),
		grpc.ChainStreamInterceptor(
			ratelimit.StreamServerInterceptor(&rl.Limiter{}),
		),
	)

	api.RegisterGatewayServer(gs, svc)

	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()

	return gs.Serve(l)
}

func httpServe(ctx context.Context, svc *service) error {
	s := &http.Server{
		Addr:    ":" + *flags.HttpPort,
		Handler: api.NewRouter(func() interface{} { return svc.status() }),
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		s.Shutdown(sctx)
	}()

	err := s.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func peerChannel(app *appdata.AppData) peer.Channel {
	switch *flags.PeerStore {
	case "redis":
		return peer.NewRedisChannel(*flags.RedisAddr, *flags.RedisDb, "nfsgw:"+*flags.App+":peer")
	case "memory":
		glog.Warningf("memory peer store: peers will not see each other")
		return &peer.MemoryChannel{}
	default:
		return &peer.SpannerChannel{Client: app.Client, Table: *flags.Meta, Cluster: *flags.App}
	}
}

func main() {
	flags.Parse()
	defer glog.Flush()

	if *flags.Database == "" {
		glog.Errorf("-db is required")
		return
	}

	opts, err := config.Load(*flags.Config, *flags.App)
	if err != nil {
		glog.Fatal(err) // essential
	}

	if err := metrics.Register(nil); err != nil {
		glog.Fatal(err)
	}

	if err := os.MkdirAll(*flags.StateDir, 0o750); err != nil {
		glog.Fatal(err)
	}

	store, err := state.Open(filepath.Join(*flags.StateDir, "state.db"))
	if err != nil {
		glog.Fatal(err)
	}

	defer store.Close()
	live := config.NewLive(opts)
	pool := func() string { return live.Get().PoolName }
	cephConf := filepath.Join(*flags.CephDir, "ceph.conf")
	runner := storage.ExecRunner{}
	svcs := &svcmgr.Systemd{Runner: runner}

	app := &appdata.AppData{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app.Client, err = spanner.NewClient(ctx, *flags.Database)
	if err != nil {
		glog.Fatal(err) // essential
	}

	defer app.Client.Close()
	fleetData := fleet.FleetData{App: app, Hostname: *flags.Hostname}

	// Setup our group coordinator.
	app.FleetOp = hedge.New(
		app.Client,
		":"+*flags.FleetPort,
		*flags.LockTable,
		*flags.LockName,
		"", // not using hedge's logtable
		hedge.WithGroupSyncInterval(time.Second*10),
		hedge.WithLeaderHandler(&fleetData, fleet.LeaderHandler),
		hedge.WithBroadcastHandler(&fleetData, fleet.BroadcastHandler),
	)

	ch := peerChannel(app)
	notifier := &fleet.Notifier{App: app, Hostname: *flags.Hostname}
	coord := &peer.Coordinator{Channel: ch, Notifier: notifier}
	leadership := &fleet.Leadership{HasLock: app.FleetOp.HasLock}
	objects := &storage.Rados{Runner: runner, CephConf: cephConf, Id: *flags.App}

	renderer, err := render.New(render.Files(*flags.CephDir, *flags.GaneshaDir), svcs)
	if err != nil {
		glog.Fatal(err)
	}

	ctrl := controller.New(controller.Config{
		Node:     controller.Node{Name: *flags.App, Hostname: *flags.Hostname},
		Version:  version,
		CephConf: cephConf,
		Options:  live,
		Store:    store,
		Broker:   &storage.CephBroker{Runner: runner, CephConf: *flags.AdminConf, Id: *flags.AdminId},
		Renderer: renderer,
		Services: svcs,
		Grace: &grace.Manager{
			Runner:   runner,
			UserId:   *flags.App,
			CephConf: cephConf,
			Pool:     pool,
			Hostname: *flags.Hostname,
		},
		Bootstrap: &bootstrap.Bootstrapper{
			Objects:  objects,
			Pool:     pool,
			Latch:    coord,
			IsLeader: leadership.IsLeader,
		},
		Peers: coord,
		Exports: &ganesha.Manager{
			Runner:   runner,
			Objects:  objects,
			CephConf: cephConf,
			Client:   *flags.App,
			Pool:     pool,
			FsName:   func() string { return live.Get().CephFsName },
		},
		Leadership: leadership,
		Announcer:  notifier,
		Address: func() (string, error) {
			return controller.AdvertisedAddress(*flags.HaCluster, live.Get().Vip, *flags.PublicAddr)
		},
	})

	peerWatcher := &peer.Watcher{
		Channel:  ch,
		Interval: *flags.PollInterval,
		OnChange: func(c peer.Change, cur peer.Facts) {
			ctrl.Deliver(controller.Fact{Kind: controller.Kind(c), Peers: &cur})
		},
	}

	poolWatcher := &storage.Watcher{
		Runner:   runner,
		CephConf: *flags.AdminConf,
		Id:       *flags.AdminId,
		Client:   *flags.App,
		Pool:     pool,
		AuthMode: func() string { return live.Get().AuthMode },
		Interval: *flags.PollInterval,
		OnBroker: func() { ctrl.Deliver(controller.Fact{Kind: controller.BrokerAvailable}) },
		OnPool: func(f storage.PoolFact) {
			ctrl.Deliver(controller.Fact{Kind: controller.PoolsAvailable, Pool: &f})
		},
	}

	fleetData.Controller = ctrl
	fleetData.Peers = peerWatcher
	leadership.OnGain = func() { ctrl.Deliver(controller.Fact{Kind: controller.LeaderBootstrap}) }

	if err := ctrl.Start(ctx); err != nil {
		glog.Fatal(err)
	}

	// For status: forget the leader if it stops announcing itself.
	app.LeaderActive = timedoff.New(time.Minute*2, &timedoff.CallbackT{
		Callback: func(args interface{}) {
			glog.Infof("no leader for the past 2mins?")
			app.SetLeader("")
		},
	})

	doneLock := make(chan error, 1)
	go app.FleetOp.Run(ctx, doneLock)

	// Ensure leader is active, for the logs only.
	go func() {
		defer func(begin time.Time) {
			glog.Infof("leader wait took %v", time.Since(begin))
		}(time.Now())

		ok, err := fleet.EnsureLeaderActive(ctx, app)
		switch {
		case !ok:
			glog.Errorf("failed: %v, no leader after", err)
		default:
			glog.Infof("confirm leader active")
		}
	}()

	svc := &service{ctrl: ctrl, app: app}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { ctrl.Run(gctx); return nil })
	g.Go(func() error { poolWatcher.Run(gctx); return nil })
	g.Go(func() error { peerWatcher.Run(gctx); return nil })
	g.Go(func() error { leadership.Watch(gctx, time.Second*10); return nil })
	g.Go(func() error { fleet.LeaderLiveness(gctx, app, time.Second*30); return nil })
	g.Go(func() error {
		glog.Infof("serving grpc at :%v", *flags.GrpcPort)
		return grpcServe(gctx, svc)
	})

	g.Go(func() error {
		glog.Infof("serving http at :%v", *flags.HttpPort)
		return httpServe(gctx, svc)
	})

	if r, ok := ch.(*peer.RedisChannel); ok {
		defer r.Close()
		g.Go(func() error { r.Subscribe(gctx, peerWatcher.Poke); return nil })
	}

	// Signal handler: SIGHUP reloads the options, the rest terminate.
	go func() {
		sigch := make(chan os.Signal, 1)
		signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		for {
			select {
			case <-gctx.Done():
				return
			case sig := <-sigch:
				glog.Infof("signal: %v", sig)
				if sig != syscall.SIGHUP {
					cancel()
					return
				}

				o, err := config.Load(*flags.Config, *flags.App)
				if err != nil {
					glog.Errorf("reload options: %v", err)
					continue
				}

				ctrl.Deliver(controller.Fact{Kind: controller.ConfigChanged, Options: &o})
			}
		}
	}()

	if err := g.Wait(); err != nil {
		glog.Errorf("stopped: %v", err)
	}

	cancel()
	<-doneLock
}
