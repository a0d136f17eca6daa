// berthctl is the operator tool for a berth coordination tree: create
// and destroy coordinates, inspect and resolve claimed services, edit
// config entries, or hold a claim for testing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/fjordlabs/berth"
	"github.com/fjordlabs/berth/coord"
	redisstore "github.com/fjordlabs/berth/coord/redis"
	zkstore "github.com/fjordlabs/berth/coord/zk"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "berthctl:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		backend    string
		addr       string
		verbose    bool
	)
	flag.StringVar(&configPath, "config", "", "config file (YAML)")
	flag.StringVar(&backend, "backend", "", "backend, zookeeper or redis (overrides config)")
	flag.StringVar(&addr, "addr", "", "backend address (overrides config)")
	flag.BoolVar(&verbose, "v", false, "verbose logging")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		return errors.New("no command")
	}

	logger := initLogger(verbose)
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if backend != "" {
		cfg.backend = backend
	}
	if addr != "" {
		cfg.zkServers = []string{addr}
		cfg.redisAddr = addr
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	client, err := berth.ConnectWithTimeout(st, zlLogger{logger}, nil, cfg.connectTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	e := env{client: client, out: os.Stdout, log: logger}
	return runCommand(ctx, e, args)
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: berthctl [flags] <command> [args]

commands:
  create <coordinate>                create a coordinate
  destroy <coordinate>               destroy an unclaimed coordinate
  list                               list all coordinates
  status <coordinate>                show a claimed coordinate's status
  resolve <pattern> [strategy]       resolve endpoints (all, any, one)
  claim <coordinate> [host:port]     claim and hold until interrupted
  config put <coordinate> <name> <file|->
  config get <coordinate> <name>
  config rm <coordinate> <name>
  config ls <coordinate>
  shell                              interactive shell

coordinates are cell.user.service.instance; patterns may use * per
segment.

flags:
`)
	flag.PrintDefaults()
}

type env struct {
	client *berth.Client
	out    io.Writer
	log    zerolog.Logger
}

func runCommand(ctx context.Context, e env, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "create":
		return cmdCreate(ctx, e, rest)
	case "destroy":
		return cmdDestroy(ctx, e, rest)
	case "list", "ls":
		return cmdList(ctx, e)
	case "status":
		return cmdStatus(ctx, e, rest)
	case "resolve":
		return cmdResolve(ctx, e, rest)
	case "claim":
		return cmdClaim(ctx, e, rest)
	case "config":
		return cmdConfig(ctx, e, rest)
	case "shell":
		return runShell(ctx, e)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdCreate(ctx context.Context, e env, args []string) error {
	coordinate, err := oneCoordinate(args)
	if err != nil {
		return err
	}
	if err := e.client.CreateCoordinate(ctx, coordinate); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "created %s\n", coordinate)
	return nil
}

func cmdDestroy(ctx context.Context, e env, args []string) error {
	coordinate, err := oneCoordinate(args)
	if err != nil {
		return err
	}
	if err := e.client.DestroyCoordinate(ctx, coordinate); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "destroyed %s\n", coordinate)
	return nil
}

func cmdList(ctx context.Context, e env) error {
	coordinates, err := e.client.ListCoordinates(ctx)
	if err != nil {
		return err
	}
	for _, c := range coordinates {
		fmt.Fprintln(e.out, c.String())
	}
	return nil
}

func cmdStatus(ctx context.Context, e env, args []string) error {
	coordinate, err := oneCoordinate(args)
	if err != nil {
		return err
	}
	se, err := e.client.Status(ctx, coordinate)
	if err != nil {
		if errors.Is(err, berth.ErrCoordinateMissing) {
			fmt.Fprintf(e.out, "%s: unclaimed\n", coordinate)
			return nil
		}
		return err
	}
	fmt.Fprintf(e.out, "%s: %s", coordinate, se.Status.State)
	if se.Status.Message != "" {
		fmt.Fprintf(e.out, " (%s)", se.Status.Message)
	}
	fmt.Fprintln(e.out)
	for _, ep := range se.EndpointList() {
		printEndpoint(e.out, ep)
	}
	return nil
}

func cmdResolve(ctx context.Context, e env, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: resolve <pattern> [strategy]")
	}
	pattern, err := berth.ParsePattern(args[0])
	if err != nil {
		return err
	}
	strategy := berth.StrategyAny
	if len(args) == 2 {
		strategy = args[1]
	}
	endpoints, err := e.client.Resolver().Resolve(ctx, pattern, strategy)
	if err != nil {
		return err
	}
	for _, ep := range endpoints {
		printEndpoint(e.out, ep)
	}
	return nil
}

// cmdClaim claims the coordinate, publishes it as running, and holds
// the claim until the process is interrupted.
func cmdClaim(ctx context.Context, e env, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: claim <coordinate> [host:port]")
	}
	coordinate, err := berth.ParseCoordinate(args[0])
	if err != nil {
		return err
	}
	handle, err := e.client.Claim(ctx, coordinate)
	if err != nil {
		return err
	}
	if len(args) == 2 {
		host, portStr, err := net.SplitHostPort(args[1])
		if err != nil {
			return fmt.Errorf("endpoint %q: %w", args[1], err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("endpoint %q: bad port", args[1])
		}
		ep := berth.Endpoint{Name: "main", Protocol: "tcp", Host: host, Port: port}
		if err := handle.PutEndpoints(ctx, ep); err != nil {
			return err
		}
	}
	if err := handle.SetStatus(ctx, berth.ServiceStatus{State: berth.ServiceRunning, Message: "held by berthctl"}); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "claimed %s; interrupt to release\n", coordinate)
	<-ctx.Done()

	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := handle.Release(releaseCtx); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "released %s\n", coordinate)
	return nil
}

func cmdConfig(ctx context.Context, e env, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: config put|get|rm|ls ...")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "put":
		if len(rest) != 3 {
			return errors.New("usage: config put <coordinate> <name> <file|->")
		}
		coordinate, err := berth.ParseCoordinate(rest[0])
		if err != nil {
			return err
		}
		data, err := readSource(rest[2])
		if err != nil {
			return err
		}
		return e.client.PutConfig(ctx, coordinate, rest[1], data)
	case "get":
		if len(rest) != 2 {
			return errors.New("usage: config get <coordinate> <name>")
		}
		coordinate, err := berth.ParseCoordinate(rest[0])
		if err != nil {
			return err
		}
		data, err := e.client.GetConfig(ctx, coordinate, rest[1])
		if err != nil {
			return err
		}
		_, err = e.out.Write(data)
		return err
	case "rm":
		if len(rest) != 2 {
			return errors.New("usage: config rm <coordinate> <name>")
		}
		coordinate, err := berth.ParseCoordinate(rest[0])
		if err != nil {
			return err
		}
		return e.client.DeleteConfig(ctx, coordinate, rest[1])
	case "ls":
		if len(rest) != 1 {
			return errors.New("usage: config ls <coordinate>")
		}
		coordinate, err := berth.ParseCoordinate(rest[0])
		if err != nil {
			return err
		}
		names, err := e.client.ListConfig(ctx, coordinate)
		if err != nil {
			return err
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintln(e.out, name)
		}
		return nil
	default:
		return fmt.Errorf("unknown config subcommand %q", sub)
	}
}

func oneCoordinate(args []string) (berth.Coordinate, error) {
	if len(args) != 1 {
		return berth.Coordinate{}, errors.New("want exactly one coordinate")
	}
	return berth.ParseCoordinate(args[0])
}

func readSource(src string) ([]byte, error) {
	if src == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(src)
}

func printEndpoint(out io.Writer, ep berth.Endpoint) {
	proto := ep.Protocol
	if proto == "" {
		proto = "tcp"
	}
	fmt.Fprintf(out, "%s %s %s\n", ep.Name, proto, net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port)))
}

func openStore(cfg ctlConfig) (coord.Store, error) {
	switch cfg.backend {
	case "zookeeper", "zk":
		return zkstore.New(zkstore.Options{
			Servers:        cfg.zkServers,
			SessionTimeout: cfg.zkSessionTimeout,
		})
	case "redis":
		return redisstore.New(redisstore.Options{
			Addr:       cfg.redisAddr,
			DB:         cfg.redisDB,
			KeyPrefix:  cfg.redisPrefix,
			SessionTTL: cfg.redisTTL,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q (want zookeeper or redis)", cfg.backend)
	}
}

func initLogger(verbose bool) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).With().Timestamp().Str("app", "berthctl").Logger()
	if !verbose {
		logger = logger.Level(zerolog.WarnLevel)
	}
	return logger
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
	}()
	return ctx, cancel
}

// zlLogger bridges the library's logger interface onto zerolog.
type zlLogger struct {
	l zerolog.Logger
}

func (z zlLogger) Debug(msg string, fields ...berth.Field) { z.emit(z.l.Debug(), msg, fields) }
func (z zlLogger) Info(msg string, fields ...berth.Field)  { z.emit(z.l.Info(), msg, fields) }
func (z zlLogger) Warn(msg string, fields ...berth.Field)  { z.emit(z.l.Warn(), msg, fields) }
func (z zlLogger) Error(msg string, fields ...berth.Field) { z.emit(z.l.Error(), msg, fields) }

func (z zlLogger) emit(ev *zerolog.Event, msg string, fields []berth.Field) {
	for _, f := range fields {
		ev = ev.Interface(f.Key, f.Value)
	}
	ev.Msg(msg)
}

var _ berth.Logger = zlLogger{}
