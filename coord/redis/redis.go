// Package redis implements coord.Store on Redis.
//
// Redis has no sessions or ephemeral nodes, so the driver builds them:
// each store owns a session key kept alive by a heartbeat, ephemeral
// nodes record their owning session, and a node whose session key has
// expired counts as gone everywhere. All writes that need atomicity
// run as Lua scripts so exclusivity holds across clients.
//
// Layout under the key prefix:
//
//	node:<path>     hash with d (data), v (version), e (ephemeral flag),
//	                s (owning session, ephemeral only)
//	kids:<path>     set of child names
//	session:<id>    liveness key with TTL, renewed by the heartbeat
//	eph:<id>        set of paths owned by session <id>
package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/fjordlabs/berth/coord"
)

const (
	defaultPrefix     = "berth:"
	defaultSessionTTL = 10 * time.Second
)

// Options configure the Redis store.
type Options struct {
	Addr           string
	SentinelAddrs  []string
	SentinelMaster string
	Username       string
	Password       string
	DB             int
	KeyPrefix      string

	// SessionTTL is how long the session outlives its last heartbeat.
	// Ephemeral nodes of a crashed client linger up to this long.
	// Default 10s.
	SessionTTL time.Duration
	// HeartbeatInterval defaults to SessionTTL / 3.
	HeartbeatInterval time.Duration
}

// Validate checks the options after defaults are applied.
func (o Options) Validate() error {
	if o.SessionTTL <= 0 {
		return errors.New("redis: session TTL must be positive")
	}
	if o.HeartbeatInterval <= 0 || o.HeartbeatInterval >= o.SessionTTL {
		return errors.New("redis: heartbeat interval must be positive and below the session TTL")
	}
	return nil
}

// Store implements coord.Store using Redis.
type Store struct {
	client  goredis.UniversalClient
	prefix  string
	session string
	ttl     time.Duration
	beat    time.Duration

	events chan coord.SessionEvent
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	closed  atomic.Bool
	expired atomic.Bool
}

var _ coord.Store = (*Store)(nil)

// New connects, registers a fresh session, and starts the heartbeat.
// Supports single instance or Sentinel via UniversalClient.
func New(opts Options) (*Store, error) {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = defaultPrefix
	}
	if opts.SessionTTL == 0 {
		opts.SessionTTL = defaultSessionTTL
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = opts.SessionTTL / 3
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:      addrs(opts),
		MasterName: opts.SentinelMaster,
		Username:   opts.Username,
		Password:   opts.Password,
		DB:         opts.DB,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	s := &Store{
		client:  client,
		prefix:  opts.KeyPrefix,
		session: sessionID(),
		ttl:     opts.SessionTTL,
		beat:    opts.HeartbeatInterval,
		events:  make(chan coord.SessionEvent, 16),
		stop:    make(chan struct{}),
	}
	if err := client.Set(ctx, s.sessionKey(s.session), "1", s.ttl).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis session register failed: %w", err)
	}
	s.emit(coord.SessionEvent{State: coord.StateConnected})

	s.wg.Add(1)
	go s.heartbeat()
	return s, nil
}

func addrs(opts Options) []string {
	if len(opts.SentinelAddrs) > 0 {
		return opts.SentinelAddrs
	}
	if opts.Addr != "" {
		return []string{opts.Addr}
	}
	return []string{"127.0.0.1:6379"}
}

func sessionID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + "-" + uuid.NewString()
}

// heartbeat renews the session key. Renewal uses SET XX so an expired
// key is never resurrected: once the TTL lapsed the session is dead
// and every ephemeral node it owned is gone with it.
func (s *Store) heartbeat() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.beat)
	defer ticker.Stop()
	healthy := true
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.beat)
			ok, err := s.client.SetXX(ctx, s.sessionKey(s.session), "1", s.ttl).Result()
			cancel()
			switch {
			case err != nil:
				if healthy {
					healthy = false
					s.emit(coord.SessionEvent{State: coord.StateDisconnected, Err: err})
				}
			case !ok:
				s.expired.Store(true)
				s.emit(coord.SessionEvent{State: coord.StateExpired})
				return
			default:
				if !healthy {
					healthy = true
					s.emit(coord.SessionEvent{State: coord.StateConnected})
				}
			}
		}
	}
}

func (s *Store) emit(ev coord.SessionEvent) {
	select {
	case s.events <- ev:
	default:
		// Consumer far behind; dropping beats wedging the heartbeat.
	}
}

func (s *Store) guard() error {
	if s.closed.Load() {
		return coord.ErrClosed
	}
	if s.expired.Load() {
		return coord.ErrSessionExpired
	}
	return nil
}

// createScript creates a node if its parent is live and the path is
// free. A leftover node whose session died is swept and treated as
// free.
//
// KEYS: parent node, node, parent children set.
// ARGV: prefix, data, ephemeral flag, session, child name, path,
// parent-is-root flag.
var createScript = goredis.NewScript(`
local function state(nk)
	local f = redis.call("HMGET", nk, "v", "e", "s")
	if not f[1] then return "none" end
	if f[2] == "1" and redis.call("EXISTS", ARGV[1].."session:"..f[3]) == 0 then
		return "dead"
	end
	return "live"
end

if ARGV[7] == "0" and state(KEYS[1]) ~= "live" then
	return "noparent"
end
local st = state(KEYS[2])
if st == "live" then
	return "exists"
end
if st == "dead" then
	local olds = redis.call("HGET", KEYS[2], "s")
	redis.call("DEL", KEYS[2])
	if olds then
		redis.call("SREM", ARGV[1].."eph:"..olds, ARGV[6])
	end
end
redis.call("HSET", KEYS[2], "d", ARGV[2], "v", "0")
if ARGV[3] == "1" then
	redis.call("HSET", KEYS[2], "e", "1", "s", ARGV[4])
	redis.call("SADD", ARGV[1].."eph:"..ARGV[4], ARGV[6])
end
redis.call("SADD", KEYS[3], ARGV[5])
return "ok"`)

func (s *Store) CreatePersistent(ctx context.Context, path string, data []byte) error {
	return s.create(ctx, path, data, false)
}

func (s *Store) CreateEphemeral(ctx context.Context, path string, data []byte) error {
	return s.create(ctx, path, data, true)
}

func (s *Store) create(ctx context.Context, path string, data []byte, ephemeral bool) error {
	if err := s.guard(); err != nil {
		return err
	}
	parent, name, err := splitLast(path)
	if err != nil {
		return err
	}
	eph, root := "0", "0"
	if ephemeral {
		eph = "1"
	}
	if parent == "/" {
		root = "1"
	}
	res, err := createScript.Run(ctx, s.client,
		[]string{s.nodeKey(parent), s.nodeKey(path), s.kidsKey(parent)},
		s.prefix, string(data), eph, s.session, name, path, root).Result()
	if err != nil {
		return fmt.Errorf("redis create: %w", err)
	}
	switch res {
	case "ok":
		return nil
	case "exists":
		return coord.ErrNodeExists
	case "noparent":
		return coord.ErrNodeMissing
	default:
		return fmt.Errorf("redis create: unexpected result %v", res)
	}
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	live, _, _, _, err := s.inspect(ctx, path)
	return live, err
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, int32, error) {
	if err := s.guard(); err != nil {
		return nil, 0, err
	}
	live, data, version, _, err := s.inspect(ctx, path)
	if err != nil {
		return nil, 0, err
	}
	if !live {
		return nil, 0, coord.ErrNodeMissing
	}
	return data, version, nil
}

// inspect reads a node and decides liveness, sweeping it if its
// session died. The sweep is best effort; the scripts make the same
// decision atomically when it matters.
func (s *Store) inspect(ctx context.Context, path string) (live bool, data []byte, version int32, session string, err error) {
	f, err := s.client.HMGet(ctx, s.nodeKey(path), "d", "v", "e", "s").Result()
	if err != nil {
		return false, nil, 0, "", fmt.Errorf("redis get: %w", err)
	}
	if f[1] == nil {
		return false, nil, 0, "", nil
	}
	v, err := strconv.ParseInt(str(f[1]), 10, 32)
	if err != nil {
		return false, nil, 0, "", fmt.Errorf("redis get: bad version: %w", err)
	}
	if str(f[2]) == "1" {
		session = str(f[3])
		alive, err := s.client.Exists(ctx, s.sessionKey(session)).Result()
		if err != nil {
			return false, nil, 0, "", fmt.Errorf("redis get: %w", err)
		}
		if alive == 0 {
			s.sweep(ctx, path, session)
			return false, nil, 0, session, nil
		}
	}
	return true, []byte(str(f[0])), int32(v), session, nil
}

// sweep removes a dead ephemeral node outside the scripts.
func (s *Store) sweep(ctx context.Context, path, session string) {
	parent, name, err := splitLast(path)
	if err != nil {
		return
	}
	_, _ = s.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, s.nodeKey(path), s.kidsKey(path))
		p.SRem(ctx, s.kidsKey(parent), name)
		p.SRem(ctx, s.ephKey(session), path)
		return nil
	})
}

func (s *Store) Children(ctx context.Context, path string) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	live, _, _, _, err := s.inspect(ctx, path)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, coord.ErrNodeMissing
	}
	members, err := s.client.SMembers(ctx, s.kidsKey(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis children: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	metaCmds := make([]*goredis.SliceCmd, 0, len(members))
	for _, name := range members {
		metaCmds = append(metaCmds, pipe.HMGet(ctx, s.nodeKey(path+"/"+name), "v", "e", "s"))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("redis children: %w", err)
	}

	// Ephemeral children need their sessions checked in a second
	// round.
	sessions := map[string]bool{}
	for _, cmd := range metaCmds {
		f := cmd.Val()
		if f[0] != nil && str(f[1]) == "1" {
			sessions[str(f[2])] = false
		}
	}
	if len(sessions) > 0 {
		ids := make([]string, 0, len(sessions))
		pipe = s.client.Pipeline()
		aliveCmds := make([]*goredis.IntCmd, 0, len(sessions))
		for id := range sessions {
			ids = append(ids, id)
			aliveCmds = append(aliveCmds, pipe.Exists(ctx, s.sessionKey(id)))
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("redis children: %w", err)
		}
		for i, cmd := range aliveCmds {
			sessions[ids[i]] = cmd.Val() > 0
		}
	}

	var kids []string
	for i, cmd := range metaCmds {
		f := cmd.Val()
		switch {
		case f[0] == nil:
			// Stale set entry with no node behind it.
			_ = s.client.SRem(ctx, s.kidsKey(path), members[i]).Err()
		case str(f[1]) == "1" && !sessions[str(f[2])]:
			s.sweep(ctx, path+"/"+members[i], str(f[2]))
		default:
			kids = append(kids, members[i])
		}
	}
	sort.Strings(kids)
	return kids, nil
}

// setScript writes data at an expected version.
//
// KEYS: node. ARGV: prefix, data, expected version (-1 for any).
var setScript = goredis.NewScript(`
local f = redis.call("HMGET", KEYS[1], "v", "e", "s")
if not f[1] then return "missing" end
if f[2] == "1" and redis.call("EXISTS", ARGV[1].."session:"..f[3]) == 0 then
	return "missing"
end
if ARGV[3] ~= "-1" and f[1] ~= ARGV[3] then
	return "conflict"
end
local nv = redis.call("HINCRBY", KEYS[1], "v", 1)
redis.call("HSET", KEYS[1], "d", ARGV[2])
return nv`)

func (s *Store) Set(ctx context.Context, path string, data []byte, version int32) (int32, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	res, err := setScript.Run(ctx, s.client, []string{s.nodeKey(path)},
		s.prefix, string(data), int(version)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis set: %w", err)
	}
	switch v := res.(type) {
	case int64:
		return int32(v), nil
	case string:
		switch v {
		case "missing":
			return 0, coord.ErrNodeMissing
		case "conflict":
			return 0, coord.ErrVersionMismatch
		}
	}
	return 0, fmt.Errorf("redis set: unexpected result %v", res)
}

// deleteScript deletes a childless node at an expected version. Dead
// ephemeral children do not count as children; they are swept on the
// way.
//
// KEYS: node, node children set, parent children set.
// ARGV: prefix, expected version (-1 for any), child name, path.
var deleteScript = goredis.NewScript(`
local f = redis.call("HMGET", KEYS[1], "v", "e", "s")
if not f[1] then return "missing" end
if f[2] == "1" and redis.call("EXISTS", ARGV[1].."session:"..f[3]) == 0 then
	redis.call("DEL", KEYS[1])
	redis.call("SREM", KEYS[3], ARGV[3])
	redis.call("SREM", ARGV[1].."eph:"..f[3], ARGV[4])
	return "missing"
end
local kids = redis.call("SMEMBERS", KEYS[2])
for i = 1, #kids do
	local ck = ARGV[1].."node:"..ARGV[4].."/"..kids[i]
	local cf = redis.call("HMGET", ck, "v", "e", "s")
	if not cf[1] then
		redis.call("SREM", KEYS[2], kids[i])
	elseif cf[2] == "1" and redis.call("EXISTS", ARGV[1].."session:"..cf[3]) == 0 then
		redis.call("DEL", ck)
		redis.call("SREM", KEYS[2], kids[i])
		redis.call("SREM", ARGV[1].."eph:"..cf[3], ARGV[4].."/"..kids[i])
	else
		return "notempty"
	end
end
if ARGV[2] ~= "-1" and f[1] ~= ARGV[2] then
	return "conflict"
end
redis.call("DEL", KEYS[1])
redis.call("DEL", KEYS[2])
redis.call("SREM", KEYS[3], ARGV[3])
if f[2] == "1" then
	redis.call("SREM", ARGV[1].."eph:"..f[3], ARGV[4])
end
return "ok"`)

func (s *Store) Delete(ctx context.Context, path string, version int32) error {
	if err := s.guard(); err != nil {
		return err
	}
	parent, name, err := splitLast(path)
	if err != nil {
		return err
	}
	res, err := deleteScript.Run(ctx, s.client,
		[]string{s.nodeKey(path), s.kidsKey(path), s.kidsKey(parent)},
		s.prefix, int(version), name, path).Result()
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	switch res {
	case "ok":
		return nil
	case "missing":
		return coord.ErrNodeMissing
	case "notempty":
		return coord.ErrNotEmpty
	case "conflict":
		return coord.ErrVersionMismatch
	default:
		return fmt.Errorf("redis delete: unexpected result %v", res)
	}
}

func (s *Store) Events() <-chan coord.SessionEvent {
	return s.events
}

// Close stops the heartbeat, removes this session's ephemeral nodes,
// and releases the client.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), s.ttl)
		defer cancel()
		paths, merr := s.client.SMembers(ctx, s.ephKey(s.session)).Result()
		if merr == nil {
			_, _ = s.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
				for _, path := range paths {
					parent, name, serr := splitLast(path)
					if serr != nil {
						continue
					}
					p.Del(ctx, s.nodeKey(path), s.kidsKey(path))
					p.SRem(ctx, s.kidsKey(parent), name)
				}
				p.Del(ctx, s.ephKey(s.session), s.sessionKey(s.session))
				return nil
			})
		}

		s.emit(coord.SessionEvent{State: coord.StateClosed})
		close(s.events)
		err = s.client.Close()
	})
	return err
}

func str(v interface{}) string {
	if v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// splitLast splits /a/b/c into /a/b and c.
func splitLast(path string) (parent, name string, err error) {
	if !strings.HasPrefix(path, "/") || path == "/" {
		return "", "", fmt.Errorf("redis: bad path %q", path)
	}
	idx := strings.LastIndex(path, "/")
	name = path[idx+1:]
	if name == "" {
		return "", "", fmt.Errorf("redis: bad path %q", path)
	}
	if idx == 0 {
		return "/", name, nil
	}
	return path[:idx], name, nil
}

func (s *Store) nodeKey(path string) string {
	return s.prefix + "node:" + path
}

func (s *Store) kidsKey(path string) string {
	return s.prefix + "kids:" + path
}

func (s *Store) sessionKey(id string) string {
	return s.prefix + "session:" + id
}

func (s *Store) ephKey(id string) string {
	return s.prefix + "eph:" + id
}
