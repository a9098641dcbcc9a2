// Command ccheck implements a consistency checker for a cluster driven
// through the clusterc connection manager, in the spirit of the client
// described in http://redis.io/topics/cluster-tutorial. It hammers the
// cluster with INCR commands from concurrent workers and reports
// whether any acknowledged write was lost, which exercises the
// connection manager against real failover and resharding situations.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arvoia/clusterc"
)

const (
	workingSet = 1000
	keySpace   = 10000
)

var (
	addrFlag    string
	workersFlag int
	opsFlag     int
	delayFlag   time.Duration

	connTimeoutFlag  time.Duration
	readTimeoutFlag  time.Duration
	writeTimeoutFlag time.Duration
	maxIdleFlag      int
	maxActiveFlag    int
	idleTimeoutFlag  time.Duration

	verboseFlag bool
)

func main() {
	cmd := &cobra.Command{
		Use:           "ccheck",
		Short:         "Consistency checker for a sharded key-value cluster",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	flags := cmd.Flags()
	flags.StringVarP(&addrFlag, "addr", "a", "localhost:7000", "Seed node address.")
	flags.IntVarP(&workersFlag, "workers", "n", 4, "Number of concurrent workers.")
	flags.IntVarP(&opsFlag, "ops", "o", 10000, "Number of INCR calls per worker.")
	flags.DurationVarP(&delayFlag, "delay", "d", 0, "Delay between INCR calls.")
	flags.DurationVarP(&connTimeoutFlag, "conn-timeout", "c", time.Second, "Connection timeout.")
	flags.DurationVarP(&readTimeoutFlag, "read-timeout", "r", 100*time.Millisecond, "Read timeout.")
	flags.DurationVarP(&writeTimeoutFlag, "write-timeout", "w", 100*time.Millisecond, "Write timeout.")
	flags.IntVar(&maxIdleFlag, "max-idle", 10, "Maximum idle connections per pool.")
	flags.IntVar(&maxActiveFlag, "max-active", 100, "Maximum active connections per pool.")
	flags.DurationVarP(&idleTimeoutFlag, "idle-timeout", "i", 30*time.Second, "Pooled connection idle timeout.")
	flags.BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging.")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type checker struct {
	conn   *clusterc.Connection
	logger *zap.Logger

	mu           sync.Mutex
	acked        map[string]int64 // acknowledged INCR count per key
	writes       int
	failedWrites int
	noAckWrites  int
}

func run(cmd *cobra.Command, args []string) error {
	cfg := zap.NewDevelopmentConfig()
	if !verboseFlag {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	defer logger.Sync()

	clientName := "ccheck-" + uuid.NewString()
	dialOpts := []redis.DialOption{
		redis.DialConnectTimeout(connTimeoutFlag),
		redis.DialReadTimeout(readTimeoutFlag),
		redis.DialWriteTimeout(writeTimeoutFlag),
		redis.DialClientName(clientName),
	}

	conn := clusterc.New(clusterc.Options{
		StartupNodes: []string{addrFlag},
		DialOptions:  dialOpts,
		CreatePool: func(addr string, opts ...redis.DialOption) (*redis.Pool, error) {
			return &redis.Pool{
				MaxIdle:     maxIdleFlag,
				MaxActive:   maxActiveFlag,
				IdleTimeout: idleTimeoutFlag,
				Dial: func() (redis.Conn, error) {
					return redis.Dial("tcp", addr, opts...)
				},
			}, nil
		},
		Logger: logger,
	})

	ck := &checker{
		conn:   conn,
		logger: logger,
		acked:  make(map[string]int64),
	}

	logger.Info("starting workload",
		zap.String("addr", addrFlag),
		zap.String("client", clientName),
		zap.Int("workers", workersFlag),
		zap.Int("ops", opsFlag))

	start := time.Now()
	var g errgroup.Group
	for i := 0; i < workersFlag; i++ {
		g.Go(func() error {
			ck.work(opsFlag)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("workload done", zap.Duration("elapsed", time.Since(start)))

	lost := ck.verify()

	ck.mu.Lock()
	logger.Info("results",
		zap.Int("writes", ck.writes),
		zap.Int("failed_writes", ck.failedWrites),
		zap.Int("no_ack_writes", ck.noAckWrites),
		zap.Int("lost_writes", lost))
	ck.mu.Unlock()

	done := make(chan error, 1)
	conn.Disconnect(func(err error) { done <- err })
	if err := <-done; err != nil {
		return err
	}

	if lost > 0 {
		return fmt.Errorf("ccheck: %d acknowledged write(s) lost", lost)
	}
	return nil
}

// work runs n INCR calls against keys from a bounded working set,
// recording every acknowledged increment.
func (ck *checker) work(n int) {
	base := rand.Intn(keySpace - workingSet)
	for i := 0; i < n; i++ {
		key := "ccheck-" + strconv.Itoa(base+rand.Intn(workingSet))

		reply, err := ck.do(key, "INCR")
		ck.mu.Lock()
		ck.writes++
		switch {
		case err != nil:
			ck.failedWrites++
		case reply == nil:
			ck.noAckWrites++
		default:
			ck.acked[key]++
		}
		ck.mu.Unlock()

		if err != nil {
			ck.logger.Debug("write failed", zap.String("key", key), zap.Error(err))
		}
		if delayFlag > 0 {
			time.Sleep(delayFlag)
		}
	}
}

// verify reads every touched key back and counts keys whose value is
// below the acknowledged increment count: those are lost writes.
func (ck *checker) verify() int {
	ck.mu.Lock()
	keys := make(map[string]int64, len(ck.acked))
	for k, v := range ck.acked {
		keys[k] = v
	}
	ck.mu.Unlock()

	var lost int
	for key, want := range keys {
		reply, err := ck.do(key, "GET")
		if err != nil {
			ck.logger.Warn("verification read failed", zap.String("key", key), zap.Error(err))
			continue
		}
		have, err := redis.Int64(reply, nil)
		if err != nil || have < want {
			ck.logger.Warn("lost writes on key",
				zap.String("key", key), zap.Int64("acked", want), zap.Int64("have", have))
			lost++
		}
	}
	return lost
}

// do submits a command through the connection manager and waits for
// its completion.
func (ck *checker) do(key, name string, args ...interface{}) (interface{}, error) {
	type result struct {
		reply interface{}
		err   error
	}
	ch := make(chan result, 1)
	ck.conn.Send(&clusterc.ClusterCommand{
		Slot: clusterc.SlotForKey(key),
		Cmd:  clusterc.NewCommand(name, append([]interface{}{key}, args...)...),
		Reply: func(reply interface{}, err error) {
			ch <- result{reply: reply, err: err}
		},
	})
	r := <-ch
	return r.reply, r.err
}
