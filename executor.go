package mrp

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	pb "gopkg.in/cheggaaa/pb.v1"
)

// Backend names an execution backend.
type Backend string

// Supported backends.
const (
	LocalBackend   Backend = "local"
	SandboxBackend Backend = "cloud_sandbox"
)

// executor runs the map stage of a plan. tasks are private copies of the
// plan's map tasks; results come back in any order, each carrying its
// shard id.
type executor interface {
	Name() string
	RunMaps(ctx context.Context, operator, seed string, tasks []MapTask) ([]Document, error)
}

func newProgressBar(total int, prefix string, enabled bool) *pb.ProgressBar {
	bar := pb.New(total).Prefix(prefix)
	bar.Output = os.Stderr
	if !enabled {
		bar.Output = ioutil.Discard
		bar.ManualUpdate = true
	}
	return bar.Start()
}

// localExecutor runs map tasks on a pool of goroutines in this process.
type localExecutor struct {
	resolver   *Resolver
	maxWorkers int
	progress   bool
	metrics    *metrics
}

func (l *localExecutor) Name() string {
	return string(LocalBackend)
}

func (l *localExecutor) RunMaps(ctx context.Context, operator, seed string, tasks []MapTask) ([]Document, error) {
	agent, err := l.resolver.Agent(operator)
	if err != nil {
		return nil, err
	}

	bar := newProgressBar(len(tasks), "Map", l.progress)
	defer bar.Finish()

	group, groupCtx := errgroup.WithContext(ctx)
	if l.maxWorkers > 0 {
		group.SetLimit(l.maxWorkers)
	}

	collected := make(chan Document, len(tasks))
	for _, task := range tasks {
		task := task
		group.Go(func() error {
			defer bar.Increment()
			// Skip remaining work once any task has failed
			if err := groupCtx.Err(); err != nil {
				return err
			}

			start := time.Now()
			result, err := agent.Run(groupCtx, task.Params, seed)
			l.metrics.observeMapTask(l.Name(), start, err)
			if err != nil {
				return fmt.Errorf("map shard %d: %w", task.ShardID, err)
			}

			result, err = stampShardID(task.ShardID, result)
			if err != nil {
				return err
			}
			log.Debugf("Map shard %d finished in %s", task.ShardID, time.Since(start))
			collected <- result
			return nil
		})
	}

	err = group.Wait()
	close(collected)
	if err != nil {
		return nil, err
	}

	results := make([]Document, 0, len(tasks))
	for result := range collected {
		results = append(results, result)
	}
	return results, nil
}
