package mrp

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bcongdon/mrp/internal/pkg/mrpsandbox"
	"github.com/bcongdon/mrp/internal/pkg/mrpscript"
)

// sandboxExecutor ships each map task to a fresh remote sandbox. Tasks are
// dispatched one at a time; reduce and produce stay local.
// TODO: dispatch map tasks to several sandboxes concurrently, bounded by
// max_workers.
type sandboxExecutor struct {
	resolver    *Resolver
	runtime     mrpscript.Runtime
	apiKey      string
	newProvider func(apiKey string) mrpsandbox.Provider
	metrics     *metrics
}

func (s *sandboxExecutor) Name() string {
	return string(SandboxBackend)
}

func (s *sandboxExecutor) RunMaps(ctx context.Context, operator, seed string, tasks []MapTask) ([]Document, error) {
	if s.apiKey == "" {
		return nil, &ConfigurationError{
			Op:  s.Name(),
			Err: errors.New("sandbox API key is not set; export DAYTONA_API_KEY or MRP_SANDBOX_API_KEY"),
		}
	}

	source, err := s.resolver.Source(operator)
	if err != nil {
		return nil, err
	}

	provider := s.newProvider(s.apiKey)
	results := make([]Document, 0, len(tasks))
	for _, task := range tasks {
		inv := mrpscript.Invocation{
			Source:     source.Text,
			Entrypoint: source.Entrypoint,
			Payload:    task.Params,
			Seed:       seed,
		}

		start := time.Now()
		result, err := runScript(ctx, "map "+operator, provider, s.runtime, inv)
		s.metrics.observeMapTask(s.Name(), start, err)
		if err != nil {
			return nil, err
		}

		result, err = stampShardID(task.ShardID, result)
		if err != nil {
			return nil, err
		}
		log.Debugf("Remote map shard %d finished in %s", task.ShardID, time.Since(start))
		results = append(results, result)
	}
	return results, nil
}
