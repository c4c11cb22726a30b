package mrp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bcongdon/mrp/internal/pkg/mrpcodec"
)

// ShardIDKey is the reserved document key carrying a shard id. It is set on
// every map task's params and must be echoed (or left unset) by results.
const ShardIDKey = "_shard_id"

const outputTimeFormat = "20060102_150405"

// produceMu serializes produce invocations within the process.
var produceMu sync.Mutex

// RunRecord is the complete captured output of one execution.
type RunRecord struct {
	Backend        string     `json:"backend"`
	OutputLocation string     `json:"output_location"`
	Maps           []Document `json:"maps"`
	Reduce         Document   `json:"reduce"`
	Produce        Document   `json:"produce"`
}

// RunResult is a persisted run record and the digest it is stored under.
type RunResult struct {
	RunDigest string
	Record    *RunRecord
}

// shardID extracts the shard id of a document, whatever numeric type the
// decoder produced for it.
func shardID(doc Document) (int, bool, error) {
	raw, ok := doc[ShardIDKey]
	if !ok {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case int:
		return v, true, nil
	case int64:
		return int(v), true, nil
	case float64:
		if v == float64(int(v)) {
			return int(v), true, nil
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true, nil
		}
	}
	return 0, true, fmt.Errorf("%s %v is not an integer", ShardIDKey, raw)
}

// stampShardID makes sure result names the shard it was computed for.
func stampShardID(id int, result Document) (Document, error) {
	if result == nil {
		result = Document{}
	}
	got, present, err := shardID(result)
	if err != nil {
		return nil, fmt.Errorf("map shard %d: %w", id, err)
	}
	if !present {
		result[ShardIDKey] = id
		return result, nil
	}
	if got != id {
		return nil, fmt.Errorf("map shard %d: result reports %s %d", id, ShardIDKey, got)
	}
	return result, nil
}

// dispatchTasks copies the plan's map tasks so no executor can reach the
// plan's own params, tagging each copy with its shard id.
func dispatchTasks(plan *Plan) ([]MapTask, error) {
	tasks := make([]MapTask, len(plan.Maps))
	for i, task := range plan.Maps {
		var params Document
		if err := mrpcodec.Copy(task.Params, &params); err != nil {
			return nil, fmt.Errorf("map shard %d: %w", task.ShardID, err)
		}
		if params == nil {
			params = Document{}
		}
		params[ShardIDKey] = task.ShardID
		tasks[i] = MapTask{ShardID: task.ShardID, Operator: task.Operator, Params: params}
	}
	return tasks, nil
}

// sortResults orders map results ascending by embedded shard id.
func sortResults(results []Document) []Document {
	sorted := append([]Document(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, _, _ := shardID(sorted[i])
		b, _, _ := shardID(sorted[j])
		return a < b
	})
	return sorted
}

// outputLocation returns the directory used by the produce stage of a run
// of jobID started at start.
func outputLocation(root, jobID string, start time.Time) string {
	return filepath.Join(root, jobID, start.UTC().Format(outputTimeFormat))
}

// finish runs the reduce and produce barriers over the collected map
// results and assembles the run record.
func (d *Driver) finish(ctx context.Context, plan *Plan, backend string, start time.Time, results []Document) (*RunRecord, error) {
	seed := plan.Manifest.Seed
	sorted := sortResults(results)

	reducer, err := d.resolver.Reducer(plan.Reduce.Operator)
	if err != nil {
		return nil, err
	}
	log.Debugf("Reducing %d map results", len(sorted))
	reduceOut, err := reducer.Reduce(ctx, sorted, seed)
	if err != nil {
		return nil, fmt.Errorf("reduce: %w", err)
	}

	producer, err := d.resolver.Producer(plan.Produce.Operator)
	if err != nil {
		return nil, err
	}

	outDir := outputLocation(d.config.OutputLocation, plan.Manifest.JobID, start)
	produceOut, err := d.produce(ctx, producer, reduceOut, seed, outDir)
	if err != nil {
		return nil, err
	}

	return &RunRecord{
		Backend:        backend,
		OutputLocation: outDir,
		Maps:           sorted,
		Reduce:         reduceOut,
		Produce:        produceOut,
	}, nil
}

// produce gives producer exclusive use of outDir for the duration of the
// call.
func (d *Driver) produce(ctx context.Context, producer Producer, result Document, seed, outDir string) (Document, error) {
	produceMu.Lock()
	defer produceMu.Unlock()

	if _, err := os.Stat(outDir); err == nil {
		// Same job started within the same second (or under a pinned clock)
		log.Warnf("Output location %s already exists; reusing it", outDir)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("produce: creating output location: %w", err)
	}
	log.Debugf("Producing into %s", outDir)

	out, err := producer.Produce(ctx, result, seed, outDir)
	if err != nil {
		return nil, fmt.Errorf("produce: %w", err)
	}
	return out, nil
}
