package mrp

import (
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/bcongdon/mrp/internal/pkg/mrpcodec"
)

// Compiler turns job descriptions into executable plans.
type Compiler struct {
	materializer *Materializer
}

// NewCompiler returns a Compiler that materializes inline operators with m.
func NewCompiler(m *Materializer) *Compiler {
	return &Compiler{materializer: m}
}

// declaredOperator is the pre-materialization identity of a stage's
// operator. It depends only on the description, never on where units are
// stored.
func declaredOperator(operator string, generated *GeneratedOperator) string {
	if generated != nil {
		return fmt.Sprintf("generated:%s@%s", generated.Entrypoint, mrpcodec.DigestBytes([]byte(generated.SourceText)))
	}
	return operator
}

// deriveSeed hashes the job identity, the shards in their original order and
// the declared operators.
func deriveSeed(job *JobDescription) (string, error) {
	shards := job.Map.Shards
	if shards == nil {
		shards = []Document{}
	}
	return mrpcodec.Digest(map[string]interface{}{
		"dsl_version": job.Version,
		"job_id":      job.JobID,
		"map_shards":  shards,
		"operators": map[string]string{
			"map":     declaredOperator(job.Map.Operator, job.Map.Generated),
			"reduce":  declaredOperator(job.Reduce.Operator, job.Reduce.Generated),
			"produce": declaredOperator(job.Produce.Operator, job.Produce.Generated),
		},
	})
}

type keyedShard struct {
	digest string
	params Document
}

// orderShards sorts copies of the shards ascending by content digest.
func orderShards(shards []Document) ([]Document, error) {
	keyed := make([]keyedShard, len(shards))
	for i, shard := range shards {
		digest, err := mrpcodec.Digest(shard)
		if err != nil {
			return nil, fmt.Errorf("shard %d: %w", i, err)
		}
		var params Document
		if err := mrpcodec.Copy(shard, &params); err != nil {
			return nil, fmt.Errorf("shard %d: %w", i, err)
		}
		keyed[i] = keyedShard{digest: digest, params: params}
	}

	sort.SliceStable(keyed, func(i, j int) bool {
		return keyed[i].digest < keyed[j].digest
	})

	ordered := make([]Document, len(keyed))
	for i, k := range keyed {
		ordered[i] = k.params
	}
	return ordered, nil
}

func copyConfig(config Document) (Document, error) {
	if config == nil {
		return Document{}, nil
	}
	var out Document
	err := mrpcodec.Copy(config, &out)
	return out, err
}

// Compile validates job and builds its plan, manifest and policy report.
// No plan is returned on error.
func (c *Compiler) Compile(description *JobDescription) (*Plan, *Manifest, *PolicyReport, error) {
	job := *description
	if job.Version == "" {
		job.Version = DefaultVersion
	}
	if err := job.Validate(); err != nil {
		return nil, nil, nil, err
	}

	seed, err := deriveSeed(&job)
	if err != nil {
		return nil, nil, nil, &ValidationError{Op: "compile", Err: err}
	}

	shards, err := orderShards(job.Map.Shards)
	if err != nil {
		return nil, nil, nil, &ValidationError{Op: "compile", Err: err}
	}

	mapRef, err := c.materializer.Materialize("map", job.Map.Generated, job.Map.Operator)
	if err != nil {
		return nil, nil, nil, err
	}
	reduceRef, err := c.materializer.Materialize("reduce", job.Reduce.Generated, job.Reduce.Operator)
	if err != nil {
		return nil, nil, nil, err
	}
	produceRef, err := c.materializer.Materialize("produce", job.Produce.Generated, job.Produce.Operator)
	if err != nil {
		return nil, nil, nil, err
	}

	reduceConfig, err := copyConfig(job.Reduce.Config)
	if err != nil {
		return nil, nil, nil, &ValidationError{Op: "compile", Err: err}
	}
	produceConfig, err := copyConfig(job.Produce.Config)
	if err != nil {
		return nil, nil, nil, &ValidationError{Op: "compile", Err: err}
	}

	maps := make([]MapTask, len(shards))
	for shardID, params := range shards {
		maps[shardID] = MapTask{
			ShardID:  shardID,
			Operator: mapRef,
			Params:   params,
		}
	}

	manifest := Manifest{
		JobID: job.JobID,
		Seed:  seed,
		Operators: Operators{
			Map:     mapRef,
			Reduce:  reduceRef,
			Produce: produceRef,
		},
	}
	plan := &Plan{
		Maps:     maps,
		Reduce:   ReduceTask{Operator: reduceRef, Config: reduceConfig},
		Produce:  ProduceTask{Operator: produceRef, Config: produceConfig},
		Manifest: manifest,
	}
	policy := &PolicyReport{
		EgressAllowed: false,
		Status:        "ok",
	}

	log.Debugf("Compiled job %s: %d map tasks, seed %s", job.JobID, len(maps), seed)
	return plan, &manifest, policy, nil
}
