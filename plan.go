package mrp

// MapTask is one shard of map work. ShardID is the shard's position in the
// content-digest ordering of all shards.
type MapTask struct {
	ShardID  int      `json:"shard_id"`
	Operator string   `json:"operator"`
	Params   Document `json:"params"`
}

// ReduceTask is the single reduce barrier.
type ReduceTask struct {
	Operator string   `json:"operator"`
	Config   Document `json:"config"`
}

// ProduceTask is the single produce barrier.
type ProduceTask struct {
	Operator string   `json:"operator"`
	Config   Document `json:"config"`
}

// Operators holds the resolved references of each stage.
type Operators struct {
	Map     string `json:"map"`
	Reduce  string `json:"reduce"`
	Produce string `json:"produce"`
}

// Manifest records job identity, the run seed and the resolved operators.
type Manifest struct {
	JobID     string    `json:"job_id"`
	Seed      string    `json:"seed"`
	Operators Operators `json:"operators"`
}

// Caps are resource limits. They are reported, not enforced: nil means no
// limit was requested.
type Caps struct {
	Workers *int `json:"workers"`
	TimeS   *int `json:"time_s"`
	MemMB   *int `json:"mem_mb"`
}

// PolicyReport describes the execution policy of a compiled plan.
type PolicyReport struct {
	EgressAllowed bool   `json:"egress_allowed"`
	Caps          Caps   `json:"caps"`
	Status        string `json:"status"`
}

// Plan is the compiled, immutable form of a job. Executors never modify a
// Plan; map tasks receive copies of their params.
type Plan struct {
	Maps     []MapTask   `json:"maps"`
	Reduce   ReduceTask  `json:"reduce"`
	Produce  ProduceTask `json:"produce"`
	Manifest Manifest    `json:"manifest"`
}
