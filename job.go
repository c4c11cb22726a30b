package mrp

import (
	"errors"
	"fmt"
	"io/ioutil"
	"strings"

	multierror "github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/bcongdon/mrp/internal/pkg/mrpscript"
)

// DefaultVersion is the job description version assumed when none is given.
const DefaultVersion = "v0"

// GeneratedOperator is inline operator source plus the name of the class or
// function within it that implements the stage.
type GeneratedOperator struct {
	SourceText string `json:"source_text" yaml:"source_text"`
	Entrypoint string `json:"entrypoint" yaml:"entrypoint"`
}

// MapSpec declares the map stage and its shards.
type MapSpec struct {
	Operator  string             `json:"operator,omitempty" yaml:"operator,omitempty"`
	Generated *GeneratedOperator `json:"generated,omitempty" yaml:"generated,omitempty"`
	Shards    []Document         `json:"shards" yaml:"shards"`
}

// StageSpec declares the reduce or produce stage.
type StageSpec struct {
	Operator  string             `json:"operator,omitempty" yaml:"operator,omitempty"`
	Generated *GeneratedOperator `json:"generated,omitempty" yaml:"generated,omitempty"`
	Config    Document           `json:"config,omitempty" yaml:"config,omitempty"`
}

// JobDescription is the declarative input to the compiler.
type JobDescription struct {
	Version string    `json:"version" yaml:"version"`
	JobID   string    `json:"job_id" yaml:"job_id"`
	Map     MapSpec   `json:"map" yaml:"map"`
	Reduce  StageSpec `json:"reduce" yaml:"reduce"`
	Produce StageSpec `json:"produce" yaml:"produce"`
}

// LoadJob reads a job description from a YAML or JSON file.
func LoadJob(path string) (*JobDescription, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	job, err := ParseJob(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return job, nil
}

// ParseJob parses a YAML (or JSON) job description and validates it.
func ParseJob(data []byte) (*JobDescription, error) {
	var job JobDescription
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, &ValidationError{Op: "parse", Err: err}
	}
	if job.Version == "" {
		job.Version = DefaultVersion
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

func validateSource(stage, operator string, generated *GeneratedOperator) error {
	switch {
	case operator != "" && generated != nil:
		return fmt.Errorf("%s: both operator and generated source are declared", stage)
	case operator == "" && generated == nil:
		return fmt.Errorf("%s: no operator or generated source is declared", stage)
	case generated != nil:
		var result *multierror.Error
		if generated.SourceText == "" {
			result = multierror.Append(result, fmt.Errorf("%s: generated source is empty", stage))
		}
		if !mrpscript.ValidEntrypoint(generated.Entrypoint) {
			result = multierror.Append(result, fmt.Errorf("%s: generated entrypoint %q is not an identifier", stage, generated.Entrypoint))
		}
		return result.ErrorOrNil()
	default:
		if _, _, err := ParseRef(operator); err != nil {
			return fmt.Errorf("%s: %w", stage, err)
		}
		return nil
	}
}

// Validate reports every problem with the description at once.
func (j *JobDescription) Validate() error {
	var result *multierror.Error
	switch {
	case j.JobID == "":
		result = multierror.Append(result, errors.New("job_id is required"))
	case j.JobID == "." || j.JobID == ".." || strings.ContainsAny(j.JobID, `/\`):
		// job_id names a directory under the output location
		result = multierror.Append(result, fmt.Errorf("job_id %q must be a single path element", j.JobID))
	}
	result = multierror.Append(result,
		validateSource("map", j.Map.Operator, j.Map.Generated),
		validateSource("reduce", j.Reduce.Operator, j.Reduce.Generated),
		validateSource("produce", j.Produce.Operator, j.Produce.Generated),
	)
	for i, shard := range j.Map.Shards {
		if shard == nil {
			result = multierror.Append(result, fmt.Errorf("map: shard %d is not an object", i))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return &ValidationError{Op: "validate", Err: err}
	}
	return nil
}
