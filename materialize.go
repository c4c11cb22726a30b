package mrp

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	humanize "github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"github.com/bcongdon/mrp/internal/pkg/mrpcodec"
	"github.com/bcongdon/mrp/internal/pkg/mrpfs"
	"github.com/bcongdon/mrp/internal/pkg/mrpscript"
)

const (
	unitPackage = "ops_pkg"
	unitPrefix  = "gen_"
)

// Materializer persists inline operator source as content-addressed units.
// Units are shared by every job whose source hashes identically and are
// never rewritten once created.
type Materializer struct {
	fs      mrpfs.FileSystem
	root    string
	runtime mrpscript.Runtime

	mu sync.Mutex
}

// NewMaterializer creates a Materializer writing units under root.
func NewMaterializer(fs mrpfs.FileSystem, root string, runtime mrpscript.Runtime) *Materializer {
	return &Materializer{
		fs:      fs,
		root:    root,
		runtime: runtime,
	}
}

func isGeneratedRef(ref string) bool {
	return strings.HasPrefix(ref, unitPackage+"."+unitPrefix)
}

func (m *Materializer) unitPath(unit string) (string, error) {
	name := strings.TrimPrefix(unit, unitPackage+".")
	if name == unit || !strings.HasPrefix(name, unitPrefix) || strings.ContainsAny(name, "/\\.") {
		return "", fmt.Errorf("%q is not a materialized unit", unit)
	}
	return m.fs.Join(m.root, name+"."+m.runtime.Extension()), nil
}

// Materialize returns the reference for a stage: inline source is written
// to its unit (once) and referenced by digest, otherwise fallback is
// returned unchanged.
func (m *Materializer) Materialize(stage string, generated *GeneratedOperator, fallback string) (string, error) {
	if generated == nil {
		if fallback == "" {
			return "", &ValidationError{
				Op:  "materialize",
				Err: fmt.Errorf("%s: no operator or generated source is declared", stage),
			}
		}
		return fallback, nil
	}
	if !mrpscript.ValidEntrypoint(generated.Entrypoint) {
		return "", &ValidationError{
			Op:  "materialize",
			Err: fmt.Errorf("%s: generated entrypoint %q is not an identifier", stage, generated.Entrypoint),
		}
	}

	source := []byte(generated.SourceText)
	unit := unitPackage + "." + unitPrefix + mrpcodec.DigestBytes(source)
	path, err := m.unitPath(unit)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	exists, err := mrpfs.Exists(m.fs, path)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := mrpfs.WriteFile(m.fs, path, source); err != nil {
			return "", fmt.Errorf("materializing %s operator: %w", stage, err)
		}
		log.Debugf("Materialized %s operator %s (%s)", stage, unit, humanize.Bytes(uint64(len(source))))
	}

	return unit + ":" + generated.Entrypoint, nil
}

// Source reads the source text of a materialized unit.
func (m *Materializer) Source(unit string) ([]byte, error) {
	path, err := m.unitPath(unit)
	if err != nil {
		return nil, err
	}
	source, err := mrpfs.ReadFile(m.fs, path)
	if errors.Is(err, mrpfs.ErrNotExist) {
		return nil, fmt.Errorf("unit %s has not been materialized", unit)
	}
	return source, err
}
