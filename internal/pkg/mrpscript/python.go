package mrpscript

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bcongdon/mrp/internal/pkg/mrpcodec"
)

// Python wraps operator source defining a class whose run(payload, seed)
// method returns a dict.
type Python struct {
	// Command overrides the interpreter, python3 by default.
	Command []string
}

func (p Python) Name() string {
	return "python"
}

func (p Python) Extension() string {
	return "py"
}

func (p Python) Interpreter() []string {
	if len(p.Command) > 0 {
		return p.Command
	}
	return []string{"python3"}
}

const pythonTemplate = `import json
# --- embedded operator source start ---
%s
# --- embedded operator source end ---
payload = json.loads(%s)
seed = %s
out = %s().run(payload, seed)
print(json.dumps(out, sort_keys=True))
`

// Wrap embeds the canonical payload and the seed as quoted string literals.
// strconv.Quote output is also a valid Python literal for UTF-8 text.
func (p Python) Wrap(inv Invocation) (string, error) {
	if !ValidEntrypoint(inv.Entrypoint) {
		return "", fmt.Errorf("invalid entrypoint %q", inv.Entrypoint)
	}

	payload, err := mrpcodec.Encode(inv.Payload)
	if err != nil {
		return "", err
	}

	source := strings.TrimRight(inv.Source, "\n")
	return fmt.Sprintf(pythonTemplate,
		source,
		strconv.Quote(string(payload)),
		strconv.Quote(inv.Seed),
		inv.Entrypoint,
	), nil
}
