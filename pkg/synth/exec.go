package synth

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ExternalTool runs an external solver command as the synthesis
// capability. The command is invoked with the collective name and world
// size appended as arguments and must write the lowered artifact to
// stdout; lowering is the identity because the tool emits the wire
// format directly.
type ExternalTool struct {
	command []string
}

// NewExternalTool creates a subprocess-backed synthesizer.
func NewExternalTool(command []string) (*ExternalTool, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("solver command is empty")
	}
	return &ExternalTool{command: command}, nil
}

// Synthesize implements Synthesizer by invoking the solver.
func (t *ExternalTool) Synthesize(ctx context.Context, worldSize int, collective string) (Algorithm, error) {
	args := append(append([]string{}, t.command[1:]...), collective, strconv.Itoa(worldSize))
	cmd := exec.CommandContext(ctx, t.command[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("solver %s failed: %w: %s", t.command[0], err, detail)
		}
		return nil, fmt.Errorf("solver %s failed: %w", t.command[0], err)
	}
	return stdout.Bytes(), nil
}

// Lower implements Lowerer. The external tool already produced the wire
// format, so this only unwraps the bytes.
func (t *ExternalTool) Lower(_ context.Context, algo Algorithm) ([]byte, error) {
	content, ok := algo.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected algorithm type %T from external solver", algo)
	}
	return content, nil
}
