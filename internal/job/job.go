// Package job holds the immutable description of one remote execution.
package job

import (
	"fmt"
	"maps"
	"path"
	"strconv"
	"strings"

	"github.com/lucasew/gharun/internal/forge"
)

// IterationInput is the workflow input carrying the iteration counter.
const IterationInput = "experiment_iteration"

type Variant string

const (
	VariantCPU Variant = "cpu"
	VariantGPU Variant = "gpu"
)

func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case VariantCPU, VariantGPU:
		return v, nil
	case "":
		return VariantCPU, nil
	default:
		return "", fmt.Errorf("unknown variant %q (want cpu or gpu)", s)
	}
}

// Spec is one job submitted to the remote runner.
type Spec struct {
	Repo      forge.Repo
	Ref       string
	Variant   Variant
	Iteration int
	Inputs    map[string]string
}

func (s Spec) Validate() error {
	if s.Repo.Owner == "" || s.Repo.Name == "" {
		return fmt.Errorf("repository is required")
	}
	if s.Ref == "" {
		return fmt.Errorf("ref is required")
	}
	if _, err := ParseVariant(string(s.Variant)); err != nil {
		return err
	}
	if s.Iteration < 0 {
		return fmt.Errorf("iteration must not be negative, got %d", s.Iteration)
	}
	return nil
}

// WorkflowInputs returns a copy of the caller inputs with the iteration
// counter set. The receiver is left untouched.
func (s Spec) WorkflowInputs() map[string]string {
	out := make(map[string]string, len(s.Inputs)+1)
	maps.Copy(out, s.Inputs)
	out[IterationInput] = strconv.Itoa(s.Iteration)
	return out
}

// IterationDir is where the remote script leaves this iteration's outputs.
func (s Spec) IterationDir(root string) string {
	return IterationDir(root, s.Iteration)
}

func IterationDir(root string, iteration int) string {
	return path.Join(root, fmt.Sprintf("iteration%d", iteration))
}

func (s Spec) String() string {
	return fmt.Sprintf("%s@%s/%s#%d", s.Repo, s.Ref, s.Variant, s.Iteration)
}
