// Package viz is the visualization collaborator boundary. Chart
// rendering itself is out of scope; the shipped implementation records
// validated chart requests as JSON specs that downstream tooling can
// render.
package viz

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/cohortql/cohortql/internal/dataset"
	"github.com/cohortql/cohortql/internal/intent"
)

// Visualizer turns a chart request plus the current cohort into an
// output artifact and returns its location.
type Visualizer interface {
	Render(cohort *dataset.Frame, req *intent.VizRequest) (string, error)
}

// SpecWriter writes chart specs as JSON files under a session directory,
// one file per request, named viz_<seq>_<timestamp>.json.
type SpecWriter struct {
	dir     string
	counter int
	logger  *zap.Logger
}

// NewSpecWriter creates a writer rooted at dir.
func NewSpecWriter(dir string, logger *zap.Logger) *SpecWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpecWriter{dir: dir, logger: logger}
}

type chartSpec struct {
	Request     *intent.VizRequest `json:"request"`
	CohortRows  int                `json:"cohort_rows"`
	Columns     []string           `json:"columns"`
	GeneratedAt string             `json:"generated_at"`
}

// Render records the request and returns the spec file path.
func (w *SpecWriter) Render(cohort *dataset.Frame, req *intent.VizRequest) (string, error) {
	if req == nil {
		return "", fmt.Errorf("nil visualization request")
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating visualization directory %s: %w", w.dir, err)
	}

	w.counter++
	name := fmt.Sprintf("viz_%03d_%s.json", w.counter, time.Now().Format("20060102_150405"))
	path := filepath.Join(w.dir, name)

	spec := chartSpec{
		Request:     req,
		GeneratedAt: time.Now().Format(time.RFC3339),
	}
	if cohort != nil {
		spec.CohortRows = cohort.Len()
		spec.Columns = cohort.Columns()
	}

	blob, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding chart spec: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return "", fmt.Errorf("writing chart spec to %s: %w", path, err)
	}

	w.logger.Info("chart spec written", zap.String("path", path), zap.String("chart_type", string(req.ChartType)))
	return path, nil
}
