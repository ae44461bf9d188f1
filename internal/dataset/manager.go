package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/cohortql/cohortql/internal/errors"
	"github.com/cohortql/cohortql/internal/query"
	"github.com/cohortql/cohortql/internal/schema"
)

// Manager owns the full merged dataset and the current cohort view.
// The full dataset is immutable after load; the cohort is replaced, not
// mutated, on every filter application, and its schema is recomputed
// after every replacement so schema and cohort can never diverge.
//
// All state access is exclusive per operation: one turn's filter cannot
// interleave with another turn's schema read.
type Manager struct {
	mu sync.RWMutex

	full    *Frame
	current *Frame

	fullSchema    schema.Schema
	currentSchema schema.Schema

	cohortName string

	opts      LoaderOptions
	threshold int
	mem       memory.Allocator
	logger    *zap.Logger
}

// ManagerConfig bundles the knobs a Manager needs at load time.
type ManagerConfig struct {
	Loader LoaderOptions
	// UniqueValuesThreshold caps the cardinality at which a column gets
	// a value distribution in its schema entry.
	UniqueValuesThreshold int
	Allocator             memory.Allocator
	Logger                *zap.Logger
}

// NewManager loads every CSV file under dir, merges the tables and
// computes the full-dataset schema. The cohort starts as the full
// dataset.
func NewManager(dir string, cfg ManagerConfig) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Allocator == nil {
		cfg.Allocator = memory.NewGoAllocator()
	}

	full, err := LoadDir(dir, cfg.Loader, cfg.Allocator, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("loading dataset from %s: %w", dir, err)
	}
	if full.Len() == 0 {
		full.Release()
		return nil, errors.ErrEmptyDataset
	}

	m := &Manager{
		full:      full,
		current:   full,
		opts:      cfg.Loader,
		threshold: cfg.UniqueValuesThreshold,
		mem:       cfg.Allocator,
		logger:    cfg.Logger,
	}
	m.fullSchema = ComputeSchema(full, m.threshold, m.opts.JoinKeys())
	m.currentSchema = m.fullSchema

	cfg.Logger.Info("dataset loaded",
		zap.Int("rows", full.Len()),
		zap.Int("columns", full.Width()),
		zap.Int("unique_patients", m.fullSchema.Info.UniquePatients))
	return m, nil
}

// NewManagerFromFrame wraps an already-built frame, mainly for tests.
func NewManagerFromFrame(full *Frame, cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Allocator == nil {
		cfg.Allocator = memory.NewGoAllocator()
	}
	m := &Manager{
		full:      full,
		current:   full,
		opts:      cfg.Loader,
		threshold: cfg.UniqueValuesThreshold,
		mem:       cfg.Allocator,
		logger:    cfg.Logger,
	}
	m.fullSchema = ComputeSchema(full, m.threshold, m.opts.JoinKeys())
	m.currentSchema = m.fullSchema
	return m
}

// FullSchema returns the schema of the full dataset, computed once at
// load time.
func (m *Manager) FullSchema() schema.Schema {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fullSchema
}

// CurrentSchema returns the schema of the current cohort.
func (m *Manager) CurrentSchema() schema.Schema {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentSchema
}

// CurrentCohort returns the current cohort frame. Callers must not
// release it.
func (m *Manager) CurrentCohort() *Frame {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CohortSize returns the current cohort row count.
func (m *Manager) CohortSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Len()
}

// CohortName returns the user-assigned cohort name, empty if unset.
func (m *Manager) CohortName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cohortName
}

// SetCohortName assigns a name used as the default export filename.
func (m *Manager) SetCohortName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cohortName = name
}

// ApplyQueryOnCurrentCohort narrows the current cohort to the rows
// matching expr and recomputes the cohort schema.
func (m *Manager) ApplyQueryOnCurrentCohort(e query.Expr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := ApplyExpr(m.current, e, m.mem)
	if err != nil {
		return err
	}

	if m.current != m.full {
		m.current.Release()
	}
	m.current = next
	m.currentSchema = ComputeSchema(m.current, m.threshold, m.opts.JoinKeys())

	m.logger.Info("cohort filtered",
		zap.String("criteria", e.HumanReadable()),
		zap.Int("rows", m.current.Len()))
	return nil
}

// ResetToFull discards all accumulated narrowing. The cohort name is
// kept; it describes the user's working session, not the row set.
func (m *Manager) ResetToFull() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != m.full {
		m.current.Release()
	}
	m.current = m.full
	m.currentSchema = m.fullSchema
}

// SaveCurrentCohort writes the cohort as <name>.csv plus a readable
// schema report <name>_schema.txt under dir, creating directories as
// needed. Both files must be written for the save to succeed.
func (m *Manager) SaveCurrentCohort(dir, name string) (csvPath, schemaPath string, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if name == "" {
		name = m.cohortName
	}
	if name == "" {
		name = "cohort"
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating output directory %s: %w", dir, err)
	}

	csvPath = filepath.Join(dir, name+".csv")
	file, err := os.Create(csvPath)
	if err != nil {
		return "", "", fmt.Errorf("creating %s: %w", csvPath, err)
	}
	if err := WriteCSV(m.current, file); err != nil {
		file.Close()
		return "", "", fmt.Errorf("writing cohort to %s: %w", csvPath, err)
	}
	if err := file.Close(); err != nil {
		return "", "", fmt.Errorf("closing %s: %w", csvPath, err)
	}

	schemaPath = filepath.Join(dir, name+"_schema.txt")
	if err := os.WriteFile(schemaPath, []byte(m.currentSchema.Readable()), 0o644); err != nil {
		return "", "", fmt.Errorf("writing schema report to %s: %w", schemaPath, err)
	}

	m.logger.Info("cohort saved",
		zap.String("csv", csvPath),
		zap.String("schema", schemaPath),
		zap.Int("rows", m.current.Len()))
	return csvPath, schemaPath, nil
}
