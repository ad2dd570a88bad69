// Package bootstrap loads the declarative chunk/database topology a Qserv
// deployment is configured with: which databases are chunked, each
// chunked table's classification and partitioning parameters, and the
// worker a chunk is assigned to. This is the "chunk metadata catalog"
// collaborator's static input — spec.md §1 keeps the catalog's lookup
// implementation out of scope, but something has to populate it at
// startup, and this is that something.
//
// Grounded on the teacher's internal/bootstrap/config.go: strict
// unknown-key rejection on load, a Validate/Apply split, YAML as the
// format.
package bootstrap

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/qserv/qserv/internal/qmeta"
	"github.com/qserv/qserv/internal/spatial"
)

// Config is the top-level topology file.
type Config struct {
	Databases map[string]DatabaseConfig `yaml:"databases"`

	// Workers maps a worker id to its dispatch endpoint (host:port for the
	// HTTP transport), and Assignment maps "db.chunkId" to a worker id.
	Workers    map[string]string `yaml:"workers"`
	Assignment map[string]string `yaml:"assignment"`

	validated  bool
	configPath string
}

// DatabaseConfig describes one chunked database's tables and partitioning.
type DatabaseConfig struct {
	Striping StripingConfig          `yaml:"striping,omitempty"`
	Tables   map[string]TableConfig  `yaml:"tables"`
}

// StripingConfig mirrors spatial.StripingParams in YAML form.
type StripingConfig struct {
	NumStripes             int     `yaml:"numStripes"`
	NumSubStripesPerStripe int     `yaml:"numSubStripesPerStripe"`
	OverlapDegrees         float64 `yaml:"overlapDegrees"`
}

func (s StripingConfig) toParams() spatial.StripingParams {
	if s.NumStripes == 0 {
		return spatial.DefaultStriping
	}
	return spatial.StripingParams{
		NumStripes:             s.NumStripes,
		NumSubStripesPerStripe: s.NumSubStripesPerStripe,
		OverlapDegrees:         s.OverlapDegrees,
	}
}

// TableConfig describes one table's classification, per spec.md §3.
type TableConfig struct {
	Kind string `yaml:"kind"` // replicated | director | child | match

	// Director fields.
	RAColumn  string `yaml:"raColumn,omitempty"`
	DecColumn string `yaml:"decColumn,omitempty"`
	PKColumn  string `yaml:"pkColumn,omitempty"`

	// Child fields.
	Director string `yaml:"director,omitempty"` // "db.table"
	FKColumn string `yaml:"fkColumn,omitempty"`

	// Match fields.
	Director1      string `yaml:"director1,omitempty"`
	Director2      string `yaml:"director2,omitempty"`
	PartitioningID string `yaml:"partitioningId,omitempty"`

	// Chunks lists every chunk id this table is split across. Required
	// for chunked kinds; ignored for replicated.
	Chunks []int32 `yaml:"chunks,omitempty"`
}

// Load reads and strictly validates a topology file: unknown top-level or
// per-table keys are a load-time error, matching the teacher's "unknown
// fields MUST fail" discipline.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: read %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("bootstrap: parse %s: %w", path, err)
	}
	known := map[string]bool{"databases": true, "workers": true, "assignment": true}
	for key := range raw {
		if !known[key] {
			return nil, fmt.Errorf("bootstrap: unknown top-level key %q", key)
		}
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: unmarshal %s: %w", path, err)
	}
	cfg.configPath = path

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("bootstrap: at least one database is required")
	}
	return &cfg, nil
}

// Validate enforces spec.md §3's table-classification invariants: a
// child's director pointer is non-null; a match's two director pointers
// are non-null, distinct, and share a partitioning id; every chunked
// table declares at least one chunk.
func (c *Config) Validate() error {
	for dbName, db := range c.Databases {
		for tableName, t := range db.Tables {
			qt, err := c.resolveTable(dbName, tableName, t)
			if err != nil {
				return err
			}
			if err := qt.Validate(); err != nil {
				return err
			}
			if qt.Chunked() && len(t.Chunks) == 0 {
				return fmt.Errorf("bootstrap: chunked table %s.%s declares no chunks", dbName, tableName)
			}
		}
	}
	for dbName, db := range c.Databases {
		for tableName, t := range db.Tables {
			if !chunkedKind(t.Kind) {
				continue
			}
			for _, chunkID := range t.Chunks {
				key := fmt.Sprintf("%s.%d", dbName, chunkID)
				if _, ok := c.Assignment[key]; !ok {
					return fmt.Errorf("bootstrap: chunk %s (table %s.%s) has no worker assignment", key, dbName, tableName)
				}
			}
		}
	}
	c.validated = true
	return nil
}

func chunkedKind(kind string) bool {
	return kind == string(qmeta.KindDirector) || kind == string(qmeta.KindChild) || kind == string(qmeta.KindMatch)
}

func (c *Config) resolveTable(dbName, tableName string, t TableConfig) (qmeta.Table, error) {
	qt := qmeta.Table{
		Database: dbName,
		Name:     tableName,
		Kind:     qmeta.Kind(t.Kind),
		RAColumn: t.RAColumn, DecColumn: t.DecColumn, PKColumn: t.PKColumn,
		PartitioningID: t.PartitioningID,
		Striping:       c.Databases[dbName].Striping.toParams(),
	}
	switch qt.Kind {
	case qmeta.KindReplicated, qmeta.KindDirector:
	case qmeta.KindChild:
		db, name, err := splitQualified(t.Director)
		if err != nil {
			return qmeta.Table{}, fmt.Errorf("bootstrap: table %s.%s: %w", dbName, tableName, err)
		}
		qt.DirectorDB, qt.DirectorTable, qt.FKColumn = db, name, t.FKColumn
	case qmeta.KindMatch:
		db1, n1, err := splitQualified(t.Director1)
		if err != nil {
			return qmeta.Table{}, fmt.Errorf("bootstrap: table %s.%s: %w", dbName, tableName, err)
		}
		db2, n2, err := splitQualified(t.Director2)
		if err != nil {
			return qmeta.Table{}, fmt.Errorf("bootstrap: table %s.%s: %w", dbName, tableName, err)
		}
		qt.Director1DB, qt.Director1Table = db1, n1
		qt.Director2DB, qt.Director2Table = db2, n2
	default:
		return qmeta.Table{}, fmt.Errorf("bootstrap: table %s.%s has unknown kind %q", dbName, tableName, t.Kind)
	}
	return qt, nil
}

func splitQualified(s string) (db, name string, err error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("expected db.table, got %q", s)
}

// IsValidated reports whether Validate succeeded.
func (c *Config) IsValidated() bool { return c.validated }

// Apply populates a catalog.StaticCatalog from the topology, the
// in-process equivalent of the teacher's ApplyToRepository, used by the
// master CLI and by tests that need a ready-to-query catalog without a
// Postgres catalog backend.
func (c *Config) Apply(reg CatalogRegistrar) error {
	if !c.validated {
		return fmt.Errorf("bootstrap: Validate must succeed before Apply")
	}
	for dbName, db := range c.Databases {
		for tableName, t := range db.Tables {
			qt, err := c.resolveTable(dbName, tableName, t)
			if err != nil {
				return err
			}
			reg.RegisterTable(qt, t.Chunks)
		}
	}
	return nil
}

// CatalogRegistrar is the subset of catalog.StaticCatalog's surface this
// package needs, kept narrow so bootstrap does not import catalog.
type CatalogRegistrar interface {
	RegisterTable(t qmeta.Table, chunkIDs []int32)
}

// WorkerFor returns the dispatch endpoint for the worker a chunk is
// assigned to.
func (c *Config) WorkerFor(db string, chunkID int32) (string, bool) {
	workerID, ok := c.Assignment[fmt.Sprintf("%s.%d", db, chunkID)]
	if !ok {
		return "", false
	}
	endpoint, ok := c.Workers[workerID]
	return endpoint, ok
}

// Save writes the topology back to YAML at path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("bootstrap: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Example writes a minimal starter topology file to dir/topology.yaml.
func Example(dir string) (string, error) {
	path := filepath.Join(dir, "topology.yaml")
	const example = `# Qserv chunk/database topology
databases:
  LSST:
    striping:
      numStripes: 170
      numSubStripesPerStripe: 18
      overlapDegrees: 0.01667
    tables:
      Object:
        kind: director
        raColumn: ra
        decColumn: decl
        pkColumn: objectId
        chunks: [0, 1, 2]
      Source:
        kind: child
        director: LSST.Object
        fkColumn: objectId
        chunks: [0, 1, 2]
      Filter:
        kind: replicated

workers:
  worker1: localhost:9000

assignment:
  LSST.0: worker1
  LSST.1: worker1
  LSST.2: worker1
`
	if err := os.WriteFile(path, []byte(example), 0o644); err != nil {
		return "", fmt.Errorf("bootstrap: write example: %w", err)
	}
	return path, nil
}
