// Package cache persists built datasets as CSV files with a YAML manifest
// beside each one.
package cache

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jszwec/csvutil"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/cps-immigrant-etl/internal/domain"
)

var (
	// ErrMiss is returned by Load when no entry exists for the key.
	ErrMiss = errors.New("cache: miss")
	// ErrCorrupt is returned by Load when an entry exists but cannot be used.
	ErrCorrupt = errors.New("cache: corrupt entry")
)

// Key identifies one cached dataset.
type Key struct {
	Range         domain.YearRange
	Month         string
	SchemaVersion int
}

// NewKey returns the key for range and month at the current schema version.
func NewKey(r domain.YearRange, month string) Key {
	return Key{Range: r, Month: month, SchemaVersion: domain.SchemaVersion}
}

func (k Key) String() string {
	return fmt.Sprintf("cps_immigrants_%d-%d_%s_v%d", k.Range.From, k.Range.To, k.Month, k.SchemaVersion)
}

// Manifest describes a stored entry.
type Manifest struct {
	Key           string    `yaml:"key"`
	SchemaVersion int       `yaml:"schema_version"`
	FromYear      int       `yaml:"from_year"`
	ToYear        int       `yaml:"to_year"`
	Month         string    `yaml:"month"`
	Columns       []string  `yaml:"columns"`
	Rows          int       `yaml:"rows"`
	CreatedAt     time.Time `yaml:"created_at"`
}

// Store reads and writes dataset entries under a single directory.
type Store struct {
	dir    string
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewStore creates a Store rooted at dir. The directory is created on first
// Save.
func NewStore(dir string, clock clockwork.Clock, logger *slog.Logger) *Store {
	return &Store{dir: dir, clock: clock, logger: logger}
}

// DataPath returns the CSV path for key.
func (s *Store) DataPath(k Key) string {
	return filepath.Join(s.dir, k.String()+".csv")
}

// ManifestPath returns the manifest path for key.
func (s *Store) ManifestPath(k Key) string {
	return filepath.Join(s.dir, k.String()+".manifest.yaml")
}

// Load returns the rows stored for key. It returns ErrMiss when the entry
// does not exist and an error wrapping ErrCorrupt when the file has the wrong
// header, an undecodable row, or a row count that disagrees with its manifest.
func (s *Store) Load(k Key) ([]domain.DatasetRow, error) {
	f, err := os.Open(s.DataPath(k))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("open cache entry: %w", err)
	}
	defer f.Close()

	rows, err := decodeRows(f)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCorrupt, k, err)
	}

	m, err := s.ReadManifest(k)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.logger.Debug("cache entry has no manifest", "key", k.String())
	case err != nil:
		return nil, fmt.Errorf("%w %s: %v", ErrCorrupt, k, err)
	case m.Rows != len(rows):
		return nil, fmt.Errorf("%w %s: manifest lists %d rows, file has %d", ErrCorrupt, k, m.Rows, len(rows))
	default:
		s.logger.Debug("cache entry loaded", "key", k.String(), "rows", len(rows), "created_at", m.CreatedAt)
	}
	return rows, nil
}

// Save writes rows for key, replacing any previous entry. Both files are
// written to temporary names and renamed into place.
func (s *Store) Save(k Key, rows []domain.DatasetRow) (Manifest, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("create cache dir: %w", err)
	}

	if err := s.writeAtomic(s.DataPath(k), func(w io.Writer) error {
		return encodeRows(w, rows)
	}); err != nil {
		return Manifest{}, fmt.Errorf("write cache entry %s: %w", k, err)
	}

	m := Manifest{
		Key:           k.String(),
		SchemaVersion: k.SchemaVersion,
		FromYear:      k.Range.From,
		ToYear:        k.Range.To,
		Month:         k.Month,
		Columns:       domain.DatasetColumns,
		Rows:          len(rows),
		CreatedAt:     s.clock.Now().UTC(),
	}
	if err := s.writeAtomic(s.ManifestPath(k), func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(m); err != nil {
			return err
		}
		return enc.Close()
	}); err != nil {
		return Manifest{}, fmt.Errorf("write cache manifest %s: %w", k, err)
	}

	s.logger.Info("cache entry written", "path", s.DataPath(k), "rows", len(rows))
	return m, nil
}

// ReadManifest returns the manifest stored for key.
func (s *Store) ReadManifest(k Key) (Manifest, error) {
	data, err := os.ReadFile(s.ManifestPath(k))
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

func (s *Store) writeAtomic(path string, write func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(s.dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func encodeRows(w io.Writer, rows []domain.DatasetRow) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	enc.WithMarshalers(csvutil.MarshalFunc(func(f float64) ([]byte, error) {
		return strconv.AppendFloat(nil, f, 'f', -1, 64), nil
	}))

	if err := enc.EncodeHeader(domain.DatasetRow{}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for i := range rows {
		if err := enc.Encode(rows[i]); err != nil {
			return fmt.Errorf("encode row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func decodeRows(r io.Reader) ([]domain.DatasetRow, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !slices.Equal(dec.Header(), domain.DatasetColumns) {
		return nil, fmt.Errorf("unexpected header %v", dec.Header())
	}

	rows := []domain.DatasetRow{}
	for line := 2; ; line++ {
		var row domain.DatasetRow
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
