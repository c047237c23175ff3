// Package geo loads metro area centroids from the Census Gazetteer CBSA file.
package geo

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/jszwec/csvutil"

	"github.com/couchcryptid/cps-immigrant-etl/internal/domain"
)

var requiredColumns = []string{"GEOID", "INTPTLAT", "INTPTLONG"}

// File is a Gazetteer file on disk.
type File string

// Load reads the file with LoadGeoReference.
func (f File) Load() ([]domain.GeoEntry, error) {
	return LoadGeoReference(string(f))
}

// LoadGeoReference reads the tab-delimited Gazetteer file at path and returns
// one entry per CBSA. Header names and cells are whitespace-trimmed, since the
// published file pads its last column.
func LoadGeoReference(path string) ([]domain.GeoEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geo reference: %w", err)
	}
	defer f.Close()

	entries, err := DecodeGeoReference(f)
	if err != nil {
		return nil, fmt.Errorf("load geo reference %s: %w", path, err)
	}
	return entries, nil
}

// DecodeGeoReference decodes Gazetteer rows from r.
func DecodeGeoReference(r io.Reader) ([]domain.GeoEntry, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	tr := trimReader{r: cr}

	header, err := tr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for _, col := range requiredColumns {
		if !slices.Contains(header, col) {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	dec, err := csvutil.NewDecoder(tr, header...)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	var entries []domain.GeoEntry
	for line := 2; ; line++ {
		var e domain.GeoEntry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// trimReader strips surrounding whitespace from every field.
type trimReader struct {
	r *csv.Reader
}

func (t trimReader) Read() ([]string, error) {
	rec, err := t.r.Read()
	if err != nil {
		return nil, err
	}
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}
	return rec, nil
}
