package domain

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ParseSurveyRows converts a Census API survey response into SurveyRecords
// tagged with year. rows[0] must be the header row; it is used to locate the
// requested variables and is not returned. Rows with a missing or malformed
// cell are skipped and counted in skipped.
func ParseSurveyRows(rows [][]string, year int) (records []SurveyRecord, skipped int, err error) {
	if len(rows) == 0 {
		return nil, 0, nil
	}

	idx, err := columnIndex(rows[0], VarMetroCode, VarWeight, VarCountryCode)
	if err != nil {
		return nil, 0, err
	}
	metroCol, weightCol, countryCol := idx[0], idx[1], idx[2]

	records = make([]SurveyRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		metro, ok1 := cellInt(row, metroCol)
		weight, ok2 := cellFloat(row, weightCol)
		country, ok3 := cellInt(row, countryCol)
		if !ok1 || !ok2 || !ok3 {
			skipped++
			continue
		}
		records = append(records, SurveyRecord{
			MetroCode:   metro,
			Weight:      weight,
			CountryCode: country,
			Year:        year,
		})
	}
	return records, skipped, nil
}

// ParseReferenceItems turns a metadata "values.item" mapping into reference
// entries sorted by code. Keys must be string-encoded integers.
func ParseReferenceItems(items map[string]string) ([]ReferenceEntry, error) {
	entries := make([]ReferenceEntry, 0, len(items))
	for key, label := range items {
		code, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("reference code %q is not an integer: %w", key, err)
		}
		entries = append(entries, ReferenceEntry{Code: code, Name: label})
	}
	return DedupeReferences(entries), nil
}

// DedupeReferences keeps one entry per code. When a code repeats, the later
// entry wins, so labels from more recent years replace older ones when the
// caller appends years in ascending order. The result is sorted by code.
func DedupeReferences(entries []ReferenceEntry) []ReferenceEntry {
	byCode := make(map[int]string, len(entries))
	for _, e := range entries {
		byCode[e.Code] = e.Name
	}
	out := make([]ReferenceEntry, 0, len(byCode))
	for code, name := range byCode {
		out = append(out, ReferenceEntry{Code: code, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func columnIndex(header []string, names ...string) ([]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}
	idx := make([]int, len(names))
	for i, name := range names {
		p, ok := pos[name]
		if !ok {
			return nil, fmt.Errorf("column %s not found in header %v", name, header)
		}
		idx[i] = p
	}
	return idx, nil
}

func cellInt(row []string, col int) (int, bool) {
	if col >= len(row) {
		return 0, false
	}
	s := strings.TrimSpace(row[col])
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

func cellFloat(row []string, col int) (float64, bool) {
	if col >= len(row) {
		return 0, false
	}
	s := strings.TrimSpace(row[col])
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
