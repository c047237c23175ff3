package domain

// CPS variable names requested from the Census API.
const (
	VarMetroCode   = "GTCBSA"
	VarWeight      = "PWSSWGT"
	VarCountryCode = "PEMNTVTY"
)

const (
	// UnknownMetroCode marks respondents outside an identified metro area.
	UnknownMetroCode = 0
	// NativeBornCountryCode is the PEMNTVTY code for the United States.
	NativeBornCountryCode = 57
)

// SchemaVersion identifies the DatasetRow column layout. Bump it whenever the
// persisted columns or their meaning change so cached entries are rebuilt.
const SchemaVersion = 1

// YearRange is a half-open range of survey years [From, To).
type YearRange struct {
	From int
	To   int
}

// Years lists every year in the range in ascending order.
func (r YearRange) Years() []int {
	if r.To <= r.From {
		return nil
	}
	years := make([]int, 0, r.To-r.From)
	for y := r.From; y < r.To; y++ {
		years = append(years, y)
	}
	return years
}

// SurveyRecord is one surveyed person for one month, tagged with its year.
type SurveyRecord struct {
	MetroCode   int
	Weight      float64
	CountryCode int
	Year        int
}

// SurveyFetchResult is the outcome of fetching one survey period. A failed
// fetch carries no rows and the cause in Err; the period then contributes
// nothing to the dataset.
type SurveyFetchResult struct {
	Year  int
	Month string
	// Rows is the raw response including the header row at index 0.
	Rows [][]string
	Err  error
}

// Empty reports whether the period contributed no respondent rows.
func (r SurveyFetchResult) Empty() bool {
	return len(r.Rows) <= 1
}

// ReferenceEntry maps a CPS code to its display label.
type ReferenceEntry struct {
	Code int
	Name string
}

// GeoEntry is one row of the Gazetteer CBSA file.
type GeoEntry struct {
	GeoID int     `csv:"GEOID"`
	Lat   float64 `csv:"INTPTLAT"`
	Lon   float64 `csv:"INTPTLONG"`
}

// AggregatedRecord is the summed, rounded-up weight of one
// (metro, country, year) group.
type AggregatedRecord struct {
	MetroCode      int
	CountryCode    int
	Year           int
	ImmigrantCount float64
}

// JoinedRecord is an AggregatedRecord after the country and metro joins.
type JoinedRecord struct {
	AggregatedRecord
	Country   string
	MetroCity string
}

// DatasetRow is the enriched unit that is cached and served.
type DatasetRow struct {
	MetroCode      int     `csv:"METRO_CITY_CODE" json:"metro_city_code"`
	CountryCode    int     `csv:"NATIVE_MOTHER_COUNTRY_CODE" json:"native_mother_country_code"`
	Year           int     `csv:"YEAR" json:"year"`
	ImmigrantCount float64 `csv:"IMMIGRANT_COUNT" json:"immigrant_count"`
	Country        string  `csv:"COUNTRY" json:"country"`
	MetroCity      string  `csv:"METRO_CITY" json:"metro_city"`
	GeoID          int     `csv:"GEOID" json:"geoid"`
	Lat            float64 `csv:"METRO_CITY_LAT" json:"metro_city_lat"`
	Lon            float64 `csv:"METRO_CITY_LONG" json:"metro_city_long"`
}

// DatasetColumns is the public header of the persisted dataset, in order.
var DatasetColumns = []string{
	"METRO_CITY_CODE",
	"NATIVE_MOTHER_COUNTRY_CODE",
	"YEAR",
	"IMMIGRANT_COUNT",
	"COUNTRY",
	"METRO_CITY",
	"GEOID",
	"METRO_CITY_LAT",
	"METRO_CITY_LONG",
}

// SummaryRow is the total immigrant count for one country in one year.
type SummaryRow struct {
	Year           int     `json:"year"`
	Country        string  `json:"country"`
	ImmigrantCount float64 `json:"immigrant_count"`
}
