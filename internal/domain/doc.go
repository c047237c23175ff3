// Package domain models US Census Current Population Survey (CPS) microdata
// aggregated into immigrant counts per metro area, country of origin and year.
//
// # Data Source
//
// Survey rows come from the CPS basic monthly endpoint of the Census API:
//
//	GET https://api.census.gov/data/{year}/cps/basic/{month}?get=GTCBSA,PWSSWGT,PEMNTVTY
//
// The response is a JSON array of arrays. The first inner array is the header
// row naming the requested variables; every following array is one surveyed
// person for that month. All cells are strings; missing values may be null.
//
// Labels for coded variables come from the variable metadata endpoint:
//
//	GET https://api.census.gov/data/{year}/cps/basic/{month}/variables/{VAR}.json
//
// whose "values.item" object maps string-encoded integer codes to labels.
//
// # CPS Variables
//
//	GTCBSA    Core-Based Statistical Area (metro area) code. 0 means the
//	          respondent lives outside any identified metro area.
//	PWSSWGT   Second-stage person weight: the number of people in the
//	          population the respondent stands for. Fractional.
//	PEMNTVTY  Country of birth of the respondent's mother. 57 is the
//	          United States and marks native-born respondents.
//
// # Aggregation Rules
//
// Weights are rounded up with math.Ceil before summation so that an aggregate
// never undercounts the population it estimates. Groups are keyed by
// (metro code, country code, year). After grouping, groups with metro code 0,
// a summed weight of 0, or country code 57 are dropped.
//
// # Geographic Reference
//
// Metro coordinates come from the Census Gazetteer CBSA national file
// (tab-delimited). Its GEOID column matches GTCBSA and INTPTLAT/INTPTLONG give
// the internal point of the area. The INTPTLONG header is padded with
// trailing whitespace in the published file; headers are trimmed before use.
//
// # Public Schema
//
// The enriched dataset is persisted with the columns
//
//	METRO_CITY_CODE, NATIVE_MOTHER_COUNTRY_CODE, YEAR, IMMIGRANT_COUNT,
//	COUNTRY, METRO_CITY, GEOID, METRO_CITY_LAT, METRO_CITY_LONG
//
// and sorted by year ascending, then immigrant count descending.
package domain
