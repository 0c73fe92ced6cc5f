package rules

import "time"

// electionTerm is one legislative period of the parliament.
type electionTerm struct {
	number string
	start  time.Time
	end    time.Time
}

var electionTerms = []electionTerm{
	{"1", day(1979, 7, 1), day(1984, 7, 31)},
	{"2", day(1984, 7, 1), day(1989, 7, 31)},
	{"3", day(1989, 7, 1), day(1994, 7, 31)},
	{"4", day(1994, 7, 1), day(1999, 7, 31)},
	{"5", day(1999, 7, 1), day(2004, 7, 31)},
	{"6", day(2004, 7, 1), day(2009, 7, 31)},
	{"7", day(2009, 7, 1), day(2014, 7, 31)},
	{"8", day(2014, 7, 1), day(2019, 7, 31)},
	{"9", day(2019, 7, 1), day(2024, 7, 31)},
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Term maps a sitting date to the election term number used in document
// URLs. Terms are matched in ascending order with exclusive bounds; dates
// outside every term map to "0".
func Term(date time.Time) string {
	d := day(date.Year(), date.Month(), date.Day())
	for _, t := range electionTerms {
		if d.After(t.start) && d.Before(t.end) {
			return t.number
		}
	}
	return "0"
}
