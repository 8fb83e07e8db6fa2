package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/Chicago")
	if err != nil {
		panic(err)
	}
}

// the portal reports interval timestamps in the utility's local time,
// so date math has to happen in that zone regardless of where the
// collector itself runs
func Now() time.Time {
	return time.Now().In(Location)
}
