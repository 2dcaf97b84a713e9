// Package fitbit is a thin authenticated client for the Fitbit Web API,
// covering the heart-rate, active-zone, sleep and activity endpoints the
// agent's tools need.
package fitbit

// HeartRateData is the response of the heart-rate-by-date endpoint.
type HeartRateData struct {
	ActivitiesHeart []HeartRateDay `json:"activities-heart"`
	Intraday        struct {
		Dataset []HeartRatePoint `json:"dataset"`
	} `json:"activities-heart-intraday"`
}

// HeartRateDay carries the per-day heart-rate summary.
type HeartRateDay struct {
	DateTime string `json:"dateTime"`
	Value    struct {
		RestingHeartRate int `json:"restingHeartRate"`
	} `json:"value"`
}

// HeartRatePoint is one intraday heart-rate sample in bpm.
type HeartRatePoint struct {
	Time  string `json:"time"`
	Value int    `json:"value"`
}

// ActiveZoneMinutesData is the response of the active-zone-minutes endpoint.
type ActiveZoneMinutesData struct {
	ActivitiesActiveZoneMinutes []ActiveZoneDay `json:"activities-active-zone-minutes"`
}

// ActiveZoneDay carries one day of active zone minutes.
type ActiveZoneDay struct {
	DateTime string `json:"dateTime"`
	Value    struct {
		ActiveZoneMinutes int `json:"activeZoneMinutes"`
	} `json:"value"`
}

// SleepLogData is the response of the sleep-log-by-date endpoint.
type SleepLogData struct {
	Sleep   []SleepEntry `json:"sleep"`
	Summary struct {
		TotalMinutesAsleep int `json:"totalMinutesAsleep"`
	} `json:"summary"`
}

// SleepEntry is one sleep session with its stage breakdown.
type SleepEntry struct {
	Levels struct {
		Summary struct {
			Rem struct {
				Minutes int `json:"minutes"`
			} `json:"rem"`
		} `json:"summary"`
	} `json:"levels"`
}

// Activity is one logged activity of a day.
type Activity struct {
	Name               string  `json:"name"`
	ActivityParentName string  `json:"activityParentName"`
	Calories           int     `json:"calories"`
	Duration           int64   `json:"duration"`
	Distance           float64 `json:"distance"`
	StartTime          string  `json:"startTime"`
}

// DailyActivitySummary is the response of the daily-activity endpoint.
type DailyActivitySummary struct {
	Activities []Activity `json:"activities"`
	Summary    struct {
		Steps int `json:"steps"`
	} `json:"summary"`
}
