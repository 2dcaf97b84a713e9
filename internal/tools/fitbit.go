package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/janikdotzel/healthcare-agent/internal/fitbit"
)

// HeartRateInRange is the answer when no intraday point left the safe range.
const HeartRateInRange = "The heart rate was within the safe range for the whole day."

const (
	dateLayout  = "2006-01-02"
	maxWeekDays = 31
)

var dateParam = jsonschema.Definition{
	Type:        jsonschema.String,
	Description: "Date in YYYY-MM-DD format",
}

func objectParams(required []string, props map[string]jsonschema.Definition) *jsonschema.Definition {
	return &jsonschema.Definition{
		Type:       jsonschema.Object,
		Properties: props,
		Required:   required,
	}
}

// FitbitTools builds the fitness metric tools over a Fitbit API client.
func FitbitTools(api fitbit.API) []Tool {
	return []Tool{
		{
			Name:        "restingHeartRate",
			Description: "Get resting heart rate for a specific date",
			Parameters:  objectParams([]string{"date"}, map[string]jsonschema.Definition{"date": dateParam}),
			Handler:     restingHeartRate(api),
		},
		{
			Name: "isHeartRateOutsideSafeRange",
			Description: "Check if heart rate (in bpm) exceeded the range for a specific date. " +
				"If exceeded, it returns the value that exceeded the range the most.",
			Parameters: objectParams([]string{"date", "minThreshold", "maxThreshold"}, map[string]jsonschema.Definition{
				"date":         dateParam,
				"minThreshold": {Type: jsonschema.Integer, Description: "Lower safe bound in bpm"},
				"maxThreshold": {Type: jsonschema.Integer, Description: "Upper safe bound in bpm"},
			}),
			Handler: heartRateOutsideSafeRange(api),
		},
		{
			Name:        "getActiveMinutesInWeek",
			Description: "Get total active minutes for a specific date range (usually one week).",
			Parameters: objectParams([]string{"startDate", "endDate"}, map[string]jsonschema.Definition{
				"startDate": dateParam,
				"endDate":   dateParam,
			}),
			Handler: activeMinutesInWeek(api),
		},
		{
			Name:        "getSleepHoursForDay",
			Description: "Get amount of sleep hours for a specific date.",
			Parameters:  objectParams([]string{"date"}, map[string]jsonschema.Definition{"date": dateParam}),
			Handler:     sleepHoursForDay(api),
		},
		{
			Name:        "getRemSleepMinutes",
			Description: "Get amount of REM sleep in minutes for a specific date.",
			Parameters:  objectParams([]string{"date"}, map[string]jsonschema.Definition{"date": dateParam}),
			Handler:     remSleepMinutes(api),
		},
		{
			Name:        "getSportActivitiesInWeek",
			Description: "Get all sport activities (sport, gym, aerobic) for a specific date range (usually one week).",
			Parameters: objectParams([]string{"startDate", "endDate"}, map[string]jsonschema.Definition{
				"startDate": dateParam,
				"endDate":   dateParam,
			}),
			Handler: sportActivitiesInWeek(api),
		},
		{
			Name:        "getStepsForDay",
			Description: "Get number of steps walked for a specific date.",
			Parameters:  objectParams([]string{"date"}, map[string]jsonschema.Definition{"date": dateParam}),
			Handler:     stepsForDay(api),
		},
	}
}

func restingHeartRate(api fitbit.API) Handler {
	return func(ctx context.Context, args Args) (string, error) {
		date, err := args.String("date")
		if err != nil {
			return "", err
		}
		data, err := api.HeartRateByDate(ctx, date)
		if err != nil {
			return "", err
		}
		if len(data.ActivitiesHeart) == 0 || data.ActivitiesHeart[0].Value.RestingHeartRate == 0 {
			return "no resting heart rate recorded for " + date, nil
		}
		return fmt.Sprintf("%d", data.ActivitiesHeart[0].Value.RestingHeartRate), nil
	}
}

// mostDeviantValue scans intraday points and returns the value that left the
// [min, max] band by the largest margin. Ties keep the first point seen.
// The second return is false when every point stayed in range.
func mostDeviantValue(points []fitbit.HeartRatePoint, minThreshold, maxThreshold int) (int, bool) {
	maxDeviation := 0
	mostExtreme := 0
	found := false

	for _, p := range points {
		deviation := 0
		if p.Value < minThreshold {
			deviation = minThreshold - p.Value
		} else if p.Value > maxThreshold {
			deviation = p.Value - maxThreshold
		}
		if deviation > maxDeviation {
			maxDeviation = deviation
			mostExtreme = p.Value
			found = true
		}
	}
	return mostExtreme, found
}

func heartRateOutsideSafeRange(api fitbit.API) Handler {
	return func(ctx context.Context, args Args) (string, error) {
		date, err := args.String("date")
		if err != nil {
			return "", err
		}
		minThreshold, err := args.Int("minThreshold")
		if err != nil {
			return "", err
		}
		maxThreshold, err := args.Int("maxThreshold")
		if err != nil {
			return "", err
		}

		data, err := api.HeartRateByDate(ctx, date)
		if err != nil {
			return "", err
		}
		value, found := mostDeviantValue(data.Intraday.Dataset, minThreshold, maxThreshold)
		if !found {
			return HeartRateInRange, nil
		}
		return fmt.Sprintf("%d", value), nil
	}
}

// rangeDates expands [start, end] into individual days, bounded to keep a
// single tool call from fanning out unboundedly.
func rangeDates(startDate, endDate string) ([]string, error) {
	start, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return nil, fmt.Errorf("invalid startDate %q: %w", startDate, err)
	}
	end, err := time.Parse(dateLayout, endDate)
	if err != nil {
		return nil, fmt.Errorf("invalid endDate %q: %w", endDate, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("endDate %s is before startDate %s", endDate, startDate)
	}

	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if len(dates) == maxWeekDays {
			return nil, fmt.Errorf("date range longer than %d days", maxWeekDays)
		}
		dates = append(dates, d.Format(dateLayout))
	}
	return dates, nil
}

func activeMinutesInWeek(api fitbit.API) Handler {
	return func(ctx context.Context, args Args) (string, error) {
		startDate, err := args.String("startDate")
		if err != nil {
			return "", err
		}
		endDate, err := args.String("endDate")
		if err != nil {
			return "", err
		}
		dates, err := rangeDates(startDate, endDate)
		if err != nil {
			return "", err
		}

		var (
			mu    sync.Mutex
			total int
		)
		g, ctx := errgroup.WithContext(ctx)
		for _, date := range dates {
			date := date
			g.Go(func() error {
				data, err := api.ActiveZoneMinutesByDate(ctx, date)
				if err != nil {
					return err
				}
				if len(data.ActivitiesActiveZoneMinutes) == 0 {
					return nil
				}
				mu.Lock()
				total += data.ActivitiesActiveZoneMinutes[0].Value.ActiveZoneMinutes
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d", total), nil
	}
}

func sleepHoursForDay(api fitbit.API) Handler {
	return func(ctx context.Context, args Args) (string, error) {
		date, err := args.String("date")
		if err != nil {
			return "", err
		}
		data, err := api.SleepLogByDate(ctx, date)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%.1f", float64(data.Summary.TotalMinutesAsleep)/60.0), nil
	}
}

func remSleepMinutes(api fitbit.API) Handler {
	return func(ctx context.Context, args Args) (string, error) {
		date, err := args.String("date")
		if err != nil {
			return "", err
		}
		data, err := api.SleepLogByDate(ctx, date)
		if err != nil {
			return "", err
		}
		total := 0
		for _, s := range data.Sleep {
			total += s.Levels.Summary.Rem.Minutes
		}
		return fmt.Sprintf("%d", total), nil
	}
}

// isSportActivity matches activities the original assistant treats as
// intensive: sport, gym or aerobic in the name or parent name.
func isSportActivity(a fitbit.Activity) bool {
	name := strings.ToLower(a.Name)
	parent := strings.ToLower(a.ActivityParentName)
	for _, kw := range []string{"sport", "gym", "aerobic"} {
		if strings.Contains(name, kw) || strings.Contains(parent, kw) {
			return true
		}
	}
	return false
}

func sportActivitiesInWeek(api fitbit.API) Handler {
	return func(ctx context.Context, args Args) (string, error) {
		startDate, err := args.String("startDate")
		if err != nil {
			return "", err
		}
		endDate, err := args.String("endDate")
		if err != nil {
			return "", err
		}
		dates, err := rangeDates(startDate, endDate)
		if err != nil {
			return "", err
		}

		perDay := make([][]fitbit.Activity, len(dates))
		g, ctx := errgroup.WithContext(ctx)
		for i, date := range dates {
			i, date := i, date
			g.Go(func() error {
				data, err := api.ActivitySummaryByDate(ctx, date)
				if err != nil {
					return err
				}
				for _, a := range data.Activities {
					if isSportActivity(a) {
						perDay[i] = append(perDay[i], a)
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return "", err
		}

		var activities []fitbit.Activity
		for _, day := range perDay {
			activities = append(activities, day...)
		}
		if len(activities) == 0 {
			return "no sport activities recorded", nil
		}
		b, err := json.Marshal(activities)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func stepsForDay(api fitbit.API) Handler {
	return func(ctx context.Context, args Args) (string, error) {
		date, err := args.String("date")
		if err != nil {
			return "", err
		}
		data, err := api.ActivitySummaryByDate(ctx, date)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d", data.Summary.Steps), nil
	}
}
