package fitbit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, AccessToken: "test-token"}, zerolog.Nop())
}

func TestHeartRateByDate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1/user/-/activities/heart/date/2026-08-28/1d/1min.json", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{
			"activities-heart": [{"dateTime": "2026-08-28", "value": {"restingHeartRate": 61}}],
			"activities-heart-intraday": {"dataset": [
				{"time": "00:00:00", "value": 60},
				{"time": "00:01:00", "value": 75}
			]}
		}`))
	})

	data, err := client.HeartRateByDate(context.Background(), "2026-08-28")
	require.NoError(t, err)
	require.Len(t, data.ActivitiesHeart, 1)
	assert.Equal(t, 61, data.ActivitiesHeart[0].Value.RestingHeartRate)
	require.Len(t, data.Intraday.Dataset, 2)
	assert.Equal(t, 75, data.Intraday.Dataset[1].Value)
}

func TestActiveZoneMinutesByDate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1/user/-/activities/active-zone-minutes/date/2026-08-28/1d.json", r.URL.Path)
		w.Write([]byte(`{"activities-active-zone-minutes": [
			{"dateTime": "2026-08-28", "value": {"activeZoneMinutes": 20}}
		]}`))
	})

	data, err := client.ActiveZoneMinutesByDate(context.Background(), "2026-08-28")
	require.NoError(t, err)
	require.Len(t, data.ActivitiesActiveZoneMinutes, 1)
	assert.Equal(t, 20, data.ActivitiesActiveZoneMinutes[0].Value.ActiveZoneMinutes)
}

func TestSleepLogByDate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1.2/user/-/sleep/date/2026-08-28.json", r.URL.Path)
		w.Write([]byte(`{
			"sleep": [{"levels": {"summary": {"rem": {"minutes": 90}}}}],
			"summary": {"totalMinutesAsleep": 450}
		}`))
	})

	data, err := client.SleepLogByDate(context.Background(), "2026-08-28")
	require.NoError(t, err)
	assert.Equal(t, 450, data.Summary.TotalMinutesAsleep)
	require.Len(t, data.Sleep, 1)
	assert.Equal(t, 90, data.Sleep[0].Levels.Summary.Rem.Minutes)
}

func TestActivitySummaryByDate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1/user/-/activities/date/2026-08-28.json", r.URL.Path)
		w.Write([]byte(`{
			"activities": [{"name": "Run", "activityParentName": "Sport", "calories": 320}],
			"summary": {"steps": 10432}
		}`))
	})

	data, err := client.ActivitySummaryByDate(context.Background(), "2026-08-28")
	require.NoError(t, err)
	assert.Equal(t, 10432, data.Summary.Steps)
	require.Len(t, data.Activities, 1)
	assert.Equal(t, "Sport", data.Activities[0].ActivityParentName)
}

func TestUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.HeartRateByDate(context.Background(), "2026-08-28")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRejectsInvalidDate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not reach the server")
	})

	_, err := client.SleepLogByDate(context.Background(), "28-08-2026")
	assert.Error(t, err)
}
