package foreup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/tee-scheduler/internal/domain/teetime"
)

func testQuery() teetime.AvailabilityQuery {
	return teetime.AvailabilityQuery{
		CourseID:    "77",
		DateFrom:    time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC),
		DateTo:      time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC),
		EarliestMin: 7 * 60,
		LatestMin:   18 * 60,
		PartySize:   4,
		Prefs:       teetime.Preferences{Cart: teetime.CartEither, Holes: teetime.HolesEither},
	}
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:        srv.URL,
		Username:       "golfer@example.com",
		Password:       "hunter2",
		BookingClassID: "101",
		ScheduleID:     "2431",
		CourseID:       "77",
	})
}

func loginOK(w http.ResponseWriter) {
	_ = json.NewEncoder(w).Encode(map[string]string{"jwt": "test-token"})
}

func TestConnectStoresToken(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index.php/api/booking/users/login":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "golfer@example.com", r.PostForm.Get("username"))
			loginOK(w)
		case "/index.php/api/booking/users/session":
			gotAuth = r.Header.Get("x-authorization")
			w.WriteHeader(http.StatusOK)
		}
	}))

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Healthy(ctx))
	assert.Equal(t, "Bearer test-token", gotAuth)
}

func TestConnectBadCredentialsIsTerminal(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, teetime.KindTerminalAuth, teetime.Classify(err))
}

func TestFindSlotsMapsAndFilters(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index.php/api/booking/users/login":
			loginOK(w)
		case "/index.php/api/booking/times":
			assert.Equal(t, "06-09-2024", r.URL.Query().Get("date"))
			assert.Equal(t, "4", r.URL.Query().Get("players"))
			_ = json.NewEncoder(w).Encode([]timeEntry{
				{Time: "2024-06-09 15:00", Holes: 18, GreenFee: 45, AvailableSpots: 4, TeetimeID: "t1", CourseName: "Pine Hollow", WalkingAllowed: true, CartAllowed: true},
				{Time: "2024-06-09 05:30", Holes: 18, GreenFee: 30, AvailableSpots: 4, TeetimeID: "t2", CourseName: "Pine Hollow", WalkingAllowed: true, CartAllowed: true},
				{Time: "2024-06-09 09:00", Holes: 9, GreenFee: 20, AvailableSpots: 2, TeetimeID: "t3", CourseName: "Pine Hollow", WalkingAllowed: true, CartAllowed: true},
			})
		}
	}))

	slots, err := c.FindSlots(context.Background(), testQuery())
	require.NoError(t, err)
	// t2 is before the window, t3 has too few open spots.
	require.Len(t, slots, 1)
	assert.Equal(t, "t1", slots[0].ID)
	assert.Equal(t, 15*60, slots[0].TimeOfDay)
	assert.Equal(t, 45.0, slots[0].Price)
	assert.Equal(t, "Pine Hollow", slots[0].CourseName)
}

func TestFindSlotsServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/index.php/api/booking/users/login" {
			loginOK(w)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.FindSlots(context.Background(), testQuery())
	require.Error(t, err)
	assert.Equal(t, teetime.KindTransient, teetime.Classify(err))
}

func TestFindSlotsUnknownCourseIsTerminal(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/index.php/api/booking/users/login" {
			loginOK(w)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.FindSlots(context.Background(), testQuery())
	require.Error(t, err)
	assert.Equal(t, teetime.KindTerminalNotFound, teetime.Classify(err))
}

func bookingSlot() teetime.Slot {
	return teetime.Slot{
		ID:        "t1",
		Date:      time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC),
		TimeOfDay: 15 * 60,
		Holes:     18,
		Meta:      map[string]string{"schedule_id": "2431", "time": "2024-06-09 15:00"},
	}
}

func TestBookTwoStepSuccess(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index.php/api/booking/users/login":
			loginOK(w)
		case "/index.php/api/booking/pending_reservation":
			_ = json.NewEncoder(w).Encode(map[string]string{"reservation_id": "hold-9"})
		case "/index.php/api/booking/users/reservations":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "hold-9", body["pending_reservation_id"])
			_ = json.NewEncoder(w).Encode(map[string]string{"teetime_id": "bk-1", "confirmation_code": "XYZ789"})
		}
	}))

	out, err := c.Book(context.Background(), bookingSlot(), teetime.BookingRequest{
		SlotID:  "t1",
		Players: []string{"Pat Doe", "Sam Roe"},
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "bk-1", out.BookingID)
	assert.Equal(t, "XYZ789", out.ConfirmationCode)
	require.NotNil(t, out.Slot)
	assert.Equal(t, "t1", out.Slot.ID)
}

func TestBookHoldConflictIsRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/index.php/api/booking/users/login" {
			loginOK(w)
			return
		}
		w.WriteHeader(http.StatusConflict)
	}))

	_, err := c.Book(context.Background(), bookingSlot(), teetime.BookingRequest{Players: []string{"Pat Doe"}})
	require.Error(t, err)
	assert.Equal(t, teetime.KindBookingRejected, teetime.Classify(err))
}

func TestHealthyRateLimitIsTransient(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/index.php/api/booking/users/login" {
			loginOK(w)
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	err := c.Healthy(context.Background())
	require.Error(t, err)
	assert.Equal(t, teetime.KindTransient, teetime.Classify(err))
}
