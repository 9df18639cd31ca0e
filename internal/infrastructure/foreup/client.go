package foreup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/example/tee-scheduler/internal/domain/teetime"
	"github.com/example/tee-scheduler/internal/logging"
)

const (
	defaultBaseURL = "https://foreupsoftware.com"
	defaultUA      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// Config scopes the client to an organization/facility/course triple.
type Config struct {
	BaseURL        string
	Username       string
	Password       string
	BookingClassID string
	ScheduleID     string
	CourseID       string
}

// Client talks to the course's REST booking API with a bearer credential.
// Session handling, availability mapping, and the two-step booking transaction
// all live here; the engine only ever sees classified domain errors.
type Client struct {
	hc   *http.Client
	cfg  Config
	base string

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		hc:   &http.Client{Timeout: 15 * time.Second},
		cfg:  cfg,
		base: base,
	}
}

func (c *Client) Name() string { return string(teetime.PlatformForeUp) }

// Connect logs in and caches the session JWT.
func (c *Client) Connect(ctx context.Context) error {
	form := url.Values{
		"username":         {c.cfg.Username},
		"password":         {c.cfg.Password},
		"booking_class_id": {c.cfg.BookingClassID},
		"api_key":          {"no_limits"},
	}
	status, body, err := c.do(ctx, http.MethodPost, "/index.php/api/booking/users/login",
		"application/x-www-form-urlencoded", nil, []byte(form.Encode()))
	if err != nil {
		return teetime.TransientError("foreup login", err)
	}
	if serr := teetime.FromStatus("foreup login", status); serr != nil {
		return serr
	}

	var res struct {
		JWT string `json:"jwt"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return teetime.TransientError("foreup login", errors.Wrap(err, "parse response"))
	}
	if res.JWT == "" {
		return teetime.AuthError("foreup login", errors.New("no session token in response"))
	}

	c.mu.Lock()
	c.token = res.JWT
	c.tokenExp = time.Now().Add(6 * time.Hour)
	c.mu.Unlock()
	return nil
}

// Healthy probes the session endpoint. Cheap on purpose; never a full scan.
func (c *Client) Healthy(ctx context.Context) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}
	status, _, err := c.do(ctx, http.MethodGet, "/index.php/api/booking/users/session", "", nil, nil)
	if err != nil {
		return teetime.TransientError("foreup session probe", err)
	}
	return teetime.FromStatus("foreup session probe", status)
}

// FindSlots fetches availability day by day and maps it into domain slots.
// The backend has no weekday filter, so disallowed days are skipped client-side
// and the shared eligibility filter is applied to the merged result.
func (c *Client) FindSlots(ctx context.Context, q teetime.AvailabilityQuery) ([]teetime.Slot, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx)

	var all []teetime.Slot
	for _, day := range q.Dates() {
		slots, err := c.fetchDay(ctx, q, day)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("date", day.Format("2006-01-02")).Int("slots", len(slots)).Msg("availability fetched")
		all = append(all, slots...)
	}
	return teetime.FilterEligible(q, all), nil
}

type timeEntry struct {
	Time           string  `json:"time"` // "2006-01-02 15:04"
	Holes          int     `json:"holes"`
	GreenFee       float64 `json:"green_fee"`
	CartFee        float64 `json:"cart_fee"`
	AvailableSpots int     `json:"available_spots"`
	TeetimeID      string  `json:"teetime_id"`
	CourseName     string  `json:"course_name"`
	ScheduleID     int     `json:"schedule_id"`
	WalkingAllowed bool    `json:"walking_allowed"`
	CartAllowed    bool    `json:"cart_allowed"`
}

func (c *Client) fetchDay(ctx context.Context, q teetime.AvailabilityQuery, day time.Time) ([]teetime.Slot, error) {
	params := map[string]string{
		"time":          "all",
		"date":          day.Format("01-02-2006"),
		"holes":         "all",
		"players":       strconv.Itoa(q.PartySize),
		"schedule_id":   c.cfg.ScheduleID,
		"booking_class": c.cfg.BookingClassID,
		"api_key":       "no_limits",
	}
	status, body, err := c.do(ctx, http.MethodGet, "/index.php/api/booking/times", "", params, nil)
	if err != nil {
		return nil, teetime.TransientError("foreup times", err)
	}
	if serr := teetime.FromStatus("foreup times", status); serr != nil {
		return nil, serr
	}

	var entries []timeEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, teetime.TransientError("foreup times", errors.Wrap(err, "parse response"))
	}

	out := make([]teetime.Slot, 0, len(entries))
	for _, e := range entries {
		start, err := time.Parse("2006-01-02 15:04", e.Time)
		if err != nil {
			continue
		}
		id := e.TeetimeID
		if id == "" {
			id = fmt.Sprintf("%d-%s", e.ScheduleID, e.Time)
		}
		out = append(out, teetime.Slot{
			ID:          id,
			Date:        time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location()),
			TimeOfDay:   start.Hour()*60 + start.Minute(),
			Price:       e.GreenFee,
			OpenSpots:   e.AvailableSpots,
			CourseName:  e.CourseName,
			Holes:       e.Holes,
			WalkAllowed: e.WalkingAllowed,
			CartAllowed: e.CartAllowed,
			Meta: map[string]string{
				"schedule_id": strconv.Itoa(e.ScheduleID),
				"time":        e.Time,
			},
		})
	}
	return out, nil
}

// Book runs the two-step transaction: hold the time, then commit the
// reservation for the named players.
func (c *Client) Book(ctx context.Context, slot teetime.Slot, req teetime.BookingRequest) (teetime.BookingOutcome, error) {
	if err := c.ensureSession(ctx); err != nil {
		return teetime.BookingOutcome{}, err
	}

	hold := map[string]any{
		"time":             slot.Meta["time"],
		"holes":            slot.Holes,
		"players":          len(req.Players),
		"schedule_id":      slot.Meta["schedule_id"],
		"course_id":        c.cfg.CourseID,
		"booking_class_id": c.cfg.BookingClassID,
	}
	hb, _ := json.Marshal(hold)
	status, body, err := c.do(ctx, http.MethodPost, "/index.php/api/booking/pending_reservation", "application/json", nil, hb)
	if err != nil {
		return teetime.BookingOutcome{}, teetime.TransientError("foreup hold", err)
	}
	if serr := classifyBooking("foreup hold", status); serr != nil {
		return teetime.BookingOutcome{}, serr
	}

	var pending struct {
		ReservationID string `json:"reservation_id"`
	}
	if err := json.Unmarshal(body, &pending); err != nil || pending.ReservationID == "" {
		return teetime.BookingOutcome{}, teetime.RejectedError("foreup hold", errors.New("no hold id returned"))
	}

	commit := map[string]any{
		"pending_reservation_id": pending.ReservationID,
		"players":                req.Players,
	}
	cb, _ := json.Marshal(commit)
	status, body, err = c.do(ctx, http.MethodPost, "/index.php/api/booking/users/reservations", "application/json", nil, cb)
	if err != nil {
		return teetime.BookingOutcome{}, teetime.TransientError("foreup commit", err)
	}
	if serr := classifyBooking("foreup commit", status); serr != nil {
		return teetime.BookingOutcome{}, serr
	}

	var confirmed struct {
		TeetimeID        string `json:"teetime_id"`
		ConfirmationCode string `json:"confirmation_code"`
	}
	_ = json.Unmarshal(body, &confirmed)

	s := slot
	return teetime.BookingOutcome{
		Success:          true,
		BookingID:        confirmed.TeetimeID,
		ConfirmationCode: confirmed.ConfirmationCode,
		Message:          fmt.Sprintf("booked %s for %d player(s)", slot, len(req.Players)),
		Slot:             &s,
	}, nil
}

// Close drops the cached session.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	c.token = ""
	c.tokenExp = time.Time{}
	c.mu.Unlock()
	return nil
}

func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	valid := c.token != "" && time.Now().Before(c.tokenExp)
	c.mu.Unlock()
	if valid {
		return nil
	}
	return c.Connect(ctx)
}

// classifyBooking maps booking transaction statuses: auth and not-found stay
// terminal, rate limits and 5xx transient, and any other 4xx means the slot
// was declined or taken out from under us.
func classifyBooking(op string, status int) error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return teetime.AuthError(op, fmt.Errorf("http status %d", status))
	case status == http.StatusNotFound:
		return teetime.NotFoundError(op, fmt.Errorf("http status %d", status))
	case status == http.StatusTooManyRequests || status >= 500:
		return teetime.TransientError(op, fmt.Errorf("http status %d", status))
	default:
		return teetime.RejectedError(op, fmt.Errorf("http status %d", status))
	}
}

func (c *Client) do(ctx context.Context, method, path, contentType string, query map[string]string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("user-agent", defaultUA)
	req.Header.Set("accept", "application/json")
	if contentType != "" {
		req.Header.Set("content-type", contentType)
	}
	c.mu.Lock()
	if c.token != "" {
		req.Header.Set("x-authorization", "Bearer "+c.token)
	}
	c.mu.Unlock()

	if query != nil {
		q := req.URL.Query()
		for k, v := range query {
			q.Add(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, b, nil
}
