package config

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"

	"github.com/example/tee-scheduler/internal/domain/teetime"
)

// Config is the full environment surface of the daemon, processed under the
// TEESCHED prefix (e.g. TEESCHED_REDIS_ADDR).
type Config struct {
	Env      string `envconfig:"ENV" default:"prod"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	HTTP struct {
		Addr string `envconfig:"ADDR" default:":8080"`
	} `envconfig:"HTTP"`

	Redis struct {
		Addr            string `envconfig:"ADDR" default:"localhost:6379"`
		Password        string `envconfig:"PASSWORD"`
		DB              int    `envconfig:"DB"`
		Namespace       string `envconfig:"NAMESPACE" default:"teesched"`
		LeaseTTLSeconds int    `envconfig:"LEASE_TTL_SECONDS" default:"120"`
	} `envconfig:"REDIS"`

	Postgres struct {
		URL string `envconfig:"URL"`
	} `envconfig:"POSTGRES"`

	Session struct {
		HashKey  string `envconfig:"HASH_KEY"`  // base64, 32 or 64 bytes
		BlockKey string `envconfig:"BLOCK_KEY"` // base64, 16/24/32 bytes
	} `envconfig:"SESSION"`

	Creds struct {
		EncKey string `envconfig:"ENC_KEY"` // base64, 32 bytes for AES-256-GCM
	} `envconfig:"CREDS"`

	Operator struct {
		PasswordHash string `envconfig:"PASSWORD_HASH"` // bcrypt
	} `envconfig:"OPERATOR"`

	Provider struct {
		Platform string `envconfig:"PLATFORM" default:"foreup"`

		ForeUp struct {
			BaseURL        string `envconfig:"BASE_URL"`
			Username       string `envconfig:"USERNAME"`
			Password       string `envconfig:"PASSWORD"`
			BookingClassID string `envconfig:"BOOKING_CLASS_ID"`
			ScheduleID     string `envconfig:"SCHEDULE_ID"`
			CourseID       string `envconfig:"COURSE_ID"`
		} `envconfig:"FOREUP"`

		GolfNow struct {
			BaseURL              string `envconfig:"BASE_URL"`
			Email                string `envconfig:"EMAIL"`
			Password             string `envconfig:"PASSWORD"`
			TwoFactorWaitSeconds int    `envconfig:"TWO_FACTOR_WAIT_SECONDS" default:"120"`
			Headless             bool   `envconfig:"HEADLESS" default:"true"`
		} `envconfig:"GOLFNOW"`
	} `envconfig:"PROVIDER"`

	Job struct {
		CourseID   string `envconfig:"COURSE_ID"`
		CourseName string `envconfig:"COURSE_NAME"`

		DateFrom  string  `envconfig:"DATE_FROM"` // 2006-01-02
		DateTo    string  `envconfig:"DATE_TO"`
		Earliest  string  `envconfig:"EARLIEST" default:"06:00"`
		Latest    string  `envconfig:"LATEST" default:"18:00"`
		Days      string  `envconfig:"DAYS" default:"mon,tue,wed,thu,fri,sat,sun"`
		PartySize int     `envconfig:"PARTY_SIZE" default:"2"`
		Players   string  `envconfig:"PLAYERS"` // comma-separated names
		MaxPrice  float64 `envconfig:"MAX_PRICE"`
		Cart      string  `envconfig:"CART" default:"any"` // any, cart or walk
		Holes     int     `envconfig:"HOLES"`              // 0 means either

		IntervalSeconds    int `envconfig:"INTERVAL_SECONDS" default:"300"`
		MaxAttempts        int `envconfig:"MAX_ATTEMPTS" default:"5"`
		BackoffBaseSeconds int `envconfig:"BACKOFF_BASE_SECONDS" default:"2"`
	} `envconfig:"JOB"`

	Notify struct {
		SMTP struct {
			Host     string   `envconfig:"HOST"`
			Port     int      `envconfig:"PORT" default:"587"`
			Username string   `envconfig:"USERNAME"`
			Password string   `envconfig:"PASSWORD"`
			From     string   `envconfig:"FROM"`
			To       []string `envconfig:"TO"` // comma-separated recipient list
		} `envconfig:"SMTP"`

		Pushover struct {
			Token   string `envconfig:"TOKEN"`
			UserKey string `envconfig:"USER_KEY"`
		} `envconfig:"PUSHOVER"`
	} `envconfig:"NOTIFY"`
}

// Load reads an optional .env file and processes the environment. A missing
// .env is fine; process environments (systemd, containers) set variables
// directly.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("TEESCHED", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "process environment")
	}
	return cfg, nil
}

func (c Config) Interval() time.Duration {
	return time.Duration(c.Job.IntervalSeconds) * time.Second
}

func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Job.BackoffBaseSeconds) * time.Second
}

func (c Config) LeaseTTL() time.Duration {
	return time.Duration(c.Redis.LeaseTTLSeconds) * time.Second
}

func (c Config) TwoFactorWait() time.Duration {
	return time.Duration(c.Provider.GolfNow.TwoFactorWaitSeconds) * time.Second
}

// PlayerNames splits the comma-separated player list, dropping blanks.
func (c Config) PlayerNames() []string {
	var out []string
	for _, p := range strings.Split(c.Job.Players, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SessionKeys decodes the securecookie key pair.
func (c Config) SessionKeys() (hash, block []byte, err error) {
	if hash, err = decodeKey("TEESCHED_SESSION_HASH_KEY", c.Session.HashKey); err != nil {
		return nil, nil, err
	}
	if block, err = decodeKey("TEESCHED_SESSION_BLOCK_KEY", c.Session.BlockKey); err != nil {
		return nil, nil, err
	}
	return hash, block, nil
}

// CredKey decodes the credential encryption key and enforces AES-256 length.
func (c Config) CredKey() ([]byte, error) {
	k, err := decodeKey("TEESCHED_CREDS_ENC_KEY", c.Creds.EncKey)
	if err != nil {
		return nil, err
	}
	if len(k) != 32 {
		return nil, errors.Errorf("TEESCHED_CREDS_ENC_KEY must decode to 32 bytes (got %d)", len(k))
	}
	return k, nil
}

func decodeKey(name, v string) ([]byte, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, errors.Errorf("%s is required (base64)", name)
	}
	if b, err := base64.StdEncoding.DecodeString(v); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(v)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	return b, nil
}

var dayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// Query assembles the availability query from the job settings.
func (c Config) Query() (teetime.AvailabilityQuery, error) {
	var q teetime.AvailabilityQuery

	from, err := time.Parse("2006-01-02", c.Job.DateFrom)
	if err != nil {
		return q, errors.Wrap(err, "TEESCHED_JOB_DATE_FROM")
	}
	to, err := time.Parse("2006-01-02", c.Job.DateTo)
	if err != nil {
		return q, errors.Wrap(err, "TEESCHED_JOB_DATE_TO")
	}
	if to.Before(from) {
		return q, errors.New("TEESCHED_JOB_DATE_TO is before TEESCHED_JOB_DATE_FROM")
	}

	earliest, err := parseClock(c.Job.Earliest)
	if err != nil {
		return q, errors.Wrap(err, "TEESCHED_JOB_EARLIEST")
	}
	latest, err := parseClock(c.Job.Latest)
	if err != nil {
		return q, errors.Wrap(err, "TEESCHED_JOB_LATEST")
	}
	if latest < earliest {
		return q, errors.New("TEESCHED_JOB_LATEST is before TEESCHED_JOB_EARLIEST")
	}

	days := map[time.Weekday]bool{}
	for _, d := range strings.Split(c.Job.Days, ",") {
		wd, ok := dayNames[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return q, errors.Errorf("TEESCHED_JOB_DAYS: unknown day %q", d)
		}
		days[wd] = true
	}

	if c.Job.PartySize < 1 {
		return q, errors.New("TEESCHED_JOB_PARTY_SIZE must be at least 1")
	}

	var cart teetime.CartPref
	switch strings.ToLower(c.Job.Cart) {
	case "", "any":
		cart = teetime.CartEither
	case "cart":
		cart = teetime.CartRequired
	case "walk":
		cart = teetime.WalkOnly
	default:
		return q, errors.Errorf("TEESCHED_JOB_CART: unknown value %q", c.Job.Cart)
	}

	switch c.Job.Holes {
	case 0, 9, 18:
	default:
		return q, errors.Errorf("TEESCHED_JOB_HOLES must be 0, 9 or 18 (got %d)", c.Job.Holes)
	}

	q = teetime.AvailabilityQuery{
		CourseID:    c.Job.CourseID,
		CourseName:  c.Job.CourseName,
		DateFrom:    from,
		DateTo:      to,
		EarliestMin: earliest,
		LatestMin:   latest,
		Weekdays:    days,
		PartySize:   c.Job.PartySize,
		Prefs: teetime.Preferences{
			Cart:     cart,
			Holes:    teetime.HolePref(c.Job.Holes),
			MaxPrice: c.Job.MaxPrice,
		},
	}
	return q, nil
}

// parseClock converts "HH:MM" to minutes after midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
