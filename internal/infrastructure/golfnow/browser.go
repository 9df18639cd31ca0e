package golfnow

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/pkg/errors"

	"github.com/example/tee-scheduler/internal/domain/teetime"
	"github.com/example/tee-scheduler/internal/logging"
)

const (
	defaultTwoFactorWait = 2 * time.Minute
	defaultMinDelay      = 400 * time.Millisecond
	defaultMaxDelay      = 2500 * time.Millisecond
	pageTimeout          = 30 * time.Second
)

// Config drives the browser session.
type Config struct {
	BaseURL  string
	Email    string
	Password string

	// TwoFactorWait bounds how long we idle for an out-of-band second factor
	// the provider may demand at login.
	TwoFactorWait time.Duration

	Headless bool
}

// Provider books through the provider's own web front end with a real browser
// session, because no API access exists. The authenticated session is owned
// by the engine's single worker and is not safe for concurrent use.
type Provider struct {
	cfg Config

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	rng           *rand.Rand

	// scan fetches one day's tee-time cards; tests stub it out because the
	// default drives a real browser.
	scan               func(bctx context.Context, q teetime.AvailabilityQuery, day time.Time) ([]rawTeeTime, error)
	minDelay, maxDelay time.Duration
}

func New(cfg Config) *Provider {
	if cfg.TwoFactorWait == 0 {
		cfg.TwoFactorWait = defaultTwoFactorWait
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	p := &Provider{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		minDelay: defaultMinDelay,
		maxDelay: defaultMaxDelay,
	}
	p.scan = p.scanDay
	return p
}

func (p *Provider) Name() string { return string(teetime.PlatformGolfNow) }

// Connect launches the browser and logs in interactively, waiting out a
// second-factor challenge when one appears.
func (p *Provider) Connect(ctx context.Context) error {
	log := logging.FromContext(ctx)

	p.mu.Lock()
	if p.browserCtx == nil {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", p.cfg.Headless),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.UserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"),
		)
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)
		p.allocCancel = allocCancel
		p.browserCtx = browserCtx
		p.browserCancel = browserCancel
	}
	bctx := p.browserCtx
	p.mu.Unlock()

	loginCtx, cancel := context.WithTimeout(bctx, pageTimeout)
	defer cancel()

	err := chromedp.Run(loginCtx,
		chromedp.Navigate(p.cfg.BaseURL+"/account/login"),
		chromedp.WaitVisible(`input[name="email"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="email"]`, p.cfg.Email, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="password"]`, p.cfg.Password, chromedp.ByQuery),
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
	)
	if err != nil {
		return teetime.TransientError("golfnow login", err)
	}

	state, err := p.loginState(bctx)
	if err != nil {
		return teetime.TransientError("golfnow login", err)
	}
	switch state {
	case "in":
		log.Info().Msg("browser session established")
		return nil
	case "2fa":
		log.Info().Dur("wait", p.cfg.TwoFactorWait).Msg("waiting for second factor approval")
		return p.awaitSecondFactor(ctx, bctx)
	default:
		return teetime.AuthError("golfnow login", errors.New("login form rejected credentials"))
	}
}

// awaitSecondFactor polls for the logged-in marker until the bounded wait
// runs out. The human approves the challenge out of band.
func (p *Provider) awaitSecondFactor(ctx, bctx context.Context) error {
	deadline := time.Now().Add(p.cfg.TwoFactorWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return teetime.TransientError("golfnow 2fa", ctx.Err())
		case <-time.After(5 * time.Second):
		}
		state, err := p.loginState(bctx)
		if err != nil {
			return teetime.TransientError("golfnow 2fa", err)
		}
		if state == "in" {
			return nil
		}
	}
	return teetime.AuthError("golfnow 2fa", errors.New("second factor was not approved in time"))
}

func (p *Provider) loginState(bctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(bctx, 10*time.Second)
	defer cancel()
	var state string
	err := chromedp.Run(ctx, chromedp.Evaluate(`
		document.querySelector('[data-test="account-menu"]') ? "in" :
		(document.querySelector('[data-test="two-factor"]') ? "2fa" : "out")
	`, &state))
	return state, err
}

// Healthy checks that the browser is still up and the session marker is
// present on the current page. Deliberately cheap; no navigation.
func (p *Provider) Healthy(ctx context.Context) error {
	p.mu.Lock()
	bctx := p.browserCtx
	p.mu.Unlock()
	if bctx == nil {
		return teetime.TransientError("golfnow probe", errors.New("no browser session"))
	}
	probeCtx, cancel := context.WithTimeout(bctx, 5*time.Second)
	defer cancel()

	var ready string
	if err := chromedp.Run(probeCtx, chromedp.Evaluate(`document.readyState`, &ready)); err != nil {
		return teetime.TransientError("golfnow probe", errors.Wrap(err, "stale browser session"))
	}
	return nil
}

// FindSlots walks the requested date range one day at a time, pausing a
// human-scale random interval between pages. A day whose markup fails to
// parse is logged and skipped; one broken page must not abort the scan.
func (p *Provider) FindSlots(ctx context.Context, q teetime.AvailabilityQuery) ([]teetime.Slot, error) {
	p.mu.Lock()
	bctx := p.browserCtx
	p.mu.Unlock()
	if bctx == nil {
		return nil, teetime.TransientError("golfnow search", errors.New("no browser session"))
	}
	log := logging.FromContext(ctx)

	var all []teetime.Slot
	for i, day := range q.Dates() {
		if i > 0 {
			if err := p.humanPause(ctx); err != nil {
				return nil, teetime.TransientError("golfnow search", err)
			}
		}

		raws, err := p.scan(bctx, q, day)
		if err != nil {
			// A dead browser or cancelled engine kills the whole scan; a page
			// whose markup changed under us only loses its day.
			if ctx.Err() != nil || bctx.Err() != nil {
				return nil, err
			}
			log.Warn().Err(err).Str("date", day.Format("2006-01-02")).Msg("skipping day, results failed to load")
			continue
		}
		for _, raw := range raws {
			slot, perr := parseRow(day, raw)
			if perr != nil {
				log.Warn().Err(perr).Str("date", day.Format("2006-01-02")).Msg("skipping unparseable tee-time card")
				continue
			}
			all = append(all, slot)
		}
		log.Debug().Str("date", day.Format("2006-01-02")).Int("cards", len(raws)).Msg("page scanned")
	}
	return teetime.FilterEligible(q, all), nil
}

func (p *Provider) scanDay(bctx context.Context, q teetime.AvailabilityQuery, day time.Time) ([]rawTeeTime, error) {
	pageCtx, cancel := context.WithTimeout(bctx, pageTimeout)
	defer cancel()

	searchURL := fmt.Sprintf("%s/tee-times/search?course=%s&date=%s&players=%d",
		p.cfg.BaseURL, url.QueryEscape(q.CourseID), day.Format("2006-01-02"), q.PartySize)

	var raws []rawTeeTime
	err := chromedp.Run(pageCtx,
		chromedp.Navigate(searchURL),
		chromedp.WaitVisible(`[data-test="teetime-results"], .teetime-list`, chromedp.ByQuery),
		chromedp.Evaluate(collectScript, &raws),
	)
	if err != nil {
		return nil, teetime.TransientError("golfnow search", err)
	}
	return raws, nil
}

// Book drives the site's booking flow for one slot.
func (p *Provider) Book(ctx context.Context, slot teetime.Slot, req teetime.BookingRequest) (teetime.BookingOutcome, error) {
	p.mu.Lock()
	bctx := p.browserCtx
	p.mu.Unlock()
	if bctx == nil {
		return teetime.BookingOutcome{}, teetime.TransientError("golfnow book", errors.New("no browser session"))
	}
	bookURL := slot.Meta["url"]
	if bookURL == "" {
		return teetime.BookingOutcome{}, teetime.RejectedError("golfnow book", errors.New("slot carries no booking url"))
	}

	bookCtx, cancel := context.WithTimeout(bctx, pageTimeout)
	defer cancel()

	var confirmation string
	err := chromedp.Run(bookCtx,
		chromedp.Navigate(bookURL),
		chromedp.WaitVisible(`[data-test="confirm-booking"]`, chromedp.ByQuery),
		chromedp.Click(`[data-test="confirm-booking"]`, chromedp.ByQuery),
		chromedp.WaitVisible(`[data-test="confirmation-code"]`, chromedp.ByQuery),
		chromedp.Text(`[data-test="confirmation-code"]`, &confirmation, chromedp.ByQuery),
	)
	if err != nil {
		// The confirm flow not rendering almost always means the opening was
		// taken between scan and click.
		return teetime.BookingOutcome{}, teetime.RejectedError("golfnow book", err)
	}

	s := slot
	return teetime.BookingOutcome{
		Success:          true,
		ConfirmationCode: strings.TrimSpace(confirmation),
		Message:          fmt.Sprintf("booked %s for %d player(s)", slot, len(req.Players)),
		Slot:             &s,
	}, nil
}

// Close tears the browser down and releases the session.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browserCancel != nil {
		p.browserCancel()
		p.browserCancel = nil
	}
	if p.allocCancel != nil {
		p.allocCancel()
		p.allocCancel = nil
	}
	p.browserCtx = nil
	return nil
}

// humanPause sleeps a randomized sub-3s interval so day-by-day paging does
// not look like a scraper hammering the site.
func (p *Provider) humanPause(ctx context.Context) error {
	p.mu.Lock()
	span := int64(p.maxDelay - p.minDelay)
	d := p.minDelay + time.Duration(p.rng.Int63n(span))
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
