package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/drewfead/tw-watcher/internal"
	"github.com/drewfead/tw-watcher/internal/browser"
	"github.com/drewfead/tw-watcher/internal/config"
	"github.com/drewfead/tw-watcher/internal/httputil"
)

const (
	showtimeAPIBase = "https://capi.showtimes.com.tw"
	showtimeWebBase = "https://www.showtimes.com.tw"

	showtimeAppVersion = "2.9.200"

	showtimeRenderMarker = "線上訂票"
)

// cloudflareMarkers identify an interstitial challenge page. The check
// is best effort: a challenge that never clears still lets the passive
// capture path observe whatever the page managed to load.
var cloudflareMarkers = []string{
	"Just a moment",
	"Checking your browser",
	"Enable JavaScript",
	"Attention Required",
}

var (
	errShowtimeNoPrograms = errors.New("no programs in response")
	errShowtimeNoCapture  = errors.New("no event responses captured")
)

// jsChallengeSample samples the top of the page text for challenge markers.
const jsChallengeSample = `() => document.body ? document.body.innerText.substring(0, 500) : ''`

// jsCollectTheaters scans clickable elements for theater entries. The
// site renders theaters as short buttons; long matches are section
// headings and the login button is excluded outright.
const jsCollectTheaters = `() => {
	const names = new Set();
	document.querySelectorAll('button, a, div[role="button"]').forEach((el) => {
		const text = (el.innerText || '').trim();
		if (text.includes('秀泰影城') && text.length < 20 && !text.includes('登入')) {
			names.add(text);
		}
	});
	return JSON.stringify(Array.from(names));
}`

// jsCollectPrograms walks React's internal fiber tree upward from the
// styled-component booking cells until a node carries a program prop.
// The public DOM has no stable ids, so this introspection is the only
// browser-side source of program identities.
const jsCollectPrograms = `() => {
	const found = new Map();
	const fiberKey = (el) => Object.keys(el).find((k) =>
		k.startsWith('__reactFiber') || k.startsWith('__reactInternalInstance'));
	document.querySelectorAll('div[class*="sc-"]').forEach((el) => {
		const key = fiberKey(el);
		if (!key) { return; }
		let fiber = el[key];
		for (let depth = 0; fiber && depth < 25; depth += 1) {
			const program = fiber.memoizedProps && fiber.memoizedProps.program;
			if (program && program.id != null && program.name) {
				found.set(String(program.id), String(program.name));
				break;
			}
			fiber = fiber.return;
		}
	});
	return JSON.stringify(Array.from(found, ([id, name]) => ({ id, name })));
}`

// jsClickTheaterButton taps the first theater tab on a booking page.
const jsClickTheaterButton = `() => {
	const buttons = Array.from(document.querySelectorAll('button, div[role="button"]'));
	const target = buttons.find((el) => {
		const text = (el.innerText || '').trim();
		return text.includes('秀泰影城') && text.length < 20 && !text.includes('登入');
	});
	if (target) { target.click(); return true; }
	return false;
}`

// jsInPageFetch runs a fetch from the page's own origin, which rides on
// the clearance cookies the browser already earned.
const jsInPageFetch = `async (url) => {
	const controller = new AbortController();
	const timer = setTimeout(() => controller.abort(), 15000);
	try {
		const resp = await fetch(url, {
			signal: controller.signal,
			headers: { 'Accept': 'application/json' },
		});
		if (!resp.ok) { return JSON.stringify({ error: 'status ' + resp.status }); }
		return await resp.text();
	} catch (err) {
		return JSON.stringify({ error: String(err) });
	} finally {
		clearTimeout(timer);
	}
}`

type ShowtimeOption = func(*ShowtimeScraper)

func ShowtimeWithAPIBase(base string) ShowtimeOption {
	return func(s *ShowtimeScraper) {
		s.apiBase = strings.TrimRight(base, "/")
	}
}

func ShowtimeWithWebBase(base string) ShowtimeOption {
	return func(s *ShowtimeScraper) {
		s.webBase = strings.TrimRight(base, "/")
	}
}

func ShowtimeWithHTTPClient(client *httputil.Client) ShowtimeOption {
	return func(s *ShowtimeScraper) {
		s.client = client
	}
}

// ShowtimeWithClock pins the date used for event queries.
func ShowtimeWithClock(now func() time.Time) ShowtimeOption {
	return func(s *ShowtimeScraper) {
		s.now = now
	}
}

// ShowtimeScraper reads the Showtime Cinemas chain. Its backing API is
// open but fingerprint-gated, so every operation runs a strategy list:
// direct API access where it works, browser-assisted capture where it
// does not. Cloud hosts stay on the API strategies only.
type ShowtimeScraper struct {
	cfg     config.Config
	apiBase string
	webBase string
	client  *httputil.Client
	now     func() time.Time
}

func NewShowtime(cfg config.Config, opts ...ShowtimeOption) *ShowtimeScraper {
	s := &ShowtimeScraper{
		cfg:     cfg,
		apiBase: showtimeAPIBase,
		webBase: showtimeWebBase,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = httputil.NewClient(cfg, httputil.WithOrigin(showtimeWebBase))
	}
	return s
}

func (s *ShowtimeScraper) Descriptor() string {
	return DescriptorShowtime
}

// Catalog lists the chain's current programs, keyed by display name
// with program ids as values, plus the theater names when a browser
// was involved in producing them.
func (s *ShowtimeScraper) Catalog(ctx context.Context) (internal.Catalog, error) {
	catalog, apiErr := s.catalogFromAPI(ctx, true)
	if apiErr == nil {
		return catalog, nil
	}
	slog.Warn("api catalog failed",
		"scraper", s.Descriptor(),
		"error", apiErr,
	)
	if s.cfg.Cloud {
		return internal.Catalog{}, apiErr
	}
	catalog, browserErr := s.catalogFromBrowser(ctx)
	if browserErr == nil {
		return catalog, nil
	}
	slog.Warn("browser catalog failed",
		"scraper", s.Descriptor(),
		"error", browserErr,
	)
	// Last try without the theater pairing; the bootstrap alone may get
	// through when the secondary endpoints are what tripped the filter.
	catalog, retryErr := s.catalogFromAPI(ctx, false)
	if retryErr != nil {
		return internal.Catalog{}, errors.Join(apiErr, browserErr, retryErr)
	}
	return catalog, nil
}

// Schedule fetches the raw events for one program and normalizes them
// into a per-theater schedule. The program id is the request's movie
// key; theaters, when given, narrow and rename the venues.
func (s *ShowtimeScraper) Schedule(ctx context.Context, req internal.ScheduleRequest) (internal.Schedule, error) {
	var (
		events []internal.RawEvent
		venues map[string]internal.VenueInfo
		err    error
	)
	if s.cfg.Cloud {
		events, venues, err = s.eventsFromAPI(ctx, req.MovieKey)
	} else {
		events, venues, err = s.eventsFromBrowser(ctx, req.MovieKey)
		if err != nil {
			slog.Warn("browser event capture failed, falling back to api",
				"scraper", s.Descriptor(),
				"program", req.MovieKey,
				"error", err,
			)
			var apiErr error
			events, venues, apiErr = s.eventsFromAPI(ctx, req.MovieKey)
			if apiErr != nil {
				return nil, errors.Join(err, apiErr)
			}
		}
	}
	if err != nil {
		return nil, err
	}
	return ProcessEvents(events, venues, req.Theaters), nil
}

// catalogFromAPI reads the bootstrap's program list. With pairTheaters
// it additionally resolves the chain's theater names by walking one
// program's events to its venues; that lookup is best effort.
func (s *ShowtimeScraper) catalogFromAPI(ctx context.Context, pairTheaters bool) (internal.Catalog, error) {
	target := fmt.Sprintf("%s/1/app/bootstrap?appVersion=%s", s.apiBase, showtimeAppVersion)
	body, err := s.client.Get(ctx, target)
	if err != nil {
		return internal.Catalog{}, fmt.Errorf("fetch bootstrap: %w", err)
	}
	defer func() {
		_ = body.Close()
	}()
	var payload showtimeBootstrapPayload
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return internal.Catalog{}, fmt.Errorf("decode bootstrap: %w", err)
	}
	catalog, err := catalogFromPrograms(payload.Payload.Programs, nil)
	if err != nil || !pairTheaters {
		return catalog, err
	}

	firstProgram := payload.Payload.Programs[0].ID.String()
	events, _, eventsErr := s.eventsFromAPI(ctx, firstProgram)
	if eventsErr != nil {
		slog.Warn("theater pairing failed, catalog has no theater names",
			"scraper", s.Descriptor(),
			"error", eventsErr,
		)
		return catalog, nil
	}
	if ids := venueIDs(events); len(ids) > 0 {
		names, _, venuesErr := s.venuesFromAPI(ctx, ids)
		if venuesErr != nil {
			slog.Warn("theater pairing failed, catalog has no theater names",
				"scraper", s.Descriptor(),
				"error", venuesErr,
			)
			return catalog, nil
		}
		catalog.Names = names
	}
	return catalog, nil
}

func (s *ShowtimeScraper) eventsFromAPI(ctx context.Context, programID string) ([]internal.RawEvent, map[string]internal.VenueInfo, error) {
	today := s.now().In(taipeiZone).Format("2006-01-02")
	target := fmt.Sprintf("%s/1/events/listForProgram/%s?date=%s&forVista=false", s.apiBase, programID, today)
	var payload showtimeEventsPayload
	if err := s.client.GetJSON(ctx, target, &payload); err != nil {
		return nil, nil, fmt.Errorf("fetch events for program %s: %w", programID, err)
	}
	events := payload.rawEvents(programID)

	venues := map[string]internal.VenueInfo{}
	if ids := venueIDs(events); len(ids) > 0 {
		_, fetched, err := s.venuesFromAPI(ctx, ids)
		if err != nil {
			slog.Warn("venue lookup failed, names will be placeholders",
				"scraper", s.Descriptor(),
				"error", err,
			)
		} else {
			mergeVenues(venues, fetched)
		}
	}
	return events, venues, nil
}

// venuesFromAPI returns the venue names in payload order plus the venue
// map keyed by id.
func (s *ShowtimeScraper) venuesFromAPI(ctx context.Context, ids []string) ([]string, map[string]internal.VenueInfo, error) {
	target := fmt.Sprintf("%s/1/venues/ids/%s", s.apiBase, strings.Join(ids, ","))
	var payload showtimeVenuesPayload
	if err := s.client.GetJSON(ctx, target, &payload); err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(payload.Payload.Venues))
	for _, v := range payload.Payload.Venues {
		if v.Name != "" {
			names = append(names, v.Name)
		}
	}
	return names, payload.venueMap(), nil
}

func (s *ShowtimeScraper) catalogFromBrowser(ctx context.Context) (internal.Catalog, error) {
	session, err := browser.NewSession(s.cfg)
	if err != nil {
		return internal.Catalog{}, err
	}
	defer func() {
		_ = session.Close()
	}()
	page := session.Page()

	if err := browser.GotoSafe(ctx, page, s.webBase+"/programs"); err != nil {
		return internal.Catalog{}, err
	}
	s.waitChallenge(ctx, page)
	if err := rod.Try(func() {
		page.Context(ctx).Timeout(browser.PageStableTimeout).
			MustWait(fmt.Sprintf(`() => document.body.innerText.includes(%q)`, showtimeRenderMarker))
	}); err != nil {
		return internal.Catalog{}, fmt.Errorf("programs page never rendered: %w", err)
	}

	theaters, err := evalStrings(ctx, page, jsCollectTheaters)
	if err != nil {
		return internal.Catalog{}, fmt.Errorf("collect theaters: %w", err)
	}

	raw, err := evalString(ctx, page, jsCollectPrograms)
	if err != nil {
		return internal.Catalog{}, fmt.Errorf("collect programs: %w", err)
	}
	var programs []showtimeProgram
	if err := json.Unmarshal([]byte(raw), &programs); err != nil {
		return internal.Catalog{}, fmt.Errorf("decode programs: %w", err)
	}
	return catalogFromPrograms(programs, theaters)
}

// eventsFromBrowser opens the program's booking page with a network tap
// on the events endpoint. Escalation inside the session: passively
// captured responses first, then a request-idle wait for late loads,
// then an explicit in-page fetch that rides the page's own cookies.
func (s *ShowtimeScraper) eventsFromBrowser(ctx context.Context, programID string) ([]internal.RawEvent, map[string]internal.VenueInfo, error) {
	session, err := browser.NewSession(s.cfg)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		_ = session.Close()
	}()
	page := session.Page()

	capture := newResponseCapture()
	venueCapture := newResponseCapture()
	router := page.HijackRequests()
	defer func() {
		_ = router.Stop()
	}()
	// No resource-type filter: the site issues these as XHR in some
	// builds and fetch() in others.
	if err := router.Add("*/1/events/listForProgram/*", "", tapInto(capture)); err != nil {
		return nil, nil, fmt.Errorf("install events tap: %w", err)
	}
	if err := router.Add("*/1/venues/ids/*", "", tapInto(venueCapture)); err != nil {
		return nil, nil, fmt.Errorf("install venues tap: %w", err)
	}
	go router.Run()

	bookingURL := fmt.Sprintf("%s/ticketing/forProgram/%s", s.webBase, programID)
	if err := browser.GotoSafe(ctx, page, bookingURL); err != nil {
		return nil, nil, err
	}
	s.waitChallenge(ctx, page)

	raw, err := capture.waitFirst(ctx, 10*time.Second)
	if errors.Is(err, errShowtimeNoCapture) {
		// The booking page sometimes defers loading until a theater tab
		// is touched; click one and let the traffic settle.
		if _, evalErr := page.Context(ctx).Eval(jsClickTheaterButton); evalErr != nil {
			slog.Debug("theater button click failed",
				"scraper", s.Descriptor(),
				"error", evalErr,
			)
		}
		waitIdle := page.Context(ctx).Timeout(5*time.Second).
			WaitRequestIdle(300*time.Millisecond, nil, nil, nil)
		_ = rod.Try(waitIdle)
		raw, err = capture.waitFirst(ctx, time.Second)
	}
	if errors.Is(err, errShowtimeNoCapture) {
		slog.Debug("no passive capture, fetching in page",
			"scraper", s.Descriptor(),
			"program", programID,
		)
		today := s.now().In(taipeiZone).Format("2006-01-02")
		target := fmt.Sprintf("%s/1/events/listForProgram/%s?date=%s&forVista=false", s.apiBase, programID, today)
		raw, err = s.fetchInPage(ctx, page, target)
	}
	if err != nil {
		return nil, nil, err
	}

	var payload showtimeEventsPayload
	if unmarshalErr := json.Unmarshal([]byte(raw), &payload); unmarshalErr != nil {
		return nil, nil, fmt.Errorf("decode captured events: %w", unmarshalErr)
	}
	events := payload.rawEvents(programID)

	venues := map[string]internal.VenueInfo{}
	if ids := venueIDs(events); len(ids) > 0 {
		venues = s.resolveVenues(ctx, ids, venueCapture.all(), func(target string) (string, error) {
			return s.fetchInPage(ctx, page, target)
		})
	}
	return events, venues, nil
}

// resolveVenues builds the venue map for ids through the same chain the
// events ride: passively captured lookup responses, then an in-page
// fetch for ids still missing, then a direct HTTP lookup as the last
// resort. Ids unresolved after all three keep their placeholder names.
func (s *ShowtimeScraper) resolveVenues(ctx context.Context, ids, captured []string, inPage func(target string) (string, error)) map[string]internal.VenueInfo {
	venues := map[string]internal.VenueInfo{}
	for _, raw := range captured {
		var payload showtimeVenuesPayload
		if json.Unmarshal([]byte(raw), &payload) == nil {
			mergeVenues(venues, payload.venueMap())
		}
	}

	missing := missingVenueIDs(ids, venues)
	if len(missing) == 0 {
		return venues
	}
	target := fmt.Sprintf("%s/1/venues/ids/%s", s.apiBase, strings.Join(missing, ","))
	if raw, err := inPage(target); err == nil {
		var payload showtimeVenuesPayload
		if json.Unmarshal([]byte(raw), &payload) == nil {
			mergeVenues(venues, payload.venueMap())
		}
	} else {
		slog.Debug("in-page venue lookup failed",
			"scraper", s.Descriptor(),
			"error", err,
		)
	}

	missing = missingVenueIDs(ids, venues)
	if len(missing) == 0 {
		return venues
	}
	if _, fetched, err := s.venuesFromAPI(ctx, missing); err == nil {
		mergeVenues(venues, fetched)
	} else {
		slog.Warn("venue lookup failed, names will be placeholders",
			"scraper", s.Descriptor(),
			"error", err,
		)
	}
	return venues
}

func missingVenueIDs(ids []string, venues map[string]internal.VenueInfo) []string {
	var missing []string
	for _, id := range ids {
		if _, ok := venues[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// waitChallenge polls for a challenge interstitial and gives it up to
// 35 seconds to clear. Never fatal: the strategies after it produce
// their own errors if the page is still blocked.
func (s *ShowtimeScraper) waitChallenge(ctx context.Context, page *rod.Page) {
	for attempt := 0; attempt < 7; attempt++ {
		sample, err := evalString(ctx, page, jsChallengeSample)
		if err != nil {
			return
		}
		blocked := false
		for _, marker := range cloudflareMarkers {
			if strings.Contains(sample, marker) {
				blocked = true
				break
			}
		}
		if !blocked {
			return
		}
		slog.Debug("challenge page detected, waiting",
			"scraper", s.Descriptor(),
			"attempt", attempt+1,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
	slog.Warn("challenge page did not clear", "scraper", s.Descriptor())
}

func (s *ShowtimeScraper) fetchInPage(ctx context.Context, page *rod.Page, target string) (string, error) {
	res, err := page.Context(ctx).Timeout(20*time.Second).Eval(jsInPageFetch, target)
	if err != nil {
		return "", fmt.Errorf("in-page fetch %s: %w", target, err)
	}
	raw := res.Value.Str()
	var failure struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(raw), &failure) == nil && failure.Error != "" {
		return "", fmt.Errorf("in-page fetch %s: %w: %s", target, httputil.ErrRequestFailed, failure.Error)
	}
	return raw, nil
}

type showtimeProgram struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

type showtimeBootstrapPayload struct {
	Payload struct {
		Programs []showtimeProgram `json:"programs"`
	} `json:"payload"`
}

type showtimeEventsPayload struct {
	Payload struct {
		Events []struct {
			VenueID   json.Number `json:"venueId"`
			StartedAt string      `json:"startedAt"`
			Meta      struct {
				Format string `json:"format"`
			} `json:"meta"`
		} `json:"events"`
	} `json:"payload"`
}

func (p showtimeEventsPayload) rawEvents(programID string) []internal.RawEvent {
	events := make([]internal.RawEvent, 0, len(p.Payload.Events))
	for _, ev := range p.Payload.Events {
		events = append(events, internal.RawEvent{
			VenueID:   ev.VenueID.String(),
			StartedAt: ev.StartedAt,
			Format:    ev.Meta.Format,
			MovieID:   programID,
		})
	}
	return events
}

type showtimeVenuesPayload struct {
	Payload struct {
		Venues []struct {
			ID   json.Number `json:"id"`
			Name string      `json:"name"`
			Room string      `json:"room"`
		} `json:"venues"`
	} `json:"payload"`
}

func (p showtimeVenuesPayload) venueMap() map[string]internal.VenueInfo {
	venues := make(map[string]internal.VenueInfo, len(p.Payload.Venues))
	for _, v := range p.Payload.Venues {
		venues[v.ID.String()] = internal.VenueInfo{Name: v.Name, Room: v.Room}
	}
	return venues
}

func catalogFromPrograms(programs []showtimeProgram, theaters []string) (internal.Catalog, error) {
	if len(programs) == 0 {
		return internal.Catalog{}, errShowtimeNoPrograms
	}
	options := make(map[string]string, len(programs))
	for _, p := range programs {
		if p.Name == "" || p.ID.String() == "" {
			continue
		}
		options[p.Name] = p.ID.String()
	}
	if len(options) == 0 {
		return internal.Catalog{}, errShowtimeNoPrograms
	}
	return internal.Catalog{Options: options, Names: theaters}, nil
}

func venueIDs(events []internal.RawEvent) []string {
	seen := map[string]struct{}{}
	var ids []string
	for _, ev := range events {
		if ev.VenueID == "" {
			continue
		}
		if _, dup := seen[ev.VenueID]; dup {
			continue
		}
		seen[ev.VenueID] = struct{}{}
		ids = append(ids, ev.VenueID)
	}
	sort.Strings(ids)
	return ids
}

// mergeVenues copies entries from src that dst does not already have;
// earlier sources win so captured data is never clobbered by backfill.
func mergeVenues(dst, src map[string]internal.VenueInfo) {
	for id, info := range src {
		if _, ok := dst[id]; !ok {
			dst[id] = info
		}
	}
}

// tapInto loads a hijacked response and records its body.
func tapInto(capture *responseCapture) func(*rod.Hijack) {
	return func(h *rod.Hijack) {
		if err := h.LoadResponse(http.DefaultClient, true); err != nil {
			h.ContinueRequest(&proto.FetchContinueRequest{})
			return
		}
		capture.add(h.Response.Body())
	}
}

// responseCapture accumulates hijacked response bodies.
type responseCapture struct {
	mu     sync.Mutex
	bodies []string
}

func newResponseCapture() *responseCapture {
	return &responseCapture{}
}

func (c *responseCapture) add(body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, body)
}

func (c *responseCapture) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.bodies...)
}

func (c *responseCapture) first() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) == 0 {
		return "", false
	}
	return c.bodies[0], true
}

func (c *responseCapture) waitFirst(ctx context.Context, limit time.Duration) (string, error) {
	deadline := time.Now().Add(limit)
	for {
		if body, ok := c.first(); ok {
			return body, nil
		}
		if time.Now().After(deadline) {
			return "", errShowtimeNoCapture
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func evalString(ctx context.Context, page *rod.Page, js string, args ...any) (string, error) {
	res, err := page.Context(ctx).Eval(js, args...)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func evalStrings(ctx context.Context, page *rod.Page, js string, args ...any) ([]string, error) {
	raw, err := evalString(ctx, page, js, args...)
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
