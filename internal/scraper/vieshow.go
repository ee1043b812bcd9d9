package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"

	"github.com/drewfead/tw-watcher/internal"
	"github.com/drewfead/tw-watcher/internal/browser"
	"github.com/drewfead/tw-watcher/internal/config"
)

const (
	vieshowURL           = "https://www.vscinemas.com.tw/ShowTimes/"
	vieshowTheaterSelect = "#CinemaNameTWInfoF"
	vieshowPlaceholder   = "請選擇"
	vieshowDateSuffix    = "場次"
)

// vieshowEmptyStates are the site's markers for a theater with nothing
// scheduled. Their presence means the page finished rendering with no
// sessions, not that rendering failed.
var vieshowEmptyStates = []string{"查無資料", "目前無場次"}

var sessionTimePat = regexp.MustCompile(`\d{1,2}:\d{2}`)

// jsSelectTheater picks an option in the theater dropdown and fires a
// synthetic change event so the site's own listener reloads the listing.
const jsSelectTheater = `(value) => {
	const select = document.querySelector('%s');
	if (!select) { return false; }
	select.value = value;
	select.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

// jsContentReady resolves once the listing shows either session data or
// one of the site's empty-state messages.
const jsContentReady = `() => {
	if (document.querySelector('strong.MovieName.LangTW')) { return true; }
	const text = document.body.innerText;
	return %s.some((marker) => text.includes(marker));
}`

var errVieshowNoTheaters = errors.New("no theaters found in dropdown")

// vieshowFetcher produces rendered listing HTML for a theater dropdown
// value ("" for the initial page). One fetcher lives for the span of a
// single Catalog or Schedule call, so the browser behind it is launched
// once and re-navigated per theater.
type vieshowFetcher interface {
	fetch(ctx context.Context, theaterCode string) (string, error)
	close() error
}

type fetchFunc func(ctx context.Context, theaterCode string) (string, error)

func (f fetchFunc) fetch(ctx context.Context, theaterCode string) (string, error) {
	return f(ctx, theaterCode)
}

func (fetchFunc) close() error {
	return nil
}

type VieshowOption = func(*VieshowScraper)

// VieshowWithBaseURL points the scraper at an alternate listing page.
func VieshowWithBaseURL(baseURL string) VieshowOption {
	return func(s *VieshowScraper) {
		s.baseURL = baseURL
	}
}

// VieshowWithFetcher replaces the browser-driven page fetch. fetch
// receives the theater dropdown value ("" for the initial page) and
// returns the rendered HTML.
func VieshowWithFetcher(fetch func(ctx context.Context, theaterCode string) (string, error)) VieshowOption {
	return func(s *VieshowScraper) {
		s.openFetcher = func(context.Context) (vieshowFetcher, error) {
			return fetchFunc(fetch), nil
		}
	}
}

// VieshowScraper reads the Vieshow Cinemas listing page. The site is a
// classic server-rendered page behind a theater dropdown: choosing a
// theater triggers a partial reload, so both operations drive a real
// browser rather than plain HTTP.
type VieshowScraper struct {
	cfg         config.Config
	baseURL     string
	openFetcher func(ctx context.Context) (vieshowFetcher, error)
}

func NewVieshow(cfg config.Config, opts ...VieshowOption) *VieshowScraper {
	s := &VieshowScraper{
		cfg:     cfg,
		baseURL: vieshowURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.openFetcher == nil {
		s.openFetcher = s.openBrowserFetcher
	}
	return s
}

func (s *VieshowScraper) Descriptor() string {
	return DescriptorVieshow
}

// Catalog returns the theater options from the listing page's dropdown
// and the movie titles currently listed, in page order. The bare page
// shows no listing until a theater is chosen, so the first theater is
// selected to surface one; the lineup is the same chain-wide.
func (s *VieshowScraper) Catalog(ctx context.Context) (internal.Catalog, error) {
	f, err := s.openFetcher(ctx)
	if err != nil {
		return internal.Catalog{}, err
	}
	defer func() {
		_ = f.close()
	}()

	html, err := f.fetch(ctx, "")
	if err != nil {
		return internal.Catalog{}, fmt.Errorf("fetch theater list: %w", err)
	}
	options, err := parseVieshowTheaters(html)
	if err != nil {
		return internal.Catalog{}, err
	}

	names := parseVieshowMovieNames(html)
	if len(names) == 0 {
		html, err = f.fetch(ctx, firstTheaterCode(options))
		if err != nil {
			return internal.Catalog{}, fmt.Errorf("fetch movie list: %w", err)
		}
		names = parseVieshowMovieNames(html)
	}
	return internal.Catalog{Options: options, Names: names}, nil
}

func firstTheaterCode(options map[string]string) string {
	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)
	return options[names[0]]
}

// Schedule looks up showtimes for one movie across the requested
// theaters, reusing one fetcher (one browser) for the whole batch.
// Theaters that list nothing for the movie, or whose lookup failed
// outright, stay in the result with an empty day list; the call errors
// only when the context is done.
func (s *VieshowScraper) Schedule(ctx context.Context, req internal.ScheduleRequest) (internal.Schedule, error) {
	f, err := s.openFetcher(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.close()
	}()

	out := internal.Schedule{}
	names := make([]string, 0, len(req.Theaters))
	for name := range req.Theaters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		code := req.Theaters[name]
		var days []internal.DaySchedule
		html, err := f.fetch(ctx, code)
		if err == nil {
			days, err = parseVieshowSchedule(html, req.MovieKey)
		}
		if err != nil {
			// One broken theater does not sink the batch.
			slog.Warn("showtimes lookup failed",
				"scraper", s.Descriptor(),
				"theater", name,
				"error", err,
			)
			out[name] = []internal.DaySchedule{}
			continue
		}
		if len(days) == 0 {
			slog.Debug("no sessions for movie at theater",
				"scraper", s.Descriptor(),
				"movie", req.MovieKey,
				"theater", name,
			)
			days = []internal.DaySchedule{}
		}
		out[name] = days
	}
	return out, nil
}

func (s *VieshowScraper) openBrowserFetcher(context.Context) (vieshowFetcher, error) {
	session, err := browser.NewSession(s.cfg)
	if err != nil {
		return nil, err
	}
	return &vieshowBrowserFetcher{baseURL: s.baseURL, session: session}, nil
}

// vieshowBrowserFetcher drives one browser page, re-navigating to the
// listing for every fetch so each theater starts from a clean page.
type vieshowBrowserFetcher struct {
	baseURL string
	session *browser.Session
}

func (b *vieshowBrowserFetcher) close() error {
	return b.session.Close()
}

func (b *vieshowBrowserFetcher) fetch(ctx context.Context, theaterCode string) (string, error) {
	page := b.session.Page()
	if err := browser.GotoSafe(ctx, page, b.baseURL); err != nil {
		return "", err
	}
	if err := rod.Try(func() {
		page.Context(ctx).Timeout(browser.PageStableTimeout).MustElement(vieshowTheaterSelect)
	}); err != nil {
		return "", fmt.Errorf("theater dropdown never appeared: %w", err)
	}

	if theaterCode != "" {
		selectJS := fmt.Sprintf(jsSelectTheater, vieshowTheaterSelect)
		res, err := page.Context(ctx).Eval(selectJS, theaterCode)
		if err != nil {
			return "", fmt.Errorf("select theater %s: %w", theaterCode, err)
		}
		if !res.Value.Bool() {
			return "", fmt.Errorf("select theater %s: %w", theaterCode, errVieshowNoTheaters)
		}
		readyJS := fmt.Sprintf(jsContentReady, jsStringArray(vieshowEmptyStates))
		if err := rod.Try(func() {
			page.Context(ctx).Timeout(15 * time.Second).MustWait(readyJS)
		}); err != nil {
			slog.Warn("listing did not settle, parsing anyway",
				"scraper", DescriptorVieshow,
				"theater", theaterCode,
			)
		}
		waitIdle := page.Context(ctx).Timeout(5*time.Second).
			WaitRequestIdle(300*time.Millisecond, nil, nil, nil)
		_ = rod.Try(waitIdle)
	}

	return page.Context(ctx).HTML()
}

func parseVieshowTheaters(html string) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}
	options := map[string]string{}
	doc.Find(vieshowTheaterSelect + " option").Each(func(_ int, opt *goquery.Selection) {
		name := strings.TrimSpace(opt.Text())
		value := strings.TrimSpace(opt.AttrOr("value", ""))
		if name == "" || value == "" || strings.Contains(name, vieshowPlaceholder) {
			return
		}
		options[name] = value
	})
	if len(options) == 0 {
		return nil, errVieshowNoTheaters
	}
	return options, nil
}

// parseVieshowMovieNames lists the movie titles on a rendered listing
// page in document order, deduplicated.
func parseVieshowMovieNames(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	seen := map[string]struct{}{}
	var names []string
	doc.Find("strong.MovieName.LangTW").Each(func(_ int, title *goquery.Selection) {
		name := strings.TrimSpace(title.Text())
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	})
	return names
}

// parseVieshowSchedule extracts the day-by-day session times for one
// movie from a rendered listing. Each movie block holds date headers
// with the session times in following siblings; the walk stops at the
// times container or the next localized date header, whichever comes
// first. Times come out deduplicated and sorted ascending.
func parseVieshowSchedule(html, movieName string) ([]internal.DaySchedule, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}

	var days []internal.DaySchedule
	doc.Find("strong.MovieName.LangTW").Each(func(_ int, title *goquery.Selection) {
		if strings.TrimSpace(title.Text()) != strings.TrimSpace(movieName) {
			return
		}
		block := title.Closest("div.col-xs-12")
		if block.Length() == 0 {
			return
		}
		block.Find("strong.RealShowDate.LangTW").Each(func(_ int, date *goquery.Selection) {
			label := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(date.Text()), vieshowDateSuffix))
			if label == "" {
				return
			}
			var times []string
			for sib := date.Next(); sib.Length() > 0; sib = sib.Next() {
				if sib.HasClass("RealShowDate") && sib.HasClass("LangTW") {
					break
				}
				if sib.HasClass("SessionTimeInfo") {
					times = append(times, sessionTimePat.FindAllString(sib.Text(), -1)...)
					break
				}
			}
			if len(times) > 0 {
				days = append(days, internal.DaySchedule{Label: label, Times: sortedUniqueTimes(times)})
			}
		})
	})
	return days, nil
}

func jsStringArray(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
