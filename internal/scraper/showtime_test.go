package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drewfead/tw-watcher/internal"
	"github.com/drewfead/tw-watcher/internal/config"
	"github.com/drewfead/tw-watcher/internal/httputil"
)

func fixedClock() time.Time {
	return time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC)
}

func newGoldenShowtimeServer(t *testing.T) *httptest.Server {
	t.Helper()
	handler, err := NewShowtime(config.Config{Cloud: true}).MountGolden(context.Background(), "golden")
	require.NoError(t, err)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func newGoldenShowtime(t *testing.T, server *httptest.Server) *ShowtimeScraper {
	t.Helper()
	cfg := config.Config{Cloud: true}
	return NewShowtime(cfg,
		ShowtimeWithAPIBase(server.URL),
		ShowtimeWithWebBase(server.URL),
		ShowtimeWithHTTPClient(httputil.NewClient(cfg)),
		ShowtimeWithClock(fixedClock),
	)
}

func TestUnit_Showtime_Catalog(t *testing.T) {
	server := newGoldenShowtimeServer(t)
	s := newGoldenShowtime(t, server)

	catalog, err := s.Catalog(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"沙丘:第二部": "4101",
		"瘋狂麥斯:芙莉歐莎": "4205",
		"腦筋急轉彎2": "4310",
	}, catalog.Options)
	assert.Equal(t, []string{"台北秀泰影城", "高雄秀泰影城"}, catalog.Names,
		"theater names come from the first program's venues")
}

func TestUnit_Showtime_Catalog_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)
	s := newGoldenShowtime(t, server)

	_, err := s.Catalog(context.Background())
	assert.ErrorIs(t, err, httputil.ErrRequestFailed)
}

func TestUnit_Showtime_Schedule(t *testing.T) {
	server := newGoldenShowtimeServer(t)
	s := newGoldenShowtime(t, server)

	schedule, err := s.Schedule(context.Background(), internal.ScheduleRequest{
		MovieKey: "4101",
	})
	require.NoError(t, err)

	require.Contains(t, schedule, "台北秀泰影城")
	taipei := schedule["台北秀泰影城"]
	require.Len(t, taipei, 1)
	assert.Equal(t, "2月6日(五)", taipei[0].Label)
	assert.Equal(t, []string{"11:30", "14:10 [IMAX]"}, taipei[0].Times)

	require.Contains(t, schedule, "高雄秀泰影城")
	kaohsiung := schedule["高雄秀泰影城"]
	require.Len(t, kaohsiung, 2)
	assert.Equal(t, "2月6日(五)", kaohsiung[0].Label)
	assert.Equal(t, []string{"12:00"}, kaohsiung[0].Times)
	assert.Equal(t, "2月7日(六)", kaohsiung[1].Label)
	assert.Equal(t, []string{"10:20 [3D]"}, kaohsiung[1].Times)
}

func TestUnit_Showtime_Schedule_TheaterFilter(t *testing.T) {
	server := newGoldenShowtimeServer(t)
	s := newGoldenShowtime(t, server)

	schedule, err := s.Schedule(context.Background(), internal.ScheduleRequest{
		MovieKey: "4101",
		Theaters: map[string]string{"台北": ""},
	})
	require.NoError(t, err)

	require.Len(t, schedule, 1)
	require.Contains(t, schedule, "台北")
	require.Len(t, schedule["台北"], 1)
}

func TestUnit_Showtime_PullGolden(t *testing.T) {
	server := newGoldenShowtimeServer(t)
	s := newGoldenShowtime(t, server)
	dir := t.TempDir()

	require.NoError(t, s.PullGolden(context.Background(), dir))

	for _, name := range []string{goldenBootstrapFile, goldenEventsFile, goldenVenuesFile} {
		raw, err := os.ReadFile(filepath.Join(dir, s.Descriptor(), name))
		require.NoError(t, err, name)
		assert.NotEmpty(t, raw, name)
	}
}

func TestUnit_Showtime_CatalogFromPrograms_Empty(t *testing.T) {
	_, err := catalogFromPrograms(nil, nil)
	assert.ErrorIs(t, err, errShowtimeNoPrograms)
}

func TestUnit_Showtime_ResolveVenues_CapturedResponsesWin(t *testing.T) {
	server := newGoldenShowtimeServer(t)
	s := newGoldenShowtime(t, server)
	captured := []string{
		`{"payload":{"venues":[{"id":31,"name":"台北秀泰影城","room":"10廳"},{"id":47,"name":"高雄秀泰影城"}]}}`,
	}

	venues := s.resolveVenues(context.Background(), []string{"31", "47"}, captured,
		func(string) (string, error) {
			t.Fatal("in-page fetch should not run when capture covers every id")
			return "", nil
		},
	)

	assert.Equal(t, internal.VenueInfo{Name: "台北秀泰影城", Room: "10廳"}, venues["31"])
	assert.Equal(t, internal.VenueInfo{Name: "高雄秀泰影城"}, venues["47"])
}

func TestUnit_Showtime_ResolveVenues_InPageFetchesOnlyMissing(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)
	s := newGoldenShowtime(t, server)
	captured := []string{
		`{"payload":{"venues":[{"id":31,"name":"台北秀泰影城"}]}}`,
	}

	venues := s.resolveVenues(context.Background(), []string{"31", "47"}, captured,
		func(target string) (string, error) {
			assert.Contains(t, target, "/1/venues/ids/47")
			assert.NotContains(t, target, "31")
			return `{"payload":{"venues":[{"id":47,"name":"高雄秀泰影城","room":"杜比廳"}]}}`, nil
		},
	)

	assert.Equal(t, 0, requests, "direct lookup should not run when the in-page fetch resolves the rest")
	assert.Equal(t, internal.VenueInfo{Name: "高雄秀泰影城", Room: "杜比廳"}, venues["47"])
}

func TestUnit_Showtime_ResolveVenues_DirectHTTPLastResort(t *testing.T) {
	server := newGoldenShowtimeServer(t)
	s := newGoldenShowtime(t, server)

	venues := s.resolveVenues(context.Background(), []string{"31", "47"}, nil,
		func(string) (string, error) {
			return "", errors.New("fetch blocked")
		},
	)

	assert.Equal(t, "台北秀泰影城", venues["31"].Name)
	assert.Equal(t, "高雄秀泰影城", venues["47"].Name)
}
