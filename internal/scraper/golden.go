package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	goldenBootstrapFile = "bootstrap.json"
	goldenEventsFile    = "events.json"
	goldenVenuesFile    = "venues.json"
)

// PullGolden snapshots one full API round into golden files: the
// bootstrap, then the events and venues for the first program by name.
// Run it against the live API when the upstream payloads drift.
func (s *ShowtimeScraper) PullGolden(ctx context.Context, goldenDir string) error {
	dir := filepath.Join(goldenDir, s.Descriptor())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create golden dir: %w", err)
	}

	bootstrapURL := fmt.Sprintf("%s/1/app/bootstrap?appVersion=%s", s.apiBase, showtimeAppVersion)
	raw, err := s.pullGoldenFile(ctx, bootstrapURL, filepath.Join(dir, goldenBootstrapFile))
	if err != nil {
		return err
	}
	var bootstrap showtimeBootstrapPayload
	if err := json.Unmarshal(raw, &bootstrap); err != nil {
		return fmt.Errorf("decode bootstrap: %w", err)
	}
	catalog, err := catalogFromPrograms(bootstrap.Payload.Programs, nil)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(catalog.Options))
	for name := range catalog.Options {
		names = append(names, name)
	}
	sort.Strings(names)
	programID := catalog.Options[names[0]]

	today := s.now().In(taipeiZone).Format("2006-01-02")
	eventsURL := fmt.Sprintf("%s/1/events/listForProgram/%s?date=%s&forVista=false", s.apiBase, programID, today)
	raw, err = s.pullGoldenFile(ctx, eventsURL, filepath.Join(dir, goldenEventsFile))
	if err != nil {
		return err
	}
	var eventsPayload showtimeEventsPayload
	if err := json.Unmarshal(raw, &eventsPayload); err != nil {
		return fmt.Errorf("decode events: %w", err)
	}

	ids := venueIDs(eventsPayload.rawEvents(programID))
	if len(ids) == 0 {
		return nil
	}
	venuesURL := fmt.Sprintf("%s/1/venues/ids/%s", s.apiBase, strings.Join(ids, ","))
	_, err = s.pullGoldenFile(ctx, venuesURL, filepath.Join(dir, goldenVenuesFile))
	return err
}

func (s *ShowtimeScraper) pullGoldenFile(ctx context.Context, target, path string) ([]byte, error) {
	body, err := s.client.Get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("pull %s: %w", target, err)
	}
	defer func() {
		_ = body.Close()
	}()
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err == nil {
		raw = pretty.Bytes()
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return raw, nil
}

// MountGolden serves the snapshotted API from disk with the live
// endpoint shapes, so tests can point a scraper at it over HTTP.
func (s *ShowtimeScraper) MountGolden(_ context.Context, goldenDir string) (http.Handler, error) {
	dir := filepath.Join(goldenDir, s.Descriptor())
	if _, err := os.Stat(filepath.Join(dir, goldenBootstrapFile)); err != nil {
		return nil, fmt.Errorf("golden files missing under %s: %w", dir, err)
	}
	mux := http.NewServeMux()
	serve := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			http.ServeFile(w, r, filepath.Join(dir, name))
		}
	}
	mux.HandleFunc("/1/app/bootstrap", serve(goldenBootstrapFile))
	mux.HandleFunc("/1/events/listForProgram/", serve(goldenEventsFile))
	mux.HandleFunc("/1/venues/ids/", serve(goldenVenuesFile))
	return mux, nil
}
