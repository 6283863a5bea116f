// Package unibet fetches the daily turf programme from the source's
// structured endpoint.
package unibet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"paddock/internal/storage"
	"paddock/internal/timeutil"
	"paddock/pkg/logx"
)

type Config struct {
	// ProgrammeURL serves the day's race list as JSON.
	ProgrammeURL string
	// Venue is the timezone race times are rendered in for storage.
	Venue   *time.Location
	Timeout time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
	now  func() time.Time
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.ProgrammeURL) == "" {
		return nil, errors.New("programme url is empty")
	}
	if _, err := url.Parse(cfg.ProgrammeURL); err != nil {
		return nil, fmt.Errorf("programme url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock overrides the time source. Tests only.
func (c *Client) SetClock(now func() time.Time) { c.now = now }

// programme mirrors the endpoint's payload. StartTime is epoch
// milliseconds UTC; Distance is a display string like "2700m".
type programme struct {
	Races []programmeRace `json:"races"`
}

type programmeRace struct {
	RaceID       string `json:"raceId"`
	StartTime    int64  `json:"startTime"`
	RaceTitle    string `json:"raceTitle"`
	MeetingTitle string `json:"meetingTitle"`
	URL          string `json:"url"`
	Surface      string `json:"surface"`
	Distance     string `json:"distance"`
}

// FetchToday retrieves the programme and maps it to storage records. A race
// with an unusable start time or missing id is skipped with a warning; it
// never aborts the batch.
func (c *Client) FetchToday(ctx context.Context) ([]storage.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ProgrammeURL, nil)
	if err != nil {
		return nil, fmt.Errorf("programme request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch programme: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch programme: unexpected status %s", resp.Status)
	}

	var p programme
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode programme: %w", err)
	}

	fetchedAt := c.now()
	events := make([]storage.Event, 0, len(p.Races))
	for _, r := range p.Races {
		if strings.TrimSpace(r.RaceID) == "" {
			c.log.Warn("programme race without id; skipping",
				logx.String("name", r.RaceTitle))
			continue
		}
		if r.StartTime <= 0 {
			c.log.Warn("programme race with bad start time; skipping",
				logx.String("race", r.RaceID),
				logx.Int64("start_ms", r.StartTime))
			continue
		}
		startUTC := time.UnixMilli(r.StartTime).UTC()
		events = append(events, storage.Event{
			UnibetID:  r.RaceID,
			Name:      r.RaceTitle,
			Meeting:   r.MeetingTitle,
			RaceTime:  timeutil.FormatVenue(startUTC, c.cfg.Venue),
			URL:       c.detailURL(r),
			Surface:   r.Surface,
			DistanceM: parseDistance(r.Distance),
			FetchedAt: fetchedAt,
		})
	}
	c.log.Info("programme fetched",
		logx.Int("races", len(events)),
		logx.Int("skipped", len(p.Races)-len(events)))
	return events, nil
}

// detailURL prefers the URL the programme carries; races listed without one
// get the canonical course path on the programme's host.
func (c *Client) detailURL(r programmeRace) string {
	if strings.TrimSpace(r.URL) != "" {
		return r.URL
	}
	base, err := url.Parse(c.cfg.ProgrammeURL)
	if err != nil {
		return ""
	}
	base.Path = "/turf/course/" + r.RaceID
	base.RawQuery = ""
	return base.String()
}

func parseDistance(s string) int {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "m"))
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
