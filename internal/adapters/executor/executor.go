// Package executor performs the per-race action at fire time: pull the
// race's detail document and hand it to the downstream prediction and
// placement endpoints.
//
// The scheduler delivers actions at least once (misfire-grace retries,
// process restarts), so the downstream callees own idempotence for their
// side effects; this adapter only guarantees ordering within one call.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"paddock/internal/storage"
	"paddock/pkg/logx"
)

type Config struct {
	// PredictURL receives the race detail and returns a decision. Empty
	// disables forwarding entirely (fetch-only dry run).
	PredictURL string
	// PlaceURL receives the decision. Empty stops the chain after predict.
	PlaceURL string
	// RatePerSec throttles all outbound calls together.
	RatePerSec int
	Timeout    time.Duration
}

type Executor struct {
	cfg  Config
	http *http.Client
	lim  *rate.Limiter
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) *Executor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 2
	}
	return &Executor{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		lim:  rate.NewLimiter(rate.Limit(rps), rps),
		log:  log,
	}
}

// prediction is the predict endpoint's reply, forwarded verbatim to the
// placement endpoint. Play gates placement.
type prediction struct {
	Play     bool            `json:"play"`
	Decision json.RawMessage `json:"decision"`
}

// RunRace executes one race action. Any step failing aborts the chain; the
// error lands in the scheduler's run history.
func (e *Executor) RunRace(ctx context.Context, ev storage.Event) error {
	detail, err := e.fetchDetail(ctx, ev)
	if err != nil {
		return err
	}
	e.log.Info("race detail retrieved",
		logx.Int64("race", ev.ID),
		logx.Int("bytes", len(detail)))

	if strings.TrimSpace(e.cfg.PredictURL) == "" {
		e.log.Debug("no predict endpoint configured; detail dropped",
			logx.Int64("race", ev.ID))
		return nil
	}

	pred, err := e.predict(ctx, ev, detail)
	if err != nil {
		return err
	}
	if !pred.Play {
		e.log.Info("prediction declined to play", logx.Int64("race", ev.ID))
		return nil
	}
	if strings.TrimSpace(e.cfg.PlaceURL) == "" {
		e.log.Warn("prediction wants to play but no placement endpoint is configured",
			logx.Int64("race", ev.ID))
		return nil
	}
	return e.place(ctx, ev, pred.Decision)
}

func (e *Executor) fetchDetail(ctx context.Context, ev storage.Event) (json.RawMessage, error) {
	if strings.TrimSpace(ev.URL) == "" {
		return nil, fmt.Errorf("race %d has no detail url", ev.ID)
	}
	if err := e.lim.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ev.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("detail request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch detail: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch detail: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read detail: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("race %d detail is not valid JSON", ev.ID)
	}
	return body, nil
}

func (e *Executor) predict(ctx context.Context, ev storage.Event, detail json.RawMessage) (prediction, error) {
	payload := map[string]any{
		"race_id":   ev.ID,
		"unibet_id": ev.UnibetID,
		"race_time": ev.RaceTime,
		"detail":    detail,
	}
	var pred prediction
	if err := e.postJSON(ctx, e.cfg.PredictURL, payload, &pred); err != nil {
		return prediction{}, fmt.Errorf("predict race %d: %w", ev.ID, err)
	}
	return pred, nil
}

func (e *Executor) place(ctx context.Context, ev storage.Event, decision json.RawMessage) error {
	payload := map[string]any{
		"race_id":   ev.ID,
		"unibet_id": ev.UnibetID,
		"decision":  decision,
	}
	if err := e.postJSON(ctx, e.cfg.PlaceURL, payload, nil); err != nil {
		return fmt.Errorf("place race %d: %w", ev.ID, err)
	}
	e.log.Info("placement forwarded", logx.Int64("race", ev.ID))
	return nil
}

func (e *Executor) postJSON(ctx context.Context, url string, payload any, out any) error {
	if err := e.lim.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
