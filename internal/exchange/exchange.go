// Package exchange maintains a currency conversion table sourced from the
// ECB daily reference rates, with an on-disk fallback snapshot so a failed
// fetch never leaves the hub without rates.
package exchange

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// DefaultRatesURL is the ECB daily reference rate feed.
const DefaultRatesURL = "https://www.ecb.europa.eu/stats/eurofxref/eurofxref-daily.xml"

// ecbSubjectMarker must appear in a response body before we attempt to
// parse it; the feed serves an HTML error page on some failures.
const ecbSubjectMarker = "Reference rates"

// eurRubRate is a static EUR->RUB rate; RUB is absent from the ECB feed.
const eurRubRate = 102.57

// Table is an immutable rate snapshot. Rates map a currency code to its
// USD value (XYZ->USD, not USD->XYZ).
type Table struct {
	Rates     map[string]float64
	FetchedAt time.Time
}

// builtinTable is the minimal table served on very first run when neither
// a fetch nor a cached snapshot is available.
func builtinTable() Table {
	return Table{
		Rates: map[string]float64{
			"USD": 1.0,
			"EUR": 1.08,
			"GBP": 1.27,
			"JPY": 0.0067,
			"RUB": 1.08 / eurRubRate,
		},
	}
}

// Cache holds the current table and refreshes it on a fixed interval.
// Convert is safe for concurrent use; refreshes swap the table atomically.
type Cache struct {
	url          string
	snapshotPath string
	interval     time.Duration
	client       *http.Client
	log          *zerolog.Logger

	mu    sync.RWMutex
	table Table
}

// Options configures a Cache. Zero values fall back to defaults.
type Options struct {
	URL          string
	SnapshotPath string
	Interval     time.Duration
	Client       *http.Client
}

// New builds a cache seeded from the on-disk snapshot if one exists, or
// the built-in minimal table otherwise. Call Run to start refreshing.
func New(opts Options, logger *zerolog.Logger) *Cache {
	if opts.URL == "" {
		opts.URL = DefaultRatesURL
	}
	if opts.Interval <= 0 {
		opts.Interval = 24 * time.Hour
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}

	c := &Cache{
		url:          opts.URL,
		snapshotPath: opts.SnapshotPath,
		interval:     opts.Interval,
		client:       opts.Client,
		log:          logger,
		table:        builtinTable(),
	}

	if table, err := c.loadSnapshot(); err == nil {
		c.table = table
		logger.Info().Int("rates", len(table.Rates)).Msg("loaded exchange rate snapshot")
	}
	return c
}

// Convert resolves amount in the given currency to USD. Unknown currency
// codes pass the amount through unchanged and return false.
func (c *Cache) Convert(amount float64, currency string) (float64, bool) {
	if currency == "USD" {
		return amount, true
	}

	c.mu.RLock()
	rate, ok := c.table.Rates[currency]
	c.mu.RUnlock()
	if !ok {
		c.log.Warn().Str("currency", currency).Msg("no exchange rate for currency")
		return amount, false
	}
	return amount * rate, true
}

// Table returns the current snapshot.
func (c *Cache) Table() Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table
}

// Refresh fetches the latest table. On success it swaps the in-memory
// table and persists the raw feed as the fallback snapshot; on failure the
// previous table keeps serving.
func (c *Cache) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("build rates request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch rates: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read rates body: %w", err)
	}
	if !strings.Contains(string(body), ecbSubjectMarker) {
		return fmt.Errorf("rates body is not a reference rate document")
	}

	table, err := parseECB(body)
	if err != nil {
		return fmt.Errorf("parse rates: %w", err)
	}

	c.mu.Lock()
	c.table = table
	c.mu.Unlock()

	if err := c.writeSnapshot(body); err != nil {
		c.log.Warn().Err(err).Msg("failed to persist exchange rate snapshot")
	}
	c.log.Info().Int("rates", len(table.Rates)).Msg("exchange rates refreshed")
	return nil
}

// Run refreshes once immediately and then on the configured interval. Each
// scheduled refresh retries with exponential backoff before giving up
// until the next tick. Runs until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	c.refreshWithRetry(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.refreshWithRetry(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Cache) refreshWithRetry(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Second
	policy.MaxElapsedTime = 5 * time.Minute

	err := backoff.Retry(func() error {
		return c.Refresh(ctx)
	}, backoff.WithContext(policy, ctx))
	if err != nil && ctx.Err() == nil {
		c.log.Error().Err(err).Msg("exchange rate refresh failed, serving previous table")
	}
}

func (c *Cache) loadSnapshot() (Table, error) {
	if c.snapshotPath == "" {
		return Table{}, os.ErrNotExist
	}
	body, err := os.ReadFile(c.snapshotPath)
	if err != nil {
		return Table{}, err
	}
	return parseECB(body)
}

func (c *Cache) writeSnapshot(body []byte) error {
	if c.snapshotPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.snapshotPath), 0o755); err != nil {
		return err
	}
	tmp := c.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.snapshotPath)
}

type ecbCube struct {
	Currency string `xml:"currency,attr"`
	Rate     string `xml:"rate,attr"`
}

type ecbEnvelope struct {
	Cubes []ecbCube `xml:"Cube>Cube>Cube"`
}

// parseECB converts the ECB feed (EUR-relative rates) into a USD-relative
// table: (EUR->USD) / (EUR->XYZ) == (XYZ->USD).
func parseECB(body []byte) (Table, error) {
	var env ecbEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return Table{}, err
	}
	if len(env.Cubes) == 0 {
		return Table{}, fmt.Errorf("no rates in document")
	}

	eurTo := make(map[string]float64, len(env.Cubes)+2)
	for _, cube := range env.Cubes {
		rate, err := strconv.ParseFloat(cube.Rate, 64)
		if err != nil {
			return Table{}, fmt.Errorf("rate for %s: %w", cube.Currency, err)
		}
		if rate <= 0 || math.IsInf(rate, 0) || math.IsNaN(rate) {
			return Table{}, fmt.Errorf("rate for %s is not a positive finite number", cube.Currency)
		}
		eurTo[cube.Currency] = rate
	}

	usd, ok := eurTo["USD"]
	if !ok {
		return Table{}, fmt.Errorf("feed is missing USD")
	}
	eurTo["EUR"] = 1.0
	eurTo["RUB"] = eurRubRate

	rates := make(map[string]float64, len(eurTo))
	for currency, rate := range eurTo {
		rates[currency] = usd / rate
	}
	rates["USD"] = 1.0

	return Table{Rates: rates, FetchedAt: time.Now()}, nil
}
