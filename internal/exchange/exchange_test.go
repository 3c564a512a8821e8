package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<gesmes:Envelope xmlns:gesmes="http://www.gesmes.org/xml/2002-08-01" xmlns="http://www.ecb.int/vocabulary/2002-08-01/eurofxref">
  <gesmes:subject>Reference rates</gesmes:subject>
  <gesmes:Sender><gesmes:name>European Central Bank</gesmes:name></gesmes:Sender>
  <Cube>
    <Cube time="2026-08-28">
      <Cube currency="USD" rate="1.0852"/>
      <Cube currency="JPY" rate="163.45"/>
      <Cube currency="GBP" rate="0.8499"/>
    </Cube>
  </Cube>
</gesmes:Envelope>`

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestParseECBNormalizesToUSD(t *testing.T) {
	table, err := parseECB([]byte(sampleFeed))
	require.NoError(t, err)

	assert.Equal(t, 1.0, table.Rates["USD"])
	// The feed is EUR-relative; one EUR is worth the USD cube value.
	assert.InDelta(t, 1.0852, table.Rates["EUR"], 1e-9)
	assert.InDelta(t, 1.0852/163.45, table.Rates["JPY"], 1e-9)
	assert.InDelta(t, 1.0852/0.8499, table.Rates["GBP"], 1e-9)
	// RUB comes from the static supplement, not the feed.
	assert.InDelta(t, 1.0852/eurRubRate, table.Rates["RUB"], 1e-9)
}

func TestParseECBRejectsBadRates(t *testing.T) {
	bad := `<Envelope><Cube><Cube time="t"><Cube currency="USD" rate="-2"/></Cube></Cube></Envelope>`
	_, err := parseECB([]byte(bad))
	require.Error(t, err)

	missingUSD := `<Envelope><Cube><Cube time="t"><Cube currency="JPY" rate="163"/></Cube></Cube></Envelope>`
	_, err = parseECB([]byte(missingUSD))
	require.Error(t, err)
}

func TestRefreshSwapsTableAndWritesSnapshot(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer ts.Close()

	snapshot := filepath.Join(t.TempDir(), "rates.xml")
	c := New(Options{URL: ts.URL, SnapshotPath: snapshot}, testLogger())
	require.NoError(t, c.Refresh(context.Background()))

	got, ok := c.Convert(10, "EUR")
	require.True(t, ok)
	assert.InDelta(t, 10.852, got, 1e-9)

	// A fresh cache must seed itself from the snapshot without fetching.
	seeded := New(Options{URL: "http://127.0.0.1:0", SnapshotPath: snapshot}, testLogger())
	got, ok = seeded.Convert(10, "EUR")
	require.True(t, ok)
	assert.InDelta(t, 10.852, got, 1e-9)
}

func TestRefreshRejectsNonReferenceBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer ts.Close()

	c := New(Options{URL: ts.URL}, testLogger())
	require.Error(t, c.Refresh(context.Background()))

	// The built-in seed table keeps serving.
	got, ok := c.Convert(10, "EUR")
	require.True(t, ok)
	assert.InDelta(t, 10.8, got, 1e-9)
}

func TestRefreshFailureKeepsPreviousTable(t *testing.T) {
	healthy := true
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer ts.Close()

	c := New(Options{URL: ts.URL}, testLogger())
	require.NoError(t, c.Refresh(context.Background()))

	healthy = false
	require.Error(t, c.Refresh(context.Background()))

	got, ok := c.Convert(10, "EUR")
	require.True(t, ok)
	assert.InDelta(t, 10.852, got, 1e-9)
}

func TestConvertUnknownCurrency(t *testing.T) {
	c := New(Options{URL: "http://127.0.0.1:0"}, testLogger())

	got, ok := c.Convert(500, "XYZ")
	assert.False(t, ok)
	assert.Equal(t, 500.0, got, "unknown currencies pass through unchanged")

	got, ok = c.Convert(7, "USD")
	assert.True(t, ok)
	assert.Equal(t, 7.0, got)
}
