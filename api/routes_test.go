package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/NebulousLabs/errors"

	"github.com/cccoolll/agent-lens/modules"
)

// fakeServer is a modules.TileServer whose behavior a test can script.
type fakeServer struct {
	getTileErr       error
	getTileResp      []byte
	getMergedResp    []byte
	getMergedErr     error
	healthErr        error
	lastTile         modules.TileCoord
	lastSettings     modules.ChannelSettings
	lastPriority     int
	lastMergedTiles  []modules.TileCoord
	lastMergedSettings map[int]modules.ChannelSettings
}

func (f *fakeServer) GetTile(ctx context.Context, tile modules.TileCoord, settings modules.ChannelSettings, priority int) ([]byte, error) {
	f.lastTile = tile
	f.lastSettings = settings
	f.lastPriority = priority
	if f.getTileErr != nil {
		return nil, f.getTileErr
	}
	if f.getTileResp != nil {
		return f.getTileResp, nil
	}
	return []byte("png-bytes"), nil
}

func (f *fakeServer) GetMergedTile(ctx context.Context, tiles []modules.TileCoord, settings map[int]modules.ChannelSettings, priority int) ([]byte, error) {
	f.lastMergedTiles = tiles
	f.lastMergedSettings = settings
	f.lastPriority = priority
	if f.getMergedErr != nil {
		return nil, f.getMergedErr
	}
	if f.getMergedResp != nil {
		return f.getMergedResp, nil
	}
	return []byte("merged-png-bytes"), nil
}

func (f *fakeServer) Prefetch(ctx context.Context, tiles []modules.TileCoord, priority int) int {
	return len(tiles)
}

func (f *fakeServer) WarmArchive(ctx context.Context, key modules.ArchiveKey) error {
	return nil
}

func (f *fakeServer) Health(ctx context.Context) error {
	return f.healthErr
}

// TestTileHandlerHappyPath checks a well-formed request reaches the
// server with the right coordinates and returns its PNG bytes verbatim.
func TestTileHandlerHappyPath(t *testing.T) {
	srv := &fakeServer{getTileResp: []byte("hello-png")}
	api := NewAPI(srv)
	ts := httptest.NewServer(api.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/tile?dataset_id=ds&timestamp=2024&channel=0&scale=0&x=1&y=2&priority=5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %q", ct)
	}

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if buf.String() != "hello-png" {
		t.Fatalf("unexpected body: %q", buf.String())
	}

	if srv.lastTile.Dataset != "ds" || srv.lastTile.Timestamp != "2024" || srv.lastTile.X != 1 || srv.lastTile.Y != 2 {
		t.Fatalf("unexpected parsed tile coord: %+v", srv.lastTile)
	}
	if srv.lastPriority != 5 {
		t.Fatalf("expected priority 5, got %d", srv.lastPriority)
	}
}

// TestTileHandlerMissingDatasetIs400 checks the InvalidRequest → 400
// mapping.
func TestTileHandlerMissingDatasetIs400(t *testing.T) {
	api := NewAPI(&fakeServer{})
	ts := httptest.NewServer(api.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/tile?timestamp=2024")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// TestTileHandlerDegradesToBlackTileOnInternalFailure checks that a
// non-InvalidRequest error from the server still returns 200 with a
// (black-tile) PNG body rather than propagating the failure.
func TestTileHandlerDegradesToBlackTileOnInternalFailure(t *testing.T) {
	srv := &fakeServer{getTileErr: errors.New("boom")}
	api := NewAPI(srv)
	ts := httptest.NewServer(api.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/tile?dataset_id=ds&timestamp=2024")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 even on internal failure, got %d", resp.StatusCode)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if buf.Len() == 0 {
		t.Fatal("expected a non-empty black-tile PNG body")
	}
}

// TestMergedTileHandlerParsesChannelsList checks the channels=c1,c2 query
// param fans out into one TileCoord per channel.
func TestMergedTileHandlerParsesChannelsList(t *testing.T) {
	srv := &fakeServer{}
	api := NewAPI(srv)
	ts := httptest.NewServer(api.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/merged-tile?dataset_id=ds&timestamp=2024&channels=0,12&scale=0&x=0&y=0")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	if len(srv.lastMergedTiles) != 2 || srv.lastMergedTiles[0].Channel != 0 || srv.lastMergedTiles[1].Channel != 12 {
		t.Fatalf("unexpected merged tiles: %+v", srv.lastMergedTiles)
	}
}

// TestMergedTileHandlerParsesPerChannelSettings checks the settings=
// JSON-object query param is decoded per channel.
func TestMergedTileHandlerParsesPerChannelSettings(t *testing.T) {
	srv := &fakeServer{}
	api := NewAPI(srv)
	ts := httptest.NewServer(api.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/merged-tile?dataset_id=ds&timestamp=2024&channels=12&settings=" + `{"12":{"contrast":0.5}}`)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	s, ok := srv.lastMergedSettings[12]
	if !ok {
		t.Fatal("expected channel 12's settings to be present")
	}
	if s.Contrast != 0.5 {
		t.Fatalf("expected contrast 0.5, got %v", s.Contrast)
	}
}

// TestHealthHandlerReportsOkAndError checks the only two health response
// shapes.
func TestHealthHandlerReportsOkAndError(t *testing.T) {
	ok := &fakeServer{}
	apiOK := NewAPI(ok)
	tsOK := httptest.NewServer(apiOK.Handler)
	defer tsOK.Close()

	resp, err := http.Get(tsOK.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var status healthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Status != "ok" {
		t.Fatalf("expected status ok, got %q", status.Status)
	}

	failing := &fakeServer{healthErr: errors.New("archive unreachable")}
	apiFail := NewAPI(failing)
	tsFail := httptest.NewServer(apiFail.Handler)
	defer tsFail.Close()

	resp2, err := http.Get(tsFail.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp2.StatusCode)
	}
}

// TestUnrecognizedRouteIs404 checks the custom 404 handler.
func TestUnrecognizedRouteIs404(t *testing.T) {
	api := NewAPI(&fakeServer{})
	ts := httptest.NewServer(api.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
