package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/datascaled/hyperx-pilot/core"
	"github.com/datascaled/hyperx-pilot/memorywriter"
)

// Test the origin validation
func TestOriginValidator(t *testing.T) {
	testcases := []struct {
		origin string
		allow  bool
	}{
		// no Origin header means a non-browser caller, allowed
		{"", true},
		// loopback origins for the local UI
		{"http://localhost", true},
		{"http://localhost:8000", true},
		{"https://localhost:5999", true},
		{"http://127.0.0.1:21789", true},
		{"tauri://localhost", true},
		// anything remote is denied
		{"https://example.com", false},
		{"http://localhost.evil.com", false},
		{"http://127.0.0.2", false},
		{"null", false},
	}
	validator, err := corsValidator()
	if err != nil {
		t.Fatal(err)
	}
	for _, tc := range testcases {
		allow := validator(tc.origin)
		if allow != tc.allow {
			t.Errorf("Origin %q: expected %v, got %v", tc.origin, tc.allow, allow)
		}
	}
}

// fake bus with one Cloud III that remembers its sidetone report
type fakeDevice struct {
	sidetone bool
}

func (d *fakeDevice) SendFeature(data []byte) (int, error) {
	if data[0] == 0x20 {
		d.sidetone = data[2] == 1
	}
	return len(data), nil
}

func (d *fakeDevice) GetFeature(reportID byte, length int) ([]byte, error) {
	report := make([]byte, length)
	report[0] = reportID
	if reportID == 0x20 {
		report[1] = 0x86
		if d.sidetone {
			report[2] = 1
		}
	}
	if reportID == 0x52 {
		report[3], report[4] = 0xFF, 0x00
	}
	return report, nil
}

func (d *fakeDevice) Close() error { return nil }

type fakeBus struct {
	dev     *fakeDevice
	enumErr error
}

func (b *fakeBus) Enumerate() ([]core.BusInfo, error) {
	if b.enumErr != nil {
		return nil, b.enumErr
	}
	return []core.BusInfo{{Path: "hid-dev1", VendorID: 0x03F0, ProductID: 0x089D}}, nil
}

func (b *fakeBus) Connect(path string) (core.BusDevice, error) {
	if path != "hid-dev1" {
		return nil, errors.New("no such device")
	}
	return b.dev, nil
}

func (b *fakeBus) Has(path string) bool { return path == "hid-dev1" }

func testServer(t *testing.T, bus core.Bus) *httptest.Server {
	t.Helper()
	mw := memorywriter.New(1000, 10, false)
	c := core.New(bus, mw)
	r := mux.NewRouter()
	if err := ServeAPI(r.Methods("POST").Subrouter(), c, "1.0.0-test", mw); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestInfoEndpoint(t *testing.T) {
	srv := testServer(t, &fakeBus{dev: &fakeDevice{}})

	res, err := http.Post(srv.URL+"/", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	var info struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.Version != "1.0.0-test" {
		t.Errorf("version = %q", info.Version)
	}
}

func TestEnumerateEndpoint(t *testing.T) {
	srv := testServer(t, &fakeBus{dev: &fakeDevice{}})

	res, err := http.Post(srv.URL+"/enumerate", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	var entries core.Descriptors
	if err := json.NewDecoder(res.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != "hid-dev1" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestSidetoneSetAndGetEndpoints(t *testing.T) {
	srv := testServer(t, &fakeBus{dev: &fakeDevice{}})

	res, err := http.Post(srv.URL+"/sidetone/set/hid-dev1/on", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set returned %d", res.StatusCode)
	}

	res, err = http.Post(srv.URL+"/sidetone/get/hid-dev1", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	var state struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(res.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if !state.Enabled {
		t.Error("sidetone not enabled after set")
	}
}

func TestSetRejectsBadState(t *testing.T) {
	srv := testServer(t, &fakeBus{dev: &fakeDevice{}})

	res, err := http.Post(srv.URL+"/sidetone/set/hid-dev1/maybe", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("bad state returned %d, want 400", res.StatusCode)
	}
}

func TestStaleDeviceIsJSONError(t *testing.T) {
	srv := testServer(t, &fakeBus{dev: &fakeDevice{}})

	res, err := http.Post(srv.URL+"/sidetone/get/hid-gone", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("stale id returned %d, want 400", res.StatusCode)
	}

	var jsonErr struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&jsonErr); err != nil {
		t.Fatal(err)
	}
	if jsonErr.Error == "" {
		t.Error("error reply has no message")
	}
}

func TestRemoteOriginForbidden(t *testing.T) {
	srv := testServer(t, &fakeBus{dev: &fakeDevice{}})

	req, err := http.NewRequest("POST", srv.URL+"/enumerate", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Origin", "https://example.com")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusForbidden {
		t.Errorf("remote origin returned %d, want 403", res.StatusCode)
	}
}
