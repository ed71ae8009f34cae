package pilotapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/datascaled/hyperx-pilot/core"
)

// Package pilotapi is a Go client for the bridge daemon. It satisfies
// toggle.Commander, so a frontend process can run the synchronizer
// against a remote daemon exactly as it would against an in-process
// core.

const DefaultURL = "http://127.0.0.1:21789"

type Client struct {
	url string

	// Version reported by the daemon during the handshake.
	Version string
}

// New connects to a daemon and verifies it answers the version
// handshake.
func New(url string) (*Client, error) {
	if url == "" {
		url = DefaultURL
	}
	c := &Client{url: url}

	var version struct {
		Version string `json:"version"`
	}
	err := c.post(context.Background(), "/", nil, func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&version)
	})
	if err != nil {
		return nil, fmt.Errorf("daemon handshake: %w", err)
	}
	c.Version = version.Version
	return c, nil
}

func (c *Client) post(ctx context.Context, path string, body io.Reader, decode func(r io.Reader) error) error {
	req, err := http.NewRequestWithContext(ctx, "POST", c.url+path, body)
	if err != nil {
		return err
	}
	// the daemon only answers allowed origins
	req.Header.Add("Origin", "http://127.0.0.1")

	r, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := r.Body.Close(); errClose != nil {
			fmt.Println(errClose)
		}
	}()

	if r.StatusCode != http.StatusOK {
		var remote struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(r.Body).Decode(&remote); err == nil && remote.Error != "" {
			return fmt.Errorf("daemon: %s", remote.Error)
		}
		return fmt.Errorf("wrong status code %d", r.StatusCode)
	}

	if decode == nil {
		return nil
	}
	return decode(r.Body)
}

// Enumerate lists attached supported headsets.
func (c *Client) Enumerate(ctx context.Context) (core.Descriptors, error) {
	var entries core.Descriptors
	err := c.post(ctx, "/enumerate", nil, func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&entries)
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Listen blocks until the device list differs from entries. Cancelling
// the context cancels the long poll.
func (c *Client) Listen(ctx context.Context, entries core.Descriptors) (core.Descriptors, error) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(entries); err != nil {
		return nil, err
	}

	var res core.Descriptors
	err := c.post(ctx, "/listen", &body, func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&res)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func boolPath(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

func (c *Client) getFeature(ctx context.Context, feature, deviceID string) (bool, error) {
	var state struct {
		Enabled bool `json:"enabled"`
	}
	err := c.post(ctx, "/"+feature+"/get/"+deviceID, nil, func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&state)
	})
	return state.Enabled, err
}

func (c *Client) setFeature(ctx context.Context, feature, deviceID string, enabled bool) error {
	path := strings.Join([]string{"", feature, "set", deviceID, boolPath(enabled)}, "/")
	return c.post(ctx, path, nil, nil)
}

// GetSidetone reads the sidetone state of a device.
func (c *Client) GetSidetone(ctx context.Context, deviceID string) (bool, error) {
	return c.getFeature(ctx, "sidetone", deviceID)
}

// SetSidetone switches sidetone on or off.
func (c *Client) SetSidetone(ctx context.Context, deviceID string, enabled bool) error {
	return c.setFeature(ctx, "sidetone", deviceID, enabled)
}

// GetSpatial reads the spatial sound state of a device.
func (c *Client) GetSpatial(ctx context.Context, deviceID string) (bool, error) {
	return c.getFeature(ctx, "spatial", deviceID)
}

// SetSpatial switches spatial sound on or off.
func (c *Client) SetSpatial(ctx context.Context, deviceID string, enabled bool) error {
	return c.setFeature(ctx, "spatial", deviceID, enabled)
}
