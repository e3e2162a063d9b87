package main

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// sessionCookie matches the cookie set by the server on login.
const sessionCookie = "sharebox_session"

// Client is an HTTP client for the sharebox API.
type Client struct {
	addr    string
	session string
	http    *http.Client
}

// newClient creates a Client from the current config.
func newClient() *Client {
	addr := cfg.Address
	if v := os.Getenv("SHAREBOX_ADDR"); v != "" {
		addr = v
	}
	session := cfg.Session
	if v := os.Getenv("SHAREBOX_SESSION"); v != "" {
		session = v
	}
	caCert := cfg.TLSCACert
	if v := os.Getenv("SHAREBOX_CACERT"); v != "" {
		caCert = v
	}

	tlsCfg := &tls.Config{}
	if caCert != "" {
		data, err := os.ReadFile(caCert)
		if err == nil {
			pool := x509.NewCertPool()
			pool.AppendCertsFromPEM(data)
			tlsCfg.RootCAs = pool
		}
	}

	// No overall timeout: uploads and downloads may be large.
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig:       tlsCfg,
			ResponseHeaderTimeout: 60 * time.Second,
		},
	}

	return &Client{addr: strings.TrimRight(addr, "/"), session: session, http: httpClient}
}

// escapePath escapes each segment of a root-relative path for use in a URL.
func escapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

func (c *Client) newRequest(method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, c.addr+path, body)
	if err != nil {
		return nil, err
	}
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.session})
	}
	return req, nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := c.newRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func (c *Client) get(path string) (map[string]any, error) {
	var result map[string]any
	err := c.call("GET", path, nil, &result)
	return result, err
}

func (c *Client) post(path string, body any) (map[string]any, error) {
	var result map[string]any
	err := c.call("POST", path, body, &result)
	return result, err
}

func (c *Client) put(path string, body any) (map[string]any, error) {
	var result map[string]any
	err := c.call("PUT", path, body, &result)
	return result, err
}

func (c *Client) delete(path string) error {
	return c.call("DELETE", path, nil, nil)
}

// call performs a JSON request and decodes the response into dst.
func (c *Client) call(method, path string, body, dst any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	return parseResponse(resp, dst)
}

// upload streams a local file as multipart form data.
func (c *Client) upload(local, dir string) (map[string]any, error) {
	f, err := os.Open(local)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := mw.WriteField("currentPath", dir)
		if err == nil {
			var part io.Writer
			part, err = mw.CreateFormFile("file", filepath.Base(local))
			if err == nil {
				_, err = io.Copy(part, f)
			}
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest("POST", "/api/upload", pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	err = parseResponse(resp, &result)
	return result, err
}

// fetch returns the raw body of a GET, for downloads and images.
func (c *Client) fetch(path string) (*http.Response, error) {
	req, err := c.newRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, parseResponse(resp, nil)
	}
	return resp, nil
}

func parseResponse(resp *http.Response, dst any) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Errors []string `json:"errors"`
		}
		if json.Unmarshal(data, &e) == nil && len(e.Errors) > 0 {
			return fmt.Errorf("%s", e.Errors[0])
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if dst == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, data)
	}
	return nil
}
