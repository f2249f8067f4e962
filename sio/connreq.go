/* Copyright 2026 The CWMP Session Engine Authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sio

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/publicsuffix"
)

// ConnReqClient pokes a CPE's connection-request URL so the device
// initiates a CWMP session. Some CPEs set session cookies on the
// challenge round-trip, so the client carries a cookie jar.
type ConnReqClient struct {
	client *http.Client

	Username string
	Password string
}

// NewConnReqClient makes a client with a fresh cookie jar.
func NewConnReqClient(timeout time.Duration) (*ConnReqClient, error) {
	jar, err := cookiejar.New(&cookiejar.Options{
		PublicSuffixList: publicsuffix.List,
	})
	if err != nil {
		return nil, err
	}
	return &ConnReqClient{
		client: &http.Client{
			Jar:     jar,
			Timeout: timeout,
		},
	}, nil
}

// Request issues the connection request. A 401 challenge is retried
// once with basic credentials; 2xx (or the 503 some CPEs answer with
// when a session is already running) counts as delivered.
func (c *ConnReqClient) Request(ctx context.Context, url string) error {
	resp, err := c.get(ctx, url, false)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized && c.Username != "" {
		resp, err = c.get(ctx, url, true)
		if err != nil {
			return err
		}
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusServiceUnavailable:
		return nil
	default:
		return fmt.Errorf("connection request to %s: status %s", url, resp.Status)
	}
}

func (c *ConnReqClient) get(ctx context.Context, url string, auth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	if auth {
		req.SetBasicAuth(c.Username, c.Password)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	return resp, nil
}
