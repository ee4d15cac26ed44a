/*
 * Triggerr
 * Copyright (C) 2025  Triggerr, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package sources

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gravitational/trace"
)

// maxResponseBytes caps provider response bodies; anything larger is a
// malformed or hostile response.
const maxResponseBytes = 4 << 20

// getJSON issues a GET against base+path with the given query values,
// applies authFn to the request, and decodes the JSON response into out.
// Provider HTTP statuses are translated into the trace taxonomy so that the
// executor and router can tell transport, auth and no-data apart.
func getJSON(ctx context.Context, client *http.Client, base, path string, query url.Values, authFn func(*http.Request), out any) error {
	u, err := url.Parse(base)
	if err != nil {
		return trace.Wrap(err)
	}
	u = u.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return trace.Wrap(err)
	}
	req.Header.Set("Accept", "application/json")
	if authFn != nil {
		authFn(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return trace.ConnectionProblem(err, "request to %v failed", u.Host)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return trace.ConnectionProblem(err, "reading response from %v", u.Host)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return trace.NotFound("%v returned no data", u.Host)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return trace.AccessDenied("%v rejected credentials: %v", u.Host, resp.Status)
	case resp.StatusCode == http.StatusTooManyRequests:
		return trace.LimitExceeded("%v rate limited the request", u.Host)
	case resp.StatusCode >= 400:
		return trace.ConnectionProblem(nil, "%v returned %v", u.Host, resp.Status)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return trace.BadParameter("malformed response from %v: %v", u.Host, err)
	}
	return nil
}

// parseProviderTime accepts the timestamp shapes seen across providers and
// returns UTC. Empty input returns the zero time with no error.
func parseProviderTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, trace.BadParameter("unsupported timestamp %q", s)
}

func minutesBetween(from, to time.Time) int {
	return int(to.Sub(from) / time.Minute)
}
