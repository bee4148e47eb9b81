package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"aplsync/internal/apl"
	"aplsync/internal/config"
)

// Payload is one fetched APL publication, fingerprinted for change detection.
type Payload struct {
	Data        []byte
	Fingerprint string
	RetrievedAt time.Time
}

// Fetcher retrieves the raw published file for a state. A configured local
// path takes precedence over the download URL.
type Fetcher struct {
	HTTP      *http.Client
	UserAgent string
}

const maxSourceBytes = 64 << 20

func (f *Fetcher) Fetch(ctx context.Context, st config.StateConfig) (Payload, error) {
	if st.LocalPath != "" {
		return f.fetchLocal(st)
	}
	return f.fetchHTTP(ctx, st)
}

func (f *Fetcher) fetchLocal(st config.StateConfig) (Payload, error) {
	data, err := os.ReadFile(st.LocalPath)
	if err != nil {
		return Payload{}, &apl.FetchError{State: st.Code, Source: st.LocalPath, Err: err}
	}
	return newPayload(data), nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, st config.StateConfig) (Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, st.DownloadURL, nil)
	if err != nil {
		return Payload{}, &apl.FetchError{State: st.Code, Source: st.DownloadURL, Err: err}
	}
	// The publishing agency asked for identifiable traffic.
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := f.httpClient().Do(req)
	if err != nil {
		return Payload{}, &apl.FetchError{State: st.Code, Source: st.DownloadURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Payload{}, &apl.FetchError{
			State:  st.Code,
			Source: st.DownloadURL,
			Err:    fmt.Errorf("http %d", resp.StatusCode),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
	if err != nil {
		return Payload{}, &apl.FetchError{State: st.Code, Source: st.DownloadURL, Err: err}
	}
	return newPayload(data), nil
}

func (f *Fetcher) httpClient() *http.Client {
	if f != nil && f.HTTP != nil {
		return f.HTTP
	}
	return http.DefaultClient
}

func newPayload(data []byte) Payload {
	sum := sha256.Sum256(data)
	return Payload{
		Data:        data,
		Fingerprint: hex.EncodeToString(sum[:]),
		RetrievedAt: time.Now().UTC(),
	}
}
