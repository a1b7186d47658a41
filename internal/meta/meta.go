// Package meta fetches and caches instrument contract metadata. Every
// notional conversion in the pipeline depends on ctVal, so fetching is
// strict: a response without the contract fields is an error, not a default.
// tickSz is optional and consumers must tolerate its absence.
package meta

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const fetchTimeout = 10 * time.Second

var validate = validator.New()

// Normalized is the contract parameter block consumers read. The raw
// exchange document is kept alongside it for later inspection.
type Normalized struct {
	CtVal  string `json:"ctVal" validate:"required"`
	CtMult string `json:"ctMult" validate:"required"`
	CtType string `json:"ctType" validate:"required"`
	TickSz string `json:"tickSz"`
	LotSz  string `json:"lotSz"`
}

// Instrument is the cached metadata document for one instrument.
type Instrument struct {
	InstID     string          `json:"instId" validate:"required"`
	Raw        json.RawMessage `json:"raw"`
	Normalized Normalized      `json:"normalized"`
}

// ContractValue returns ctVal as a decimal.
func (in *Instrument) ContractValue() (decimal.Decimal, error) {
	v, err := decimal.NewFromString(in.Normalized.CtVal)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("instrument %s: invalid ctVal %q: %w", in.InstID, in.Normalized.CtVal, err)
	}
	return v, nil
}

// TickSize returns tickSz when present and positive. Instruments without a
// usable tick size return (nil, false) and tick-based metrics stay null.
func (in *Instrument) TickSize() (*decimal.Decimal, bool) {
	if in.Normalized.TickSz == "" {
		return nil, false
	}
	v, err := decimal.NewFromString(in.Normalized.TickSz)
	if err != nil || !v.IsPositive() {
		return nil, false
	}
	return &v, true
}

// Client fetches instrument metadata from the exchange REST API.
type Client struct {
	http *http.Client
	base string
}

// NewClient builds a metadata client for a REST base URL such as
// "https://www.okx.com".
func NewClient(baseURL string) *Client {
	return &Client{
		http: &http.Client{Timeout: fetchTimeout},
		base: baseURL,
	}
}

type instrumentsResponse struct {
	Code string            `json:"code"`
	Msg  string            `json:"msg"`
	Data []json.RawMessage `json:"data"`
}

// Fetch retrieves metadata for one SWAP instrument and normalizes the
// contract fields.
func (c *Client) Fetch(ctx context.Context, instID string) (*Instrument, error) {
	q := url.Values{}
	q.Set("instType", "SWAP")
	q.Set("instId", instID)
	reqURL := c.base + "/api/v5/public/instruments?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("metadata request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata fetch for %s: %w", instID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata fetch for %s: status %d", instID, resp.StatusCode)
	}

	var envelope instrumentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("metadata response for %s: %w", instID, err)
	}
	if envelope.Code != "0" {
		return nil, fmt.Errorf("metadata fetch for %s: api code %s: %s", instID, envelope.Code, envelope.Msg)
	}
	if len(envelope.Data) == 0 {
		return nil, fmt.Errorf("metadata fetch for %s: no instrument returned", instID)
	}

	raw := envelope.Data[0]
	var norm Normalized
	if err := json.Unmarshal(raw, &norm); err != nil {
		return nil, fmt.Errorf("metadata document for %s: %w", instID, err)
	}

	in := &Instrument{InstID: instID, Raw: raw, Normalized: norm}
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("metadata for %s missing contract fields: %w", instID, err)
	}

	log.Info().
		Str("instId", instID).
		Str("ctVal", norm.CtVal).
		Str("tickSz", norm.TickSz).
		Msg("instrument metadata fetched")
	return in, nil
}

// Save writes the metadata document to its vault cache file.
func Save(in *Instrument, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating meta dir: %w", err)
	}
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata for %s: %w", in.InstID, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing metadata cache: %w", err)
	}
	return nil
}

// Load reads a previously cached metadata document.
func Load(path string) (*Instrument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading metadata cache: %w", err)
	}
	var in Instrument
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decoding metadata cache %s: %w", path, err)
	}
	if err := validate.Struct(&in); err != nil {
		return nil, fmt.Errorf("metadata cache %s missing contract fields: %w", path, err)
	}
	return &in, nil
}
