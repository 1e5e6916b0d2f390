package scene

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client is an HTTP client for the imagery broker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
}

// NewClient creates a broker client rooted at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tracer: otel.Tracer("sceneplane/scene"),
	}
}

// sceneResponse is the broker's scene document.
type sceneResponse struct {
	ID          string            `json:"id"`
	CloudCover  float64           `json:"cloudCover"`
	Resolution  float64           `json:"resolution"`
	CapturedOn  time.Time         `json:"capturedOn"`
	SensorName  string            `json:"sensorName"`
	LocationURI string            `json:"locationUri"`
	Status      string            `json:"status"`
	Geometry    *geojson.Geometry `json:"geometry,omitempty"`
	Bands       map[string]string `json:"bands,omitempty"`
	Tide        *float64          `json:"tide,omitempty"`
	TideMin24h  *float64          `json:"tideMin24h,omitempty"`
	TideMax24h  *float64          `json:"tideMax24h,omitempty"`
}

// Fetch returns the current broker view of a scene, optionally with tide data.
func (c *Client) Fetch(ctx context.Context, sceneID, credential string, withTides bool) (*Scene, error) {
	platform, externalID, err := ParseID(sceneID)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "broker.fetch", trace.WithAttributes(
		attribute.String("scene.id", sceneID),
		attribute.Bool("scene.tides", withTides),
	), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	q := url.Values{}
	q.Set("credential", credential)
	q.Set("tides", strconv.FormatBool(withTides))
	endpoint := fmt.Sprintf("%s/%s/%s?%s", c.baseURL, url.PathEscape(platform), url.PathEscape(externalID), q.Encode())

	body, err := c.get(ctx, "fetch", sceneID, endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}

	var resp sceneResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &BrokerError{Op: "fetch", SceneID: sceneID, Err: fmt.Errorf("%w: malformed scene document: %v", ErrBrokerUpstream, err)}
	}

	status, err := ParseStatus(resp.Status)
	if err != nil {
		return nil, &BrokerError{Op: "fetch", SceneID: sceneID, Err: fmt.Errorf("%w: %v", ErrBrokerUpstream, err)}
	}
	span.SetAttributes(attribute.String("scene.status", string(status)))

	return &Scene{
		ID:          sceneID,
		Platform:    platform,
		ExternalID:  externalID,
		CapturedOn:  resp.CapturedOn,
		CloudCover:  resp.CloudCover,
		Resolution:  resp.Resolution,
		SensorName:  resp.SensorName,
		LocationURI: resp.LocationURI,
		Status:      status,
		Footprint:   resp.Geometry,
		Bands:       resp.Bands,
		Tide:        resp.Tide,
		TideMin24h:  resp.TideMin24h,
		TideMax24h:  resp.TideMax24h,
	}, nil
}

// Activate asks the broker to start activating a scene. It returns as soon as
// the broker accepted the request.
func (c *Client) Activate(ctx context.Context, sceneID, credential string) error {
	platform, externalID, err := ParseID(sceneID)
	if err != nil {
		return err
	}

	ctx, span := c.tracer.Start(ctx, "broker.activate", trace.WithAttributes(
		attribute.String("scene.id", sceneID),
	), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	q := url.Values{}
	q.Set("credential", credential)
	endpoint := fmt.Sprintf("%s/activate/%s/%s?%s", c.baseURL, url.PathEscape(platform), url.PathEscape(externalID), q.Encode())

	if _, err := c.get(ctx, "activate", sceneID, endpoint); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "activate failed")
		return err
	}
	return nil
}

func (c *Client) get(ctx context.Context, op, sceneID, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The URL carries the credential, so only the transport error is kept.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, &BrokerError{Op: op, SceneID: sceneID, Err: fmt.Errorf("%w: %v", ErrBrokerUpstream, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &BrokerError{Op: op, SceneID: sceneID, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", ErrBrokerUpstream, err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &BrokerError{Op: op, SceneID: sceneID, StatusCode: resp.StatusCode, Err: ErrBrokerUnauthorized}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &BrokerError{Op: op, SceneID: sceneID, StatusCode: resp.StatusCode, Err: ErrBrokerNotFound}
	default:
		return nil, &BrokerError{Op: op, SceneID: sceneID, StatusCode: resp.StatusCode, Err: ErrBrokerUpstream}
	}
}
