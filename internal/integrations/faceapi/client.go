// Package faceapi talks to the external face service that turns image bytes
// into embedding vectors. The service is treated as an opaque capability:
// detection and embedding extraction happen entirely on its side.
package faceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/embedding"

	log "github.com/sirupsen/logrus"
)

// ErrNoFaceDetected is returned when the service finds zero faces in the
// submitted image. This is a reported outcome, distinct from "face found but
// matches nobody", and must not be collapsed into it.
var ErrNoFaceDetected = errors.New("no face detected in image")

var logFields = log.Fields{
	"component": "faceapi",
}

// Provider extracts a probe embedding from raw image bytes.
type Provider interface {
	// ExtractEmbedding returns the embedding of the most prominent face in
	// the image, or ErrNoFaceDetected when the image contains none.
	ExtractEmbedding(ctx context.Context, imageData []byte) (embedding.Vector, error)

	// Ping reports whether the face service is reachable.
	Ping(ctx context.Context) bool
}

// Client implements Provider against an InsightFace-style HTTP API.
type Client struct {
	cfg        config.FaceAPIConfig
	httpClient *http.Client
}

type apiInfoResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type apiDetectResponse struct {
	Status     string `json:"status"`
	FacesCount int    `json:"faces_count"`
	Faces      []struct {
		BoundingBox []int     `json:"bbox"`
		Confidence  float64   `json:"confidence"`
		Embedding   []float64 `json:"embedding,omitempty"`
	} `json:"faces"`
	ProcessTime float64 `json:"process_time"`
}

// NewClient creates a new face service client.
func NewClient(cfg config.FaceAPIConfig) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

// Ping checks whether the face service is available.
func (c *Client) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/info", c.cfg.URL), nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithFields(logFields).WithError(err).Debug("Face service ping failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var info apiInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return false
	}
	return info.Status == "ok"
}

// ExtractEmbedding sends the image to the /detect endpoint and returns the
// embedding of the first detected face. Faces are returned by the service in
// descending detection confidence, so the first one is the most prominent.
func (c *Client) ExtractEmbedding(ctx context.Context, imageData []byte) (embedding.Vector, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(imageData)); err != nil {
		return nil, fmt.Errorf("failed to copy image data: %w", err)
	}

	if err := writer.WriteField("threshold", fmt.Sprintf("%f", c.cfg.DetProbThreshold)); err != nil {
		return nil, fmt.Errorf("failed to write threshold field: %w", err)
	}
	if err := writer.WriteField("extract_embedding", "true"); err != nil {
		return nil, fmt.Errorf("failed to write extract_embedding field: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/detect", c.cfg.URL), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status from face service: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp apiDetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode face service response: %w", err)
	}

	if apiResp.Status != "ok" {
		return nil, fmt.Errorf("face service error: %s", apiResp.Status)
	}

	if apiResp.FacesCount == 0 || len(apiResp.Faces) == 0 {
		return nil, ErrNoFaceDetected
	}

	vec := embedding.Vector(apiResp.Faces[0].Embedding)
	if len(vec) != embedding.Dimensions {
		return nil, fmt.Errorf("face service returned %d-dimensional embedding, expected %d", len(vec), embedding.Dimensions)
	}

	log.WithFields(logFields).Debugf("Extracted embedding from %d detected face(s) in %.3fs", apiResp.FacesCount, apiResp.ProcessTime)
	return vec, nil
}
