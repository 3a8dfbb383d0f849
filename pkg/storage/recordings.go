package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// RecordingArchive copies carrier-hosted call recordings into a GCS bucket
// so they outlive the carrier's retention window
type RecordingArchive struct {
	client     *storage.Client
	bucketName string
	httpClient *http.Client

	// carrier basic-auth credentials for fetching the recording media
	accountSID string
	authToken  string
}

func NewRecordingArchive(ctx context.Context, bucketName, accountSID, authToken string) (*RecordingArchive, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %v", err)
	}

	return &RecordingArchive{
		client:     client,
		bucketName: bucketName,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		accountSID: accountSID,
		authToken:  authToken,
	}, nil
}

// Archive downloads the recording from the carrier and uploads it under
// recordings/<call_id>/<recording_sid>.mp3. Returns the public GCS URL.
func (r *RecordingArchive) Archive(ctx context.Context, callID, recordingSID, recordingURL string) (string, error) {
	// Twilio serves WAV by default; the .mp3 suffix selects the compressed
	// rendition.
	mediaURL := recordingURL
	if !strings.HasSuffix(mediaURL, ".mp3") {
		mediaURL += ".mp3"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build recording request: %v", err)
	}
	req.SetBasicAuth(r.accountSID, r.authToken)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch recording: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("carrier returned status %d for recording %s", resp.StatusCode, recordingSID)
	}

	objectPath := fmt.Sprintf("recordings/%s/%s.mp3", callID, recordingSID)
	return r.upload(ctx, objectPath, resp.Body)
}

func (r *RecordingArchive) upload(ctx context.Context, objectPath string, content io.Reader) (string, error) {
	bucket := r.client.Bucket(r.bucketName)
	obj := bucket.Object(objectPath)

	writer := obj.NewWriter(ctx)
	writer.ContentType = "audio/mpeg"
	if _, err := io.Copy(writer, content); err != nil {
		return "", fmt.Errorf("failed to copy content: %v", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %v", err)
	}

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", r.bucketName, objectPath), nil
}

// PresignedURL converts an archived recording's public URL into a
// time-limited download link. Returns an error for URLs outside the bucket.
func (r *RecordingArchive) PresignedURL(publicURL string, expiresAt time.Time) (string, error) {
	prefix := fmt.Sprintf("https://storage.googleapis.com/%s/", r.bucketName)
	if !strings.HasPrefix(publicURL, prefix) {
		return "", fmt.Errorf("recording URL is not in bucket %s: %s", r.bucketName, publicURL)
	}
	objectPath := strings.TrimPrefix(publicURL, prefix)

	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: expiresAt,
	}
	url, err := r.client.Bucket(r.bucketName).SignedURL(objectPath, opts)
	if err != nil {
		return "", fmt.Errorf("failed to get presigned url: %v", err)
	}
	return url, nil
}

func (r *RecordingArchive) Close() error {
	return r.client.Close()
}
