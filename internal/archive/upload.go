package archive

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Uploader pushes a built archive to remote storage and returns its
// public URL. The storage service itself is an external collaborator;
// this interface is the whole boundary.
type Uploader interface {
	Upload(ctx context.Context, localPath, remoteName string) (string, error)
}

// HTTPUploader PUTs archives to an object-storage endpoint with a
// bearer token.
type HTTPUploader struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTPUploader builds an uploader for the given endpoint.
func NewHTTPUploader(baseURL, token string) *HTTPUploader {
	return &HTTPUploader{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Upload sends one archive. The returned URL is the final public
// location recorded in manifests.
func (u *HTTPUploader) Upload(ctx context.Context, localPath, remoteName string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", localPath, err)
	}

	target := u.BaseURL + "/" + remoteName
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, f)
	if err != nil {
		return "", err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/zip")
	if u.Token != "" {
		req.Header.Set("Authorization", "Bearer "+u.Token)
	}

	resp, err := u.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", remoteName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("uploading %s: unexpected status %d", remoteName, resp.StatusCode)
	}
	return target, nil
}

// RemoteName converts a resource key into a flat archive object name.
func RemoteName(key string) string {
	return strings.ReplaceAll(key, "/", "__") + ".zip"
}
