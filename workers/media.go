package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"propingest/models"
)

// ImageStore is the slice of the property store the media worker needs.
type ImageStore interface {
	GetPendingImages(ctx context.Context, limit int) ([]models.PropertyImage, error)
	UpdateImageStatus(ctx context.Context, id int64, status string, s3Key *string, attempts int) error
}

// S3Uploader interface for uploading to S3-compatible storage
type S3Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	PublicURL(key string) string
}

// MediaWorker downloads pending listing photos, hashes them, and archives
// them to S3. It runs on its own cadence, decoupled from the scrape queues.
type MediaWorker struct {
	store      ImageStore
	httpClient *http.Client
	uploader   S3Uploader
	triggerCh  chan struct{}
}

func NewMediaWorker(store ImageStore, uploader S3Uploader, client *http.Client) *MediaWorker {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &MediaWorker{
		store:      store,
		httpClient: client,
		uploader:   uploader,
		triggerCh:  make(chan struct{}, 1),
	}
}

// Trigger requests an immediate batch outside the regular interval.
func (w *MediaWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run starts the media worker loop
func (w *MediaWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Media worker stopping")
			return
		case <-ticker.C:
			w.processBatch(ctx, batchSize)
		case <-w.triggerCh:
			w.processBatch(ctx, batchSize)
		}
	}
}

func (w *MediaWorker) processBatch(ctx context.Context, batchSize int) {
	images, err := w.store.GetPendingImages(ctx, batchSize)
	if err != nil {
		log.Printf("Media worker: query error: %v", err)
		return
	}
	if len(images) == 0 {
		return
	}

	log.Printf("Media worker: processing %d images", len(images))

	var processed, failed int
	for i := range images {
		img := &images[i]

		key, err := w.archive(ctx, img.URL)
		if err != nil {
			log.Printf("Media worker: failed %s: %v", img.URL, err)
			failed++

			newAttempts := img.Attempts + 1
			status := models.ImageStatusPending
			if newAttempts >= 3 {
				status = models.ImageStatusFailed
			}
			if uerr := w.store.UpdateImageStatus(ctx, img.ID, status, nil, newAttempts); uerr != nil {
				log.Printf("Media worker: update %d: %v", img.ID, uerr)
			}
			continue
		}

		if err := w.store.UpdateImageStatus(ctx, img.ID, models.ImageStatusUploaded, &key, img.Attempts); err != nil {
			log.Printf("Media worker: update %d: %v", img.ID, err)
			failed++
			continue
		}
		processed++
		if w.uploader != nil {
			if publicURL := w.uploader.PublicURL(key); publicURL != "" {
				log.Printf("Media worker: archived %s", publicURL)
			}
		}

		// Pace downloads so the photo CDN never sees a burst.
		time.Sleep(200 * time.Millisecond)
	}

	if processed > 0 || failed > 0 {
		log.Printf("Media worker: processed %d, failed %d", processed, failed)
	}
}

// archive downloads one image and uploads it under a content-addressed key.
func (w *MediaWorker) archive(ctx context.Context, imageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("download status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 50*1024*1024))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	hash := sha256.Sum256(data)
	contentHash := hex.EncodeToString(hash[:])
	ext := guessExtension(imageURL, resp.Header.Get("Content-Type"))
	key := fmt.Sprintf("images/%s/%s%s", contentHash[:2], contentHash, ext)

	if w.uploader != nil {
		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "image/jpeg"
		}
		if err := w.uploader.Upload(ctx, key, bytes.NewReader(data), contentType); err != nil {
			return "", fmt.Errorf("upload: %w", err)
		}
	}

	return key, nil
}

// guessExtension determines file extension from URL or content-type
func guessExtension(url, contentType string) string {
	ext := strings.ToLower(path.Ext(url))
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	if ext != "" && isImageExt(ext) {
		return ext
	}

	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff":
		return true
	}
	return false
}

// NoOpUploader drains its input without uploading, for deployments with no
// S3 bucket configured.
type NoOpUploader struct{}

func (u *NoOpUploader) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	io.Copy(io.Discard, data)
	return nil
}

func (u *NoOpUploader) PublicURL(key string) string { return "" }

func NewNoOpUploader() *NoOpUploader {
	return &NoOpUploader{}
}
