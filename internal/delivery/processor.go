package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/jackzampolin/bindery/internal/jobs"
	"github.com/jackzampolin/bindery/internal/mailer"
	"github.com/jackzampolin/bindery/internal/queue"
)

// QueueName is the queue delivery tasks are submitted to.
const QueueName = "delivery"

// maxArtifactSize bounds how large a downloaded artifact may be. Kindle
// mailboxes reject attachments over 50MB anyway.
const maxArtifactSize = 50 << 20

// TaskPayload is the queue payload for one delivery.
type TaskPayload struct {
	DeliveryID string `json:"delivery_id"`
}

// Processor executes delivery tasks: it downloads the finished artifact and
// mails it to the recipient address.
type Processor struct {
	store     Store
	jobStore  jobs.Store
	transport mailer.Transport
	client    *http.Client
	logger    *slog.Logger
}

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	Store     Store
	JobStore  jobs.Store
	Transport mailer.Transport
	Client    *http.Client // defaults to a 2 minute timeout client
	Logger    *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:     cfg.Store,
		jobStore:  cfg.JobStore,
		transport: cfg.Transport,
		client:    client,
		logger:    logger.With("component", "delivery"),
	}
}

// Handler returns the queue handler for delivery tasks.
func (p *Processor) Handler() queue.Handler {
	return func(ctx context.Context, task *queue.Task) error {
		var payload TaskPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			p.logger.Error("dropping undecodable task", "task_id", task.ID, "error", err)
			return nil
		}
		return p.Process(ctx, payload)
	}
}

// Process runs one delivery end to end.
func (p *Processor) Process(ctx context.Context, payload TaskPayload) error {
	logger := p.logger.With("delivery_id", payload.DeliveryID)

	rec, err := p.store.FindByID(ctx, payload.DeliveryID)
	if errors.Is(err, ErrNotFound) {
		logger.Warn("task references missing delivery, dropping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load delivery %s: %w", payload.DeliveryID, err)
	}

	// Redelivered task for a finished record is a no-op.
	if rec.Status.Terminal() {
		logger.Info("delivery already terminal, skipping", "status", rec.Status)
		return nil
	}

	if err := rec.MarkProcessing(time.Now().UTC()); err != nil {
		return fmt.Errorf("mark processing %s: %w", rec.ID, err)
	}
	if err := p.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("save delivery %s: %w", rec.ID, err)
	}

	sendErr := p.send(ctx, rec)
	now := time.Now().UTC()
	if sendErr != nil {
		logger.Error("delivery failed", "job_id", rec.JobID, "error", sendErr)
		if err := rec.MarkFailed(sendErr.Error(), now); err == nil {
			if err := p.store.Save(ctx, rec); err != nil {
				logger.Error("failed to persist delivery failure", "error", err)
			}
		}
		return sendErr
	}

	if err := rec.MarkCompleted(now); err != nil {
		return fmt.Errorf("mark completed %s: %w", rec.ID, err)
	}
	if err := p.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("save delivery %s: %w", rec.ID, err)
	}
	logger.Info("delivery completed", "job_id", rec.JobID, "address", rec.Address)
	return nil
}

// send validates the backing job, fetches the artifact, and mails it.
func (p *Processor) send(ctx context.Context, rec *Record) error {
	job, err := p.jobStore.FindByID(ctx, rec.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", rec.JobID, err)
	}
	// The durable job record is the gate: only a completed conversion with a
	// published artifact may be forwarded.
	if job.Status != jobs.StatusCompleted || job.PublicURL == "" {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidState, job.ID, job.Status)
	}

	data, err := p.download(ctx, job.PublicURL)
	if err != nil {
		return err
	}

	fileName := path.Base(job.PublicURL)
	return p.transport.Send(ctx, mailer.Message{
		To:         rec.Address,
		Subject:    "Your book is ready",
		Body:       "The attached book was generated from " + job.NovelID + ".",
		FileName:   fileName,
		Attachment: data,
	})
}

// download fetches the artifact bytes from its public URL.
func (p *Processor) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrTransport, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s: status %d", ErrTransport, url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrTransport, url, err)
	}
	if len(data) > maxArtifactSize {
		return nil, fmt.Errorf("%w: artifact at %s exceeds %d bytes", ErrTransport, url, maxArtifactSize)
	}
	return data, nil
}
