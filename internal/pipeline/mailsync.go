package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pharmatrack/internal"
	"pharmatrack/internal/connectors"
	"pharmatrack/internal/logger"
	"pharmatrack/internal/monitoring"
	"pharmatrack/internal/util"
)

const (
	lastSyncKey     = "mail.last_sync"
	headerMaxLength = 255
)

type ProcessedStore interface {
	IsEmailProcessed(ctx context.Context, messageID string) (bool, error)
	MarkEmailProcessed(ctx context.Context, rec internal.ProcessedEmail) error
	SetMetadata(ctx context.Context, key, value string) error
}

type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, doc Document, opts Options) (ProcessOutcome, error)
}

type SyncResult struct {
	ProcessedCount int                         `json:"processedCount"`
	Skipped        int                         `json:"skipped"`
	Results        []internal.AttachmentResult `json:"results"`
}

type MailSyncService struct {
	connector    connectors.MailConnector
	store        ProcessedStore
	processor    DocumentProcessor
	subject      string
	fetchTimeout time.Duration
	log          *zap.Logger
	metrics      *monitoring.Metrics
	now          func() time.Time
}

func NewMailSyncService(connector connectors.MailConnector, store ProcessedStore, processor DocumentProcessor, subject string, fetchTimeout time.Duration, log *zap.Logger, metrics *monitoring.Metrics) *MailSyncService {
	return &MailSyncService{
		connector:    connector,
		store:        store,
		processor:    processor,
		subject:      subject,
		fetchTimeout: fetchTimeout,
		log:          logger.OrNop(log),
		metrics:      metrics,
		now:          time.Now,
	}
}

// SyncOnce polls the mailbox once. Each new message is recorded as
// processed exactly once after all of its PDF attachments were tried, so a
// broken attachment is never retried on the next poll. A message whose
// body could not be fetched is left unrecorded and comes back next time.
func (s *MailSyncService) SyncOnce(ctx context.Context) (res SyncResult, err error) {
	res.Results = []internal.AttachmentResult{}

	openCtx, cancel := s.mailboxContext(ctx)
	sess, err := s.connector.Open(openCtx)
	cancel()
	if err != nil {
		return res, fmt.Errorf("open mailbox: %w", err)
	}
	defer func() {
		if lerr := sess.Logout(); lerr != nil {
			s.log.Warn("mailbox logout failed", zap.Error(lerr))
		}
	}()

	searchCtx, cancel := s.mailboxContext(ctx)
	refs, err := sess.Search(searchCtx, s.subject)
	cancel()
	if err != nil {
		return res, fmt.Errorf("search mailbox: %w", err)
	}
	s.log.Info("mailbox search done", zap.String("subject", s.subject), zap.Int("messages", len(refs)))

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		s.syncMessage(ctx, sess, ref, &res)
	}

	if err := s.store.SetMetadata(ctx, lastSyncKey, s.now().UTC().Format(time.RFC3339)); err != nil {
		s.log.Warn("record mail sync time", zap.Error(err))
	}
	s.log.Info("mail sync done",
		zap.Int("processed", res.ProcessedCount),
		zap.Int("skipped", res.Skipped),
		zap.Int("attachments", len(res.Results)),
	)
	return res, nil
}

func (s *MailSyncService) syncMessage(ctx context.Context, sess connectors.MailSession, ref internal.MessageRef, res *SyncResult) {
	log := s.log.With(zap.String("messageId", ref.MessageID), zap.String("subject", ref.Subject))
	if ref.MessageID == "" {
		log.Warn("message without Message-ID skipped", zap.String("ref", ref.ID))
		res.Skipped++
		return
	}

	done, err := s.store.IsEmailProcessed(ctx, ref.MessageID)
	if err != nil {
		log.Error("processed lookup failed", zap.Error(err))
		res.Results = append(res.Results, s.errorResult(ref.MessageID, "", err))
		return
	}
	if done {
		res.Skipped++
		return
	}

	fetchCtx, cancel := s.mailboxContext(ctx)
	raw, err := sess.Fetch(fetchCtx, ref)
	cancel()
	if err != nil {
		log.Error("message fetch failed", zap.Error(err))
		res.Results = append(res.Results, s.errorResult(ref.MessageID, "", err))
		return
	}

	saved := false
	msg, err := connectors.ParseMessage(raw)
	if err != nil {
		log.Error("message parse failed", zap.Error(err))
		res.Results = append(res.Results, s.errorResult(ref.MessageID, "", err))
	}

	for _, att := range msg.Attachments {
		outcome, err := s.processor.ProcessDocument(ctx, Document{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Content:     att.Content,
			Source:      internal.SourceEmail,
		}, Options{})
		if err != nil {
			log.Error("attachment failed", zap.String("filename", att.Filename), zap.Error(err))
			res.Results = append(res.Results, s.errorResult(ref.MessageID, att.Filename, err))
			continue
		}

		s.metrics.RecordAttachment(string(outcome.Status))
		res.Results = append(res.Results, internal.AttachmentResult{
			MessageID: ref.MessageID,
			Filename:  att.Filename,
			Status:    outcome.Status,
			Products:  outcome.Products,
			InvoiceID: outcome.InvoiceID,
		})
		if outcome.Status == internal.AttachmentSaved && outcome.Products > 0 {
			saved = true
		}
	}

	status := internal.EmailFailed
	if saved {
		status = internal.EmailSuccess
	}
	rec := internal.ProcessedEmail{
		MessageID:   ref.MessageID,
		Status:      status,
		Subject:     truncatedHeader(firstNonEmpty(ref.Subject, msg.Subject)),
		Sender:      truncatedHeader(firstNonEmpty(ref.From, msg.From)),
		ProcessedAt: s.now(),
	}
	if err := s.store.MarkEmailProcessed(ctx, rec); err != nil {
		log.Error("mark processed failed", zap.Error(err))
		return
	}
	res.ProcessedCount++
	s.metrics.RecordEmailMarked(string(status))

	seenCtx, cancel := s.mailboxContext(ctx)
	defer cancel()
	if err := sess.MarkSeen(seenCtx, ref); err != nil {
		log.Warn("mark seen failed", zap.Error(err))
	}
}

func (s *MailSyncService) errorResult(messageID, filename string, err error) internal.AttachmentResult {
	s.metrics.RecordAttachment(string(internal.AttachmentError))
	return internal.AttachmentResult{
		MessageID: messageID,
		Filename:  filename,
		Status:    internal.AttachmentError,
		Error:     err.Error(),
	}
}

func (s *MailSyncService) mailboxContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.fetchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.fetchTimeout)
}

func truncatedHeader(v string) *string {
	if v == "" {
		return nil
	}
	return util.StringPtr(util.Truncate(v, headerMaxLength))
}
