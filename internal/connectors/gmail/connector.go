package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"pharmatrack/internal"
	"pharmatrack/internal/config"
	"pharmatrack/internal/connectors"
)

const (
	providerName = "gmail"
	pageSize     = 100
	maxPages     = 20
)

type Connector struct {
	oauth    *oauth2.Config
	refresh  string
	markSeen bool
	endpoint string
}

func NewConnector(cfg config.Config) (*Connector, error) {
	if err := cfg.Require("GMAIL_CLIENT_ID", cfg.GmailClientID); err != nil {
		return nil, err
	}
	if err := cfg.Require("GMAIL_CLIENT_SECRET", cfg.GmailClientSecret); err != nil {
		return nil, err
	}
	if err := cfg.Require("GMAIL_REFRESH_TOKEN", cfg.GmailRefreshToken); err != nil {
		return nil, err
	}

	scope := gmail.GmailReadonlyScope
	if cfg.IMAPMarkSeen {
		scope = gmail.GmailModifyScope
	}

	return &Connector{
		oauth: &oauth2.Config{
			ClientID:     cfg.GmailClientID,
			ClientSecret: cfg.GmailClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  cfg.GmailRedirectURI,
			Scopes:       []string{scope},
		},
		refresh:  cfg.GmailRefreshToken,
		markSeen: cfg.IMAPMarkSeen,
	}, nil
}

// Open builds the API client. The token source refreshes lazily on the first
// call, so it must not inherit the cancellation of the open context.
func (c *Connector) Open(ctx context.Context) (connectors.MailSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokenSource := c.oauth.TokenSource(context.WithoutCancel(ctx), &oauth2.Token{RefreshToken: c.refresh})
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(context.WithoutCancel(ctx), tokenSource))}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	return &session{service: svc, markSeen: c.markSeen}, nil
}

type session struct {
	service  *gmail.Service
	markSeen bool
}

// SearchQuery builds the Gmail query for a subject term.
func SearchQuery(subject string) string {
	subject = strings.TrimSpace(strings.ReplaceAll(subject, `"`, ""))
	if subject == "" {
		return "has:attachment"
	}
	return fmt.Sprintf(`subject:"%s"`, subject)
}

// Search lists matching messages oldest first, like an IMAP mailbox.
func (s *session) Search(ctx context.Context, subject string) ([]internal.MessageRef, error) {
	var ids []string
	pageToken := ""
	for page := 0; page < maxPages; page++ {
		call := s.service.Users.Messages.List("me").Q(SearchQuery(subject)).MaxResults(pageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("gmail list: %w", err)
		}
		for _, m := range resp.Messages {
			if m.Id != "" {
				ids = append(ids, m.Id)
			}
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	refs := make([]internal.MessageRef, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		meta, err := s.service.Users.Messages.Get("me", ids[i]).
			Format("metadata").
			MetadataHeaders("Subject", "From", "Date", "Message-ID").
			Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("gmail metadata %s: %w", ids[i], err)
		}

		headers := map[string]string{}
		if meta.Payload != nil {
			for _, h := range meta.Payload.Headers {
				headers[strings.ToLower(h.Name)] = h.Value
			}
		}

		ref := internal.MessageRef{
			Provider:  providerName,
			ID:        ids[i],
			MessageID: headers["message-id"],
			Subject:   headers["subject"],
			From:      headers["from"],
		}
		if d, err := mail.ParseDate(headers["date"]); err == nil {
			ref.Date = d
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *session) Fetch(ctx context.Context, ref internal.MessageRef) ([]byte, error) {
	resp, err := s.service.Users.Messages.Get("me", ref.ID).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail raw %s: %w", ref.ID, err)
	}
	if resp.Raw == "" {
		return nil, fmt.Errorf("gmail raw %s: empty payload", ref.ID)
	}
	return decodeBase64URL(resp.Raw)
}

// MarkSeen drops the UNREAD label when marking is enabled.
func (s *session) MarkSeen(ctx context.Context, ref internal.MessageRef) error {
	if !s.markSeen {
		return nil
	}
	_, err := s.service.Users.Messages.Modify("me", ref.ID, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	return err
}

func (s *session) Logout() error {
	return nil
}

func decodeBase64URL(input string) ([]byte, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	decoded, err = base64.URLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	return nil, fmt.Errorf("decode gmail raw payload: %w", err)
}
