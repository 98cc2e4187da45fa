package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/calebmorrow/hearthside/internal/model"
)

const postmarkAPI = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
	retryBase   time.Duration
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithRetryBase sets the first retry delay. Mainly for tests.
func WithRetryBase(d time.Duration) Option {
	return func(cl *Client) {
		cl.retryBase = d
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		httpClient:  http.DefaultClient,
		retryBase:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

// UpdateConfig replaces the token, sender, and base URL at runtime.
func (c *Client) UpdateConfig(serverToken, fromEmail, baseURL string) {
	c.serverToken = serverToken
	c.fromEmail = fromEmail
	c.baseURL = baseURL
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// SendAuthToken mails the token for an auth flow. Login and register tokens
// are short codes the user types in; the other purposes carry a link.
func (c *Client) SendAuthToken(ctx context.Context, toEmail, token, purpose, spaceName string) error {
	var msg postmarkEmail
	msg.To = toEmail

	switch purpose {
	case model.PurposeLogin:
		msg.Subject = "Your Hearthside sign-in code"
		msg.TextBody = fmt.Sprintf("Your sign-in code is:\n\n%s\n\nEnter it within 15 minutes. If you didn't request this, you can ignore this email.", token)
		msg.HtmlBody = fmt.Sprintf(`<p>Your sign-in code is:</p><p style="font-size:24px;letter-spacing:4px"><strong>%s</strong></p><p>Enter it within 15 minutes. If you didn't request this, you can ignore this email.</p>`, token)
	case model.PurposeRegister:
		msg.Subject = "Welcome to Hearthside"
		msg.TextBody = fmt.Sprintf("Your registration code is:\n\n%s\n\nEnter it within 15 minutes to finish setting up your account.", token)
		msg.HtmlBody = fmt.Sprintf(`<p>Your registration code is:</p><p style="font-size:24px;letter-spacing:4px"><strong>%s</strong></p><p>Enter it within 15 minutes to finish setting up your account.</p>`, token)
	case model.PurposePasswordReset:
		link := fmt.Sprintf("%s/auth/reset?token=%s", c.baseURL, token)
		msg.Subject = "Reset your Hearthside password"
		msg.TextBody = fmt.Sprintf("Click the link below to choose a new password:\n\n%s\n\nThis link expires in 30 minutes. If you didn't request a reset, you can ignore this email.", link)
		msg.HtmlBody = fmt.Sprintf(`<p>Click the link below to choose a new password:</p><p><a href="%s">Reset password</a></p><p>This link expires in 30 minutes. If you didn't request a reset, you can ignore this email.</p>`, link)
	case model.PurposeEmailVerify:
		link := fmt.Sprintf("%s/auth/verify-email?token=%s", c.baseURL, token)
		msg.Subject = "Verify your email address"
		msg.TextBody = fmt.Sprintf("Click the link below to verify your email address:\n\n%s\n\nThis link expires in 15 minutes.", link)
		msg.HtmlBody = fmt.Sprintf(`<p>Click the link below to verify your email address:</p><p><a href="%s">Verify email</a></p><p>This link expires in 15 minutes.</p>`, link)
	case model.PurposeInvite:
		link := fmt.Sprintf("%s/auth/invite?token=%s", c.baseURL, token)
		msg.Subject = fmt.Sprintf("You've been invited to %s on Hearthside", spaceName)
		msg.TextBody = fmt.Sprintf("You've been invited to join %s. Click the link below to accept:\n\n%s\n\nThis link expires in 15 minutes; ask for a new invite if it lapses.", spaceName, link)
		msg.HtmlBody = fmt.Sprintf(`<p>You've been invited to join %s. Click the link below to accept:</p><p><a href="%s">Accept invitation</a></p><p>This link expires in 15 minutes; ask for a new invite if it lapses.</p>`, spaceName, link)
	default:
		return fmt.Errorf("unknown token purpose %q", purpose)
	}

	return c.send(ctx, msg)
}

// SendDeletionRequested confirms an account deletion request and names the
// date after which the account is gone for good.
func (c *Client) SendDeletionRequested(ctx context.Context, toEmail string, deleteAt time.Time) error {
	date := deleteAt.UTC().Format("January 2, 2006")
	msg := postmarkEmail{
		To:       toEmail,
		Subject:  "Your Hearthside account is scheduled for deletion",
		TextBody: fmt.Sprintf("We received a request to delete your account. Everything will be permanently removed on %s.\n\nIf you change your mind, sign in before then and cancel the deletion from your account settings.", date),
		HtmlBody: fmt.Sprintf(`<p>We received a request to delete your account. Everything will be permanently removed on <strong>%s</strong>.</p><p>If you change your mind, sign in before then and cancel the deletion from your account settings.</p>`, date),
	}
	return c.send(ctx, msg)
}

// SendDeletionWarning reminds the user shortly before the grace period ends.
func (c *Client) SendDeletionWarning(ctx context.Context, toEmail string, deleteAt time.Time) error {
	date := deleteAt.UTC().Format("January 2, 2006")
	msg := postmarkEmail{
		To:       toEmail,
		Subject:  "Reminder: your Hearthside account will be deleted soon",
		TextBody: fmt.Sprintf("Your account and all of its data will be permanently deleted on %s.\n\nTo keep your account, sign in before then and cancel the deletion from your account settings.", date),
		HtmlBody: fmt.Sprintf(`<p>Your account and all of its data will be permanently deleted on <strong>%s</strong>.</p><p>To keep your account, sign in before then and cancel the deletion from your account settings.</p>`, date),
	}
	return c.send(ctx, msg)
}

// SendFarewell is the last email an account receives, after the purge.
func (c *Client) SendFarewell(ctx context.Context, toEmail string) error {
	msg := postmarkEmail{
		To:       toEmail,
		Subject:  "Your Hearthside account has been deleted",
		TextBody: "Your account and all associated data have been permanently deleted.\n\nThanks for having been part of Hearthside. You're welcome back any time.",
		HtmlBody: `<p>Your account and all associated data have been permanently deleted.</p><p>Thanks for having been part of Hearthside. You're welcome back any time.</p>`,
	}
	return c.send(ctx, msg)
}

// SendExportReady tells the requester their space export finished.
func (c *Client) SendExportReady(ctx context.Context, toEmail, filename string) error {
	link := fmt.Sprintf("%s/api/exports", c.baseURL)
	msg := postmarkEmail{
		To:       toEmail,
		Subject:  "Your Hearthside export is ready",
		TextBody: fmt.Sprintf("Your export %s is ready to download from your space's export list:\n\n%s\n\nExports are kept for 30 days.", filename, link),
		HtmlBody: fmt.Sprintf(`<p>Your export <strong>%s</strong> is ready to download from your space's export list.</p><p>Exports are kept for 30 days.</p>`, filename),
	}
	return c.send(ctx, msg)
}

// send posts one message to Postmark, retrying transient failures with
// exponential backoff. 4xx responses other than 429 fail immediately.
func (c *Client) send(ctx context.Context, msg postmarkEmail) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}
	msg.From = c.fromEmail

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(c.retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, "POST", postmarkAPI, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Postmark-Server-Token", c.serverToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("send email: %w", err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("postmark API error: status %d", resp.StatusCode))
		case resp.StatusCode >= 400:
			return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
		}
		return nil
	})
}
