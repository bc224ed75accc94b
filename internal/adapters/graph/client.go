package graph

import (
	"context"
	"fmt"
	"strconv"

	"chatwise/pkg/httputil"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// API is the messaging-platform surface the pipeline depends on. Tests swap
// in a fake; production uses Client against the Graph API.
type API interface {
	SendDirectReply(ctx context.Context, accountID, recipientID, text, token string) error
	SendCommentReply(ctx context.Context, commentID, text, token string) error
	LookupDisplayName(ctx context.Context, userID, token string) (string, error)
	ListRecentMedia(ctx context.Context, accountID string, limit int, token string) ([]Media, error)
	ListComments(ctx context.Context, mediaID, token string) ([]Comment, error)
	SubscribePage(ctx context.Context, pageID, token string) error
	SubscribeAccount(ctx context.Context, accountID, token string) error
}

// Client talks to the Instagram Graph API.
type Client struct {
	httpClient *resty.Client
}

// NewClient creates a Graph API client rooted at baseURL
// (e.g. https://graph.facebook.com/v18.0).
func NewClient(baseURL string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("graph baseURL cannot be empty")
	}
	log.Info().Str("baseURL", baseURL).Msg("Graph client configured")
	return &Client{httpClient: httputil.NewClient(baseURL)}, nil
}

// checkResponse folds transport and provider errors into one error shape.
func checkResponse(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("graph api %s request failed: %w", op, err)
	}
	if resp.IsError() {
		if apiErr, ok := resp.Error().(*apiError); ok && apiErr.Error.Message != "" {
			return fmt.Errorf("graph api %s error: %s (code %d)", op, apiErr.Error.Message, apiErr.Error.Code)
		}
		return fmt.Errorf("graph api %s error: status %s, body: %s", op, resp.Status(), resp.String())
	}
	return nil
}

// SendDirectReply sends a DM through the account's messages edge.
func (c *Client) SendDirectReply(ctx context.Context, accountID, recipientID, text, token string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(dmSendRequest{
			Recipient:   dmRecipient{ID: recipientID},
			Message:     dmMessage{Text: text},
			AccessToken: token,
		}).
		SetError(&apiError{}).
		Post(fmt.Sprintf("/%s/messages", accountID))
	if err := checkResponse(resp, err, "SendDirectReply"); err != nil {
		log.Error().Err(err).Str("accountID", accountID).Str("recipientID", recipientID).Msg("Graph API: direct reply failed")
		return err
	}
	log.Debug().Str("accountID", accountID).Str("recipientID", recipientID).Msg("Direct reply sent")
	return nil
}

// SendCommentReply replies to a comment via its replies edge.
func (c *Client) SendCommentReply(ctx context.Context, commentID, text, token string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(commentReplyRequest{Message: text, AccessToken: token}).
		SetError(&apiError{}).
		Post(fmt.Sprintf("/%s/replies", commentID))
	if err := checkResponse(resp, err, "SendCommentReply"); err != nil {
		log.Error().Err(err).Str("commentID", commentID).Msg("Graph API: comment reply failed")
		return err
	}
	log.Debug().Str("commentID", commentID).Msg("Comment reply sent")
	return nil
}

// LookupDisplayName resolves a user's username.
func (c *Client) LookupDisplayName(ctx context.Context, userID, token string) (string, error) {
	var profile userProfile
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("fields", "username").
		SetQueryParam("access_token", token).
		SetResult(&profile).
		SetError(&apiError{}).
		Get("/" + userID)
	if err := checkResponse(resp, err, "LookupDisplayName"); err != nil {
		return "", err
	}
	return profile.Username, nil
}

// ListRecentMedia lists the account's most recent media items.
func (c *Client) ListRecentMedia(ctx context.Context, accountID string, limit int, token string) ([]Media, error) {
	var result mediaListResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("fields", "id,caption,timestamp").
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetQueryParam("access_token", token).
		SetResult(&result).
		SetError(&apiError{}).
		Get(fmt.Sprintf("/%s/media", accountID))
	if err := checkResponse(resp, err, "ListRecentMedia"); err != nil {
		log.Error().Err(err).Str("accountID", accountID).Msg("Graph API: media listing failed")
		return nil, err
	}
	return result.Data, nil
}

// ListComments lists the comments on one media item.
func (c *Client) ListComments(ctx context.Context, mediaID, token string) ([]Comment, error) {
	var result commentListResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("fields", "id,text,username,from").
		SetQueryParam("access_token", token).
		SetResult(&result).
		SetError(&apiError{}).
		Get(fmt.Sprintf("/%s/comments", mediaID))
	if err := checkResponse(resp, err, "ListComments"); err != nil {
		log.Error().Err(err).Str("mediaID", mediaID).Msg("Graph API: comment listing failed")
		return nil, err
	}
	return result.Data, nil
}

// SubscribePage subscribes the linked page to messaging webhook fields so
// DM callbacks start flowing.
func (c *Client) SubscribePage(ctx context.Context, pageID, token string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(subscribeRequest{
			SubscribedFields: []string{"messages", "messaging_postbacks"},
			AccessToken:      token,
		}).
		SetError(&apiError{}).
		Post(fmt.Sprintf("/%s/subscribed_apps", pageID))
	if err := checkResponse(resp, err, "SubscribePage"); err != nil {
		log.Error().Err(err).Str("pageID", pageID).Msg("Graph API: page subscription failed")
		return err
	}
	log.Info().Str("pageID", pageID).Msg("Page subscribed for messaging events")
	return nil
}

// SubscribeAccount subscribes the Instagram account to comment webhook
// fields. Comment and mention deliveries depend on this account-level
// subscription; the page-level one only covers messaging.
func (c *Client) SubscribeAccount(ctx context.Context, accountID, token string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(subscribeRequest{
			SubscribedFields: []string{"comments", "live_comments", "mentions", "message_reactions", "message_edit"},
			AccessToken:      token,
		}).
		SetError(&apiError{}).
		Post(fmt.Sprintf("/%s/subscribed_apps", accountID))
	if err := checkResponse(resp, err, "SubscribeAccount"); err != nil {
		log.Error().Err(err).Str("accountID", accountID).Msg("Graph API: account subscription failed")
		return err
	}
	log.Info().Str("accountID", accountID).Msg("Account subscribed for comment events")
	return nil
}
