package graph

// Media is one content item from the account's media edge.
type Media struct {
	ID        string `json:"id"`
	Caption   string `json:"caption"`
	Timestamp string `json:"timestamp"`
}

// Comment is one comment on a media item.
type Comment struct {
	ID       string       `json:"id"`
	Text     string       `json:"text"`
	Username string       `json:"username"`
	From     *CommentFrom `json:"from"`
}

// CommentFrom attributes a comment to its author.
type CommentFrom struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// AuthorID returns the best available commenter id.
func (c Comment) AuthorID() string {
	if c.From != nil {
		return c.From.ID
	}
	return ""
}

// AuthorName returns the best available commenter display name.
func (c Comment) AuthorName() string {
	if c.From != nil && c.From.Username != "" {
		return c.From.Username
	}
	return c.Username
}

type mediaListResponse struct {
	Data []Media `json:"data"`
}

type commentListResponse struct {
	Data []Comment `json:"data"`
}

type userProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type dmRecipient struct {
	ID string `json:"id"`
}

type dmMessage struct {
	Text string `json:"text"`
}

type dmSendRequest struct {
	Recipient   dmRecipient `json:"recipient"`
	Message     dmMessage   `json:"message"`
	AccessToken string      `json:"access_token"`
}

type commentReplyRequest struct {
	Message     string `json:"message"`
	AccessToken string `json:"access_token"`
}

type subscribeRequest struct {
	SubscribedFields []string `json:"subscribed_fields"`
	AccessToken      string   `json:"access_token"`
}

// apiError is the provider's error envelope. Both transport failures and
// provider-reported errors surface to callers as plain errors.
type apiError struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}
