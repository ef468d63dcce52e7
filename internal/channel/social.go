package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"registrar/internal/judgement/models"
)

// SocialDriver delivers challenges as direct messages through the social
// network's v2 API.
type SocialDriver struct {
	baseURL string
	token   string
	http    *http.Client
	links   *Linker
}

func NewSocialDriver(baseURL, bearerToken string, links *Linker) *SocialDriver {
	return &SocialDriver{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   bearerToken,
		http:    &http.Client{Timeout: 10 * time.Second},
		links:   links,
	}
}

func (d *SocialDriver) Channel() models.Channel { return models.ChannelSocial }

func (d *SocialDriver) Invoke(ctx context.Context, r *models.JudgementRequest) error {
	link, err := d.links.Link(r, models.ChannelSocial)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("The on-chain identity %s lists this account. Confirm it here: %s", r.Account, link)
	return d.send(ctx, r.Social, text)
}

func (d *SocialDriver) Notify(ctx context.Context, r *models.JudgementRequest, verified bool) error {
	text := fmt.Sprintf("This account was %s for identity %s.", outcomeText(verified), r.Account)
	return d.send(ctx, r.Social, text)
}

type userLookupResponse struct {
	Data struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"data"`
}

type dmRequest struct {
	Text string `json:"text"`
}

func (d *SocialDriver) send(ctx context.Context, handle, text string) error {
	handle = strings.TrimPrefix(handle, "@")
	if handle == "" {
		return fmt.Errorf("empty social handle")
	}
	var user userLookupResponse
	err := doJSON(ctx, d.http, http.MethodGet, d.baseURL+"/2/users/by/username/"+url.PathEscape(handle), d.token, nil, &user)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", handle, err)
	}
	if user.Data.ID == "" {
		return fmt.Errorf("lookup %s: user not found", handle)
	}
	err = doJSON(ctx, d.http, http.MethodPost,
		d.baseURL+"/2/dm_conversations/with/"+url.PathEscape(user.Data.ID)+"/messages",
		d.token, dmRequest{Text: text}, nil)
	if err != nil {
		return fmt.Errorf("direct message %s: %w", handle, err)
	}
	return nil
}
