package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"registrar/internal/judgement/models"
)

// ChatDriver delivers challenges over a Matrix homeserver. A direct room is
// opened with the target on first contact and reused afterwards.
type ChatDriver struct {
	homeserver string
	token      string
	http       *http.Client
	rooms      RoomStore
	links      *Linker
	txnSeq     atomic.Uint64
}

func NewChatDriver(homeserverURL, accessToken string, rooms RoomStore, links *Linker) *ChatDriver {
	return &ChatDriver{
		homeserver: strings.TrimRight(homeserverURL, "/"),
		token:      accessToken,
		http:       &http.Client{Timeout: 10 * time.Second},
		rooms:      rooms,
		links:      links,
	}
}

func (d *ChatDriver) Channel() models.Channel { return models.ChannelChat }

func (d *ChatDriver) Invoke(ctx context.Context, r *models.JudgementRequest) error {
	link, err := d.links.Link(r, models.ChannelChat)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("The on-chain identity %s lists this chat account. Confirm it here: %s", r.Account, link)
	return d.send(ctx, r.Chat, body)
}

func (d *ChatDriver) Notify(ctx context.Context, r *models.JudgementRequest, verified bool) error {
	body := fmt.Sprintf("This chat account was %s for identity %s.", outcomeText(verified), r.Account)
	return d.send(ctx, r.Chat, body)
}

type createRoomRequest struct {
	Preset   string   `json:"preset"`
	Invite   []string `json:"invite"`
	IsDirect bool     `json:"is_direct"`
}

type createRoomResponse struct {
	RoomID string `json:"room_id"`
}

type textMessage struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

func (d *ChatDriver) send(ctx context.Context, user, body string) error {
	room, err := d.roomFor(ctx, user)
	if err != nil {
		return err
	}
	txn := fmt.Sprintf("registrar-%d-%d", time.Now().UnixNano(), d.txnSeq.Add(1))
	endpoint := d.homeserver + "/_matrix/client/v3/rooms/" + url.PathEscape(room) +
		"/send/m.room.message/" + url.PathEscape(txn)
	if err := doJSON(ctx, d.http, http.MethodPut, endpoint, d.token, textMessage{MsgType: "m.text", Body: body}, nil); err != nil {
		return fmt.Errorf("send chat message to %s: %w", user, err)
	}
	return nil
}

func (d *ChatDriver) roomFor(ctx context.Context, user string) (string, error) {
	if user == "" {
		return "", fmt.Errorf("empty chat account")
	}
	room, ok, err := d.rooms.Room(ctx, user)
	if err != nil {
		return "", err
	}
	if ok {
		return room, nil
	}
	var created createRoomResponse
	err = doJSON(ctx, d.http, http.MethodPost, d.homeserver+"/_matrix/client/v3/createRoom", d.token,
		createRoomRequest{Preset: "trusted_private_chat", Invite: []string{user}, IsDirect: true}, &created)
	if err != nil {
		return "", fmt.Errorf("create room with %s: %w", user, err)
	}
	if created.RoomID == "" {
		return "", fmt.Errorf("create room with %s: empty room id", user)
	}
	if err := d.rooms.SaveRoom(ctx, user, created.RoomID); err != nil {
		return "", err
	}
	return created.RoomID, nil
}
