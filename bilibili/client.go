// Package bilibili talks to a bilibili live room: the HTTP APIs used to post
// danmaku and look up rooms, guards and viewers, and the websocket feed the
// room events arrive on.
package bilibili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/danmaku-reactor/danmaku"
	"github.com/onnwee/danmaku-reactor/event"
)

const (
	DefaultLiveBaseURL = "https://api.live.bilibili.com"
	DefaultAPIBaseURL  = "https://api.bilibili.com"

	danmakuColorWhite = 16777215
	guardPageSize     = 29
	maxGuardPages     = 100
)

// ErrAPI is returned when an endpoint answers with a non-zero code.
var ErrAPI = errors.New("bilibili: api error")

// Client calls the bilibili HTTP APIs. Posting requires SESSDATA and the
// bili_jct CSRF cookie of a logged in account; lookups work anonymously.
type Client struct {
	HTTPClient  *http.Client
	LiveBaseURL string
	APIBaseURL  string
	SESSDATA    string
	CSRF        string
	UserAgent   string

	// RoomID is the real (long) room id danmaku are posted to.
	RoomID int64

	mu        sync.Mutex
	anchorUID int64
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) liveURL(path string) string {
	base := c.LiveBaseURL
	if base == "" {
		base = DefaultLiveBaseURL
	}
	return strings.TrimSuffix(base, "/") + path
}

func (c *Client) apiURL(path string) string {
	base := c.APIBaseURL
	if base == "" {
		base = DefaultAPIBaseURL
	}
	return strings.TrimSuffix(base, "/") + path
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(req *http.Request, out any) error {
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if c.SESSDATA != "" {
		req.AddCookie(&http.Cookie{Name: "SESSDATA", Value: c.SESSDATA})
	}
	if c.CSRF != "" {
		req.AddCookie(&http.Cookie{Name: "bili_jct", Value: c.CSRF})
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, strings.TrimSpace(string(b)))
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s: decode: %w", req.URL.Path, err)
	}
	if env.Code != 0 {
		msg := env.Message
		if msg == "" {
			msg = env.Msg
		}
		return fmt.Errorf("%w: %s: code %d: %s", ErrAPI, req.URL.Path, env.Code, msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, rawURL string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = q.Encode()
	return c.do(req, out)
}

// RoomInfo is the subset of room metadata the bot needs at startup.
type RoomInfo struct {
	RoomID     int64
	ShortID    int64
	AnchorUID  int64
	AnchorName string
	MedalName  string
	Title      string
	Live       bool
}

// RoomInfo resolves roomID (short or long) and reports who owns it and whether it is live.
func (c *Client) RoomInfo(ctx context.Context, roomID int64) (RoomInfo, error) {
	var data struct {
		RoomInfo struct {
			RoomID     int64  `json:"room_id"`
			ShortID    int64  `json:"short_id"`
			UID        int64  `json:"uid"`
			Title      string `json:"title"`
			LiveStatus int    `json:"live_status"`
		} `json:"room_info"`
		AnchorInfo struct {
			BaseInfo struct {
				Uname string `json:"uname"`
			} `json:"base_info"`
			MedalInfo struct {
				MedalName string `json:"medal_name"`
			} `json:"medal_info"`
		} `json:"anchor_info"`
	}
	q := url.Values{}
	q.Set("room_id", strconv.FormatInt(roomID, 10))
	if err := c.get(ctx, c.liveURL("/xlive/web-room/v1/index/getInfoByRoom"), q, &data); err != nil {
		return RoomInfo{}, err
	}
	info := RoomInfo{
		RoomID:     data.RoomInfo.RoomID,
		ShortID:    data.RoomInfo.ShortID,
		AnchorUID:  data.RoomInfo.UID,
		AnchorName: data.AnchorInfo.BaseInfo.Uname,
		MedalName:  data.AnchorInfo.MedalInfo.MedalName,
		Title:      data.RoomInfo.Title,
		Live:       data.RoomInfo.LiveStatus == 1,
	}
	c.mu.Lock()
	c.anchorUID = info.AnchorUID
	c.mu.Unlock()
	return info, nil
}

// DanmuInfo is the websocket token and host list for a room.
type DanmuInfo struct {
	Token string
	Hosts []string // wss URLs
}

// DanmuInfo fetches the websocket auth token and servers for roomID.
func (c *Client) DanmuInfo(ctx context.Context, roomID int64) (DanmuInfo, error) {
	var data struct {
		Token    string `json:"token"`
		HostList []struct {
			Host    string `json:"host"`
			WSSPort int    `json:"wss_port"`
		} `json:"host_list"`
	}
	q := url.Values{}
	q.Set("id", strconv.FormatInt(roomID, 10))
	q.Set("type", "0")
	if err := c.get(ctx, c.liveURL("/xlive/web-room/v1/index/getDanmuInfo"), q, &data); err != nil {
		return DanmuInfo{}, err
	}
	info := DanmuInfo{Token: data.Token}
	for _, h := range data.HostList {
		port := h.WSSPort
		if port == 0 {
			port = 443
		}
		info.Hosts = append(info.Hosts, fmt.Sprintf("wss://%s:%d/sub", h.Host, port))
	}
	return info, nil
}

func placementMode(p danmaku.Placement) string {
	switch p {
	case danmaku.PlacementBottom:
		return "4"
	case danmaku.PlacementTop:
		return "5"
	default:
		return "1"
	}
}

func fontSize(e danmaku.Emphasis) string {
	if e == danmaku.EmphasisSmall {
		return "18"
	}
	return "25"
}

// Post sends one danmaku to RoomID. It implements danmaku.Poster.
func (c *Client) Post(ctx context.Context, msg danmaku.Message) error {
	if c.SESSDATA == "" || c.CSRF == "" {
		return errors.New("bilibili: SESSDATA and bili_jct are required to post")
	}
	form := url.Values{}
	form.Set("bubble", "0")
	form.Set("msg", msg.Text)
	form.Set("color", strconv.Itoa(danmakuColorWhite))
	form.Set("mode", placementMode(msg.Placement))
	form.Set("fontsize", fontSize(msg.Emphasis))
	form.Set("rnd", strconv.FormatInt(time.Now().Unix(), 10))
	form.Set("roomid", strconv.FormatInt(c.RoomID, 10))
	form.Set("csrf", c.CSRF)
	form.Set("csrf_token", c.CSRF)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.liveURL("/msg/send"), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, nil)
}

// FetchGuardRoster walks every page of the guard list of roomID.
func (c *Client) FetchGuardRoster(ctx context.Context, roomID int64) (map[event.UID]event.GuardLevel, error) {
	c.mu.Lock()
	ruid := c.anchorUID
	c.mu.Unlock()
	if ruid == 0 {
		info, err := c.RoomInfo(ctx, roomID)
		if err != nil {
			return nil, err
		}
		roomID, ruid = info.RoomID, info.AnchorUID
	}

	type member struct {
		UID        int64 `json:"uid"`
		GuardLevel int   `json:"guard_level"`
	}
	roster := map[event.UID]event.GuardLevel{}
	for page := 1; page <= maxGuardPages; page++ {
		var data struct {
			Info struct {
				Num  int `json:"num"`
				Page int `json:"page"`
			} `json:"info"`
			List []member `json:"list"`
			Top3 []member `json:"top3"`
		}
		q := url.Values{}
		q.Set("roomid", strconv.FormatInt(roomID, 10))
		q.Set("ruid", strconv.FormatInt(ruid, 10))
		q.Set("page", strconv.Itoa(page))
		q.Set("page_size", strconv.Itoa(guardPageSize))
		if err := c.get(ctx, c.liveURL("/xlive/app-room/v2/guardTab/topList"), q, &data); err != nil {
			return nil, err
		}
		for _, m := range append(data.Top3, data.List...) {
			roster[event.UID(m.UID)] = event.GuardLevel(m.GuardLevel)
		}
		if page >= data.Info.Page || len(data.List) == 0 {
			break
		}
	}
	return roster, nil
}

// Relation returns follower and following counts of uid.
func (c *Client) Relation(ctx context.Context, uid event.UID) (event.Relation, error) {
	var data struct {
		Follower  int64 `json:"follower"`
		Following int64 `json:"following"`
	}
	q := url.Values{}
	q.Set("vmid", uid.String())
	if err := c.get(ctx, c.apiURL("/x/relation/stat"), q, &data); err != nil {
		return event.Relation{}, err
	}
	return event.Relation{Follower: data.Follower, Following: data.Following}, nil
}

// Profile returns the public account info of uid.
func (c *Client) Profile(ctx context.Context, uid event.UID) (event.Profile, error) {
	var data struct {
		Sex   string `json:"sex"`
		Level int    `json:"level"`
	}
	q := url.Values{}
	q.Set("mid", uid.String())
	if err := c.get(ctx, c.apiURL("/x/space/acc/info"), q, &data); err != nil {
		return event.Profile{}, err
	}
	return event.Profile{Sex: data.Sex, Level: data.Level}, nil
}
