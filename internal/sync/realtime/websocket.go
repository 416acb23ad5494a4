package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ferndale-health/stitch/internal/core/chat"
)

const streamBuffer = 32

// WebsocketFeed opens realtime streams over the service's websocket
// endpoint. One connection per resource; the server filters events to the
// resource named in the query.
type WebsocketFeed struct {
	baseURL string
	apiKey  string
	dialer  *websocket.Dialer
	log     zerolog.Logger
}

// NewWebsocketFeed builds a feed from the service's HTTP base URL; the
// scheme is rewritten to ws/wss when dialing.
func NewWebsocketFeed(baseURL, apiKey string, log zerolog.Logger) *WebsocketFeed {
	return &WebsocketFeed{
		baseURL: baseURL,
		apiKey:  apiKey,
		dialer:  websocket.DefaultDialer,
		log:     log,
	}
}

func (f *WebsocketFeed) Open(ctx context.Context, res Resource) (Stream, error) {
	endpoint, err := f.streamURL(res)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if f.apiKey != "" {
		header.Set("Authorization", "Bearer "+f.apiKey)
	}

	conn, resp, err := f.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime feed: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial realtime feed: %w", err)
	}

	s := &wsStream{
		conn:   conn,
		events: make(chan chat.Event, streamBuffer),
		errc:   make(chan error, 1),
		log:    f.log.With().Str("resource", res.ID).Logger(),
	}
	go s.readLoop()
	return s, nil
}

func (f *WebsocketFeed) streamURL(res Resource) (string, error) {
	parsed, err := url.Parse(f.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid feed base url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported feed scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/v1/realtime"

	query := url.Values{}
	switch res.Kind {
	case KindMessage:
		query.Set("message_id", res.ID)
	default:
		query.Set("chat_id", res.ID)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

type wsStream struct {
	conn   *websocket.Conn
	events chan chat.Event
	errc   chan error
	log    zerolog.Logger
}

func (s *wsStream) Events() <-chan chat.Event { return s.events }
func (s *wsStream) Err() <-chan error         { return s.errc }

func (s *wsStream) Close() error {
	return s.conn.Close()
}

// readLoop decodes frames until the connection dies. Payloads that fail
// validation are logged and skipped so one malformed event cannot kill the
// subscription.
func (s *wsStream) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn().Err(err).Msg("feed connection lost")
			}
			s.errc <- err
			return
		}

		ev, err := chat.ParseEvent(data)
		if err != nil {
			s.log.Debug().Err(err).Msg("skipping feed payload")
			continue
		}

		select {
		case s.events <- ev:
		default:
			// Consumer is not keeping up; drop the oldest to stay live.
			select {
			case <-s.events:
			default:
			}
			s.events <- ev
		}
	}
}
