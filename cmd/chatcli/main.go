// Command chatcli is a terminal client for the chat relay. It logs in over
// HTTP, holds one WebSocket connection and renders conversations through
// the reconciler.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/npezzotti/go-chatrelay/internal/api"
	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/reconcile"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

const usage = `commands:
  /to <userId> <text>      send a private message
  /group <groupId> <text>  send a group message
  /join <groupId>          subscribe to a group
  /leave <groupId>         unsubscribe from a group
  /groups                  list your groups
  /history <chatId>        load history, e.g. user:2 or group:1
  /read <chatId>           mark a conversation read
  /unread                  show unread counts
  /show <chatId>           print a conversation
  /quit`

type inboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type session struct {
	log     *log.Logger
	baseURL *url.URL
	token   string
	self    types.User
	conn    *websocket.Conn
	writeMu sync.Mutex
	rec     *reconcile.Reconciler
}

func (s *session) do(method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(method, s.baseURL.JoinPath(path).String(), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr api.ApiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Message)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *session) login(email, password string) error {
	var resp api.LoginResponse
	if err := s.do(http.MethodPost, "/api/auth/login", api.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return err
	}

	s.token = resp.Token
	s.self = resp.User
	s.rec = reconcile.New(resp.User.Id)
	return nil
}

func (s *session) connect() error {
	wsURL := *s.baseURL
	wsURL.Scheme = "ws"
	if s.baseURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	}
	wsURL.Path = "/ws"
	wsURL.RawQuery = url.Values{"token": {s.token}}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL.Redacted(), err)
	}
	s.conn = conn
	return nil
}

func (s *session) send(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(server.ClientMessage{Event: event, Data: raw})
}

// readLoop applies every server event to the reconciler and prints it.
func (s *session) readLoop(done chan<- struct{}) {
	defer close(done)

	for {
		var ev inboundEvent
		if err := s.conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.log.Println("connection closed:", err)
			}
			return
		}

		switch ev.Event {
		case server.EventAuthenticated:
			fmt.Printf("* connected as %s (%d)\n", s.self.Username, s.self.Id)
			s.send(server.EventRequestGroups, nil)
		case server.EventUpdateGroups:
			var groups []server.GroupSummary
			if json.Unmarshal(ev.Data, &groups) == nil {
				for _, g := range groups {
					fmt.Printf("* group %d: %s\n", g.Id, g.Name)
					s.send(server.EventJoinGroup, server.GroupRequest{GroupId: g.Id})
				}
			}
		case server.EventPrivateMessage:
			var p server.PrivateMessagePayload
			if json.Unmarshal(ev.Data, &p) == nil && s.rec.Receive(reconcile.FromPrivateMessage(s.self.Id, p)) {
				fmt.Printf("[%s] %d: %s\n", types.PrivateChat(p.FromUserId), p.FromUserId, p.Message)
			}
		case server.EventGroupMessage:
			var p server.GroupMessagePayload
			if json.Unmarshal(ev.Data, &p) == nil && s.rec.Receive(reconcile.FromGroupMessage(p)) {
				fmt.Printf("[%s] %d: %s\n", types.GroupChat(p.GroupId), p.FromUserId, p.Message)
			}
		case server.EventMessageSent:
			var p server.MessageSentPayload
			if json.Unmarshal(ev.Data, &p) == nil && s.rec.Confirm(p) {
				fmt.Printf("* sent #%d to %s\n", p.MessageId, p.ChatId)
			}
		case server.EventUserOnline, server.EventUserOffline:
			var p server.UserPayload
			if json.Unmarshal(ev.Data, &p) == nil {
				fmt.Printf("* user %d is %s\n", p.UserId, strings.TrimPrefix(ev.Event, "user_"))
			}
		case server.EventError:
			var p server.ErrorPayload
			if json.Unmarshal(ev.Data, &p) == nil {
				if p.ClientMsgId != "" {
					s.rec.Fail(p.ClientMsgId)
				}
				fmt.Printf("! %s: %s\n", p.Code, p.Message)
			}
		}
	}
}

func (s *session) sendText(chatId types.ChatId, text string) error {
	pending := s.rec.AddPending(chatId, text)

	if chatId.IsGroup() {
		return s.send(server.EventGroupMessage, server.GroupMessageRequest{
			GroupId:     chatId.Id,
			Message:     text,
			ClientMsgId: pending.ClientMsgId,
		})
	}
	return s.send(server.EventPrivateMessage, server.PrivateMessageRequest{
		ToUserId:    chatId.Id,
		Message:     text,
		ClientMsgId: pending.ClientMsgId,
	})
}

func (s *session) loadHistory(chatId types.ChatId) error {
	var msgs []types.Message
	if err := s.do(http.MethodGet, "/api/chats/"+chatId.String()+"/messages", nil, &msgs); err != nil {
		return err
	}

	inbound := make([]reconcile.Inbound, 0, len(msgs))
	for _, m := range msgs {
		inbound = append(inbound, reconcile.FromHistory(s.self.Id, m))
	}
	n := s.rec.LoadHistory(inbound)
	fmt.Printf("* loaded %d new messages\n", n)
	return s.show(chatId)
}

func (s *session) show(chatId types.ChatId) error {
	for _, e := range s.rec.Messages(chatId) {
		mark := ""
		if e.Status != reconcile.StatusSent {
			mark = " (" + string(e.Status) + ")"
		}
		fmt.Printf("  %d: %s%s\n", e.FromUserId, e.Content, mark)
	}
	return nil
}

func (s *session) command(line string) (bool, error) {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "":
		return true, nil
	case "/quit":
		return false, nil
	case "/to", "/group":
		idText, text, _ := strings.Cut(rest, " ")
		id, err := strconv.Atoi(idText)
		if err != nil {
			return true, fmt.Errorf("invalid id %q", idText)
		}
		chatId := types.PrivateChat(id)
		if cmd == "/group" {
			chatId = types.GroupChat(id)
		}
		return true, s.sendText(chatId, text)
	case "/join", "/leave":
		id, err := strconv.Atoi(rest)
		if err != nil {
			return true, fmt.Errorf("invalid group id %q", rest)
		}
		event := server.EventJoinGroup
		if cmd == "/leave" {
			event = server.EventLeaveGroup
		}
		return true, s.send(event, server.GroupRequest{GroupId: id})
	case "/groups":
		return true, s.send(server.EventRequestGroups, nil)
	case "/history", "/read", "/show":
		chatId, err := types.ParseChatId(rest)
		if err != nil {
			return true, err
		}
		switch cmd {
		case "/history":
			return true, s.loadHistory(chatId)
		case "/show":
			return true, s.show(chatId)
		}
		var resp api.MarkReadResponse
		if err := s.do(http.MethodPost, "/api/chats/"+chatId.String()+"/read", nil, &resp); err != nil {
			return true, err
		}
		fmt.Printf("* marked %d messages read\n", resp.MarkedCount)
		return true, nil
	case "/unread":
		var counts map[string]int
		if err := s.do(http.MethodGet, "/api/unread/counts", nil, &counts); err != nil {
			return true, err
		}
		if len(counts) == 0 {
			fmt.Println("* nothing unread")
		}
		for chat, n := range counts {
			fmt.Printf("* %s: %d\n", chat, n)
		}
		return true, nil
	default:
		fmt.Println(usage)
		return true, nil
	}
}

func main() {
	_ = godotenv.Load()

	serverURL := flag.String("server", config.EnvString("CHATRELAY_SERVER", "http://localhost:8000"), "chat relay base url")
	email := flag.String("email", config.EnvString("CHATRELAY_EMAIL", ""), "account email")
	password := flag.String("password", config.EnvString("CHATRELAY_PASSWORD", ""), "account password")
	flag.Parse()

	logger := log.New(os.Stderr, "[chatcli] ", log.LstdFlags)

	base, err := url.Parse(*serverURL)
	if err != nil {
		logger.Fatal("server url:", err)
	}
	if *email == "" || *password == "" {
		logger.Fatal("-email and -password are required")
	}

	s := &session{log: logger, baseURL: base}
	if err := s.login(*email, *password); err != nil {
		logger.Fatal("login:", err)
	}
	if err := s.connect(); err != nil {
		logger.Fatal(err)
	}
	defer s.conn.Close()

	done := make(chan struct{})
	go s.readLoop(done)

	fmt.Println(usage)
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-done:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			more, err := s.command(line)
			if err != nil {
				fmt.Println("!", err)
			}
			if !more {
				s.writeMu.Lock()
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				s.writeMu.Unlock()
				return
			}
		}
	}
}
