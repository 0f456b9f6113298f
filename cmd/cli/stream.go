package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"arduinohub/pkg/models"
)

// handleWatch follows one session's task events until every section has
// settled, or forever with -follow.
func handleWatch(api *apiClient, args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	id := fs.String("session", "", "session id")
	follow := fs.Bool("follow", false, "keep watching after all sections settle")
	_ = fs.Parse(args)

	if *id == "" {
		st, _ := loadState(api.statePath)
		*id = st.Session
	}
	if *id == "" {
		log.Fatal("no session: run `arduinohub session new` or pass -session")
	}

	q := url.Values{}
	q.Set("session", *id)
	q.Set("token", api.mustToken())
	wsURL, err := websocketURL(api.base, "/ws", q)
	if err != nil {
		log.Fatalf("websocket url: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	w := newWatcher()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			log.Printf("[watch] disconnected: %v", err)
			return
		}
		line, done := w.handle(data)
		if line != "" {
			fmt.Println(line)
		}
		if done && !*follow {
			return
		}
	}
}

// watcher tracks the newest attempt and seq per section and reports when all of
// them have settled after generation has started at least once.
type watcher struct {
	attempts map[models.Section]uint64
	seqs     map[models.Section]uint64
	status   map[models.Section]models.TaskStatus
	started  bool
}

func newWatcher() *watcher {
	return &watcher{
		attempts: make(map[models.Section]uint64),
		seqs:     make(map[models.Section]uint64),
		status:   make(map[models.Section]models.TaskStatus),
	}
}

func (w *watcher) handle(data []byte) (string, bool) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return strings.TrimSpace(string(data)), false
	}

	switch head.Type {
	case "welcome":
		return "connected", false
	case "session.closed":
		return "session closed", true
	case "task.update":
	default:
		return string(data), false
	}

	var ev models.TaskEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return string(data), false
	}
	st := ev.State
	if ev.Attempt < w.attempts[st.Section] || ev.Seq < w.seqs[st.Section] {
		return "", false
	}
	w.attempts[st.Section] = ev.Attempt
	w.seqs[st.Section] = ev.Seq
	w.status[st.Section] = st.Status
	if ev.Attempt > 0 {
		w.started = true
	}

	var line string
	switch st.Status {
	case models.StatusRunning:
		line = fmt.Sprintf("%-10s #%d %3d%%", st.Section, ev.Attempt, st.Progress)
	case models.StatusFailed:
		line = fmt.Sprintf("%-10s #%d failed: %s", st.Section, ev.Attempt, st.Error)
	case models.StatusSucceeded:
		line = fmt.Sprintf("%-10s #%d done (%d bytes)", st.Section, ev.Attempt, len(st.Content))
	default:
		line = fmt.Sprintf("%-10s %s", st.Section, st.Status)
	}
	return line, w.settled()
}

func (w *watcher) settled() bool {
	if !w.started {
		return false
	}
	for _, s := range models.Sections {
		switch w.status[s] {
		case models.StatusSucceeded, models.StatusFailed:
		default:
			return false
		}
	}
	return true
}

// handleFeed tails the line-delimited JSON feed of the TCP sync server,
// reconnecting when the connection drops.
func handleFeed(args []string) {
	sub := ""
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	if sub != "listen" {
		log.Fatal("usage: arduinohub feed listen [-addr host:port]")
	}
	fs := flag.NewFlagSet("feed listen", flag.ExitOnError)
	addr := fs.String("addr", envOr("ARDUINOHUB_TCP", "127.0.0.1:7070"), "TCP sync server address")
	pretty := fs.Bool("pretty", true, "pretty print JSON events")
	_ = fs.Parse(args)

	for {
		if err := tailFeed(*addr, *pretty); err != nil {
			log.Printf("[feed] disconnected: %v", err)
		}
		time.Sleep(time.Second)
	}
}

func tailFeed(addr string, pretty bool) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	log.Printf("[feed] connected to %s", addr)

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		fmt.Println(formatFeedLine(sc.Bytes(), pretty))
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return net.ErrClosed
}

func formatFeedLine(line []byte, pretty bool) string {
	if !pretty {
		return string(line)
	}
	var obj map[string]any
	if err := json.Unmarshal(line, &obj); err != nil {
		return string(line)
	}
	b, _ := json.MarshalIndent(obj, "", "  ")
	return string(b)
}
