package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/stellarlinkco/triad/internal/bus"
	"github.com/stellarlinkco/triad/internal/config"
)

const (
	consoleChannelName  = "console"
	consoleDefaultRoom  = "command_center"
	consoleDefaultPort  = 8790
	consoleWriteTimeout = 5 * time.Second
)

type wsMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Persona string `json:"persona,omitempty"`
	Content string `json:"content,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	id   string
}

// StatusFunc supplies a JSON-encodable snapshot for the probe endpoints.
type StatusFunc func() any

// ConsoleChannel is a local operator surface: a websocket console that
// mirrors every room, plus /healthz and /metrics probes.
type ConsoleChannel struct {
	BaseChannel
	port    int
	server  *http.Server
	clients sync.Map
	nextID  atomic.Int64

	healthFn  StatusFunc
	metricsFn StatusFunc
}

func NewConsoleChannel(cfg config.ConsoleConfig, b *bus.MessageBus) (*ConsoleChannel, error) {
	port := cfg.Port
	if port == 0 {
		port = consoleDefaultPort
	}
	return &ConsoleChannel{
		BaseChannel: NewBaseChannel(consoleChannelName, b, cfg.AllowFrom),
		port:        port,
	}, nil
}

// SetHealth installs the /healthz snapshot supplier.
func (c *ConsoleChannel) SetHealth(fn StatusFunc) { c.healthFn = fn }

// SetMetrics installs the /metrics snapshot supplier.
func (c *ConsoleChannel) SetMetrics(fn StatusFunc) { c.metricsFn = fn }

// Rooms is empty: the console mirrors all rooms through the wildcard
// subscription instead of owning any.
func (c *ConsoleChannel) Rooms() []string { return nil }

func (c *ConsoleChannel) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", c.handleIndex)
	mux.HandleFunc("/ws", c.handleWS)
	mux.HandleFunc("/healthz", c.handleStatus(func() StatusFunc { return c.healthFn }))
	mux.HandleFunc("/metrics", c.handleStatus(func() StatusFunc { return c.metricsFn }))

	c.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", c.port),
		Handler: mux,
	}

	go func() {
		log.Printf("[console] listening on :%d", c.port)
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[console] server error: %v", err)
		}
	}()

	return nil
}

func (c *ConsoleChannel) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(consolePage))
}

func (c *ConsoleChannel) handleStatus(supplier func() StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn := supplier()
		if fn == nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(fn()); err != nil {
			log.Printf("[console] encode status: %v", err)
		}
	}
}

func (c *ConsoleChannel) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[console] websocket accept error: %v", err)
		return
	}

	clientID := fmt.Sprintf("console-%d", c.nextID.Add(1))
	client := &wsClient{conn: conn, id: clientID}
	c.clients.Store(clientID, client)
	log.Printf("[console] client connected: %s", clientID)

	defer func() {
		c.clients.Delete(clientID)
		conn.CloseNow()
		log.Printf("[console] client disconnected: %s", clientID)
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "message" || msg.Content == "" {
			continue
		}
		if !c.IsAllowed(clientID) {
			log.Printf("[console] rejected message from %s", clientID)
			continue
		}

		room := msg.Channel
		if room == "" {
			room = consoleDefaultRoom
		}

		c.bus.Inbound <- bus.InboundMessage{
			ID:         uuid.NewString(),
			Channel:    room,
			AuthorID:   clientID,
			Content:    msg.Content,
			ReceivedAt: time.Now(),
		}
	}
}

// Send broadcasts the message to every connected console client.
func (c *ConsoleChannel) Send(msg bus.OutboundMessage) error {
	data, err := json.Marshal(wsMessage{
		Type:    "message",
		Channel: msg.Channel,
		Persona: msg.Persona,
		Content: msg.Content,
	})
	if err != nil {
		return err
	}

	c.clients.Range(func(key, value any) bool {
		client := value.(*wsClient)
		ctx, cancel := context.WithTimeout(context.Background(), consoleWriteTimeout)
		defer cancel()
		_ = client.conn.Write(ctx, websocket.MessageText, data)
		return true
	})
	return nil
}

func (c *ConsoleChannel) Stop() error {
	if c.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.server.Shutdown(ctx); err != nil {
			log.Printf("[console] shutdown error: %v", err)
		}
	}
	c.clients.Range(func(key, value any) bool {
		value.(*wsClient).conn.CloseNow()
		return true
	})
	log.Printf("[console] stopped")
	return nil
}

const consolePage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>triad console</title>
<style>
body{font-family:monospace;margin:2em;background:#111;color:#ddd}
#log{height:70vh;overflow-y:auto;border:1px solid #444;padding:1em;white-space:pre-wrap}
input,select{font-family:inherit;background:#222;color:#ddd;border:1px solid #444;padding:.4em}
#content{width:50%}
</style></head>
<body>
<h3>triad console</h3>
<div id="log"></div>
<p>
<select id="channel">
<option>command_center</option><option>lounge</option>
<option>development</option><option>creation</option>
</select>
<input id="content" placeholder="say something, or: task commit development &quot;...&quot;">
<button onclick="send()">send</button>
</p>
<script>
const log=document.getElementById('log');
const ws=new WebSocket('ws://'+location.host+'/ws');
ws.onmessage=e=>{const m=JSON.parse(e.data);
log.textContent+='['+m.channel+'] '+(m.persona||'')+': '+m.content+'\n';
log.scrollTop=log.scrollHeight;};
function send(){const c=document.getElementById('content');
ws.send(JSON.stringify({type:'message',channel:document.getElementById('channel').value,content:c.value}));
log.textContent+='['+document.getElementById('channel').value+'] you: '+c.value+'\n';
c.value='';}
document.getElementById('content').addEventListener('keydown',e=>{if(e.key==='Enter')send();});
</script>
</body></html>`
