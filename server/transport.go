package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait は1回の書き込みに許す時間
	writeWait = 10 * time.Second
	// pongWait はクライアントからの pong を待つ時間
	pongWait = 60 * time.Second
	// pingPeriod は ping の送信間隔。pongWait より短くなければならない
	pingPeriod = (pongWait * 9) / 10
)

// StartOptions は Start の動作を指定する
type StartOptions struct {
	// TLS証明書ファイルのパス (TLSを使用する場合)
	CertFile string
	// TLS秘密鍵ファイルのパス (TLSを使用する場合)
	KeyFile string
	// Ready は待ち受けを開始した時点で close される (nil なら通知しない)
	Ready chan struct{}
}

// WebSocketTransport はWebSocketサーバーのネットワーク層を抽象化するインターフェース
type WebSocketTransport interface {
	// Start はWebSocketサーバーを起動する。Stop されるまで戻らない
	Start(options StartOptions) error

	// Stop はWebSocketサーバーを停止する
	Stop() error

	// SetMessageHandler はクライアントからメッセージを受信した時に呼び出されるハンドラを設定する
	// connID はクライアント接続を識別するための一意なID
	SetMessageHandler(handler func(connID string, message []byte) error)

	// SetConnectHandler は新しいクライアントが接続した時に呼び出されるハンドラを設定する
	SetConnectHandler(handler func(connID string) error)

	// SetDisconnectHandler はクライアントが切断した時に呼び出されるハンドラを設定する
	SetDisconnectHandler(handler func(connID string))

	// SendMessage は特定のクライアントにメッセージを送信する
	SendMessage(connID string, message []byte) error

	// BroadcastMessage は接続中の全クライアントにメッセージを送信する
	BroadcastMessage(message []byte) error
}

// clientConnection は書き込みを直列化するための mutex 付きの接続
type clientConnection struct {
	conn  *websocket.Conn
	mutex sync.Mutex
	done  chan struct{}
}

func (c *clientConnection) write(messageType int, data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// DefaultWebSocketTransport は WebSocketTransport インターフェースのデフォルト実装
type DefaultWebSocketTransport struct {
	ctx               context.Context
	cancel            context.CancelFunc
	server            *http.Server
	upgrader          websocket.Upgrader
	clients           map[string]*clientConnection
	clientsMutex      sync.RWMutex
	handlerMutex      sync.RWMutex
	messageHandler    func(connID string, message []byte) error
	connectHandler    func(connID string) error
	disconnectHandler func(connID string)
}

// NewDefaultWebSocketTransport は addr で待ち受ける DefaultWebSocketTransport を作成する
func NewDefaultWebSocketTransport(ctx context.Context, addr string) *DefaultWebSocketTransport {
	transportCtx, cancel := context.WithCancel(ctx)

	transport := &DefaultWebSocketTransport{
		ctx:    transportCtx,
		cancel: cancel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// モニタはローカルのツールから使うため Origin を制限しない
				return true
			},
		},
		clients: make(map[string]*clientConnection),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", transport.handleWebSocket)

	transport.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return transport
}

// Handler は /ws を含む HTTP ハンドラを返す
func (t *DefaultWebSocketTransport) Handler() http.Handler {
	return t.server.Handler
}

// Start はWebSocketサーバーを起動する
func (t *DefaultWebSocketTransport) Start(options StartOptions) error {
	// 先にリスナーをバインド
	listener, err := net.Listen("tcp", t.server.Addr)
	if err != nil {
		return err
	}
	if options.Ready != nil {
		close(options.Ready)
	}
	slog.Info("WebSocket server starting", "addr", listener.Addr().String())

	if options.CertFile != "" && options.KeyFile != "" {
		slog.Info("Using TLS with certificate", "certFile", options.CertFile)
		err = t.server.ServeTLS(listener, options.CertFile, options.KeyFile)
	} else {
		err = t.server.Serve(listener)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop はWebSocketサーバーを停止し、接続中のクライアントをすべて切断する
func (t *DefaultWebSocketTransport) Stop() error {
	slog.Info("Stopping WebSocket server", "addr", t.server.Addr)
	t.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := t.server.Shutdown(ctx)
	if err != nil {
		slog.Info("Error shutting down WebSocket server", "err", err)
	}

	// Upgrade 済みの接続は Shutdown の対象外なので個別に閉じる
	t.clientsMutex.RLock()
	clients := make([]*clientConnection, 0, len(t.clients))
	for _, client := range t.clients {
		clients = append(clients, client)
	}
	t.clientsMutex.RUnlock()
	for _, client := range clients {
		client.mutex.Lock()
		_ = client.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(writeWait))
		client.mutex.Unlock()
		_ = client.conn.Close()
	}
	return err
}

func (t *DefaultWebSocketTransport) SetMessageHandler(handler func(connID string, message []byte) error) {
	t.handlerMutex.Lock()
	defer t.handlerMutex.Unlock()
	t.messageHandler = handler
}

func (t *DefaultWebSocketTransport) SetConnectHandler(handler func(connID string) error) {
	t.handlerMutex.Lock()
	defer t.handlerMutex.Unlock()
	t.connectHandler = handler
}

func (t *DefaultWebSocketTransport) SetDisconnectHandler(handler func(connID string)) {
	t.handlerMutex.Lock()
	defer t.handlerMutex.Unlock()
	t.disconnectHandler = handler
}

func (t *DefaultWebSocketTransport) handlers() (func(string, []byte) error, func(string) error, func(string)) {
	t.handlerMutex.RLock()
	defer t.handlerMutex.RUnlock()
	return t.messageHandler, t.connectHandler, t.disconnectHandler
}

// ClientCount は接続中のクライアント数を返す
func (t *DefaultWebSocketTransport) ClientCount() int {
	t.clientsMutex.RLock()
	defer t.clientsMutex.RUnlock()
	return len(t.clients)
}

// isConnectionClosedError は切断による書き込みエラーかどうかを判定する
func isConnectionClosedError(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// removeClient はクライアントを登録から外し、切断ハンドラを呼ぶ。
// 既に外されていた場合は false を返す
func (t *DefaultWebSocketTransport) removeClient(connID string) bool {
	t.clientsMutex.Lock()
	client, exists := t.clients[connID]
	if exists {
		delete(t.clients, connID)
	}
	t.clientsMutex.Unlock()
	if !exists {
		return false
	}
	close(client.done)

	if _, _, disconnect := t.handlers(); disconnect != nil && t.ctx.Err() == nil {
		disconnect(connID)
	}
	return true
}

// SendMessage は特定のクライアントにメッセージを送信する
func (t *DefaultWebSocketTransport) SendMessage(connID string, message []byte) error {
	t.clientsMutex.RLock()
	client, exists := t.clients[connID]
	t.clientsMutex.RUnlock()

	if !exists {
		return fmt.Errorf("client with ID %s not found", connID)
	}

	if err := client.write(websocket.TextMessage, message); err != nil {
		if isConnectionClosedError(err) {
			t.removeClient(connID)
		}
		return fmt.Errorf("failed to send message to client %s: %w", connID, err)
	}
	return nil
}

// BroadcastMessage は接続中の全クライアントにメッセージを送信する
func (t *DefaultWebSocketTransport) BroadcastMessage(message []byte) error {
	t.clientsMutex.RLock()
	clients := make(map[string]*clientConnection, len(t.clients))
	for connID, client := range t.clients {
		clients[connID] = client
	}
	t.clientsMutex.RUnlock()

	var disconnected []string
	for connID, client := range clients {
		// 書き込みに失敗した接続は切断扱いにする。ここで slog を使うとログのブロードキャストが再帰する
		if err := client.write(websocket.TextMessage, message); err != nil {
			disconnected = append(disconnected, connID)
		}
	}

	for _, connID := range disconnected {
		t.removeClient(connID)
	}
	return nil
}

// pingLoop は done が閉じられるまで定期的に ping を送る
func (t *DefaultWebSocketTransport) pingLoop(client *clientConnection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-client.done:
			return
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			client.mutex.Lock()
			err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			client.mutex.Unlock()
			if err != nil {
				_ = client.conn.Close()
				return
			}
		}
	}
}

// handleWebSocket はWebSocket接続を処理する
func (t *DefaultWebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Error upgrading to WebSocket", "err", err,
			"remote_addr", r.RemoteAddr,
			"user_agent", r.Header.Get("User-Agent"))
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	client := &clientConnection{
		conn: conn,
		done: make(chan struct{}),
	}
	t.clientsMutex.Lock()
	t.clients[connID] = client
	t.clientsMutex.Unlock()
	defer t.removeClient(connID)

	slog.Debug("WebSocket client connected", "connID", connID, "remote_addr", r.RemoteAddr)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go t.pingLoop(client)

	if _, connect, _ := t.handlers(); connect != nil {
		if err := connect(connID); err != nil {
			slog.Error("Error in connect handler", "err", err, "connID", connID)
			return
		}
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				slog.Warn("Unexpected WebSocket close error", "err", err, "connID", connID)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if handler, _, _ := t.handlers(); handler != nil {
			if err := handler(connID, message); err != nil && !isConnectionClosedError(err) {
				slog.Warn("Error in message handler", "err", err, "connID", connID)
			}
		}
	}
}
