// Command host runs a demo host process: it serves a "Methods" plugin
// (bounce/receiveObject/failsWithoutParams, mirroring §8's end-to-end
// scenarios) over a WebSocket listener and answers the LoadComponents
// handshake.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/telestoworld/telestoworld-rpc/plugin"
	"github.com/telestoworld/telestoworld-rpc/rpc"
	"github.com/telestoworld/telestoworld-rpc/transport"
)

func main() {
	addr := flag.String("addr", ":8765", "listen address")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	http.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("upgrade failed", zap.Error(err))
			return
		}
		go serveConnection(conn, logger)
	})

	logger.Info("host listening", zap.String("addr", *addr))
	if err := http.ListenAndServe(*addr, nil); err != nil {
		logger.Fatal("listen failed", zap.Error(err))
	}
}

func serveConnection(conn *websocket.Conn, logger *zap.Logger) {
	ws := transport.NewWebSocket(conn, logger.Named("websocket"), transport.DefaultWebSocketOptions())
	peer := rpc.NewPeer(ws, rpc.WithLogger(logger.Named("peer")), rpc.WithSendEncoding(rpc.EncodingJSON))
	peer.SetLogging(true)

	host := plugin.NewHost(peer)
	host.Expose(methodsPlugin(), context.Background())

	peer.On("transportClosed", func(args ...interface{}) {
		logger.Info("connection closed")
	})
}

func methodsPlugin() *plugin.Plugin {
	p := plugin.New("Methods")

	p.Handle("bounce", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var args []interface{}
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, err
		}
		return args, nil
	})

	p.Handle("receiveObject", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var args []map[string]interface{}
		if err := json.Unmarshal(params, &args); err != nil || len(args) == 0 {
			return nil, errors.New("receiveObject requires exactly one object argument")
		}
		return map[string]interface{}{"received": args[0]}, nil
	})

	p.Handle("failsWithoutParams", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var args []interface{}
		_ = json.Unmarshal(params, &args)
		if len(args) == 0 {
			return nil, fmt.Errorf("Did not receive an argument")
		}
		return true, nil
	})

	return p
}
