// Command script runs a demo script process: it dials the host's
// WebSocket listener, runs the capability-loading handshake for the
// "Methods" plugin, and exercises §8's end-to-end scenarios against it.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/telestoworld/telestoworld-rpc/capability"
	"github.com/telestoworld/telestoworld-rpc/rpc"
	"github.com/telestoworld/telestoworld-rpc/script"
	"github.com/telestoworld/telestoworld-rpc/transport"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:8765/rpc", "host WebSocket URL")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ws, err := transport.DialWithBackoff(ctx, *url, logger.Named("websocket"), transport.DefaultWebSocketOptions())
	if err != nil {
		logger.Fatal("dial failed", zap.Error(err))
	}

	peer := rpc.NewPeer(ws, rpc.WithLogger(logger.Named("peer")), rpc.WithSendEncoding(rpc.EncodingJSON))
	peer.SetLogging(true)
	runtime := script.NewRuntime(peer)

	apis, err := runtime.LoadAPIs(ctx, []string{"Methods"})
	if err != nil {
		logger.Fatal("LoadComponents failed", zap.Error(err))
	}
	methods := apis["Methods"]

	if err := runScenarios(ctx, methods); err != nil {
		logger.Fatal("scenario failed", zap.Error(err))
	}
	logger.Info("all scenarios passed")
}

func runScenarios(ctx context.Context, methods *capability.Stub) error {
	echoed, err := methods.Call(ctx, "bounce", 1, true, nil, false, "xxx", map[string]interface{}{"a": nil})
	if err != nil {
		return fmt.Errorf("bounce: %w", err)
	}
	fmt.Printf("bounce -> %s\n", echoed)

	received, err := methods.Call(ctx, "receiveObject", map[string]interface{}{"x": 42})
	if err != nil {
		return fmt.Errorf("receiveObject: %w", err)
	}
	fmt.Printf("receiveObject -> %s\n", received)

	if _, err := methods.Call(ctx, "failsWithoutParams"); err == nil {
		return fmt.Errorf("failsWithoutParams: expected an error with zero arguments")
	} else {
		fmt.Printf("failsWithoutParams() -> expected error: %v\n", err)
	}

	ok, err := methods.Call(ctx, "failsWithoutParams", 1)
	if err != nil {
		return fmt.Errorf("failsWithoutParams(1): %w", err)
	}
	fmt.Printf("failsWithoutParams(1) -> %s\n", ok)

	return nil
}
