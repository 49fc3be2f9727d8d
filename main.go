package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/HuzefaGadi/echowand/config"
	"github.com/HuzefaGadi/echowand/console"
	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/HuzefaGadi/echowand/echonet_lite/log"
	"github.com/HuzefaGadi/echowand/echonet_lite/network"
	"github.com/HuzefaGadi/echowand/echonet_lite/object"
	"github.com/HuzefaGadi/echowand/echonet_lite/service"
	"github.com/HuzefaGadi/echowand/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "エラー: %v\n", err)
		os.Exit(1)
	}
}

// newControllerObject はコントローラオブジェクトを作る
func newControllerObject() *object.LocalObject {
	return object.NewLocalObject(echonet_lite.Controller_ClassCode,
		echonet_lite.Property{EPC: echonet_lite.EPCOperationStatus, EDT: []byte{0x30}},
		echonet_lite.Property{EPC: echonet_lite.EPCManufacturerCode, EDT: []byte{0xff, 0xff, 0xff}},
	)
}

func run(arguments []string) error {
	// コマンドライン引数の解析
	args, err := config.ParseCommandLineArgs("echowand", arguments)
	if err != nil {
		return err
	}

	// 設定ファイルの読み込み (コマンドライン引数が優先)
	cfg, err := config.LoadConfig(args.ConfigFile)
	if err != nil {
		return err
	}
	cfg.ApplyCommandLineArgs(args)
	if err := cfg.Validate(); err != nil {
		return err
	}

	// ロガーのセットアップ
	logManager, err := server.NewLogManager(cfg.Log.Filename)
	if err != nil {
		return fmt.Errorf("ログ設定エラー: %w", err)
	}
	defer func() {
		_ = logManager.Close()
	}()
	var handler slog.Handler = log.NewHandler(logManager.Logger(), cfg.Debug)

	// ルートコンテキストの作成
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// キャプチャモニタは Warn 以上のログもクライアントに配信する
	var transport *server.DefaultWebSocketTransport
	if cfg.Monitor.Enabled {
		transport = server.NewDefaultWebSocketTransport(ctx, cfg.Monitor.Addr)
		handler = server.NewBroadcastHandler(handler, transport, slog.LevelWarn)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// シグナルハンドリングの設定 (SIGINT, SIGTERM)
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	go func() {
		select {
		case <-signalCh:
			fmt.Println("\nシグナルを受信しました。終了します...")
			cancel()
		case <-ctx.Done():
		}
	}()

	subnetConfig, err := cfg.InetSubnetConfig(logger)
	if err != nil {
		return err
	}
	subnet, err := network.NewInetSubnet(subnetConfig)
	if err != nil {
		return err
	}

	core, err := service.NewCore(subnet, logger)
	if err != nil {
		return err
	}
	if _, err := core.AddLocalObject(newControllerObject()); err != nil {
		return err
	}
	if err := core.StartService(); err != nil {
		return err
	}
	defer func() {
		if err := core.Close(); err != nil {
			fmt.Printf("サービスの停止中にエラーが発生しました: %v\n", err)
		}
	}()

	timeout, _ := cfg.TransactionTimeout()
	svc := service.NewService(core)
	svc.SetTimeout(timeout)

	if transport != nil {
		monitor := server.NewCaptureMonitor(transport, core.Subnet().LocalNode())
		core.AddCaptureObserver(monitor)
		defer core.RemoveCaptureObserver(monitor)

		ready := make(chan struct{})
		errCh := make(chan error, 1)
		go func() {
			errCh <- transport.Start(server.StartOptions{Ready: ready})
		}()
		select {
		case <-ready:
			fmt.Printf("キャプチャモニタを起動しました: ws://%s/ws\n", cfg.Monitor.Addr)
		case err := <-errCh:
			return fmt.Errorf("キャプチャモニタの起動に失敗: %w", err)
		}
		defer func() {
			_ = transport.Stop()
		}()
	}

	// 自ノードのインスタンスリストを通知
	if _, err := svc.DoNotifyInstanceList(); err != nil {
		logger.Warn("インスタンスリストの通知に失敗", "err", err)
	}

	err = console.ConsoleProcess(ctx, svc)
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
