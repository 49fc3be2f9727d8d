package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/HuzefaGadi/echowand/echonet_lite/network"
)

const (
	// DefaultConfigFile はデフォルトの設定ファイル名
	DefaultConfigFile = "config.toml"
	// DefaultLogFile はデフォルトのログファイル名
	DefaultLogFile = "echowand.log"
)

// Config はアプリケーション全体の設定を表す
type Config struct {
	Debug bool `toml:"debug"`
	Log   struct {
		Filename string `toml:"filename"`
	} `toml:"log"`
	Subnet struct {
		LocalAddress           string   `toml:"local_address"`
		Interface              string   `toml:"interface"`
		ReceiverInterfaces     []string `toml:"receiver_interfaces"`
		MulticastAddress       string   `toml:"multicast_address"`
		Port                   int      `toml:"port"`
		TCPEnabled             bool     `toml:"tcp_enabled"`
		RemotePortEnabled      bool     `toml:"remote_port_enabled"`
		NetworkMonitorInterval string   `toml:"network_monitor_interval"` // e.g., "30s", "" で無効
	} `toml:"subnet"`
	Transaction struct {
		Timeout string `toml:"timeout"` // e.g., "2s"
	} `toml:"transaction"`
	Monitor struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"monitor"`
}

// NewConfig はデフォルト設定を持つConfigを作成する
func NewConfig() *Config {
	cfg := &Config{
		Debug: false,
	}
	cfg.Log.Filename = DefaultLogFile
	cfg.Subnet.MulticastAddress = echonet_lite.ECHONETLiteMulticastAddress
	cfg.Subnet.Port = echonet_lite.ECHONETLitePort
	cfg.Transaction.Timeout = "2s"
	cfg.Monitor.Addr = "localhost:8080"
	return cfg
}

// LoadConfig は設定を読み込む
// 以下の優先順位でロードする:
// 1. 指定されたパスの設定ファイル（指定がある場合）
// 2. カレントディレクトリのデフォルト設定ファイル（存在する場合）
// 3. デフォルト設定
func LoadConfig(configPath string) (*Config, error) {
	config := NewConfig()

	filePath := configPath
	if filePath == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			filePath = DefaultConfigFile
		} else {
			return config, nil
		}
	}

	md, err := toml.DecodeFile(filePath, config)
	if err != nil {
		return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", filePath, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		slog.Warn("設定ファイルに不明なキーがあります", "file", filePath, "keys", strings.Join(keys, ","))
	}
	return config, nil
}

// Validate は設定値の整合性を確認する
func (c *Config) Validate() error {
	var errs []error
	if c.Subnet.Port <= 0 || c.Subnet.Port > 65535 {
		errs = append(errs, fmt.Errorf("subnet.port が範囲外です: %d", c.Subnet.Port))
	}
	if ip := net.ParseIP(c.Subnet.MulticastAddress); ip == nil || ip.To4() == nil || !ip.IsMulticast() {
		errs = append(errs, fmt.Errorf("subnet.multicast_address が IPv4 マルチキャストアドレスではありません: %q", c.Subnet.MulticastAddress))
	}
	if c.Subnet.LocalAddress != "" {
		if ip := net.ParseIP(c.Subnet.LocalAddress); ip == nil || ip.To4() == nil {
			errs = append(errs, fmt.Errorf("subnet.local_address が IPv4 アドレスではありません: %q", c.Subnet.LocalAddress))
		}
	}
	if _, err := c.TransactionTimeout(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.networkMonitorInterval(); err != nil {
		errs = append(errs, err)
	}
	if c.Monitor.Enabled && c.Monitor.Addr == "" {
		errs = append(errs, errors.New("monitor.addr が空です"))
	}
	return errors.Join(errs...)
}

// TransactionTimeout は応答を待つ時間を返す
func (c *Config) TransactionTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Transaction.Timeout)
	if err != nil {
		return 0, fmt.Errorf("transaction.timeout が不正です: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("transaction.timeout が負の値です: %v", d)
	}
	return d, nil
}

func (c *Config) networkMonitorInterval() (time.Duration, error) {
	if c.Subnet.NetworkMonitorInterval == "" || c.Subnet.NetworkMonitorInterval == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Subnet.NetworkMonitorInterval)
	if err != nil {
		return 0, fmt.Errorf("subnet.network_monitor_interval が不正です: %w", err)
	}
	return d, nil
}

// InetSubnetConfig は [subnet] の設定から InetSubnet の設定を作る
func (c *Config) InetSubnetConfig(logger *slog.Logger) (network.InetSubnetConfig, error) {
	if err := c.Validate(); err != nil {
		return network.InetSubnetConfig{}, err
	}
	cfg := network.InetSubnetConfig{
		Interface:          c.Subnet.Interface,
		ReceiverInterfaces: c.Subnet.ReceiverInterfaces,
		MulticastAddress:   net.ParseIP(c.Subnet.MulticastAddress),
		Port:               c.Subnet.Port,
		TCPAcceptorEnabled: c.Subnet.TCPEnabled,
		RemotePortEnabled:  c.Subnet.RemotePortEnabled,
		Logger:             logger,
	}
	if c.Subnet.LocalAddress != "" {
		cfg.LocalAddress = net.ParseIP(c.Subnet.LocalAddress)
	}
	if interval, _ := c.networkMonitorInterval(); interval > 0 {
		cfg.NetworkMonitor = &network.NetworkMonitorConfig{Enabled: true, Interval: interval}
	}
	return cfg, nil
}

// ApplyCommandLineArgs はコマンドライン引数で指定された値を設定に適用する
func (c *Config) ApplyCommandLineArgs(args CommandLineArgs) {
	if args.DebugSpecified {
		c.Debug = args.Debug
	}
	if args.LogFilenameSpecified {
		c.Log.Filename = args.LogFilename
	}
	// subnet
	if args.LocalAddressSpecified {
		c.Subnet.LocalAddress = args.LocalAddress
	}
	if args.InterfaceSpecified {
		c.Subnet.Interface = args.Interface
	}
	if args.PortSpecified {
		c.Subnet.Port = args.Port
	}
	if args.TCPEnabledSpecified {
		c.Subnet.TCPEnabled = args.TCPEnabled
	}
	if args.TimeoutSpecified {
		c.Transaction.Timeout = args.Timeout
	}
	// monitor
	if args.MonitorEnabledSpecified {
		c.Monitor.Enabled = args.MonitorEnabled
	}
	if args.MonitorAddrSpecified {
		c.Monitor.Addr = args.MonitorAddr
	}
}

// CommandLineArgs はコマンドライン引数からの値を保持する
type CommandLineArgs struct {
	// 設定ファイル (メタ設定)
	ConfigFile      string
	ConfigSpecified bool

	Debug          bool
	DebugSpecified bool

	LogFilename          string
	LogFilenameSpecified bool

	// サブネット設定
	LocalAddress          string
	LocalAddressSpecified bool
	Interface             string
	InterfaceSpecified    bool
	Port                  int
	PortSpecified         bool
	TCPEnabled            bool
	TCPEnabledSpecified   bool

	Timeout          string
	TimeoutSpecified bool

	// キャプチャモニタ設定
	MonitorEnabled          bool
	MonitorEnabledSpecified bool
	MonitorAddr             string
	MonitorAddrSpecified    bool
}

// ParseCommandLineArgs はコマンドライン引数をパースする。arguments にはプログラム名を含めない
func ParseCommandLineArgs(name string, arguments []string) (CommandLineArgs, error) {
	var args CommandLineArgs
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	fs.StringVar(&args.ConfigFile, "config", "", "TOML設定ファイルのパスを指定する")
	fs.BoolVar(&args.Debug, "debug", false, "デバッグモードを有効にする")
	fs.StringVar(&args.LogFilename, "log", DefaultLogFile, "ログファイル名を指定する")

	fs.StringVar(&args.LocalAddress, "addr", "", "ローカルノードの IPv4 アドレスを指定する")
	fs.StringVar(&args.Interface, "interface", "", "使用するネットワークインターフェース名を指定する")
	fs.IntVar(&args.Port, "port", echonet_lite.ECHONETLitePort, "ECHONET Lite のポート番号を指定する")
	fs.BoolVar(&args.TCPEnabled, "tcp", false, "TCP での接続の受け付けを有効にする")
	fs.StringVar(&args.Timeout, "timeout", "2s", "応答を待つ時間を指定する")

	fs.BoolVar(&args.MonitorEnabled, "monitor", false, "キャプチャモニタ (WebSocket) を有効にする")
	fs.StringVar(&args.MonitorAddr, "monitor-addr", "localhost:8080", "キャプチャモニタの待ち受けアドレスを指定する")

	if err := fs.Parse(arguments); err != nil {
		return args, err
	}

	// 明示的に指定されたフラグだけを設定ファイルより優先する
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config":
			args.ConfigSpecified = true
		case "debug":
			args.DebugSpecified = true
		case "log":
			args.LogFilenameSpecified = true
		case "addr":
			args.LocalAddressSpecified = true
		case "interface":
			args.InterfaceSpecified = true
		case "port":
			args.PortSpecified = true
		case "tcp":
			args.TCPEnabledSpecified = true
		case "timeout":
			args.TimeoutSpecified = true
		case "monitor":
			args.MonitorEnabledSpecified = true
		case "monitor-addr":
			args.MonitorAddrSpecified = true
		}
	})
	return args, nil
}
