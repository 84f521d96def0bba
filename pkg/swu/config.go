package swu

import (
	"github.com/vowifi/ikev2client/pkg/eapaka"
	"github.com/vowifi/ikev2client/pkg/sim"
)

type Config struct {
	EpDGAddr  string
	EpDGPort  uint16 // 默认 500
	APN       string
	LocalAddr string // 传出接口 IP (通常自动检测)
	DNSServer string // 可选: 用于解析 ePDG 域名的 DNS 服务器 (host:port)

	SIM          sim.SIMProvider
	EnableDriver bool // 是否创建 TUN 并配置用户空间 ESP 数据平面 (需要 root)

	// 可选的特定配置
	MCC       string
	MNC       string
	LocalPort uint16 // 本地 UDP 端口 (默认 500)
	TUNName   string // TUN 设备名 (默认自动分配)
	TUNMTU    int    // TUN MTU，0 表示使用默认值（当前默认 1200）

	DisableEAPMACValidation bool

	// EAPMethod 选择内层 EAP 认证方式: "aka"(默认)/"akap"/"sim"/"mschapv2"
	EAPMethod string
	// NetworkName 是 EAP-AKA' 的网络名称 (RFC 5448 §3.1)，用于 AT_KDF_INPUT 匹配；
	// 留空表示接受对端提供的任意网络名称
	NetworkName        string
	RejectNameMismatch bool
	// Credentials 仅供 EAP-MSCHAPv2 使用
	Credentials eapaka.Credentials

	EnableWiresharkKeyLog bool
	WiresharkKeyLogPath   string

	TransportFactory func(local string, remote string) (Transport, error)
	TUNFactory       func(name string) (TUN, error)
	NetTools         NetTools
}
