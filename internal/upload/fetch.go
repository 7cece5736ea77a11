package upload

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

// ErrForbiddenAddress 表示下载目标解析到了不允许访问的地址。
var ErrForbiddenAddress = errors.New("upload: fetch target address not allowed")

var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// NewFetchClient 返回下载远程文件用的 http.Client。
// allowPrivate 为 false 时，连接回环、私有、链路本地等地址会在拨号时被拒绝，重定向同样受限。
func NewFetchClient(timeout time.Duration, allowPrivate bool) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !allowPrivate {
		dialer.Control = rejectInternal
		// 经代理时拨号目标是代理本身，检查将失效
		transport.Proxy = nil
	}
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: timeout, Transport: transport}
}

func rejectInternal(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil || !PublicAddr(addr) {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, host)
	}
	return nil
}

// PublicAddr 判断地址是否可作为远程下载目标。
func PublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() || sharedAddressSpace.Contains(addr) {
		return false
	}
	return !(addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast())
}
