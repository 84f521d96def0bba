package driver

import (
	"fmt"
	"net"
	"os"

	"github.com/vishvananda/netlink"
)

// GetLink 暴露底层 netlink.Link，供调用方读取属性（如 ifindex）。
func (n *NetTools) GetLink(iface string) (netlink.Link, error) {
	return getLink(iface)
}

// AddRouteTable 在独立路由表中添加一条路由，用于策略路由场景下
// 避免多设备/多 session 共享默认路由表时产生冲突。
func (n *NetTools) AddRouteTable(cidr string, iface string, table int) error {
	_, dst, err := parseCIDR(cidr)
	if err != nil {
		return wrapErr("route add table", cidr, err)
	}
	link, err := getLink(iface)
	if err != nil {
		return wrapErr("route add table", cidr, err)
	}
	route := &netlink.Route{Dst: dst, LinkIndex: link.Attrs().Index, Table: table}
	err = netlink.RouteAdd(route)
	if err != nil && isRouteExists(err) {
		return nil
	}
	return wrapErr("route add table", fmt.Sprintf("%s table %d", cidr, table), err)
}

// DelRouteTable 从指定路由表中删除一条路由。
func (n *NetTools) DelRouteTable(cidr string, iface string, table int) error {
	_, dst, err := parseCIDR(cidr)
	if err != nil {
		return wrapErr("route del table", cidr, err)
	}
	link, err := getLink(iface)
	if err != nil {
		return wrapErr("route del table", cidr, err)
	}
	route := &netlink.Route{Dst: dst, LinkIndex: link.Attrs().Index, Table: table}
	err = netlink.RouteDel(route)
	if err != nil && isRouteNotFound(err) {
		return nil
	}
	return wrapErr("route del table", fmt.Sprintf("%s table %d", cidr, table), err)
}

// AddRule 添加 "from <srcCIDR> lookup <table>" 策略路由规则。
func (n *NetTools) AddRule(srcCIDR string, table int) error {
	_, src, err := parseCIDR(srcCIDR)
	if err != nil {
		return wrapErr("rule add", srcCIDR, err)
	}
	rule := netlink.NewRule()
	rule.Src = src
	rule.Table = table
	if err := netlink.RuleAdd(rule); err != nil && !isRouteExists(err) {
		return wrapErr("rule add", fmt.Sprintf("from %s lookup %d", srcCIDR, table), err)
	}
	return nil
}

// DelRule 删除先前通过 AddRule 添加的策略路由规则。
func (n *NetTools) DelRule(srcCIDR string, table int) error {
	_, src, err := parseCIDR(srcCIDR)
	if err != nil {
		return wrapErr("rule del", srcCIDR, err)
	}
	rule := netlink.NewRule()
	rule.Src = src
	rule.Table = table
	if err := netlink.RuleDel(rule); err != nil && !isRouteNotFound(err) {
		return wrapErr("rule del", fmt.Sprintf("from %s lookup %d", srcCIDR, table), err)
	}
	return nil
}

// AddInputRule 添加 "iif <iface> lookup <table>" 规则，解决反向路径过滤
// (RPF) 下入站流量无法命中独立路由表的问题。
func (n *NetTools) AddInputRule(iface string, table int) error {
	rule := netlink.NewRule()
	rule.IifName = iface
	rule.Table = table
	if err := netlink.RuleAdd(rule); err != nil && !isRouteExists(err) {
		return wrapErr("rule add", fmt.Sprintf("iif %s lookup %d", iface, table), err)
	}
	return nil
}

// DelInputRule 删除 AddInputRule 添加的规则。
func (n *NetTools) DelInputRule(iface string, table int) error {
	rule := netlink.NewRule()
	rule.IifName = iface
	rule.Table = table
	if err := netlink.RuleDel(rule); err != nil && !isRouteNotFound(err) {
		return wrapErr("rule del", fmt.Sprintf("iif %s lookup %d", iface, table), err)
	}
	return nil
}

// CleanConflictRoutes 清理 main 路由表中指向给定网段、但设备不是 keepIface
// 的残留路由（例如多设备共享 P-CSCF 地址时，旧 session 留下的路由会抢占
// 新 session 的策略路由）。
func (n *NetTools) CleanConflictRoutes(cidrs []string, keepIface string, family int) {
	keepLink, err := getLink(keepIface)
	var keepIdx int
	if err == nil {
		keepIdx = keepLink.Attrs().Index
	}

	routes, err := netlink.RouteListFiltered(family, &netlink.Route{Table: unixRTTableMain}, netlink.RT_FILTER_TABLE)
	if err != nil {
		return
	}

	wanted := make(map[string]bool, len(cidrs))
	for _, c := range cidrs {
		wanted[c] = true
	}

	for _, r := range routes {
		if r.Dst == nil || r.LinkIndex == keepIdx {
			continue
		}
		if !wanted[r.Dst.String()] {
			continue
		}
		_ = netlink.RouteDel(&r)
	}
}

// SetSysctl 写入一个 /proc/sys 下的内核参数。
func (n *NetTools) SetSysctl(key, value string) error {
	path := "/proc/sys/" + sysctlPathFromKey(key)
	if err := os.WriteFile(path, []byte(value), 0644); err != nil {
		return wrapErr("sysctl", fmt.Sprintf("%s=%s", key, value), err)
	}
	return nil
}

func sysctlPathFromKey(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			out[i] = '/'
		} else {
			out[i] = key[i]
		}
	}
	return string(out)
}

// unixRTTableMain 对应 RT_TABLE_MAIN (254)。
const unixRTTableMain = 254

func parseCIDR(cidr string) (net.IP, *net.IPNet, error) {
	return net.ParseCIDR(cidr)
}
