package transport

import "strings"

// ApplyNamespace qualifies a topic, action or service name with a robot
// namespace. An empty namespace leaves name unchanged. Otherwise the
// result is "ns/name" with surrounding slashes removed from ns and the
// leading slash removed from name.
func ApplyNamespace(name, ns string) string {
	ns = strings.Trim(ns, "/")
	if ns == "" {
		return name
	}
	return ns + "/" + strings.TrimLeft(name, "/")
}
