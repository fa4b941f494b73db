// Package autoload blank-imports every channel package so their init()
// registration with the channel registry runs as a side effect of
// importing this package, without main.go needing to know the concrete
// channel list.
package autoload

import (
	_ "hybridcore/pkg/channels/telegram"
	_ "hybridcore/pkg/channels/web"
)
