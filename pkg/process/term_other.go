//go:build !linux

package process

import "github.com/AdguardTeam/golibs/errors"

const errRawUnsupported errors.Error = "raw mode is only supported on linux"

func isTerminal(int) bool {
	return false
}

func setRawMode(int) (func(), error) {
	return nil, errRawUnsupported
}
