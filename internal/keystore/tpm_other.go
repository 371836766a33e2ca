//go:build !linux

package keystore

import "shieldd/internal/config"

func openTPM(config.KeystoreConfig) (Provider, error) {
	return nil, ErrTPMUnavailable
}
