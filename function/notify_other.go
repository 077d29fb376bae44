//go:build !linux

package function

import "github.com/ardnew/funcfs/pkg"

// Raw notifier handles are an eventfd concept; other platforms must
// supply Options.NewNotifier.
func notifierFromHandle(handle int) (Notifier, error) {
	return nil, pkg.ErrNotSupported
}
