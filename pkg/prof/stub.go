//go:build !profile

package prof

// Start fails with [ErrNotEnabled] if cfg requests any profile.
func Start(cfg Config) error {
	if cfg.Empty() {
		return nil
	}
	return ErrNotEnabled
}

// Stop does nothing without the "profile" tag.
func Stop() error { return nil }

// Active always reports false without the "profile" tag.
func Active() bool { return false }
