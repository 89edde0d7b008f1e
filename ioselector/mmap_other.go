//go:build !unix

package ioselector

// NewMMapSelector is not available on this platform.
func NewMMapSelector(fName string) (IOSelector, error) {
	return nil, ErrMMapNotSupported
}
