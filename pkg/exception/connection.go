package exception

import "errors"

var (
	ErrConnectionClose = errors.New("connection closed")
	ErrLinkUnavailable = errors.New("link: unavailable")
	ErrLinkNotFound    = errors.New("link: interface not found")
)
