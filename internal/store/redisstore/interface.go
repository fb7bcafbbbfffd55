package redisstore

import "github.com/copytrade/router/internal/store"

var _ store.Store = (*Client)(nil)
