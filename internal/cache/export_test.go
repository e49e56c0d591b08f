package cache

// withJoinHook runs fn each time a caller has attached to the refresh
// ticket, letting tests release the fetch only once every caller waits.
func withJoinHook(fn func()) Option {
	return func(c *Cache) { c.onJoin = fn }
}
