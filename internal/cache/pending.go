package cache

// Pending-work queues. When the execution deadline trips before archive
// builds or uploads finish, the remaining resource keys land here and
// the next invocation drains them exclusively before any new crawl.

// HasPendingWork reports whether either queue is non-empty. A true
// return at startup puts the process into resume-only mode.
func (c *Cache) HasPendingWork() bool {
	return len(c.PendingZips) > 0 || len(c.PendingUploads) > 0
}

// AddPendingZip queues a resource key for archive generation.
func (c *Cache) AddPendingZip(key string) {
	c.PendingZips = addKey(c.PendingZips, key)
}

// RemovePendingZip drops a resource key from the zip queue.
func (c *Cache) RemovePendingZip(key string) {
	c.PendingZips = removeKey(c.PendingZips, key)
}

// AddPendingUpload queues a resource key for remote upload.
func (c *Cache) AddPendingUpload(key string) {
	c.PendingUploads = addKey(c.PendingUploads, key)
}

// RemovePendingUpload drops a resource key from the upload queue.
func (c *Cache) RemovePendingUpload(key string) {
	c.PendingUploads = removeKey(c.PendingUploads, key)
}

// ClearPending empties both queues after a completed drain.
func (c *Cache) ClearPending() {
	c.PendingZips = nil
	c.PendingUploads = nil
}

func addKey(keys []string, key string) []string {
	for _, k := range keys {
		if k == key {
			return keys
		}
	}
	return append(keys, key)
}

func removeKey(keys []string, key string) []string {
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}
