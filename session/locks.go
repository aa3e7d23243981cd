package session

import (
	"sync"
)

// threadLocks serializes read-modify-write cycles on a thread's message list
// across sessions in this process. The database's own locking handles
// cross-process contention; this guards the logical replace-after-read.
var threadLocks sync.Map

func lockThread(threadID string) func() {
	v, _ := threadLocks.LoadOrStore(threadID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
